package handler

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/service"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/middleware"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type httpEnv struct {
	r     *gin.Engine
	db    *gorm.DB
	svc   *service.Services
	store *testutil.ObjectStore
	idem  *testutil.IdempotencyStore
	token string

	vendor    *entity.Vendor
	warehouse *entity.Warehouse
}

func setupHTTP(t *testing.T) *httpEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zaptest.NewLogger(t)
	store := testutil.NewObjectStore()
	svc := service.NewServices(repository.NewRepositories(db), &testutil.Publisher{}, store, log, service.Options{})
	idem := testutil.NewIdempotencyStore()

	r := testutil.SetupRouter()
	api := testutil.AuthGroup(r, "/api/v1")
	RegisterRoutes(api, NewHandlers(svc, log), middleware.Idempotency(idem, time.Hour, log))

	return &httpEnv{
		r:         r,
		db:        db,
		svc:       svc,
		store:     store,
		idem:      idem,
		token:     testutil.DefaultTestToken(),
		vendor:    testutil.SeedVendor(t, db, "Acme Store", "10"),
		warehouse: testutil.SeedWarehouse(t, db, "WH1"),
	}
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := testutil.ParseResponse(w)
	d, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %s", w.Body.String())
	}
	return d
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code float64) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d: %s", w.Code, status, w.Body.String())
	}
	if got := testutil.ParseResponse(w)["code"]; got != code {
		t.Fatalf("code = %v, want %v: %s", got, code, w.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"validation", apperr.Validation("bad"), 400, 40000},
		{"permission", apperr.PermissionDenied("no"), 403, 40300},
		{"not found", apperr.NotFound("missing"), 404, 40400},
		{"conflict", apperr.Conflict("dup"), 409, 40900},
		{"transition", apperr.InvalidTransition("order", "ship", "pending"), 409, 40901},
		{"inventory", apperr.InsufficientInventory(5, 2), 409, 40902},
		{"business", apperr.BusinessLogic("cod not collected"), 422, 42200},
		{"wrapped", fmt.Errorf("load: %w", apperr.NotFound("missing")), 404, 40400},
		{"internal", fmt.Errorf("connection reset"), 500, 50000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			RespondError(c, tt.err)
			expectCode(t, w, tt.status, float64(tt.code))
		})
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondError(c, fmt.Errorf("dial tcp 10.0.0.1:5432: refused"))
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.1")) {
		t.Fatalf("internal error detail leaked: %s", w.Body.String())
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	env := setupHTTP(t)
	w := testutil.DoRequest(env.r, "GET", "/api/v1/commerce/inventory", nil, "")
	expectCode(t, w, http.StatusUnauthorized, 40100)
}

func TestHandler_InventoryAndCheckout(t *testing.T) {
	env := setupHTTP(t)

	w := testutil.DoRequest(env.r, "POST", "/api/v1/commerce/inventory", map[string]interface{}{
		"product_id":   "prod-tea",
		"warehouse_id": env.warehouse.ID,
		"vendor_id":    env.vendor.ID,
		"product_name": "Tea 250g",
		"quantity":     5,
		"sell_price":   "120.00",
	}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create inventory: %d %s", w.Code, w.Body.String())
	}
	invID := data(t, w)["id"].(string)

	w = testutil.DoRequest(env.r, "POST", "/api/v1/commerce/inventory", map[string]interface{}{
		"warehouse_id": env.warehouse.ID,
	}, env.token)
	expectCode(t, w, http.StatusBadRequest, 40000)

	order := func(qty int) *httptest.ResponseRecorder {
		return testutil.DoRequest(env.r, "POST", "/api/v1/commerce/sales-orders", map[string]interface{}{
			"customer_id":      "cust-001",
			"shipping_address": map[string]string{"name": "Asha", "line1": "12 MG Road", "city": "Pune", "pincode": "411001"},
			"items":            []map[string]interface{}{{"inventory_id": invID, "quantity": qty}},
			"payment_method":   "upi",
		}, env.token)
	}

	w = order(9)
	expectCode(t, w, http.StatusConflict, 40902)

	w = order(2)
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	so := data(t, w)["sales_order"].(map[string]interface{})
	soID := so["id"].(string)

	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/inventory/"+invID, nil, env.token)
	if got := data(t, w)["reserved_quantity"]; got != float64(2) {
		t.Fatalf("reserved_quantity = %v, want 2", got)
	}

	// 待确认订单不能直接打包
	w = testutil.DoRequest(env.r, "POST", "/api/v1/commerce/sales-orders/"+soID+"/pack", nil, env.token)
	expectCode(t, w, http.StatusConflict, 40901)

	w = testutil.DoRequest(env.r, "POST", "/api/v1/commerce/sales-orders/"+soID+"/cancel", map[string]string{}, env.token)
	expectCode(t, w, http.StatusBadRequest, 40000)

	w = testutil.DoRequest(env.r, "POST", "/api/v1/commerce/sales-orders/"+soID+"/cancel",
		map[string]string{"reason": "changed my mind"}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/sales-orders?customer_id=cust-001&page_size=5", nil, env.token)
	d := data(t, w)
	pg := d["pagination"].(map[string]interface{})
	if pg["total"] != float64(1) || pg["page_size"] != float64(5) {
		t.Fatalf("pagination = %v", pg)
	}

	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/sales-orders/missing", nil, env.token)
	expectCode(t, w, http.StatusNotFound, 40400)
}

// deliveredVendorOrder 通过服务层完成一单配送
func (e *httpEnv) deliveredVendorOrder(t *testing.T) *entity.VendorOrder {
	t.Helper()
	ctx := context.Background()
	as := func(actor string) service.Op { return service.Op{Actor: actor, At: time.Now()} }
	admin := as("test-user-001")

	rec := testutil.SeedInventory(t, e.db, e.vendor.ID, e.warehouse.ID, "Tea 250g", 10, "100.00")
	d, err := e.svc.Order.Create(ctx, &service.CreateOrderRequest{
		CustomerID:      "cust-001",
		ShippingAddress: entity.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", Pincode: "411001"},
		Items:           []service.CheckoutLine{{InventoryID: rec.ID, Quantity: 2}},
		PaymentMethod:   "upi",
	}, as("cust-001"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	for _, step := range []func(context.Context, entity.SalesOrderID, service.Op) (*entity.SalesOrder, error){
		e.svc.Order.Confirm, e.svc.Order.Process, e.svc.Order.Pack,
	} {
		if _, err := step(ctx, d.SalesOrder.ID, admin); err != nil {
			t.Fatalf("advance sales order: %v", err)
		}
	}
	vo := d.VendorOrders[0]
	for _, step := range []func(context.Context, entity.VendorOrderID, service.Op) (*entity.VendorOrder, error){
		e.svc.Order.ConfirmVendorOrder, e.svc.Order.ProcessVendorOrder, e.svc.Order.PackVendorOrder,
	} {
		if _, err := step(ctx, vo.ID, admin); err != nil {
			t.Fatalf("advance vendor order: %v", err)
		}
	}
	agent := testutil.SeedAgent(t, e.db, "agent-user-1", "Ravi")
	da, err := e.svc.Order.AssignDelivery(ctx, d.SalesOrder.ID, &service.AssignRequest{AgentID: agent.ID}, admin)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	for _, path := range []string{"accept", "pickup", "out-for-delivery", "complete"} {
		token := testutil.GenerateTestToken(agent.UserID, "Ravi", "ravi@test.com", []string{"delivery_agent"}, nil)
		w := testutil.DoRequest(e.r, "POST", "/api/v1/commerce/deliveries/"+string(da.ID)+"/"+path, nil, token)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %s: %d %s", path, w.Code, w.Body.String())
		}
	}
	got, err := e.svc.Order.GetVendorOrder(ctx, vo.ID)
	if err != nil {
		t.Fatalf("get vendor order: %v", err)
	}
	return got
}

func TestHandler_SettlementPaymentIsIdempotent(t *testing.T) {
	env := setupHTTP(t)
	env.deliveredVendorOrder(t)

	today := time.Now().Format(time.RFC3339)
	w := testutil.DoRequest(env.r, "POST", "/api/v1/commerce/settlements", map[string]interface{}{
		"vendor_id":    env.vendor.ID,
		"period_start": today,
		"period_end":   today,
	}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", w.Code, w.Body.String())
	}
	stID := data(t, w)["id"].(string)
	base := "/api/v1/commerce/settlements/" + stID

	clerk := testutil.GenerateTestToken("clerk-1", "Clerk", "clerk@test.com", []string{"vendor_ops"}, nil)
	w = testutil.DoRequest(env.r, "POST", base+"/approve", nil, clerk)
	expectCode(t, w, http.StatusForbidden, 40312)

	w = testutil.DoRequest(env.r, "POST", base+"/approve", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	pay := map[string]string{"payment_method": "neft", "transaction_id": "UTR-1"}
	first := testutil.DoRequest(env.r, "POST", base+"/pay", pay, env.token, middleware.IdempotencyHeader, "pay-1")
	if first.Code != http.StatusOK || data(t, first)["status"] != string(entity.SettlementPaid) {
		t.Fatalf("pay: %d %s", first.Code, first.Body.String())
	}
	retry := testutil.DoRequest(env.r, "POST", base+"/pay", pay, env.token, middleware.IdempotencyHeader, "pay-1")
	if retry.Header().Get("Idempotent-Replayed") != "true" || retry.Body.String() != first.Body.String() {
		t.Fatalf("retry not replayed: %s", retry.Body.String())
	}

	w = testutil.DoRequest(env.r, "POST", base+"/pay", map[string]string{"payment_method": "paypal"}, env.token)
	expectCode(t, w, http.StatusBadRequest, 40000)

	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/vendors/"+string(env.vendor.ID)+"/payouts", nil, env.token)
	if pg := data(t, w)["pagination"].(map[string]interface{}); pg["total"] != float64(1) {
		t.Fatalf("payouts = %v", pg)
	}

	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/vendors/"+string(env.vendor.ID)+"/ledger", nil, env.token)
	ledger := data(t, w)
	balance := decimal.RequireFromString(ledger["balance"].(string))
	paid := decimal.RequireFromString(data(t, first)["net_payable"].(string))
	if ledger["total"] != float64(1) || !balance.Equal(paid) {
		t.Fatalf("ledger = %v", ledger)
	}

	own := testutil.VendorTestToken("vendor-user", string(env.vendor.ID))
	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/settlements", nil, own)
	if pg := data(t, w)["pagination"].(map[string]interface{}); pg["total"] != float64(1) {
		t.Fatalf("vendor settlements = %v", pg)
	}
	other := testutil.VendorTestToken("other-user", "other-vendor")
	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/vendors/"+string(env.vendor.ID)+"/ledger", nil, other)
	expectCode(t, w, http.StatusForbidden, 40320)
	w = testutil.DoRequest(env.r, "GET", "/api/v1/commerce/settlements", nil, other)
	if pg := data(t, w)["pagination"].(map[string]interface{}); pg["total"] != float64(0) {
		t.Fatalf("other vendor sees %v", pg)
	}

	w = testutil.DoRequest(env.r, "GET", base+"/export", nil, env.token)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("export: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
}

func multipartRequest(t *testing.T, path, token string, fields map[string]string, fileName string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(body)
	writer.Close()

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandler_ImportCSV(t *testing.T) {
	env := setupHTTP(t)
	csv := fmt.Sprintf("product_id,warehouse_id,vendor_id,product_name,quantity\nprod-a,%s,%s,Tea,10\nprod-b,%s,%s,Rice,x\n",
		env.warehouse.ID, env.vendor.ID, env.warehouse.ID, env.vendor.ID)

	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, multipartRequest(t, "/api/v1/commerce/inventory/import", env.token,
		map[string]string{"encoding": "utf-8"}, "stock.csv", []byte(csv)))
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	d := data(t, w)
	if d["success"] != float64(1) || d["failed"] != float64(1) {
		t.Fatalf("import result = %v", d)
	}

	w = testutil.DoRequest(env.r, "POST", "/api/v1/commerce/inventory/import", nil, env.token)
	expectCode(t, w, http.StatusBadRequest, 40000)
}

func TestHandler_UploadProof(t *testing.T) {
	env := setupHTTP(t)
	vo := env.deliveredVendorOrder(t)

	list, _, err := env.svc.Delivery.List(context.Background(), repository.AssignmentFilter{SalesOrderID: vo.SalesOrderID})
	if err != nil || len(list) != 1 {
		t.Fatalf("assignments = %v err=%v", list, err)
	}
	path := "/api/v1/commerce/deliveries/" + string(list[0].ID) + "/proofs"

	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, multipartRequest(t, path, env.token,
		map[string]string{"proof_type": entity.ProofPhoto, "recipient_name": "Asha"}, "door.jpg", []byte("jpeg-bytes")))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	key := data(t, w)["object_key"].(string)
	if string(env.store.Objects[key]) != "jpeg-bytes" {
		t.Fatalf("object %q not stored", key)
	}

	w = testutil.DoRequest(env.r, "GET", path, nil, env.token)
	resp := testutil.ParseResponse(w)
	if items, _ := resp["data"].([]interface{}); len(items) != 1 {
		t.Fatalf("proofs = %s", w.Body.String())
	}
}
