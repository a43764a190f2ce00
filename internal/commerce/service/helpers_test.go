package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	svc   *Services
	pub   *testutil.Publisher
	store *testutil.ObjectStore
	ctx   context.Context

	vendor    *entity.Vendor
	warehouse *entity.Warehouse
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	pub := &testutil.Publisher{}
	store := testutil.NewObjectStore()
	svc := NewServices(repository.NewRepositories(db), pub, store, zaptest.NewLogger(t), Options{})
	return &testEnv{
		db:        db,
		svc:       svc,
		pub:       pub,
		store:     store,
		ctx:       context.Background(),
		vendor:    testutil.SeedVendor(t, db, "Acme Store", "10"),
		warehouse: testutil.SeedWarehouse(t, db, "WH1"),
	}
}

func opAs(actor string) Op {
	return Op{Actor: actor, At: time.Now()}
}

var admin = opAs("test-user-001")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// placeOrder 单行下单
func (e *testEnv) placeOrder(t *testing.T, rec *entity.InventoryRecord, qty int, paymentMethod string) *OrderDetail {
	t.Helper()
	d, err := e.svc.Order.Create(e.ctx, &CreateOrderRequest{
		CustomerID:      "cust-001",
		ShippingAddress: entity.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", State: "MH", Pincode: "411001"},
		Items:           []CheckoutLine{{InventoryID: rec.ID, Quantity: qty}},
		PaymentMethod:   paymentMethod,
	}, opAs("cust-001"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return d
}

// packOrder 主订单与全部商家订单推进到 packed
func (e *testEnv) packOrder(t *testing.T, d *OrderDetail) {
	t.Helper()
	for _, step := range []func(context.Context, entity.SalesOrderID, Op) (*entity.SalesOrder, error){
		e.svc.Order.Confirm, e.svc.Order.Process, e.svc.Order.Pack,
	} {
		if _, err := step(e.ctx, d.SalesOrder.ID, opAs("test-user-001")); err != nil {
			t.Fatalf("advance sales order: %v", err)
		}
	}
	for _, vo := range d.VendorOrders {
		for _, step := range []func(context.Context, entity.VendorOrderID, Op) (*entity.VendorOrder, error){
			e.svc.Order.ConfirmVendorOrder, e.svc.Order.ProcessVendorOrder, e.svc.Order.PackVendorOrder,
		} {
			if _, err := step(e.ctx, vo.ID, opAs("vendor-user")); err != nil {
				t.Fatalf("advance vendor order %s: %v", vo.OrderNumber, err)
			}
		}
	}
}

// deliverOrder 指派并完成配送（非 COD）
func (e *testEnv) deliverOrder(t *testing.T, d *OrderDetail) *entity.DeliveryAssignment {
	t.Helper()
	agent := testutil.SeedAgent(t, e.db, "agent-"+string(d.SalesOrder.ID)[:8], "Ravi")
	da, err := e.svc.Order.AssignDelivery(e.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID}, admin)
	mustNoErr(t, err)
	as := opAs(agent.UserID)
	_, err = e.svc.Delivery.Accept(e.ctx, da.ID, as)
	mustNoErr(t, err)
	_, err = e.svc.Delivery.Pickup(e.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	_, err = e.svc.Delivery.OutForDelivery(e.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	da, err = e.svc.Delivery.Complete(e.ctx, da.ID, &CompleteRequest{
		Proof: &ProofInput{ProofType: "otp", ProofData: "4321", RecipientName: "Asha"},
	}, as)
	mustNoErr(t, err)
	return da
}
