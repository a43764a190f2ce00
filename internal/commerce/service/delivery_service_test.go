package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
)

// dispatched 下单、打包并指派，配送员推进到派送中
func (e *testEnv) dispatched(t *testing.T, price string, paymentMethod string) (*OrderDetail, *entity.DeliveryAssignment, *entity.DeliveryAgent) {
	t.Helper()
	rec := testutil.SeedInventory(t, e.db, e.vendor.ID, e.warehouse.ID, "Ghee 500ml", 5, price)
	d := e.placeOrder(t, rec, 1, paymentMethod)
	e.packOrder(t, d)
	agent := testutil.SeedAgent(t, e.db, "agent-user-1", "Ravi")
	da, err := e.svc.Order.AssignDelivery(e.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID}, admin)
	mustNoErr(t, err)
	as := opAs(agent.UserID)
	_, err = e.svc.Delivery.Accept(e.ctx, da.ID, as)
	mustNoErr(t, err)
	_, err = e.svc.Delivery.Pickup(e.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	lat, lng := dec("18.520430"), dec("73.856743")
	da, err = e.svc.Delivery.OutForDelivery(e.ctx, da.ID, &Location{Latitude: &lat, Longitude: &lng}, as)
	mustNoErr(t, err)
	return d, da, agent
}

func TestDelivery_AssignDispatchesSalesOrder(t *testing.T) {
	env := setupServices(t)
	d, da, _ := env.dispatched(t, "200.00", "upi")

	if da.CODAmount.Sign() != 0 {
		t.Errorf("prepaid order should carry no COD, got %s", da.CODAmount)
	}
	got, err := env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderOutForDelivery {
		t.Fatalf("sales order status = %s, want out_for_delivery", got.SalesOrder.Status)
	}
	if got.VendorOrders[0].Status != entity.OrderShipped {
		t.Fatalf("vendor order status = %s, want shipped after pickup", got.VendorOrders[0].Status)
	}
	if env.pub.Count(events.DeliveryStatus) < 4 {
		t.Errorf("expected delivery status events, got %v", env.pub.Types())
	}
}

func TestDelivery_CODMustBeCollectedBeforeComplete(t *testing.T) {
	env := setupServices(t)
	d, da, agent := env.dispatched(t, "150.00", entity.PaymentMethodCOD)
	as := opAs(agent.UserID)

	if !da.CODAmount.Equal(dec("150.00")) {
		t.Fatalf("cod amount = %s, want 150.00", da.CODAmount)
	}

	_, err := env.svc.Delivery.Complete(env.ctx, da.ID, nil, as)
	requireKind(t, err, apperr.KindBusinessLogic)

	_, err = env.svc.Delivery.CollectCOD(env.ctx, da.ID, dec("149.00"), as)
	requireKind(t, err, apperr.KindBusinessLogic)

	_, err = env.svc.Delivery.CollectCOD(env.ctx, da.ID, dec("150.00"), opAs("someone-else"))
	requireKind(t, err, apperr.KindPermissionDenied)

	da, err = env.svc.Delivery.CollectCOD(env.ctx, da.ID, dec("150.00"), as)
	mustNoErr(t, err)
	if !da.CODCollected || da.CODCollectedAt == nil {
		t.Fatalf("cod not recorded: %+v", da)
	}
	// 重复收取同一金额视为成功
	_, err = env.svc.Delivery.CollectCOD(env.ctx, da.ID, dec("150.00"), as)
	mustNoErr(t, err)

	da, err = env.svc.Delivery.Complete(env.ctx, da.ID, &CompleteRequest{
		Proof: &ProofInput{ProofType: entity.ProofOTP, ProofData: "9876", RecipientName: "Asha"},
	}, as)
	mustNoErr(t, err)
	if da.Status != entity.DeliveryDelivered || da.ActualDeliveryTime == nil {
		t.Fatalf("delivery = %s delivered_at=%v", da.Status, da.ActualDeliveryTime)
	}

	got, err := env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderDelivered || got.SalesOrder.PaymentStatus != entity.PaymentCompleted {
		t.Fatalf("sales order status=%s payment=%s", got.SalesOrder.Status, got.SalesOrder.PaymentStatus)
	}
	if got.VendorOrders[0].Status != entity.OrderDelivered {
		t.Errorf("vendor order status = %s", got.VendorOrders[0].Status)
	}

	agentAfter, err := env.svc.Delivery.GetAgent(env.ctx, agent.ID)
	mustNoErr(t, err)
	if agentAfter.SuccessfulDeliveries != 1 {
		t.Errorf("successful deliveries = %d, want 1", agentAfter.SuccessfulDeliveries)
	}
}

func TestDelivery_OnlyAssignedAgentMayAdvance(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Ghee 500ml", 5, "300.00")
	d := env.placeOrder(t, rec, 1, "upi")
	env.packOrder(t, d)
	agent := testutil.SeedAgent(t, env.db, "agent-user-1", "Ravi")
	da, err := env.svc.Order.AssignDelivery(env.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID}, admin)
	mustNoErr(t, err)

	_, err = env.svc.Delivery.Accept(env.ctx, da.ID, opAs("intruder"))
	requireKind(t, err, apperr.KindPermissionDenied)

	_, err = env.svc.Delivery.Pickup(env.ctx, da.ID, nil, opAs(agent.UserID))
	requireKind(t, err, apperr.KindInvalidTransition)
}

func TestDelivery_FailThenReassign(t *testing.T) {
	env := setupServices(t)
	d, da, agent := env.dispatched(t, "200.00", "upi")

	_, err := env.svc.Delivery.Fail(env.ctx, da.ID, "", nil, opAs(agent.UserID))
	requireKind(t, err, apperr.KindValidation)

	da, err = env.svc.Delivery.Fail(env.ctx, da.ID, "customer not home", nil, opAs(agent.UserID))
	mustNoErr(t, err)
	if da.Status != entity.DeliveryFailed || da.DeliveryAttempts != 1 {
		t.Fatalf("delivery status=%s attempts=%d", da.Status, da.DeliveryAttempts)
	}
	got, err := env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderDeliveryFailed || got.VendorOrders[0].Status != entity.OrderDeliveryFailed {
		t.Fatalf("after fail: so=%s vo=%s", got.SalesOrder.Status, got.VendorOrders[0].Status)
	}

	second := testutil.SeedAgent(t, env.db, "agent-user-2", "Meera")
	da, err = env.svc.Delivery.Reassign(env.ctx, da.ID, second.ID, admin)
	mustNoErr(t, err)
	if da.Status != entity.DeliveryAssigned || *da.AgentID != second.ID {
		t.Fatalf("after reassign: status=%s agent=%v", da.Status, da.AgentID)
	}
	got, err = env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderOutForDelivery || got.VendorOrders[0].Status != entity.OrderPacked {
		t.Fatalf("after reassign: so=%s vo=%s", got.SalesOrder.Status, got.VendorOrders[0].Status)
	}

	// 原配送员已无权操作
	_, err = env.svc.Delivery.Accept(env.ctx, da.ID, opAs(agent.UserID))
	requireKind(t, err, apperr.KindPermissionDenied)

	as := opAs(second.UserID)
	for _, fn := range []func() (*entity.DeliveryAssignment, error){
		func() (*entity.DeliveryAssignment, error) { return env.svc.Delivery.Accept(env.ctx, da.ID, as) },
		func() (*entity.DeliveryAssignment, error) { return env.svc.Delivery.Pickup(env.ctx, da.ID, nil, as) },
		func() (*entity.DeliveryAssignment, error) { return env.svc.Delivery.InTransit(env.ctx, da.ID, nil, as) },
		func() (*entity.DeliveryAssignment, error) { return env.svc.Delivery.Complete(env.ctx, da.ID, nil, as) },
	} {
		if _, err := fn(); err != nil {
			t.Fatalf("second attempt: %v", err)
		}
	}
	got, err = env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderDelivered {
		t.Fatalf("sales order status = %s", got.SalesOrder.Status)
	}
}

func TestDelivery_AssignRequiresPackedVendorOrders(t *testing.T) {
	env := setupServices(t)
	other := testutil.SeedVendor(t, env.db, "Blue Mart", "15")
	tea := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	rice := testutil.SeedInventory(t, env.db, other.ID, env.warehouse.ID, "Rice 1kg", 10, "80.00")

	d, err := env.svc.Order.Create(env.ctx, &CreateOrderRequest{
		CustomerID:      "cust-001",
		ShippingAddress: entity.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", Pincode: "411001"},
		Items:           []CheckoutLine{{InventoryID: tea.ID, Quantity: 1}, {InventoryID: rice.ID, Quantity: 2}},
		PaymentMethod:   "upi",
	}, opAs("cust-001"))
	mustNoErr(t, err)
	for _, step := range []func(context.Context, entity.SalesOrderID, Op) (*entity.SalesOrder, error){
		env.svc.Order.Confirm, env.svc.Order.Process, env.svc.Order.Pack,
	} {
		_, err := step(env.ctx, d.SalesOrder.ID, admin)
		mustNoErr(t, err)
	}
	var packed, open *entity.VendorOrder
	for i := range d.VendorOrders {
		if d.VendorOrders[i].VendorID == env.vendor.ID {
			packed = &d.VendorOrders[i]
		} else {
			open = &d.VendorOrders[i]
		}
	}
	for _, step := range []func(context.Context, entity.VendorOrderID, Op) (*entity.VendorOrder, error){
		env.svc.Order.ConfirmVendorOrder, env.svc.Order.ProcessVendorOrder, env.svc.Order.PackVendorOrder,
	} {
		_, err := step(env.ctx, packed.ID, opAs("vendor-user"))
		mustNoErr(t, err)
	}
	_, err = env.svc.Order.ConfirmVendorOrder(env.ctx, open.ID, opAs("vendor-user"))
	mustNoErr(t, err)

	agent := testutil.SeedAgent(t, env.db, "agent-user-1", "Ravi")
	_, err = env.svc.Order.AssignDelivery(env.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID}, admin)
	requireKind(t, err, apperr.KindBusinessLogic)
	_, err = env.svc.Order.AssignDelivery(env.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID, VendorOrderID: &open.ID}, admin)
	requireKind(t, err, apperr.KindBusinessLogic)

	got, err := env.svc.Order.Get(env.ctx, d.SalesOrder.ID)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderPacked {
		t.Fatalf("rejected assignment changed sales order to %s", got.SalesOrder.Status)
	}

	// 只配送已打包的商家订单
	da, err := env.svc.Order.AssignDelivery(env.ctx, d.SalesOrder.ID, &AssignRequest{AgentID: agent.ID, VendorOrderID: &packed.ID}, admin)
	mustNoErr(t, err)
	as := opAs(agent.UserID)
	_, err = env.svc.Delivery.Accept(env.ctx, da.ID, as)
	mustNoErr(t, err)
	_, err = env.svc.Delivery.Pickup(env.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	_, err = env.svc.Delivery.OutForDelivery(env.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	da, err = env.svc.Delivery.Complete(env.ctx, da.ID, nil, as)
	mustNoErr(t, err)
	if da.Status != entity.DeliveryDelivered {
		t.Fatalf("delivery status = %s", da.Status)
	}

	vo, err := env.svc.Order.GetVendorOrder(env.ctx, packed.ID)
	mustNoErr(t, err)
	if vo.Status != entity.OrderDelivered {
		t.Errorf("packed vendor order status = %s, want delivered", vo.Status)
	}
	vo, err = env.svc.Order.GetVendorOrder(env.ctx, open.ID)
	mustNoErr(t, err)
	if vo.Status != entity.OrderConfirmed {
		t.Errorf("unpacked vendor order status = %s, want confirmed", vo.Status)
	}
}

func TestDelivery_ProofUpload(t *testing.T) {
	env := setupServices(t)
	_, da, agent := env.dispatched(t, "200.00", "upi")

	_, err := env.svc.Delivery.AddProof(env.ctx, da.ID, &ProofUpload{ProofType: "selfie", FileName: "x.jpg", Body: strings.NewReader("x")}, admin)
	requireKind(t, err, apperr.KindValidation)

	proof, err := env.svc.Delivery.AddProof(env.ctx, da.ID, &ProofUpload{
		ProofType:     entity.ProofPhoto,
		RecipientName: "Asha",
		FileName:      "../../door.jpg",
		ContentType:   "image/jpeg",
		Size:          9,
		Body:          strings.NewReader("jpeg-data"),
	}, opAs(agent.UserID))
	mustNoErr(t, err)
	if proof.FileName != "door.jpg" {
		t.Errorf("file name = %q, want door.jpg", proof.FileName)
	}
	if string(env.store.Objects[proof.ObjectKey]) != "jpeg-data" {
		t.Fatalf("object %q not stored", proof.ObjectKey)
	}

	views, err := env.svc.Delivery.Proofs(env.ctx, da.ID)
	mustNoErr(t, err)
	if len(views) != 1 || !strings.HasPrefix(views[0].URL, "https://objects.test/deliveries/") {
		t.Fatalf("proof views = %+v", views)
	}
}
