package service

import (
	"testing"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
)

func TestOrder_CheckoutSplitsByVendor(t *testing.T) {
	env := setupServices(t)
	other := testutil.SeedVendor(t, env.db, "Blue Mart", "15")
	tea := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 20, "120.00")
	rice := testutil.SeedInventory(t, env.db, other.ID, env.warehouse.ID, "Rice 1kg", 20, "80.00")
	sugar := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Sugar 1kg", 20, "50.00")

	d, err := env.svc.Order.Create(env.ctx, &CreateOrderRequest{
		CustomerID:      "cust-001",
		ShippingAddress: entity.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", Pincode: "411001"},
		Items: []CheckoutLine{
			{InventoryID: tea.ID, Quantity: 2},
			{InventoryID: rice.ID, Quantity: 3},
			{InventoryID: sugar.ID, Quantity: 1},
		},
		ShippingAmount: dec("40.00"),
		PaymentMethod:  "upi",
	}, opAs("cust-001"))
	mustNoErr(t, err)

	if len(d.VendorOrders) != 2 {
		t.Fatalf("expected 2 vendor orders, got %d", len(d.VendorOrders))
	}
	seen := map[entity.InventoryID]entity.VendorID{}
	total := dec("0")
	for _, vo := range d.VendorOrders {
		if vo.SalesOrderID != d.SalesOrder.ID || vo.Status != entity.OrderPending {
			t.Errorf("vendor order %s = %+v", vo.OrderNumber, vo)
		}
		for _, it := range vo.Items {
			if prev, dup := seen[it.InventoryID]; dup {
				t.Fatalf("inventory %s in vendor orders of %s and %s", it.InventoryID, prev, vo.VendorID)
			}
			seen[it.InventoryID] = vo.VendorID
		}
		total = total.Add(vo.TotalAmount)
	}
	if seen[tea.ID] != env.vendor.ID || seen[sugar.ID] != env.vendor.ID || seen[rice.ID] != other.ID {
		t.Fatalf("items grouped incorrectly: %v", seen)
	}

	so := d.SalesOrder
	// 240 + 50 + 240，运费 40
	if !so.Subtotal.Equal(dec("530.00")) || !so.ShippingAmount.Equal(dec("40.00")) {
		t.Fatalf("subtotal=%s shipping=%s", so.Subtotal, so.ShippingAmount)
	}
	if !so.TotalAmount.Equal(so.Subtotal.Add(so.ShippingAmount)) || !so.TotalAmount.Equal(total) {
		t.Fatalf("total=%s vendor sum=%s", so.TotalAmount, total)
	}
	if len(so.Items) != 3 {
		t.Errorf("expected 3 sales order items, got %d", len(so.Items))
	}

	for _, rec := range []*entity.InventoryRecord{tea, rice, sugar} {
		got, err := env.svc.Inventory.Get(env.ctx, rec.ID)
		mustNoErr(t, err)
		if got.ReservedQuantity == 0 || got.Quantity != 20 {
			t.Errorf("%s: reserved=%d quantity=%d", got.ProductName, got.ReservedQuantity, got.Quantity)
		}
	}
	if env.pub.Count(events.SalesOrderCreated) != 1 {
		t.Errorf("expected one order.created event, got %d", env.pub.Count(events.SalesOrderCreated))
	}
}

func TestOrder_InsufficientStockFailsWholeOrder(t *testing.T) {
	env := setupServices(t)
	tea := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	rice := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Rice 1kg", 1, "80.00")

	_, err := env.svc.Order.Create(env.ctx, &CreateOrderRequest{
		CustomerID: "cust-001",
		Items: []CheckoutLine{
			{InventoryID: tea.ID, Quantity: 4},
			{InventoryID: rice.ID, Quantity: 2},
		},
	}, opAs("cust-001"))
	requireKind(t, err, apperr.KindInsufficientInventory)

	got, err := env.svc.Inventory.Get(env.ctx, tea.ID)
	mustNoErr(t, err)
	if got.ReservedQuantity != 0 {
		t.Fatalf("reservation leaked: reserved=%d", got.ReservedQuantity)
	}
	orders, total, err := env.svc.Order.List(env.ctx, repository.SalesOrderFilter{CustomerID: "cust-001"})
	mustNoErr(t, err)
	if total != 0 || len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", total)
	}
}

func TestOrder_CancelReleasesReservations(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	d := env.placeOrder(t, rec, 4, "upi")

	_, err := env.svc.Order.Cancel(env.ctx, d.SalesOrder.ID, "", admin)
	requireKind(t, err, apperr.KindValidation)

	got, err := env.svc.Order.Cancel(env.ctx, d.SalesOrder.ID, "changed my mind", admin)
	mustNoErr(t, err)
	if got.SalesOrder.Status != entity.OrderCancelled {
		t.Fatalf("sales order status = %s", got.SalesOrder.Status)
	}
	for _, vo := range got.VendorOrders {
		if vo.Status != entity.OrderCancelled {
			t.Errorf("vendor order %s status = %s", vo.OrderNumber, vo.Status)
		}
		for _, it := range vo.Items {
			if it.QuantityReserved != 0 || it.QuantityCancelled != 4 {
				t.Errorf("item reserved=%d cancelled=%d", it.QuantityReserved, it.QuantityCancelled)
			}
		}
	}

	inv, err := env.svc.Inventory.Get(env.ctx, rec.ID)
	mustNoErr(t, err)
	if inv.ReservedQuantity != 0 || inv.Available() != 10 {
		t.Fatalf("reserved=%d available=%d", inv.ReservedQuantity, inv.Available())
	}

	_, err = env.svc.Order.Cancel(env.ctx, d.SalesOrder.ID, "again", admin)
	requireKind(t, err, apperr.KindInvalidTransition)
}

func TestOrder_CancelVendorOrderOnlyReleasesOwnItems(t *testing.T) {
	env := setupServices(t)
	other := testutil.SeedVendor(t, env.db, "Blue Mart", "15")
	tea := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	rice := testutil.SeedInventory(t, env.db, other.ID, env.warehouse.ID, "Rice 1kg", 10, "80.00")

	d, err := env.svc.Order.Create(env.ctx, &CreateOrderRequest{
		CustomerID: "cust-001",
		Items: []CheckoutLine{
			{InventoryID: tea.ID, Quantity: 2},
			{InventoryID: rice.ID, Quantity: 3},
		},
	}, opAs("cust-001"))
	mustNoErr(t, err)

	var teaVO entity.VendorOrderID
	for _, vo := range d.VendorOrders {
		if vo.VendorID == env.vendor.ID {
			teaVO = vo.ID
		}
	}
	_, err = env.svc.Order.CancelVendorOrder(env.ctx, teaVO, "out of stock at store", admin)
	mustNoErr(t, err)

	got, err := env.svc.Inventory.Get(env.ctx, tea.ID)
	mustNoErr(t, err)
	if got.ReservedQuantity != 0 {
		t.Errorf("tea reserved = %d, want 0", got.ReservedQuantity)
	}
	got, err = env.svc.Inventory.Get(env.ctx, rice.ID)
	mustNoErr(t, err)
	if got.ReservedQuantity != 3 {
		t.Errorf("rice reserved = %d, want 3", got.ReservedQuantity)
	}
}

func TestOrder_DeliveryConsumesReservation(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	d := env.placeOrder(t, rec, 3, "upi")
	env.packOrder(t, d)
	env.deliverOrder(t, d)

	inv, err := env.svc.Inventory.Get(env.ctx, rec.ID)
	mustNoErr(t, err)
	if inv.Quantity != 7 || inv.ReservedQuantity != 0 {
		t.Fatalf("quantity=%d reserved=%d", inv.Quantity, inv.ReservedQuantity)
	}

	vo, err := env.svc.Order.GetVendorOrder(env.ctx, d.VendorOrders[0].ID)
	mustNoErr(t, err)
	if vo.Status != entity.OrderDelivered || vo.Items[0].QuantityDelivered != 3 {
		t.Fatalf("vendor order status=%s delivered=%d", vo.Status, vo.Items[0].QuantityDelivered)
	}

	// 已送达的订单不能取消
	_, err = env.svc.Order.Cancel(env.ctx, d.SalesOrder.ID, "too late", admin)
	if err == nil {
		t.Fatal("expected cancel of a delivered order to fail")
	}
}
