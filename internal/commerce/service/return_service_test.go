package service

import (
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
)

// delivered 下单 qty 件并完成配送，返回商家订单
func (e *testEnv) delivered(t *testing.T, rec *entity.InventoryRecord, qty int) *entity.VendorOrder {
	t.Helper()
	d := e.placeOrder(t, rec, qty, "upi")
	e.packOrder(t, d)
	e.deliverOrder(t, d)
	vo, err := e.svc.Order.GetVendorOrder(e.ctx, d.VendorOrders[0].ID)
	mustNoErr(t, err)
	return vo
}

func (e *testEnv) requestReturn(t *testing.T, vo *entity.VendorOrder, qty int, returnType string) *entity.ReturnRequest {
	t.Helper()
	rr, err := e.svc.Return.Create(e.ctx, &CreateReturnRequest{
		VendorOrderID: vo.ID,
		ReturnType:    returnType,
		Reason:        "damaged",
		Items:         []ReturnLine{{VendorOrderItemID: vo.Items[0].ID, Quantity: qty, Condition: "damaged"}},
	}, opAs("cust-001"))
	mustNoErr(t, err)
	return rr
}

// receiveReturn 审批、取件并入库
func (e *testEnv) receiveReturn(t *testing.T, rr *entity.ReturnRequest) *entity.ReturnRequest {
	t.Helper()
	_, err := e.svc.Return.Approve(e.ctx, rr.ID, admin)
	mustNoErr(t, err)
	_, err = e.svc.Return.SchedulePickup(e.ctx, rr.ID, &SchedulePickupRequest{PickupDate: time.Now().Add(24 * time.Hour)}, admin)
	mustNoErr(t, err)
	_, err = e.svc.Return.CompletePickup(e.ctx, rr.ID, admin)
	mustNoErr(t, err)
	got, err := e.svc.Return.Receive(e.ctx, rr.ID, "", admin)
	mustNoErr(t, err)
	return got
}

func TestReturn_CreateValidation(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")

	pending := env.placeOrder(t, rec, 1, "upi")
	_, err := env.svc.Return.Create(env.ctx, &CreateReturnRequest{
		VendorOrderID: pending.VendorOrders[0].ID,
		Reason:        "damaged",
		Items:         []ReturnLine{{VendorOrderItemID: pending.VendorOrders[0].Items[0].ID, Quantity: 1}},
	}, opAs("cust-001"))
	requireKind(t, err, apperr.KindBusinessLogic)

	vo := env.delivered(t, rec, 3)
	line := []ReturnLine{{VendorOrderItemID: vo.Items[0].ID, Quantity: 1}}

	_, err = env.svc.Return.Create(env.ctx, &CreateReturnRequest{VendorOrderID: vo.ID, CustomerID: "cust-999", Reason: "x", Items: line}, admin)
	requireKind(t, err, apperr.KindPermissionDenied)

	_, err = env.svc.Return.Create(env.ctx, &CreateReturnRequest{VendorOrderID: vo.ID, Reason: "x",
		Items: []ReturnLine{{VendorOrderItemID: vo.Items[0].ID, Quantity: 4}}}, admin)
	requireKind(t, err, apperr.KindValidation)

	// 未结束的退货单占用可退数量
	rr := env.requestReturn(t, vo, 2, "")
	if rr.ReturnType != entity.ReturnTypeRefund || rr.PickupAddress.City != "Pune" {
		t.Fatalf("defaults not applied: type=%s address=%+v", rr.ReturnType, rr.PickupAddress)
	}
	_, err = env.svc.Return.Create(env.ctx, &CreateReturnRequest{VendorOrderID: vo.ID, Reason: "x",
		Items: []ReturnLine{{VendorOrderItemID: vo.Items[0].ID, Quantity: 2}}}, admin)
	requireKind(t, err, apperr.KindValidation)

	_, err = env.svc.Return.Cancel(env.ctx, rr.ID, "changed my mind", admin)
	mustNoErr(t, err)
	env.requestReturn(t, vo, 3, "")
}

func TestReturn_RefundFlow(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	vo := env.delivered(t, rec, 3)

	rr := env.requestReturn(t, vo, 2, entity.ReturnTypeRefund)
	rr = env.receiveReturn(t, rr)
	if rr.Status != entity.ReturnReceived || rr.Items[0].QuantityReceived != 2 {
		t.Fatalf("after receive: status=%s received=%d", rr.Status, rr.Items[0].QuantityReceived)
	}

	inv, err := env.svc.Inventory.Get(env.ctx, rec.ID)
	mustNoErr(t, err)
	if inv.Quantity != 9 {
		t.Fatalf("inventory quantity = %d, want 9 after return", inv.Quantity)
	}
	moves, _, err := env.svc.Inventory.ListMovements(env.ctx, repository.MovementFilter{
		InventoryID:  rec.ID,
		MovementType: entity.MovementReturn,
	})
	mustNoErr(t, err)
	if len(moves) != 1 || moves[0].Quantity != 2 || moves[0].ReferenceID != string(rr.ID) {
		t.Fatalf("return movements = %+v", moves)
	}

	rr, err = env.svc.Return.Inspect(env.ctx, rr.ID, &InspectRequest{Result: entity.InspectionPassed, Notes: "ok"}, admin)
	mustNoErr(t, err)
	if rr.Status != entity.ReturnInspectionPassed {
		t.Fatalf("status = %s", rr.Status)
	}

	_, err = env.svc.Return.ShipReplacement(env.ctx, rr.ID, admin)
	requireKind(t, err, apperr.KindBusinessLogic)

	rr, err = env.svc.Return.InitiateRefund(env.ctx, rr.ID, "upi", admin)
	mustNoErr(t, err)
	if !rr.RefundAmount.Equal(dec("240.00")) {
		t.Fatalf("refund amount = %s, want 240.00", rr.RefundAmount)
	}
	_, err = env.svc.Return.InitiateRefund(env.ctx, rr.ID, "upi", admin)
	mustNoErr(t, err)

	rr, err = env.svc.Return.CompleteRefund(env.ctx, rr.ID, admin)
	mustNoErr(t, err)
	if rr.Status != entity.ReturnRefundCompleted || rr.RefundedAt == nil {
		t.Fatalf("status=%s refunded_at=%v", rr.Status, rr.RefundedAt)
	}
	_, err = env.svc.Return.CompleteRefund(env.ctx, rr.ID, admin)
	mustNoErr(t, err)

	ledger, err := env.svc.Settlement.Ledger(env.ctx, env.vendor.ID, repository.Page{})
	mustNoErr(t, err)
	if ledger.Total != 1 || !ledger.Balance.Equal(dec("-240.00")) {
		t.Fatalf("ledger total=%d balance=%s", ledger.Total, ledger.Balance)
	}
	entry := ledger.Entries[0]
	if entry.EntryType != entity.LedgerDebit || entry.ReferenceType != entity.LedgerRefRefund || !entry.BalanceAfter.Equal(dec("-240.00")) {
		t.Fatalf("ledger entry = %+v", entry)
	}

	vo, err = env.svc.Order.GetVendorOrder(env.ctx, vo.ID)
	mustNoErr(t, err)
	if vo.Items[0].QuantityReturned != 2 {
		t.Errorf("quantity returned = %d, want 2", vo.Items[0].QuantityReturned)
	}

	rr, err = env.svc.Return.Complete(env.ctx, rr.ID, admin)
	mustNoErr(t, err)
	if rr.Status != entity.ReturnCompleted {
		t.Fatalf("status = %s", rr.Status)
	}
	logs, err := env.svc.Return.StatusLogs(env.ctx, rr.ID)
	mustNoErr(t, err)
	if len(logs) < 10 {
		t.Errorf("expected a log per transition, got %d", len(logs))
	}
}

func TestReturn_FailedInspectionRefundsNothing(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	vo := env.delivered(t, rec, 2)

	rr := env.receiveReturn(t, env.requestReturn(t, vo, 1, entity.ReturnTypeReplacement))
	rr, err := env.svc.Return.Inspect(env.ctx, rr.ID, &InspectRequest{Result: entity.InspectionFailed, Notes: "used"}, admin)
	mustNoErr(t, err)
	it := rr.Items[0]
	if rr.Status != entity.ReturnInspectionFailed || it.InspectionResult != entity.InspectionFailed {
		t.Fatalf("status=%s item result=%s", rr.Status, it.InspectionResult)
	}
	if it.QuantityApproved != 1 || it.QuantityReceived != 1 || !rr.CalculateRefund().IsZero() {
		t.Fatalf("approved=%d received=%d refund=%s", it.QuantityApproved, it.QuantityReceived, rr.CalculateRefund())
	}

	_, err = env.svc.Return.InitiateRefund(env.ctx, rr.ID, "upi", admin)
	requireKind(t, err, apperr.KindInvalidTransition)

	_, err = env.svc.Return.Complete(env.ctx, rr.ID, admin)
	mustNoErr(t, err)

	ledger, err := env.svc.Settlement.Ledger(env.ctx, env.vendor.ID, repository.Page{})
	mustNoErr(t, err)
	if ledger.Total != 0 {
		t.Fatalf("expected no ledger entries, got %d", ledger.Total)
	}
}

func TestReturn_PartialInspection(t *testing.T) {
	env := setupServices(t)
	tea := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	cup := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Cup", 10, "80.00")

	d, err := env.svc.Order.Create(env.ctx, &CreateOrderRequest{
		CustomerID:      "cust-001",
		ShippingAddress: entity.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", State: "MH", Pincode: "411001"},
		Items:           []CheckoutLine{{InventoryID: tea.ID, Quantity: 2}, {InventoryID: cup.ID, Quantity: 1}},
		PaymentMethod:   "upi",
	}, opAs("cust-001"))
	mustNoErr(t, err)
	env.packOrder(t, d)
	env.deliverOrder(t, d)
	vo, err := env.svc.Order.GetVendorOrder(env.ctx, d.VendorOrders[0].ID)
	mustNoErr(t, err)

	var lines []ReturnLine
	for _, it := range vo.Items {
		lines = append(lines, ReturnLine{VendorOrderItemID: it.ID, Quantity: it.QuantityOrdered})
	}
	rr, err := env.svc.Return.Create(env.ctx, &CreateReturnRequest{
		VendorOrderID: vo.ID,
		Reason:        "damaged",
		Items:         lines,
	}, opAs("cust-001"))
	mustNoErr(t, err)
	rr = env.receiveReturn(t, rr)

	var cupItem *entity.ReturnItem
	for i := range rr.Items {
		if rr.Items[i].InventoryID == cup.ID {
			cupItem = &rr.Items[i]
		}
	}
	if cupItem == nil {
		t.Fatal("cup line missing from return")
	}
	rr, err = env.svc.Return.Inspect(env.ctx, rr.ID, &InspectRequest{
		Result: entity.InspectionPartial,
		Items:  []InspectLine{{ItemID: cupItem.ID, Result: entity.InspectionFailed, Notes: "chipped"}},
	}, admin)
	mustNoErr(t, err)
	if rr.Status != entity.ReturnInspectionPassed || rr.InspectionResult != entity.InspectionPartial {
		t.Fatalf("status=%s result=%s", rr.Status, rr.InspectionResult)
	}
	for _, it := range rr.Items {
		if it.QuantityApproved != it.QuantityRequested || it.QuantityReceived > it.QuantityApproved {
			t.Fatalf("%s: requested=%d approved=%d received=%d",
				it.ProductName, it.QuantityRequested, it.QuantityApproved, it.QuantityReceived)
		}
	}

	rr, err = env.svc.Return.InitiateRefund(env.ctx, rr.ID, "upi", admin)
	mustNoErr(t, err)
	if !rr.RefundAmount.Equal(dec("240.00")) {
		t.Fatalf("refund amount = %s, want 240.00", rr.RefundAmount)
	}
	rr, err = env.svc.Return.CompleteRefund(env.ctx, rr.ID, admin)
	mustNoErr(t, err)

	vo, err = env.svc.Order.GetVendorOrder(env.ctx, vo.ID)
	mustNoErr(t, err)
	for _, it := range vo.Items {
		want := 2
		if it.InventoryID == cup.ID {
			want = 0
		}
		if it.QuantityReturned != want {
			t.Errorf("%s returned = %d, want %d", it.ProductName, it.QuantityReturned, want)
		}
	}
}

func TestReturn_ConcurrentCompleteRefund(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	rr := env.receiveReturn(t, env.requestReturn(t, env.delivered(t, rec, 1), 1, entity.ReturnTypeRefund))
	_, err := env.svc.Return.Inspect(env.ctx, rr.ID, &InspectRequest{Result: entity.InspectionPassed}, admin)
	mustNoErr(t, err)
	_, err = env.svc.Return.InitiateRefund(env.ctx, rr.ID, "upi", admin)
	mustNoErr(t, err)

	const workers = 4
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.svc.Return.CompleteRefund(env.ctx, rr.ID, admin)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else if got.Status != entity.ReturnRefundCompleted {
				t.Errorf("status = %s", got.Status)
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("duplicate completion failed: %v", errs)
	}

	ledger, err := env.svc.Settlement.Ledger(env.ctx, env.vendor.ID, repository.Page{})
	mustNoErr(t, err)
	if ledger.Total != 1 || !ledger.Balance.Equal(dec("-120.00")) {
		t.Fatalf("ledger total=%d balance=%s", ledger.Total, ledger.Balance)
	}
}

func TestReturn_RejectRequiresReason(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	rr := env.requestReturn(t, env.delivered(t, rec, 1), 1, "")

	_, err := env.svc.Return.Reject(env.ctx, rr.ID, "", admin)
	requireKind(t, err, apperr.KindValidation)

	got, err := env.svc.Return.Reject(env.ctx, rr.ID, "outside return window", admin)
	mustNoErr(t, err)
	if got.Status != entity.ReturnRejected {
		t.Fatalf("status = %s", got.Status)
	}
	_, err = env.svc.Return.Approve(env.ctx, rr.ID, admin)
	requireKind(t, err, apperr.KindInvalidTransition)
}
