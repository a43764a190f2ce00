package entity

import (
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/fsm"
)

func TestPOReceiveFromDraftRejected(t *testing.T) {
	for _, ev := range []fsm.Event{POReceivePartial, POReceiveAll, POStartReceiving} {
		_, err := POTransitions.Fire(POStatusDraft, ev)
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("%s from draft: expected invalid transition, got %v", ev, err)
		}
		var te *apperr.TransitionError
		if !errors.As(err, &te) || te.Current != string(POStatusDraft) || te.Event != string(ev) {
			t.Fatalf("transition error must name event and current state: %v", err)
		}
	}
}

func TestPOHappyPath(t *testing.T) {
	path := []struct {
		ev   fsm.Event
		want POStatus
	}{
		{POSubmit, POStatusPendingApproval},
		{POApprove, POStatusApproved},
		{POSend, POStatusSent},
		{POConfirm, POStatusConfirmed},
		{POReceivePartial, POStatusPartialReceived},
		{POReceiveAll, POStatusReceived},
		{POComplete, POStatusComplete},
	}
	s := POStatusDraft
	for _, p := range path {
		next, err := POTransitions.Fire(s, p.ev)
		if err != nil {
			t.Fatalf("%s --%s-->: %v", s, p.ev, err)
		}
		if next != p.want {
			t.Fatalf("%s --%s--> %s, want %s", s, p.ev, next, p.want)
		}
		s = next
	}
	if !POTransitions.Terminal(s) {
		t.Fatalf("complete must be terminal")
	}
}

func TestVendorAndSalesOrderTablesIndependent(t *testing.T) {
	if VendorOrderTransitions.Can(OrderPacked, OrderDispatch) {
		t.Fatalf("vendor order has no dispatch event")
	}
	if SalesOrderTransitions.Can(OrderPacked, OrderShip) {
		t.Fatalf("sales order has no ship event")
	}
	if to, _ := VendorOrderTransitions.Fire(OrderDeliveryFailed, OrderRetryDispatch); to != OrderPacked {
		t.Fatalf("retry dispatch should return vendor order to packed, got %s", to)
	}
	if to, _ := SalesOrderTransitions.Fire(OrderDeliveryFailed, OrderRedispatch); to != OrderOutForDelivery {
		t.Fatalf("redispatch should return sales order to out_for_delivery, got %s", to)
	}
}

func TestCancelOnlyBeforeProcessing(t *testing.T) {
	for _, tbl := range []*fsm.Table[OrderStatus]{VendorOrderTransitions, SalesOrderTransitions} {
		for _, s := range []OrderStatus{OrderPending, OrderConfirmed} {
			if !tbl.Can(s, OrderCancel) {
				t.Errorf("%s: cancel must be allowed from %s", tbl.Entity(), s)
			}
		}
		for _, s := range []OrderStatus{OrderProcessing, OrderPacked, OrderDelivered, OrderCancelled} {
			if tbl.Can(s, OrderCancel) {
				t.Errorf("%s: cancel must be rejected from %s", tbl.Entity(), s)
			}
		}
	}
}

func TestDeliveryTransitions(t *testing.T) {
	if got := DeliveryTransitions.Events(DeliveryAssigned); len(got) != 5 {
		t.Fatalf("assigned events = %v", got)
	}
	if DeliveryTransitions.Can(DeliveryAccepted, DeliveryComplete) {
		t.Fatalf("accepted cannot complete directly")
	}
	if !DeliveryTransitions.Can(DeliveryFailed, DeliveryReassign) {
		t.Fatalf("failed delivery must be reassignable")
	}
	if !DeliveryTransitions.Terminal(DeliveryDelivered) {
		t.Fatalf("delivered must be terminal")
	}
}

func TestReturnTransitions(t *testing.T) {
	path := []fsm.Event{
		ReturnApprove, ReturnSchedulePickup, ReturnCompletePickup, ReturnReceive,
		ReturnStartInspection, ReturnPass, ReturnInitiateRefund, ReturnCompleteRefund, ReturnComplete,
	}
	s := ReturnRequested
	for _, ev := range path {
		next, err := ReturnTransitions.Fire(s, ev)
		if err != nil {
			t.Fatalf("%s --%s-->: %v", s, ev, err)
		}
		s = next
	}
	if s != ReturnCompleted {
		t.Fatalf("final status %s", s)
	}
	if ReturnTransitions.Can(ReturnReceived, ReturnCancel) {
		t.Fatalf("received return cannot be cancelled")
	}
}

func TestSettlementTransitions(t *testing.T) {
	if !SettlementTransitions.Can(SettlementDraft, SettlementApprove) {
		t.Fatalf("draft must be approvable")
	}
	if SettlementTransitions.Can(SettlementDraft, SettlementPay) {
		t.Fatalf("draft cannot be paid")
	}
	if !SettlementTransitions.Terminal(SettlementPaid) {
		t.Fatalf("paid must be terminal")
	}
	if to, _ := SettlementTransitions.Fire(SettlementFailed, SettlementRetry); to != SettlementApproved {
		t.Fatalf("retry must return to approved, got %s", to)
	}
}
