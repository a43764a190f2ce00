package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindMatching(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   error
		kind Kind
	}{
		{"validation", Validation("qty must be positive"), ErrValidation, KindValidation},
		{"not found", NotFound("order %s not found", "x"), ErrNotFound, KindNotFound},
		{"permission", PermissionDenied("not your delivery"), ErrPermissionDenied, KindPermissionDenied},
		{"business", BusinessLogic("cod not collected"), ErrBusinessLogic, KindBusinessLogic},
		{"conflict", Conflict("duplicate"), ErrConflict, KindConflict},
		{"inventory", InsufficientInventory(5, 2), ErrInsufficientInventory, KindInsufficientInventory},
		{"transition", InvalidTransition("purchase_order", "receive", "draft"), ErrInvalidTransition, KindInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !errors.Is(wrapped, tc.is) {
				t.Fatalf("errors.Is failed for %v", tc.err)
			}
			if KindOf(wrapped) != tc.kind {
				t.Errorf("KindOf = %s, want %s", KindOf(wrapped), tc.kind)
			}
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := Validation("bad")
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("validation error must not match not_found")
	}
	if errors.Is(InvalidTransition("x", "y", "z"), ErrValidation) {
		t.Fatalf("transition error must not match validation")
	}
}

func TestTransitionMessage(t *testing.T) {
	err := InvalidTransition("vendor_order", "pack", "pending")
	msg := err.Error()
	if !strings.Contains(msg, "pack") || !strings.Contains(msg, "pending") {
		t.Fatalf("message must name event and current status, got %q", msg)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("plain error must map to internal")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error must map to empty kind")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("unique violation")
	err := Wrap(KindConflict, cause, "settlement exists")
	if !errors.Is(err, ErrConflict) || !errors.Is(err, cause) {
		t.Fatalf("wrap must keep kind and cause")
	}
	if Wrap(KindConflict, nil, "x") != nil {
		t.Fatalf("wrap of nil must be nil")
	}
}
