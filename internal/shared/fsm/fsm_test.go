package fsm

import (
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
)

type light string

const (
	red    light = "red"
	green  light = "green"
	yellow light = "yellow"
	off    light = "off"
)

func table() *Table[light] {
	return New("light",
		Edge[light]{From: []light{red}, Event: "go", To: green},
		Edge[light]{From: []light{green}, Event: "slow", To: yellow},
		Edge[light]{From: []light{yellow}, Event: "stop", To: red},
		Edge[light]{From: []light{red, green, yellow}, Event: "shutdown", To: off},
	)
}

func TestFire(t *testing.T) {
	tb := table()
	to, err := tb.Fire(red, "go")
	if err != nil || to != green {
		t.Fatalf("expected green, got %s (%v)", to, err)
	}

	to, err = tb.Fire(red, "slow")
	if err == nil {
		t.Fatalf("expected error for red --slow-->")
	}
	if to != red {
		t.Errorf("failed fire must return current state, got %s", to)
	}
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected invalid transition error, got %v", err)
	}
	var te *apperr.TransitionError
	if !errors.As(err, &te) || te.Current != "red" || te.Event != "slow" || te.Entity != "light" {
		t.Errorf("unexpected transition error detail: %+v", te)
	}
}

func TestIntrospection(t *testing.T) {
	tb := table()
	if !tb.Can(green, "shutdown") {
		t.Errorf("green should allow shutdown")
	}
	if tb.Can(off, "go") {
		t.Errorf("off should be terminal")
	}
	if !tb.Terminal(off) {
		t.Errorf("off should be terminal")
	}
	evs := tb.Events(red)
	if len(evs) != 2 || evs[0] != "go" || evs[1] != "shutdown" {
		t.Errorf("unexpected events for red: %v", evs)
	}
	src := tb.Sources("shutdown")
	if len(src) != 3 {
		t.Errorf("expected 3 sources for shutdown, got %v", src)
	}
}

func TestDuplicateEdgePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate edge")
		}
	}()
	New("dup",
		Edge[light]{From: []light{red}, Event: "go", To: green},
		Edge[light]{From: []light{red}, Event: "go", To: yellow},
	)
}
