package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"2.345", "2.35"},
		{"10", "10"},
		{"0.125", "0.13"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := Round(d(tc.in))
			if !got.Equal(d(tc.want)) {
				t.Errorf("Round(%s) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	got := Percent(d("333.33"), d("12.5"))
	if !got.Equal(d("41.67")) {
		t.Fatalf("expected 41.67, got %s", got)
	}
	if !Percent(d("100"), decimal.Zero).IsZero() {
		t.Fatalf("zero rate must give zero")
	}
}

func TestMul(t *testing.T) {
	if got := Mul(d("19.99"), 3); !got.Equal(d("59.97")) {
		t.Fatalf("expected 59.97, got %s", got)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("150.00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Parse("1.001"); err == nil {
		t.Fatalf("expected error for three decimal places")
	}
	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected error for non-numeric input")
	}
}

func TestSplit(t *testing.T) {
	parts := Split(d("100"), 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if !parts[0].Equal(d("33.34")) || !parts[1].Equal(d("33.33")) || !parts[2].Equal(d("33.33")) {
		t.Errorf("unexpected split: %v", parts)
	}
	if !Sum(parts...).Equal(d("100")) {
		t.Errorf("split must sum to total, got %s", Sum(parts...))
	}
	if Split(d("10"), 0) != nil {
		t.Errorf("expected nil for n=0")
	}
}
