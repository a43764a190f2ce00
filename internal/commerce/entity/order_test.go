package entity

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLinePricingCalculate(t *testing.T) {
	tests := []struct {
		name      string
		pricing   LinePricing
		qty       int
		wantDisc  string
		wantTax   string
		wantTotal string
	}{
		{"plain", LinePricing{UnitPrice: dec("100")}, 2, "0", "0", "200"},
		{"percentage discount and tax", LinePricing{UnitPrice: dec("99.99"), DiscountType: DiscountPercentage, DiscountValue: dec("10"), TaxPercentage: dec("18")}, 3, "30", "48.59", "318.56"},
		{"amount discount capped", LinePricing{UnitPrice: dec("5"), DiscountType: DiscountAmount, DiscountValue: dec("50")}, 2, "10", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pricing
			p.Calculate(tt.qty)
			if !p.DiscountAmount.Equal(dec(tt.wantDisc)) {
				t.Errorf("discount = %s, want %s", p.DiscountAmount, tt.wantDisc)
			}
			if !p.TaxAmount.Equal(dec(tt.wantTax)) {
				t.Errorf("tax = %s, want %s", p.TaxAmount, tt.wantTax)
			}
			if !p.Total.Equal(dec(tt.wantTotal)) {
				t.Errorf("total = %s, want %s", p.Total, tt.wantTotal)
			}
		})
	}
}

func TestVendorOrderCalculateTotals(t *testing.T) {
	vo := &VendorOrder{
		CommissionRate: dec("12.5"),
		ShippingAmount: dec("40"),
		DiscountAmount: dec("10"),
		Items: []VendorOrderItem{
			{QuantityOrdered: 2, LinePricing: LinePricing{UnitPrice: dec("150"), TaxPercentage: dec("5")}},
			{QuantityOrdered: 1, LinePricing: LinePricing{UnitPrice: dec("75.50")}},
		},
	}
	vo.CalculateTotals()

	// 300 + 15 税 + 75.50
	if !vo.Subtotal.Equal(dec("390.50")) {
		t.Fatalf("subtotal = %s", vo.Subtotal)
	}
	if !vo.TaxAmount.Equal(dec("15")) {
		t.Fatalf("tax = %s", vo.TaxAmount)
	}
	if !vo.TotalAmount.Equal(dec("420.50")) {
		t.Fatalf("total = %s", vo.TotalAmount)
	}
	// 420.50 * 12.5% = 52.5625 → 52.56
	if !vo.CommissionAmount.Equal(dec("52.56")) {
		t.Fatalf("commission = %s", vo.CommissionAmount)
	}
	if !vo.VendorEarning.Add(vo.CommissionAmount).Equal(vo.TotalAmount) {
		t.Fatalf("earning + commission must equal total")
	}
	if !vo.Items[0].CommissionRate.Equal(dec("12.5")) {
		t.Fatalf("line commission rate not snapshotted")
	}
}

func TestSalesOrderAggregateTotals(t *testing.T) {
	vos := []VendorOrder{
		{Subtotal: dec("100"), ShippingAmount: dec("25.01"), TotalAmount: dec("125.01")},
		{Subtotal: dec("60.50"), ShippingAmount: dec("25"), TotalAmount: dec("85.50")},
	}
	so := &SalesOrder{}
	so.AggregateTotals(vos)
	if !so.TotalAmount.Equal(so.Subtotal.Add(so.ShippingAmount)) {
		t.Fatalf("total %s != subtotal %s + shipping %s", so.TotalAmount, so.Subtotal, so.ShippingAmount)
	}
	if !so.ShippingAmount.Equal(dec("50.01")) {
		t.Fatalf("shipping = %s", so.ShippingAmount)
	}
}

func TestCommissionRecordSnapshot(t *testing.T) {
	vo := &VendorOrder{ID: "vo-1", VendorID: "v-1", TotalAmount: dec("1000"), CommissionRate: dec("10"), CommissionAmount: dec("100")}
	var c CommissionRecord
	c.Snapshot(vo)
	if !c.TaxRate.Equal(DefaultCommissionTaxRate) {
		t.Fatalf("default tax rate not applied: %s", c.TaxRate)
	}
	if !c.TaxAmount.Equal(dec("18")) {
		t.Fatalf("tax on commission = %s, want 18", c.TaxAmount)
	}
	if c.VendorOrderID != "vo-1" || !c.OrderAmount.Equal(dec("1000")) {
		t.Fatalf("snapshot mismatch: %+v", c)
	}
}

func TestReturnCalculateRefund(t *testing.T) {
	r := &ReturnRequest{Items: []ReturnItem{
		{UnitPrice: dec("199.99"), QuantityApproved: 2},
		{UnitPrice: dec("50"), QuantityApproved: 0},
		{UnitPrice: dec("10.10"), QuantityApproved: 3},
	}}
	if got := r.CalculateRefund(); !got.Equal(dec("430.28")) {
		t.Fatalf("refund = %s, want 430.28", got)
	}

	// 质检不通过的明细保留核准数量但不计退款
	r.Items[0].InspectionResult = InspectionFailed
	r.Items[2].InspectionResult = InspectionPartial
	if got := r.CalculateRefund(); !got.Equal(dec("30.30")) {
		t.Fatalf("refund after inspection = %s, want 30.30", got)
	}
	if r.Items[0].QuantityApproved != 2 {
		t.Fatalf("approved quantity changed: %d", r.Items[0].QuantityApproved)
	}
}

func TestSettlementNetPayable(t *testing.T) {
	s := &VendorSettlement{
		GrossAmount:      dec("10000"),
		CommissionAmount: dec("1000"),
		RefundAmount:     dec("250.50"),
		ChargebackAmount: dec("100"),
		FeeAmount:        dec("49.50"),
		AdjustmentAmount: dec("75"),
		TaxOnCommission:  dec("180"),
		TDSAmount:        dec("100"),
	}
	// 10000-1000-250.50-100-49.50+75-180-100
	if got := s.ComputeNetPayable(); !got.Equal(dec("8395")) {
		t.Fatalf("net payable = %s, want 8395", got)
	}
	if !s.NetPayable.Equal(dec("8395")) {
		t.Fatalf("net payable not stored")
	}
}

func TestDeliveryCOD(t *testing.T) {
	d := &DeliveryAssignment{CODAmount: dec("150.00")}
	if !d.IsCOD() || !d.CODPending() {
		t.Fatalf("expected pending COD")
	}
	d.CODCollected = true
	if d.CODPending() {
		t.Fatalf("collected COD must not be pending")
	}
	if (&DeliveryAssignment{}).IsCOD() {
		t.Fatalf("zero amount is not COD")
	}
}
