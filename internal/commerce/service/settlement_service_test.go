package service

import (
	"testing"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/testutil"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
)

func TestSummarize(t *testing.T) {
	orders := []entity.VendorOrder{
		{TotalAmount: dec("1000.00"), CommissionAmount: dec("100.00"), VendorEarning: dec("900.00"),
			Items: []entity.VendorOrderItem{{QuantityDelivered: 2}, {QuantityDelivered: 1}}},
		{TotalAmount: dec("500.00"), CommissionAmount: dec("50.00"), VendorEarning: dec("450.00"),
			Items: []entity.VendorOrderItem{{QuantityDelivered: 4}}},
	}
	commissions := []entity.CommissionRecord{
		{TaxAmount: dec("18.00")},
		{TaxAmount: dec("9.00")},
	}
	st := &entity.VendorSettlement{}
	summarize(st, orders, commissions, dec("120.00"), Deductions{
		Chargebacks: dec("30.00"),
		Fees:        dec("10.005"),
		Adjustments: dec("25.00"),
		TDS:         dec("15.00"),
	})

	if st.TotalOrders != 2 || st.TotalItems != 7 {
		t.Errorf("orders=%d items=%d", st.TotalOrders, st.TotalItems)
	}
	if !st.GrossAmount.Equal(dec("1500.00")) || !st.CommissionAmount.Equal(dec("150.00")) || !st.VendorEarning.Equal(dec("1350.00")) {
		t.Errorf("gross=%s commission=%s earning=%s", st.GrossAmount, st.CommissionAmount, st.VendorEarning)
	}
	if !st.FeeAmount.Equal(dec("10.01")) {
		t.Errorf("fee = %s, want 10.01", st.FeeAmount)
	}
	// 1500 - 150 - 120 - 30 - 10.01 + 25 - 27 - 15
	if !st.NetPayable.Equal(dec("1172.99")) {
		t.Fatalf("net payable = %s, want 1172.99", st.NetPayable)
	}
}

func TestDeductionsRejectNegative(t *testing.T) {
	requireKind(t, Deductions{Fees: dec("-1")}.check(), apperr.KindValidation)
	if err := (Deductions{Adjustments: dec("-5")}).check(); err != nil {
		t.Fatalf("negative adjustments are allowed: %v", err)
	}
}

// refunded 退 qty 件并完成退款
func (e *testEnv) refunded(t *testing.T, vo *entity.VendorOrder, qty int) *entity.ReturnRequest {
	t.Helper()
	rr := e.receiveReturn(t, e.requestReturn(t, vo, qty, ""))
	_, err := e.svc.Return.Inspect(e.ctx, rr.ID, &InspectRequest{Result: entity.InspectionPassed}, admin)
	mustNoErr(t, err)
	_, err = e.svc.Return.InitiateRefund(e.ctx, rr.ID, "upi", admin)
	mustNoErr(t, err)
	rr, err = e.svc.Return.CompleteRefund(e.ctx, rr.ID, admin)
	mustNoErr(t, err)
	return rr
}

func todayPeriod(vendorID entity.VendorID) *GenerateRequest {
	now := time.Now()
	return &GenerateRequest{VendorID: vendorID, PeriodStart: now, PeriodEnd: now, Frequency: entity.FrequencyWeekly}
}

func TestSettlement_GenerateApprovePay(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	vo := env.delivered(t, rec, 3)

	// 退款 1 件进入同周期账本借方
	rr := env.refunded(t, vo, 1)

	st, err := env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	mustNoErr(t, err)
	if st.Status != entity.SettlementDraft || st.TotalOrders != 1 {
		t.Fatalf("settlement status=%s orders=%d", st.Status, st.TotalOrders)
	}
	// 360 - 36 佣金 - 120 退款 - 6.48 佣金税
	if !st.GrossAmount.Equal(dec("360.00")) || !st.RefundAmount.Equal(dec("120.00")) || !st.TaxOnCommission.Equal(dec("6.48")) {
		t.Fatalf("gross=%s refund=%s tax=%s", st.GrossAmount, st.RefundAmount, st.TaxOnCommission)
	}
	if !st.NetPayable.Equal(dec("197.52")) {
		t.Fatalf("net payable = %s, want 197.52", st.NetPayable)
	}

	_, err = env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	requireKind(t, err, apperr.KindConflict)

	next := time.Now().AddDate(0, 0, 7)
	_, err = env.svc.Settlement.Generate(env.ctx, &GenerateRequest{VendorID: env.vendor.ID, PeriodStart: next, PeriodEnd: next}, admin)
	requireKind(t, err, apperr.KindValidation)

	st, err = env.svc.Settlement.Recalculate(env.ctx, st.ID, Deductions{Fees: dec("10.00")}, admin)
	mustNoErr(t, err)
	if !st.NetPayable.Equal(dec("187.52")) {
		t.Fatalf("net payable after fees = %s", st.NetPayable)
	}

	// 未审核不能打款
	_, err = env.svc.Settlement.ProcessPayment(env.ctx, st.ID, &PaymentRequest{PaymentMethod: "neft"}, admin)
	requireKind(t, err, apperr.KindInvalidTransition)

	_, err = env.svc.Settlement.Submit(env.ctx, st.ID, admin)
	mustNoErr(t, err)
	st, err = env.svc.Settlement.Approve(env.ctx, st.ID, opAs("finance-1"))
	mustNoErr(t, err)
	if st.ApprovedBy != "finance-1" || st.ApprovedAt == nil {
		t.Fatalf("approval not recorded: %+v", st)
	}
	_, err = env.svc.Settlement.Recalculate(env.ctx, st.ID, Deductions{}, admin)
	requireKind(t, err, apperr.KindBusinessLogic)

	_, err = env.svc.Settlement.ProcessPayment(env.ctx, st.ID, &PaymentRequest{PaymentMethod: "paypal"}, admin)
	requireKind(t, err, apperr.KindValidation)

	st, err = env.svc.Settlement.ProcessPayment(env.ctx, st.ID, &PaymentRequest{PaymentMethod: "neft", TransactionID: "UTR123"}, admin)
	mustNoErr(t, err)
	if st.Status != entity.SettlementPaid || !st.NetPaid.Equal(dec("187.52")) || st.PaidAt == nil {
		t.Fatalf("paid settlement = %+v", st)
	}

	// 重复打款原样返回，不重复记账
	_, err = env.svc.Settlement.ProcessPayment(env.ctx, st.ID, &PaymentRequest{PaymentMethod: "neft", TransactionID: "UTR123"}, admin)
	mustNoErr(t, err)

	payouts, total, err := env.svc.Settlement.Payouts(env.ctx, env.vendor.ID, repository.Page{})
	mustNoErr(t, err)
	if total != 1 || !payouts[0].Amount.Equal(dec("187.52")) || payouts[0].BankIFSC == "" {
		t.Fatalf("payouts = %+v", payouts)
	}

	ledger, err := env.svc.Settlement.Ledger(env.ctx, env.vendor.ID, repository.Page{})
	mustNoErr(t, err)
	if ledger.Total != 3 {
		t.Fatalf("expected refund debit, recovery and settlement credits, got %d entries", ledger.Total)
	}
	// -120 + 120 扣回 + 187.52 打款
	if !ledger.Balance.Equal(dec("187.52")) {
		t.Fatalf("balance = %s, want 187.52", ledger.Balance)
	}
	var recovery *entity.VendorLedgerEntry
	for i := range ledger.Entries {
		if ledger.Entries[i].ReferenceType == entity.LedgerRefRefundRecovery {
			recovery = &ledger.Entries[i]
		}
	}
	if recovery == nil || recovery.EntryType != entity.LedgerCredit || !recovery.Amount.Equal(dec("120.00")) || recovery.ReferenceID != string(st.ID) {
		t.Fatalf("recovery entry = %+v", recovery)
	}

	got, err := env.svc.Return.Get(env.ctx, rr.ID)
	mustNoErr(t, err)
	if got.SettlementID == nil || *got.SettlementID != st.ID {
		t.Fatalf("refund settlement = %v, want %s", got.SettlementID, st.ID)
	}

	orders, err := env.svc.Settlement.Orders(env.ctx, st.ID)
	mustNoErr(t, err)
	if len(orders) != 1 || !orders[0].IsSettled {
		t.Fatalf("settled orders = %+v", orders)
	}
	if env.pub.Count(events.SettlementPaid) != 1 {
		t.Errorf("settlement.paid events = %d, want 1", env.pub.Count(events.SettlementPaid))
	}
}

func TestSettlement_CancelReleasesOrders(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "100.00")
	env.delivered(t, rec, 2)

	st, err := env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	mustNoErr(t, err)
	_, err = env.svc.Settlement.Cancel(env.ctx, st.ID, "wrong period", admin)
	mustNoErr(t, err)

	again, err := env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	mustNoErr(t, err)
	if again.TotalOrders != 1 || again.ID == st.ID {
		t.Fatalf("regenerated settlement = %+v", again)
	}
}

func TestSettlement_RefundDeductedOnce(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "120.00")
	vo := env.delivered(t, rec, 3)
	rr := env.refunded(t, vo, 1)

	// 订单与退款挪到上上周
	now := time.Now()
	mustNoErr(t, env.db.Model(&entity.VendorOrder{}).Where("id = ?", vo.ID).Update("delivered_at", now.AddDate(0, 0, -10)).Error)
	mustNoErr(t, env.db.Model(&entity.ReturnRequest{}).Where("id = ?", rr.ID).Update("refunded_at", now.AddDate(0, 0, -9)).Error)

	period := func(from, to int) *GenerateRequest {
		return &GenerateRequest{VendorID: env.vendor.ID, PeriodStart: now.AddDate(0, 0, from), PeriodEnd: now.AddDate(0, 0, to)}
	}
	first, err := env.svc.Settlement.Generate(env.ctx, period(-14, -7), admin)
	mustNoErr(t, err)
	if first.TotalOrders != 1 || !first.RefundAmount.Equal(dec("120.00")) {
		t.Fatalf("first settlement orders=%d refund=%s", first.TotalOrders, first.RefundAmount)
	}

	// 与已有结算单重叠的周期
	env.delivered(t, rec, 1)
	_, err = env.svc.Settlement.Generate(env.ctx, period(-8, 0), admin)
	requireKind(t, err, apperr.KindConflict)

	second, err := env.svc.Settlement.Generate(env.ctx, period(-6, 0), admin)
	mustNoErr(t, err)
	if second.TotalOrders != 1 || !second.RefundAmount.IsZero() {
		t.Fatalf("second settlement orders=%d refund=%s", second.TotalOrders, second.RefundAmount)
	}
	second, err = env.svc.Settlement.Recalculate(env.ctx, second.ID, Deductions{}, admin)
	mustNoErr(t, err)
	if !second.RefundAmount.IsZero() {
		t.Fatalf("recalculated refund = %s, want 0", second.RefundAmount)
	}

	// 取消后退款回到未扣回状态
	_, err = env.svc.Settlement.Cancel(env.ctx, first.ID, "rerun", admin)
	mustNoErr(t, err)
	again, err := env.svc.Settlement.Generate(env.ctx, period(-14, -7), admin)
	mustNoErr(t, err)
	if !again.RefundAmount.Equal(dec("120.00")) {
		t.Fatalf("regenerated refund = %s, want 120.00", again.RefundAmount)
	}
}

func TestSettlement_FailAndRetry(t *testing.T) {
	env := setupServices(t)
	rec := testutil.SeedInventory(t, env.db, env.vendor.ID, env.warehouse.ID, "Tea 250g", 10, "100.00")
	env.delivered(t, rec, 1)

	st, err := env.svc.Settlement.Generate(env.ctx, todayPeriod(env.vendor.ID), admin)
	mustNoErr(t, err)
	_, err = env.svc.Settlement.Approve(env.ctx, st.ID, admin)
	mustNoErr(t, err)
	_, err = env.svc.Settlement.StartProcessing(env.ctx, st.ID, admin)
	mustNoErr(t, err)
	_, err = env.svc.Settlement.MarkFailed(env.ctx, st.ID, "", admin)
	requireKind(t, err, apperr.KindValidation)
	st, err = env.svc.Settlement.MarkFailed(env.ctx, st.ID, "bank rejected", admin)
	mustNoErr(t, err)
	if st.Status != entity.SettlementFailed {
		t.Fatalf("status = %s", st.Status)
	}
	st, err = env.svc.Settlement.Retry(env.ctx, st.ID, admin)
	mustNoErr(t, err)
	if st.Status != entity.SettlementApproved {
		t.Fatalf("status after retry = %s", st.Status)
	}
	_, err = env.svc.Settlement.ProcessPayment(env.ctx, st.ID, &PaymentRequest{PaymentMethod: "imps"}, admin)
	mustNoErr(t, err)
}
