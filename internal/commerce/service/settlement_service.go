package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/fsm"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService 商家结算与佣金
type SettlementService struct {
	base
}

func NewSettlementService(b base) *SettlementService {
	return &SettlementService{base: b}
}

// Get 结算单详情
func (s *SettlementService) Get(ctx context.Context, id entity.SettlementID) (*entity.VendorSettlement, error) {
	return s.repos.Settlement.FindByID(ctx, id)
}

// List 结算单列表
func (s *SettlementService) List(ctx context.Context, f repository.SettlementFilter) ([]entity.VendorSettlement, int64, error) {
	return s.repos.Settlement.FindAll(ctx, f)
}

// Stats 结算汇总
func (s *SettlementService) Stats(ctx context.Context, vendorID entity.VendorID) ([]repository.SettlementStats, error) {
	return s.repos.Settlement.Stats(ctx, vendorID)
}

// Orders 结算单包含的商家订单
func (s *SettlementService) Orders(ctx context.Context, id entity.SettlementID) ([]entity.VendorOrder, error) {
	if _, err := s.repos.Settlement.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Order.FindBySettlement(ctx, id)
}

// Payouts 打款记录
func (s *SettlementService) Payouts(ctx context.Context, vendorID entity.VendorID, page repository.Page) ([]entity.VendorPayout, int64, error) {
	return s.repos.Settlement.FindPayouts(ctx, vendorID, page)
}

// LedgerView 商家账本
type LedgerView struct {
	VendorID entity.VendorID            `json:"vendor_id"`
	Balance  decimal.Decimal            `json:"balance"`
	Entries  []entity.VendorLedgerEntry `json:"entries"`
	Total    int64                      `json:"total"`
}

// Ledger 商家账本流水与当前余额
func (s *SettlementService) Ledger(ctx context.Context, vendorID entity.VendorID, page repository.Page) (*LedgerView, error) {
	if _, err := s.repos.Vendor.FindByID(ctx, vendorID); err != nil {
		return nil, err
	}
	entries, total, err := s.repos.Settlement.FindLedger(ctx, vendorID, page)
	if err != nil {
		return nil, err
	}
	balance, err := s.repos.Settlement.Balance(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	return &LedgerView{VendorID: vendorID, Balance: balance, Entries: entries, Total: total}, nil
}

// Deductions 结算扣减与调整项
type Deductions struct {
	Chargebacks decimal.Decimal `json:"chargebacks"`
	Fees        decimal.Decimal `json:"fees"`
	Adjustments decimal.Decimal `json:"adjustments"`
	TDS         decimal.Decimal `json:"tds"`
}

func (d Deductions) check() error {
	if err := requireNonNegative("chargebacks", d.Chargebacks); err != nil {
		return err
	}
	if err := requireNonNegative("fees", d.Fees); err != nil {
		return err
	}
	return requireNonNegative("tds", d.TDS)
}

// GenerateRequest 生成结算单
type GenerateRequest struct {
	VendorID    entity.VendorID `json:"vendor_id" binding:"required"`
	PeriodStart time.Time       `json:"period_start" binding:"required"`
	PeriodEnd   time.Time       `json:"period_end" binding:"required"`
	Frequency   string          `json:"frequency" binding:"omitempty,oneof=weekly biweekly monthly custom"`
	Notes       string          `json:"notes"`
	Deductions
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// summarize 由订单、佣金记录与退款合计填充结算金额
func summarize(st *entity.VendorSettlement, orders []entity.VendorOrder, commissions []entity.CommissionRecord, refunds decimal.Decimal, d Deductions) {
	gross, commission, earning := decimal.Zero, decimal.Zero, decimal.Zero
	items := 0
	for _, vo := range orders {
		gross = gross.Add(vo.TotalAmount)
		commission = commission.Add(vo.CommissionAmount)
		earning = earning.Add(vo.VendorEarning)
		for _, it := range vo.Items {
			items += it.QuantityDelivered
		}
	}
	tax := decimal.Zero
	for _, c := range commissions {
		tax = tax.Add(c.TaxAmount)
	}

	st.TotalOrders = len(orders)
	st.TotalItems = items
	st.GrossAmount = money.Round(gross)
	st.CommissionAmount = money.Round(commission)
	st.VendorEarning = money.Round(earning)
	st.RefundAmount = money.Round(refunds)
	st.ChargebackAmount = money.Round(d.Chargebacks)
	st.FeeAmount = money.Round(d.Fees)
	st.AdjustmentAmount = money.Round(d.Adjustments)
	st.TaxOnCommission = money.Round(tax)
	st.TDSAmount = money.Round(d.TDS)
	st.ComputeNetPayable()
}

// refundTotal 退款合计及退货单ID
func refundTotal(returns []entity.ReturnRequest) (decimal.Decimal, []entity.ReturnRequestID) {
	total := decimal.Zero
	ids := make([]entity.ReturnRequestID, len(returns))
	for i := range returns {
		total = total.Add(returns[i].RefundAmount)
		ids[i] = returns[i].ID
	}
	return total, ids
}

func orderIDs(orders []entity.VendorOrder) []entity.VendorOrderID {
	ids := make([]entity.VendorOrderID, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	return ids
}

// Generate 生成草稿结算单：锁定周期内已送达未结算的商家订单并汇总
// 周期截止前尚未扣回的退款一并计入，每笔退款只扣回一次
func (s *SettlementService) Generate(ctx context.Context, req *GenerateRequest, op Op) (*entity.VendorSettlement, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := req.Deductions.check(); err != nil {
		return nil, err
	}
	start, end := day(req.PeriodStart), day(req.PeriodEnd)
	if end.Before(start) {
		return nil, apperr.Validation("period end %s is before period start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	var st *entity.VendorSettlement
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		// 同商家的生成串行执行
		vendor, err := tx.Vendor.FindByIDForUpdate(ctx, req.VendorID)
		if err != nil {
			return err
		}
		existing, err := tx.Settlement.FindActiveForPeriod(ctx, vendor.ID, start, end)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("settlement %s (%s to %s) overlaps %s to %s",
				existing.SettlementNumber, existing.PeriodStart.Format(time.DateOnly), existing.PeriodEnd.Format(time.DateOnly),
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		orders, err := tx.Order.FindSettleable(ctx, vendor.ID, start, end)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return apperr.Validation("no settleable orders for vendor %s between %s and %s",
				vendor.StoreName, start.Format(time.DateOnly), end.Format(time.DateOnly))
		}
		ids := orderIDs(orders)
		commissions, err := tx.Order.FindCommissionsByOrders(ctx, ids)
		if err != nil {
			return err
		}
		returns, err := tx.Return.FindUnsettledRefunds(ctx, vendor.ID, end.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		refunds, returnIDs := refundTotal(returns)

		st = &entity.VendorSettlement{
			ID:               entity.SettlementID(idgen.NewID()),
			SettlementNumber: idgen.Code("ST", op.At),
			VendorID:         vendor.ID,
			PeriodStart:      start,
			PeriodEnd:        end,
			Frequency:        req.Frequency,
			CommissionRate:   vendor.CommissionRate,
			Status:           entity.SettlementDraft,
			Notes:            req.Notes,
			CreatedBy:        op.Actor,
			CreatedAt:        op.At,
			UpdatedAt:        op.At,
		}
		if st.Frequency == "" {
			st.Frequency = entity.FrequencyCustom
		}
		summarize(st, orders, commissions, refunds, req.Deductions)
		if err := tx.Settlement.Create(ctx, st); err != nil {
			return err
		}
		if err := tx.Order.LinkSettlement(ctx, ids, st.ID); err != nil {
			return err
		}
		return tx.Return.LinkSettlement(ctx, returnIDs, st.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement generated",
		zap.String("settlement_id", string(st.ID)),
		zap.String("vendor_id", string(st.VendorID)),
		zap.Int("orders", st.TotalOrders),
		zap.String("net_payable", st.NetPayable.StringFixed(2)))
	s.publish(ctx, s.statusEvent(st, "", "generated", op))
	return st, nil
}

// Recalculate 草稿结算单按当前订单、退款与扣减项重算
func (s *SettlementService) Recalculate(ctx context.Context, id entity.SettlementID, d Deductions, op Op) (*entity.VendorSettlement, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := d.check(); err != nil {
		return nil, err
	}
	var st *entity.VendorSettlement
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if st, err = tx.Settlement.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		if st.Status != entity.SettlementDraft {
			return apperr.BusinessLogic("settlement %s is %s; only drafts can be recalculated", st.SettlementNumber, st.Status)
		}
		orders, err := tx.Order.FindBySettlement(ctx, st.ID)
		if err != nil {
			return err
		}
		commissions, err := tx.Order.FindCommissionsBySettlement(ctx, st.ID)
		if err != nil {
			return err
		}
		// 生成后完成的退款在重算时计入
		fresh, err := tx.Return.FindUnsettledRefunds(ctx, st.VendorID, st.PeriodEnd.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		_, freshIDs := refundTotal(fresh)
		if err := tx.Return.LinkSettlement(ctx, freshIDs, st.ID); err != nil {
			return err
		}
		returns, err := tx.Return.FindBySettlement(ctx, st.ID)
		if err != nil {
			return err
		}
		refunds, _ := refundTotal(returns)
		summarize(st, orders, commissions, refunds, d)
		st.UpdatedAt = op.At
		return tx.Settlement.Save(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement recalculated",
		zap.String("settlement_id", string(id)),
		zap.String("net_payable", st.NetPayable.StringFixed(2)))
	return st, nil
}

func (s *SettlementService) statusEvent(st *entity.VendorSettlement, from entity.SettlementStatus, notes string, op Op) events.Event {
	return event(events.SettlementStatus, string(st.ID), op,
		StatusChange{ID: string(st.ID), From: string(from), To: string(st.Status), Notes: notes})
}

func (s *SettlementService) transition(ctx context.Context, id entity.SettlementID, ev fsm.Event, notes string, op Op,
	fn func(tx *repository.Repositories, st *entity.VendorSettlement) error) (*entity.VendorSettlement, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		st  *entity.VendorSettlement
		old entity.SettlementStatus
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if st, err = tx.Settlement.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		old = st.Status
		next, err := entity.SettlementTransitions.Fire(st.Status, ev)
		if err != nil {
			return err
		}
		st.Status = next
		st.UpdatedAt = op.At
		if fn != nil {
			if err := fn(tx, st); err != nil {
				return err
			}
		}
		return tx.Settlement.Save(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement status changed",
		zap.String("settlement_id", string(id)),
		zap.String("from", string(old)),
		zap.String("to", string(st.Status)))
	s.publish(ctx, s.statusEvent(st, old, notes, op))
	return st, nil
}

// Submit 提交审核
func (s *SettlementService) Submit(ctx context.Context, id entity.SettlementID, op Op) (*entity.VendorSettlement, error) {
	return s.transition(ctx, id, entity.SettlementSubmit, "submitted", op, nil)
}

// Approve 审核通过，金额冻结
func (s *SettlementService) Approve(ctx context.Context, id entity.SettlementID, op Op) (*entity.VendorSettlement, error) {
	return s.transition(ctx, id, entity.SettlementApprove, "approved", op, func(tx *repository.Repositories, st *entity.VendorSettlement) error {
		st.ApprovedBy = op.Actor
		st.ApprovedAt = op.at()
		return nil
	})
}

// StartProcessing 打款处理中
func (s *SettlementService) StartProcessing(ctx context.Context, id entity.SettlementID, op Op) (*entity.VendorSettlement, error) {
	return s.transition(ctx, id, entity.SettlementProcess, "payment processing", op, nil)
}

// MarkFailed 打款失败
func (s *SettlementService) MarkFailed(ctx context.Context, id entity.SettlementID, reason string, op Op) (*entity.VendorSettlement, error) {
	if reason == "" {
		return nil, apperr.Validation("failure reason is required")
	}
	return s.transition(ctx, id, entity.SettlementFail, reason, op, nil)
}

// Retry 失败后重新进入待打款
func (s *SettlementService) Retry(ctx context.Context, id entity.SettlementID, op Op) (*entity.VendorSettlement, error) {
	return s.transition(ctx, id, entity.SettlementRetry, "retry payment", op, nil)
}

// Cancel 取消结算单并释放关联订单与退款
func (s *SettlementService) Cancel(ctx context.Context, id entity.SettlementID, reason string, op Op) (*entity.VendorSettlement, error) {
	return s.transition(ctx, id, entity.SettlementCancel, reason, op, func(tx *repository.Repositories, st *entity.VendorSettlement) error {
		if reason != "" {
			st.Notes = reason
		}
		if err := tx.Order.UnlinkSettlement(ctx, st.ID); err != nil {
			return err
		}
		return tx.Return.UnlinkSettlement(ctx, st.ID)
	})
}

// PaymentRequest 结算打款
type PaymentRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,oneof=bank_transfer upi neft rtgs imps cheque"`
	TransactionID string `json:"transaction_id"`
}

// ProcessPayment 打款：生成打款记录、标记订单已结算并记商家账本贷方；已付款时原样返回
// 应付已扣除退款，扣回部分另记 refund_recovery 贷方，冲平退款完成时记的借方
func (s *SettlementService) ProcessPayment(ctx context.Context, id entity.SettlementID, req *PaymentRequest, op Op) (*entity.VendorSettlement, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var (
		st     *entity.VendorSettlement
		old    entity.SettlementStatus
		payout *entity.VendorPayout
		paid   bool
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if st, err = tx.Settlement.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		if st.Status == entity.SettlementPaid {
			paid = true
			return nil
		}
		old = st.Status
		next, err := entity.SettlementTransitions.Fire(st.Status, entity.SettlementPay)
		if err != nil {
			return err
		}
		vendor, err := tx.Vendor.FindByID(ctx, st.VendorID)
		if err != nil {
			return err
		}

		payout = &entity.VendorPayout{
			ID:                entity.PayoutID(idgen.NewID()),
			PayoutNumber:      idgen.Code("PAY", op.At),
			VendorID:          st.VendorID,
			SettlementID:      st.ID,
			Amount:            st.NetPayable,
			PaymentMethod:     req.PaymentMethod,
			BankName:          vendor.BankName,
			BankAccountNumber: vendor.BankAccountNumber,
			BankIFSC:          vendor.BankIFSC,
			UPIID:             vendor.UPIID,
			TransactionID:     req.TransactionID,
			Status:            entity.PayoutCompleted,
			ProcessedBy:       op.Actor,
			ProcessedAt:       op.at(),
			CreatedAt:         op.At,
			UpdatedAt:         op.At,
		}
		if err := tx.Settlement.CreatePayout(ctx, payout); err != nil {
			return err
		}

		st.Status = next
		st.NetPaid = st.NetPayable
		st.PaidAt = op.at()
		st.PaymentReference = req.TransactionID
		st.UpdatedAt = op.At
		if err := tx.Settlement.Save(ctx, st); err != nil {
			return err
		}
		if err := tx.Order.MarkSettled(ctx, st.ID, op.At); err != nil {
			return err
		}
		if st.RefundAmount.IsPositive() {
			if _, err := postLedgerTx(ctx, tx, ledgerPosting{
				VendorID:        st.VendorID,
				EntryType:       entity.LedgerCredit,
				Amount:          st.RefundAmount,
				ReferenceType:   entity.LedgerRefRefundRecovery,
				ReferenceID:     string(st.ID),
				ReferenceNumber: st.SettlementNumber,
				Description:     "refunds recovered in " + st.SettlementNumber,
			}, op); err != nil {
				return err
			}
		}
		_, err = postLedgerTx(ctx, tx, ledgerPosting{
			VendorID:        st.VendorID,
			EntryType:       entity.LedgerCredit,
			Amount:          st.NetPayable,
			ReferenceType:   entity.LedgerRefSettlement,
			ReferenceID:     string(st.ID),
			ReferenceNumber: st.SettlementNumber,
			Description:     "settlement " + st.SettlementNumber,
		}, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	if paid {
		return st, nil
	}
	s.log.Info("settlement paid",
		zap.String("settlement_id", string(st.ID)),
		zap.String("payout_number", payout.PayoutNumber),
		zap.String("amount", st.NetPaid.StringFixed(2)),
		zap.String("method", req.PaymentMethod))
	s.publish(ctx,
		s.statusEvent(st, old, "paid", op),
		event(events.SettlementPaid, string(st.ID), op, payout))
	return st, nil
}
