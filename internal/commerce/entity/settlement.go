package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus 结算单状态
type SettlementStatus string

const (
	SettlementDraft      SettlementStatus = "draft"
	SettlementPending    SettlementStatus = "pending"
	SettlementApproved   SettlementStatus = "approved"
	SettlementProcessing SettlementStatus = "processing"
	SettlementPaid       SettlementStatus = "paid"
	SettlementFailed     SettlementStatus = "failed"
	SettlementCancelled  SettlementStatus = "cancelled"
)

// 结算周期
const (
	FrequencyWeekly   = "weekly"
	FrequencyBiweekly = "biweekly"
	FrequencyMonthly  = "monthly"
	FrequencyCustom   = "custom"
)

// VendorSettlement 商家结算单
type VendorSettlement struct {
	ID               SettlementID     `json:"id" gorm:"primaryKey;size:36"`
	SettlementNumber string           `json:"settlement_number" gorm:"size:60;uniqueIndex;not null"`
	VendorID         VendorID         `json:"vendor_id" gorm:"size:36;not null;index"`
	PeriodStart      time.Time        `json:"period_start" gorm:"type:date;not null"`
	PeriodEnd        time.Time        `json:"period_end" gorm:"type:date;not null"`
	Frequency        string           `json:"frequency" gorm:"size:20;not null;default:custom"`
	TotalOrders      int              `json:"total_orders" gorm:"not null;default:0"`
	TotalItems       int              `json:"total_items" gorm:"not null;default:0"`
	GrossAmount      decimal.Decimal  `json:"gross_amount" gorm:"type:numeric(14,2);not null;default:0"`
	CommissionRate   decimal.Decimal  `json:"commission_rate" gorm:"type:numeric(5,2);not null;default:0"`
	CommissionAmount decimal.Decimal  `json:"commission_amount" gorm:"type:numeric(14,2);not null;default:0"`
	VendorEarning    decimal.Decimal  `json:"vendor_earning" gorm:"type:numeric(14,2);not null;default:0"`
	RefundAmount     decimal.Decimal  `json:"refund_amount" gorm:"type:numeric(14,2);not null;default:0"`
	ChargebackAmount decimal.Decimal  `json:"chargeback_amount" gorm:"type:numeric(14,2);not null;default:0"`
	FeeAmount        decimal.Decimal  `json:"fee_amount" gorm:"type:numeric(14,2);not null;default:0"`
	AdjustmentAmount decimal.Decimal  `json:"adjustment_amount" gorm:"type:numeric(14,2);not null;default:0"`
	TaxOnCommission  decimal.Decimal  `json:"tax_on_commission" gorm:"type:numeric(14,2);not null;default:0"`
	TDSAmount        decimal.Decimal  `json:"tds_amount" gorm:"type:numeric(14,2);not null;default:0"`
	NetPayable       decimal.Decimal  `json:"net_payable" gorm:"type:numeric(14,2);not null;default:0"`
	NetPaid          decimal.Decimal  `json:"net_paid" gorm:"type:numeric(14,2);not null;default:0"`
	Status           SettlementStatus `json:"status" gorm:"size:20;not null;default:draft;index"`
	Notes            string           `json:"notes" gorm:"type:text"`
	ApprovedBy       string           `json:"approved_by" gorm:"size:36"`
	ApprovedAt       *time.Time       `json:"approved_at"`
	PaidAt           *time.Time       `json:"paid_at"`
	PaymentReference string           `json:"payment_reference" gorm:"size:100"`
	CreatedBy        string           `json:"created_by" gorm:"size:36"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (VendorSettlement) TableName() string {
	return "mkt_vendor_settlements"
}

// ComputeNetPayable 应付净额
// gross - commission - refunds - chargebacks - fees + adjustments - tax_on_commission - tds
func (s *VendorSettlement) ComputeNetPayable() decimal.Decimal {
	s.NetPayable = s.GrossAmount.
		Sub(s.CommissionAmount).
		Sub(s.RefundAmount).
		Sub(s.ChargebackAmount).
		Sub(s.FeeAmount).
		Add(s.AdjustmentAmount).
		Sub(s.TaxOnCommission).
		Sub(s.TDSAmount)
	return s.NetPayable
}

// 打款状态
const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

// VendorPayout 打款记录，一张结算单至多一条
type VendorPayout struct {
	ID                PayoutID        `json:"id" gorm:"primaryKey;size:36"`
	PayoutNumber      string          `json:"payout_number" gorm:"size:60;uniqueIndex;not null"`
	VendorID          VendorID        `json:"vendor_id" gorm:"size:36;not null;index"`
	SettlementID      SettlementID    `json:"settlement_id" gorm:"size:36;not null;uniqueIndex"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	PaymentMethod     string          `json:"payment_method" gorm:"size:30;not null"`
	BankName          string          `json:"bank_name" gorm:"size:100"`
	BankAccountNumber string          `json:"bank_account_number" gorm:"size:50"`
	BankIFSC          string          `json:"bank_ifsc" gorm:"size:20"`
	UPIID             string          `json:"upi_id" gorm:"size:100"`
	TransactionID     string          `json:"transaction_id" gorm:"size:100"`
	Status            string          `json:"status" gorm:"size:20;not null;default:pending"`
	ProcessedBy       string          `json:"processed_by" gorm:"size:36"`
	ProcessedAt       *time.Time      `json:"processed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (VendorPayout) TableName() string {
	return "mkt_vendor_payouts"
}

// 账本记账方向
const (
	LedgerCredit = "credit"
	LedgerDebit  = "debit"
)

// 账本引用类型
const (
	LedgerRefSettlement = "settlement"
	LedgerRefRefund     = "refund"
	// 结算打款时从应付中扣回的退款
	LedgerRefRefundRecovery = "refund_recovery"
)

// VendorLedgerEntry 商家账本流水（只追加）
type VendorLedgerEntry struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	VendorID        VendorID        `json:"vendor_id" gorm:"size:36;not null;index;uniqueIndex:uk_mkt_ledger_ref,priority:1"`
	EntryType       string          `json:"entry_type" gorm:"size:10;not null;uniqueIndex:uk_mkt_ledger_ref,priority:4"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	BalanceAfter    decimal.Decimal `json:"balance_after" gorm:"type:numeric(14,2);not null"`
	ReferenceType   string          `json:"reference_type" gorm:"size:30;not null;uniqueIndex:uk_mkt_ledger_ref,priority:2"`
	ReferenceID     string          `json:"reference_id" gorm:"size:36;not null;uniqueIndex:uk_mkt_ledger_ref,priority:3"`
	ReferenceNumber string          `json:"reference_number" gorm:"size:60"`
	Description     string          `json:"description" gorm:"type:text"`
	CreatedBy       string          `json:"created_by" gorm:"size:36"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`
}

func (VendorLedgerEntry) TableName() string {
	return "mkt_vendor_ledger"
}

// Signed 按方向带符号的金额
func (e *VendorLedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == LedgerDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
