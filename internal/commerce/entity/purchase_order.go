package entity

import (
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/shopspring/decimal"
)

// POStatus 采购订单状态
type POStatus string

const (
	POStatusDraft           POStatus = "draft"
	POStatusPendingApproval POStatus = "pending_approval"
	POStatusApproved        POStatus = "approved"
	POStatusRejected        POStatus = "rejected"
	POStatusSent            POStatus = "sent"
	POStatusConfirmed       POStatus = "confirmed"
	POStatusReceiving       POStatus = "receiving"
	POStatusPartialReceived POStatus = "partial_received"
	POStatusReceived        POStatus = "received"
	POStatusComplete        POStatus = "complete"
	POStatusCancelled       POStatus = "cancelled"
	POStatusReturned        POStatus = "returned"
)

// Editable 草稿与驳回状态可修改明细
func (s POStatus) Editable() bool {
	return s == POStatusDraft || s == POStatusRejected
}

// PurchaseOrder 采购订单
type PurchaseOrder struct {
	ID                 PurchaseOrderID `json:"id" gorm:"primaryKey;size:36"`
	PONumber           string          `json:"po_number" gorm:"size:50;uniqueIndex;not null"`
	VendorID           VendorID        `json:"vendor_id" gorm:"size:36;not null;index"`
	SupplierName       string          `json:"supplier_name" gorm:"size:200;not null"`
	SupplierContact    string          `json:"supplier_contact" gorm:"size:200"`
	WarehouseID        WarehouseID     `json:"warehouse_id" gorm:"size:36;not null"`
	Status             POStatus        `json:"status" gorm:"size:30;not null;default:draft;index"`
	OrderDate          time.Time       `json:"order_date"`
	ExpectedDate       *time.Time      `json:"expected_date"`
	Currency           string          `json:"currency" gorm:"size:3;not null;default:INR"`
	Subtotal           decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null;default:0"`
	TaxAmount          decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	DiscountAmount     decimal.Decimal `json:"discount_amount" gorm:"type:numeric(12,2);not null;default:0"`
	ShippingAmount     decimal.Decimal `json:"shipping_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TotalAmount        decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null;default:0"`
	PaidAmount         decimal.Decimal `json:"paid_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Notes              string          `json:"notes" gorm:"type:text"`
	SubmittedAt        *time.Time      `json:"submitted_at"`
	ApprovedBy         string          `json:"approved_by" gorm:"size:36"`
	ApprovedAt         *time.Time      `json:"approved_at"`
	RejectionReason    string          `json:"rejection_reason" gorm:"type:text"`
	SentAt             *time.Time      `json:"sent_at"`
	ConfirmedAt        *time.Time      `json:"confirmed_at"`
	ReceivedAt         *time.Time      `json:"received_at"`
	CompletedAt        *time.Time      `json:"completed_at"`
	CancelledBy        string          `json:"cancelled_by" gorm:"size:36"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	CancellationReason string          `json:"cancellation_reason" gorm:"type:text"`
	CreatedBy          string          `json:"created_by" gorm:"size:36;not null"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Items []POItem `json:"items,omitempty" gorm:"foreignKey:PurchaseOrderID"`
}

func (PurchaseOrder) TableName() string {
	return "mkt_purchase_orders"
}

// RecalculateTotals 重算行金额与订单合计
func (po *PurchaseOrder) RecalculateTotals() {
	subtotal, tax := decimal.Zero, decimal.Zero
	for i := range po.Items {
		po.Items[i].RecalculateLine()
		subtotal = subtotal.Add(po.Items[i].Subtotal)
		tax = tax.Add(po.Items[i].TaxAmount)
	}
	po.Subtotal = subtotal
	po.TaxAmount = tax
	po.TotalAmount = subtotal.Add(tax).Add(po.ShippingAmount).Sub(po.DiscountAmount)
}

// FullyReceived 所有行均已收齐（含取消数量）
func (po *PurchaseOrder) FullyReceived() bool {
	for _, it := range po.Items {
		if it.QuantityPending() > 0 {
			return false
		}
	}
	return len(po.Items) > 0
}

// ItemByID 查找明细
func (po *PurchaseOrder) ItemByID(id POItemID) *POItem {
	for i := range po.Items {
		if po.Items[i].ID == id {
			return &po.Items[i]
		}
	}
	return nil
}

// POItem 采购订单明细
type POItem struct {
	ID                POItemID        `json:"id" gorm:"primaryKey;size:36"`
	PurchaseOrderID   PurchaseOrderID `json:"purchase_order_id" gorm:"size:36;not null;index"`
	ProductID         ProductID       `json:"product_id" gorm:"size:36;not null"`
	VariantID         string          `json:"variant_id" gorm:"size:36;not null;default:''"`
	ProductName       string          `json:"product_name" gorm:"size:255"`
	SKU               string          `json:"sku" gorm:"size:100"`
	QuantityOrdered   int             `json:"quantity_ordered" gorm:"not null"`
	QuantityReceived  int             `json:"quantity_received" gorm:"not null;default:0"`
	QuantityCancelled int             `json:"quantity_cancelled" gorm:"not null;default:0"`
	UnitPrice         decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	TaxPercentage     decimal.Decimal `json:"tax_percentage" gorm:"type:numeric(5,2);not null;default:0"`
	TaxAmount         decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Subtotal          decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null;default:0"`
	Total             decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null;default:0"`
	Notes             string          `json:"notes" gorm:"type:text"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (POItem) TableName() string {
	return "mkt_po_items"
}

// QuantityPending 待收数量
func (it *POItem) QuantityPending() int {
	return it.QuantityOrdered - it.QuantityReceived - it.QuantityCancelled
}

// RecalculateLine 行金额
func (it *POItem) RecalculateLine() {
	it.Subtotal = money.Mul(it.UnitPrice, it.QuantityOrdered)
	it.TaxAmount = money.Percent(it.Subtotal, it.TaxPercentage)
	it.Total = it.Subtotal.Add(it.TaxAmount)
}

// POStatusLog 采购订单状态日志
type POStatusLog struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	PurchaseOrderID PurchaseOrderID `json:"purchase_order_id" gorm:"size:36;not null;index"`
	OldStatus       POStatus        `json:"old_status" gorm:"size:30"`
	NewStatus       POStatus        `json:"new_status" gorm:"size:30;not null"`
	Notes           string          `json:"notes" gorm:"type:text"`
	ChangedBy       string          `json:"changed_by" gorm:"size:36"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (POStatusLog) TableName() string {
	return "mkt_po_status_logs"
}
