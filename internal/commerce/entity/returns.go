package entity

import (
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/shopspring/decimal"
)

// ReturnStatus 退货单状态
type ReturnStatus string

const (
	ReturnRequested          ReturnStatus = "requested"
	ReturnApproved           ReturnStatus = "approved"
	ReturnRejected           ReturnStatus = "rejected"
	ReturnPickupScheduled    ReturnStatus = "pickup_scheduled"
	ReturnPickupCompleted    ReturnStatus = "pickup_completed"
	ReturnInTransit          ReturnStatus = "in_transit"
	ReturnReceived           ReturnStatus = "received"
	ReturnInspecting         ReturnStatus = "inspecting"
	ReturnInspectionPassed   ReturnStatus = "inspection_passed"
	ReturnInspectionFailed   ReturnStatus = "inspection_failed"
	ReturnRefundInitiated    ReturnStatus = "refund_initiated"
	ReturnRefundCompleted    ReturnStatus = "refund_completed"
	ReturnReplacementShipped ReturnStatus = "replacement_shipped"
	ReturnCompleted          ReturnStatus = "completed"
	ReturnCancelled          ReturnStatus = "cancelled"
)

// 退货类型
const (
	ReturnTypeRefund      = "refund"
	ReturnTypeReplacement = "replacement"
	ReturnTypeExchange    = "exchange"
)

// 质检结果
const (
	InspectionPassed  = "passed"
	InspectionFailed  = "failed"
	InspectionPartial = "partial"
)

// ValidInspectionResult 质检结果校验
func ValidInspectionResult(r string) bool {
	return r == InspectionPassed || r == InspectionFailed || r == InspectionPartial
}

// ReturnRequest 退货申请（RMA）
type ReturnRequest struct {
	ID               ReturnRequestID  `json:"id" gorm:"primaryKey;size:36"`
	RMANumber        string           `json:"rma_number" gorm:"size:60;uniqueIndex;not null"`
	VendorOrderID    VendorOrderID    `json:"vendor_order_id" gorm:"size:36;not null;index"`
	SalesOrderID     SalesOrderID     `json:"sales_order_id" gorm:"size:36;not null"`
	VendorID         VendorID         `json:"vendor_id" gorm:"size:36;not null;index"`
	CustomerID       CustomerID       `json:"customer_id" gorm:"size:36;not null;index"`
	ReturnType       string           `json:"return_type" gorm:"size:20;not null;default:refund"`
	Reason           string           `json:"reason" gorm:"size:50;not null"`
	Description      string           `json:"description" gorm:"type:text"`
	Status           ReturnStatus     `json:"status" gorm:"size:30;not null;default:requested;index"`
	PickupAddress    Address          `json:"pickup_address" gorm:"type:text"`
	PickupDate       *time.Time       `json:"pickup_date"`
	PickupAgentID    *DeliveryAgentID `json:"pickup_agent_id" gorm:"size:36"`
	InspectionResult string           `json:"inspection_result" gorm:"size:20"`
	InspectionNotes  string           `json:"inspection_notes" gorm:"type:text"`
	InspectedBy      string           `json:"inspected_by" gorm:"size:36"`
	InspectedAt      *time.Time       `json:"inspected_at"`
	RefundAmount     decimal.Decimal  `json:"refund_amount" gorm:"type:numeric(12,2);not null;default:0"`
	RefundMethod     string           `json:"refund_method" gorm:"size:30"`
	RefundedAt       *time.Time       `json:"refunded_at"`
	SettlementID     *SettlementID    `json:"settlement_id" gorm:"size:36;index"`
	ApprovedBy       string           `json:"approved_by" gorm:"size:36"`
	ApprovedAt       *time.Time       `json:"approved_at"`
	RejectionReason  string           `json:"rejection_reason" gorm:"type:text"`
	ReceivedAt       *time.Time       `json:"received_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
	CreatedBy        string           `json:"created_by" gorm:"size:36"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`

	Items []ReturnItem `json:"items,omitempty" gorm:"foreignKey:ReturnRequestID"`
}

func (ReturnRequest) TableName() string {
	return "mkt_return_requests"
}

// CalculateRefund 退款金额 = Σ 单价 × 核准数量，质检不通过的明细不退
func (r *ReturnRequest) CalculateRefund() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(money.Mul(it.UnitPrice, it.RefundableQuantity()))
	}
	return total
}

// ItemByID 查找明细
func (r *ReturnRequest) ItemByID(id ReturnItemID) *ReturnItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// ReturnItem 退货明细
type ReturnItem struct {
	ID                ReturnItemID      `json:"id" gorm:"primaryKey;size:36"`
	ReturnRequestID   ReturnRequestID   `json:"return_request_id" gorm:"size:36;not null;index"`
	VendorOrderItemID VendorOrderItemID `json:"vendor_order_item_id" gorm:"size:36;not null"`
	InventoryID       InventoryID       `json:"inventory_id" gorm:"size:36"`
	ProductID         ProductID         `json:"product_id" gorm:"size:36;not null"`
	ProductName       string            `json:"product_name" gorm:"size:255"`
	QuantityRequested int               `json:"quantity_requested" gorm:"not null"`
	QuantityApproved  int               `json:"quantity_approved" gorm:"not null;default:0"`
	QuantityReceived  int               `json:"quantity_received" gorm:"not null;default:0"`
	QuantityRefunded  int               `json:"quantity_refunded" gorm:"not null;default:0"`
	UnitPrice         decimal.Decimal   `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	Condition         string            `json:"condition" gorm:"size:30"`
	InspectionResult  string            `json:"inspection_result" gorm:"size:20"`
	InspectionNotes   string            `json:"inspection_notes" gorm:"type:text"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (ReturnItem) TableName() string {
	return "mkt_return_items"
}

// RefundableQuantity 可退款数量
func (it *ReturnItem) RefundableQuantity() int {
	if it.InspectionResult == InspectionFailed {
		return 0
	}
	return it.QuantityApproved
}

// ReturnStatusLog 退货状态日志
type ReturnStatusLog struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	ReturnRequestID ReturnRequestID `json:"return_request_id" gorm:"size:36;not null;index"`
	OldStatus       ReturnStatus    `json:"old_status" gorm:"size:30"`
	NewStatus       ReturnStatus    `json:"new_status" gorm:"size:30;not null"`
	Notes           string          `json:"notes" gorm:"type:text"`
	ChangedBy       string          `json:"changed_by" gorm:"size:36"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (ReturnStatusLog) TableName() string {
	return "mkt_return_status_logs"
}
