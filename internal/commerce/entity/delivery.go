package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryStatus 配送任务状态
type DeliveryStatus string

const (
	DeliveryAssigned       DeliveryStatus = "assigned"
	DeliveryAccepted       DeliveryStatus = "accepted"
	DeliveryPickedUp       DeliveryStatus = "picked_up"
	DeliveryInTransit      DeliveryStatus = "in_transit"
	DeliveryOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryFailed         DeliveryStatus = "failed"
	DeliveryReturned       DeliveryStatus = "returned"
	DeliveryCancelled      DeliveryStatus = "cancelled"
)

// 配送员状态
const (
	AgentStatusActive    = "active"
	AgentStatusInactive  = "inactive"
	AgentStatusSuspended = "suspended"
)

// DefaultMaxDeliveryAttempts 默认最大投递次数
const DefaultMaxDeliveryAttempts = 3

// DeliveryAgent 配送员
type DeliveryAgent struct {
	ID                   DeliveryAgentID `json:"id" gorm:"primaryKey;size:36"`
	UserID               string          `json:"user_id" gorm:"size:36;not null;uniqueIndex"`
	Name                 string          `json:"name" gorm:"size:100;not null"`
	Phone                string          `json:"phone" gorm:"size:30"`
	VehicleType          string          `json:"vehicle_type" gorm:"size:30"`
	VehicleNumber        string          `json:"vehicle_number" gorm:"size:30"`
	Status               string          `json:"status" gorm:"size:20;not null;default:active"`
	IsAvailable          bool            `json:"is_available" gorm:"not null;default:true"`
	TotalDeliveries      int             `json:"total_deliveries" gorm:"not null;default:0"`
	SuccessfulDeliveries int             `json:"successful_deliveries" gorm:"not null;default:0"`
	FailedDeliveries     int             `json:"failed_deliveries" gorm:"not null;default:0"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (DeliveryAgent) TableName() string {
	return "mkt_delivery_agents"
}

// IsActive 是否可接单
func (a *DeliveryAgent) IsActive() bool {
	return a.Status == AgentStatusActive
}

// DeliveryAssignment 配送任务
type DeliveryAssignment struct {
	ID                   DeliveryAssignmentID `json:"id" gorm:"primaryKey;size:36"`
	AssignmentNumber     string               `json:"assignment_number" gorm:"size:60;uniqueIndex;not null"`
	SalesOrderID         SalesOrderID         `json:"sales_order_id" gorm:"size:36;not null;index"`
	VendorOrderID        *VendorOrderID       `json:"vendor_order_id" gorm:"size:36;index"`
	AgentID              *DeliveryAgentID     `json:"agent_id" gorm:"size:36;index"`
	Status               DeliveryStatus       `json:"status" gorm:"size:30;not null;default:assigned;index"`
	PickupAddress        Address              `json:"pickup_address" gorm:"type:text"`
	DeliveryAddress      Address              `json:"delivery_address" gorm:"type:text"`
	ScheduledPickupTime  *time.Time           `json:"scheduled_pickup_time"`
	ActualPickupTime     *time.Time           `json:"actual_pickup_time"`
	EstimatedDelivery    *time.Time           `json:"estimated_delivery_time"`
	ActualDeliveryTime   *time.Time           `json:"actual_delivery_time"`
	DeliveryAttempts     int                  `json:"delivery_attempts" gorm:"not null;default:0"`
	MaxAttempts          int                  `json:"max_attempts" gorm:"not null;default:3"`
	DeliveryFee          decimal.Decimal      `json:"delivery_fee" gorm:"type:numeric(12,2);not null;default:0"`
	CODAmount            decimal.Decimal      `json:"cod_amount" gorm:"type:numeric(12,2);not null;default:0"`
	CODCollected         bool                 `json:"cod_collected" gorm:"not null;default:false"`
	CODCollectedAt       *time.Time           `json:"cod_collected_at"`
	FailureReason        string               `json:"failure_reason" gorm:"type:text"`
	DeliveryInstructions string               `json:"delivery_instructions" gorm:"type:text"`
	AssignedBy           string               `json:"assigned_by" gorm:"size:36"`
	AssignedAt           time.Time            `json:"assigned_at"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

func (DeliveryAssignment) TableName() string {
	return "mkt_delivery_assignments"
}

// IsCOD 是否货到付款
func (d *DeliveryAssignment) IsCOD() bool {
	return d.CODAmount.IsPositive()
}

// CODPending 货款未收
func (d *DeliveryAssignment) CODPending() bool {
	return d.IsCOD() && !d.CODCollected
}

// DeliveryStatusLog 配送状态日志
type DeliveryStatusLog struct {
	ID           string               `json:"id" gorm:"primaryKey;size:36"`
	AssignmentID DeliveryAssignmentID `json:"assignment_id" gorm:"size:36;not null;index"`
	OldStatus    DeliveryStatus       `json:"old_status" gorm:"size:30"`
	NewStatus    DeliveryStatus       `json:"new_status" gorm:"size:30;not null"`
	Notes        string               `json:"notes" gorm:"type:text"`
	Latitude     *decimal.Decimal     `json:"latitude" gorm:"type:numeric(10,7)"`
	Longitude    *decimal.Decimal     `json:"longitude" gorm:"type:numeric(10,7)"`
	ChangedBy    string               `json:"changed_by" gorm:"size:36"`
	CreatedAt    time.Time            `json:"created_at"`
}

func (DeliveryStatusLog) TableName() string {
	return "mkt_delivery_status_logs"
}

// 签收凭证类型
const (
	ProofPhoto     = "photo"
	ProofSignature = "signature"
	ProofOTP       = "otp"
	ProofDocument  = "document"
)

// ValidProofType 凭证类型校验
func ValidProofType(t string) bool {
	switch t {
	case ProofPhoto, ProofSignature, ProofOTP, ProofDocument:
		return true
	}
	return false
}

// DeliveryProof 签收凭证；文件存对象存储，ObjectKey 为其键
type DeliveryProof struct {
	ID            string               `json:"id" gorm:"primaryKey;size:36"`
	AssignmentID  DeliveryAssignmentID `json:"assignment_id" gorm:"size:36;not null;index"`
	ProofType     string               `json:"proof_type" gorm:"size:20;not null"`
	ProofData     string               `json:"proof_data" gorm:"type:text"`
	ObjectKey     string               `json:"object_key" gorm:"size:500"`
	FileName      string               `json:"file_name" gorm:"size:255"`
	FileSize      int64                `json:"file_size"`
	ContentType   string               `json:"content_type" gorm:"size:100"`
	RecipientName string               `json:"recipient_name" gorm:"size:100"`
	CreatedBy     string               `json:"created_by" gorm:"size:36"`
	CreatedAt     time.Time            `json:"created_at"`
}

func (DeliveryProof) TableName() string {
	return "mkt_delivery_proofs"
}
