package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// VendorStatus 供应商状态
const (
	VendorStatusPending   = "pending"
	VendorStatusApproved  = "approved"
	VendorStatusSuspended = "suspended"
	VendorStatusInactive  = "inactive"
)

// Vendor 入驻商家
type Vendor struct {
	ID                VendorID        `json:"id" gorm:"primaryKey;size:36"`
	StoreName         string          `json:"store_name" gorm:"size:200;not null"`
	StoreSlug         string          `json:"store_slug" gorm:"size:200;uniqueIndex"`
	Email             string          `json:"email" gorm:"size:200"`
	Phone             string          `json:"phone" gorm:"size:30"`
	CommissionRate    decimal.Decimal `json:"commission_rate" gorm:"type:numeric(5,2);not null;default:0"`
	Status            string          `json:"status" gorm:"size:20;not null;default:pending"`
	BankName          string          `json:"bank_name" gorm:"size:100"`
	BankAccountNumber string          `json:"bank_account_number" gorm:"size:50"`
	BankIFSC          string          `json:"bank_ifsc" gorm:"size:20"`
	BankAccountHolder string          `json:"bank_account_holder" gorm:"size:200"`
	UPIID             string          `json:"upi_id" gorm:"size:100"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Vendor) TableName() string {
	return "mkt_vendors"
}

// Warehouse 仓库
type Warehouse struct {
	ID        WarehouseID `json:"id" gorm:"primaryKey;size:36"`
	Code      string      `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Name      string      `json:"name" gorm:"size:200;not null"`
	VendorID  *VendorID   `json:"vendor_id" gorm:"size:36;index"`
	Address   string      `json:"address" gorm:"type:text"`
	IsActive  bool        `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Warehouse) TableName() string {
	return "mkt_warehouses"
}
