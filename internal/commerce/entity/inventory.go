package entity

import (
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/shopspring/decimal"
)

// StockStatus 库存状态
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLowStock   StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
)

// MovementType 库存移动类型
type MovementType string

const (
	MovementInward     MovementType = "inward"
	MovementOutward    MovementType = "outward"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
	MovementReserved   MovementType = "reserved"
	MovementUnreserved MovementType = "unreserved"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementLoss       MovementType = "loss"
)

// ValidMovementType 是否为已知移动类型
func ValidMovementType(t MovementType) bool {
	switch t {
	case MovementInward, MovementOutward, MovementTransfer, MovementAdjustment,
		MovementReserved, MovementUnreserved, MovementReturn, MovementDamage, MovementLoss:
		return true
	}
	return false
}

// 引用类型
const (
	RefPurchaseOrderItem = "purchase_order_item"
	RefSalesOrder        = "sales_order"
	RefVendorOrder       = "vendor_order"
	RefReturnRequest     = "return_request"
	RefTransfer          = "transfer"
	RefManual            = "manual"
	RefImport            = "import"
)

// DefaultLowStockThreshold 默认低库存阈值
const DefaultLowStockThreshold = 10

// InventoryKey 库存记录唯一键
type InventoryKey struct {
	ProductID   ProductID
	VariantID   string
	WarehouseID WarehouseID
	VendorID    VendorID
	BatchNumber string
}

// InventoryRecord 库存记录（商品/规格/批次 @ 仓库，归属供应商）
type InventoryRecord struct {
	ID                InventoryID     `json:"id" gorm:"primaryKey;size:36"`
	ProductID         ProductID       `json:"product_id" gorm:"size:36;not null;uniqueIndex:uk_mkt_inventory_key,priority:1"`
	VariantID         string          `json:"variant_id" gorm:"size:36;not null;default:'';uniqueIndex:uk_mkt_inventory_key,priority:2"`
	WarehouseID       WarehouseID     `json:"warehouse_id" gorm:"size:36;not null;index;uniqueIndex:uk_mkt_inventory_key,priority:3"`
	VendorID          VendorID        `json:"vendor_id" gorm:"size:36;not null;index;uniqueIndex:uk_mkt_inventory_key,priority:4"`
	BatchNumber       string          `json:"batch_number" gorm:"size:100;not null;default:'';uniqueIndex:uk_mkt_inventory_key,priority:5"`
	LocationID        string          `json:"location_id" gorm:"size:36"`
	ProductName       string          `json:"product_name" gorm:"size:255"`
	SKU               string          `json:"sku" gorm:"size:100"`
	SerialNumber      string          `json:"serial_number" gorm:"size:100"`
	ManufacturingDate *time.Time      `json:"manufacturing_date"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
	Quantity          int             `json:"quantity" gorm:"not null;default:0"`
	ReservedQuantity  int             `json:"reserved_quantity" gorm:"not null;default:0"`
	LowStockThreshold int             `json:"low_stock_threshold" gorm:"not null;default:10"`
	BuyPrice          decimal.Decimal `json:"buy_price" gorm:"type:numeric(12,2);not null;default:0"`
	SellPrice         decimal.Decimal `json:"sell_price" gorm:"type:numeric(12,2);not null;default:0"`
	MRP               decimal.Decimal `json:"mrp" gorm:"type:numeric(12,2);not null;default:0"`
	StockStatus       StockStatus     `json:"stock_status" gorm:"size:20;not null;default:out_of_stock;index"`
	InwardType        string          `json:"inward_type" gorm:"size:30"`
	CreatedBy         string          `json:"created_by" gorm:"size:36"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (InventoryRecord) TableName() string {
	return "mkt_inventory"
}

// Key 唯一键
func (r *InventoryRecord) Key() InventoryKey {
	return InventoryKey{
		ProductID:   r.ProductID,
		VariantID:   r.VariantID,
		WarehouseID: r.WarehouseID,
		VendorID:    r.VendorID,
		BatchNumber: r.BatchNumber,
	}
}

// Available 可用数量
func (r *InventoryRecord) Available() int {
	return r.Quantity - r.ReservedQuantity
}

// RefreshStockStatus 根据数量与阈值重算库存状态
func (r *InventoryRecord) RefreshStockStatus() {
	switch {
	case r.Quantity <= 0:
		r.StockStatus = StockOutOfStock
	case r.Quantity <= r.LowStockThreshold:
		r.StockStatus = StockLowStock
	default:
		r.StockStatus = StockInStock
	}
}

func (r *InventoryRecord) movement(t MovementType, qtyDelta, reservedDelta int) *InventoryMovement {
	m := &InventoryMovement{
		InventoryID:    r.ID,
		ProductID:      r.ProductID,
		WarehouseID:    r.WarehouseID,
		VendorID:       r.VendorID,
		MovementType:   t,
		Quantity:       qtyDelta,
		ReservedChange: reservedDelta,
		QuantityBefore: r.Quantity,
		ReservedBefore: r.ReservedQuantity,
	}
	r.Quantity += qtyDelta
	r.ReservedQuantity += reservedDelta
	m.QuantityAfter = r.Quantity
	m.ReservedAfter = r.ReservedQuantity
	r.RefreshStockStatus()
	return m
}

// Reserve 预留库存，不改变在库数量
func (r *InventoryRecord) Reserve(qty int) (*InventoryMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("reserve quantity must be positive, got %d", qty)
	}
	if qty > r.Available() {
		return nil, apperr.InsufficientInventory(qty, r.Available())
	}
	return r.movement(MovementReserved, 0, qty), nil
}

// Unreserve 释放预留，超出部分截断为0；无实际释放时返回 nil
func (r *InventoryRecord) Unreserve(qty int) (*InventoryMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("unreserve quantity must be positive, got %d", qty)
	}
	release := qty
	if release > r.ReservedQuantity {
		release = r.ReservedQuantity
	}
	if release == 0 {
		return nil, nil
	}
	return r.movement(MovementUnreserved, 0, -release), nil
}

// Adjust 盘点调整；结果不能为负，也不能低于已预留数量
func (r *InventoryRecord) Adjust(delta int, t MovementType) (*InventoryMovement, error) {
	if delta == 0 {
		return nil, apperr.Validation("adjustment delta must not be zero")
	}
	switch t {
	case "":
		t = MovementAdjustment
	case MovementAdjustment, MovementDamage, MovementLoss:
	default:
		return nil, apperr.Validation("invalid adjustment type %q", t)
	}
	if (t == MovementDamage || t == MovementLoss) && delta > 0 {
		return nil, apperr.Validation("%s adjustment must decrease quantity", t)
	}
	next := r.Quantity + delta
	if next < 0 {
		return nil, apperr.Validation("adjustment would make quantity negative: %d%+d", r.Quantity, delta)
	}
	if next < r.ReservedQuantity {
		return nil, apperr.InsufficientInventory(-delta, r.Available())
	}
	return r.movement(t, delta, 0), nil
}

// Inward 入库（采购收货、调拨入、退货入）
func (r *InventoryRecord) Inward(qty int, t MovementType) (*InventoryMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("inward quantity must be positive, got %d", qty)
	}
	if t == "" {
		t = MovementInward
	}
	return r.movement(t, qty, 0), nil
}

// Outward 出库可用库存（调拨出），不动用已预留部分
func (r *InventoryRecord) Outward(qty int) (*InventoryMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("outward quantity must be positive, got %d", qty)
	}
	if qty > r.Available() {
		return nil, apperr.InsufficientInventory(qty, r.Available())
	}
	return r.movement(MovementOutward, -qty, 0), nil
}

// Consume 发货出库：扣减在库数量并核销同等预留
func (r *InventoryRecord) Consume(qty int) (*InventoryMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("consume quantity must be positive, got %d", qty)
	}
	if qty > r.Quantity {
		return nil, apperr.InsufficientInventory(qty, r.Quantity)
	}
	fromReserved := qty
	if fromReserved > r.ReservedQuantity {
		fromReserved = r.ReservedQuantity
	}
	if qty-fromReserved > r.Available() {
		return nil, apperr.InsufficientInventory(qty-fromReserved, r.Available())
	}
	return r.movement(MovementOutward, -qty, -fromReserved), nil
}

// InventoryMovement 库存移动记录（只追加）
// Quantity 为在库数量变化，ReservedChange 为预留数量变化；
// 同一记录所有移动的 Quantity 之和等于当前在库数量。
type InventoryMovement struct {
	ID             string       `json:"id" gorm:"primaryKey;size:36"`
	InventoryID    InventoryID  `json:"inventory_id" gorm:"size:36;not null;index"`
	ProductID      ProductID    `json:"product_id" gorm:"size:36;not null;index"`
	WarehouseID    WarehouseID  `json:"warehouse_id" gorm:"size:36;not null;index"`
	VendorID       VendorID     `json:"vendor_id" gorm:"size:36;not null;index"`
	MovementType   MovementType `json:"movement_type" gorm:"size:20;not null;index"`
	Quantity       int          `json:"quantity" gorm:"not null"`
	ReservedChange int          `json:"reserved_change" gorm:"not null;default:0"`
	QuantityBefore int          `json:"quantity_before" gorm:"not null"`
	QuantityAfter  int          `json:"quantity_after" gorm:"not null"`
	ReservedBefore int          `json:"reserved_before" gorm:"not null;default:0"`
	ReservedAfter  int          `json:"reserved_after" gorm:"not null;default:0"`
	ReferenceType  string       `json:"reference_type" gorm:"size:50;index:idx_mkt_movement_ref,priority:1"`
	ReferenceID    string       `json:"reference_id" gorm:"size:36;index:idx_mkt_movement_ref,priority:2"`
	Notes          string       `json:"notes" gorm:"type:text"`
	CreatedBy      string       `json:"created_by" gorm:"size:36"`
	CreatedAt      time.Time    `json:"created_at" gorm:"index"`
}

func (InventoryMovement) TableName() string {
	return "mkt_inventory_movements"
}

// Ref 设置引用与备注
func (m *InventoryMovement) Ref(refType, refID, notes string) *InventoryMovement {
	m.ReferenceType = refType
	m.ReferenceID = refID
	m.Notes = notes
	return m
}
