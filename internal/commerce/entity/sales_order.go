package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/shopspring/decimal"
)

// OrderStatus 销售订单/商家订单状态
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderProcessing     OrderStatus = "processing"
	OrderPacked         OrderStatus = "packed"
	OrderReadyForPickup OrderStatus = "ready_for_pickup"
	OrderShipped        OrderStatus = "shipped"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderDeliveryFailed OrderStatus = "delivery_failed"
	OrderCompleted      OrderStatus = "completed"
	OrderRefunded       OrderStatus = "refunded"
	OrderCancelled      OrderStatus = "cancelled"
)

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentPartial    PaymentStatus = "partial"
)

// PaymentMethodCOD 货到付款
const PaymentMethodCOD = "cod"

// 折扣类型
const (
	DiscountPercentage = "percentage"
	DiscountAmount     = "amount"
)

// Address 地址快照（以JSON文本存储）
type Address struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Country  string `json:"country,omitempty"`
	Landmark string `json:"landmark,omitempty"`
}

func (a Address) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return fmt.Errorf("address: unsupported scan type %T", src)
}

// LinePricing 行金额：小计、折扣、税、合计
type LinePricing struct {
	UnitPrice      decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	DiscountType   string          `json:"discount_type" gorm:"size:20"`
	DiscountValue  decimal.Decimal `json:"discount_value" gorm:"type:numeric(12,2);not null;default:0"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TaxPercentage  decimal.Decimal `json:"tax_percentage" gorm:"type:numeric(5,2);not null;default:0"`
	TaxAmount      decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null;default:0"`
	Total          decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null;default:0"`
}

// Calculate 按数量计算行金额；金额折扣不超过小计
func (p *LinePricing) Calculate(qty int) {
	p.Subtotal = money.Mul(p.UnitPrice, qty)
	switch p.DiscountType {
	case DiscountPercentage:
		p.DiscountAmount = money.Percent(p.Subtotal, p.DiscountValue)
	case DiscountAmount:
		p.DiscountAmount = money.Round(p.DiscountValue)
	default:
		p.DiscountAmount = decimal.Zero
	}
	if p.DiscountAmount.GreaterThan(p.Subtotal) {
		p.DiscountAmount = p.Subtotal
	}
	p.TaxAmount = money.Percent(p.Subtotal.Sub(p.DiscountAmount), p.TaxPercentage)
	p.Total = p.Subtotal.Sub(p.DiscountAmount).Add(p.TaxAmount)
}

// SalesOrder 客户主订单（支付与收货单元）
type SalesOrder struct {
	ID                 SalesOrderID    `json:"id" gorm:"primaryKey;size:36"`
	OrderNumber        string          `json:"order_number" gorm:"size:50;uniqueIndex;not null"`
	CustomerID         CustomerID      `json:"customer_id" gorm:"size:36;not null;index"`
	OrderDate          time.Time       `json:"order_date"`
	OrderSource        string          `json:"order_source" gorm:"size:30;not null;default:web"`
	Status             OrderStatus     `json:"status" gorm:"size:30;not null;default:pending;index"`
	PaymentStatus      PaymentStatus   `json:"payment_status" gorm:"size:30;not null;default:pending"`
	PaymentMethod      string          `json:"payment_method" gorm:"size:50"`
	ShippingAddress    Address         `json:"shipping_address" gorm:"type:text"`
	BillingAddress     Address         `json:"billing_address" gorm:"type:text"`
	CouponCode         string          `json:"coupon_code" gorm:"size:50"`
	Subtotal           decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null;default:0"`
	DiscountAmount     decimal.Decimal `json:"discount_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TaxAmount          decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	ShippingAmount     decimal.Decimal `json:"shipping_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TotalAmount        decimal.Decimal `json:"total_amount" gorm:"type:numeric(12,2);not null;default:0"`
	CustomerNotes      string          `json:"customer_notes" gorm:"type:text"`
	ConfirmedBy        string          `json:"confirmed_by" gorm:"size:36"`
	ConfirmedAt        *time.Time      `json:"confirmed_at"`
	ActualDeliveryDate *time.Time      `json:"actual_delivery_date"`
	CancelledBy        string          `json:"cancelled_by" gorm:"size:36"`
	CancelledAt        *time.Time      `json:"cancelled_at"`
	CancellationReason string          `json:"cancellation_reason" gorm:"type:text"`
	CreatedBy          string          `json:"created_by" gorm:"size:36"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	Items []SalesOrderItem `json:"items,omitempty" gorm:"foreignKey:SalesOrderID"`
}

func (SalesOrder) TableName() string {
	return "mkt_sales_orders"
}

// AggregateTotals 由各商家订单汇总主订单金额
func (so *SalesOrder) AggregateTotals(vendorOrders []VendorOrder) {
	var subtotal, discount, tax, shipping, total decimal.Decimal
	for _, vo := range vendorOrders {
		subtotal = subtotal.Add(vo.Subtotal)
		discount = discount.Add(vo.DiscountAmount)
		tax = tax.Add(vo.TaxAmount)
		shipping = shipping.Add(vo.ShippingAmount)
		total = total.Add(vo.TotalAmount)
	}
	so.Subtotal = subtotal
	so.DiscountAmount = discount
	so.TaxAmount = tax
	so.ShippingAmount = shipping
	so.TotalAmount = total
}

// SalesOrderItem 主订单明细（客户视角快照）
type SalesOrderItem struct {
	ID                SalesOrderItemID  `json:"id" gorm:"primaryKey;size:36"`
	SalesOrderID      SalesOrderID      `json:"sales_order_id" gorm:"size:36;not null;index"`
	VendorID          VendorID          `json:"vendor_id" gorm:"size:36;not null"`
	VendorOrderItemID VendorOrderItemID `json:"vendor_order_item_id" gorm:"size:36"`
	InventoryID       InventoryID       `json:"inventory_id" gorm:"size:36"`
	ProductID         ProductID         `json:"product_id" gorm:"size:36;not null"`
	VariantID         string            `json:"variant_id" gorm:"size:36"`
	ProductName       string            `json:"product_name" gorm:"size:255"`
	SKU               string            `json:"sku" gorm:"size:100"`
	QuantityOrdered   int               `json:"quantity_ordered" gorm:"not null"`
	QuantityCancelled int               `json:"quantity_cancelled" gorm:"not null;default:0"`
	LinePricing
	CreatedAt time.Time `json:"created_at"`
}

func (SalesOrderItem) TableName() string {
	return "mkt_so_items"
}

// SOStatusLog 主订单状态日志
type SOStatusLog struct {
	ID           string       `json:"id" gorm:"primaryKey;size:36"`
	SalesOrderID SalesOrderID `json:"sales_order_id" gorm:"size:36;not null;index"`
	OldStatus    OrderStatus  `json:"old_status" gorm:"size:30"`
	NewStatus    OrderStatus  `json:"new_status" gorm:"size:30;not null"`
	Notes        string       `json:"notes" gorm:"type:text"`
	ChangedBy    string       `json:"changed_by" gorm:"size:36"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (SOStatusLog) TableName() string {
	return "mkt_so_status_logs"
}

// VendorOrder 商家子订单（按商家拆分的履约单元）
type VendorOrder struct {
	ID                   VendorOrderID         `json:"id" gorm:"primaryKey;size:36"`
	OrderNumber          string                `json:"order_number" gorm:"size:60;uniqueIndex;not null"`
	SalesOrderID         SalesOrderID          `json:"sales_order_id" gorm:"size:36;not null;index"`
	VendorID             VendorID              `json:"vendor_id" gorm:"size:36;not null;index:idx_mkt_vo_vendor_status,priority:1"`
	Status               OrderStatus           `json:"status" gorm:"size:30;not null;default:pending;index:idx_mkt_vo_vendor_status,priority:2"`
	Subtotal             decimal.Decimal       `json:"subtotal" gorm:"type:numeric(12,2);not null;default:0"`
	DiscountAmount       decimal.Decimal       `json:"discount_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TaxAmount            decimal.Decimal       `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	ShippingAmount       decimal.Decimal       `json:"shipping_amount" gorm:"type:numeric(12,2);not null;default:0"`
	TotalAmount          decimal.Decimal       `json:"total_amount" gorm:"type:numeric(12,2);not null;default:0"`
	CommissionRate       decimal.Decimal       `json:"commission_rate" gorm:"type:numeric(5,2);not null;default:0"`
	CommissionAmount     decimal.Decimal       `json:"commission_amount" gorm:"type:numeric(12,2);not null;default:0"`
	VendorEarning        decimal.Decimal       `json:"vendor_earning" gorm:"type:numeric(12,2);not null;default:0"`
	PaymentStatus        PaymentStatus         `json:"payment_status" gorm:"size:30;not null;default:pending"`
	IsSettled            bool                  `json:"is_settled" gorm:"not null;default:false;index"`
	SettlementID         *SettlementID         `json:"settlement_id" gorm:"size:36;index"`
	DeliveryAssignmentID *DeliveryAssignmentID `json:"delivery_assignment_id" gorm:"size:36"`
	PackedAt             *time.Time            `json:"packed_at"`
	ShippedAt            *time.Time            `json:"shipped_at"`
	DeliveredAt          *time.Time            `json:"delivered_at" gorm:"index"`
	CancelledAt          *time.Time            `json:"cancelled_at"`
	CancellationReason   string                `json:"cancellation_reason" gorm:"type:text"`
	VendorNotes          string                `json:"vendor_notes" gorm:"type:text"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`

	Items []VendorOrderItem `json:"items,omitempty" gorm:"foreignKey:VendorOrderID"`
}

func (VendorOrder) TableName() string {
	return "mkt_vendor_orders"
}

// CalculateTotals 重算商家订单金额与佣金
// 行合计已含税，订单合计 = Σ行合计 - 订单折扣 + 运费
func (vo *VendorOrder) CalculateTotals() {
	subtotal, tax := decimal.Zero, decimal.Zero
	for i := range vo.Items {
		it := &vo.Items[i]
		it.Calculate(it.QuantityOrdered)
		it.CommissionRate = vo.CommissionRate
		it.CommissionAmount = money.Percent(it.Total, vo.CommissionRate)
		subtotal = subtotal.Add(it.Total)
		tax = tax.Add(it.TaxAmount)
	}
	vo.Subtotal = subtotal
	vo.TaxAmount = tax
	vo.TotalAmount = subtotal.Sub(vo.DiscountAmount).Add(vo.ShippingAmount)
	vo.CommissionAmount = money.Percent(vo.TotalAmount, vo.CommissionRate)
	vo.VendorEarning = vo.TotalAmount.Sub(vo.CommissionAmount)
}

// ItemByID 查找明细
func (vo *VendorOrder) ItemByID(id VendorOrderItemID) *VendorOrderItem {
	for i := range vo.Items {
		if vo.Items[i].ID == id {
			return &vo.Items[i]
		}
	}
	return nil
}

// VendorOrderItem 商家订单明细
type VendorOrderItem struct {
	ID                VendorOrderItemID `json:"id" gorm:"primaryKey;size:36"`
	VendorOrderID     VendorOrderID     `json:"vendor_order_id" gorm:"size:36;not null;index"`
	SalesOrderItemID  SalesOrderItemID  `json:"sales_order_item_id" gorm:"size:36"`
	InventoryID       InventoryID       `json:"inventory_id" gorm:"size:36;index"`
	ProductID         ProductID         `json:"product_id" gorm:"size:36;not null"`
	VariantID         string            `json:"variant_id" gorm:"size:36"`
	ProductName       string            `json:"product_name" gorm:"size:255"`
	SKU               string            `json:"sku" gorm:"size:100"`
	QuantityOrdered   int               `json:"quantity_ordered" gorm:"not null"`
	QuantityReserved  int               `json:"quantity_reserved" gorm:"not null;default:0"`
	QuantityPacked    int               `json:"quantity_packed" gorm:"not null;default:0"`
	QuantityShipped   int               `json:"quantity_shipped" gorm:"not null;default:0"`
	QuantityDelivered int               `json:"quantity_delivered" gorm:"not null;default:0"`
	QuantityCancelled int               `json:"quantity_cancelled" gorm:"not null;default:0"`
	QuantityReturned  int               `json:"quantity_returned" gorm:"not null;default:0"`
	CostPrice         decimal.Decimal   `json:"cost_price" gorm:"type:numeric(12,2);not null;default:0"`
	LinePricing
	CommissionRate   decimal.Decimal `json:"commission_rate" gorm:"type:numeric(5,2);not null;default:0"`
	CommissionAmount decimal.Decimal `json:"commission_amount" gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (VendorOrderItem) TableName() string {
	return "mkt_vendor_order_items"
}

// Returnable 可退数量
func (it *VendorOrderItem) Returnable() int {
	return it.QuantityDelivered - it.QuantityReturned
}

// VendorOrderStatusLog 商家订单状态日志
type VendorOrderStatusLog struct {
	ID            string        `json:"id" gorm:"primaryKey;size:36"`
	VendorOrderID VendorOrderID `json:"vendor_order_id" gorm:"size:36;not null;index"`
	OldStatus     OrderStatus   `json:"old_status" gorm:"size:30"`
	NewStatus     OrderStatus   `json:"new_status" gorm:"size:30;not null"`
	Notes         string        `json:"notes" gorm:"type:text"`
	ChangedBy     string        `json:"changed_by" gorm:"size:36"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (VendorOrderStatusLog) TableName() string {
	return "mkt_vendor_order_status_logs"
}

// DefaultCommissionTaxRate 佣金税率（%）
var DefaultCommissionTaxRate = decimal.NewFromInt(18)

// CommissionRecord 佣金快照，与商家订单一一对应
type CommissionRecord struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	VendorID         VendorID        `json:"vendor_id" gorm:"size:36;not null;index"`
	VendorOrderID    VendorOrderID   `json:"vendor_order_id" gorm:"size:36;not null;uniqueIndex"`
	SettlementID     *SettlementID   `json:"settlement_id" gorm:"size:36;index"`
	OrderAmount      decimal.Decimal `json:"order_amount" gorm:"type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal `json:"commission_rate" gorm:"type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal `json:"commission_amount" gorm:"type:numeric(12,2);not null"`
	TaxRate          decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null;default:18"`
	TaxAmount        decimal.Decimal `json:"tax_amount" gorm:"type:numeric(12,2);not null;default:0"`
	IsSettled        bool            `json:"is_settled" gorm:"not null;default:false"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (CommissionRecord) TableName() string {
	return "mkt_commission_records"
}

// Snapshot 由商家订单当前金额刷新佣金记录
func (c *CommissionRecord) Snapshot(vo *VendorOrder) {
	c.VendorID = vo.VendorID
	c.VendorOrderID = vo.ID
	c.OrderAmount = vo.TotalAmount
	c.CommissionRate = vo.CommissionRate
	c.CommissionAmount = vo.CommissionAmount
	if c.TaxRate.IsZero() {
		c.TaxRate = DefaultCommissionTaxRate
	}
	c.TaxAmount = money.Percent(vo.CommissionAmount, c.TaxRate)
}
