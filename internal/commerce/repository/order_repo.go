package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
)

// OrderRepository 主订单、商家订单与佣金记录
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ---- SalesOrder ----

// FindSalesOrder 根据ID查找主订单（含明细）
func (r *OrderRepository) FindSalesOrder(ctx context.Context, id entity.SalesOrderID) (*entity.SalesOrder, error) {
	var so entity.SalesOrder
	if err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&so).Error; err != nil {
		return nil, translate(err, "sales order", id)
	}
	return &so, nil
}

// FindSalesOrderForUpdate 锁定主订单
func (r *OrderRepository) FindSalesOrderForUpdate(ctx context.Context, id entity.SalesOrderID) (*entity.SalesOrder, error) {
	var so entity.SalesOrder
	if err := forUpdate(r.db.WithContext(ctx)).Preload("Items").Where("id = ?", id).First(&so).Error; err != nil {
		return nil, translate(err, "sales order", id)
	}
	return &so, nil
}

// CreateSalesOrder 创建主订单及明细
func (r *OrderRepository) CreateSalesOrder(ctx context.Context, so *entity.SalesOrder) error {
	return translate(r.db.WithContext(ctx).Create(so).Error, "sales order", so.OrderNumber)
}

// SaveSalesOrder 保存主订单头
func (r *OrderRepository) SaveSalesOrder(ctx context.Context, so *entity.SalesOrder) error {
	return r.db.WithContext(ctx).Omit("Items").Save(so).Error
}

// SalesOrderFilter 主订单筛选
type SalesOrderFilter struct {
	CustomerID    entity.CustomerID
	Status        entity.OrderStatus
	PaymentStatus entity.PaymentStatus
	Keyword       string
	Page
}

// FindSalesOrders 查询主订单列表
func (r *OrderRepository) FindSalesOrders(ctx context.Context, f SalesOrderFilter) ([]entity.SalesOrder, int64, error) {
	var items []entity.SalesOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.SalesOrder{})
	if f.CustomerID != "" {
		query = query.Where("customer_id = ?", f.CustomerID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		query = query.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.Keyword != "" {
		query = query.Where("order_number LIKE ?", "%"+f.Keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// CreateSOStatusLog 主订单状态日志
func (r *OrderRepository) CreateSOStatusLog(ctx context.Context, l *entity.SOStatusLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindSOStatusLogs 主订单状态日志
func (r *OrderRepository) FindSOStatusLogs(ctx context.Context, id entity.SalesOrderID) ([]entity.SOStatusLog, error) {
	var logs []entity.SOStatusLog
	err := r.db.WithContext(ctx).Where("sales_order_id = ?", id).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

// ---- VendorOrder ----

func preloadVOItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	})
}

// FindVendorOrder 根据ID查找商家订单（含明细）
func (r *OrderRepository) FindVendorOrder(ctx context.Context, id entity.VendorOrderID) (*entity.VendorOrder, error) {
	var vo entity.VendorOrder
	if err := preloadVOItems(r.db.WithContext(ctx)).Where("id = ?", id).First(&vo).Error; err != nil {
		return nil, translate(err, "vendor order", id)
	}
	return &vo, nil
}

// FindVendorOrderForUpdate 锁定商家订单
func (r *OrderRepository) FindVendorOrderForUpdate(ctx context.Context, id entity.VendorOrderID) (*entity.VendorOrder, error) {
	var vo entity.VendorOrder
	if err := preloadVOItems(forUpdate(r.db.WithContext(ctx))).Where("id = ?", id).First(&vo).Error; err != nil {
		return nil, translate(err, "vendor order", id)
	}
	return &vo, nil
}

// FindVendorOrdersBySalesOrder 主订单下的商家订单
func (r *OrderRepository) FindVendorOrdersBySalesOrder(ctx context.Context, soID entity.SalesOrderID, lock bool) ([]entity.VendorOrder, error) {
	var list []entity.VendorOrder
	db := r.db.WithContext(ctx)
	if lock {
		db = forUpdate(db)
	}
	err := preloadVOItems(db).Where("sales_order_id = ?", soID).Order("id ASC").Find(&list).Error
	return list, err
}

// CreateVendorOrder 创建商家订单及明细
func (r *OrderRepository) CreateVendorOrder(ctx context.Context, vo *entity.VendorOrder) error {
	return translate(r.db.WithContext(ctx).Create(vo).Error, "vendor order", vo.OrderNumber)
}

// SaveVendorOrder 保存商家订单头
func (r *OrderRepository) SaveVendorOrder(ctx context.Context, vo *entity.VendorOrder) error {
	return r.db.WithContext(ctx).Omit("Items").Save(vo).Error
}

// SaveVendorOrderItem 保存商家订单明细
func (r *OrderRepository) SaveVendorOrderItem(ctx context.Context, it *entity.VendorOrderItem) error {
	return r.db.WithContext(ctx).Save(it).Error
}

// FindVendorOrderItem 根据ID查找商家订单明细
func (r *OrderRepository) FindVendorOrderItem(ctx context.Context, id entity.VendorOrderItemID) (*entity.VendorOrderItem, error) {
	var it entity.VendorOrderItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&it).Error; err != nil {
		return nil, translate(err, "vendor order item", id)
	}
	return &it, nil
}

// VendorOrderFilter 商家订单筛选
type VendorOrderFilter struct {
	VendorID     entity.VendorID
	SalesOrderID entity.SalesOrderID
	Status       entity.OrderStatus
	IsSettled    *bool
	Page
}

// FindVendorOrders 查询商家订单列表
func (r *OrderRepository) FindVendorOrders(ctx context.Context, f VendorOrderFilter) ([]entity.VendorOrder, int64, error) {
	var items []entity.VendorOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.VendorOrder{})
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.SalesOrderID != "" {
		query = query.Where("sales_order_id = ?", f.SalesOrderID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.IsSettled != nil {
		query = query.Where("is_settled = ?", *f.IsSettled)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// CreateVOStatusLog 商家订单状态日志
func (r *OrderRepository) CreateVOStatusLog(ctx context.Context, l *entity.VendorOrderStatusLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindVOStatusLogs 商家订单状态日志
func (r *OrderRepository) FindVOStatusLogs(ctx context.Context, id entity.VendorOrderID) ([]entity.VendorOrderStatusLog, error) {
	var logs []entity.VendorOrderStatusLog
	err := r.db.WithContext(ctx).Where("vendor_order_id = ?", id).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

// FindSettleable 锁定周期内已送达、未结算且未关联结算单的商家订单
// 周期按送达时间 [start, end+1天) 计算
func (r *OrderRepository) FindSettleable(ctx context.Context, vendorID entity.VendorID, start, end time.Time) ([]entity.VendorOrder, error) {
	var list []entity.VendorOrder
	err := preloadVOItems(forUpdate(r.db.WithContext(ctx))).
		Where("vendor_id = ? AND status = ? AND is_settled = ? AND settlement_id IS NULL", vendorID, entity.OrderDelivered, false).
		Where("delivered_at >= ? AND delivered_at < ?", start, end.AddDate(0, 0, 1)).
		Order("delivered_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// FindBySettlement 结算单关联的商家订单
func (r *OrderRepository) FindBySettlement(ctx context.Context, settlementID entity.SettlementID) ([]entity.VendorOrder, error) {
	var list []entity.VendorOrder
	err := preloadVOItems(r.db.WithContext(ctx)).
		Where("settlement_id = ?", settlementID).
		Order("delivered_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// LinkSettlement 订单与佣金记录关联结算单
func (r *OrderRepository) LinkSettlement(ctx context.Context, ids []entity.VendorOrderID, settlementID entity.SettlementID) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&entity.VendorOrder{}).Where("id IN ?", ids).
		Update("settlement_id", settlementID).Error; err != nil {
		return err
	}
	return db.Model(&entity.CommissionRecord{}).Where("vendor_order_id IN ?", ids).
		Update("settlement_id", settlementID).Error
}

// UnlinkSettlement 解除关联（结算单取消）
func (r *OrderRepository) UnlinkSettlement(ctx context.Context, settlementID entity.SettlementID) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&entity.VendorOrder{}).Where("settlement_id = ?", settlementID).
		Update("settlement_id", nil).Error; err != nil {
		return err
	}
	return db.Model(&entity.CommissionRecord{}).Where("settlement_id = ?", settlementID).
		Update("settlement_id", nil).Error
}

// MarkSettled 结算单付款后标记订单与佣金已结算
func (r *OrderRepository) MarkSettled(ctx context.Context, settlementID entity.SettlementID, at time.Time) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&entity.VendorOrder{}).Where("settlement_id = ?", settlementID).
		Updates(map[string]any{"is_settled": true, "updated_at": at}).Error; err != nil {
		return err
	}
	return db.Model(&entity.CommissionRecord{}).Where("settlement_id = ?", settlementID).
		Updates(map[string]any{"is_settled": true, "updated_at": at}).Error
}

// ---- CommissionRecord ----

// FindCommission 商家订单的佣金记录
func (r *OrderRepository) FindCommission(ctx context.Context, voID entity.VendorOrderID) (*entity.CommissionRecord, error) {
	var c entity.CommissionRecord
	if err := r.db.WithContext(ctx).Where("vendor_order_id = ?", voID).First(&c).Error; err != nil {
		return nil, translate(err, "commission record", voID)
	}
	return &c, nil
}

// FindCommissionsBySettlement 结算单关联的佣金记录
func (r *OrderRepository) FindCommissionsBySettlement(ctx context.Context, settlementID entity.SettlementID) ([]entity.CommissionRecord, error) {
	var list []entity.CommissionRecord
	err := r.db.WithContext(ctx).Where("settlement_id = ?", settlementID).Find(&list).Error
	return list, err
}

// FindCommissionsByOrders 按商家订单批量查询佣金记录
func (r *OrderRepository) FindCommissionsByOrders(ctx context.Context, ids []entity.VendorOrderID) ([]entity.CommissionRecord, error) {
	var list []entity.CommissionRecord
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).Where("vendor_order_id IN ?", ids).Find(&list).Error
	return list, err
}

// SaveCommission 写入或更新佣金记录
func (r *OrderRepository) SaveCommission(ctx context.Context, c *entity.CommissionRecord) error {
	return translate(r.db.WithContext(ctx).Save(c).Error, "commission record", c.VendorOrderID)
}
