package repository

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
)

// PurchaseOrderRepository 采购订单仓库
type PurchaseOrderRepository struct {
	db *gorm.DB
}

func NewPurchaseOrderRepository(db *gorm.DB) *PurchaseOrderRepository {
	return &PurchaseOrderRepository{db: db}
}

func preloadPOItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	})
}

// FindByID 根据ID查找采购订单（含行项）
func (r *PurchaseOrderRepository) FindByID(ctx context.Context, id entity.PurchaseOrderID) (*entity.PurchaseOrder, error) {
	var po entity.PurchaseOrder
	if err := preloadPOItems(r.db.WithContext(ctx)).Where("id = ?", id).First(&po).Error; err != nil {
		return nil, translate(err, "purchase order", id)
	}
	return &po, nil
}

// FindByIDForUpdate 锁定订单头后读取行项
func (r *PurchaseOrderRepository) FindByIDForUpdate(ctx context.Context, id entity.PurchaseOrderID) (*entity.PurchaseOrder, error) {
	var po entity.PurchaseOrder
	if err := preloadPOItems(forUpdate(r.db.WithContext(ctx))).Where("id = ?", id).First(&po).Error; err != nil {
		return nil, translate(err, "purchase order", id)
	}
	return &po, nil
}

// Create 创建采购订单及行项
func (r *PurchaseOrderRepository) Create(ctx context.Context, po *entity.PurchaseOrder) error {
	return translate(r.db.WithContext(ctx).Create(po).Error, "purchase order", po.PONumber)
}

// Save 保存订单头（不级联行项）
func (r *PurchaseOrderRepository) Save(ctx context.Context, po *entity.PurchaseOrder) error {
	return r.db.WithContext(ctx).Omit("Items").Save(po).Error
}

// SaveItem 保存单个行项
func (r *PurchaseOrderRepository) SaveItem(ctx context.Context, it *entity.POItem) error {
	return r.db.WithContext(ctx).Save(it).Error
}

// ReplaceItems 删除旧行项并写入新行项
func (r *PurchaseOrderRepository) ReplaceItems(ctx context.Context, id entity.PurchaseOrderID, items []entity.POItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("purchase_order_id = ?", id).Delete(&entity.POItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(&items).Error
}

// POFilter 采购订单筛选
type POFilter struct {
	VendorID    entity.VendorID
	WarehouseID entity.WarehouseID
	Status      entity.POStatus
	Keyword     string
	Page
}

// FindAll 查询采购订单列表
func (r *PurchaseOrderRepository) FindAll(ctx context.Context, f POFilter) ([]entity.PurchaseOrder, int64, error) {
	var items []entity.PurchaseOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.PurchaseOrder{})
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.WarehouseID != "" {
		query = query.Where("warehouse_id = ?", f.WarehouseID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Keyword != "" {
		kw := "%" + f.Keyword + "%"
		query = query.Where("po_number LIKE ? OR supplier_name LIKE ?", kw, kw)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(preloadPOItems(query)).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// CreateStatusLog 追加状态日志
func (r *PurchaseOrderRepository) CreateStatusLog(ctx context.Context, l *entity.POStatusLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindStatusLogs 状态日志（按时间正序）
func (r *PurchaseOrderRepository) FindStatusLogs(ctx context.Context, id entity.PurchaseOrderID) ([]entity.POStatusLog, error) {
	var logs []entity.POStatusLog
	err := r.db.WithContext(ctx).Where("purchase_order_id = ?", id).Order("created_at ASC").Find(&logs).Error
	return logs, err
}
