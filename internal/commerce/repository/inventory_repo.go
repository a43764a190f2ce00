package repository

import (
	"context"
	"sort"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryRepository 库存台账仓库
type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// FindByID 根据ID查找库存记录
func (r *InventoryRepository) FindByID(ctx context.Context, id entity.InventoryID) (*entity.InventoryRecord, error) {
	var rec entity.InventoryRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err, "inventory record", id)
	}
	return &rec, nil
}

// FindByIDForUpdate 加行锁读取库存记录，须在事务内调用
func (r *InventoryRepository) FindByIDForUpdate(ctx context.Context, id entity.InventoryID) (*entity.InventoryRecord, error) {
	var rec entity.InventoryRecord
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err, "inventory record", id)
	}
	return &rec, nil
}

// LockMany 按ID升序逐行加锁，避免交叉死锁
func (r *InventoryRepository) LockMany(ctx context.Context, ids ...entity.InventoryID) (map[entity.InventoryID]*entity.InventoryRecord, error) {
	sorted := append([]entity.InventoryID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[entity.InventoryID]*entity.InventoryRecord, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		rec, err := r.FindByIDForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

func keyQuery(q *gorm.DB, k entity.InventoryKey) *gorm.DB {
	return q.Where("product_id = ? AND variant_id = ? AND warehouse_id = ? AND vendor_id = ? AND batch_number = ?",
		k.ProductID, k.VariantID, k.WarehouseID, k.VendorID, k.BatchNumber)
}

// FindByKey 按唯一键查找
func (r *InventoryRepository) FindByKey(ctx context.Context, k entity.InventoryKey) (*entity.InventoryRecord, error) {
	var rec entity.InventoryRecord
	if err := keyQuery(r.db.WithContext(ctx), k).First(&rec).Error; err != nil {
		return nil, translate(err, "inventory record", k.ProductID)
	}
	return &rec, nil
}

// Ensure 按唯一键取记录，不存在时以 tpl 创建（数量为0）；不加锁
// 返回值 created 表示本次是否新建
func (r *InventoryRepository) Ensure(ctx context.Context, tpl *entity.InventoryRecord) (rec *entity.InventoryRecord, created bool, err error) {
	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(tpl)
	if res.Error != nil {
		return nil, false, translate(res.Error, "inventory record", tpl.ProductID)
	}
	var out entity.InventoryRecord
	if err := keyQuery(db, tpl.Key()).First(&out).Error; err != nil {
		return nil, false, translate(err, "inventory record", tpl.ProductID)
	}
	return &out, res.RowsAffected > 0, nil
}

// Create 创建库存记录
func (r *InventoryRepository) Create(ctx context.Context, rec *entity.InventoryRecord) error {
	return translate(r.db.WithContext(ctx).Create(rec).Error, "inventory record", rec.ProductID)
}

// SaveQuantities 持久化数量与状态
func (r *InventoryRepository) SaveQuantities(ctx context.Context, rec *entity.InventoryRecord) error {
	return r.db.WithContext(ctx).Model(rec).Updates(map[string]any{
		"quantity":          rec.Quantity,
		"reserved_quantity": rec.ReservedQuantity,
		"stock_status":      rec.StockStatus,
		"updated_at":        rec.UpdatedAt,
	}).Error
}

// CreateMovement 追加库存移动记录
func (r *InventoryRepository) CreateMovement(ctx context.Context, m *entity.InventoryMovement) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// InventoryFilter 库存列表筛选
type InventoryFilter struct {
	VendorID    entity.VendorID
	WarehouseID entity.WarehouseID
	ProductID   entity.ProductID
	StockStatus entity.StockStatus
	Keyword     string
	Page
}

// FindAll 查询库存列表
func (r *InventoryRepository) FindAll(ctx context.Context, f InventoryFilter) ([]entity.InventoryRecord, int64, error) {
	var items []entity.InventoryRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.InventoryRecord{})
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.WarehouseID != "" {
		query = query.Where("warehouse_id = ?", f.WarehouseID)
	}
	if f.ProductID != "" {
		query = query.Where("product_id = ?", f.ProductID)
	}
	if f.StockStatus != "" {
		query = query.Where("stock_status = ?", f.StockStatus)
	}
	if f.Keyword != "" {
		kw := "%" + f.Keyword + "%"
		query = query.Where("sku LIKE ? OR product_name LIKE ?", kw, kw)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// FindAlerts 低库存与缺货记录
func (r *InventoryRepository) FindAlerts(ctx context.Context, vendorID entity.VendorID) ([]entity.InventoryRecord, error) {
	var items []entity.InventoryRecord
	query := r.db.WithContext(ctx).
		Where("stock_status IN ?", []entity.StockStatus{entity.StockLowStock, entity.StockOutOfStock})
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	err := query.Order("quantity ASC").Find(&items).Error
	return items, err
}

// MovementFilter 移动记录筛选
type MovementFilter struct {
	InventoryID   entity.InventoryID
	VendorID      entity.VendorID
	MovementType  entity.MovementType
	ReferenceType string
	ReferenceID   string
	From          *time.Time
	To            *time.Time
	Page
}

// FindMovements 查询库存移动记录（按时间倒序）
func (r *InventoryRepository) FindMovements(ctx context.Context, f MovementFilter) ([]entity.InventoryMovement, int64, error) {
	var items []entity.InventoryMovement
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.InventoryMovement{})
	if f.InventoryID != "" {
		query = query.Where("inventory_id = ?", f.InventoryID)
	}
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.MovementType != "" {
		query = query.Where("movement_type = ?", f.MovementType)
	}
	if f.ReferenceType != "" {
		query = query.Where("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		query = query.Where("reference_id = ?", f.ReferenceID)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at < ?", *f.To)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC, id").Find(&items).Error
	return items, total, err
}
