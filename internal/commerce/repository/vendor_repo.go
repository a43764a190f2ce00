package repository

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
)

// VendorRepository 商家与仓库
type VendorRepository struct {
	db *gorm.DB
}

func NewVendorRepository(db *gorm.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// FindByID 根据ID查找商家
func (r *VendorRepository) FindByID(ctx context.Context, id entity.VendorID) (*entity.Vendor, error) {
	var v entity.Vendor
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		return nil, translate(err, "vendor", id)
	}
	return &v, nil
}

// FindByIDs 批量查找商家
func (r *VendorRepository) FindByIDs(ctx context.Context, ids []entity.VendorID) (map[entity.VendorID]*entity.Vendor, error) {
	var list []entity.Vendor
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[entity.VendorID]*entity.Vendor, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

// Create 创建商家
func (r *VendorRepository) Create(ctx context.Context, v *entity.Vendor) error {
	return translate(r.db.WithContext(ctx).Create(v).Error, "vendor", v.ID)
}

// FindWarehouse 根据ID查找仓库
func (r *VendorRepository) FindWarehouse(ctx context.Context, id entity.WarehouseID) (*entity.Warehouse, error) {
	var w entity.Warehouse
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if err != nil {
		return nil, translate(err, "warehouse", id)
	}
	return &w, nil
}

// CreateWarehouse 创建仓库
func (r *VendorRepository) CreateWarehouse(ctx context.Context, w *entity.Warehouse) error {
	return translate(r.db.WithContext(ctx).Create(w).Error, "warehouse", w.Code)
}

// FindByIDForUpdate 锁定商家行，用于串行化账本记账
func (r *VendorRepository) FindByIDForUpdate(ctx context.Context, id entity.VendorID) (*entity.Vendor, error) {
	var v entity.Vendor
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, translate(err, "vendor", id)
	}
	return &v, nil
}
