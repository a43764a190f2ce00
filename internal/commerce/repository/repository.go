package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = apperr.ErrNotFound
)

// Repositories 商城核心仓库集合
type Repositories struct {
	db *gorm.DB

	Vendor     *VendorRepository
	Inventory  *InventoryRepository
	Purchase   *PurchaseOrderRepository
	Order      *OrderRepository
	Delivery   *DeliveryRepository
	Return     *ReturnRepository
	Settlement *SettlementRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:         db,
		Vendor:     NewVendorRepository(db),
		Inventory:  NewInventoryRepository(db),
		Purchase:   NewPurchaseOrderRepository(db),
		Order:      NewOrderRepository(db),
		Delivery:   NewDeliveryRepository(db),
		Return:     NewReturnRepository(db),
		Settlement: NewSettlementRepository(db),
	}
}

// DB 底层连接
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// WithTx 绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

// Transaction 在单个事务中执行，fn 返回错误时整体回滚
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// Page 分页参数
type Page struct {
	Page     int
	PageSize int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	page, size := p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	return q.Offset((page - 1) * size).Limit(size)
}

func forUpdate(q *gorm.DB) *gorm.DB {
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// translate 将 gorm 错误转换为业务错误
func translate(err error, what string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound("%s %v not found", what, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Wrap(apperr.KindConflict, err, what+" already exists")
	}
	return err
}
