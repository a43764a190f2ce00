package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
)

// ReturnRepository 退货单仓库
type ReturnRepository struct {
	db *gorm.DB
}

func NewReturnRepository(db *gorm.DB) *ReturnRepository {
	return &ReturnRepository{db: db}
}

func preloadReturnItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, id ASC")
	})
}

// FindByID 根据ID查找退货单（含明细）
func (r *ReturnRepository) FindByID(ctx context.Context, id entity.ReturnRequestID) (*entity.ReturnRequest, error) {
	var rr entity.ReturnRequest
	if err := preloadReturnItems(r.db.WithContext(ctx)).Where("id = ?", id).First(&rr).Error; err != nil {
		return nil, translate(err, "return request", id)
	}
	return &rr, nil
}

// FindByIDForUpdate 锁定退货单
func (r *ReturnRepository) FindByIDForUpdate(ctx context.Context, id entity.ReturnRequestID) (*entity.ReturnRequest, error) {
	var rr entity.ReturnRequest
	if err := preloadReturnItems(forUpdate(r.db.WithContext(ctx))).Where("id = ?", id).First(&rr).Error; err != nil {
		return nil, translate(err, "return request", id)
	}
	return &rr, nil
}

// Create 创建退货单及明细
func (r *ReturnRepository) Create(ctx context.Context, rr *entity.ReturnRequest) error {
	return translate(r.db.WithContext(ctx).Create(rr).Error, "return request", rr.RMANumber)
}

// Save 保存退货单头
func (r *ReturnRepository) Save(ctx context.Context, rr *entity.ReturnRequest) error {
	return r.db.WithContext(ctx).Omit("Items").Save(rr).Error
}

// SaveItems 保存明细
func (r *ReturnRepository) SaveItems(ctx context.Context, items []entity.ReturnItem) error {
	db := r.db.WithContext(ctx)
	for i := range items {
		if err := db.Save(&items[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// PendingQuantity 商家订单明细在未结束退货单中的申请数量
func (r *ReturnRepository) PendingQuantity(ctx context.Context, voItemID entity.VendorOrderItemID) (int, error) {
	var qty int
	err := r.db.WithContext(ctx).
		Model(&entity.ReturnItem{}).
		Joins("JOIN mkt_return_requests rr ON rr.id = mkt_return_items.return_request_id").
		Where("mkt_return_items.vendor_order_item_id = ?", voItemID).
		Where("rr.status NOT IN ?", []entity.ReturnStatus{
			entity.ReturnRejected, entity.ReturnCancelled, entity.ReturnCompleted,
			entity.ReturnInspectionFailed, entity.ReturnRefundCompleted,
		}).
		Select("COALESCE(SUM(mkt_return_items.quantity_requested), 0)").
		Scan(&qty).Error
	return qty, err
}

// ReturnFilter 退货单筛选
type ReturnFilter struct {
	VendorID      entity.VendorID
	CustomerID    entity.CustomerID
	VendorOrderID entity.VendorOrderID
	Status        entity.ReturnStatus
	Page
}

// FindAll 查询退货单列表
func (r *ReturnRepository) FindAll(ctx context.Context, f ReturnFilter) ([]entity.ReturnRequest, int64, error) {
	var items []entity.ReturnRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ReturnRequest{})
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.CustomerID != "" {
		query = query.Where("customer_id = ?", f.CustomerID)
	}
	if f.VendorOrderID != "" {
		query = query.Where("vendor_order_id = ?", f.VendorOrderID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// StatusCount 按状态统计
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// CountByStatus 退货单状态分布
func (r *ReturnRepository) CountByStatus(ctx context.Context, vendorID entity.VendorID) ([]StatusCount, error) {
	var out []StatusCount
	query := r.db.WithContext(ctx).Model(&entity.ReturnRequest{})
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	err := query.Select("status, COUNT(*) AS count").Group("status").Order("status").Scan(&out).Error
	return out, err
}

// CreateStatusLog 退货状态日志
func (r *ReturnRepository) CreateStatusLog(ctx context.Context, l *entity.ReturnStatusLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindStatusLogs 退货状态日志
func (r *ReturnRepository) FindStatusLogs(ctx context.Context, id entity.ReturnRequestID) ([]entity.ReturnStatusLog, error) {
	var logs []entity.ReturnStatusLog
	err := r.db.WithContext(ctx).Where("return_request_id = ?", id).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

// FindUnsettledRefunds 锁定 before 之前已退款、尚未计入结算单的退货单
func (r *ReturnRepository) FindUnsettledRefunds(ctx context.Context, vendorID entity.VendorID, before time.Time) ([]entity.ReturnRequest, error) {
	var list []entity.ReturnRequest
	err := forUpdate(r.db.WithContext(ctx)).
		Where("vendor_id = ? AND refunded_at IS NOT NULL AND refunded_at < ? AND settlement_id IS NULL", vendorID, before).
		Order("refunded_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// FindBySettlement 结算单已扣回的退货单
func (r *ReturnRepository) FindBySettlement(ctx context.Context, settlementID entity.SettlementID) ([]entity.ReturnRequest, error) {
	var list []entity.ReturnRequest
	err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("refunded_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// LinkSettlement 退款计入结算单
func (r *ReturnRepository) LinkSettlement(ctx context.Context, ids []entity.ReturnRequestID, settlementID entity.SettlementID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.ReturnRequest{}).Where("id IN ?", ids).
		Update("settlement_id", settlementID).Error
}

// UnlinkSettlement 解除关联（结算单取消）
func (r *ReturnRepository) UnlinkSettlement(ctx context.Context, settlementID entity.SettlementID) error {
	return r.db.WithContext(ctx).Model(&entity.ReturnRequest{}).Where("settlement_id = ?", settlementID).
		Update("settlement_id", nil).Error
}
