package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SettlementRepository 结算单、打款与商家账本
type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// FindByID 根据ID查找结算单
func (r *SettlementRepository) FindByID(ctx context.Context, id entity.SettlementID) (*entity.VendorSettlement, error) {
	var s entity.VendorSettlement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, translate(err, "settlement", id)
	}
	return &s, nil
}

// FindByIDForUpdate 锁定结算单
func (r *SettlementRepository) FindByIDForUpdate(ctx context.Context, id entity.SettlementID) (*entity.VendorSettlement, error) {
	var s entity.VendorSettlement
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, translate(err, "settlement", id)
	}
	return &s, nil
}

// FindActiveForPeriod 同商家与 [start, end] 有重叠的未取消结算单
func (r *SettlementRepository) FindActiveForPeriod(ctx context.Context, vendorID entity.VendorID, start, end time.Time) (*entity.VendorSettlement, error) {
	var s entity.VendorSettlement
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND period_start <= ? AND period_end >= ? AND status <> ?",
			vendorID, end, start, entity.SettlementCancelled).
		Order("period_start ASC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create 创建结算单
func (r *SettlementRepository) Create(ctx context.Context, s *entity.VendorSettlement) error {
	return translate(r.db.WithContext(ctx).Create(s).Error, "settlement", s.SettlementNumber)
}

// Save 保存结算单
func (r *SettlementRepository) Save(ctx context.Context, s *entity.VendorSettlement) error {
	return r.db.WithContext(ctx).Save(s).Error
}

// SettlementFilter 结算单筛选
type SettlementFilter struct {
	VendorID entity.VendorID
	Status   entity.SettlementStatus
	From     *time.Time
	To       *time.Time
	Page
}

// FindAll 查询结算单列表
func (r *SettlementRepository) FindAll(ctx context.Context, f SettlementFilter) ([]entity.VendorSettlement, int64, error) {
	var items []entity.VendorSettlement
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.VendorSettlement{})
	if f.VendorID != "" {
		query = query.Where("vendor_id = ?", f.VendorID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.From != nil {
		query = query.Where("period_start >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("period_end <= ?", *f.To)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// SettlementStats 结算汇总
type SettlementStats struct {
	Status     string          `json:"status"`
	Count      int64           `json:"count"`
	NetPayable decimal.Decimal `json:"net_payable"`
	NetPaid    decimal.Decimal `json:"net_paid"`
}

// Stats 按状态汇总
func (r *SettlementRepository) Stats(ctx context.Context, vendorID entity.VendorID) ([]SettlementStats, error) {
	var out []SettlementStats
	query := r.db.WithContext(ctx).Model(&entity.VendorSettlement{})
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	err := query.
		Select("status, COUNT(*) AS count, COALESCE(SUM(net_payable), 0) AS net_payable, COALESCE(SUM(net_paid), 0) AS net_paid").
		Group("status").Order("status").
		Scan(&out).Error
	return out, err
}

// ---- Payout ----

// FindPayoutBySettlement 结算单的打款记录
func (r *SettlementRepository) FindPayoutBySettlement(ctx context.Context, id entity.SettlementID) (*entity.VendorPayout, error) {
	var p entity.VendorPayout
	if err := r.db.WithContext(ctx).Where("settlement_id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err, "payout for settlement", id)
	}
	return &p, nil
}

// CreatePayout 创建打款记录，同一结算单重复创建返回 Conflict
func (r *SettlementRepository) CreatePayout(ctx context.Context, p *entity.VendorPayout) error {
	return translate(r.db.WithContext(ctx).Create(p).Error, "payout for settlement", p.SettlementID)
}

// FindPayouts 打款记录
func (r *SettlementRepository) FindPayouts(ctx context.Context, vendorID entity.VendorID, page Page) ([]entity.VendorPayout, int64, error) {
	var items []entity.VendorPayout
	var total int64
	query := r.db.WithContext(ctx).Model(&entity.VendorPayout{})
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query).Order("created_at DESC").Find(&items).Error
	return items, total, err
}

// ---- Ledger ----

// Balance 商家账本余额 = Σ贷方 - Σ借方；调用方须先锁定商家行
func (r *SettlementRepository) Balance(ctx context.Context, vendorID entity.VendorID) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&entity.VendorLedgerEntry{}).
		Where("vendor_id = ?", vendorID).
		Select("COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE -amount END), 0)", entity.LedgerCredit).
		Row().Scan(&bal)
	return bal, err
}

// CreateLedgerEntry 追加账本流水；同一引用重复记账返回 Conflict
func (r *SettlementRepository) CreateLedgerEntry(ctx context.Context, e *entity.VendorLedgerEntry) error {
	return translate(r.db.WithContext(ctx).Create(e).Error, "ledger entry for "+e.ReferenceType, e.ReferenceID)
}

// FindLedger 商家账本（时间正序）
func (r *SettlementRepository) FindLedger(ctx context.Context, vendorID entity.VendorID, page Page) ([]entity.VendorLedgerEntry, int64, error) {
	var items []entity.VendorLedgerEntry
	var total int64
	query := r.db.WithContext(ctx).Model(&entity.VendorLedgerEntry{}).Where("vendor_id = ?", vendorID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query).Order("created_at ASC, id ASC").Find(&items).Error
	return items, total, err
}
