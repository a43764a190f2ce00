package repository

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"gorm.io/gorm"
)

// DeliveryRepository 配送员、配送任务与凭证
type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// FindAgent 根据ID查找配送员
func (r *DeliveryRepository) FindAgent(ctx context.Context, id entity.DeliveryAgentID) (*entity.DeliveryAgent, error) {
	var a entity.DeliveryAgent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, "delivery agent", id)
	}
	return &a, nil
}

// FindAgentForUpdate 锁定配送员（更新计数）
func (r *DeliveryRepository) FindAgentForUpdate(ctx context.Context, id entity.DeliveryAgentID) (*entity.DeliveryAgent, error) {
	var a entity.DeliveryAgent
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, "delivery agent", id)
	}
	return &a, nil
}

// FindAgentByUser 根据登录用户查找配送员
func (r *DeliveryRepository) FindAgentByUser(ctx context.Context, userID string) (*entity.DeliveryAgent, error) {
	var a entity.DeliveryAgent
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error; err != nil {
		return nil, translate(err, "delivery agent for user", userID)
	}
	return &a, nil
}

// CreateAgent 创建配送员
func (r *DeliveryRepository) CreateAgent(ctx context.Context, a *entity.DeliveryAgent) error {
	return translate(r.db.WithContext(ctx).Create(a).Error, "delivery agent", a.UserID)
}

// SaveAgent 保存配送员
func (r *DeliveryRepository) SaveAgent(ctx context.Context, a *entity.DeliveryAgent) error {
	return r.db.WithContext(ctx).Save(a).Error
}

// FindAssignment 根据ID查找配送任务
func (r *DeliveryRepository) FindAssignment(ctx context.Context, id entity.DeliveryAssignmentID) (*entity.DeliveryAssignment, error) {
	var d entity.DeliveryAssignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err, "delivery assignment", id)
	}
	return &d, nil
}

// FindAssignmentForUpdate 锁定配送任务
func (r *DeliveryRepository) FindAssignmentForUpdate(ctx context.Context, id entity.DeliveryAssignmentID) (*entity.DeliveryAssignment, error) {
	var d entity.DeliveryAssignment
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err, "delivery assignment", id)
	}
	return &d, nil
}

// CreateAssignment 创建配送任务
func (r *DeliveryRepository) CreateAssignment(ctx context.Context, d *entity.DeliveryAssignment) error {
	return translate(r.db.WithContext(ctx).Create(d).Error, "delivery assignment", d.AssignmentNumber)
}

// SaveAssignment 保存配送任务
func (r *DeliveryRepository) SaveAssignment(ctx context.Context, d *entity.DeliveryAssignment) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// AssignmentFilter 配送任务筛选
type AssignmentFilter struct {
	AgentID      entity.DeliveryAgentID
	SalesOrderID entity.SalesOrderID
	Status       entity.DeliveryStatus
	Page
}

// FindAssignments 查询配送任务列表
func (r *DeliveryRepository) FindAssignments(ctx context.Context, f AssignmentFilter) ([]entity.DeliveryAssignment, int64, error) {
	var items []entity.DeliveryAssignment
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.DeliveryAssignment{})
	if f.AgentID != "" {
		query = query.Where("agent_id = ?", f.AgentID)
	}
	if f.SalesOrderID != "" {
		query = query.Where("sales_order_id = ?", f.SalesOrderID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := f.Page.apply(query).Order("assigned_at DESC").Find(&items).Error
	return items, total, err
}

// CreateStatusLog 配送状态日志
func (r *DeliveryRepository) CreateStatusLog(ctx context.Context, l *entity.DeliveryStatusLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// FindStatusLogs 配送状态日志
func (r *DeliveryRepository) FindStatusLogs(ctx context.Context, id entity.DeliveryAssignmentID) ([]entity.DeliveryStatusLog, error) {
	var logs []entity.DeliveryStatusLog
	err := r.db.WithContext(ctx).Where("assignment_id = ?", id).Order("created_at ASC").Find(&logs).Error
	return logs, err
}

// CreateProof 写入签收凭证
func (r *DeliveryRepository) CreateProof(ctx context.Context, p *entity.DeliveryProof) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// FindProofs 签收凭证列表
func (r *DeliveryRepository) FindProofs(ctx context.Context, id entity.DeliveryAssignmentID) ([]entity.DeliveryProof, error) {
	var list []entity.DeliveryProof
	err := r.db.WithContext(ctx).Where("assignment_id = ?", id).Order("created_at ASC").Find(&list).Error
	return list, err
}
