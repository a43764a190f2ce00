package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/storage"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Op 操作上下文：操作人与操作时间，所有写操作必须显式传入
type Op struct {
	Actor string
	At    time.Time
}

func (o Op) check() error {
	if o.Actor == "" {
		return apperr.Validation("actor is required")
	}
	if o.At.IsZero() {
		return apperr.Validation("operation time is required")
	}
	return nil
}

func (o Op) at() *time.Time {
	t := o.At
	return &t
}

// Options 业务参数
type Options struct {
	LowStockThreshold   int
	MaxDeliveryAttempts int
	CommissionTaxRate   decimal.Decimal
	ProofURLExpiry      time.Duration
}

func (o *Options) defaults() {
	if o.LowStockThreshold <= 0 {
		o.LowStockThreshold = 10
	}
	if o.MaxDeliveryAttempts <= 0 {
		o.MaxDeliveryAttempts = 3
	}
	if o.CommissionTaxRate.IsZero() {
		o.CommissionTaxRate = decimal.NewFromInt(18)
	}
	if o.ProofURLExpiry <= 0 {
		o.ProofURLExpiry = 15 * time.Minute
	}
}

// Services 服务集合
type Services struct {
	Inventory   *InventoryService
	Procurement *ProcurementService
	Order       *OrderService
	Delivery    *DeliveryService
	Return      *ReturnService
	Settlement  *SettlementService
	Export      *ExportService
}

// NewServices 创建服务集合；pub/store 可为 nil
func NewServices(repos *repository.Repositories, pub events.Publisher, store storage.ObjectStore, logger *zap.Logger, opts Options) *Services {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()

	b := base{repos: repos, pub: pub, log: logger, opts: opts}
	inv := NewInventoryService(b)
	orders := NewOrderService(b, inv)
	delivery := NewDeliveryService(b, orders, store)
	orders.delivery = delivery
	settlement := NewSettlementService(b)
	return &Services{
		Inventory:   inv,
		Procurement: NewProcurementService(b, inv),
		Order:       orders,
		Delivery:    delivery,
		Return:      NewReturnService(b, inv),
		Settlement:  settlement,
		Export:      NewExportService(b, inv, settlement),
	}
}

// base 各服务共享的依赖
type base struct {
	repos *repository.Repositories
	pub   events.Publisher
	log   *zap.Logger
	opts  Options
}

// publish 事务提交后发布事件，失败只记录告警
func (b *base) publish(ctx context.Context, evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	if err := b.pub.Publish(ctx, evts...); err != nil {
		b.log.Warn("failed to publish events",
			zap.String("type", evts[0].Type),
			zap.Int("count", len(evts)),
			zap.Error(err))
	}
}

func event(typ, key string, op Op, payload any) events.Event {
	return events.Event{Type: typ, Key: key, Actor: op.Actor, At: op.At, Payload: payload}
}

// StatusChange 状态变更事件载荷
type StatusChange struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Notes string `json:"notes,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// validateStruct 校验请求结构体，失败转为 Validation 错误
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
		return apperr.Validation("invalid request: %s", strings.Join(msgs, "; "))
	}
	return apperr.Wrap(apperr.KindValidation, err, "invalid request")
}

func requirePositive(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.Validation("%s must be positive", name)
	}
	return nil
}

func requireNonNegative(name string, d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.Validation("%s must not be negative", name)
	}
	return nil
}
