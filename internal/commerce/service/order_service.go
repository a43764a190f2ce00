package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/fsm"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/bitfantasy/nimo-commerce/internal/shared/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService 主订单与商家订单
type OrderService struct {
	base
	inventory *InventoryService
	delivery  *DeliveryService
}

func NewOrderService(b base, inventory *InventoryService) *OrderService {
	return &OrderService{base: b, inventory: inventory}
}

// OrderDetail 主订单及其商家订单
type OrderDetail struct {
	SalesOrder   *entity.SalesOrder   `json:"sales_order"`
	VendorOrders []entity.VendorOrder `json:"vendor_orders"`
}

// CheckoutLine 下单行；单价为空时取库存记录售价
type CheckoutLine struct {
	InventoryID   entity.InventoryID `json:"inventory_id" binding:"required"`
	Quantity      int                `json:"quantity" binding:"required,gt=0"`
	UnitPrice     *decimal.Decimal   `json:"unit_price"`
	DiscountType  string             `json:"discount_type" binding:"omitempty,oneof=percentage amount"`
	DiscountValue decimal.Decimal    `json:"discount_value"`
	TaxPercentage decimal.Decimal    `json:"tax_percentage"`
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	CustomerID      entity.CustomerID `json:"customer_id" binding:"required"`
	ShippingAddress entity.Address    `json:"shipping_address"`
	BillingAddress  *entity.Address   `json:"billing_address"`
	Items           []CheckoutLine    `json:"items" binding:"required,min=1,dive"`
	ShippingAmount  decimal.Decimal   `json:"shipping_amount"`
	PaymentMethod   string            `json:"payment_method"`
	OrderSource     string            `json:"order_source"`
	CouponCode      string            `json:"coupon_code"`
	CustomerNotes   string            `json:"customer_notes"`
}

func (r *CreateOrderRequest) check() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if err := requireNonNegative("shipping_amount", r.ShippingAmount); err != nil {
		return err
	}
	for i, l := range r.Items {
		if l.UnitPrice != nil {
			if err := requireNonNegative(fmt.Sprintf("items[%d].unit_price", i), *l.UnitPrice); err != nil {
				return err
			}
		}
		if err := requireNonNegative(fmt.Sprintf("items[%d].discount_value", i), l.DiscountValue); err != nil {
			return err
		}
		if err := requireNonNegative(fmt.Sprintf("items[%d].tax_percentage", i), l.TaxPercentage); err != nil {
			return err
		}
	}
	return nil
}

// Create 下单：按商家拆单并预留库存，任一行库存不足则整单失败
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest, op Op) (*OrderDetail, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := req.check(); err != nil {
		return nil, err
	}

	so := &entity.SalesOrder{
		ID:              entity.SalesOrderID(idgen.NewID()),
		OrderNumber:     idgen.Code("SO", op.At),
		CustomerID:      req.CustomerID,
		OrderDate:       op.At,
		OrderSource:     req.OrderSource,
		Status:          entity.OrderPending,
		PaymentStatus:   entity.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.ShippingAddress,
		CouponCode:      req.CouponCode,
		CustomerNotes:   req.CustomerNotes,
		CreatedBy:       op.Actor,
		CreatedAt:       op.At,
		UpdatedAt:       op.At,
	}
	if req.BillingAddress != nil {
		so.BillingAddress = *req.BillingAddress
	}
	if so.OrderSource == "" {
		so.OrderSource = "web"
	}

	var (
		vendorOrders []entity.VendorOrder
		moves        []*entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		ids := make([]entity.InventoryID, 0, len(req.Items))
		for _, l := range req.Items {
			ids = append(ids, l.InventoryID)
		}
		records, err := tx.Inventory.LockMany(ctx, ids...)
		if err != nil {
			return err
		}

		// 按商家首次出现顺序分组
		var vendorIDs []entity.VendorID
		groups := make(map[entity.VendorID][]int)
		for i, l := range req.Items {
			vid := records[l.InventoryID].VendorID
			if _, ok := groups[vid]; !ok {
				vendorIDs = append(vendorIDs, vid)
			}
			groups[vid] = append(groups[vid], i)
		}
		vendors, err := tx.Vendor.FindByIDs(ctx, vendorIDs)
		if err != nil {
			return err
		}

		ref := Ref{Type: entity.RefSalesOrder, ID: string(so.ID), Notes: so.OrderNumber}
		shipping := money.Split(req.ShippingAmount, len(vendorIDs))
		for n, vid := range vendorIDs {
			vendor, ok := vendors[vid]
			if !ok {
				return apperr.NotFound("vendor %s not found", vid)
			}
			vo := entity.VendorOrder{
				ID:             entity.VendorOrderID(idgen.NewID()),
				OrderNumber:    fmt.Sprintf("%s-V%d", so.OrderNumber, n+1),
				SalesOrderID:   so.ID,
				VendorID:       vid,
				Status:         entity.OrderPending,
				ShippingAmount: shipping[n],
				CommissionRate: vendor.CommissionRate,
				PaymentStatus:  entity.PaymentPending,
				CreatedAt:      op.At,
				UpdatedAt:      op.At,
			}
			for _, idx := range groups[vid] {
				line := req.Items[idx]
				rec := records[line.InventoryID]
				m, err := s.inventory.reserveTx(ctx, tx, rec, line.Quantity, ref, op)
				if err != nil {
					return err
				}
				moves = append(moves, m)

				price := rec.SellPrice
				if line.UnitPrice != nil {
					price = *line.UnitPrice
				}
				vo.Items = append(vo.Items, entity.VendorOrderItem{
					ID:               entity.VendorOrderItemID(idgen.NewID()),
					VendorOrderID:    vo.ID,
					SalesOrderItemID: entity.SalesOrderItemID(idgen.NewID()),
					InventoryID:      rec.ID,
					ProductID:        rec.ProductID,
					VariantID:        rec.VariantID,
					ProductName:      rec.ProductName,
					SKU:              rec.SKU,
					QuantityOrdered:  line.Quantity,
					QuantityReserved: line.Quantity,
					CostPrice:        rec.BuyPrice,
					LinePricing: entity.LinePricing{
						UnitPrice:     price,
						DiscountType:  line.DiscountType,
						DiscountValue: line.DiscountValue,
						TaxPercentage: line.TaxPercentage,
					},
					CreatedAt: op.At,
					UpdatedAt: op.At,
				})
			}
			vo.CalculateTotals()
			vendorOrders = append(vendorOrders, vo)

			for _, it := range vo.Items {
				so.Items = append(so.Items, entity.SalesOrderItem{
					ID:                it.SalesOrderItemID,
					SalesOrderID:      so.ID,
					VendorID:          vid,
					VendorOrderItemID: it.ID,
					InventoryID:       it.InventoryID,
					ProductID:         it.ProductID,
					VariantID:         it.VariantID,
					ProductName:       it.ProductName,
					SKU:               it.SKU,
					QuantityOrdered:   it.QuantityOrdered,
					LinePricing:       it.LinePricing,
					CreatedAt:         op.At,
				})
			}
		}
		so.AggregateTotals(vendorOrders)

		if err := tx.Order.CreateSalesOrder(ctx, so); err != nil {
			return err
		}
		if err := s.logSO(ctx, tx, so.ID, "", so.Status, "order placed", op); err != nil {
			return err
		}
		for i := range vendorOrders {
			vo := &vendorOrders[i]
			if err := tx.Order.CreateVendorOrder(ctx, vo); err != nil {
				return err
			}
			if err := s.logVO(ctx, tx, vo.ID, "", vo.Status, "order placed", op); err != nil {
				return err
			}
			if err := s.snapshotCommission(ctx, tx, vo, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("sales order created",
		zap.String("sales_order_id", string(so.ID)),
		zap.String("order_number", so.OrderNumber),
		zap.Int("vendor_orders", len(vendorOrders)),
		zap.String("total", so.TotalAmount.StringFixed(2)))
	s.inventory.publishMovements(ctx, op, moves...)
	s.publish(ctx, event(events.SalesOrderCreated, string(so.ID), op, so))
	return &OrderDetail{SalesOrder: so, VendorOrders: vendorOrders}, nil
}

// snapshotCommission 写入或刷新商家订单的佣金记录
func (s *OrderService) snapshotCommission(ctx context.Context, tx *repository.Repositories, vo *entity.VendorOrder, op Op) error {
	rec, err := tx.Order.FindCommission(ctx, vo.ID)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}
		rec = &entity.CommissionRecord{
			ID:        idgen.NewID(),
			TaxRate:   s.opts.CommissionTaxRate,
			CreatedAt: op.At,
		}
	}
	rec.Snapshot(vo)
	rec.UpdatedAt = op.At
	return tx.Order.SaveCommission(ctx, rec)
}

// Get 主订单详情
func (s *OrderService) Get(ctx context.Context, id entity.SalesOrderID) (*OrderDetail, error) {
	so, err := s.repos.Order.FindSalesOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	vos, err := s.repos.Order.FindVendorOrdersBySalesOrder(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{SalesOrder: so, VendorOrders: vos}, nil
}

// List 主订单列表
func (s *OrderService) List(ctx context.Context, f repository.SalesOrderFilter) ([]entity.SalesOrder, int64, error) {
	return s.repos.Order.FindSalesOrders(ctx, f)
}

// GetVendorOrder 商家订单详情
func (s *OrderService) GetVendorOrder(ctx context.Context, id entity.VendorOrderID) (*entity.VendorOrder, error) {
	return s.repos.Order.FindVendorOrder(ctx, id)
}

// ListVendorOrders 商家订单列表
func (s *OrderService) ListVendorOrders(ctx context.Context, f repository.VendorOrderFilter) ([]entity.VendorOrder, int64, error) {
	return s.repos.Order.FindVendorOrders(ctx, f)
}

// StatusLogs 主订单状态日志
func (s *OrderService) StatusLogs(ctx context.Context, id entity.SalesOrderID) ([]entity.SOStatusLog, error) {
	if _, err := s.repos.Order.FindSalesOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Order.FindSOStatusLogs(ctx, id)
}

// VendorOrderStatusLogs 商家订单状态日志
func (s *OrderService) VendorOrderStatusLogs(ctx context.Context, id entity.VendorOrderID) ([]entity.VendorOrderStatusLog, error) {
	if _, err := s.repos.Order.FindVendorOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Order.FindVOStatusLogs(ctx, id)
}

func (s *OrderService) logSO(ctx context.Context, tx *repository.Repositories, id entity.SalesOrderID, from, to entity.OrderStatus, notes string, op Op) error {
	return tx.Order.CreateSOStatusLog(ctx, &entity.SOStatusLog{
		ID:           idgen.NewID(),
		SalesOrderID: id,
		OldStatus:    from,
		NewStatus:    to,
		Notes:        notes,
		ChangedBy:    op.Actor,
		CreatedAt:    op.At,
	})
}

func (s *OrderService) logVO(ctx context.Context, tx *repository.Repositories, id entity.VendorOrderID, from, to entity.OrderStatus, notes string, op Op) error {
	return tx.Order.CreateVOStatusLog(ctx, &entity.VendorOrderStatusLog{
		ID:            idgen.NewID(),
		VendorOrderID: id,
		OldStatus:     from,
		NewStatus:     to,
		Notes:         notes,
		ChangedBy:     op.Actor,
		CreatedAt:     op.At,
	})
}

// fireSalesOrderTx 对已锁定的主订单执行流转并落库，返回待发布事件
func (s *OrderService) fireSalesOrderTx(ctx context.Context, tx *repository.Repositories, so *entity.SalesOrder, ev fsm.Event, notes string, op Op,
	apply func(so *entity.SalesOrder)) (events.Event, error) {
	old := so.Status
	next, err := entity.SalesOrderTransitions.Fire(so.Status, ev)
	if err != nil {
		return events.Event{}, err
	}
	so.Status = next
	so.UpdatedAt = op.At
	if apply != nil {
		apply(so)
	}
	if err := tx.Order.SaveSalesOrder(ctx, so); err != nil {
		return events.Event{}, err
	}
	if err := s.logSO(ctx, tx, so.ID, old, next, notes, op); err != nil {
		return events.Event{}, err
	}
	return event(events.SalesOrderStatus, string(so.ID), op,
		StatusChange{ID: string(so.ID), From: string(old), To: string(next), Notes: notes}), nil
}

// fireVendorOrderTx 对已锁定的商家订单执行流转并落库，返回待发布事件
func (s *OrderService) fireVendorOrderTx(ctx context.Context, tx *repository.Repositories, vo *entity.VendorOrder, ev fsm.Event, notes string, op Op,
	apply func(vo *entity.VendorOrder)) (events.Event, error) {
	old := vo.Status
	next, err := entity.VendorOrderTransitions.Fire(vo.Status, ev)
	if err != nil {
		return events.Event{}, err
	}
	vo.Status = next
	vo.UpdatedAt = op.At
	if apply != nil {
		apply(vo)
	}
	if err := tx.Order.SaveVendorOrder(ctx, vo); err != nil {
		return events.Event{}, err
	}
	if err := s.logVO(ctx, tx, vo.ID, old, next, notes, op); err != nil {
		return events.Event{}, err
	}
	return event(events.VendorOrderStatus, string(vo.ID), op,
		StatusChange{ID: string(vo.ID), From: string(old), To: string(next), Notes: notes}), nil
}

func (s *OrderService) transitionSO(ctx context.Context, id entity.SalesOrderID, ev fsm.Event, notes string, op Op,
	apply func(so *entity.SalesOrder)) (*entity.SalesOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		so  *entity.SalesOrder
		evt events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if so, err = tx.Order.FindSalesOrderForUpdate(ctx, id); err != nil {
			return err
		}
		evt, err = s.fireSalesOrderTx(ctx, tx, so, ev, notes, op, apply)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sales order status changed", zap.String("sales_order_id", string(id)), zap.String("status", string(so.Status)))
	s.publish(ctx, evt)
	return so, nil
}

func (s *OrderService) transitionVO(ctx context.Context, id entity.VendorOrderID, ev fsm.Event, notes string, op Op,
	apply func(vo *entity.VendorOrder)) (*entity.VendorOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		vo  *entity.VendorOrder
		evt events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, id); err != nil {
			return err
		}
		evt, err = s.fireVendorOrderTx(ctx, tx, vo, ev, notes, op, apply)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor order status changed", zap.String("vendor_order_id", string(id)), zap.String("status", string(vo.Status)))
	s.publish(ctx, evt)
	return vo, nil
}

// Confirm 确认主订单
func (s *OrderService) Confirm(ctx context.Context, id entity.SalesOrderID, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderConfirm, "confirmed", op, func(so *entity.SalesOrder) {
		so.ConfirmedBy = op.Actor
		so.ConfirmedAt = op.at()
	})
}

// Process 主订单进入处理
func (s *OrderService) Process(ctx context.Context, id entity.SalesOrderID, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderProcess, "processing", op, nil)
}

// Pack 主订单打包完成
func (s *OrderService) Pack(ctx context.Context, id entity.SalesOrderID, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderPack, "packed", op, nil)
}

// MarkReady 主订单待取件
func (s *OrderService) MarkReady(ctx context.Context, id entity.SalesOrderID, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderReady, "ready for pickup", op, nil)
}

// Complete 主订单完成
func (s *OrderService) Complete(ctx context.Context, id entity.SalesOrderID, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderComplete, "completed", op, nil)
}

// Refund 主订单退款
func (s *OrderService) Refund(ctx context.Context, id entity.SalesOrderID, reason string, op Op) (*entity.SalesOrder, error) {
	return s.transitionSO(ctx, id, entity.OrderRefund, reason, op, func(so *entity.SalesOrder) {
		so.PaymentStatus = entity.PaymentRefunded
	})
}

// ConfirmVendorOrder 商家确认
func (s *OrderService) ConfirmVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	return s.transitionVO(ctx, id, entity.OrderConfirm, "confirmed by vendor", op, nil)
}

// ProcessVendorOrder 商家开始处理
func (s *OrderService) ProcessVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	return s.transitionVO(ctx, id, entity.OrderProcess, "processing", op, nil)
}

// PackVendorOrder 商家打包
func (s *OrderService) PackVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		vo  *entity.VendorOrder
		evt events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, id); err != nil {
			return err
		}
		evt, err = s.fireVendorOrderTx(ctx, tx, vo, entity.OrderPack, "packed", op, func(vo *entity.VendorOrder) {
			vo.PackedAt = op.at()
		})
		if err != nil {
			return err
		}
		for i := range vo.Items {
			it := &vo.Items[i]
			it.QuantityPacked = it.QuantityOrdered - it.QuantityCancelled
			it.UpdatedAt = op.At
			if err := tx.Order.SaveVendorOrderItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evt)
	return vo, nil
}

// MarkVendorOrderReady 商家订单待取件
func (s *OrderService) MarkVendorOrderReady(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	return s.transitionVO(ctx, id, entity.OrderReady, "ready for pickup", op, nil)
}

// ShipVendorOrder 商家订单发出
func (s *OrderService) ShipVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		vo  *entity.VendorOrder
		evt events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, id); err != nil {
			return err
		}
		evt, err = s.shipVendorOrderTx(ctx, tx, vo, "shipped", op)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evt)
	return vo, nil
}

func (s *OrderService) shipVendorOrderTx(ctx context.Context, tx *repository.Repositories, vo *entity.VendorOrder, notes string, op Op) (events.Event, error) {
	evt, err := s.fireVendorOrderTx(ctx, tx, vo, entity.OrderShip, notes, op, func(vo *entity.VendorOrder) {
		vo.ShippedAt = op.at()
	})
	if err != nil {
		return evt, err
	}
	for i := range vo.Items {
		it := &vo.Items[i]
		it.QuantityShipped = it.QuantityOrdered - it.QuantityCancelled
		it.UpdatedAt = op.At
		if err := tx.Order.SaveVendorOrderItem(ctx, it); err != nil {
			return evt, err
		}
	}
	return evt, nil
}

// DeliverVendorOrder 商家订单送达：按预留数量出库并核销预留
func (s *OrderService) DeliverVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		vo    *entity.VendorOrder
		evts  []events.Event
		moves []*entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, id); err != nil {
			return err
		}
		evts, moves, err = s.deliverVendorOrderTx(ctx, tx, vo, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor order delivered", zap.String("vendor_order_id", string(id)))
	s.inventory.publishMovements(ctx, op, moves...)
	s.publish(ctx, evts...)
	return vo, nil
}

// deliverVendorOrderTx 已打包/待取件的订单先补发货，再送达出库
func (s *OrderService) deliverVendorOrderTx(ctx context.Context, tx *repository.Repositories, vo *entity.VendorOrder, op Op) ([]events.Event, []*entity.InventoryMovement, error) {
	var evts []events.Event
	if entity.VendorOrderTransitions.Can(vo.Status, entity.OrderShip) {
		evt, err := s.shipVendorOrderTx(ctx, tx, vo, "shipped on delivery", op)
		if err != nil {
			return nil, nil, err
		}
		evts = append(evts, evt)
	}
	evt, err := s.fireVendorOrderTx(ctx, tx, vo, entity.OrderDeliver, "delivered", op, func(vo *entity.VendorOrder) {
		vo.DeliveredAt = op.at()
	})
	if err != nil {
		return nil, nil, err
	}
	evts = append(evts, evt)

	ref := Ref{Type: entity.RefVendorOrder, ID: string(vo.ID), Notes: vo.OrderNumber}
	var moves []*entity.InventoryMovement
	for i := range vo.Items {
		it := &vo.Items[i]
		qty := it.QuantityOrdered - it.QuantityCancelled - it.QuantityDelivered
		if qty <= 0 {
			continue
		}
		m, err := s.inventory.consumeTx(ctx, tx, it.InventoryID, qty, ref, op)
		if err != nil {
			return nil, nil, err
		}
		moves = append(moves, m)
		it.QuantityDelivered += qty
		it.QuantityReserved = 0
		if it.QuantityShipped < it.QuantityDelivered {
			it.QuantityShipped = it.QuantityDelivered
		}
		it.UpdatedAt = op.At
		if err := tx.Order.SaveVendorOrderItem(ctx, it); err != nil {
			return nil, nil, err
		}
	}
	return evts, moves, nil
}

// CompleteVendorOrder 商家订单完成
func (s *OrderService) CompleteVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	return s.transitionVO(ctx, id, entity.OrderComplete, "completed", op, nil)
}

// RetryVendorOrder 投递失败后重新进入待发
func (s *OrderService) RetryVendorOrder(ctx context.Context, id entity.VendorOrderID, op Op) (*entity.VendorOrder, error) {
	return s.transitionVO(ctx, id, entity.OrderRetryDispatch, "retry dispatch", op, nil)
}

// releaseVendorOrderTx 释放商家订单全部剩余预留并标记取消数量
func (s *OrderService) releaseVendorOrderTx(ctx context.Context, tx *repository.Repositories, vo *entity.VendorOrder, op Op) ([]*entity.InventoryMovement, error) {
	ids := make([]entity.InventoryID, 0, len(vo.Items))
	for _, it := range vo.Items {
		if it.QuantityReserved > 0 {
			ids = append(ids, it.InventoryID)
		}
	}
	records, err := tx.Inventory.LockMany(ctx, ids...)
	if err != nil {
		return nil, err
	}
	ref := Ref{Type: entity.RefVendorOrder, ID: string(vo.ID), Notes: "order cancelled"}
	var moves []*entity.InventoryMovement
	for i := range vo.Items {
		it := &vo.Items[i]
		if it.QuantityReserved > 0 {
			m, err := s.inventory.unreserveTx(ctx, tx, records[it.InventoryID], it.QuantityReserved, ref, op)
			if err != nil {
				return nil, err
			}
			if m != nil {
				moves = append(moves, m)
			}
		}
		it.QuantityReserved = 0
		it.QuantityCancelled = it.QuantityOrdered - it.QuantityDelivered
		it.UpdatedAt = op.At
		if err := tx.Order.SaveVendorOrderItem(ctx, it); err != nil {
			return nil, err
		}
	}
	return moves, nil
}

// Cancel 取消主订单：释放全部预留并取消所有商家订单
// 任一商家订单已不可取消时整单拒绝
func (s *OrderService) Cancel(ctx context.Context, id entity.SalesOrderID, reason string, op Op) (*OrderDetail, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	var (
		detail OrderDetail
		evts   []events.Event
		moves  []*entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		so, err := tx.Order.FindSalesOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		evt, err := s.fireSalesOrderTx(ctx, tx, so, entity.OrderCancel, reason, op, func(so *entity.SalesOrder) {
			so.CancelledBy = op.Actor
			so.CancelledAt = op.at()
			so.CancellationReason = reason
		})
		if err != nil {
			return err
		}
		evts = append(evts, evt)

		vos, err := tx.Order.FindVendorOrdersBySalesOrder(ctx, id, true)
		if err != nil {
			return err
		}
		for i := range vos {
			vo := &vos[i]
			if vo.Status == entity.OrderCancelled {
				continue
			}
			if !entity.VendorOrderTransitions.Can(vo.Status, entity.OrderCancel) {
				return apperr.BusinessLogic("vendor order %s is %s and cannot be cancelled", vo.OrderNumber, vo.Status)
			}
			m, err := s.releaseVendorOrderTx(ctx, tx, vo, op)
			if err != nil {
				return err
			}
			moves = append(moves, m...)
			evt, err := s.fireVendorOrderTx(ctx, tx, vo, entity.OrderCancel, reason, op, func(vo *entity.VendorOrder) {
				vo.CancelledAt = op.at()
				vo.CancellationReason = reason
			})
			if err != nil {
				return err
			}
			evts = append(evts, evt)
		}
		detail = OrderDetail{SalesOrder: so, VendorOrders: vos}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sales order cancelled", zap.String("sales_order_id", string(id)), zap.String("reason", reason))
	s.inventory.publishMovements(ctx, op, moves...)
	s.publish(ctx, evts...)
	return &detail, nil
}

// CancelVendorOrder 取消单个商家订单，仅释放其自身明细的预留
func (s *OrderService) CancelVendorOrder(ctx context.Context, id entity.VendorOrderID, reason string, op Op) (*entity.VendorOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	var (
		vo    *entity.VendorOrder
		evt   events.Event
		moves []*entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, id); err != nil {
			return err
		}
		if !entity.VendorOrderTransitions.Can(vo.Status, entity.OrderCancel) {
			return apperr.InvalidTransition(entity.VendorOrderTransitions.Entity(), string(entity.OrderCancel), string(vo.Status))
		}
		if moves, err = s.releaseVendorOrderTx(ctx, tx, vo, op); err != nil {
			return err
		}
		evt, err = s.fireVendorOrderTx(ctx, tx, vo, entity.OrderCancel, reason, op, func(vo *entity.VendorOrder) {
			vo.CancelledAt = op.at()
			vo.CancellationReason = reason
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("vendor order cancelled", zap.String("vendor_order_id", string(id)), zap.String("reason", reason))
	s.inventory.publishMovements(ctx, op, moves...)
	s.publish(ctx, evt)
	return vo, nil
}

// AssignDelivery 为主订单指派配送
func (s *OrderService) AssignDelivery(ctx context.Context, id entity.SalesOrderID, req *AssignRequest, op Op) (*entity.DeliveryAssignment, error) {
	if s.delivery == nil {
		return nil, errors.New("delivery engine not configured")
	}
	req.SalesOrderID = id
	return s.delivery.Assign(ctx, req, op)
}
