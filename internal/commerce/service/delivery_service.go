package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/fsm"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/bitfantasy/nimo-commerce/internal/shared/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DeliveryService 配送任务
type DeliveryService struct {
	base
	orders *OrderService
	store  storage.ObjectStore
}

func NewDeliveryService(b base, orders *OrderService, store storage.ObjectStore) *DeliveryService {
	return &DeliveryService{base: b, orders: orders, store: store}
}

// Location 上报位置
type Location struct {
	Latitude  *decimal.Decimal `json:"latitude"`
	Longitude *decimal.Decimal `json:"longitude"`
}

// CreateAgentRequest 创建配送员
type CreateAgentRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Name          string `json:"name" binding:"required"`
	Phone         string `json:"phone"`
	VehicleType   string `json:"vehicle_type"`
	VehicleNumber string `json:"vehicle_number"`
}

// CreateAgent 创建配送员
func (s *DeliveryService) CreateAgent(ctx context.Context, req *CreateAgentRequest, op Op) (*entity.DeliveryAgent, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	agent := &entity.DeliveryAgent{
		ID:            entity.DeliveryAgentID(idgen.NewID()),
		UserID:        req.UserID,
		Name:          req.Name,
		Phone:         req.Phone,
		VehicleType:   req.VehicleType,
		VehicleNumber: req.VehicleNumber,
		Status:        entity.AgentStatusActive,
		IsAvailable:   true,
		CreatedAt:     op.At,
		UpdatedAt:     op.At,
	}
	if err := s.repos.Delivery.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgent 配送员详情
func (s *DeliveryService) GetAgent(ctx context.Context, id entity.DeliveryAgentID) (*entity.DeliveryAgent, error) {
	return s.repos.Delivery.FindAgent(ctx, id)
}

// Get 配送任务详情
func (s *DeliveryService) Get(ctx context.Context, id entity.DeliveryAssignmentID) (*entity.DeliveryAssignment, error) {
	return s.repos.Delivery.FindAssignment(ctx, id)
}

// List 配送任务列表
func (s *DeliveryService) List(ctx context.Context, f repository.AssignmentFilter) ([]entity.DeliveryAssignment, int64, error) {
	return s.repos.Delivery.FindAssignments(ctx, f)
}

// MyDeliveries 当前配送员的任务
func (s *DeliveryService) MyDeliveries(ctx context.Context, userID string, status entity.DeliveryStatus, page repository.Page) ([]entity.DeliveryAssignment, int64, error) {
	agent, err := s.repos.Delivery.FindAgentByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.repos.Delivery.FindAssignments(ctx, repository.AssignmentFilter{AgentID: agent.ID, Status: status, Page: page})
}

// StatusLogs 配送状态日志
func (s *DeliveryService) StatusLogs(ctx context.Context, id entity.DeliveryAssignmentID) ([]entity.DeliveryStatusLog, error) {
	if _, err := s.repos.Delivery.FindAssignment(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Delivery.FindStatusLogs(ctx, id)
}

// AssignRequest 指派请求；COD 为空时按支付方式推导
type AssignRequest struct {
	SalesOrderID         entity.SalesOrderID    `json:"sales_order_id"`
	VendorOrderID        *entity.VendorOrderID  `json:"vendor_order_id"`
	AgentID              entity.DeliveryAgentID `json:"agent_id" binding:"required"`
	CODAmount            *decimal.Decimal       `json:"cod_amount"`
	DeliveryFee          decimal.Decimal        `json:"delivery_fee"`
	PickupAddress        entity.Address         `json:"pickup_address"`
	DeliveryAddress      *entity.Address        `json:"delivery_address"`
	ScheduledPickupTime  *time.Time             `json:"scheduled_pickup_time"`
	EstimatedDelivery    *time.Time             `json:"estimated_delivery_time"`
	DeliveryInstructions string                 `json:"delivery_instructions"`
	MaxAttempts          int                    `json:"max_attempts" binding:"gte=0"`
}

// Assign 指派配送员，主订单进入派送中
func (s *DeliveryService) Assign(ctx context.Context, req *AssignRequest, op Op) (*entity.DeliveryAssignment, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.SalesOrderID == "" {
		return nil, apperr.Validation("sales order is required")
	}
	if err := requireNonNegative("delivery_fee", req.DeliveryFee); err != nil {
		return nil, err
	}
	if req.CODAmount != nil {
		if err := requireNonNegative("cod_amount", *req.CODAmount); err != nil {
			return nil, err
		}
	}

	var (
		d    *entity.DeliveryAssignment
		evts []events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		so, err := tx.Order.FindSalesOrderForUpdate(ctx, req.SalesOrderID)
		if err != nil {
			return err
		}
		agent, err := tx.Delivery.FindAgent(ctx, req.AgentID)
		if err != nil {
			return err
		}
		if !agent.IsActive() {
			return apperr.BusinessLogic("delivery agent %s is not active", agent.Name)
		}

		var vo *entity.VendorOrder
		if req.VendorOrderID != nil {
			if vo, err = tx.Order.FindVendorOrderForUpdate(ctx, *req.VendorOrderID); err != nil {
				return err
			}
			if vo.SalesOrderID != so.ID {
				return apperr.Validation("vendor order %s does not belong to sales order %s", vo.OrderNumber, so.OrderNumber)
			}
		}
		if err := requireDispatchable(ctx, tx, so.ID, vo); err != nil {
			return err
		}

		cod := decimal.Zero
		switch {
		case req.CODAmount != nil:
			cod = *req.CODAmount
		case so.PaymentMethod == entity.PaymentMethodCOD && so.PaymentStatus != entity.PaymentCompleted:
			cod = so.TotalAmount
			if vo != nil {
				cod = vo.TotalAmount
			}
		}
		maxAttempts := req.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = s.opts.MaxDeliveryAttempts
		}
		agentID := agent.ID
		d = &entity.DeliveryAssignment{
			ID:                   entity.DeliveryAssignmentID(idgen.NewID()),
			AssignmentNumber:     idgen.Code("DA", op.At),
			SalesOrderID:         so.ID,
			VendorOrderID:        req.VendorOrderID,
			AgentID:              &agentID,
			Status:               entity.DeliveryAssigned,
			PickupAddress:        req.PickupAddress,
			DeliveryAddress:      so.ShippingAddress,
			ScheduledPickupTime:  req.ScheduledPickupTime,
			EstimatedDelivery:    req.EstimatedDelivery,
			MaxAttempts:          maxAttempts,
			DeliveryFee:          req.DeliveryFee,
			CODAmount:            cod,
			DeliveryInstructions: req.DeliveryInstructions,
			AssignedBy:           op.Actor,
			AssignedAt:           op.At,
			CreatedAt:            op.At,
			UpdatedAt:            op.At,
		}
		if req.DeliveryAddress != nil {
			d.DeliveryAddress = *req.DeliveryAddress
		}
		if err := tx.Delivery.CreateAssignment(ctx, d); err != nil {
			return err
		}
		if err := s.logStatus(ctx, tx, d.ID, "", d.Status, "assigned to "+agent.Name, nil, op); err != nil {
			return err
		}

		// 同一主订单的多个配送任务只触发一次派送
		if so.Status != entity.OrderOutForDelivery {
			evt, err := s.orders.fireSalesOrderTx(ctx, tx, so, entity.OrderDispatch, "dispatched: "+d.AssignmentNumber, op, nil)
			if err != nil {
				return err
			}
			evts = append(evts, evt)
		}
		if vo != nil {
			vo.DeliveryAssignmentID = &d.ID
			vo.UpdatedAt = op.At
			if err := tx.Order.SaveVendorOrder(ctx, vo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("delivery assigned",
		zap.String("assignment_id", string(d.ID)),
		zap.String("sales_order_id", string(d.SalesOrderID)),
		zap.String("agent_id", string(req.AgentID)),
		zap.String("cod_amount", d.CODAmount.StringFixed(2)))
	s.publish(ctx, append(evts, s.statusEvent(d, "", "assigned", op))...)
	return d, nil
}

func (s *DeliveryService) logStatus(ctx context.Context, tx *repository.Repositories, id entity.DeliveryAssignmentID, from, to entity.DeliveryStatus, notes string, loc *Location, op Op) error {
	l := &entity.DeliveryStatusLog{
		ID:           idgen.NewID(),
		AssignmentID: id,
		OldStatus:    from,
		NewStatus:    to,
		Notes:        notes,
		ChangedBy:    op.Actor,
		CreatedAt:    op.At,
	}
	if loc != nil {
		l.Latitude, l.Longitude = loc.Latitude, loc.Longitude
	}
	return tx.Delivery.CreateStatusLog(ctx, l)
}

func (s *DeliveryService) statusEvent(d *entity.DeliveryAssignment, from entity.DeliveryStatus, notes string, op Op) events.Event {
	return event(events.DeliveryStatus, string(d.ID), op,
		StatusChange{ID: string(d.ID), From: string(from), To: string(d.Status), Notes: notes})
}

// requireAgent 仅允许被指派配送员本人操作
func requireAgent(ctx context.Context, tx *repository.Repositories, d *entity.DeliveryAssignment, op Op) (*entity.DeliveryAgent, error) {
	if d.AgentID == nil {
		return nil, apperr.BusinessLogic("delivery %s has no assigned agent", d.AssignmentNumber)
	}
	agent, err := tx.Delivery.FindAgent(ctx, *d.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.UserID != op.Actor {
		return nil, apperr.PermissionDenied("only the assigned agent can update delivery %s", d.AssignmentNumber)
	}
	return agent, nil
}

// step 一次任务流转；agentOnly 时校验操作人
// before 在流转校验后执行，可返回替代日志备注；after 在落库后执行，返回需一并发布的事件
type step struct {
	event     fsm.Event
	notes     string
	loc       *Location
	agentOnly bool
	before    func(tx *repository.Repositories, d *entity.DeliveryAssignment) (string, error)
	apply     func(d *entity.DeliveryAssignment)
	after     func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error)
}

func (s *DeliveryService) run(ctx context.Context, id entity.DeliveryAssignmentID, st step, op Op) (*entity.DeliveryAssignment, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		d     *entity.DeliveryAssignment
		old   entity.DeliveryStatus
		evts  []events.Event
		notes = st.notes
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if d, err = tx.Delivery.FindAssignmentForUpdate(ctx, id); err != nil {
			return err
		}
		if st.agentOnly {
			if _, err := requireAgent(ctx, tx, d, op); err != nil {
				return err
			}
		}
		old = d.Status
		next, err := entity.DeliveryTransitions.Fire(d.Status, st.event)
		if err != nil {
			return err
		}
		if st.before != nil {
			n, err := st.before(tx, d)
			if err != nil {
				return err
			}
			if n != "" {
				notes = n
			}
		}
		d.Status = next
		d.UpdatedAt = op.At
		if st.apply != nil {
			st.apply(d)
		}
		if err := tx.Delivery.SaveAssignment(ctx, d); err != nil {
			return err
		}
		if err := s.logStatus(ctx, tx, d.ID, old, next, notes, st.loc, op); err != nil {
			return err
		}
		if st.after != nil {
			evts, err = st.after(tx, d)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("delivery status changed",
		zap.String("assignment_id", string(id)),
		zap.String("from", string(old)),
		zap.String("to", string(d.Status)),
		zap.String("actor", op.Actor))
	s.publish(ctx, append([]events.Event{s.statusEvent(d, old, notes, op)}, evts...)...)
	return d, nil
}

// vendorOrdersOf 任务关联的商家订单；未指定时为主订单下全部未取消的商家订单
func vendorOrdersOf(ctx context.Context, tx *repository.Repositories, d *entity.DeliveryAssignment) ([]entity.VendorOrder, error) {
	if d.VendorOrderID != nil {
		vo, err := tx.Order.FindVendorOrderForUpdate(ctx, *d.VendorOrderID)
		if err != nil {
			return nil, err
		}
		return []entity.VendorOrder{*vo}, nil
	}
	all, err := tx.Order.FindVendorOrdersBySalesOrder(ctx, d.SalesOrderID, true)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, vo := range all {
		if vo.Status != entity.OrderCancelled {
			out = append(out, vo)
		}
	}
	return out, nil
}

// deliverable 商家订单可随配送送达：已打包、待取件或已发货
func deliverable(st entity.OrderStatus) bool {
	return entity.VendorOrderTransitions.Can(st, entity.OrderShip) ||
		entity.VendorOrderTransitions.Can(st, entity.OrderDeliver)
}

// requireDispatchable 指派前配送覆盖的商家订单须已备货；已送达、已完成的跳过
func requireDispatchable(ctx context.Context, tx *repository.Repositories, soID entity.SalesOrderID, vo *entity.VendorOrder) error {
	vos := []entity.VendorOrder{}
	if vo != nil {
		vos = append(vos, *vo)
	} else {
		all, err := tx.Order.FindVendorOrdersBySalesOrder(ctx, soID, true)
		if err != nil {
			return err
		}
		vos = all
	}
	for _, v := range vos {
		switch {
		case v.Status == entity.OrderCancelled && vo == nil:
			continue
		case v.Status == entity.OrderDelivered || v.Status == entity.OrderCompleted:
			continue
		case !deliverable(v.Status):
			return apperr.BusinessLogic("vendor order %s is %s; pack it before assigning delivery", v.OrderNumber, v.Status)
		}
	}
	return nil
}

// fireSalesOrderIfAllowed 主订单可流转时才流转
func (s *DeliveryService) fireSalesOrderIfAllowed(ctx context.Context, tx *repository.Repositories, soID entity.SalesOrderID, ev fsm.Event, notes string, op Op,
	apply func(so *entity.SalesOrder)) ([]events.Event, error) {
	so, err := tx.Order.FindSalesOrderForUpdate(ctx, soID)
	if err != nil {
		return nil, err
	}
	if !entity.SalesOrderTransitions.Can(so.Status, ev) {
		return nil, nil
	}
	evt, err := s.orders.fireSalesOrderTx(ctx, tx, so, ev, notes, op, apply)
	if err != nil {
		return nil, err
	}
	return []events.Event{evt}, nil
}

// Accept 配送员接单
func (s *DeliveryService) Accept(ctx context.Context, id entity.DeliveryAssignmentID, op Op) (*entity.DeliveryAssignment, error) {
	return s.run(ctx, id, step{event: entity.DeliveryAccept, notes: "accepted", agentOnly: true}, op)
}

// Reject 配送员拒单：清空配送员，主订单退回待取件
func (s *DeliveryService) Reject(ctx context.Context, id entity.DeliveryAssignmentID, notes string, op Op) (*entity.DeliveryAssignment, error) {
	if notes == "" {
		notes = "rejected by agent"
	}
	return s.run(ctx, id, step{
		event:     entity.DeliveryReject,
		notes:     notes,
		agentOnly: true,
		apply: func(d *entity.DeliveryAssignment) {
			d.AgentID = nil
		},
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			return s.release(ctx, tx, d, notes, op)
		},
	}, op)
}

// release 任务作废：主订单撤回派送，解除商家订单关联
func (s *DeliveryService) release(ctx context.Context, tx *repository.Repositories, d *entity.DeliveryAssignment, notes string, op Op) ([]events.Event, error) {
	if d.VendorOrderID != nil {
		vo, err := tx.Order.FindVendorOrderForUpdate(ctx, *d.VendorOrderID)
		if err != nil {
			return nil, err
		}
		if vo.DeliveryAssignmentID != nil && *vo.DeliveryAssignmentID == d.ID {
			vo.DeliveryAssignmentID = nil
			vo.UpdatedAt = op.At
			if err := tx.Order.SaveVendorOrder(ctx, vo); err != nil {
				return nil, err
			}
		}
	}
	return s.fireSalesOrderIfAllowed(ctx, tx, d.SalesOrderID, entity.OrderUndispatch, notes, op, nil)
}

// Pickup 配送员取件，关联的商家订单随之发货
func (s *DeliveryService) Pickup(ctx context.Context, id entity.DeliveryAssignmentID, loc *Location, op Op) (*entity.DeliveryAssignment, error) {
	return s.run(ctx, id, step{
		event:     entity.DeliveryPickup,
		notes:     "picked up",
		loc:       loc,
		agentOnly: true,
		apply: func(d *entity.DeliveryAssignment) {
			d.ActualPickupTime = op.at()
		},
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			vos, err := vendorOrdersOf(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			var evts []events.Event
			for i := range vos {
				if !entity.VendorOrderTransitions.Can(vos[i].Status, entity.OrderShip) {
					continue
				}
				evt, err := s.orders.shipVendorOrderTx(ctx, tx, &vos[i], "picked up by "+d.AssignmentNumber, op)
				if err != nil {
					return nil, err
				}
				evts = append(evts, evt)
			}
			return evts, nil
		},
	}, op)
}

// InTransit 运输中
func (s *DeliveryService) InTransit(ctx context.Context, id entity.DeliveryAssignmentID, loc *Location, op Op) (*entity.DeliveryAssignment, error) {
	return s.run(ctx, id, step{event: entity.DeliveryToInTransit, notes: "in transit", loc: loc, agentOnly: true}, op)
}

// OutForDelivery 派送中
func (s *DeliveryService) OutForDelivery(ctx context.Context, id entity.DeliveryAssignmentID, loc *Location, op Op) (*entity.DeliveryAssignment, error) {
	return s.run(ctx, id, step{event: entity.DeliveryToOutForDelivery, notes: "out for delivery", loc: loc, agentOnly: true}, op)
}

// ProofInput 签收凭证（文本类：签名数据、OTP等）
type ProofInput struct {
	ProofType     string `json:"proof_type"`
	ProofData     string `json:"proof_data"`
	RecipientName string `json:"recipient_name"`
}

// CompleteRequest 签收请求
type CompleteRequest struct {
	Proof    *ProofInput `json:"proof"`
	Notes    string      `json:"notes"`
	Location *Location   `json:"location"`
}

// Complete 签收：COD 未收款时拒绝；主订单与商家订单送达并核销库存
func (s *DeliveryService) Complete(ctx context.Context, id entity.DeliveryAssignmentID, req *CompleteRequest, op Op) (*entity.DeliveryAssignment, error) {
	if req == nil {
		req = &CompleteRequest{}
	}
	if req.Proof != nil && !entity.ValidProofType(req.Proof.ProofType) {
		return nil, apperr.Validation("invalid proof type %q", req.Proof.ProofType)
	}
	notes := req.Notes
	if notes == "" {
		notes = "delivered"
	}
	var moves []*entity.InventoryMovement
	d, err := s.run(ctx, id, step{
		event:     entity.DeliveryComplete,
		notes:     notes,
		loc:       req.Location,
		agentOnly: true,
		before: func(tx *repository.Repositories, d *entity.DeliveryAssignment) (string, error) {
			if d.CODPending() {
				return "", apperr.BusinessLogic("COD amount %s must be collected before completing delivery", d.CODAmount.StringFixed(2))
			}
			return "", nil
		},
		apply: func(d *entity.DeliveryAssignment) {
			d.ActualDeliveryTime = op.at()
		},
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			if req.Proof != nil {
				if err := tx.Delivery.CreateProof(ctx, &entity.DeliveryProof{
					ID:            idgen.NewID(),
					AssignmentID:  d.ID,
					ProofType:     req.Proof.ProofType,
					ProofData:     req.Proof.ProofData,
					RecipientName: req.Proof.RecipientName,
					CreatedBy:     op.Actor,
					CreatedAt:     op.At,
				}); err != nil {
					return nil, err
				}
			}
			evts, err := s.fireSalesOrderIfAllowed(ctx, tx, d.SalesOrderID, entity.OrderDeliver, "delivered: "+d.AssignmentNumber, op,
				func(so *entity.SalesOrder) {
					so.ActualDeliveryDate = op.at()
				})
			if err != nil {
				return nil, err
			}
			vos, err := vendorOrdersOf(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			for i := range vos {
				if !deliverable(vos[i].Status) {
					continue
				}
				e, m, err := s.orders.deliverVendorOrderTx(ctx, tx, &vos[i], op)
				if err != nil {
					return nil, err
				}
				evts = append(evts, e...)
				moves = append(moves, m...)
			}
			return evts, s.countAgent(ctx, tx, d, true, op)
		},
	}, op)
	if err != nil {
		return nil, err
	}
	s.orders.inventory.publishMovements(ctx, op, moves...)
	return d, nil
}

func (s *DeliveryService) countAgent(ctx context.Context, tx *repository.Repositories, d *entity.DeliveryAssignment, success bool, op Op) error {
	if d.AgentID == nil {
		return nil
	}
	agent, err := tx.Delivery.FindAgentForUpdate(ctx, *d.AgentID)
	if err != nil {
		return err
	}
	agent.TotalDeliveries++
	if success {
		agent.SuccessfulDeliveries++
	} else {
		agent.FailedDeliveries++
	}
	agent.UpdatedAt = op.At
	return tx.Delivery.SaveAgent(ctx, agent)
}

// Fail 投递失败：累加尝试次数，主订单与商家订单进入投递失败
// 超过最大次数只记录告警，不阻止后续重派
func (s *DeliveryService) Fail(ctx context.Context, id entity.DeliveryAssignmentID, reason string, loc *Location, op Op) (*entity.DeliveryAssignment, error) {
	if reason == "" {
		return nil, apperr.Validation("failure reason is required")
	}
	d, err := s.run(ctx, id, step{
		event:     entity.DeliveryFail,
		notes:     reason,
		loc:       loc,
		agentOnly: true,
		apply: func(d *entity.DeliveryAssignment) {
			d.DeliveryAttempts++
			d.FailureReason = reason
		},
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			evts, err := s.fireSalesOrderIfAllowed(ctx, tx, d.SalesOrderID, entity.OrderFailDelivery, reason, op, nil)
			if err != nil {
				return nil, err
			}
			vos, err := vendorOrdersOf(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			for i := range vos {
				if !entity.VendorOrderTransitions.Can(vos[i].Status, entity.OrderFailDelivery) {
					continue
				}
				evt, err := s.orders.fireVendorOrderTx(ctx, tx, &vos[i], entity.OrderFailDelivery, reason, op, nil)
				if err != nil {
					return nil, err
				}
				evts = append(evts, evt)
			}
			return evts, s.countAgent(ctx, tx, d, false, op)
		},
	}, op)
	if err != nil {
		return nil, err
	}
	if d.DeliveryAttempts >= d.MaxAttempts {
		s.log.Warn("delivery attempts exhausted",
			zap.String("assignment_id", string(d.ID)),
			zap.Int("attempts", d.DeliveryAttempts),
			zap.Int("max_attempts", d.MaxAttempts))
	}
	return d, nil
}

// CollectCOD 收取货款：金额须与应收完全一致；重复收取同一金额视为成功
func (s *DeliveryService) CollectCOD(ctx context.Context, id entity.DeliveryAssignmentID, amount decimal.Decimal, op Op) (*entity.DeliveryAssignment, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		d       *entity.DeliveryAssignment
		changed bool
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if d, err = tx.Delivery.FindAssignmentForUpdate(ctx, id); err != nil {
			return err
		}
		if _, err := requireAgent(ctx, tx, d, op); err != nil {
			return err
		}
		if !d.IsCOD() {
			return apperr.BusinessLogic("delivery %s is not cash on delivery", d.AssignmentNumber)
		}
		if !amount.Equal(d.CODAmount) {
			return apperr.BusinessLogic("COD amount mismatch: expected %s, got %s", d.CODAmount.StringFixed(2), amount.StringFixed(2))
		}
		if d.CODCollected {
			return nil
		}
		switch d.Status {
		case entity.DeliveryDelivered, entity.DeliveryFailed, entity.DeliveryReturned, entity.DeliveryCancelled:
			return apperr.BusinessLogic("cannot collect COD on delivery in status %s", d.Status)
		}
		d.CODCollected = true
		d.CODCollectedAt = op.at()
		d.UpdatedAt = op.At
		if err := tx.Delivery.SaveAssignment(ctx, d); err != nil {
			return err
		}
		if err := s.logStatus(ctx, tx, d.ID, d.Status, d.Status, "COD collected: "+amount.StringFixed(2), nil, op); err != nil {
			return err
		}
		so, err := tx.Order.FindSalesOrderForUpdate(ctx, d.SalesOrderID)
		if err != nil {
			return err
		}
		so.PaymentStatus = entity.PaymentCompleted
		so.UpdatedAt = op.At
		changed = true
		return tx.Order.SaveSalesOrder(ctx, so)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("COD collected",
			zap.String("assignment_id", string(id)),
			zap.String("amount", amount.StringFixed(2)))
		s.publish(ctx, s.statusEvent(d, d.Status, "cod_collected", op))
	}
	return d, nil
}

// Reassign 改派：新配送员须为活跃状态；投递失败后改派时主订单重新派送
func (s *DeliveryService) Reassign(ctx context.Context, id entity.DeliveryAssignmentID, agentID entity.DeliveryAgentID, op Op) (*entity.DeliveryAssignment, error) {
	if agentID == "" {
		return nil, apperr.Validation("agent is required")
	}
	return s.run(ctx, id, step{
		event: entity.DeliveryReassign,
		notes: "reassigned",
		before: func(tx *repository.Repositories, d *entity.DeliveryAssignment) (string, error) {
			agent, err := tx.Delivery.FindAgent(ctx, agentID)
			if err != nil {
				return "", err
			}
			if !agent.IsActive() {
				return "", apperr.BusinessLogic("delivery agent %s is not active", agent.Name)
			}
			from := "none"
			if d.AgentID != nil {
				from = string(*d.AgentID)
			}
			return fmt.Sprintf("reassigned from %s to %s", from, agent.ID), nil
		},
		apply: func(d *entity.DeliveryAssignment) {
			id := agentID
			d.AgentID = &id
			d.AssignedBy = op.Actor
			d.AssignedAt = op.At
		},
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			notes := "reassigned: " + d.AssignmentNumber
			evts, err := s.fireSalesOrderIfAllowed(ctx, tx, d.SalesOrderID, entity.OrderRedispatch, notes, op, nil)
			if err != nil {
				return nil, err
			}
			vos, err := vendorOrdersOf(ctx, tx, d)
			if err != nil {
				return nil, err
			}
			for i := range vos {
				if !entity.VendorOrderTransitions.Can(vos[i].Status, entity.OrderRetryDispatch) {
					continue
				}
				evt, err := s.orders.fireVendorOrderTx(ctx, tx, &vos[i], entity.OrderRetryDispatch, notes, op, nil)
				if err != nil {
					return nil, err
				}
				evts = append(evts, evt)
			}
			return evts, nil
		},
	}, op)
}

// Return 投递失败后退回
func (s *DeliveryService) Return(ctx context.Context, id entity.DeliveryAssignmentID, notes string, op Op) (*entity.DeliveryAssignment, error) {
	if notes == "" {
		notes = "returned to origin"
	}
	return s.run(ctx, id, step{event: entity.DeliveryReturn, notes: notes}, op)
}

// Cancel 取消任务（指派或接单后），主订单撤回派送
func (s *DeliveryService) Cancel(ctx context.Context, id entity.DeliveryAssignmentID, reason string, op Op) (*entity.DeliveryAssignment, error) {
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	return s.run(ctx, id, step{
		event: entity.DeliveryCancel,
		notes: reason,
		after: func(tx *repository.Repositories, d *entity.DeliveryAssignment) ([]events.Event, error) {
			return s.release(ctx, tx, d, reason, op)
		},
	}, op)
}

// ProofUpload 上传的凭证文件
type ProofUpload struct {
	ProofType     string
	RecipientName string
	FileName      string
	ContentType   string
	Size          int64
	Body          io.Reader
}

// AddProof 上传签收凭证到对象存储
func (s *DeliveryService) AddProof(ctx context.Context, id entity.DeliveryAssignmentID, up *ProofUpload, op Op) (*entity.DeliveryProof, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, apperr.BusinessLogic("object storage not configured")
	}
	if !entity.ValidProofType(up.ProofType) {
		return nil, apperr.Validation("invalid proof type %q", up.ProofType)
	}
	if up.Body == nil || up.FileName == "" {
		return nil, apperr.Validation("proof file is required")
	}
	d, err := s.repos.Delivery.FindAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	proof := &entity.DeliveryProof{
		ID:            idgen.NewID(),
		AssignmentID:  d.ID,
		ProofType:     up.ProofType,
		FileName:      path.Base(up.FileName),
		FileSize:      up.Size,
		ContentType:   up.ContentType,
		RecipientName: up.RecipientName,
		CreatedBy:     op.Actor,
		CreatedAt:     op.At,
	}
	proof.ObjectKey = fmt.Sprintf("deliveries/%s/%s-%s", d.ID, proof.ID, proof.FileName)
	if err := s.store.Put(ctx, proof.ObjectKey, up.Body, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("upload proof: %w", err)
	}
	if err := s.repos.Delivery.CreateProof(ctx, proof); err != nil {
		return nil, err
	}
	s.log.Info("delivery proof uploaded",
		zap.String("assignment_id", string(d.ID)),
		zap.String("object_key", proof.ObjectKey),
		zap.Int64("size", up.Size))
	return proof, nil
}

// ProofView 凭证及临时下载地址
type ProofView struct {
	entity.DeliveryProof
	URL string `json:"url,omitempty"`
}

// Proofs 签收凭证列表，文件类凭证附带预签名地址
func (s *DeliveryService) Proofs(ctx context.Context, id entity.DeliveryAssignmentID) ([]ProofView, error) {
	if _, err := s.repos.Delivery.FindAssignment(ctx, id); err != nil {
		return nil, err
	}
	list, err := s.repos.Delivery.FindProofs(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]ProofView, 0, len(list))
	for _, p := range list {
		v := ProofView{DeliveryProof: p}
		if p.ObjectKey != "" && s.store != nil {
			url, err := s.store.PresignedURL(ctx, p.ObjectKey, s.opts.ProofURLExpiry)
			if err != nil {
				s.log.Warn("failed to presign proof", zap.String("object_key", p.ObjectKey), zap.Error(err))
			}
			v.URL = url
		}
		out = append(out, v)
	}
	return out, nil
}
