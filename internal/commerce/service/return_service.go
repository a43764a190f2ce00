package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/fsm"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"go.uber.org/zap"
)

// ReturnService 退货（RMA）
type ReturnService struct {
	base
	inventory *InventoryService
}

func NewReturnService(b base, inventory *InventoryService) *ReturnService {
	return &ReturnService{base: b, inventory: inventory}
}

// Get 退货单详情
func (s *ReturnService) Get(ctx context.Context, id entity.ReturnRequestID) (*entity.ReturnRequest, error) {
	return s.repos.Return.FindByID(ctx, id)
}

// List 退货单列表
func (s *ReturnService) List(ctx context.Context, f repository.ReturnFilter) ([]entity.ReturnRequest, int64, error) {
	return s.repos.Return.FindAll(ctx, f)
}

// StatusLogs 退货状态日志
func (s *ReturnService) StatusLogs(ctx context.Context, id entity.ReturnRequestID) ([]entity.ReturnStatusLog, error) {
	if _, err := s.repos.Return.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Return.FindStatusLogs(ctx, id)
}

// Stats 退货单状态分布
func (s *ReturnService) Stats(ctx context.Context, vendorID entity.VendorID) ([]repository.StatusCount, error) {
	return s.repos.Return.CountByStatus(ctx, vendorID)
}

// ReturnLine 退货行
type ReturnLine struct {
	VendorOrderItemID entity.VendorOrderItemID `json:"vendor_order_item_id" binding:"required"`
	Quantity          int                      `json:"quantity" binding:"required,gt=0"`
	Condition         string                   `json:"condition"`
}

// CreateReturnRequest 退货申请
type CreateReturnRequest struct {
	VendorOrderID entity.VendorOrderID `json:"vendor_order_id" binding:"required"`
	CustomerID    entity.CustomerID    `json:"customer_id"`
	ReturnType    string               `json:"return_type" binding:"omitempty,oneof=refund replacement exchange"`
	Reason        string               `json:"reason" binding:"required"`
	Description   string               `json:"description"`
	PickupAddress *entity.Address      `json:"pickup_address"`
	Items         []ReturnLine         `json:"items" binding:"required,min=1,dive"`
}

// Create 创建退货申请：商家订单须已送达或完成，申请数量不超过可退数量
// 可退数量扣除其他未结束退货单已申请的数量
func (s *ReturnService) Create(ctx context.Context, req *CreateReturnRequest, op Op) (*entity.ReturnRequest, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var rr *entity.ReturnRequest
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		vo, err := tx.Order.FindVendorOrderForUpdate(ctx, req.VendorOrderID)
		if err != nil {
			return err
		}
		if vo.Status != entity.OrderDelivered && vo.Status != entity.OrderCompleted {
			return apperr.BusinessLogic("vendor order %s is %s; only delivered orders can be returned", vo.OrderNumber, vo.Status)
		}
		so, err := tx.Order.FindSalesOrder(ctx, vo.SalesOrderID)
		if err != nil {
			return err
		}
		customer := req.CustomerID
		if customer == "" {
			customer = so.CustomerID
		}
		if customer != so.CustomerID {
			return apperr.PermissionDenied("order %s does not belong to customer %s", so.OrderNumber, customer)
		}

		rr = &entity.ReturnRequest{
			ID:            entity.ReturnRequestID(idgen.NewID()),
			RMANumber:     idgen.Code("RMA", op.At),
			VendorOrderID: vo.ID,
			SalesOrderID:  vo.SalesOrderID,
			VendorID:      vo.VendorID,
			CustomerID:    customer,
			ReturnType:    req.ReturnType,
			Reason:        req.Reason,
			Description:   req.Description,
			Status:        entity.ReturnRequested,
			PickupAddress: so.ShippingAddress,
			CreatedBy:     op.Actor,
			CreatedAt:     op.At,
			UpdatedAt:     op.At,
		}
		if rr.ReturnType == "" {
			rr.ReturnType = entity.ReturnTypeRefund
		}
		if req.PickupAddress != nil {
			rr.PickupAddress = *req.PickupAddress
		}

		requested := make(map[entity.VendorOrderItemID]int)
		for _, line := range req.Items {
			it := vo.ItemByID(line.VendorOrderItemID)
			if it == nil {
				return apperr.Validation("item %s does not belong to vendor order %s", line.VendorOrderItemID, vo.OrderNumber)
			}
			pending, err := tx.Return.PendingQuantity(ctx, it.ID)
			if err != nil {
				return err
			}
			requested[it.ID] += line.Quantity
			returnable := it.Returnable() - pending
			if requested[it.ID] > returnable {
				return apperr.Validation("return quantity %d exceeds returnable quantity %d for %s",
					requested[it.ID], returnable, it.ProductName)
			}
			rr.Items = append(rr.Items, entity.ReturnItem{
				ID:                entity.ReturnItemID(idgen.NewID()),
				ReturnRequestID:   rr.ID,
				VendorOrderItemID: it.ID,
				InventoryID:       it.InventoryID,
				ProductID:         it.ProductID,
				ProductName:       it.ProductName,
				QuantityRequested: line.Quantity,
				UnitPrice:         it.UnitPrice,
				Condition:         line.Condition,
				CreatedAt:         op.At,
				UpdatedAt:         op.At,
			})
		}

		if err := tx.Return.Create(ctx, rr); err != nil {
			return err
		}
		return s.logStatus(ctx, tx, rr.ID, "", rr.Status, req.Reason, op)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("return requested",
		zap.String("return_id", string(rr.ID)),
		zap.String("rma_number", rr.RMANumber),
		zap.String("vendor_order_id", string(rr.VendorOrderID)))
	s.publish(ctx, s.statusEvent(rr, "", req.Reason, op))
	return rr, nil
}

func (s *ReturnService) logStatus(ctx context.Context, tx *repository.Repositories, id entity.ReturnRequestID, from, to entity.ReturnStatus, notes string, op Op) error {
	return tx.Return.CreateStatusLog(ctx, &entity.ReturnStatusLog{
		ID:              idgen.NewID(),
		ReturnRequestID: id,
		OldStatus:       from,
		NewStatus:       to,
		Notes:           notes,
		ChangedBy:       op.Actor,
		CreatedAt:       op.At,
	})
}

func (s *ReturnService) statusEvent(rr *entity.ReturnRequest, from entity.ReturnStatus, notes string, op Op) events.Event {
	return event(events.ReturnStatus, string(rr.ID), op,
		StatusChange{ID: string(rr.ID), From: string(from), To: string(rr.Status), Notes: notes})
}

// fireTx 对已锁定的退货单执行流转并写日志
func (s *ReturnService) fireTx(ctx context.Context, tx *repository.Repositories, rr *entity.ReturnRequest, ev fsm.Event, notes string, op Op) (events.Event, error) {
	old := rr.Status
	next, err := entity.ReturnTransitions.Fire(rr.Status, ev)
	if err != nil {
		return events.Event{}, err
	}
	rr.Status = next
	rr.UpdatedAt = op.At
	if err := s.logStatus(ctx, tx, rr.ID, old, next, notes, op); err != nil {
		return events.Event{}, err
	}
	return s.statusEvent(rr, old, notes, op), nil
}

// transition 锁定退货单执行一次流转；fn 在流转后、保存前执行
func (s *ReturnService) transition(ctx context.Context, id entity.ReturnRequestID, ev fsm.Event, notes string, op Op,
	fn func(tx *repository.Repositories, rr *entity.ReturnRequest) error) (*entity.ReturnRequest, error) {
	return s.transitionUnless(ctx, id, "", ev, notes, op, fn)
}

// transitionUnless 同 transition；锁定后已处于 done 状态时原样返回，不写日志不发事件
func (s *ReturnService) transitionUnless(ctx context.Context, id entity.ReturnRequestID, done entity.ReturnStatus, ev fsm.Event, notes string, op Op,
	fn func(tx *repository.Repositories, rr *entity.ReturnRequest) error) (*entity.ReturnRequest, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		rr        *entity.ReturnRequest
		evt       events.Event
		unchanged bool
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if rr, err = tx.Return.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		if done != "" && rr.Status == done {
			unchanged = true
			return nil
		}
		if evt, err = s.fireTx(ctx, tx, rr, ev, notes, op); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(tx, rr); err != nil {
				return err
			}
		}
		return tx.Return.Save(ctx, rr)
	})
	if err != nil {
		return nil, err
	}
	if unchanged {
		return rr, nil
	}
	s.log.Info("return status changed",
		zap.String("return_id", string(id)),
		zap.String("status", string(rr.Status)),
		zap.String("actor", op.Actor))
	s.publish(ctx, evt)
	return rr, nil
}

// Approve 同意退货，核准数量等于申请数量
func (s *ReturnService) Approve(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transition(ctx, id, entity.ReturnApprove, "approved", op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		rr.ApprovedBy = op.Actor
		rr.ApprovedAt = op.at()
		for i := range rr.Items {
			rr.Items[i].QuantityApproved = rr.Items[i].QuantityRequested
			rr.Items[i].UpdatedAt = op.At
		}
		return tx.Return.SaveItems(ctx, rr.Items)
	})
}

// Reject 拒绝退货
func (s *ReturnService) Reject(ctx context.Context, id entity.ReturnRequestID, reason string, op Op) (*entity.ReturnRequest, error) {
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	return s.transition(ctx, id, entity.ReturnReject, reason, op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		rr.RejectionReason = reason
		return nil
	})
}

// SchedulePickupRequest 安排上门取件
type SchedulePickupRequest struct {
	PickupDate time.Time               `json:"pickup_date" binding:"required"`
	AgentID    *entity.DeliveryAgentID `json:"agent_id"`
}

// SchedulePickup 安排取件
func (s *ReturnService) SchedulePickup(ctx context.Context, id entity.ReturnRequestID, req *SchedulePickupRequest, op Op) (*entity.ReturnRequest, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, entity.ReturnSchedulePickup, "pickup scheduled", op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		if req.AgentID != nil {
			agent, err := tx.Delivery.FindAgent(ctx, *req.AgentID)
			if err != nil {
				return err
			}
			if !agent.IsActive() {
				return apperr.BusinessLogic("delivery agent %s is not active", agent.Name)
			}
			rr.PickupAgentID = req.AgentID
		}
		date := req.PickupDate
		rr.PickupDate = &date
		return nil
	})
}

// CompletePickup 取件完成
func (s *ReturnService) CompletePickup(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transition(ctx, id, entity.ReturnCompletePickup, "pickup completed", op, nil)
}

// ShipBack 退回运输中
func (s *ReturnService) ShipBack(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transition(ctx, id, entity.ReturnShipBack, "in transit to warehouse", op, nil)
}

// Receive 仓库收到退货：收货数量等于核准数量，按明细库存记录回写 return 移动
func (s *ReturnService) Receive(ctx context.Context, id entity.ReturnRequestID, notes string, op Op) (*entity.ReturnRequest, error) {
	if notes == "" {
		notes = "received at warehouse"
	}
	var moves []*entity.InventoryMovement
	rr, err := s.transition(ctx, id, entity.ReturnReceive, notes, op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		rr.ReceivedAt = op.at()
		ids := make([]entity.InventoryID, 0, len(rr.Items))
		for _, it := range rr.Items {
			if it.QuantityApproved > 0 {
				if it.InventoryID == "" {
					return apperr.BusinessLogic("return item %s has no inventory record", it.ProductName)
				}
				ids = append(ids, it.InventoryID)
			}
		}
		records, err := tx.Inventory.LockMany(ctx, ids...)
		if err != nil {
			return err
		}
		ref := Ref{Type: entity.RefReturnRequest, ID: string(rr.ID), Notes: rr.RMANumber}
		for i := range rr.Items {
			it := &rr.Items[i]
			it.QuantityReceived = it.QuantityApproved
			it.UpdatedAt = op.At
			if it.QuantityReceived == 0 {
				continue
			}
			rec := records[it.InventoryID]
			m, err := rec.Inward(it.QuantityReceived, entity.MovementReturn)
			if err != nil {
				return err
			}
			if err := s.inventory.saveMovement(ctx, tx, rec, m, ref, op); err != nil {
				return err
			}
			moves = append(moves, m)
		}
		return tx.Return.SaveItems(ctx, rr.Items)
	})
	if err != nil {
		return nil, err
	}
	s.inventory.publishMovements(ctx, op, moves...)
	return rr, nil
}

// InspectLine 单行质检
type InspectLine struct {
	ItemID    entity.ReturnItemID `json:"item_id" binding:"required"`
	Result    string              `json:"result" binding:"omitempty,oneof=passed failed partial"`
	Condition string              `json:"condition"`
	Notes     string              `json:"notes"`
}

// InspectRequest 质检请求
type InspectRequest struct {
	Result string        `json:"result" binding:"required,oneof=passed failed partial"`
	Notes  string        `json:"notes"`
	Items  []InspectLine `json:"items" binding:"omitempty,dive"`
}

// Inspect 质检：经 inspecting 流转到通过或不通过，partial 视为通过
// 只记录整单及逐行结果，不改动核准与收货数量；逐行 failed 的明细不计退款
func (s *ReturnService) Inspect(ctx context.Context, id entity.ReturnRequestID, req *InspectRequest, op Op) (*entity.ReturnRequest, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var (
		rr   *entity.ReturnRequest
		evts []events.Event
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if rr, err = tx.Return.FindByIDForUpdate(ctx, id); err != nil {
			return err
		}
		evt, err := s.fireTx(ctx, tx, rr, entity.ReturnStartInspection, "inspection started", op)
		if err != nil {
			return err
		}
		evts = append(evts, evt)

		for i := range rr.Items {
			rr.Items[i].InspectionResult = req.Result
		}
		for _, line := range req.Items {
			it := rr.ItemByID(line.ItemID)
			if it == nil {
				return apperr.Validation("item %s does not belong to return %s", line.ItemID, rr.RMANumber)
			}
			if line.Result != "" {
				it.InspectionResult = line.Result
			}
			if line.Condition != "" {
				it.Condition = line.Condition
			}
			it.InspectionNotes = line.Notes
		}
		for i := range rr.Items {
			rr.Items[i].UpdatedAt = op.At
		}
		if err := tx.Return.SaveItems(ctx, rr.Items); err != nil {
			return err
		}

		ev := entity.ReturnPass
		if req.Result == entity.InspectionFailed {
			ev = entity.ReturnFail
		}
		notes := req.Notes
		if notes == "" {
			notes = "inspection " + req.Result
		}
		evt, err = s.fireTx(ctx, tx, rr, ev, notes, op)
		if err != nil {
			return err
		}
		evts = append(evts, evt)
		rr.InspectionResult = req.Result
		rr.InspectionNotes = req.Notes
		rr.InspectedBy = op.Actor
		rr.InspectedAt = op.at()
		return tx.Return.Save(ctx, rr)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("return inspected",
		zap.String("return_id", string(id)),
		zap.String("result", req.Result),
		zap.String("status", string(rr.Status)))
	s.publish(ctx, evts...)
	return rr, nil
}

// InitiateRefund 发起退款；已处于 refund_initiated 时原样返回
func (s *ReturnService) InitiateRefund(ctx context.Context, id entity.ReturnRequestID, method string, op Op) (*entity.ReturnRequest, error) {
	if method == "" {
		return nil, apperr.Validation("refund method is required")
	}
	return s.transitionUnless(ctx, id, entity.ReturnRefundInitiated, entity.ReturnInitiateRefund, "refund initiated via "+method, op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		amount := rr.CalculateRefund()
		if !amount.IsPositive() {
			return apperr.BusinessLogic("return %s has nothing to refund", rr.RMANumber)
		}
		rr.RefundAmount = amount
		rr.RefundMethod = method
		return nil
	})
}

// CompleteRefund 退款完成：回写商家订单退货数量并记商家账本借方；已完成时原样返回
func (s *ReturnService) CompleteRefund(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transitionUnless(ctx, id, entity.ReturnRefundCompleted, entity.ReturnCompleteRefund, "refund completed", op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		rr.RefundedAt = op.at()
		vo, err := tx.Order.FindVendorOrderForUpdate(ctx, rr.VendorOrderID)
		if err != nil {
			return err
		}
		for i := range rr.Items {
			it := &rr.Items[i]
			it.QuantityRefunded = it.RefundableQuantity()
			it.UpdatedAt = op.At
			if it.QuantityRefunded == 0 {
				continue
			}
			voItem := vo.ItemByID(it.VendorOrderItemID)
			if voItem == nil {
				return apperr.NotFound("vendor order item %s not found", it.VendorOrderItemID)
			}
			voItem.QuantityReturned += it.QuantityRefunded
			voItem.UpdatedAt = op.At
			if err := tx.Order.SaveVendorOrderItem(ctx, voItem); err != nil {
				return err
			}
		}
		if err := tx.Return.SaveItems(ctx, rr.Items); err != nil {
			return err
		}
		_, err = postLedgerTx(ctx, tx, ledgerPosting{
			VendorID:        rr.VendorID,
			EntryType:       entity.LedgerDebit,
			Amount:          rr.RefundAmount,
			ReferenceType:   entity.LedgerRefRefund,
			ReferenceID:     string(rr.ID),
			ReferenceNumber: rr.RMANumber,
			Description:     "refund for " + rr.RMANumber,
		}, op)
		return err
	})
}

// ShipReplacement 发出换货
func (s *ReturnService) ShipReplacement(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transition(ctx, id, entity.ReturnShipReplacement, "replacement shipped", op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		if rr.ReturnType == entity.ReturnTypeRefund {
			return apperr.BusinessLogic("return %s is a refund request", rr.RMANumber)
		}
		return nil
	})
}

// Complete 结束退货单
func (s *ReturnService) Complete(ctx context.Context, id entity.ReturnRequestID, op Op) (*entity.ReturnRequest, error) {
	return s.transition(ctx, id, entity.ReturnComplete, "completed", op, func(tx *repository.Repositories, rr *entity.ReturnRequest) error {
		rr.CompletedAt = op.at()
		return nil
	})
}

// Cancel 取消退货单
func (s *ReturnService) Cancel(ctx context.Context, id entity.ReturnRequestID, reason string, op Op) (*entity.ReturnRequest, error) {
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	return s.transition(ctx, id, entity.ReturnCancel, reason, op, nil)
}
