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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcurementService 采购订单
type ProcurementService struct {
	base
	inventory *InventoryService
}

func NewProcurementService(b base, inventory *InventoryService) *ProcurementService {
	return &ProcurementService{base: b, inventory: inventory}
}

// Get 获取采购订单
func (s *ProcurementService) Get(ctx context.Context, id entity.PurchaseOrderID) (*entity.PurchaseOrder, error) {
	return s.repos.Purchase.FindByID(ctx, id)
}

// List 采购订单列表
func (s *ProcurementService) List(ctx context.Context, f repository.POFilter) ([]entity.PurchaseOrder, int64, error) {
	return s.repos.Purchase.FindAll(ctx, f)
}

// StatusLogs 状态日志
func (s *ProcurementService) StatusLogs(ctx context.Context, id entity.PurchaseOrderID) ([]entity.POStatusLog, error) {
	if _, err := s.repos.Purchase.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Purchase.FindStatusLogs(ctx, id)
}

// POItemInput 采购明细
type POItemInput struct {
	ProductID     entity.ProductID `json:"product_id" binding:"required"`
	VariantID     string           `json:"variant_id"`
	ProductName   string           `json:"product_name"`
	SKU           string           `json:"sku"`
	Quantity      int              `json:"quantity" binding:"required,gt=0"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	TaxPercentage decimal.Decimal  `json:"tax_percentage"`
	Notes         string           `json:"notes"`
}

// CreatePORequest 创建采购订单请求
type CreatePORequest struct {
	VendorID        entity.VendorID    `json:"vendor_id" binding:"required"`
	WarehouseID     entity.WarehouseID `json:"warehouse_id" binding:"required"`
	SupplierName    string             `json:"supplier_name"`
	SupplierContact string             `json:"supplier_contact"`
	ExpectedDate    *time.Time         `json:"expected_date"`
	Currency        string             `json:"currency" binding:"omitempty,len=3"`
	ShippingAmount  decimal.Decimal    `json:"shipping_amount"`
	DiscountAmount  decimal.Decimal    `json:"discount_amount"`
	Notes           string             `json:"notes"`
	Items           []POItemInput      `json:"items" binding:"required,min=1,dive"`
}

func buildPOItems(poID entity.PurchaseOrderID, inputs []POItemInput, op Op) ([]entity.POItem, error) {
	items := make([]entity.POItem, 0, len(inputs))
	for i, in := range inputs {
		if err := requireNonNegative("unit_price", in.UnitPrice); err != nil {
			return nil, apperr.Validation("item %d: %v", i+1, err)
		}
		if err := requireNonNegative("tax_percentage", in.TaxPercentage); err != nil {
			return nil, apperr.Validation("item %d: %v", i+1, err)
		}
		items = append(items, entity.POItem{
			ID:              entity.POItemID(idgen.NewID()),
			PurchaseOrderID: poID,
			ProductID:       in.ProductID,
			VariantID:       in.VariantID,
			ProductName:     in.ProductName,
			SKU:             in.SKU,
			QuantityOrdered: in.Quantity,
			UnitPrice:       in.UnitPrice,
			TaxPercentage:   in.TaxPercentage,
			Notes:           in.Notes,
			CreatedAt:       op.At,
			UpdatedAt:       op.At,
		})
	}
	return items, nil
}

// Create 创建采购订单（草稿）
func (s *ProcurementService) Create(ctx context.Context, req *CreatePORequest, op Op) (*entity.PurchaseOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireNonNegative("shipping_amount", req.ShippingAmount); err != nil {
		return nil, err
	}
	if err := requireNonNegative("discount_amount", req.DiscountAmount); err != nil {
		return nil, err
	}

	po := &entity.PurchaseOrder{
		ID:              entity.PurchaseOrderID(idgen.NewID()),
		PONumber:        idgen.Code("PO", op.At),
		VendorID:        req.VendorID,
		SupplierName:    req.SupplierName,
		SupplierContact: req.SupplierContact,
		WarehouseID:     req.WarehouseID,
		Status:          entity.POStatusDraft,
		OrderDate:       op.At,
		ExpectedDate:    req.ExpectedDate,
		Currency:        req.Currency,
		ShippingAmount:  req.ShippingAmount,
		DiscountAmount:  req.DiscountAmount,
		Notes:           req.Notes,
		CreatedBy:       op.Actor,
		CreatedAt:       op.At,
		UpdatedAt:       op.At,
	}
	if po.Currency == "" {
		po.Currency = "INR"
	}
	items, err := buildPOItems(po.ID, req.Items, op)
	if err != nil {
		return nil, err
	}
	po.Items = items
	po.RecalculateTotals()

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		vendor, err := tx.Vendor.FindByID(ctx, req.VendorID)
		if err != nil {
			return err
		}
		if po.SupplierName == "" {
			po.SupplierName = vendor.StoreName
		}
		if _, err := tx.Vendor.FindWarehouse(ctx, req.WarehouseID); err != nil {
			return err
		}
		if err := tx.Purchase.Create(ctx, po); err != nil {
			return err
		}
		return tx.Purchase.CreateStatusLog(ctx, &entity.POStatusLog{
			ID:              idgen.NewID(),
			PurchaseOrderID: po.ID,
			NewStatus:       po.Status,
			Notes:           "created",
			ChangedBy:       op.Actor,
			CreatedAt:       op.At,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("purchase order created", zap.String("po_id", string(po.ID)), zap.String("po_number", po.PONumber))
	return po, nil
}

// UpdatePORequest 修改采购订单请求（仅草稿/驳回状态）
type UpdatePORequest struct {
	SupplierName    *string          `json:"supplier_name"`
	SupplierContact *string          `json:"supplier_contact"`
	ExpectedDate    *time.Time       `json:"expected_date"`
	ShippingAmount  *decimal.Decimal `json:"shipping_amount"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount"`
	Notes           *string          `json:"notes"`
	Items           []POItemInput    `json:"items" binding:"omitempty,dive"`
}

// Update 修改采购订单
func (s *ProcurementService) Update(ctx context.Context, id entity.PurchaseOrderID, req *UpdatePORequest, op Op) (*entity.PurchaseOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var po *entity.PurchaseOrder
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		po, err = tx.Purchase.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.Editable() {
			return apperr.BusinessLogic("purchase order %s cannot be modified in status %s", po.PONumber, po.Status)
		}
		if req.SupplierName != nil {
			po.SupplierName = *req.SupplierName
		}
		if req.SupplierContact != nil {
			po.SupplierContact = *req.SupplierContact
		}
		if req.ExpectedDate != nil {
			po.ExpectedDate = req.ExpectedDate
		}
		if req.ShippingAmount != nil {
			if err := requireNonNegative("shipping_amount", *req.ShippingAmount); err != nil {
				return err
			}
			po.ShippingAmount = *req.ShippingAmount
		}
		if req.DiscountAmount != nil {
			if err := requireNonNegative("discount_amount", *req.DiscountAmount); err != nil {
				return err
			}
			po.DiscountAmount = *req.DiscountAmount
		}
		if req.Notes != nil {
			po.Notes = *req.Notes
		}
		if req.Items != nil {
			if len(req.Items) == 0 {
				return apperr.Validation("purchase order needs at least one item")
			}
			items, err := buildPOItems(po.ID, req.Items, op)
			if err != nil {
				return err
			}
			po.Items = items
		}
		po.RecalculateTotals()
		po.UpdatedAt = op.At
		if req.Items != nil {
			if err := tx.Purchase.ReplaceItems(ctx, po.ID, po.Items); err != nil {
				return err
			}
		} else {
			for i := range po.Items {
				if err := tx.Purchase.SaveItem(ctx, &po.Items[i]); err != nil {
					return err
				}
			}
		}
		return tx.Purchase.Save(ctx, po)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// transition 锁定订单、校验流转表、保存并写状态日志
func (s *ProcurementService) transition(ctx context.Context, id entity.PurchaseOrderID, ev fsm.Event, notes string, op Op,
	apply func(po *entity.PurchaseOrder)) (*entity.PurchaseOrder, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		po  *entity.PurchaseOrder
		old entity.POStatus
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		po, err = tx.Purchase.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old = po.Status
		next, err := entity.POTransitions.Fire(po.Status, ev)
		if err != nil {
			return err
		}
		po.Status = next
		po.UpdatedAt = op.At
		if apply != nil {
			apply(po)
		}
		if err := tx.Purchase.Save(ctx, po); err != nil {
			return err
		}
		return s.logStatus(ctx, tx, po.ID, old, next, notes, op)
	})
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, po, old, notes, op)
	return po, nil
}

func (s *ProcurementService) logStatus(ctx context.Context, tx *repository.Repositories, id entity.PurchaseOrderID, from, to entity.POStatus, notes string, op Op) error {
	return tx.Purchase.CreateStatusLog(ctx, &entity.POStatusLog{
		ID:              idgen.NewID(),
		PurchaseOrderID: id,
		OldStatus:       from,
		NewStatus:       to,
		Notes:           notes,
		ChangedBy:       op.Actor,
		CreatedAt:       op.At,
	})
}

func (s *ProcurementService) afterStatusChange(ctx context.Context, po *entity.PurchaseOrder, old entity.POStatus, notes string, op Op) {
	s.log.Info("purchase order status changed",
		zap.String("po_id", string(po.ID)),
		zap.String("from", string(old)),
		zap.String("to", string(po.Status)),
		zap.String("actor", op.Actor))
	s.publish(ctx, event(events.PurchaseOrderStatus, string(po.ID), op,
		StatusChange{ID: string(po.ID), From: string(old), To: string(po.Status), Notes: notes}))
}

// Submit 提交审批
func (s *ProcurementService) Submit(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POSubmit, "submitted for approval", op, func(po *entity.PurchaseOrder) {
		po.SubmittedAt = op.at()
		po.RejectionReason = ""
	})
}

// Approve 审批通过
func (s *ProcurementService) Approve(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POApprove, "approved", op, func(po *entity.PurchaseOrder) {
		po.ApprovedBy = op.Actor
		po.ApprovedAt = op.at()
	})
}

// Reject 审批驳回
func (s *ProcurementService) Reject(ctx context.Context, id entity.PurchaseOrderID, reason string, op Op) (*entity.PurchaseOrder, error) {
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	return s.transition(ctx, id, entity.POReject, reason, op, func(po *entity.PurchaseOrder) {
		po.RejectionReason = reason
	})
}

// Send 发送给供应商
func (s *ProcurementService) Send(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POSend, "sent to supplier", op, func(po *entity.PurchaseOrder) {
		po.SentAt = op.at()
	})
}

// Confirm 供应商确认
func (s *ProcurementService) Confirm(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POConfirm, "confirmed by supplier", op, func(po *entity.PurchaseOrder) {
		po.ConfirmedAt = op.at()
	})
}

// StartReceiving 开始收货
func (s *ProcurementService) StartReceiving(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POStartReceiving, "receiving started", op, nil)
}

// Complete 完成
func (s *ProcurementService) Complete(ctx context.Context, id entity.PurchaseOrderID, op Op) (*entity.PurchaseOrder, error) {
	return s.transition(ctx, id, entity.POComplete, "completed", op, func(po *entity.PurchaseOrder) {
		po.CompletedAt = op.at()
	})
}

// Cancel 取消
func (s *ProcurementService) Cancel(ctx context.Context, id entity.PurchaseOrderID, reason string, op Op) (*entity.PurchaseOrder, error) {
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	return s.transition(ctx, id, entity.POCancel, reason, op, func(po *entity.PurchaseOrder) {
		po.CancelledBy = op.Actor
		po.CancelledAt = op.at()
		po.CancellationReason = reason
	})
}

// ReceiveLine 收货行
type ReceiveLine struct {
	ItemID      entity.POItemID `json:"item_id" binding:"required"`
	Quantity    int             `json:"quantity"`
	BatchNumber *string         `json:"batch_number"`
	Notes       string          `json:"notes"`
}

// ReceiveRequest 收货请求；仓库为空时使用订单仓库
type ReceiveRequest struct {
	WarehouseID entity.WarehouseID `json:"warehouse_id"`
	LocationID  string             `json:"location_id"`
	BatchNumber string             `json:"batch_number"`
	ExpiryDate  *time.Time         `json:"expiry_date"`
	Items       []ReceiveLine      `json:"items" binding:"required,min=1,dive"`
}

// ReceiveLineResult 单行收货结果
type ReceiveLineResult struct {
	ItemID      entity.POItemID    `json:"item_id"`
	Quantity    int                `json:"quantity"`
	Accepted    bool               `json:"accepted"`
	Reason      string             `json:"reason,omitempty"`
	InventoryID entity.InventoryID `json:"inventory_id,omitempty"`
}

// ReceiveResult 收货结果
type ReceiveResult struct {
	Order *entity.PurchaseOrder `json:"order"`
	Lines []ReceiveLineResult   `json:"lines"`
}

// Receive 按行收货入库：非法行单独拒绝，有效行同一事务入库
// 全部行非法时返回 Validation 错误与逐行结果，不做任何修改
func (s *ProcurementService) Receive(ctx context.Context, id entity.PurchaseOrderID, req *ReceiveRequest, op Op) (*ReceiveResult, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var (
		result       ReceiveResult
		old          entity.POStatus
		moves        []*entity.InventoryMovement
		noneAccepted bool
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		po, err := tx.Purchase.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old = po.Status
		result.Order = po
		if !entity.POTransitions.Can(po.Status, entity.POReceivePartial) {
			return apperr.InvalidTransition(entity.POTransitions.Entity(), string(entity.POReceivePartial), string(po.Status))
		}

		warehouse := req.WarehouseID
		if warehouse == "" {
			warehouse = po.WarehouseID
		}

		pending := make(map[entity.POItemID]int, len(po.Items))
		for _, it := range po.Items {
			pending[it.ID] = it.QuantityPending()
		}

		accepted := 0
		result.Lines = make([]ReceiveLineResult, 0, len(req.Items))
		for _, line := range req.Items {
			lr := ReceiveLineResult{ItemID: line.ItemID, Quantity: line.Quantity}
			item := po.ItemByID(line.ItemID)
			switch {
			case item == nil:
				lr.Reason = "item does not belong to this purchase order"
			case line.Quantity <= 0:
				lr.Reason = "quantity must be positive"
			case line.Quantity > pending[line.ItemID]:
				lr.Reason = "quantity exceeds pending quantity"
			}
			if lr.Reason != "" {
				result.Lines = append(result.Lines, lr)
				continue
			}

			batch := req.BatchNumber
			if line.BatchNumber != nil {
				batch = *line.BatchNumber
			}
			rec, m, err := s.inventory.receiveInwardTx(ctx, tx, &InwardRequest{
				Key: entity.InventoryKey{
					ProductID:   item.ProductID,
					VariantID:   item.VariantID,
					WarehouseID: warehouse,
					VendorID:    po.VendorID,
					BatchNumber: batch,
				},
				Quantity:    line.Quantity,
				LocationID:  req.LocationID,
				ExpiryDate:  req.ExpiryDate,
				ProductName: item.ProductName,
				SKU:         item.SKU,
				BuyPrice:    item.UnitPrice,
				InwardType:  "purchase",
				Source:      Ref{Type: entity.RefPurchaseOrderItem, ID: string(item.ID), Notes: po.PONumber},
			}, op)
			if err != nil {
				return err
			}
			moves = append(moves, m)

			item.QuantityReceived += line.Quantity
			item.UpdatedAt = op.At
			pending[item.ID] -= line.Quantity
			if err := tx.Purchase.SaveItem(ctx, item); err != nil {
				return err
			}
			lr.Accepted = true
			lr.InventoryID = rec.ID
			result.Lines = append(result.Lines, lr)
			accepted++
		}

		if accepted == 0 {
			noneAccepted = true
			return apperr.Validation("no valid receive lines")
		}

		ev := entity.POReceivePartial
		if po.FullyReceived() {
			ev = entity.POReceiveAll
		}
		next, err := entity.POTransitions.Fire(po.Status, ev)
		if err != nil {
			return err
		}
		po.Status = next
		po.UpdatedAt = op.At
		if next == entity.POStatusReceived {
			po.ReceivedAt = op.at()
		}
		if err := tx.Purchase.Save(ctx, po); err != nil {
			return err
		}
		return s.logStatus(ctx, tx, po.ID, old, next, "goods received", op)
	})
	if err != nil {
		// 全部行被拒时返回逐行原因；其余错误整单回滚，逐行结果不可信
		if noneAccepted {
			return &result, err
		}
		return nil, err
	}

	s.inventory.publishMovements(ctx, op, moves...)
	if old != result.Order.Status {
		s.afterStatusChange(ctx, result.Order, old, "goods received", op)
	}
	return &result, nil
}
