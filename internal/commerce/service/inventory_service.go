package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/apperr"
	"github.com/bitfantasy/nimo-commerce/internal/shared/events"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryService 库存台账
type InventoryService struct {
	base
}

func NewInventoryService(b base) *InventoryService {
	return &InventoryService{base: b}
}

// Ref 库存移动的引用来源
type Ref struct {
	Type  string `json:"reference_type"`
	ID    string `json:"reference_id"`
	Notes string `json:"notes"`
}

// Get 获取库存记录
func (s *InventoryService) Get(ctx context.Context, id entity.InventoryID) (*entity.InventoryRecord, error) {
	return s.repos.Inventory.FindByID(ctx, id)
}

// List 库存列表
func (s *InventoryService) List(ctx context.Context, f repository.InventoryFilter) ([]entity.InventoryRecord, int64, error) {
	return s.repos.Inventory.FindAll(ctx, f)
}

// Alerts 低库存与缺货
func (s *InventoryService) Alerts(ctx context.Context, vendorID entity.VendorID) ([]entity.InventoryRecord, error) {
	return s.repos.Inventory.FindAlerts(ctx, vendorID)
}

// ListMovements 库存移动记录
func (s *InventoryService) ListMovements(ctx context.Context, f repository.MovementFilter) ([]entity.InventoryMovement, int64, error) {
	return s.repos.Inventory.FindMovements(ctx, f)
}

// CreateRecordRequest 创建库存记录请求
type CreateRecordRequest struct {
	ProductID         entity.ProductID   `json:"product_id" binding:"required"`
	VariantID         string             `json:"variant_id"`
	WarehouseID       entity.WarehouseID `json:"warehouse_id" binding:"required"`
	VendorID          entity.VendorID    `json:"vendor_id" binding:"required"`
	LocationID        string             `json:"location_id"`
	BatchNumber       string             `json:"batch_number"`
	SerialNumber      string             `json:"serial_number"`
	ProductName       string             `json:"product_name"`
	SKU               string             `json:"sku"`
	ManufacturingDate *time.Time         `json:"manufacturing_date"`
	ExpiryDate        *time.Time         `json:"expiry_date"`
	Quantity          int                `json:"quantity" binding:"gte=0"`
	LowStockThreshold *int               `json:"low_stock_threshold" binding:"omitempty,gte=0"`
	BuyPrice          decimal.Decimal    `json:"buy_price"`
	SellPrice         decimal.Decimal    `json:"sell_price"`
	MRP               decimal.Decimal    `json:"mrp"`
	InwardType        string             `json:"inward_type"`
}

func (s *InventoryService) newRecord(req *CreateRecordRequest, op Op) *entity.InventoryRecord {
	threshold := s.opts.LowStockThreshold
	if req.LowStockThreshold != nil {
		threshold = *req.LowStockThreshold
	}
	rec := &entity.InventoryRecord{
		ID:                entity.InventoryID(idgen.NewID()),
		ProductID:         req.ProductID,
		VariantID:         req.VariantID,
		WarehouseID:       req.WarehouseID,
		VendorID:          req.VendorID,
		LocationID:        req.LocationID,
		BatchNumber:       req.BatchNumber,
		SerialNumber:      req.SerialNumber,
		ProductName:       req.ProductName,
		SKU:               req.SKU,
		ManufacturingDate: req.ManufacturingDate,
		ExpiryDate:        req.ExpiryDate,
		LowStockThreshold: threshold,
		BuyPrice:          req.BuyPrice,
		SellPrice:         req.SellPrice,
		MRP:               req.MRP,
		InwardType:        req.InwardType,
		CreatedBy:         op.Actor,
		CreatedAt:         op.At,
		UpdatedAt:         op.At,
	}
	rec.RefreshStockStatus()
	return rec
}

// CreateRecord 创建库存记录；初始数量大于0时记一笔入库
func (s *InventoryService) CreateRecord(ctx context.Context, req *CreateRecordRequest, op Op) (*entity.InventoryRecord, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	for name, p := range map[string]decimal.Decimal{"buy_price": req.BuyPrice, "sell_price": req.SellPrice, "mrp": req.MRP} {
		if err := requireNonNegative(name, p); err != nil {
			return nil, err
		}
	}

	rec := s.newRecord(req, op)
	var moves []*entity.InventoryMovement
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := tx.Vendor.FindWarehouse(ctx, req.WarehouseID); err != nil {
			return err
		}
		if err := tx.Inventory.Create(ctx, rec); err != nil {
			return err
		}
		if req.Quantity == 0 {
			return nil
		}
		m, err := rec.Inward(req.Quantity, entity.MovementInward)
		if err != nil {
			return err
		}
		if err := s.saveMovement(ctx, tx, rec, m, Ref{Type: entity.RefManual, Notes: "opening stock"}, op); err != nil {
			return err
		}
		moves = append(moves, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishMovements(ctx, op, moves...)
	return rec, nil
}

// saveMovement 持久化记录数量并追加移动
func (s *InventoryService) saveMovement(ctx context.Context, tx *repository.Repositories, rec *entity.InventoryRecord, m *entity.InventoryMovement, ref Ref, op Op) error {
	rec.UpdatedAt = op.At
	if err := tx.Inventory.SaveQuantities(ctx, rec); err != nil {
		return err
	}
	m.ID = idgen.NewID()
	m.Ref(ref.Type, ref.ID, ref.Notes)
	m.CreatedBy = op.Actor
	m.CreatedAt = op.At
	return tx.Inventory.CreateMovement(ctx, m)
}

func (s *InventoryService) publishMovements(ctx context.Context, op Op, moves ...*entity.InventoryMovement) {
	evts := make([]events.Event, 0, len(moves))
	for _, m := range moves {
		evts = append(evts, event(events.InventoryMovement, string(m.InventoryID), op, m))
	}
	s.publish(ctx, evts...)
}

// Reserve 预留库存
func (s *InventoryService) Reserve(ctx context.Context, id entity.InventoryID, qty int, ref Ref, op Op) (*entity.InventoryRecord, error) {
	return s.mutate(ctx, id, op, func(tx *repository.Repositories, rec *entity.InventoryRecord) (*entity.InventoryMovement, error) {
		return s.reserveTx(ctx, tx, rec, qty, ref, op)
	})
}

// Unreserve 释放预留，超出已预留部分截断
func (s *InventoryService) Unreserve(ctx context.Context, id entity.InventoryID, qty int, ref Ref, op Op) (*entity.InventoryRecord, error) {
	return s.mutate(ctx, id, op, func(tx *repository.Repositories, rec *entity.InventoryRecord) (*entity.InventoryMovement, error) {
		return s.unreserveTx(ctx, tx, rec, qty, ref, op)
	})
}

// AdjustRequest 盘点调整请求
type AdjustRequest struct {
	Delta  int                 `json:"delta" binding:"required"`
	Type   entity.MovementType `json:"type" binding:"omitempty,oneof=adjustment damage loss"`
	Reason string              `json:"reason"`
}

// Adjust 盘点调整
func (s *InventoryService) Adjust(ctx context.Context, id entity.InventoryID, req *AdjustRequest, op Op) (*entity.InventoryRecord, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, op, func(tx *repository.Repositories, rec *entity.InventoryRecord) (*entity.InventoryMovement, error) {
		m, err := rec.Adjust(req.Delta, req.Type)
		if err != nil {
			return nil, err
		}
		return m, s.saveMovement(ctx, tx, rec, m, Ref{Type: entity.RefManual, Notes: req.Reason}, op)
	})
}

// mutate 锁定单条记录执行变更
func (s *InventoryService) mutate(ctx context.Context, id entity.InventoryID, op Op,
	fn func(tx *repository.Repositories, rec *entity.InventoryRecord) (*entity.InventoryMovement, error)) (*entity.InventoryRecord, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		rec *entity.InventoryRecord
		m   *entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		rec, err = tx.Inventory.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		m, err = fn(tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m != nil {
		s.log.Info("inventory updated",
			zap.String("inventory_id", string(id)),
			zap.String("movement_type", string(m.MovementType)),
			zap.Int("quantity", rec.Quantity),
			zap.Int("reserved", rec.ReservedQuantity))
		s.publishMovements(ctx, op, m)
	}
	return rec, nil
}

func (s *InventoryService) reserveTx(ctx context.Context, tx *repository.Repositories, rec *entity.InventoryRecord, qty int, ref Ref, op Op) (*entity.InventoryMovement, error) {
	m, err := rec.Reserve(qty)
	if err != nil {
		return nil, err
	}
	return m, s.saveMovement(ctx, tx, rec, m, ref, op)
}

func (s *InventoryService) unreserveTx(ctx context.Context, tx *repository.Repositories, rec *entity.InventoryRecord, qty int, ref Ref, op Op) (*entity.InventoryMovement, error) {
	m, err := rec.Unreserve(qty)
	if err != nil || m == nil {
		return nil, err
	}
	return m, s.saveMovement(ctx, tx, rec, m, ref, op)
}

// consumeTx 发货出库：扣减在库并核销预留
func (s *InventoryService) consumeTx(ctx context.Context, tx *repository.Repositories, id entity.InventoryID, qty int, ref Ref, op Op) (*entity.InventoryMovement, error) {
	rec, err := tx.Inventory.FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := rec.Consume(qty)
	if err != nil {
		return nil, err
	}
	return m, s.saveMovement(ctx, tx, rec, m, ref, op)
}

// TransferRequest 调拨请求
type TransferRequest struct {
	ToWarehouseID entity.WarehouseID `json:"to_warehouse_id" binding:"required"`
	ToLocationID  string             `json:"to_location_id"`
	Quantity      int                `json:"quantity" binding:"required,gt=0"`
	Reason        string             `json:"reason"`
}

// TransferResult 调拨结果
type TransferResult struct {
	Source      *entity.InventoryRecord `json:"source"`
	Destination *entity.InventoryRecord `json:"destination"`
}

// Transfer 仓间调拨：源记录出库、目标记录入库（不存在时创建），单事务完成
func (s *InventoryService) Transfer(ctx context.Context, id entity.InventoryID, req *TransferRequest, op Op) (*TransferResult, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, apperr.Validation("transfer quantity must be positive, got %d", req.Quantity)
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var (
		result TransferResult
		moves  []*entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		src, err := tx.Inventory.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if src.WarehouseID == req.ToWarehouseID {
			return apperr.Validation("destination warehouse must differ from source")
		}
		if _, err := tx.Vendor.FindWarehouse(ctx, req.ToWarehouseID); err != nil {
			return err
		}

		tpl := &entity.InventoryRecord{
			ID:                entity.InventoryID(idgen.NewID()),
			ProductID:         src.ProductID,
			VariantID:         src.VariantID,
			WarehouseID:       req.ToWarehouseID,
			VendorID:          src.VendorID,
			BatchNumber:       src.BatchNumber,
			LocationID:        req.ToLocationID,
			ProductName:       src.ProductName,
			SKU:               src.SKU,
			ManufacturingDate: src.ManufacturingDate,
			ExpiryDate:        src.ExpiryDate,
			LowStockThreshold: src.LowStockThreshold,
			BuyPrice:          src.BuyPrice,
			SellPrice:         src.SellPrice,
			MRP:               src.MRP,
			InwardType:        string(entity.MovementTransfer),
			StockStatus:       entity.StockOutOfStock,
			CreatedBy:         op.Actor,
			CreatedAt:         op.At,
			UpdatedAt:         op.At,
		}
		dst, _, err := tx.Inventory.Ensure(ctx, tpl)
		if err != nil {
			return err
		}

		locked, err := tx.Inventory.LockMany(ctx, src.ID, dst.ID)
		if err != nil {
			return err
		}
		src, dst = locked[src.ID], locked[dst.ID]

		out, err := src.Outward(req.Quantity)
		if err != nil {
			return err
		}
		in, err := dst.Inward(req.Quantity, entity.MovementInward)
		if err != nil {
			return err
		}
		transferID := idgen.NewID()
		if err := s.saveMovement(ctx, tx, src, out, Ref{Type: entity.RefTransfer, ID: transferID, Notes: req.Reason}, op); err != nil {
			return err
		}
		if err := s.saveMovement(ctx, tx, dst, in, Ref{Type: entity.RefTransfer, ID: transferID, Notes: req.Reason}, op); err != nil {
			return err
		}
		result = TransferResult{Source: src, Destination: dst}
		moves = []*entity.InventoryMovement{out, in}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("inventory transferred",
		zap.String("source_id", string(result.Source.ID)),
		zap.String("destination_id", string(result.Destination.ID)),
		zap.Int("quantity", req.Quantity))
	s.publishMovements(ctx, op, moves...)
	return &result, nil
}

// InwardRequest 入库请求（按唯一键定位记录）
type InwardRequest struct {
	Key         entity.InventoryKey
	Quantity    int
	LocationID  string
	ExpiryDate  *time.Time
	ProductName string
	SKU         string
	BuyPrice    decimal.Decimal
	InwardType  string
	Source      Ref
	Movement    entity.MovementType
}

// ReceiveInward 入库：首次入库时创建记录
func (s *InventoryService) ReceiveInward(ctx context.Context, req *InwardRequest, op Op) (*entity.InventoryRecord, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	var (
		rec *entity.InventoryRecord
		m   *entity.InventoryMovement
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		rec, m, err = s.receiveInwardTx(ctx, tx, req, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishMovements(ctx, op, m)
	return rec, nil
}

func (s *InventoryService) receiveInwardTx(ctx context.Context, tx *repository.Repositories, req *InwardRequest, op Op) (*entity.InventoryRecord, *entity.InventoryMovement, error) {
	if req.Quantity <= 0 {
		return nil, nil, apperr.Validation("inward quantity must be positive, got %d", req.Quantity)
	}
	if req.Key.ProductID == "" || req.Key.WarehouseID == "" || req.Key.VendorID == "" {
		return nil, nil, apperr.Validation("product, warehouse and vendor are required for inward")
	}
	tpl := &entity.InventoryRecord{
		ID:                entity.InventoryID(idgen.NewID()),
		ProductID:         req.Key.ProductID,
		VariantID:         req.Key.VariantID,
		WarehouseID:       req.Key.WarehouseID,
		VendorID:          req.Key.VendorID,
		BatchNumber:       req.Key.BatchNumber,
		LocationID:        req.LocationID,
		ExpiryDate:        req.ExpiryDate,
		ProductName:       req.ProductName,
		SKU:               req.SKU,
		BuyPrice:          req.BuyPrice,
		LowStockThreshold: s.opts.LowStockThreshold,
		InwardType:        req.InwardType,
		StockStatus:       entity.StockOutOfStock,
		CreatedBy:         op.Actor,
		CreatedAt:         op.At,
		UpdatedAt:         op.At,
	}
	found, _, err := tx.Inventory.Ensure(ctx, tpl)
	if err != nil {
		return nil, nil, err
	}
	rec, err := tx.Inventory.FindByIDForUpdate(ctx, found.ID)
	if err != nil {
		return nil, nil, err
	}
	m, err := rec.Inward(req.Quantity, req.Movement)
	if err != nil {
		return nil, nil, err
	}
	if err := s.saveMovement(ctx, tx, rec, m, req.Source, op); err != nil {
		return nil, nil, err
	}
	return rec, m, nil
}
