package entity

import (
	"fmt"

	"gorm.io/gorm"
)

// Models 全部表模型（迁移顺序）
func Models() []any {
	return []any{
		&Vendor{},
		&Warehouse{},
		&InventoryRecord{},
		&InventoryMovement{},
		&PurchaseOrder{},
		&POItem{},
		&POStatusLog{},
		&SalesOrder{},
		&SalesOrderItem{},
		&SOStatusLog{},
		&VendorOrder{},
		&VendorOrderItem{},
		&VendorOrderStatusLog{},
		&CommissionRecord{},
		&DeliveryAgent{},
		&DeliveryAssignment{},
		&DeliveryStatusLog{},
		&DeliveryProof{},
		&ReturnRequest{},
		&ReturnItem{},
		&ReturnStatusLog{},
		&VendorSettlement{},
		&VendorPayout{},
		&VendorLedgerEntry{},
	}
}

// AutoMigrate 建表并补充 CHECK 约束与部分唯一索引
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	m := db.Migrator()
	checks := []struct {
		model any
		name  string
		expr  string
	}{
		{&InventoryRecord{}, "chk_mkt_inventory_quantities", "quantity >= 0 AND reserved_quantity >= 0 AND reserved_quantity <= quantity"},
		{&POItem{}, "chk_mkt_po_items_received", "quantity_received >= 0 AND quantity_received + quantity_cancelled <= quantity_ordered"},
		{&VendorOrderItem{}, "chk_mkt_vo_items_reserved", "quantity_reserved >= 0 AND quantity_reserved <= quantity_ordered"},
	}
	for _, c := range checks {
		if m.HasConstraint(c.model, c.name) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(c.model); err != nil {
			return fmt.Errorf("parse %s: %w", c.name, err)
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", stmt.Schema.Table, c.name, c.expr)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("add constraint %s: %w", c.name, err)
		}
	}

	// 同一商家同一周期仅允许一张未取消的结算单
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uk_mkt_settlement_period
			ON mkt_vendor_settlements (vendor_id, period_start, period_end)
			WHERE status <> 'cancelled'`).Error; err != nil {
			return fmt.Errorf("create settlement period index: %w", err)
		}
	}
	return nil
}
