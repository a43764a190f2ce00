package service

import (
	"context"

	"github.com/bitfantasy/nimo-commerce/internal/commerce/entity"
	"github.com/bitfantasy/nimo-commerce/internal/commerce/repository"
	"github.com/bitfantasy/nimo-commerce/internal/shared/idgen"
	"github.com/shopspring/decimal"
)

// ledgerPosting 一笔账本记账
type ledgerPosting struct {
	VendorID        entity.VendorID
	EntryType       string
	Amount          decimal.Decimal
	ReferenceType   string
	ReferenceID     string
	ReferenceNumber string
	Description     string
}

// postLedgerTx 锁定商家行后按当前余额追加流水，balance_after 为记账后余额
func postLedgerTx(ctx context.Context, tx *repository.Repositories, p ledgerPosting, op Op) (*entity.VendorLedgerEntry, error) {
	if _, err := tx.Vendor.FindByIDForUpdate(ctx, p.VendorID); err != nil {
		return nil, err
	}
	balance, err := tx.Settlement.Balance(ctx, p.VendorID)
	if err != nil {
		return nil, err
	}
	e := &entity.VendorLedgerEntry{
		ID:              idgen.NewID(),
		VendorID:        p.VendorID,
		EntryType:       p.EntryType,
		Amount:          p.Amount,
		ReferenceType:   p.ReferenceType,
		ReferenceID:     p.ReferenceID,
		ReferenceNumber: p.ReferenceNumber,
		Description:     p.Description,
		CreatedBy:       op.Actor,
		CreatedAt:       op.At,
	}
	e.BalanceAfter = balance.Add(e.Signed())
	if err := tx.Settlement.CreateLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
