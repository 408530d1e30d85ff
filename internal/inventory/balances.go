package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// BalanceStore owns the aggregate per (item, warehouse) row and its moving
// average cost.
type BalanceStore struct{}

// ReadBalance returns nil when no movement ever touched the key.
func (BalanceStore) ReadBalance(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64) (*WarehouseBalance, error) {
	bal, err := tx.GetBalance(ctx, itemID, warehouseID)
	if errors.Is(err, ErrBalanceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bal.CompanyID != scope.CompanyID {
		return nil, ErrWarehouseMismatch
	}
	return &bal, nil
}

// Lock creates the row if missing and takes a row lock on it for the rest of
// the transaction.
func (BalanceStore) Lock(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64) (WarehouseBalance, error) {
	bal, err := tx.LockBalance(ctx, scope.CompanyID, itemID, warehouseID)
	if err != nil {
		return WarehouseBalance{}, fmt.Errorf("inventory: lock balance %d/%d: %w", itemID, warehouseID, err)
	}
	if bal.CompanyID != scope.CompanyID {
		return WarehouseBalance{}, fmt.Errorf("balance %d/%d: %w", itemID, warehouseID, ErrWarehouseMismatch)
	}
	return bal, nil
}

// ApplyDelta adds delta to current stock. Inbound deltas blend unitCost into
// the moving average; a nil unitCost keeps the current average. Outbound
// deltas keep the average and fail rather than going negative.
func (BalanceStore) ApplyDelta(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, delta decimal.Decimal, unitCost *decimal.Decimal) (WarehouseBalance, error) {
	bal, err := tx.GetBalance(ctx, itemID, warehouseID)
	if err != nil {
		return WarehouseBalance{}, err
	}
	if bal.CompanyID != scope.CompanyID {
		return WarehouseBalance{}, ErrWarehouseMismatch
	}
	newQty := bal.CurrentStock.Add(delta)
	if newQty.IsNegative() {
		return WarehouseBalance{}, fmt.Errorf("item %d warehouse %d has %s, needs %s: %w",
			itemID, warehouseID, bal.CurrentStock, delta.Neg(), ErrInsufficientStockAcrossLocations)
	}
	switch {
	case newQty.IsZero():
		bal.AvgCost = decimal.Zero
	case delta.IsPositive() && unitCost != nil:
		total := bal.CurrentStock.Mul(bal.AvgCost).Add(delta.Mul(*unitCost))
		bal.AvgCost = total.DivRound(newQty, costScale)
	}
	bal.CurrentStock = newQty
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return WarehouseBalance{}, err
	}
	return bal, nil
}
