package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// LocationAllocator decides which location rows a movement touches.
type LocationAllocator struct{}

// EnsureDefaultLocation returns the warehouse MAIN location, creating it with
// a single upsert so concurrent first postings converge on one row.
func (LocationAllocator) EnsureDefaultLocation(ctx context.Context, tx TxRepository, scope shared.Scope, warehouseID int64) (int64, error) {
	id, err := tx.UpsertDefaultLocation(ctx, scope.CompanyID, warehouseID)
	if err != nil {
		return 0, fmt.Errorf("inventory: ensure default location for warehouse %d: %w", warehouseID, err)
	}
	return id, nil
}

// Adjust applies on-hand and reserved deltas to a single location row and
// returns the location it resolved to.
func (a LocationAllocator) Adjust(ctx context.Context, tx TxRepository, scope shared.Scope, in AdjustInput) (int64, error) {
	locationID, err := a.resolveLocation(ctx, tx, scope, in.ItemID, in.WarehouseID, in.LocationID)
	if err != nil {
		return 0, err
	}
	row, err := a.locationRow(ctx, tx, scope, in.ItemID, in.WarehouseID, locationID)
	if err != nil {
		return 0, err
	}
	onHand := row.QtyOnHand.Add(in.QtyOnHandDelta)
	if onHand.IsNegative() {
		return 0, fmt.Errorf("location %d holds %s of item %d, needs %s: %w",
			locationID, row.QtyOnHand, in.ItemID, in.QtyOnHandDelta.Neg(), ErrInsufficientLocationStock)
	}
	reserved := row.QtyReserved.Add(in.QtyReservedDelta)
	if reserved.IsNegative() || reserved.GreaterThan(onHand) {
		return 0, fmt.Errorf("location %d item %d reserved %s of %s: %w",
			locationID, in.ItemID, reserved, onHand, ErrInvalidReservation)
	}
	row.QtyOnHand = onHand
	row.QtyReserved = reserved
	if err := tx.UpsertLocationBalance(ctx, row); err != nil {
		return 0, err
	}
	return locationID, nil
}

// ConsumeFIFO takes qty from the item's location rows in the warehouse, oldest
// row first with ties broken by ascending location id. Only unreserved stock
// is taken. The plan is computed before any row changes, so a shortfall
// leaves every row untouched.
func (LocationAllocator) ConsumeFIFO(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal) ([]Consumption, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	rows, err := tx.ListLocationBalancesForUpdate(ctx, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	sortFIFO(rows)

	remaining := qty
	plan := make([]Consumption, 0, len(rows))
	touched := make([]LocationBalance, 0, len(rows))
	for _, row := range rows {
		if !remaining.IsPositive() {
			break
		}
		if row.IsDeleted || row.CompanyID != scope.CompanyID {
			continue
		}
		available := row.Available()
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(available, remaining)
		row.QtyOnHand = row.QtyOnHand.Sub(take)
		remaining = remaining.Sub(take)
		plan = append(plan, Consumption{LocationID: row.LocationID, Quantity: take})
		touched = append(touched, row)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("item %d warehouse %d short by %s: %w", itemID, warehouseID, remaining, ErrInsufficientStockAcrossLocations)
	}
	for _, row := range touched {
		if err := tx.UpsertLocationBalance(ctx, row); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Reserve marks qty of unreserved stock as reserved, walking rows in FIFO
// order. The returned plan is what Release later gives back.
func (LocationAllocator) Reserve(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal) ([]Consumption, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	rows, err := tx.ListLocationBalancesForUpdate(ctx, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	sortFIFO(rows)

	remaining := qty
	var plan []Consumption
	var touched []LocationBalance
	for _, row := range rows {
		if !remaining.IsPositive() {
			break
		}
		if row.IsDeleted || row.CompanyID != scope.CompanyID || !row.Available().IsPositive() {
			continue
		}
		take := decimal.Min(row.Available(), remaining)
		row.QtyReserved = row.QtyReserved.Add(take)
		remaining = remaining.Sub(take)
		plan = append(plan, Consumption{LocationID: row.LocationID, Quantity: take})
		touched = append(touched, row)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("item %d warehouse %d cannot reserve %s more: %w", itemID, warehouseID, remaining, ErrInsufficientStockAcrossLocations)
	}
	for _, row := range touched {
		if err := tx.UpsertLocationBalance(ctx, row); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Release gives back reservations previously returned by Reserve.
func (a LocationAllocator) Release(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, reserved []Consumption) error {
	for _, c := range reserved {
		locationID := c.LocationID
		if _, err := a.Adjust(ctx, tx, scope, AdjustInput{
			ItemID:           itemID,
			WarehouseID:      warehouseID,
			LocationID:       &locationID,
			QtyReservedDelta: c.Quantity.Neg(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// resolveLocation picks the explicit location, else the item's default in the
// warehouse, else the warehouse MAIN location.
func (a LocationAllocator) resolveLocation(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, explicit *int64) (int64, error) {
	if explicit != nil {
		loc, err := tx.GetLocation(ctx, *explicit)
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("location %d: %w", *explicit, ErrInvalidLocation)
		}
		if err != nil {
			return 0, err
		}
		if loc.WarehouseID != warehouseID || loc.CompanyID != scope.CompanyID || !loc.Usable() {
			return 0, fmt.Errorf("location %d in warehouse %d: %w", *explicit, warehouseID, ErrInvalidLocation)
		}
		return loc.ID, nil
	}
	bal, err := tx.GetBalance(ctx, itemID, warehouseID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return 0, err
	}
	if err == nil && bal.DefaultLocationID != nil {
		loc, err := tx.GetLocation(ctx, *bal.DefaultLocationID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		if err == nil && loc.WarehouseID == warehouseID && loc.Usable() {
			return loc.ID, nil
		}
	}
	return a.EnsureDefaultLocation(ctx, tx, scope, warehouseID)
}

func (LocationAllocator) locationRow(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID, locationID int64) (LocationBalance, error) {
	row, err := tx.GetLocationBalanceForUpdate(ctx, itemID, locationID)
	if errors.Is(err, ErrBalanceNotFound) {
		return LocationBalance{
			CompanyID:   scope.CompanyID,
			ItemID:      itemID,
			WarehouseID: warehouseID,
			LocationID:  locationID,
			QtyOnHand:   decimal.Zero,
			QtyReserved: decimal.Zero,
		}, nil
	}
	return row, err
}

func sortFIFO(rows []LocationBalance) {
	slices.SortStableFunc(rows, func(a, b LocationBalance) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.LocationID, b.LocationID)
	})
}
