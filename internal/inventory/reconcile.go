package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Sources recorded on location_drift_repairs rows.
const (
	RepairSourcePosting   = "posting"
	RepairSourceReconcile = "reconcile"
)

// Reconciler detects and repairs disagreement between an aggregate balance
// and the sum of its location rows.
type Reconciler struct {
	allocator LocationAllocator
	logger    *slog.Logger
	metrics   MetricsPort
	now       func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(logger *slog.Logger, metrics MetricsPort) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Reconciler{logger: logger, metrics: metrics, now: time.Now}
}

// RepairItem tops up the default location by the amount the location rows
// under-report the aggregate and returns that amount. Over-reporting rows are
// only logged and counted; they are never reduced automatically. The caller
// must hold the balance row lock.
func (r *Reconciler) RepairItem(ctx context.Context, tx TxRepository, scope shared.Scope, itemID, warehouseID int64, source string) (decimal.Decimal, error) {
	bal, err := tx.GetBalance(ctx, itemID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	rows, err := tx.ListLocationBalancesForUpdate(ctx, itemID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	located := decimal.Zero
	for _, row := range rows {
		if !row.IsDeleted {
			located = located.Add(row.QtyOnHand)
		}
	}
	gap := bal.CurrentStock.Sub(located)
	attrs := []any{
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("item_id", itemID),
		slog.Int64("warehouse_id", warehouseID),
		slog.String("aggregate_qty", bal.CurrentStock.String()),
		slog.String("location_qty", located.String()),
		slog.String("source", source),
	}
	switch {
	case gap.IsZero():
		return decimal.Zero, nil
	case gap.IsNegative():
		r.metrics.ObserveDrift(DriftOver)
		r.logger.Warn("location rows over-report aggregate stock", attrs...)
		return decimal.Zero, nil
	}
	r.metrics.ObserveDrift(DriftUnder)

	locationID, err := r.allocator.Adjust(ctx, tx, scope, AdjustInput{
		ItemID:         itemID,
		WarehouseID:    warehouseID,
		QtyOnHandDelta: gap,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("inventory: repair drift: %w", err)
	}
	if err := tx.InsertDriftRepair(ctx, DriftRepair{
		CompanyID:    scope.CompanyID,
		ItemID:       itemID,
		WarehouseID:  warehouseID,
		LocationID:   locationID,
		AggregateQty: bal.CurrentStock,
		LocationQty:  located,
		RepairedQty:  gap,
		Source:       source,
		RepairedAt:   r.now().UTC(),
	}); err != nil {
		return decimal.Zero, err
	}
	r.metrics.ObserveRepair()
	r.logger.Warn("location drift repaired", append(attrs,
		slog.Int64("location_id", locationID),
		slog.String("repaired_qty", gap.String()))...)
	return gap, nil
}

// classify turns a snapshot plus its ledger sum into a report. ok is false
// when everything agrees.
func classify(snap StockSnapshot, ledger decimal.Decimal) (DriftReport, bool) {
	report := DriftReport{
		CompanyID:    snap.CompanyID,
		ItemID:       snap.ItemID,
		WarehouseID:  snap.WarehouseID,
		AggregateQty: snap.AggregateQty,
		LocationQty:  snap.LocationQty,
		LedgerQty:    ledger,
		Repaired:     decimal.Zero,
	}
	switch snap.LocationQty.Cmp(snap.AggregateQty) {
	case -1:
		report.Direction = DriftUnder
	case 1:
		report.Direction = DriftOver
	}
	report.LedgerMismatch = !ledger.Equal(snap.AggregateQty)
	return report, report.Direction != "" || report.LedgerMismatch
}
