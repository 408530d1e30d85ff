package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

func TestLedgerMetricsCountPostingResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewLedgerMetrics(registry)
	f := inventorytest.NewFixture(1)
	svc := inventory.NewService(f.Repo, nil, nil, inventory.ServiceConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	item := f.AddItem("BOLT")
	ctx := context.Background()

	cost := inventorytest.Dec("2")
	_, err := svc.Post(ctx, f.Scope, inventory.MovementRequest{
		Type:        inventory.TransactionTypeIn,
		WarehouseID: f.Warehouse.ID,
		Lines:       []inventory.MovementLine{{ItemID: item.ID, Qty: inventorytest.Dec("5"), UnitCost: &cost}},
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, f.Scope, inventory.MovementRequest{
		Type:        inventory.TransactionTypeOut,
		WarehouseID: f.Warehouse.ID,
		Lines:       []inventory.MovementLine{{ItemID: item.ID, Qty: inventorytest.Dec("9")}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStockAcrossLocations)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.postings.WithLabelValues("in", "posted")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.postings.WithLabelValues("out", "insufficient_stock")))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.duration))
}

func TestLedgerMetricsDrift(t *testing.T) {
	metrics := NewLedgerMetrics(prometheus.NewRegistry())
	metrics.ObserveDrift(inventory.DriftUnder)
	metrics.ObserveDrift(inventory.DriftOver)
	metrics.ObserveDrift(inventory.DriftOver)
	metrics.ObserveRepair()

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.drift.WithLabelValues("under")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.drift.WithLabelValues("over")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.repairs))
}
