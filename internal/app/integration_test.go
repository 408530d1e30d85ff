//go:build integration

package app_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/transfers"
	"github.com/odyssey-erp/stockledger/migrations"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("stockledger"),
		tcpostgres.WithUsername("stockledger"),
		tcpostgres.WithPassword("stockledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn, migrations.FS, nil))

	pool, err := db.New(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedWarehouse(t *testing.T, pool *pgxpool.Pool, code string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, pool.QueryRow(context.Background(),
		`INSERT INTO warehouses (company_id, code, name) VALUES (1, $1, $1) RETURNING id`, code).Scan(&id))
	return id
}

func seedItem(t *testing.T, pool *pgxpool.Pool, code string) int64 {
	t.Helper()
	ctx := context.Background()
	var itemID, packID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO items (company_id, code, name, base_uom) VALUES (1, $1, $1, 'pcs') RETURNING id`, code).Scan(&itemID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO item_packagings (item_id, name, qty_per_pack) VALUES ($1, 'pcs', 1) RETURNING id`, itemID).Scan(&packID))
	_, err := pool.Exec(ctx, `UPDATE items SET base_packaging_id=$2 WHERE id=$1`, itemID, packID)
	require.NoError(t, err)
	return itemID
}

func TestLedgerAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	pool := startPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	services := app.NewServices(pool, inventory.ServiceConfig{DriftPolicy: inventory.DriftPolicyFail}, logger, nil)
	scope := shared.Scope{CompanyID: 1, ActorID: 7}

	central := seedWarehouse(t, pool, "WH-CENTRAL")
	store := seedWarehouse(t, pool, "WH-STORE")
	bolt := seedItem(t, pool, "BOLT")

	grn, err := services.GoodsReceipts.CreateGoodsReceipt(ctx, scope, procurement.CreateGRNInput{
		SupplierRef: "SUP-1",
		WarehouseID: central,
		Lines:       []procurement.GRNLineInput{{ItemID: bolt, Qty: decimal.NewFromInt(100), UnitCost: decimal.NewFromInt(2)}},
	})
	require.NoError(t, err)
	_, _, err = services.GoodsReceipts.PostGoodsReceipt(ctx, scope, grn.ID)
	require.NoError(t, err)

	t.Run("receipt lands in the default location", func(t *testing.T) {
		view, err := services.Inventory.Balance(ctx, scope, bolt, central)
		require.NoError(t, err)
		require.True(t, view.Balance.CurrentStock.Equal(decimal.NewFromInt(100)))
		require.True(t, view.Balance.AvgCost.Equal(decimal.NewFromInt(2)))
		require.NotNil(t, view.Balance.DefaultLocationID)
		require.Len(t, view.Locations, 1)
		require.Equal(t, *view.Balance.DefaultLocationID, view.Locations[0].LocationID)
	})

	t.Run("shortage rolls back", func(t *testing.T) {
		_, err := services.Inventory.Post(ctx, scope, inventory.MovementRequest{
			Type:        inventory.TransactionTypeOut,
			WarehouseID: central,
			Lines:       []inventory.MovementLine{{ItemID: bolt, Qty: decimal.NewFromInt(101)}},
		})
		require.ErrorIs(t, err, inventory.ErrInsufficientStockAcrossLocations)
		view, err := services.Inventory.Balance(ctx, scope, bolt, central)
		require.NoError(t, err)
		require.True(t, view.Balance.CurrentStock.Equal(decimal.NewFromInt(100)))
	})

	t.Run("transfer moves stock between warehouses", func(t *testing.T) {
		trf, err := services.Transfers.Create(ctx, scope, transfers.CreateInput{
			FromWarehouseID: central,
			ToWarehouseID:   store,
			Lines:           []transfers.LineInput{{ItemID: bolt, Qty: decimal.NewFromInt(30)}},
		})
		require.NoError(t, err)
		_, _, err = services.Transfers.Confirm(ctx, scope, trf.ID)
		require.NoError(t, err)

		src, err := services.Inventory.Balance(ctx, scope, bolt, central)
		require.NoError(t, err)
		require.True(t, src.Balance.CurrentStock.Equal(decimal.NewFromInt(70)))
		dst, err := services.Inventory.Balance(ctx, scope, bolt, store)
		require.NoError(t, err)
		require.True(t, dst.Balance.CurrentStock.Equal(decimal.NewFromInt(30)))
		require.True(t, dst.Balance.AvgCost.Equal(decimal.NewFromInt(2)))
	})

	t.Run("concurrent receipts serialize", func(t *testing.T) {
		fresh := seedItem(t, pool, "WASHER")
		unitCost := decimal.NewFromInt(1)
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := services.Inventory.Post(ctx, scope, inventory.MovementRequest{
					Type:        inventory.TransactionTypeIn,
					WarehouseID: store,
					Lines:       []inventory.MovementLine{{ItemID: fresh, Qty: decimal.NewFromInt(5), UnitCost: &unitCost}},
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		view, err := services.Inventory.Balance(ctx, scope, fresh, store)
		require.NoError(t, err)
		require.True(t, view.Balance.CurrentStock.Equal(decimal.NewFromInt(40)))
		require.Len(t, view.Locations, 1)

		var mains int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM warehouse_locations WHERE warehouse_id=$1 AND code='MAIN'`, store).Scan(&mains))
		require.Equal(t, 1, mains)
	})

	t.Run("reconcile finds no drift", func(t *testing.T) {
		summary, err := services.Inventory.ReconcileAll(ctx, false)
		require.NoError(t, err)
		require.Equal(t, 2, summary.Warehouses)
		require.Zero(t, summary.Drifted)
		require.Zero(t, summary.LedgerMismatches)
	})
}
