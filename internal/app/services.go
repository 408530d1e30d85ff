package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/adjustments"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stockrequests"
	"github.com/odyssey-erp/stockledger/internal/transfers"
	"github.com/odyssey-erp/stockledger/internal/transformation"
)

// Services holds the ledger core and every movement source built on it.
type Services struct {
	Inventory      *inventory.Service
	Adjustments    *adjustments.Service
	Transfers      *transfers.Service
	StockRequests  *stockrequests.Service
	Transformation *transformation.Service
	GoodsReceipts  *procurement.Service
}

// NewServices wires the PostgreSQL repositories into the services. All of
// them share one pool, so adapter transactions and ledger postings join.
func NewServices(pool *pgxpool.Pool, cfg inventory.ServiceConfig, logger *slog.Logger, metrics inventory.MetricsPort) Services {
	audit := shared.NewAuditLogger(pool)
	inv := inventory.NewService(inventory.NewRepository(pool), audit, shared.NewIdempotencyStore(pool), cfg, logger, metrics)
	return Services{
		Inventory:      inv,
		Adjustments:    adjustments.NewService(adjustments.NewRepository(pool), inv, audit, logger),
		Transfers:      transfers.NewService(transfers.NewRepository(pool), inv, audit, logger),
		StockRequests:  stockrequests.NewService(stockrequests.NewRepository(pool), inv, audit, logger),
		Transformation: transformation.NewService(transformation.NewRepository(pool), inv, audit, logger),
		GoodsReceipts:  procurement.NewService(procurement.NewRepository(pool), inv, audit, logger),
	}
}

// Handlers builds the HTTP handlers for s. enqueuer may be nil, in which case
// reconciliation requests run inline.
func (s Services) Handlers(logger *slog.Logger, enqueuer inventory.ReconcileEnqueuer) RouterParams {
	return RouterParams{
		Logger:                logger,
		InventoryHandler:      inventory.NewHandler(logger, s.Inventory, enqueuer),
		AdjustmentHandler:     adjustments.NewHandler(logger, s.Adjustments),
		TransferHandler:       transfers.NewHandler(logger, s.Transfers),
		StockRequestHandler:   stockrequests.NewHandler(logger, s.StockRequests),
		TransformationHandler: transformation.NewHandler(logger, s.Transformation),
		GoodsReceiptHandler:   procurement.NewHandler(logger, s.GoodsReceipts),
	}
}
