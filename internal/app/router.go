package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/adjustments"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/stockrequests"
	"github.com/odyssey-erp/stockledger/internal/transfers"
	"github.com/odyssey-erp/stockledger/internal/transformation"
	"github.com/odyssey-erp/stockledger/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger                *slog.Logger
	Config                *Config
	Metrics               *observability.Metrics
	Database              Pinger
	InventoryHandler      *inventory.Handler
	AdjustmentHandler     *adjustments.Handler
	TransferHandler       *transfers.Handler
	StockRequestHandler   *stockrequests.Handler
	TransformationHandler *transformation.Handler
	GoodsReceiptHandler   *procurement.Handler
	JobHandler            *jobs.Handler
}

// NewRouter constructs the chi.Router with stock ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	rateLimit := 120
	if params.Config != nil && params.Config.AppPostRateLimit > 0 {
		rateLimit = params.Config.AppPostRateLimit
	}

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.RespondError(w, httpx.NewError(httpx.ErrUnavailable, "database unreachable"))
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(ScopeMiddleware)
		r.Use(PostingRateLimit(rateLimit))
		mount := func(pattern string, h interface{ MountRoutes(chi.Router) }, ok bool) {
			if ok {
				r.Route(pattern, h.MountRoutes)
			}
		}
		mount("/inventory", params.InventoryHandler, params.InventoryHandler != nil)
		mount("/stock-adjustments", params.AdjustmentHandler, params.AdjustmentHandler != nil)
		mount("/stock-transfers", params.TransferHandler, params.TransferHandler != nil)
		mount("/stock-requests", params.StockRequestHandler, params.StockRequestHandler != nil)
		mount("/transformation-orders", params.TransformationHandler, params.TransformationHandler != nil)
		mount("/goods-receipts", params.GoodsReceiptHandler, params.GoodsReceiptHandler != nil)
	})

	return r
}
