package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// Reconciler runs one reconciliation pass over every warehouse.
type Reconciler interface {
	ReconcileAll(ctx context.Context, repair bool) (inventory.ReconcileSummary, error)
}

// ReconcileJob handles TaskInventoryReconcile.
type ReconcileJob struct {
	Service Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(service Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one reconciliation run.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskInventoryReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Bool("repair", payload.Repair), slog.String("source", payload.Source))
	logger.Info("starting reconciliation")

	summary, err := j.Service.ReconcileAll(ctx, payload.Repair)
	if err != nil {
		logger.Error("reconciliation failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddWarehouses("checked", summary.Warehouses)
	j.Metrics.AddWarehouses("skipped", summary.Skipped)
	if summary.Drifted > 0 || summary.LedgerMismatches > 0 {
		logger.Warn("stock drift found",
			slog.Int("drifted", summary.Drifted),
			slog.Int("repaired", summary.Repaired),
			slog.Int("ledger_mismatches", summary.LedgerMismatches),
		)
	}
	logger.Info("completed reconciliation",
		slog.Int("warehouses", summary.Warehouses),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
