package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalanceView(ctx context.Context, companyID, itemID, warehouseID int64) (BalanceView, error)
	ListLedger(ctx context.Context, companyID int64, filter LedgerFilter) ([]LedgerEntry, int, error)
	ListStockSnapshots(ctx context.Context, companyID, warehouseID int64) ([]StockSnapshot, error)
	SumLedger(ctx context.Context, companyID, warehouseID int64) ([]LedgerSum, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
}

// TxRepository exposes transactional operations used by the poster.
type TxRepository interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	UpsertDefaultLocation(ctx context.Context, companyID, warehouseID int64) (int64, error)
	LockBalance(ctx context.Context, companyID, itemID, warehouseID int64) (WarehouseBalance, error)
	GetBalance(ctx context.Context, itemID, warehouseID int64) (WarehouseBalance, error)
	UpdateBalance(ctx context.Context, bal WarehouseBalance) error
	SetDefaultLocation(ctx context.Context, itemID, warehouseID, locationID int64) error
	GetLocationBalanceForUpdate(ctx context.Context, itemID, locationID int64) (LocationBalance, error)
	UpsertLocationBalance(ctx context.Context, row LocationBalance) error
	ListLocationBalancesForUpdate(ctx context.Context, itemID, warehouseID int64) ([]LocationBalance, error)
	InsertTransaction(ctx context.Context, header Transaction) (int64, error)
	InsertTransactionItems(ctx context.Context, txID int64, items []TransactionItem) error
	InsertLocationEffects(ctx context.Context, txID int64, effects []LocationEffect) error
	InsertDriftRepair(ctx context.Context, repair DriftRepair) error
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	FindReversal(ctx context.Context, id int64) (int64, bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort rejects a key that was already used.
type IdempotencyPort interface {
	Claim(ctx context.Context, companyID int64, module, key string) error
}

// Locker guards a reconciliation run for one warehouse across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// MetricsPort receives ledger measurements.
type MetricsPort interface {
	ObservePosting(txType string, result string, elapsed time.Duration)
	ObserveDrift(direction DriftDirection)
	ObserveRepair()
}

type noopMetrics struct{}

func (noopMetrics) ObservePosting(string, string, time.Duration) {}
func (noopMetrics) ObserveDrift(DriftDirection)                  {}
func (noopMetrics) ObserveRepair()                               {}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DriftPolicy          DriftPolicy
	ReconcileConcurrency int
	LockTTL              time.Duration
	Locker               Locker
}

// Service is the single entry point for ledger postings and queries. Every
// posting runs as one unit of work through RepositoryPort.WithTx.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	poster      *Poster
	reconciler  *Reconciler
	allocator   LocationAllocator
	metrics     MetricsPort
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, logger *slog.Logger, metrics MetricsPort) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	reconciler := NewReconciler(logger, metrics)
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		poster:      NewPoster(reconciler, cfg.DriftPolicy),
		reconciler:  reconciler,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Post applies req atomically and returns the persisted ledger header. When
// ctx already carries a transaction the posting joins it.
func (s *Service) Post(ctx context.Context, scope shared.Scope, req MovementRequest) (Transaction, error) {
	if scope.CompanyID == 0 {
		return Transaction{}, shared.ErrMissingScope
	}
	start := time.Now()
	var posted Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.IdempotencyKey != "" && s.idempotency != nil {
			if err := s.idempotency.Claim(ctx, scope.CompanyID, "inventory", req.IdempotencyKey); err != nil {
				return err
			}
		}
		var err error
		posted, err = s.poster.Post(ctx, tx, scope, req)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, scope, "inventory.post", posted)
	})
	s.observe(req.Type, err, time.Since(start))
	if err != nil {
		return Transaction{}, err
	}
	s.logger.Debug("stock posted",
		slog.String("code", posted.Code),
		slog.String("type", string(posted.Type)),
		slog.Int64("warehouse_id", posted.WarehouseID),
		slog.String("reference", posted.ReferenceType+":"+posted.ReferenceID))
	return posted, nil
}

// Reverse voids a posted transaction by posting its opposite.
func (s *Service) Reverse(ctx context.Context, scope shared.Scope, transactionID int64, note string) (Transaction, error) {
	start := time.Now()
	var reversal Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		reversal, err = s.poster.Reverse(ctx, tx, scope, original, note)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, scope, "inventory.reverse", reversal)
	})
	s.observe("reversal", err, time.Since(start))
	if err != nil {
		return Transaction{}, err
	}
	return reversal, nil
}

// Transaction loads a ledger header with its lines.
func (s *Service) Transaction(ctx context.Context, scope shared.Scope, id int64) (Transaction, error) {
	var out Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.GetTransaction(ctx, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	if out.CompanyID != scope.CompanyID {
		return Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	return out, nil
}

// Reserve marks stock as reserved without moving it.
func (s *Service) Reserve(ctx context.Context, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal, packagingID *int64) ([]Consumption, error) {
	var plan []Consumption
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.CompanyID != scope.CompanyID {
			return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		res, err := ResolveUnits(item, qty, packagingID)
		if err != nil {
			return err
		}
		if _, err := s.poster.balances.Lock(ctx, tx, scope, itemID, warehouseID); err != nil {
			return err
		}
		plan, err = s.allocator.Reserve(ctx, tx, scope, itemID, warehouseID, res.NormalizedQty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Release gives back reservations returned by Reserve.
func (s *Service) Release(ctx context.Context, scope shared.Scope, itemID, warehouseID int64, reserved []Consumption) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.poster.balances.Lock(ctx, tx, scope, itemID, warehouseID); err != nil {
			return err
		}
		return s.allocator.Release(ctx, tx, scope, itemID, warehouseID, reserved)
	})
}

// Normalize converts qty in packagingID units of an item into base units.
func (s *Service) Normalize(ctx context.Context, scope shared.Scope, itemID int64, qty decimal.Decimal, packagingID *int64) (UnitResolution, error) {
	var res UnitResolution
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.CompanyID != scope.CompanyID {
			return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		res, err = ResolveUnits(item, qty, packagingID)
		return err
	})
	return res, err
}

// Balance returns the aggregate balance and location breakdown.
func (s *Service) Balance(ctx context.Context, scope shared.Scope, itemID, warehouseID int64) (BalanceView, error) {
	if itemID <= 0 || warehouseID <= 0 {
		return BalanceView{}, fmt.Errorf("item and warehouse required: %w", ErrInvalidRequest)
	}
	return s.repo.GetBalanceView(ctx, scope.CompanyID, itemID, warehouseID)
}

// Ledger lists stock card rows, oldest first.
func (s *Service) Ledger(ctx context.Context, scope shared.Scope, filter LedgerFilter) ([]LedgerEntry, shared.Pagination, error) {
	if filter.ItemID <= 0 || filter.WarehouseID <= 0 {
		return nil, shared.Pagination{}, fmt.Errorf("item and warehouse required: %w", ErrInvalidRequest)
	}
	if filter.PerPage <= 0 || filter.PerPage > 500 {
		filter.PerPage = 200
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	entries, total, err := s.repo.ListLedger(ctx, scope.CompanyID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Replay re-derives per-key quantities from the ledger alone.
func (s *Service) Replay(ctx context.Context, scope shared.Scope, warehouseID int64) ([]LedgerSum, error) {
	return s.repo.SumLedger(ctx, scope.CompanyID, warehouseID)
}

// ReconcileWarehouse compares every balance in the warehouse against its
// location rows and the ledger. Under-reported location stock is repaired
// when repair is set.
func (s *Service) ReconcileWarehouse(ctx context.Context, scope shared.Scope, warehouseID int64, repair bool) ([]DriftReport, error) {
	snapshots, err := s.repo.ListStockSnapshots(ctx, scope.CompanyID, warehouseID)
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.SumLedger(ctx, scope.CompanyID, warehouseID)
	if err != nil {
		return nil, err
	}
	ledger := make(map[int64]decimal.Decimal, len(sums))
	for _, sum := range sums {
		ledger[sum.ItemID] = sum.Qty
	}

	var reports []DriftReport
	for _, snap := range snapshots {
		report, drifted := classify(snap, ledger[snap.ItemID])
		if !drifted {
			continue
		}
		if report.LedgerMismatch {
			s.logger.Error("aggregate balance disagrees with ledger",
				slog.Int64("company_id", snap.CompanyID),
				slog.Int64("item_id", snap.ItemID),
				slog.Int64("warehouse_id", snap.WarehouseID),
				slog.String("aggregate_qty", snap.AggregateQty.String()),
				slog.String("ledger_qty", report.LedgerQty.String()))
		}
		if report.Direction == DriftUnder && repair {
			err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				if _, err := s.poster.balances.Lock(ctx, tx, scope, snap.ItemID, snap.WarehouseID); err != nil {
					return err
				}
				repaired, err := s.reconciler.RepairItem(ctx, tx, scope, snap.ItemID, snap.WarehouseID, RepairSourceReconcile)
				report.Repaired = repaired
				return err
			})
			if err != nil {
				return reports, err
			}
		} else if report.Direction != "" {
			s.metrics.ObserveDrift(report.Direction)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ReconcileSummary aggregates one ReconcileAll pass.
type ReconcileSummary struct {
	Warehouses       int
	Skipped          int
	Drifted          int
	Repaired         int
	LedgerMismatches int
}

// ReconcileAll reconciles every active warehouse concurrently. Warehouses
// whose lock is held elsewhere are skipped.
func (s *Service) ReconcileAll(ctx context.Context, repair bool) (ReconcileSummary, error) {
	warehouses, err := s.repo.ListWarehouses(ctx)
	if err != nil {
		return ReconcileSummary{}, err
	}
	var (
		mu      sync.Mutex
		summary ReconcileSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReconcileConcurrency)
	for _, wh := range warehouses {
		if !wh.IsActive {
			continue
		}
		g.Go(func() error {
			release, err := s.acquire(gctx, shared.ReconcileLockKey(wh.CompanyID, wh.ID))
			if errors.Is(err, shared.ErrLockHeld) {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			defer func() {
				if err := release(context.WithoutCancel(gctx)); err != nil {
					s.logger.Warn("release reconcile lock", slog.Int64("warehouse_id", wh.ID), slog.Any("error", err))
				}
			}()
			reports, err := s.ReconcileWarehouse(gctx, shared.Scope{CompanyID: wh.CompanyID}, wh.ID, repair)
			if err != nil {
				return fmt.Errorf("reconcile warehouse %d: %w", wh.ID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Warehouses++
			for _, r := range reports {
				if r.Direction != "" {
					summary.Drifted++
				}
				if r.Repaired.IsPositive() {
					summary.Repaired++
				}
				if r.LedgerMismatch {
					summary.LedgerMismatches++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if s.cfg.Locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.cfg.Locker.Acquire(ctx, key, s.cfg.LockTTL)
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, t Transaction) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "stock_transaction",
		EntityID: t.Code,
		Meta: map[string]any{
			"type":           t.Type,
			"warehouse_id":   t.WarehouseID,
			"reference_type": t.ReferenceType,
			"reference_id":   t.ReferenceID,
			"lines":          len(t.Items),
		},
	})
}

func (s *Service) observe(txType TransactionType, err error, elapsed time.Duration) {
	result := "posted"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStockAcrossLocations), errors.Is(err, ErrInsufficientLocationStock):
		result = "insufficient_stock"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		result = "duplicate"
	default:
		result = "failed"
	}
	s.metrics.ObservePosting(string(txType), result, elapsed)
}
