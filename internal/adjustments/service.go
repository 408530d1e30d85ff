package adjustments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, companyID, id int64) (Adjustment, []Line, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, adj Adjustment) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	LockForUpdate(ctx context.Context, companyID, id int64) (Adjustment, []Line, error)
	MarkPosted(ctx context.Context, id, transactionID int64, at time.Time) error
}

// InventoryPort posts movements to the stock ledger.
type InventoryPort interface {
	Post(ctx context.Context, scope shared.Scope, req inventory.MovementRequest) (inventory.Transaction, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates stock adjustment documents.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the adjustment service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: time.Now}
}

// CreateInput describes a new draft adjustment.
type CreateInput struct {
	Number      string
	WarehouseID int64
	Reason      string
	Lines       []LineInput
}

// LineInput is one counted item.
type LineInput struct {
	ItemID      int64
	LocationID  *int64
	PackagingID *int64
	CurrentQty  decimal.Decimal
	AdjustedQty decimal.Decimal
	UnitCost    *decimal.Decimal
}

// Create stores a draft adjustment. Nothing touches stock until Post.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Adjustment, error) {
	if err := input.validate(); err != nil {
		return Adjustment{}, err
	}
	if input.Number == "" {
		input.Number = shared.GenerateNumber("ADJ")
	}
	adj := Adjustment{
		CompanyID:   scope.CompanyID,
		Number:      input.Number,
		WarehouseID: input.WarehouseID,
		Status:      StatusDraft,
		Reason:      input.Reason,
		CreatedBy:   scope.ActorID,
		CreatedAt:   s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = id
		for _, l := range input.Lines {
			if err := tx.InsertLine(ctx, Line{
				AdjustmentID: id,
				ItemID:       l.ItemID,
				LocationID:   l.LocationID,
				PackagingID:  l.PackagingID,
				CurrentQty:   l.CurrentQty,
				AdjustedQty:  l.AdjustedQty,
				UnitCost:     l.UnitCost,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// Get loads an adjustment with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Adjustment, []Line, error) {
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Post moves a draft adjustment to posted and applies its deltas. The status
// change and the ledger posting commit together.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Adjustment, inventory.Transaction, error) {
	var (
		adj    Adjustment
		posted inventory.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines []Line
			err   error
		)
		adj, lines, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if adj.Status != StatusDraft {
			return fmt.Errorf("adjustment %s is %s: %w", adj.Number, adj.Status, ErrInvalidState)
		}
		posted, err = s.inventory.Post(ctx, scope, movementFor(adj, lines))
		if err != nil {
			return err
		}
		at := s.now().UTC()
		if err := tx.MarkPosted(ctx, adj.ID, posted.ID, at); err != nil {
			return err
		}
		adj.Status = StatusPosted
		adj.TransactionID = &posted.ID
		adj.PostedAt = &at
		if s.audit == nil {
			return nil
		}
		return s.audit.Record(ctx, shared.AuditLog{
			ActorID:  scope.ActorID,
			Action:   "adjustment.post",
			Entity:   "stock_adjustment",
			EntityID: adj.Number,
			Meta:     map[string]any{"transaction": posted.Code, "type": posted.Type},
		})
	})
	if err != nil {
		return Adjustment{}, inventory.Transaction{}, err
	}
	s.logger.Info("stock adjustment posted", slog.String("number", adj.Number), slog.String("transaction", posted.Code))
	return adj, posted, nil
}

func movementFor(adj Adjustment, lines []Line) inventory.MovementRequest {
	req := inventory.MovementRequest{
		Type:           inventory.TransactionTypeAdjustment,
		WarehouseID:    adj.WarehouseID,
		ReferenceType:  "stock_adjustment",
		ReferenceID:    adj.Number,
		Note:           adj.Reason,
		IdempotencyKey: fmt.Sprintf("stock_adjustment:%d", adj.ID),
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, inventory.MovementLine{
			ItemID:      l.ItemID,
			Qty:         l.Delta(),
			PackagingID: l.PackagingID,
			UnitCost:    l.UnitCost,
			LocationID:  l.LocationID,
		})
	}
	return req
}

func (in CreateInput) validate() error {
	if in.WarehouseID <= 0 {
		return fmt.Errorf("warehouse required: %w", ErrValidation)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("at least one line required: %w", ErrValidation)
	}
	for i, l := range in.Lines {
		if l.ItemID <= 0 {
			return fmt.Errorf("line %d item required: %w", i+1, ErrValidation)
		}
		if l.CurrentQty.IsNegative() || l.AdjustedQty.IsNegative() {
			return fmt.Errorf("line %d quantities must be >= 0: %w", i+1, ErrValidation)
		}
		if l.UnitCost != nil && l.UnitCost.IsNegative() {
			return fmt.Errorf("line %d: %w", i+1, inventory.ErrInvalidUnitCost)
		}
	}
	return nil
}
