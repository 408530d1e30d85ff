package transfers

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
	Get(ctx context.Context, companyID, id int64) (Transfer, []Line, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, t Transfer) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	LockForUpdate(ctx context.Context, companyID, id int64) (Transfer, []Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	MarkReceived(ctx context.Context, id, transactionID int64, at time.Time) error
}

// InventoryPort posts movements to the stock ledger.
type InventoryPort interface {
	Post(ctx context.Context, scope shared.Scope, req inventory.MovementRequest) (inventory.Transaction, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates stock transfers.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: time.Now}
}

// CreateInput describes a new transfer.
type CreateInput struct {
	Number          string
	FromWarehouseID int64
	ToWarehouseID   int64
	FromLocationID  *int64
	ToLocationID    *int64
	Note            string
	Lines           []LineInput
}

// LineInput is one requested item.
type LineInput struct {
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
}

// Create stores a pending transfer.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Transfer, error) {
	if err := input.validate(); err != nil {
		return Transfer{}, err
	}
	if input.Number == "" {
		input.Number = shared.GenerateNumber("TRF")
	}
	t := Transfer{
		CompanyID:       scope.CompanyID,
		Number:          input.Number,
		FromWarehouseID: input.FromWarehouseID,
		ToWarehouseID:   input.ToWarehouseID,
		FromLocationID:  input.FromLocationID,
		ToLocationID:    input.ToLocationID,
		Status:          StatusPending,
		Note:            input.Note,
		CreatedBy:       scope.ActorID,
		CreatedAt:       s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id
		for _, l := range input.Lines {
			if err := tx.InsertLine(ctx, Line{TransferID: id, ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// Get loads a transfer with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Transfer, []Line, error) {
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Dispatch marks a pending transfer as in transit. Stock does not move until
// the destination confirms receipt.
func (s *Service) Dispatch(ctx context.Context, scope shared.Scope, id int64) (Transfer, error) {
	var t Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, _, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !t.CanDispatch() {
			return fmt.Errorf("transfer %s is %s: %w", t.Number, t.Status, ErrInvalidState)
		}
		if err := tx.UpdateStatus(ctx, t.ID, StatusInTransit); err != nil {
			return err
		}
		t.Status = StatusInTransit
		return s.recordAudit(ctx, scope, "transfer.dispatch", t, "")
	})
	if err != nil {
		return Transfer{}, err
	}
	return t, nil
}

// Confirm receives the transfer and posts the movement. The destination
// warehouse must sit under the caller's business unit.
func (s *Service) Confirm(ctx context.Context, scope shared.Scope, id int64) (Transfer, inventory.Transaction, error) {
	var (
		t      Transfer
		posted inventory.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines []Line
			err   error
		)
		t, lines, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !t.CanConfirm() {
			return fmt.Errorf("transfer %s is %s: %w", t.Number, t.Status, ErrInvalidState)
		}
		posted, err = s.inventory.Post(ctx, scope, movementFor(t, lines))
		if err != nil {
			return err
		}
		at := s.now().UTC()
		if err := tx.MarkReceived(ctx, t.ID, posted.ID, at); err != nil {
			return err
		}
		t.Status = StatusReceived
		t.TransactionID = &posted.ID
		t.ReceivedAt = &at
		return s.recordAudit(ctx, scope, "transfer.confirm", t, posted.Code)
	})
	if err != nil {
		return Transfer{}, inventory.Transaction{}, err
	}
	s.logger.Info("stock transfer received", slog.String("number", t.Number), slog.String("transaction", posted.Code))
	return t, posted, nil
}

func movementFor(t Transfer, lines []Line) inventory.MovementRequest {
	to := t.ToWarehouseID
	req := inventory.MovementRequest{
		Type:           inventory.TransactionTypeTransfer,
		WarehouseID:    t.FromWarehouseID,
		ToWarehouseID:  &to,
		FromLocationID: t.FromLocationID,
		ToLocationID:   t.ToLocationID,
		ReferenceType:  "stock_transfer",
		ReferenceID:    t.Number,
		Note:           t.Note,
		IdempotencyKey: fmt.Sprintf("stock_transfer:%d", t.ID),
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, inventory.MovementLine{ItemID: l.ItemID, Qty: l.Qty, PackagingID: l.PackagingID})
	}
	return req
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, t Transfer, txCode string) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{"status": t.Status, "from": t.FromWarehouseID, "to": t.ToWarehouseID}
	if txCode != "" {
		meta["transaction"] = txCode
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: t.Number,
		Meta:     meta,
	})
}

func (in CreateInput) validate() error {
	if in.FromWarehouseID <= 0 || in.ToWarehouseID <= 0 {
		return fmt.Errorf("source and destination warehouse required: %w", ErrValidation)
	}
	if in.FromWarehouseID == in.ToWarehouseID {
		if in.FromLocationID == nil || in.ToLocationID == nil || *in.FromLocationID == *in.ToLocationID {
			return fmt.Errorf("same-warehouse transfer needs two distinct locations: %w", ErrValidation)
		}
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("at least one line required: %w", ErrValidation)
	}
	for i, l := range in.Lines {
		if l.ItemID <= 0 {
			return fmt.Errorf("line %d item required: %w", i+1, ErrValidation)
		}
		if !l.Qty.IsPositive() {
			return fmt.Errorf("line %d qty %s: %w", i+1, l.Qty, inventory.ErrInvalidQuantity)
		}
	}
	return nil
}
