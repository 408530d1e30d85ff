package stockrequests

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
	Get(ctx context.Context, companyID, id int64) (Request, []Line, error)
	ListReservations(ctx context.Context, requestID int64) ([]Reservation, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, req Request) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	LockForUpdate(ctx context.Context, companyID, id int64) (Request, []Line, error)
	InsertReservations(ctx context.Context, rows []Reservation) error
	ListReservations(ctx context.Context, requestID int64) ([]Reservation, error)
	DeleteReservations(ctx context.Context, requestID int64) error
	MarkReady(ctx context.Context, id int64) error
	MarkDelivered(ctx context.Context, id, transactionID int64, at time.Time) error
}

// InventoryPort reserves, releases and posts stock.
type InventoryPort interface {
	Post(ctx context.Context, scope shared.Scope, req inventory.MovementRequest) (inventory.Transaction, error)
	Reserve(ctx context.Context, scope shared.Scope, itemID, warehouseID int64, qty decimal.Decimal, packagingID *int64) ([]inventory.Consumption, error)
	Release(ctx context.Context, scope shared.Scope, itemID, warehouseID int64, reserved []inventory.Consumption) error
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the stock request workflow.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the stock request service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: time.Now}
}

// CreateInput describes a new request.
type CreateInput struct {
	Number      string
	WarehouseID int64
	Note        string
	Lines       []LineInput
}

// LineInput is one requested item.
type LineInput struct {
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
}

// Create stores a draft request.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Request, error) {
	if err := input.validate(); err != nil {
		return Request{}, err
	}
	if input.Number == "" {
		input.Number = shared.GenerateNumber("SR")
	}
	req := Request{
		CompanyID:   scope.CompanyID,
		Number:      input.Number,
		WarehouseID: input.WarehouseID,
		RequestedBy: scope.ActorID,
		Status:      StatusDraft,
		Note:        input.Note,
		CreatedAt:   s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		for _, l := range input.Lines {
			if err := tx.InsertLine(ctx, Line{RequestID: id, ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// Get loads a request with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Request, []Line, error) {
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Reservations lists the stock held for a request.
func (s *Service) Reservations(ctx context.Context, scope shared.Scope, id int64) ([]Reservation, error) {
	if _, _, err := s.repo.Get(ctx, scope.CompanyID, id); err != nil {
		return nil, err
	}
	return s.repo.ListReservations(ctx, id)
}

// MarkReady reserves every line and moves the request to ready_for_pick.
// Either all lines are reserved or none are.
func (s *Service) MarkReady(ctx context.Context, scope shared.Scope, id int64) (Request, []Reservation, error) {
	var (
		req      Request
		reserved []Reservation
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines []Line
			err   error
		)
		req, lines, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return fmt.Errorf("request %s is %s: %w", req.Number, req.Status, ErrInvalidState)
		}
		for _, l := range lines {
			plan, err := s.inventory.Reserve(ctx, scope, l.ItemID, req.WarehouseID, l.Qty, l.PackagingID)
			if err != nil {
				return fmt.Errorf("reserve item %d: %w", l.ItemID, err)
			}
			for _, c := range plan {
				reserved = append(reserved, Reservation{RequestID: req.ID, LineID: l.ID, ItemID: l.ItemID, LocationID: c.LocationID, Qty: c.Quantity})
			}
		}
		if err := tx.InsertReservations(ctx, reserved); err != nil {
			return err
		}
		if err := tx.MarkReady(ctx, req.ID); err != nil {
			return err
		}
		req.Status = StatusReadyForPick
		return s.recordAudit(ctx, scope, "stock_request.ready", req, "")
	})
	if err != nil {
		return Request{}, nil, err
	}
	return req, reserved, nil
}

// Picked delivers a ready request: its reservations are released and the
// same quantities are issued from the same locations.
func (s *Service) Picked(ctx context.Context, scope shared.Scope, id int64) (Request, inventory.Transaction, error) {
	var (
		req    Request
		posted inventory.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines []Line
			err   error
		)
		req, lines, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if req.Status != StatusReadyForPick {
			return fmt.Errorf("request %s is %s: %w", req.Number, req.Status, ErrInvalidState)
		}
		reserved, err := tx.ListReservations(ctx, req.ID)
		if err != nil {
			return err
		}
		if len(reserved) == 0 {
			return fmt.Errorf("request %s has nothing reserved: %w", req.Number, inventory.ErrInvalidReservation)
		}
		byItem := make(map[int64][]inventory.Consumption)
		var order []int64
		for _, r := range reserved {
			if _, ok := byItem[r.ItemID]; !ok {
				order = append(order, r.ItemID)
			}
			byItem[r.ItemID] = append(byItem[r.ItemID], inventory.Consumption{LocationID: r.LocationID, Quantity: r.Qty})
		}
		for _, itemID := range order {
			if err := s.inventory.Release(ctx, scope, itemID, req.WarehouseID, byItem[itemID]); err != nil {
				return fmt.Errorf("release item %d: %w", itemID, err)
			}
		}
		posted, err = s.inventory.Post(ctx, scope, movementFor(req, lines, reserved))
		if err != nil {
			return err
		}
		if err := tx.DeleteReservations(ctx, req.ID); err != nil {
			return err
		}
		at := s.now().UTC()
		if err := tx.MarkDelivered(ctx, req.ID, posted.ID, at); err != nil {
			return err
		}
		req.Status = StatusDelivered
		req.TransactionID = &posted.ID
		req.DeliveredAt = &at
		return s.recordAudit(ctx, scope, "stock_request.deliver", req, posted.Code)
	})
	if err != nil {
		return Request{}, inventory.Transaction{}, err
	}
	s.logger.Info("stock request delivered", slog.String("number", req.Number), slog.String("transaction", posted.Code))
	return req, posted, nil
}

// movementFor issues each line as entered, drawing exactly its reserved
// quantities from the reserved locations.
func movementFor(req Request, lines []Line, reserved []Reservation) inventory.MovementRequest {
	mr := inventory.MovementRequest{
		Type:           inventory.TransactionTypeOut,
		WarehouseID:    req.WarehouseID,
		ReferenceType:  "stock_request",
		ReferenceID:    req.Number,
		Note:           req.Note,
		IdempotencyKey: fmt.Sprintf("stock_request:%d", req.ID),
	}
	sources := make(map[int64][]inventory.Consumption, len(lines))
	for _, r := range reserved {
		sources[r.LineID] = append(sources[r.LineID], inventory.Consumption{LocationID: r.LocationID, Quantity: r.Qty})
	}
	for _, l := range lines {
		mr.Lines = append(mr.Lines, inventory.MovementLine{
			ItemID:      l.ItemID,
			Qty:         l.Qty,
			PackagingID: l.PackagingID,
			Sources:     sources[l.ID],
		})
	}
	return mr
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, req Request, txCode string) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{"status": req.Status, "warehouse_id": req.WarehouseID}
	if txCode != "" {
		meta["transaction"] = txCode
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "stock_request",
		EntityID: req.Number,
		Meta:     meta,
	})
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
		if !l.Qty.IsPositive() {
			return fmt.Errorf("line %d qty %s: %w", i+1, l.Qty, inventory.ErrInvalidQuantity)
		}
	}
	return nil
}
