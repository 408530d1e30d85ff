package transformation

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
	Get(ctx context.Context, companyID, id int64) (Order, []Line, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, o Order) (int64, error)
	InsertLine(ctx context.Context, line Line) error
	LockForUpdate(ctx context.Context, companyID, id int64) (Order, []Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetAllocatedCost(ctx context.Context, lineID int64, cost decimal.Decimal) error
	MarkCompleted(ctx context.Context, id, outTransactionID, inTransactionID int64, at time.Time) error
}

// InventoryPort posts movements and converts units.
type InventoryPort interface {
	Post(ctx context.Context, scope shared.Scope, req inventory.MovementRequest) (inventory.Transaction, error)
	Normalize(ctx context.Context, scope shared.Scope, itemID int64, qty decimal.Decimal, packagingID *int64) (inventory.UnitResolution, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs transformation orders.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the transformation service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: time.Now}
}

// CreateInput describes a new order.
type CreateInput struct {
	Number            string
	SourceWarehouseID int64
	TargetWarehouseID int64
	AdditionalCost    decimal.Decimal
	Note              string
	Lines             []LineInput
}

// LineInput is one order line.
type LineInput struct {
	Role        Role
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
	ScrapValue  decimal.Decimal
}

// Create stores a draft order.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Order, error) {
	if err := input.validate(); err != nil {
		return Order{}, err
	}
	if input.Number == "" {
		input.Number = shared.GenerateNumber("TRO")
	}
	o := Order{
		CompanyID:         scope.CompanyID,
		Number:            input.Number,
		SourceWarehouseID: input.SourceWarehouseID,
		TargetWarehouseID: input.TargetWarehouseID,
		Status:            StatusDraft,
		AdditionalCost:    input.AdditionalCost,
		Note:              input.Note,
		CreatedBy:         scope.ActorID,
		CreatedAt:         s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		for _, l := range input.Lines {
			if err := tx.InsertLine(ctx, Line{
				OrderID:     id,
				Role:        l.Role,
				ItemID:      l.ItemID,
				PackagingID: l.PackagingID,
				Qty:         l.Qty,
				ScrapValue:  l.ScrapValue,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// Get loads an order with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Order, []Line, error) {
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Prepare moves a draft order to PREPARING.
func (s *Service) Prepare(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	return s.transition(ctx, scope, id, StatusPreparing, "transformation.prepare")
}

// Cancel abandons an order that has not completed.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	return s.transition(ctx, scope, id, StatusCancelled, "transformation.cancel")
}

func (s *Service) transition(ctx context.Context, scope shared.Scope, id int64, to Status, action string) (Order, error) {
	var o Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		o, _, err = tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("order %s %s -> %s: %w", o.Number, o.Status, to, ErrInvalidState)
		}
		if err := tx.UpdateStatus(ctx, o.ID, to); err != nil {
			return err
		}
		o.Status = to
		return s.recordAudit(ctx, scope, action, o, nil)
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// Result is what Execute posted.
type Result struct {
	Order       Order
	Out         inventory.Transaction
	In          inventory.Transaction
	Allocations []Allocation
}

// Execute consumes the inputs from the source warehouse and receives the
// outputs into the target warehouse at their allocated cost. Both postings
// and the status change commit together.
func (s *Service) Execute(ctx context.Context, scope shared.Scope, id int64) (Result, error) {
	var res Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, lines, err := tx.LockForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, StatusCompleted) {
			return fmt.Errorf("order %s is %s: %w", o.Number, o.Status, ErrInvalidState)
		}

		var inputs, produced []Line
		for _, l := range lines {
			if l.Role == RoleInput {
				inputs = append(inputs, l)
			} else {
				produced = append(produced, l)
			}
		}

		out, err := s.inventory.Post(ctx, scope, o.movement(inventory.TransactionTypeOut, "out", o.SourceWarehouseID, inputs, nil))
		if err != nil {
			return fmt.Errorf("consume inputs: %w", err)
		}
		consumed := decimal.Zero
		for _, item := range out.Items {
			consumed = consumed.Add(item.NormalizedQty.Abs().Mul(item.ValuationRate))
		}

		norm := make([]Produced, 0, len(produced))
		for _, l := range produced {
			r, err := s.inventory.Normalize(ctx, scope, l.ItemID, l.Qty, l.PackagingID)
			if err != nil {
				return err
			}
			norm = append(norm, Produced{LineID: l.ID, Role: l.Role, NormalizedQty: r.NormalizedQty, ScrapValue: l.ScrapValue})
		}
		allocations, err := AllocateCost(consumed, o.AdditionalCost, norm)
		if err != nil {
			return err
		}
		costs := make([]decimal.Decimal, len(allocations))
		for i, a := range allocations {
			costs[i] = a.UnitCost
			if err := tx.SetAllocatedCost(ctx, a.LineID, a.Total); err != nil {
				return err
			}
		}

		in, err := s.inventory.Post(ctx, scope, o.movement(inventory.TransactionTypeIn, "in", o.TargetWarehouseID, produced, costs))
		if err != nil {
			return fmt.Errorf("receive outputs: %w", err)
		}

		at := s.now().UTC()
		if err := tx.MarkCompleted(ctx, o.ID, out.ID, in.ID, at); err != nil {
			return err
		}
		o.Status = StatusCompleted
		o.OutTransactionID = &out.ID
		o.InTransactionID = &in.ID
		o.CompletedAt = &at
		res = Result{Order: o, Out: out, In: in, Allocations: allocations}
		return s.recordAudit(ctx, scope, "transformation.execute", o, map[string]any{
			"out":      out.Code,
			"in":       in.Code,
			"consumed": consumed.String(),
		})
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("transformation completed",
		slog.String("number", res.Order.Number),
		slog.String("out", res.Out.Code),
		slog.String("in", res.In.Code))
	return res, nil
}

func (o Order) movement(t inventory.TransactionType, leg string, warehouseID int64, lines []Line, unitCosts []decimal.Decimal) inventory.MovementRequest {
	req := inventory.MovementRequest{
		Type:           t,
		WarehouseID:    warehouseID,
		ReferenceType:  "transformation_order",
		ReferenceID:    o.Number,
		Note:           o.Note,
		IdempotencyKey: fmt.Sprintf("transformation_order:%d:%s", o.ID, leg),
	}
	for i, l := range lines {
		ml := inventory.MovementLine{ItemID: l.ItemID, Qty: l.Qty, PackagingID: l.PackagingID}
		if unitCosts != nil {
			cost := unitCosts[i]
			ml.UnitCost = &cost
		}
		req.Lines = append(req.Lines, ml)
	}
	return req
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, o Order, extra map[string]any) error {
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{"status": o.Status}
	for k, v := range extra {
		meta[k] = v
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "transformation_order",
		EntityID: o.Number,
		Meta:     meta,
	})
}

func (in CreateInput) validate() error {
	if in.SourceWarehouseID <= 0 || in.TargetWarehouseID <= 0 {
		return fmt.Errorf("source and target warehouse required: %w", ErrValidation)
	}
	if in.AdditionalCost.IsNegative() {
		return fmt.Errorf("additional cost: %w", inventory.ErrInvalidUnitCost)
	}
	var inputs, outputs int
	for i, l := range in.Lines {
		if l.ItemID <= 0 {
			return fmt.Errorf("line %d item required: %w", i+1, ErrValidation)
		}
		if !l.Qty.IsPositive() {
			return fmt.Errorf("line %d qty %s: %w", i+1, l.Qty, inventory.ErrInvalidQuantity)
		}
		if l.ScrapValue.IsNegative() {
			return fmt.Errorf("line %d scrap value: %w", i+1, inventory.ErrInvalidUnitCost)
		}
		switch l.Role {
		case RoleInput:
			inputs++
		case RoleOutput:
			outputs++
		case RoleScrap:
		default:
			return fmt.Errorf("line %d role %q: %w", i+1, l.Role, ErrValidation)
		}
	}
	if inputs == 0 || outputs == 0 {
		return fmt.Errorf("an order needs at least one input and one output: %w", ErrValidation)
	}
	return nil
}
