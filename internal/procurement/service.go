package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const costScale int32 = 6

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGRN(ctx context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line GRNLine) error
	LockGRN(ctx context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error)
	MarkGRNPosted(ctx context.Context, id, transactionID int64) error
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	Post(ctx context.Context, scope shared.Scope, req inventory.MovementRequest) (inventory.Transaction, error)
	Normalize(ctx context.Context, scope shared.Scope, itemID int64, qty decimal.Decimal, packagingID *int64) (inventory.UnitResolution, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates goods receipts.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, audit: audit, logger: logger, now: time.Now}
}

// CreateGRNInput describes GRN creation.
type CreateGRNInput struct {
	Number      string
	SupplierRef string
	WarehouseID int64
	LocationID  *int64
	ReceivedAt  time.Time
	Note        string
	Lines       []GRNLineInput
}

// GRNLineInput describes a received line. UnitCost is per packaging unit.
type GRNLineInput struct {
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
}

// CreateGoodsReceipt stores a draft GRN.
func (s *Service) CreateGoodsReceipt(ctx context.Context, scope shared.Scope, input CreateGRNInput) (GoodsReceipt, error) {
	if input.WarehouseID <= 0 {
		return GoodsReceipt{}, fmt.Errorf("warehouse required: %w", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, fmt.Errorf("at least one line required: %w", ErrValidation)
	}
	for i, l := range input.Lines {
		if l.ItemID <= 0 {
			return GoodsReceipt{}, fmt.Errorf("line %d item required: %w", i+1, ErrValidation)
		}
		if !l.Qty.IsPositive() {
			return GoodsReceipt{}, fmt.Errorf("line %d qty %s: %w", i+1, l.Qty, inventory.ErrInvalidQuantity)
		}
		if l.UnitCost.IsNegative() {
			return GoodsReceipt{}, fmt.Errorf("line %d: %w", i+1, inventory.ErrInvalidUnitCost)
		}
	}
	if input.Number == "" {
		input.Number = shared.GenerateNumber("GRN")
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = s.now()
	}
	grn := GoodsReceipt{
		CompanyID:   scope.CompanyID,
		Number:      input.Number,
		SupplierRef: input.SupplierRef,
		WarehouseID: input.WarehouseID,
		LocationID:  input.LocationID,
		Status:      GRNStatusDraft,
		Note:        input.Note,
		ReceivedAt:  input.ReceivedAt.UTC(),
		CreatedBy:   scope.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		for _, l := range input.Lines {
			if err := tx.InsertGRNLine(ctx, GRNLine{GRNID: id, ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty, UnitCost: l.UnitCost}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, scope, "GRN_CREATE", grn, nil)
	return grn, nil
}

// GetGoodsReceipt loads a GRN with its lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, scope shared.Scope, id int64) (GoodsReceipt, []GRNLine, error) {
	return s.repo.GetGRN(ctx, scope.CompanyID, id)
}

// PostGoodsReceipt posts GRN and updates inventory.
func (s *Service) PostGoodsReceipt(ctx context.Context, scope shared.Scope, id int64) (GoodsReceipt, inventory.Transaction, error) {
	var (
		grn    GoodsReceipt
		posted inventory.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var (
			lines []GRNLine
			err   error
		)
		grn, lines, err = tx.LockGRN(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return fmt.Errorf("goods receipt %s is %s: %w", grn.Number, grn.Status, ErrInvalidState)
		}
		refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("GRN:%d", grn.ID)))
		req := inventory.MovementRequest{
			Type:           inventory.TransactionTypeIn,
			WarehouseID:    grn.WarehouseID,
			ToLocationID:   grn.LocationID,
			ReferenceType:  "goods_receipt",
			ReferenceID:    grn.Number,
			PostingDate:    grn.ReceivedAt,
			Note:           fmt.Sprintf("GRN %s %s", grn.Number, grn.SupplierRef),
			IdempotencyKey: refID.String(),
		}
		for _, line := range lines {
			res, err := s.inventory.Normalize(ctx, scope, line.ItemID, line.Qty, line.PackagingID)
			if err != nil {
				return err
			}
			baseCost := line.UnitCost.Mul(line.Qty).DivRound(res.NormalizedQty, costScale)
			req.Lines = append(req.Lines, inventory.MovementLine{
				ItemID:      line.ItemID,
				Qty:         line.Qty,
				PackagingID: line.PackagingID,
				UnitCost:    &baseCost,
			})
		}
		posted, err = s.inventory.Post(ctx, scope, req)
		if err != nil {
			return err
		}
		if err := tx.MarkGRNPosted(ctx, grn.ID, posted.ID); err != nil {
			return err
		}
		grn.Status = GRNStatusPosted
		grn.TransactionID = &posted.ID
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, inventory.Transaction{}, err
	}
	s.recordAudit(ctx, scope, "GRN_POST", grn, map[string]any{"transaction": posted.Code})
	s.logger.Info("goods receipt posted", slog.String("number", grn.Number), slog.String("transaction", posted.Code))
	return grn, posted, nil
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, grn GoodsReceipt, extra map[string]any) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{"number": grn.Number, "warehouse_id": grn.WarehouseID}
	for k, v := range extra {
		meta[k] = v
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "goods_receipt",
		EntityID: grn.Number,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
