package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReconcileEnqueuer schedules a background reconciliation run.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, repair bool) (string, error)
}

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  ReconcileEnqueuer
	validator *validator.Validate
}

// NewHandler constructs the inventory handler. A nil enqueuer makes
// /reconcile run synchronously.
func NewHandler(logger *slog.Logger, service *Service, enqueuer ReconcileEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.handleBalance)
	r.Get("/ledger", h.handleLedger)
	r.Post("/movements", h.handleMovement)
	r.Get("/transactions/{id}", h.handleTransaction)
	r.Post("/transactions/{id}/reverse", h.handleReverse)
	r.Post("/reconcile", h.handleReconcile)
}

type movementLinePayload struct {
	ItemID      int64            `json:"item_id" validate:"required,gt=0"`
	Qty         decimal.Decimal  `json:"qty"`
	PackagingID *int64           `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	WarehouseID *int64           `json:"warehouse_id,omitempty" validate:"omitempty,gt=0"`
	LocationID  *int64           `json:"location_id,omitempty" validate:"omitempty,gt=0"`
}

type movementPayload struct {
	Type           string                `json:"type" validate:"required,oneof=in out transfer adjustment"`
	WarehouseID    int64                 `json:"warehouse_id" validate:"required,gt=0"`
	ToWarehouseID  *int64                `json:"to_warehouse_id,omitempty" validate:"omitempty,gt=0"`
	FromLocationID *int64                `json:"from_location_id,omitempty" validate:"omitempty,gt=0"`
	ToLocationID   *int64                `json:"to_location_id,omitempty" validate:"omitempty,gt=0"`
	ReferenceType  string                `json:"reference_type" validate:"required,max=64"`
	ReferenceID    string                `json:"reference_id" validate:"required,max=64"`
	PostingDate    *time.Time            `json:"posting_date,omitempty"`
	Note           string                `json:"note" validate:"max=500"`
	Lines          []movementLinePayload `json:"lines" validate:"required,min=1,dive"`
}

func (p movementPayload) request(idempotencyKey string) MovementRequest {
	req := MovementRequest{
		Type:           TransactionType(p.Type),
		WarehouseID:    p.WarehouseID,
		ToWarehouseID:  p.ToWarehouseID,
		FromLocationID: p.FromLocationID,
		ToLocationID:   p.ToLocationID,
		ReferenceType:  p.ReferenceType,
		ReferenceID:    p.ReferenceID,
		Note:           p.Note,
		IdempotencyKey: idempotencyKey,
	}
	if p.PostingDate != nil {
		req.PostingDate = *p.PostingDate
	}
	for _, l := range p.Lines {
		req.Lines = append(req.Lines, MovementLine{
			ItemID:      l.ItemID,
			Qty:         l.Qty,
			PackagingID: l.PackagingID,
			UnitCost:    l.UnitCost,
			WarehouseID: l.WarehouseID,
			LocationID:  l.LocationID,
		})
	}
	return req
}

// TransactionView is the JSON shape of a posted ledger header.
type TransactionView struct {
	ID             int64                 `json:"id"`
	Code           string                `json:"code"`
	Type           TransactionType       `json:"type"`
	Status         string                `json:"status"`
	WarehouseID    int64                 `json:"warehouse_id"`
	ToWarehouseID  *int64                `json:"to_warehouse_id,omitempty"`
	FromLocationID *int64                `json:"from_location_id,omitempty"`
	ToLocationID   *int64                `json:"to_location_id,omitempty"`
	ReferenceType  string                `json:"reference_type"`
	ReferenceID    string                `json:"reference_id"`
	ReversalOf     *int64                `json:"reversal_of,omitempty"`
	PostingDate    time.Time             `json:"posting_date"`
	Note           string                `json:"note,omitempty"`
	Items          []TransactionItemView `json:"items"`
	Locations      []LocationEffectView  `json:"locations"`
}

// TransactionItemView is one ledger line in JSON.
type TransactionItemView struct {
	LineNo           int             `json:"line_no"`
	ItemID           int64           `json:"item_id"`
	WarehouseID      int64           `json:"warehouse_id"`
	InputQty         decimal.Decimal `json:"input_qty"`
	InputPackagingID *int64          `json:"input_packaging_id,omitempty"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	NormalizedQty    decimal.Decimal `json:"normalized_qty"`
	ValuationRate    decimal.Decimal `json:"valuation_rate"`
	QtyBefore        decimal.Decimal `json:"qty_before"`
	QtyAfter         decimal.Decimal `json:"qty_after"`
	StockValueBefore decimal.Decimal `json:"stock_value_before"`
	StockValueAfter  decimal.Decimal `json:"stock_value_after"`
}

// LocationEffectView is one location effect in JSON.
type LocationEffectView struct {
	ItemID      int64           `json:"item_id"`
	WarehouseID int64           `json:"warehouse_id"`
	LocationID  int64           `json:"location_id"`
	QtyDelta    decimal.Decimal `json:"qty_delta"`
}

// NewTransactionView converts a ledger header for JSON responses.
func NewTransactionView(t Transaction) TransactionView {
	v := TransactionView{
		ID:             t.ID,
		Code:           t.Code,
		Type:           t.Type,
		Status:         t.Status,
		WarehouseID:    t.WarehouseID,
		ToWarehouseID:  t.ToWarehouseID,
		FromLocationID: t.FromLocationID,
		ToLocationID:   t.ToLocationID,
		ReferenceType:  t.ReferenceType,
		ReferenceID:    t.ReferenceID,
		ReversalOf:     t.ReversalOf,
		PostingDate:    t.PostingDate,
		Note:           t.Note,
		Items:          make([]TransactionItemView, 0, len(t.Items)),
		Locations:      make([]LocationEffectView, 0, len(t.Locations)),
	}
	for _, it := range t.Items {
		v.Items = append(v.Items, TransactionItemView(it))
	}
	for _, e := range t.Locations {
		v.Locations = append(v.Locations, LocationEffectView(e))
	}
	return v
}

type balanceResponse struct {
	ItemID            int64                 `json:"item_id"`
	WarehouseID       int64                 `json:"warehouse_id"`
	CurrentStock      decimal.Decimal       `json:"current_stock"`
	AvgCost           decimal.Decimal       `json:"avg_cost"`
	StockValue        decimal.Decimal       `json:"stock_value"`
	DefaultLocationID *int64                `json:"default_location_id,omitempty"`
	Locations         []locationBalanceView `json:"locations"`
}

type locationBalanceView struct {
	LocationID  int64           `json:"location_id"`
	QtyOnHand   decimal.Decimal `json:"qty_on_hand"`
	QtyReserved decimal.Decimal `json:"qty_reserved"`
	Available   decimal.Decimal `json:"available"`
}

type ledgerEntryView struct {
	TransactionID   int64           `json:"transaction_id"`
	Code            string          `json:"code"`
	Type            TransactionType `json:"type"`
	PostingDate     time.Time       `json:"posting_date"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	QtyIn           decimal.Decimal `json:"qty_in"`
	QtyOut          decimal.Decimal `json:"qty_out"`
	QtyAfter        decimal.Decimal `json:"qty_after"`
	ValuationRate   decimal.Decimal `json:"valuation_rate"`
	StockValueAfter decimal.Decimal `json:"stock_value_after"`
}

type ledgerResponse struct {
	Entries    []ledgerEntryView `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

type reversePayload struct {
	Note string `json:"note" validate:"max=500"`
}

type reconcilePayload struct {
	Repair bool `json:"repair"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := shared.QueryID(r, "item_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := shared.QueryID(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Balance(r.Context(), scope, itemID, warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := balanceResponse{
		ItemID:            view.Balance.ItemID,
		WarehouseID:       view.Balance.WarehouseID,
		CurrentStock:      view.Balance.CurrentStock,
		AvgCost:           view.Balance.AvgCost,
		StockValue:        view.Balance.StockValue(),
		DefaultLocationID: view.Balance.DefaultLocationID,
		Locations:         make([]locationBalanceView, 0, len(view.Locations)),
	}
	for _, lb := range view.Locations {
		resp.Locations = append(resp.Locations, locationBalanceView{
			LocationID:  lb.LocationID,
			QtyOnHand:   lb.QtyOnHand,
			QtyReserved: lb.QtyReserved,
			Available:   lb.Available(),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseLedgerFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, page, err := h.service.Ledger(r.Context(), scope, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := ledgerResponse{Entries: make([]ledgerEntryView, 0, len(entries)), Pagination: page}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ledgerEntryView{
			TransactionID:   e.TransactionID,
			Code:            e.Code,
			Type:            e.Type,
			PostingDate:     e.PostingDate,
			ReferenceType:   e.ReferenceType,
			ReferenceID:     e.ReferenceID,
			QtyIn:           e.QtyIn,
			QtyOut:          e.QtyOut,
			QtyAfter:        e.QtyAfter,
			ValuationRate:   e.ValuationRate,
			StockValueAfter: e.StockValueAfter,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func parseLedgerFilter(r *http.Request) (LedgerFilter, error) {
	var (
		filter LedgerFilter
		err    error
	)
	if filter.ItemID, err = shared.QueryID(r, "item_id"); err != nil {
		return filter, err
	}
	if filter.WarehouseID, err = shared.QueryID(r, "warehouse_id"); err != nil {
		return filter, err
	}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse(time.DateOnly, v); err != nil {
			return filter, fmt.Errorf("%w: from must be YYYY-MM-DD", httpx.ErrValidation)
		}
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filter, fmt.Errorf("%w: to must be YYYY-MM-DD", httpx.ErrValidation)
		}
		// end of day
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if filter.PerPage, err = shared.OptionalInt(r, "limit", 200); err != nil {
		return filter, err
	}
	if filter.Page, err = shared.OptionalInt(r, "page", 1); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload movementPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	posted, err := h.service.Post(r.Context(), scope, payload.request(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.logger.Error("post movement failed",
			slog.Int64("company_id", scope.CompanyID),
			slog.String("type", payload.Type),
			slog.String("reference", payload.ReferenceType+":"+payload.ReferenceID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewTransactionView(posted))
}

func (h *Handler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Transaction(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewTransactionView(t))
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload reversePayload
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if err := shared.ValidateStruct(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reversal, err := h.service.Reverse(r.Context(), scope, id, payload.Note)
	if err != nil {
		h.logger.Error("reverse transaction failed", slog.Int64("transaction_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewTransactionView(reversal))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if _, err := shared.RequestScope(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload reconcilePayload
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if h.enqueuer == nil {
		summary, err := h.service.ReconcileAll(r.Context(), payload.Repair)
		if err != nil {
			h.logger.Error("reconcile failed", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"warehouses":        summary.Warehouses,
			"skipped":           summary.Skipped,
			"drifted":           summary.Drifted,
			"repaired":          summary.Repaired,
			"ledger_mismatches": summary.LedgerMismatches,
		})
		return
	}
	taskID, err := h.enqueuer.EnqueueReconcile(r.Context(), payload.Repair)
	if err != nil {
		h.logger.Error("enqueue reconcile failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
