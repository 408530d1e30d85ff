package adjustments

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for stock adjustments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the adjustment handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/post", h.handlePost)
}

type linePayload struct {
	ItemID      int64            `json:"item_id" validate:"required,gt=0"`
	LocationID  *int64           `json:"location_id,omitempty" validate:"omitempty,gt=0"`
	PackagingID *int64           `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	CurrentQty  decimal.Decimal  `json:"current_qty"`
	AdjustedQty decimal.Decimal  `json:"adjusted_qty"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
}

type createPayload struct {
	Number      string        `json:"number" validate:"max=64"`
	WarehouseID int64         `json:"warehouse_id" validate:"required,gt=0"`
	Reason      string        `json:"reason" validate:"max=500"`
	Lines       []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type lineView struct {
	ItemID      int64            `json:"item_id"`
	LocationID  *int64           `json:"location_id,omitempty"`
	PackagingID *int64           `json:"packaging_id,omitempty"`
	CurrentQty  decimal.Decimal  `json:"current_qty"`
	AdjustedQty decimal.Decimal  `json:"adjusted_qty"`
	Delta       decimal.Decimal  `json:"delta"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
}

type adjustmentView struct {
	ID            int64                      `json:"id"`
	Number        string                     `json:"number"`
	WarehouseID   int64                      `json:"warehouse_id"`
	Status        Status                     `json:"status"`
	Reason        string                     `json:"reason,omitempty"`
	TransactionID *int64                     `json:"transaction_id,omitempty"`
	PostedAt      *time.Time                 `json:"posted_at,omitempty"`
	Lines         []lineView                 `json:"lines,omitempty"`
	Transaction   *inventory.TransactionView `json:"transaction,omitempty"`
}

func newAdjustmentView(adj Adjustment, lines []Line) adjustmentView {
	v := adjustmentView{
		ID:            adj.ID,
		Number:        adj.Number,
		WarehouseID:   adj.WarehouseID,
		Status:        adj.Status,
		Reason:        adj.Reason,
		TransactionID: adj.TransactionID,
		PostedAt:      adj.PostedAt,
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, lineView{
			ItemID:      l.ItemID,
			LocationID:  l.LocationID,
			PackagingID: l.PackagingID,
			CurrentQty:  l.CurrentQty,
			AdjustedQty: l.AdjustedQty,
			Delta:       l.Delta(),
			UnitCost:    l.UnitCost,
		})
	}
	return v
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{Number: payload.Number, WarehouseID: payload.WarehouseID, Reason: payload.Reason}
	for _, l := range payload.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	adj, err := h.service.Create(r.Context(), scope, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newAdjustmentView(adj, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
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
	adj, lines, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAdjustmentView(adj, lines))
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
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
	adj, posted, err := h.service.Post(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("post adjustment failed", slog.Int64("adjustment_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := newAdjustmentView(adj, nil)
	tv := inventory.NewTransactionView(posted)
	view.Transaction = &tv
	httpx.JSON(w, http.StatusOK, view)
}
