package transfers

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

// Handler exposes transfer endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/dispatch", h.handleDispatch)
	r.Post("/{id}/confirm", h.handleConfirm)
}

type linePayload struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	PackagingID *int64          `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
}

type createPayload struct {
	Number          string        `json:"number" validate:"max=64"`
	FromWarehouseID int64         `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64         `json:"to_warehouse_id" validate:"required,gt=0"`
	FromLocationID  *int64        `json:"from_location_id,omitempty" validate:"omitempty,gt=0"`
	ToLocationID    *int64        `json:"to_location_id,omitempty" validate:"omitempty,gt=0"`
	Note            string        `json:"note" validate:"max=500"`
	Lines           []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type transferView struct {
	ID              int64                      `json:"id"`
	Number          string                     `json:"number"`
	FromWarehouseID int64                      `json:"from_warehouse_id"`
	ToWarehouseID   int64                      `json:"to_warehouse_id"`
	FromLocationID  *int64                     `json:"from_location_id,omitempty"`
	ToLocationID    *int64                     `json:"to_location_id,omitempty"`
	Status          Status                     `json:"status"`
	Note            string                     `json:"note,omitempty"`
	TransactionID   *int64                     `json:"transaction_id,omitempty"`
	ReceivedAt      *time.Time                 `json:"received_at,omitempty"`
	Lines           []linePayload              `json:"lines,omitempty"`
	Transaction     *inventory.TransactionView `json:"transaction,omitempty"`
}

func newTransferView(t Transfer, lines []Line) transferView {
	v := transferView{
		ID:              t.ID,
		Number:          t.Number,
		FromWarehouseID: t.FromWarehouseID,
		ToWarehouseID:   t.ToWarehouseID,
		FromLocationID:  t.FromLocationID,
		ToLocationID:    t.ToLocationID,
		Status:          t.Status,
		Note:            t.Note,
		TransactionID:   t.TransactionID,
		ReceivedAt:      t.ReceivedAt,
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, linePayload{ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty})
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
	input := CreateInput{
		Number:          payload.Number,
		FromWarehouseID: payload.FromWarehouseID,
		ToWarehouseID:   payload.ToWarehouseID,
		FromLocationID:  payload.FromLocationID,
		ToLocationID:    payload.ToLocationID,
		Note:            payload.Note,
	}
	for _, l := range payload.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	t, err := h.service.Create(r.Context(), scope, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newTransferView(t, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	t, lines, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTransferView(t, lines))
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Dispatch(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newTransferView(t, nil))
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.scopeAndID(w, r)
	if !ok {
		return
	}
	t, posted, err := h.service.Confirm(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("confirm transfer failed", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := newTransferView(t, nil)
	tv := inventory.NewTransactionView(posted)
	view.Transaction = &tv
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) scopeAndID(w http.ResponseWriter, r *http.Request) (shared.Scope, int64, bool) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Scope{}, 0, false
	}
	id, err := shared.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Scope{}, 0, false
	}
	return scope, id, true
}
