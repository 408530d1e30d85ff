package stockrequests

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

// Handler exposes stock request endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the stock request handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/ready", h.handleReady)
	r.Post("/{id}/picked", h.handlePicked)
	r.Post("/{id}/pick", h.handlePickRemoved)
}

type linePayload struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	PackagingID *int64          `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
}

type createPayload struct {
	Number      string        `json:"number" validate:"max=64"`
	WarehouseID int64         `json:"warehouse_id" validate:"required,gt=0"`
	Note        string        `json:"note" validate:"max=500"`
	Lines       []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type reservationView struct {
	ItemID     int64           `json:"item_id"`
	LocationID int64           `json:"location_id"`
	Qty        decimal.Decimal `json:"qty"`
}

type requestView struct {
	ID            int64                      `json:"id"`
	Number        string                     `json:"number"`
	WarehouseID   int64                      `json:"warehouse_id"`
	Status        Status                     `json:"status"`
	Note          string                     `json:"note,omitempty"`
	TransactionID *int64                     `json:"transaction_id,omitempty"`
	DeliveredAt   *time.Time                 `json:"delivered_at,omitempty"`
	Lines         []linePayload              `json:"lines,omitempty"`
	Reservations  []reservationView          `json:"reservations,omitempty"`
	Transaction   *inventory.TransactionView `json:"transaction,omitempty"`
}

func newRequestView(req Request, lines []Line, reserved []Reservation) requestView {
	v := requestView{
		ID:            req.ID,
		Number:        req.Number,
		WarehouseID:   req.WarehouseID,
		Status:        req.Status,
		Note:          req.Note,
		TransactionID: req.TransactionID,
		DeliveredAt:   req.DeliveredAt,
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, linePayload{ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty})
	}
	for _, r := range reserved {
		v.Reservations = append(v.Reservations, reservationView{ItemID: r.ItemID, LocationID: r.LocationID, Qty: r.Qty})
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
	input := CreateInput{Number: payload.Number, WarehouseID: payload.WarehouseID, Note: payload.Note}
	for _, l := range payload.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	req, err := h.service.Create(r.Context(), scope, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newRequestView(req, nil, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	req, lines, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	reserved, err := h.service.Reservations(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRequestView(req, lines, reserved))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	req, reserved, err := h.service.MarkReady(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("reserve stock request failed", slog.Int64("request_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRequestView(req, nil, reserved))
}

func (h *Handler) handlePicked(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	req, posted, err := h.service.Picked(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("deliver stock request failed", slog.Int64("request_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := newRequestView(req, nil, nil)
	tv := inventory.NewTransactionView(posted)
	view.Transaction = &tv
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handlePickRemoved(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("deprecated endpoint called", slog.String("path", r.URL.Path))
	httpx.RespondError(w, ErrPickRemoved)
}

func scopeAndID(w http.ResponseWriter, r *http.Request) (shared.Scope, int64, bool) {
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
