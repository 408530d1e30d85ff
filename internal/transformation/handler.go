package transformation

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

// Handler exposes transformation order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transformation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/prepare", h.handlePrepare)
	r.Post("/{id}/execute", h.handleExecute)
	r.Post("/{id}/cancel", h.handleCancel)
}

type linePayload struct {
	Role        Role            `json:"role" validate:"required,oneof=input output scrap"`
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	PackagingID *int64          `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	ScrapValue  decimal.Decimal `json:"scrap_value"`
}

type createPayload struct {
	Number            string          `json:"number" validate:"max=64"`
	SourceWarehouseID int64           `json:"source_warehouse_id" validate:"required,gt=0"`
	TargetWarehouseID int64           `json:"target_warehouse_id" validate:"required,gt=0"`
	AdditionalCost    decimal.Decimal `json:"additional_cost"`
	Note              string          `json:"note" validate:"max=500"`
	Lines             []linePayload   `json:"lines" validate:"required,min=2,dive"`
}

type lineView struct {
	ID            int64            `json:"id"`
	Role          Role             `json:"role"`
	ItemID        int64            `json:"item_id"`
	PackagingID   *int64           `json:"packaging_id,omitempty"`
	Qty           decimal.Decimal  `json:"qty"`
	ScrapValue    decimal.Decimal  `json:"scrap_value"`
	AllocatedCost *decimal.Decimal `json:"allocated_cost,omitempty"`
}

type orderView struct {
	ID                int64                      `json:"id"`
	Number            string                     `json:"number"`
	SourceWarehouseID int64                      `json:"source_warehouse_id"`
	TargetWarehouseID int64                      `json:"target_warehouse_id"`
	Status            Status                     `json:"status"`
	AdditionalCost    decimal.Decimal            `json:"additional_cost"`
	Note              string                     `json:"note,omitempty"`
	OutTransactionID  *int64                     `json:"out_transaction_id,omitempty"`
	InTransactionID   *int64                     `json:"in_transaction_id,omitempty"`
	CompletedAt       *time.Time                 `json:"completed_at,omitempty"`
	Lines             []lineView                 `json:"lines,omitempty"`
	Out               *inventory.TransactionView `json:"out,omitempty"`
	In                *inventory.TransactionView `json:"in,omitempty"`
}

func newOrderView(o Order, lines []Line) orderView {
	v := orderView{
		ID:                o.ID,
		Number:            o.Number,
		SourceWarehouseID: o.SourceWarehouseID,
		TargetWarehouseID: o.TargetWarehouseID,
		Status:            o.Status,
		AdditionalCost:    o.AdditionalCost,
		Note:              o.Note,
		OutTransactionID:  o.OutTransactionID,
		InTransactionID:   o.InTransactionID,
		CompletedAt:       o.CompletedAt,
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, lineView{
			ID:            l.ID,
			Role:          l.Role,
			ItemID:        l.ItemID,
			PackagingID:   l.PackagingID,
			Qty:           l.Qty,
			ScrapValue:    l.ScrapValue,
			AllocatedCost: l.AllocatedCost,
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
	input := CreateInput{
		Number:            payload.Number,
		SourceWarehouseID: payload.SourceWarehouseID,
		TargetWarehouseID: payload.TargetWarehouseID,
		AdditionalCost:    payload.AdditionalCost,
		Note:              payload.Note,
	}
	for _, l := range payload.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	o, err := h.service.Create(r.Context(), scope, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOrderView(o, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	o, lines, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(o, lines))
}

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Prepare(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(o, nil))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	o, err := h.service.Cancel(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(o, nil))
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := scopeAndID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Execute(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("execute transformation failed", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := newOrderView(res.Order, nil)
	out := inventory.NewTransactionView(res.Out)
	in := inventory.NewTransactionView(res.In)
	view.Out, view.In = &out, &in
	httpx.JSON(w, http.StatusOK, view)
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
