package procurement

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

// Handler wires HTTP endpoints for goods receipts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers goods receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createGRN)
	r.Get("/{id}", h.getGRN)
	r.Post("/{id}/post", h.postGRN)
}

type grnLinePayload struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	PackagingID *int64          `json:"packaging_id,omitempty" validate:"omitempty,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type grnPayload struct {
	Number      string           `json:"number" validate:"max=64"`
	SupplierRef string           `json:"supplier_ref" validate:"max=120"`
	WarehouseID int64            `json:"warehouse_id" validate:"required,gt=0"`
	LocationID  *int64           `json:"location_id,omitempty" validate:"omitempty,gt=0"`
	ReceivedAt  string           `json:"received_at" validate:"omitempty,datetime=2006-01-02"`
	Note        string           `json:"note" validate:"max=500"`
	Lines       []grnLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type grnView struct {
	ID            int64                      `json:"id"`
	Number        string                     `json:"number"`
	SupplierRef   string                     `json:"supplier_ref,omitempty"`
	WarehouseID   int64                      `json:"warehouse_id"`
	LocationID    *int64                     `json:"location_id,omitempty"`
	Status        GRNStatus                  `json:"status"`
	ReceivedAt    time.Time                  `json:"received_at"`
	TransactionID *int64                     `json:"transaction_id,omitempty"`
	Lines         []grnLinePayload           `json:"lines,omitempty"`
	Transaction   *inventory.TransactionView `json:"transaction,omitempty"`
}

func newGRNView(grn GoodsReceipt, lines []GRNLine) grnView {
	v := grnView{
		ID:            grn.ID,
		Number:        grn.Number,
		SupplierRef:   grn.SupplierRef,
		WarehouseID:   grn.WarehouseID,
		LocationID:    grn.LocationID,
		Status:        grn.Status,
		ReceivedAt:    grn.ReceivedAt,
		TransactionID: grn.TransactionID,
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, grnLinePayload{ItemID: l.ItemID, PackagingID: l.PackagingID, Qty: l.Qty, UnitCost: l.UnitCost})
	}
	return v
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.RequestScope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload grnPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateGRNInput{
		Number:      payload.Number,
		SupplierRef: payload.SupplierRef,
		WarehouseID: payload.WarehouseID,
		LocationID:  payload.LocationID,
		Note:        payload.Note,
	}
	if payload.ReceivedAt != "" {
		input.ReceivedAt, _ = time.Parse(time.DateOnly, payload.ReceivedAt)
	}
	for _, l := range payload.Lines {
		input.Lines = append(input.Lines, GRNLineInput(l))
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), scope, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newGRNView(grn, nil))
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
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
	grn, lines, err := h.service.GetGoodsReceipt(r.Context(), scope, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newGRNView(grn, lines))
}

func (h *Handler) postGRN(w http.ResponseWriter, r *http.Request) {
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
	grn, posted, err := h.service.PostGoodsReceipt(r.Context(), scope, id)
	if err != nil {
		h.logger.Error("post goods receipt failed", slog.Int64("grn_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	view := newGRNView(grn, nil)
	tv := inventory.NewTransactionView(posted)
	view.Transaction = &tv
	httpx.JSON(w, http.StatusOK, view)
}
