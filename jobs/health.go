package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// QueueInspector is the part of *asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue health under /jobs.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler returns a Handler. With a nil inspector the queue reads as empty.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches the job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := queueHealth{Queue: QueueLedger}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, resp)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueLedger)
	if err != nil {
		h.logger.Warn("queue inspection failed", slog.String("queue", QueueLedger), slog.Any("error", err))
		httpx.RespondError(w, httpx.NewError(httpx.ErrUnavailable, "jobs: queue unavailable"))
		return
	}
	if info != nil {
		resp.Pending, resp.Active, resp.Retry = info.Pending, info.Active, info.Retry
	}
	httpx.JSON(w, http.StatusOK, resp)
}
