package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueLedger carries every stock ledger task.
	QueueLedger = "ledger"
	// TaskInventoryReconcile compares location rows against aggregate balances
	// for every active warehouse.
	TaskInventoryReconcile = "inventory:reconcile"
)

// ReconcilePayload carries the options of one reconciliation run.
type ReconcilePayload struct {
	Repair      bool      `json:"repair"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source"`
}

// NewReconcileTask constructs an Asynq task for a reconciliation run.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body,
		asynq.Queue(QueueLedger),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}
