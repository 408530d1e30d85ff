package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// AuditLog is one row of audit_logs. A zero At lets the database stamp it.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

var errIncompleteAuditLog = errors.New("shared: audit log needs action, entity and entity id")

// AuditLogger appends to audit_logs. Called inside db.WithTx the insert
// commits or rolls back with the movement it describes.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a logger writing through pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record inserts entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errIncompleteAuditLog
	}
	var meta []byte
	if len(entry.Meta) > 0 {
		b, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("shared: audit meta: %w", err)
		}
		meta = b
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err := db.Conn(ctx, l.pool).Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}
