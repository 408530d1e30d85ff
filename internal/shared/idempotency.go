package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// ErrIdempotencyConflict is returned when a key was already claimed.
var ErrIdempotencyConflict = httpx.NewError(httpx.ErrConflict, "idempotency key already used")

var errEmptyIdempotencyKey = errors.New("shared: idempotency claim needs company, module and key")

// IdempotencyStore records claimed keys per company and module. A claim made
// inside db.WithTx is released again when that transaction rolls back, so a
// failed posting can be retried with the same key.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore returns a store backed by pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim stores key or fails with ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, companyID int64, module, key string) error {
	if companyID == 0 || module == "" || key == "" {
		return errEmptyIdempotencyKey
	}
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `INSERT INTO idempotency_keys (company_id, module, key)
VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, companyID, module, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}
