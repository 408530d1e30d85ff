package adjustments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction that inventory
// postings made with the callback context join.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const headerColumns = `id, company_id, number, warehouse_id, status, reason, transaction_id, created_by, created_at, posted_at`

func scanHeader(row pgx.Row) (Adjustment, error) {
	var a Adjustment
	err := row.Scan(&a.ID, &a.CompanyID, &a.Number, &a.WarehouseID, &a.Status, &a.Reason, &a.TransactionID, &a.CreatedBy, &a.CreatedAt, &a.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrNotFound
	}
	return a, err
}

func loadLines(ctx context.Context, q db.Querier, adjustmentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, adjustment_id, item_id, location_id, packaging_id, current_qty, adjusted_qty, unit_cost
FROM stock_adjustment_lines WHERE adjustment_id=$1 ORDER BY id`, adjustmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.AdjustmentID, &l.ItemID, &l.LocationID, &l.PackagingID, &l.CurrentQty, &l.AdjustedQty, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get returns an adjustment and its lines.
func (r *Repository) Get(ctx context.Context, companyID, id int64) (Adjustment, []Line, error) {
	q := db.Conn(ctx, r.pool)
	adj, err := scanHeader(q.QueryRow(ctx, `SELECT `+headerColumns+` FROM stock_adjustments WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Adjustment{}, nil, err
	}
	lines, err := loadLines(ctx, q, id)
	return adj, lines, err
}

func (tx *txRepo) Create(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (company_id, number, warehouse_id, status, reason, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		adj.CompanyID, adj.Number, adj.WarehouseID, adj.Status, adj.Reason, adj.CreatedBy, adj.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO stock_adjustment_lines (adjustment_id, item_id, location_id, packaging_id, current_qty, adjusted_qty, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		line.AdjustmentID, line.ItemID, line.LocationID, line.PackagingID, line.CurrentQty, line.AdjustedQty, line.UnitCost)
	return err
}

func (tx *txRepo) LockForUpdate(ctx context.Context, companyID, id int64) (Adjustment, []Line, error) {
	adj, err := scanHeader(tx.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM stock_adjustments WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Adjustment{}, nil, err
	}
	lines, err := loadLines(ctx, tx.tx, id)
	return adj, lines, err
}

func (tx *txRepo) MarkPosted(ctx context.Context, id, transactionID int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_adjustments SET status=$2, transaction_id=$3, posted_at=$4 WHERE id=$1`,
		id, StatusPosted, transactionID, at)
	return err
}
