package transformation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists transformation orders.
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

// WithTx wraps callback in a transaction shared with ledger postings.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const orderColumns = `id, company_id, number, source_warehouse_id, target_warehouse_id, status, additional_cost, note,
out_transaction_id, in_transaction_id, created_by, created_at, completed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CompanyID, &o.Number, &o.SourceWarehouseID, &o.TargetWarehouseID, &o.Status, &o.AdditionalCost, &o.Note,
		&o.OutTransactionID, &o.InTransactionID, &o.CreatedBy, &o.CreatedAt, &o.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func loadLines(ctx context.Context, q db.Querier, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, role, item_id, packaging_id, qty, scrap_value, allocated_cost
FROM transformation_order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Role, &l.ItemID, &l.PackagingID, &l.Qty, &l.ScrapValue, &l.AllocatedCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get returns an order and its lines.
func (r *Repository) Get(ctx context.Context, companyID, id int64) (Order, []Line, error) {
	q := db.Conn(ctx, r.pool)
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM transformation_orders WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Order{}, nil, err
	}
	lines, err := loadLines(ctx, q, id)
	return o, lines, err
}

func (tx *txRepo) Create(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO transformation_orders (company_id, number, source_warehouse_id, target_warehouse_id, status, additional_cost, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		o.CompanyID, o.Number, o.SourceWarehouseID, o.TargetWarehouseID, o.Status, o.AdditionalCost, o.Note, o.CreatedBy, o.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO transformation_order_lines (order_id, role, item_id, packaging_id, qty, scrap_value)
VALUES ($1, $2, $3, $4, $5, $6)`,
		line.OrderID, line.Role, line.ItemID, line.PackagingID, line.Qty, line.ScrapValue)
	return err
}

func (tx *txRepo) LockForUpdate(ctx context.Context, companyID, id int64) (Order, []Line, error) {
	o, err := scanOrder(tx.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM transformation_orders WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Order{}, nil, err
	}
	lines, err := loadLines(ctx, tx.tx, id)
	return o, lines, err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := tx.tx.Exec(ctx, `UPDATE transformation_orders SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (tx *txRepo) SetAllocatedCost(ctx context.Context, lineID int64, cost decimal.Decimal) error {
	_, err := tx.tx.Exec(ctx, `UPDATE transformation_order_lines SET allocated_cost=$2 WHERE id=$1`, lineID, cost)
	return err
}

func (tx *txRepo) MarkCompleted(ctx context.Context, id, outTransactionID, inTransactionID int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE transformation_orders
SET status=$2, out_transaction_id=$3, in_transaction_id=$4, completed_at=$5 WHERE id=$1`,
		id, StatusCompleted, outTransactionID, inTransactionID, at)
	return err
}
