package transfers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists transfers in PostgreSQL.
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

const transferColumns = `id, company_id, number, from_warehouse_id, to_warehouse_id, from_location_id, to_location_id,
status, note, transaction_id, created_by, created_at, received_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &t.FromWarehouseID, &t.ToWarehouseID, &t.FromLocationID, &t.ToLocationID,
		&t.Status, &t.Note, &t.TransactionID, &t.CreatedBy, &t.CreatedAt, &t.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrNotFound
	}
	return t, err
}

func loadLines(ctx context.Context, q db.Querier, transferID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, item_id, packaging_id, qty FROM stock_transfer_lines WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ItemID, &l.PackagingID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get returns a transfer and its lines.
func (r *Repository) Get(ctx context.Context, companyID, id int64) (Transfer, []Line, error) {
	q := db.Conn(ctx, r.pool)
	t, err := scanTransfer(q.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Transfer{}, nil, err
	}
	lines, err := loadLines(ctx, q, id)
	return t, lines, err
}

func (tx *txRepo) Create(ctx context.Context, t Transfer) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_transfers (company_id, number, from_warehouse_id, to_warehouse_id, from_location_id, to_location_id, status, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.CompanyID, t.Number, t.FromWarehouseID, t.ToWarehouseID, t.FromLocationID, t.ToLocationID, t.Status, t.Note, t.CreatedBy, t.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO stock_transfer_lines (transfer_id, item_id, packaging_id, qty) VALUES ($1, $2, $3, $4)`,
		line.TransferID, line.ItemID, line.PackagingID, line.Qty)
	return err
}

func (tx *txRepo) LockForUpdate(ctx context.Context, companyID, id int64) (Transfer, []Line, error) {
	t, err := scanTransfer(tx.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Transfer{}, nil, err
	}
	lines, err := loadLines(ctx, tx.tx, id)
	return t, lines, err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2 WHERE id=$1`, id, status)
	return err
}

func (tx *txRepo) MarkReceived(ctx context.Context, id, transactionID int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2, transaction_id=$3, received_at=$4 WHERE id=$1`,
		id, StatusReceived, transactionID, at)
	return err
}
