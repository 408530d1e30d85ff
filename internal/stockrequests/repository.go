package stockrequests

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists stock requests.
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

const requestColumns = `id, company_id, number, warehouse_id, requested_by, status, note, transaction_id, created_at, delivered_at`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.CompanyID, &r.Number, &r.WarehouseID, &r.RequestedBy, &r.Status, &r.Note, &r.TransactionID, &r.CreatedAt, &r.DeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return r, err
}

func loadLines(ctx context.Context, q db.Querier, requestID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, item_id, packaging_id, qty FROM stock_request_lines WHERE request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.PackagingID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func listReservations(ctx context.Context, q db.Querier, requestID int64) ([]Reservation, error) {
	rows, err := q.Query(ctx, `SELECT request_id, line_id, item_id, location_id, qty FROM stock_request_reservations WHERE request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.RequestID, &r.LineID, &r.ItemID, &r.LocationID, &r.Qty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns a request and its lines.
func (r *Repository) Get(ctx context.Context, companyID, id int64) (Request, []Line, error) {
	q := db.Conn(ctx, r.pool)
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Request{}, nil, err
	}
	lines, err := loadLines(ctx, q, id)
	return req, lines, err
}

// ListReservations returns the open reservations of a request.
func (r *Repository) ListReservations(ctx context.Context, requestID int64) ([]Reservation, error) {
	return listReservations(ctx, db.Conn(ctx, r.pool), requestID)
}

func (tx *txRepo) Create(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO stock_requests (company_id, number, warehouse_id, requested_by, status, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		req.CompanyID, req.Number, req.WarehouseID, req.RequestedBy, req.Status, req.Note, req.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO stock_request_lines (request_id, item_id, packaging_id, qty) VALUES ($1, $2, $3, $4)`,
		line.RequestID, line.ItemID, line.PackagingID, line.Qty)
	return err
}

func (tx *txRepo) LockForUpdate(ctx context.Context, companyID, id int64) (Request, []Line, error) {
	req, err := scanRequest(tx.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Request{}, nil, err
	}
	lines, err := loadLines(ctx, tx.tx, id)
	return req, lines, err
}

func (tx *txRepo) InsertReservations(ctx context.Context, rows []Reservation) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`INSERT INTO stock_request_reservations (request_id, line_id, item_id, location_id, qty) VALUES ($1, $2, $3, $4, $5)`,
			r.RequestID, r.LineID, r.ItemID, r.LocationID, r.Qty)
	}
	return tx.tx.SendBatch(ctx, batch).Close()
}

func (tx *txRepo) ListReservations(ctx context.Context, requestID int64) ([]Reservation, error) {
	return listReservations(ctx, tx.tx, requestID)
}

func (tx *txRepo) DeleteReservations(ctx context.Context, requestID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM stock_request_reservations WHERE request_id=$1`, requestID)
	return err
}

func (tx *txRepo) MarkReady(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_requests SET status=$2 WHERE id=$1`, id, StatusReadyForPick)
	return err
}

func (tx *txRepo) MarkDelivered(ctx context.Context, id, transactionID int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE stock_requests SET status=$2, transaction_id=$3, delivered_at=$4 WHERE id=$1`,
		id, StatusDelivered, transactionID, at)
	return err
}
