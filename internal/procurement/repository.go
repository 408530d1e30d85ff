package procurement

import (
	"context"
	"errors"

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

// WithTx wraps callback in a transaction shared with ledger postings.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const grnColumns = `id, company_id, number, supplier_ref, warehouse_id, location_id, status, note, transaction_id, received_at, created_by`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	err := row.Scan(&g.ID, &g.CompanyID, &g.Number, &g.SupplierRef, &g.WarehouseID, &g.LocationID, &g.Status, &g.Note, &g.TransactionID, &g.ReceivedAt, &g.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrNotFound
	}
	return g, err
}

func loadGRNLines(ctx context.Context, q db.Querier, grnID int64) ([]GRNLine, error) {
	rows, err := q.Query(ctx, `SELECT id, receipt_id, item_id, packaging_id, qty, unit_cost FROM goods_receipt_lines WHERE receipt_id=$1 ORDER BY id`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.GRNID, &l.ItemID, &l.PackagingID, &l.Qty, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetGRN returns a goods receipt and its lines.
func (r *Repository) GetGRN(ctx context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error) {
	q := db.Conn(ctx, r.pool)
	grn, err := scanGRN(q.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	lines, err := loadGRNLines(ctx, q, id)
	return grn, lines, err
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO goods_receipts (company_id, number, supplier_ref, warehouse_id, location_id, status, note, received_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		grn.CompanyID, grn.Number, grn.SupplierRef, grn.WarehouseID, grn.LocationID, grn.Status, grn.Note, grn.ReceivedAt, grn.CreatedBy).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertGRNLine(ctx context.Context, line GRNLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO goods_receipt_lines (receipt_id, item_id, packaging_id, qty, unit_cost) VALUES ($1, $2, $3, $4, $5)`,
		line.GRNID, line.ItemID, line.PackagingID, line.Qty, line.UnitCost)
	return err
}

func (tx *txRepo) LockGRN(ctx context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error) {
	grn, err := scanGRN(tx.tx.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	lines, err := loadGRNLines(ctx, tx.tx, id)
	return grn, lines, err
}

func (tx *txRepo) MarkGRNPosted(ctx context.Context, id, transactionID int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE goods_receipts SET status=$2, transaction_id=$3 WHERE id=$1`, id, GRNStatusPosted, transactionID)
	return err
}
