package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction, joining
// the transaction already carried by ctx if there is one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const balanceColumns = `id, company_id, item_id, warehouse_id, current_stock, avg_cost, default_location_id, updated_at`

func scanBalance(row pgx.Row) (WarehouseBalance, error) {
	var b WarehouseBalance
	err := row.Scan(&b.ID, &b.CompanyID, &b.ItemID, &b.WarehouseID, &b.CurrentStock, &b.AvgCost, &b.DefaultLocationID, &b.UpdatedAt)
	return b, err
}

const locationBalanceColumns = `il.id, il.company_id, il.item_id, il.warehouse_id, il.location_id, il.qty_on_hand, il.qty_reserved, (il.is_deleted OR wl.is_deleted), il.created_at`

func scanLocationBalance(row pgx.Row) (LocationBalance, error) {
	var b LocationBalance
	err := row.Scan(&b.ID, &b.CompanyID, &b.ItemID, &b.WarehouseID, &b.LocationID, &b.QtyOnHand, &b.QtyReserved, &b.IsDeleted, &b.CreatedAt)
	return b, err
}

// GetBalanceView returns the aggregate row and its live location rows.
func (r *Repository) GetBalanceView(ctx context.Context, companyID, itemID, warehouseID int64) (BalanceView, error) {
	bal, err := scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM item_warehouse
WHERE company_id=$1 AND item_id=$2 AND warehouse_id=$3`, companyID, itemID, warehouseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BalanceView{}, ErrBalanceNotFound
		}
		return BalanceView{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+locationBalanceColumns+`
FROM item_location il JOIN warehouse_locations wl ON wl.id = il.location_id
WHERE il.company_id=$1 AND il.item_id=$2 AND il.warehouse_id=$3 AND NOT il.is_deleted AND NOT wl.is_deleted
ORDER BY il.created_at ASC, il.location_id ASC`, companyID, itemID, warehouseID)
	if err != nil {
		return BalanceView{}, err
	}
	defer rows.Close()
	view := BalanceView{Balance: bal, Locations: []LocationBalance{}}
	for rows.Next() {
		lb, err := scanLocationBalance(rows)
		if err != nil {
			return BalanceView{}, err
		}
		view.Locations = append(view.Locations, lb)
	}
	return view, rows.Err()
}

// ListLedger returns stock card rows in posting order with the total row count.
func (r *Repository) ListLedger(ctx context.Context, companyID int64, filter LedgerFilter) ([]LedgerEntry, int, error) {
	offset := shared.NewPagination(filter.Page, filter.PerPage, 0).Offset()
	rows, err := r.pool.Query(ctx, `SELECT t.id, t.code, t.tx_type, t.posting_date, t.reference_type, t.reference_id,
       i.item_id, i.warehouse_id, i.normalized_qty, i.qty_after, i.valuation_rate, i.stock_value_after,
       COUNT(*) OVER () AS total
FROM stock_transaction_items i
JOIN stock_transactions t ON t.id = i.transaction_id
WHERE t.company_id=$1 AND i.item_id=$2 AND i.warehouse_id=$3
  AND t.posting_date >= COALESCE($4, '-infinity'::timestamptz)
  AND t.posting_date <= COALESCE($5, 'infinity'::timestamptz)
ORDER BY t.id ASC, i.line_no ASC
LIMIT $6 OFFSET $7`, companyID, filter.ItemID, filter.WarehouseID, nullTime(filter.From), nullTime(filter.To), filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	total := 0
	for rows.Next() {
		var (
			e   LedgerEntry
			qty decimal.Decimal
		)
		if err := rows.Scan(&e.TransactionID, &e.Code, &e.Type, &e.PostingDate, &e.ReferenceType, &e.ReferenceID,
			&e.ItemID, &e.WarehouseID, &qty, &e.QtyAfter, &e.ValuationRate, &e.StockValueAfter, &total); err != nil {
			return nil, 0, err
		}
		e.QtyIn, e.QtyOut = SplitSigned(qty)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListStockSnapshots pairs every aggregate row in the warehouse with the sum
// of its live location rows.
func (r *Repository) ListStockSnapshots(ctx context.Context, companyID, warehouseID int64) ([]StockSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT iw.company_id, iw.item_id, iw.warehouse_id, iw.current_stock,
       COALESCE(SUM(il.qty_on_hand) FILTER (WHERE NOT il.is_deleted AND NOT wl.is_deleted), 0)
FROM item_warehouse iw
LEFT JOIN item_location il ON il.item_id = iw.item_id AND il.warehouse_id = iw.warehouse_id
LEFT JOIN warehouse_locations wl ON wl.id = il.location_id
WHERE iw.company_id=$1 AND iw.warehouse_id=$2
GROUP BY iw.company_id, iw.item_id, iw.warehouse_id, iw.current_stock
ORDER BY iw.item_id`, companyID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockSnapshot
	for rows.Next() {
		var s StockSnapshot
		if err := rows.Scan(&s.CompanyID, &s.ItemID, &s.WarehouseID, &s.AggregateQty, &s.LocationQty); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SumLedger replays signed normalized quantities per item.
func (r *Repository) SumLedger(ctx context.Context, companyID, warehouseID int64) ([]LedgerSum, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.item_id, i.warehouse_id, SUM(i.normalized_qty)
FROM stock_transaction_items i
JOIN stock_transactions t ON t.id = i.transaction_id
WHERE t.company_id=$1 AND i.warehouse_id=$2
GROUP BY i.item_id, i.warehouse_id
ORDER BY i.item_id`, companyID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerSum
	for rows.Next() {
		var s LedgerSum
		if err := rows.Scan(&s.ItemID, &s.WarehouseID, &s.Qty); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListWarehouses returns every warehouse across companies.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, business_unit_id, code, name, is_active FROM warehouses ORDER BY company_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.CompanyID, &w.BusinessUnitID, &w.Code, &w.Name, &w.IsActive); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *txRepository) GetItem(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, name, base_uom, base_packaging_id, is_active FROM items WHERE id=$1`, id).
		Scan(&item.ID, &item.CompanyID, &item.Code, &item.Name, &item.BaseUOM, &item.BasePackagingID, &item.IsActive)
	if err != nil {
		return Item{}, notFound(err)
	}
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, name, qty_per_pack, is_active FROM item_packagings WHERE item_id=$1 ORDER BY id`, id)
	if err != nil {
		return Item{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Packaging
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Name, &p.QtyPerPack, &p.IsActive); err != nil {
			return Item{}, err
		}
		item.Packagings = append(item.Packagings, p)
	}
	return item, rows.Err()
}

func (r *txRepository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, business_unit_id, code, name, is_active FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.CompanyID, &w.BusinessUnitID, &w.Code, &w.Name, &w.IsActive)
	if err != nil {
		return Warehouse{}, notFound(err)
	}
	return w, nil
}

func (r *txRepository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, warehouse_id, code, location_type, is_pickable, is_storable, is_active, is_deleted, created_at
FROM warehouse_locations WHERE id=$1`, id).
		Scan(&l.ID, &l.CompanyID, &l.WarehouseID, &l.Code, &l.Type, &l.IsPickable, &l.IsStorable, &l.IsActive, &l.IsDeleted, &l.CreatedAt)
	if err != nil {
		return Location{}, notFound(err)
	}
	return l, nil
}

// UpsertDefaultLocation relies on the (warehouse_id, code) unique key so that
// racing first postings all receive the same row.
func (r *txRepository) UpsertDefaultLocation(ctx context.Context, companyID, warehouseID int64) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO warehouse_locations (company_id, warehouse_id, code, name, location_type, is_pickable, is_storable, is_active)
VALUES ($1, $2, $3, 'Main', 'bin', TRUE, TRUE, TRUE)
ON CONFLICT (warehouse_id, code) DO UPDATE SET is_active = TRUE, is_deleted = FALSE
RETURNING id`, companyID, warehouseID, DefaultLocationCode).Scan(&id)
	return id, err
}

func (r *txRepository) LockBalance(ctx context.Context, companyID, itemID, warehouseID int64) (WarehouseBalance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO item_warehouse (company_id, item_id, warehouse_id) VALUES ($1, $2, $3)
ON CONFLICT (item_id, warehouse_id) DO NOTHING`, companyID, itemID, warehouseID); err != nil {
		return WarehouseBalance{}, err
	}
	return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM item_warehouse WHERE item_id=$1 AND warehouse_id=$2 FOR UPDATE`, itemID, warehouseID))
}

func (r *txRepository) GetBalance(ctx context.Context, itemID, warehouseID int64) (WarehouseBalance, error) {
	bal, err := scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM item_warehouse WHERE item_id=$1 AND warehouse_id=$2`, itemID, warehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return WarehouseBalance{}, ErrBalanceNotFound
	}
	return bal, err
}

func (r *txRepository) UpdateBalance(ctx context.Context, bal WarehouseBalance) error {
	tag, err := r.tx.Exec(ctx, `UPDATE item_warehouse SET current_stock=$3, avg_cost=$4, updated_at=NOW() WHERE item_id=$1 AND warehouse_id=$2`,
		bal.ItemID, bal.WarehouseID, bal.CurrentStock, bal.AvgCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (r *txRepository) SetDefaultLocation(ctx context.Context, itemID, warehouseID, locationID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE item_warehouse SET default_location_id=$3, updated_at=NOW() WHERE item_id=$1 AND warehouse_id=$2`,
		itemID, warehouseID, locationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (r *txRepository) GetLocationBalanceForUpdate(ctx context.Context, itemID, locationID int64) (LocationBalance, error) {
	lb, err := scanLocationBalance(r.tx.QueryRow(ctx, `SELECT `+locationBalanceColumns+`
FROM item_location il JOIN warehouse_locations wl ON wl.id = il.location_id
WHERE il.item_id=$1 AND il.location_id=$2 FOR UPDATE OF il`, itemID, locationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationBalance{}, ErrBalanceNotFound
	}
	return lb, err
}

func (r *txRepository) UpsertLocationBalance(ctx context.Context, row LocationBalance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO item_location (company_id, item_id, warehouse_id, location_id, qty_on_hand, qty_reserved)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (item_id, location_id) DO UPDATE SET qty_on_hand=EXCLUDED.qty_on_hand, qty_reserved=EXCLUDED.qty_reserved, updated_at=NOW()`,
		row.CompanyID, row.ItemID, row.WarehouseID, row.LocationID, row.QtyOnHand, row.QtyReserved)
	return err
}

func (r *txRepository) ListLocationBalancesForUpdate(ctx context.Context, itemID, warehouseID int64) ([]LocationBalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+locationBalanceColumns+`
FROM item_location il JOIN warehouse_locations wl ON wl.id = il.location_id
WHERE il.item_id=$1 AND il.warehouse_id=$2
ORDER BY il.created_at ASC, il.location_id ASC
FOR UPDATE OF il`, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LocationBalance
	for rows.Next() {
		lb, err := scanLocationBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lb)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertTransaction(ctx context.Context, header Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (code, company_id, tx_type, warehouse_id, to_warehouse_id, from_location_id, to_location_id,
    reference_type, reference_id, status, note, reversal_of, posting_date, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		header.Code, header.CompanyID, string(header.Type), header.WarehouseID, header.ToWarehouseID, header.FromLocationID, header.ToLocationID,
		header.ReferenceType, header.ReferenceID, header.Status, header.Note, header.ReversalOf, header.PostingDate, header.CreatedBy).Scan(&id)
	if err != nil {
		if header.ReversalOf != nil && db.IsUniqueViolation(err) {
			return 0, ErrAlreadyReversed
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertTransactionItems(ctx context.Context, txID int64, items []TransactionItem) error {
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_transaction_items (transaction_id, line_no, item_id, warehouse_id, input_qty, input_packaging_id,
    conversion_factor, normalized_qty, valuation_rate, qty_before, qty_after, stock_value_before, stock_value_after)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			txID, it.LineNo, it.ItemID, it.WarehouseID, it.InputQty, it.InputPackagingID,
			it.ConversionFactor, it.NormalizedQty, it.ValuationRate, it.QtyBefore, it.QtyAfter, it.StockValueBefore, it.StockValueAfter); err != nil {
			return fmt.Errorf("inventory: insert ledger line %d: %w", it.LineNo, err)
		}
	}
	return nil
}

func (r *txRepository) InsertLocationEffects(ctx context.Context, txID int64, effects []LocationEffect) error {
	for _, e := range effects {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_transaction_locations (transaction_id, item_id, warehouse_id, location_id, qty_delta)
VALUES ($1,$2,$3,$4,$5)`, txID, e.ItemID, e.WarehouseID, e.LocationID, e.QtyDelta); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertDriftRepair(ctx context.Context, repair DriftRepair) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_drift_repairs (company_id, item_id, warehouse_id, location_id, aggregate_qty, location_qty, repaired_qty, source, repaired_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, repair.CompanyID, repair.ItemID, repair.WarehouseID, repair.LocationID,
		repair.AggregateQty, repair.LocationQty, repair.RepairedQty, repair.Source, repair.RepairedAt)
	return err
}

func (r *txRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	var t Transaction
	err := r.tx.QueryRow(ctx, `SELECT id, code, company_id, tx_type, warehouse_id, to_warehouse_id, from_location_id, to_location_id,
       reference_type, reference_id, status, note, reversal_of, posting_date, created_by, created_at
FROM stock_transactions WHERE id=$1`, id).
		Scan(&t.ID, &t.Code, &t.CompanyID, &t.Type, &t.WarehouseID, &t.ToWarehouseID, &t.FromLocationID, &t.ToLocationID,
			&t.ReferenceType, &t.ReferenceID, &t.Status, &t.Note, &t.ReversalOf, &t.PostingDate, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return Transaction{}, notFound(err)
	}

	rows, err := r.tx.Query(ctx, `SELECT line_no, item_id, warehouse_id, input_qty, input_packaging_id, conversion_factor, normalized_qty,
       valuation_rate, qty_before, qty_after, stock_value_before, stock_value_after
FROM stock_transaction_items WHERE transaction_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Transaction{}, err
	}
	for rows.Next() {
		var it TransactionItem
		if err := rows.Scan(&it.LineNo, &it.ItemID, &it.WarehouseID, &it.InputQty, &it.InputPackagingID, &it.ConversionFactor, &it.NormalizedQty,
			&it.ValuationRate, &it.QtyBefore, &it.QtyAfter, &it.StockValueBefore, &it.StockValueAfter); err != nil {
			rows.Close()
			return Transaction{}, err
		}
		t.Items = append(t.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Transaction{}, err
	}

	rows, err = r.tx.Query(ctx, `SELECT item_id, warehouse_id, location_id, qty_delta FROM stock_transaction_locations WHERE transaction_id=$1 ORDER BY id`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var e LocationEffect
		if err := rows.Scan(&e.ItemID, &e.WarehouseID, &e.LocationID, &e.QtyDelta); err != nil {
			return Transaction{}, err
		}
		t.Locations = append(t.Locations, e)
	}
	return t, rows.Err()
}

func (r *txRepository) FindReversal(ctx context.Context, id int64) (int64, bool, error) {
	var reversalID int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM stock_transactions WHERE reversal_of=$1`, id).Scan(&reversalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return reversalID, true, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
