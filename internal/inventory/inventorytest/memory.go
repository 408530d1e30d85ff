// Package inventorytest provides an in-memory inventory repository for tests.
package inventorytest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type balanceKey struct {
	itemID      int64
	warehouseID int64
}

type locationKey struct {
	itemID     int64
	locationID int64
}

type state struct {
	items        map[int64]inventory.Item
	warehouses   map[int64]inventory.Warehouse
	locations    map[int64]inventory.Location
	balances     map[balanceKey]inventory.WarehouseBalance
	locBalances  map[locationKey]inventory.LocationBalance
	transactions []inventory.Transaction
	repairs      []inventory.DriftRepair
}

func newState() *state {
	return &state{
		items:       make(map[int64]inventory.Item),
		warehouses:  make(map[int64]inventory.Warehouse),
		locations:   make(map[int64]inventory.Location),
		balances:    make(map[balanceKey]inventory.WarehouseBalance),
		locBalances: make(map[locationKey]inventory.LocationBalance),
	}
}

func (s *state) clone() *state {
	return &state{
		items:        maps.Clone(s.items),
		warehouses:   maps.Clone(s.warehouses),
		locations:    maps.Clone(s.locations),
		balances:     maps.Clone(s.balances),
		locBalances:  maps.Clone(s.locBalances),
		transactions: slices.Clone(s.transactions),
		repairs:      slices.Clone(s.repairs),
	}
}

// MemoryRepository implements inventory.RepositoryPort in memory. WithTx
// serializes callers with one mutex and restores a snapshot on error, so a
// failed posting leaves nothing behind. Nested WithTx calls on the same
// context join the outer transaction.
type MemoryRepository struct {
	mu     sync.Mutex
	st     *state
	nextID int64
	faults map[string]error

	// Now stamps created_at columns. Tests pin it to control FIFO order.
	Now func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{st: newState(), faults: make(map[string]error), Now: time.Now}
}

type txOwnerKey struct{}

func (m *MemoryRepository) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txOwnerKey{}).(*MemoryRepository)
	return owner == m
}

// WithTx runs fn atomically.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	if m.inTx(ctx) {
		return fn(ctx, &memoryTx{repo: m})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	nextID := m.nextID
	ctx = context.WithValue(ctx, txOwnerKey{}, m)
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.st = snapshot
		m.nextID = nextID
		return err
	}
	return nil
}

// Atomic runs fn as one transaction that inventory postings made with the
// returned context join. Adapter fakes use it to share rollback with the ledger.
func (m *MemoryRepository) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.WithTx(ctx, func(ctx context.Context, _ inventory.TxRepository) error {
		return fn(ctx)
	})
}

// InjectFault makes the next call of the named TxRepository method fail.
func (m *MemoryRepository) InjectFault(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = err
}

func (m *MemoryRepository) fault(method string) error {
	err, ok := m.faults[method]
	if ok {
		delete(m.faults, method)
	}
	return err
}

func (m *MemoryRepository) read(ctx context.Context, fn func(st *state)) {
	if !m.inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	fn(m.st)
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

// AddWarehouse seeds a warehouse and returns it with its id.
func (m *MemoryRepository) AddWarehouse(w inventory.Warehouse) inventory.Warehouse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == 0 {
		w.ID = m.id()
	}
	m.st.warehouses[w.ID] = w
	return w
}

// AddItem seeds an item and its packagings.
func (m *MemoryRepository) AddItem(item inventory.Item) inventory.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		item.ID = m.id()
	}
	item.Packagings = slices.Clone(item.Packagings)
	for i := range item.Packagings {
		if item.Packagings[i].ID == 0 {
			item.Packagings[i].ID = m.id()
		}
		if item.Packagings[i].ItemID == 0 {
			item.Packagings[i].ItemID = item.ID
		}
	}
	m.st.items[item.ID] = item
	return item
}

// AddLocation seeds a location.
func (m *MemoryRepository) AddLocation(loc inventory.Location) inventory.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc.ID == 0 {
		loc.ID = m.id()
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = m.Now()
	}
	m.st.locations[loc.ID] = loc
	return loc
}

// SetBalance overwrites an aggregate row, bypassing the ledger.
func (m *MemoryRepository) SetBalance(bal inventory.WarehouseBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal.ID == 0 {
		bal.ID = m.id()
	}
	m.st.balances[balanceKey{bal.ItemID, bal.WarehouseID}] = bal
}

// SetLocationBalance overwrites a location row, bypassing the ledger.
func (m *MemoryRepository) SetLocationBalance(lb inventory.LocationBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lb.ID == 0 {
		lb.ID = m.id()
	}
	if lb.CreatedAt.IsZero() {
		lb.CreatedAt = m.Now()
	}
	m.st.locBalances[locationKey{lb.ItemID, lb.LocationID}] = lb
}

// Balance returns the aggregate row if it exists.
func (m *MemoryRepository) Balance(itemID, warehouseID int64) (inventory.WarehouseBalance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.st.balances[balanceKey{itemID, warehouseID}]
	return bal, ok
}

// LocationBalances returns every location row of the key in FIFO order.
func (m *MemoryRepository) LocationBalances(itemID, warehouseID int64) []inventory.LocationBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.locationRows(itemID, warehouseID)
}

// Locations returns the locations of a warehouse ordered by id.
func (m *MemoryRepository) Locations(warehouseID int64) []inventory.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.Location
	for _, loc := range m.st.locations {
		if loc.WarehouseID == warehouseID {
			out = append(out, loc)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Location) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Transactions returns every persisted ledger header in insertion order.
func (m *MemoryRepository) Transactions() []inventory.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.transactions)
}

// DriftRepairs returns the persisted repair rows.
func (m *MemoryRepository) DriftRepairs() []inventory.DriftRepair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.repairs)
}

func (s *state) locationRows(itemID, warehouseID int64) []inventory.LocationBalance {
	var out []inventory.LocationBalance
	for _, lb := range s.locBalances {
		if lb.ItemID != itemID || lb.WarehouseID != warehouseID {
			continue
		}
		if loc, ok := s.locations[lb.LocationID]; ok && loc.IsDeleted {
			lb.IsDeleted = true
		}
		out = append(out, lb)
	}
	slices.SortFunc(out, func(a, b inventory.LocationBalance) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.LocationID, b.LocationID)
	})
	return out
}

// GetBalanceView implements inventory.RepositoryPort.
func (m *MemoryRepository) GetBalanceView(ctx context.Context, companyID, itemID, warehouseID int64) (inventory.BalanceView, error) {
	var (
		view inventory.BalanceView
		err  error
	)
	m.read(ctx, func(st *state) {
		bal, ok := st.balances[balanceKey{itemID, warehouseID}]
		if !ok || bal.CompanyID != companyID {
			err = inventory.ErrBalanceNotFound
			return
		}
		view.Balance = bal
		view.Locations = []inventory.LocationBalance{}
		for _, lb := range st.locationRows(itemID, warehouseID) {
			if !lb.IsDeleted {
				view.Locations = append(view.Locations, lb)
			}
		}
	})
	return view, err
}

// ListLedger implements inventory.RepositoryPort.
func (m *MemoryRepository) ListLedger(ctx context.Context, companyID int64, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, int, error) {
	var all []inventory.LedgerEntry
	m.read(ctx, func(st *state) {
		for _, t := range st.transactions {
			if t.CompanyID != companyID {
				continue
			}
			if !filter.From.IsZero() && t.PostingDate.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && t.PostingDate.After(filter.To) {
				continue
			}
			for _, it := range t.Items {
				if it.ItemID != filter.ItemID || it.WarehouseID != filter.WarehouseID {
					continue
				}
				in, out := inventory.SplitSigned(it.NormalizedQty)
				all = append(all, inventory.LedgerEntry{
					TransactionID:   t.ID,
					Code:            t.Code,
					Type:            t.Type,
					PostingDate:     t.PostingDate,
					ReferenceType:   t.ReferenceType,
					ReferenceID:     t.ReferenceID,
					ItemID:          it.ItemID,
					WarehouseID:     it.WarehouseID,
					QtyIn:           in,
					QtyOut:          out,
					QtyAfter:        it.QtyAfter,
					ValuationRate:   it.ValuationRate,
					StockValueAfter: it.StockValueAfter,
				})
			}
		}
	})
	total := len(all)
	start := min(max((filter.Page-1)*filter.PerPage, 0), total)
	end := min(start+filter.PerPage, total)
	return all[start:end], total, nil
}

// ListStockSnapshots implements inventory.RepositoryPort.
func (m *MemoryRepository) ListStockSnapshots(ctx context.Context, companyID, warehouseID int64) ([]inventory.StockSnapshot, error) {
	var out []inventory.StockSnapshot
	m.read(ctx, func(st *state) {
		for _, bal := range st.balances {
			if bal.CompanyID != companyID || bal.WarehouseID != warehouseID {
				continue
			}
			located := decimal.Zero
			for _, lb := range st.locationRows(bal.ItemID, warehouseID) {
				if !lb.IsDeleted {
					located = located.Add(lb.QtyOnHand)
				}
			}
			out = append(out, inventory.StockSnapshot{
				CompanyID:    companyID,
				ItemID:       bal.ItemID,
				WarehouseID:  warehouseID,
				AggregateQty: bal.CurrentStock,
				LocationQty:  located,
			})
		}
	})
	slices.SortFunc(out, func(a, b inventory.StockSnapshot) int { return cmp.Compare(a.ItemID, b.ItemID) })
	return out, nil
}

// SumLedger implements inventory.RepositoryPort.
func (m *MemoryRepository) SumLedger(ctx context.Context, companyID, warehouseID int64) ([]inventory.LedgerSum, error) {
	sums := make(map[int64]decimal.Decimal)
	m.read(ctx, func(st *state) {
		for _, t := range st.transactions {
			if t.CompanyID != companyID {
				continue
			}
			for _, it := range t.Items {
				if it.WarehouseID == warehouseID {
					sums[it.ItemID] = sums[it.ItemID].Add(it.NormalizedQty)
				}
			}
		}
	})
	out := make([]inventory.LedgerSum, 0, len(sums))
	for itemID, qty := range sums {
		out = append(out, inventory.LedgerSum{ItemID: itemID, WarehouseID: warehouseID, Qty: qty})
	}
	slices.SortFunc(out, func(a, b inventory.LedgerSum) int { return cmp.Compare(a.ItemID, b.ItemID) })
	return out, nil
}

// ListWarehouses implements inventory.RepositoryPort.
func (m *MemoryRepository) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	var out []inventory.Warehouse
	m.read(ctx, func(st *state) {
		out = slices.Collect(maps.Values(st.warehouses))
	})
	slices.SortFunc(out, func(a, b inventory.Warehouse) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

type memoryTx struct {
	repo *MemoryRepository
}

func (tx *memoryTx) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	if err := tx.repo.fault("GetItem"); err != nil {
		return inventory.Item{}, err
	}
	item, ok := tx.repo.st.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrNotFound
	}
	return item, nil
}

func (tx *memoryTx) GetWarehouse(ctx context.Context, id int64) (inventory.Warehouse, error) {
	w, ok := tx.repo.st.warehouses[id]
	if !ok {
		return inventory.Warehouse{}, inventory.ErrNotFound
	}
	return w, nil
}

func (tx *memoryTx) GetLocation(ctx context.Context, id int64) (inventory.Location, error) {
	loc, ok := tx.repo.st.locations[id]
	if !ok {
		return inventory.Location{}, inventory.ErrNotFound
	}
	return loc, nil
}

func (tx *memoryTx) UpsertDefaultLocation(ctx context.Context, companyID, warehouseID int64) (int64, error) {
	if err := tx.repo.fault("UpsertDefaultLocation"); err != nil {
		return 0, err
	}
	st := tx.repo.st
	for id, loc := range st.locations {
		if loc.WarehouseID == warehouseID && loc.Code == inventory.DefaultLocationCode {
			loc.IsActive = true
			loc.IsDeleted = false
			st.locations[id] = loc
			return id, nil
		}
	}
	loc := inventory.Location{
		ID:          tx.repo.id(),
		CompanyID:   companyID,
		WarehouseID: warehouseID,
		Code:        inventory.DefaultLocationCode,
		Type:        inventory.LocationTypeBin,
		IsPickable:  true,
		IsStorable:  true,
		IsActive:    true,
		CreatedAt:   tx.repo.Now(),
	}
	st.locations[loc.ID] = loc
	return loc.ID, nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, companyID, itemID, warehouseID int64) (inventory.WarehouseBalance, error) {
	key := balanceKey{itemID, warehouseID}
	bal, ok := tx.repo.st.balances[key]
	if !ok {
		bal = inventory.WarehouseBalance{
			ID:           tx.repo.id(),
			CompanyID:    companyID,
			ItemID:       itemID,
			WarehouseID:  warehouseID,
			CurrentStock: decimal.Zero,
			AvgCost:      decimal.Zero,
			UpdatedAt:    tx.repo.Now(),
		}
		tx.repo.st.balances[key] = bal
	}
	return bal, nil
}

func (tx *memoryTx) GetBalance(ctx context.Context, itemID, warehouseID int64) (inventory.WarehouseBalance, error) {
	bal, ok := tx.repo.st.balances[balanceKey{itemID, warehouseID}]
	if !ok {
		return inventory.WarehouseBalance{}, inventory.ErrBalanceNotFound
	}
	return bal, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, bal inventory.WarehouseBalance) error {
	if err := tx.repo.fault("UpdateBalance"); err != nil {
		return err
	}
	key := balanceKey{bal.ItemID, bal.WarehouseID}
	if _, ok := tx.repo.st.balances[key]; !ok {
		return inventory.ErrBalanceNotFound
	}
	if bal.CurrentStock.IsNegative() {
		return errors.New("check constraint: current_stock >= 0")
	}
	bal.UpdatedAt = tx.repo.Now()
	tx.repo.st.balances[key] = bal
	return nil
}

func (tx *memoryTx) SetDefaultLocation(ctx context.Context, itemID, warehouseID, locationID int64) error {
	key := balanceKey{itemID, warehouseID}
	bal, ok := tx.repo.st.balances[key]
	if !ok {
		return inventory.ErrBalanceNotFound
	}
	if _, ok := tx.repo.st.locations[locationID]; !ok {
		return errors.New("foreign key: default_location_id")
	}
	bal.DefaultLocationID = &locationID
	tx.repo.st.balances[key] = bal
	return nil
}

func (tx *memoryTx) GetLocationBalanceForUpdate(ctx context.Context, itemID, locationID int64) (inventory.LocationBalance, error) {
	lb, ok := tx.repo.st.locBalances[locationKey{itemID, locationID}]
	if !ok {
		return inventory.LocationBalance{}, inventory.ErrBalanceNotFound
	}
	if loc, ok := tx.repo.st.locations[locationID]; ok && loc.IsDeleted {
		lb.IsDeleted = true
	}
	return lb, nil
}

func (tx *memoryTx) UpsertLocationBalance(ctx context.Context, row inventory.LocationBalance) error {
	if err := tx.repo.fault("UpsertLocationBalance"); err != nil {
		return err
	}
	if row.QtyOnHand.IsNegative() || row.QtyReserved.IsNegative() || row.QtyReserved.GreaterThan(row.QtyOnHand) {
		return fmt.Errorf("check constraint on item_location %d/%d", row.ItemID, row.LocationID)
	}
	key := locationKey{row.ItemID, row.LocationID}
	if existing, ok := tx.repo.st.locBalances[key]; ok {
		existing.QtyOnHand = row.QtyOnHand
		existing.QtyReserved = row.QtyReserved
		tx.repo.st.locBalances[key] = existing
		return nil
	}
	row.ID = tx.repo.id()
	row.IsDeleted = false
	row.CreatedAt = tx.repo.Now()
	tx.repo.st.locBalances[key] = row
	return nil
}

func (tx *memoryTx) ListLocationBalancesForUpdate(ctx context.Context, itemID, warehouseID int64) ([]inventory.LocationBalance, error) {
	return tx.repo.st.locationRows(itemID, warehouseID), nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, header inventory.Transaction) (int64, error) {
	if err := tx.repo.fault("InsertTransaction"); err != nil {
		return 0, err
	}
	if header.ReversalOf != nil {
		for _, t := range tx.repo.st.transactions {
			if t.ReversalOf != nil && *t.ReversalOf == *header.ReversalOf {
				return 0, inventory.ErrAlreadyReversed
			}
		}
	}
	header.ID = tx.repo.id()
	header.CreatedAt = tx.repo.Now()
	header.Items = nil
	header.Locations = nil
	tx.repo.st.transactions = append(tx.repo.st.transactions, header)
	return header.ID, nil
}

func (tx *memoryTx) InsertTransactionItems(ctx context.Context, txID int64, items []inventory.TransactionItem) error {
	if err := tx.repo.fault("InsertTransactionItems"); err != nil {
		return err
	}
	return tx.update(txID, func(t *inventory.Transaction) {
		t.Items = append(slices.Clone(t.Items), items...)
	})
}

func (tx *memoryTx) InsertLocationEffects(ctx context.Context, txID int64, effects []inventory.LocationEffect) error {
	return tx.update(txID, func(t *inventory.Transaction) {
		t.Locations = append(slices.Clone(t.Locations), effects...)
	})
}

func (tx *memoryTx) update(txID int64, fn func(t *inventory.Transaction)) error {
	for i := range tx.repo.st.transactions {
		if tx.repo.st.transactions[i].ID == txID {
			fn(&tx.repo.st.transactions[i])
			return nil
		}
	}
	return inventory.ErrNotFound
}

func (tx *memoryTx) InsertDriftRepair(ctx context.Context, repair inventory.DriftRepair) error {
	tx.repo.st.repairs = append(tx.repo.st.repairs, repair)
	return nil
}

func (tx *memoryTx) GetTransaction(ctx context.Context, id int64) (inventory.Transaction, error) {
	for _, t := range tx.repo.st.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return inventory.Transaction{}, inventory.ErrNotFound
}

func (tx *memoryTx) FindReversal(ctx context.Context, id int64) (int64, bool, error) {
	for _, t := range tx.repo.st.transactions {
		if t.ReversalOf != nil && *t.ReversalOf == id {
			return t.ID, true, nil
		}
	}
	return 0, false, nil
}
