package transformation

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

type memoryRepo struct {
	ledger *inventorytest.MemoryRepository

	mu     sync.Mutex
	nextID int64
	orders map[int64]Order
	lines  map[int64][]Line
}

func newMemoryRepo(ledger *inventorytest.MemoryRepository) *memoryRepo {
	return &memoryRepo{ledger: ledger, orders: make(map[int64]Order), lines: make(map[int64][]Line)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomic(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		orders := make(map[int64]Order, len(m.orders))
		for k, v := range m.orders {
			orders[k] = v
		}
		lines := make(map[int64][]Line, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]Line(nil), v...)
		}
		nextID := m.nextID
		m.mu.Unlock()
		if err := fn(ctx, &memoryTx{repo: m}); err != nil {
			m.mu.Lock()
			m.orders, m.lines, m.nextID = orders, lines, nextID
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

func (m *memoryRepo) Get(_ context.Context, companyID, id int64) (Order, []Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.CompanyID != companyID {
		return Order{}, nil, ErrNotFound
	}
	return o, append([]Line(nil), m.lines[id]...), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Create(_ context.Context, o Order) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	o.ID = tx.repo.nextID
	tx.repo.orders[o.ID] = o
	return o.ID, nil
}

func (tx *memoryTx) InsertLine(_ context.Context, line Line) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.OrderID] = append(tx.repo.lines[line.OrderID], line)
	return nil
}

func (tx *memoryTx) LockForUpdate(ctx context.Context, companyID, id int64) (Order, []Line, error) {
	return tx.repo.Get(ctx, companyID, id)
}

func (tx *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	o := tx.repo.orders[id]
	o.Status = status
	tx.repo.orders[id] = o
	return nil
}

func (tx *memoryTx) SetAllocatedCost(_ context.Context, lineID int64, cost decimal.Decimal) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for orderID, lines := range tx.repo.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				c := cost
				lines[i].AllocatedCost = &c
				tx.repo.lines[orderID] = lines
				return nil
			}
		}
	}
	return ErrNotFound
}

func (tx *memoryTx) MarkCompleted(_ context.Context, id, outTransactionID, inTransactionID int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	o := tx.repo.orders[id]
	o.Status = StatusCompleted
	o.OutTransactionID = &outTransactionID
	o.InTransactionID = &inTransactionID
	o.CompletedAt = &at
	tx.repo.orders[id] = o
	return nil
}
