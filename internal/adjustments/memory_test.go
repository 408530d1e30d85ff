package adjustments

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

type memoryRepo struct {
	ledger *inventorytest.MemoryRepository

	mu     sync.Mutex
	nextID int64
	docs   map[int64]Adjustment
	lines  map[int64][]Line
}

func newMemoryRepo(ledger *inventorytest.MemoryRepository) *memoryRepo {
	return &memoryRepo{ledger: ledger, docs: make(map[int64]Adjustment), lines: make(map[int64][]Line)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomic(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		docs := make(map[int64]Adjustment, len(m.docs))
		for k, v := range m.docs {
			docs[k] = v
		}
		lines := make(map[int64][]Line, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]Line(nil), v...)
		}
		nextID := m.nextID
		m.mu.Unlock()

		if err := fn(ctx, &memoryTx{repo: m}); err != nil {
			m.mu.Lock()
			m.docs, m.lines, m.nextID = docs, lines, nextID
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

func (m *memoryRepo) Get(_ context.Context, companyID, id int64) (Adjustment, []Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.docs[id]
	if !ok || adj.CompanyID != companyID {
		return Adjustment{}, nil, ErrNotFound
	}
	return adj, append([]Line(nil), m.lines[id]...), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Create(_ context.Context, adj Adjustment) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	adj.ID = tx.repo.nextID
	tx.repo.docs[adj.ID] = adj
	return adj.ID, nil
}

func (tx *memoryTx) InsertLine(_ context.Context, line Line) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.AdjustmentID] = append(tx.repo.lines[line.AdjustmentID], line)
	return nil
}

func (tx *memoryTx) LockForUpdate(ctx context.Context, companyID, id int64) (Adjustment, []Line, error) {
	return tx.repo.Get(ctx, companyID, id)
}

func (tx *memoryTx) MarkPosted(_ context.Context, id, transactionID int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	adj := tx.repo.docs[id]
	adj.Status = StatusPosted
	adj.TransactionID = &transactionID
	adj.PostedAt = &at
	tx.repo.docs[id] = adj
	return nil
}
