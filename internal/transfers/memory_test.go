package transfers

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

type memoryRepo struct {
	ledger *inventorytest.MemoryRepository

	mu        sync.Mutex
	nextID    int64
	transfers map[int64]Transfer
	lines     map[int64][]Line
}

func newMemoryRepo(ledger *inventorytest.MemoryRepository) *memoryRepo {
	return &memoryRepo{ledger: ledger, transfers: make(map[int64]Transfer), lines: make(map[int64][]Line)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomic(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		transfers := make(map[int64]Transfer, len(m.transfers))
		for k, v := range m.transfers {
			transfers[k] = v
		}
		lines := make(map[int64][]Line, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]Line(nil), v...)
		}
		nextID := m.nextID
		m.mu.Unlock()
		if err := fn(ctx, &memoryTx{repo: m}); err != nil {
			m.mu.Lock()
			m.transfers, m.lines, m.nextID = transfers, lines, nextID
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

func (m *memoryRepo) Get(_ context.Context, companyID, id int64) (Transfer, []Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || t.CompanyID != companyID {
		return Transfer{}, nil, ErrNotFound
	}
	return t, append([]Line(nil), m.lines[id]...), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Create(_ context.Context, t Transfer) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	tx.repo.transfers[t.ID] = t
	return t.ID, nil
}

func (tx *memoryTx) InsertLine(_ context.Context, line Line) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.lines[line.TransferID] = append(tx.repo.lines[line.TransferID], line)
	return nil
}

func (tx *memoryTx) LockForUpdate(ctx context.Context, companyID, id int64) (Transfer, []Line, error) {
	return tx.repo.Get(ctx, companyID, id)
}

func (tx *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	t := tx.repo.transfers[id]
	t.Status = status
	tx.repo.transfers[id] = t
	return nil
}

func (tx *memoryTx) MarkReceived(_ context.Context, id, transactionID int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	t := tx.repo.transfers[id]
	t.Status = StatusReceived
	t.TransactionID = &transactionID
	t.ReceivedAt = &at
	tx.repo.transfers[id] = t
	return nil
}
