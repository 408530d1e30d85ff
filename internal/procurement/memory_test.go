package procurement

import (
	"context"
	"sync"

	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

type memoryRepo struct {
	ledger *inventorytest.MemoryRepository

	mu     sync.Mutex
	nextID int64
	grns   map[int64]GoodsReceipt
	lines  map[int64][]GRNLine
}

func newMemoryRepo(ledger *inventorytest.MemoryRepository) *memoryRepo {
	return &memoryRepo{ledger: ledger, grns: make(map[int64]GoodsReceipt), lines: make(map[int64][]GRNLine)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomic(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		grns := make(map[int64]GoodsReceipt, len(m.grns))
		for k, v := range m.grns {
			grns[k] = v
		}
		lines := make(map[int64][]GRNLine, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]GRNLine(nil), v...)
		}
		nextID := m.nextID
		m.mu.Unlock()
		if err := fn(ctx, &memoryTx{repo: m}); err != nil {
			m.mu.Lock()
			m.grns, m.lines, m.nextID = grns, lines, nextID
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetGRN(_ context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grn, ok := m.grns[id]
	if !ok || grn.CompanyID != companyID {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	return grn, append([]GRNLine(nil), m.lines[id]...), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) CreateGRN(_ context.Context, grn GoodsReceipt) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	grn.ID = tx.repo.nextID
	tx.repo.grns[grn.ID] = grn
	return grn.ID, nil
}

func (tx *memoryTx) InsertGRNLine(_ context.Context, line GRNLine) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.lines[line.GRNID] = append(tx.repo.lines[line.GRNID], line)
	return nil
}

func (tx *memoryTx) LockGRN(ctx context.Context, companyID, id int64) (GoodsReceipt, []GRNLine, error) {
	return tx.repo.GetGRN(ctx, companyID, id)
}

func (tx *memoryTx) MarkGRNPosted(_ context.Context, id, transactionID int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	grn := tx.repo.grns[id]
	grn.Status = GRNStatusPosted
	grn.TransactionID = &transactionID
	tx.repo.grns[id] = grn
	return nil
}
