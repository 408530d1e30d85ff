package stockrequests

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
)

type memoryRepo struct {
	ledger *inventorytest.MemoryRepository

	mu           sync.Mutex
	nextID       int64
	requests     map[int64]Request
	lines        map[int64][]Line
	reservations map[int64][]Reservation
}

func newMemoryRepo(ledger *inventorytest.MemoryRepository) *memoryRepo {
	return &memoryRepo{
		ledger:       ledger,
		requests:     make(map[int64]Request),
		lines:        make(map[int64][]Line),
		reservations: make(map[int64][]Reservation),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.ledger.Atomic(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		requests := make(map[int64]Request, len(m.requests))
		for k, v := range m.requests {
			requests[k] = v
		}
		lines := make(map[int64][]Line, len(m.lines))
		for k, v := range m.lines {
			lines[k] = append([]Line(nil), v...)
		}
		reservations := make(map[int64][]Reservation, len(m.reservations))
		for k, v := range m.reservations {
			reservations[k] = append([]Reservation(nil), v...)
		}
		nextID := m.nextID
		m.mu.Unlock()
		if err := fn(ctx, &memoryTx{repo: m}); err != nil {
			m.mu.Lock()
			m.requests, m.lines, m.reservations, m.nextID = requests, lines, reservations, nextID
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

func (m *memoryRepo) Get(_ context.Context, companyID, id int64) (Request, []Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.CompanyID != companyID {
		return Request{}, nil, ErrNotFound
	}
	return req, append([]Line(nil), m.lines[id]...), nil
}

func (m *memoryRepo) ListReservations(_ context.Context, requestID int64) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reservation(nil), m.reservations[requestID]...), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) Create(_ context.Context, req Request) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	req.ID = tx.repo.nextID
	tx.repo.requests[req.ID] = req
	return req.ID, nil
}

func (tx *memoryTx) InsertLine(_ context.Context, line Line) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.RequestID] = append(tx.repo.lines[line.RequestID], line)
	return nil
}

func (tx *memoryTx) LockForUpdate(ctx context.Context, companyID, id int64) (Request, []Line, error) {
	return tx.repo.Get(ctx, companyID, id)
}

func (tx *memoryTx) InsertReservations(_ context.Context, rows []Reservation) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, r := range rows {
		tx.repo.reservations[r.RequestID] = append(tx.repo.reservations[r.RequestID], r)
	}
	return nil
}

func (tx *memoryTx) ListReservations(ctx context.Context, requestID int64) ([]Reservation, error) {
	return tx.repo.ListReservations(ctx, requestID)
}

func (tx *memoryTx) DeleteReservations(_ context.Context, requestID int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	delete(tx.repo.reservations, requestID)
	return nil
}

func (tx *memoryTx) MarkReady(_ context.Context, id int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	req := tx.repo.requests[id]
	req.Status = StatusReadyForPick
	tx.repo.requests[id] = req
	return nil
}

func (tx *memoryTx) MarkDelivered(_ context.Context, id, transactionID int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	req := tx.repo.requests[id]
	req.Status = StatusDelivered
	req.TransactionID = &transactionID
	req.DeliveredAt = &at
	tx.repo.requests[id] = req
	return nil
}
