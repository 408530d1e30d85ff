// Package transfers moves stock between warehouses, or between locations of
// one warehouse, through a pending, in transit, received lifecycle.
package transfers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status of a stock transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
)

// Transfer is a stock transfer header.
type Transfer struct {
	ID              int64
	CompanyID       int64
	Number          string
	FromWarehouseID int64
	ToWarehouseID   int64
	FromLocationID  *int64
	ToLocationID    *int64
	Status          Status
	Note            string
	TransactionID   *int64
	CreatedBy       int64
	CreatedAt       time.Time
	ReceivedAt      *time.Time
}

// Line is one item to move.
type Line struct {
	ID          int64
	TransferID  int64
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
}

// CanDispatch reports whether the transfer may leave the source warehouse.
func (t Transfer) CanDispatch() bool {
	return t.Status == StatusPending
}

// CanConfirm reports whether the transfer may be received.
func (t Transfer) CanConfirm() bool {
	return t.Status == StatusPending || t.Status == StatusInTransit
}

var (
	ErrNotFound     = httpx.NewError(httpx.ErrNotFound, "transfers: transfer not found")
	ErrValidation   = httpx.NewError(httpx.ErrValidation, "transfers: invalid transfer")
	ErrInvalidState = fmt.Errorf("transfers: transition not allowed: %w", inventory.ErrInvalidStateTransition)
)
