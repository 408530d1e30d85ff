// Package stockrequests reserves stock for internal requests and issues it
// once the request is picked.
package stockrequests

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status of a stock request.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusReadyForPick Status = "ready_for_pick"
	StatusDelivered    Status = "delivered"
)

// Request is a stock request header.
type Request struct {
	ID            int64
	CompanyID     int64
	Number        string
	WarehouseID   int64
	RequestedBy   int64
	Status        Status
	Note          string
	TransactionID *int64
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// Line is one requested item.
type Line struct {
	ID          int64
	RequestID   int64
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
}

// Reservation is stock held at one location for a request line, in base units.
type Reservation struct {
	RequestID  int64
	LineID     int64
	ItemID     int64
	LocationID int64
	Qty        decimal.Decimal
}

var (
	ErrNotFound   = httpx.NewError(httpx.ErrNotFound, "stockrequests: request not found")
	ErrValidation = httpx.NewError(httpx.ErrValidation, "stockrequests: invalid request")
	// ErrPickRemoved is returned by the retired /pick endpoint.
	ErrPickRemoved  = httpx.NewError(httpx.ErrGone, "stockrequests: /pick was removed, use /picked")
	ErrInvalidState = fmt.Errorf("stockrequests: transition not allowed: %w", inventory.ErrInvalidStateTransition)
)
