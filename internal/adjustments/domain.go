// Package adjustments turns stock count corrections into signed ledger
// postings.
package adjustments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status of a stock adjustment document.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
)

// Adjustment is a stock adjustment header.
type Adjustment struct {
	ID            int64
	CompanyID     int64
	Number        string
	WarehouseID   int64
	Status        Status
	Reason        string
	TransactionID *int64
	CreatedBy     int64
	CreatedAt     time.Time
	PostedAt      *time.Time
}

// Line records a counted quantity against the quantity the system expected.
type Line struct {
	ID           int64
	AdjustmentID int64
	ItemID       int64
	LocationID   *int64
	PackagingID  *int64
	CurrentQty   decimal.Decimal
	AdjustedQty  decimal.Decimal
	UnitCost     *decimal.Decimal
}

// Delta is the signed correction the line posts.
func (l Line) Delta() decimal.Decimal {
	return l.AdjustedQty.Sub(l.CurrentQty)
}

var (
	ErrNotFound     = httpx.NewError(httpx.ErrNotFound, "adjustments: adjustment not found")
	ErrValidation   = httpx.NewError(httpx.ErrValidation, "adjustments: invalid adjustment")
	ErrInvalidState = fmt.Errorf("adjustments: only draft adjustments can be posted: %w", inventory.ErrInvalidStateTransition)
)
