// Package procurement receives purchased stock into warehouses through goods
// receipts.
package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft  GRNStatus = "draft"
	GRNStatusPosted GRNStatus = "posted"
)

// GoodsReceipt records supplier deliveries.
type GoodsReceipt struct {
	ID            int64
	CompanyID     int64
	Number        string
	SupplierRef   string
	WarehouseID   int64
	LocationID    *int64
	Status        GRNStatus
	Note          string
	TransactionID *int64
	ReceivedAt    time.Time
	CreatedBy     int64
}

// GRNLine captures received quantity and its purchase cost per input unit.
type GRNLine struct {
	ID          int64
	GRNID       int64
	ItemID      int64
	PackagingID *int64
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
}

var (
	ErrNotFound     = httpx.NewError(httpx.ErrNotFound, "procurement: goods receipt not found")
	ErrValidation   = httpx.NewError(httpx.ErrValidation, "procurement: invalid goods receipt")
	ErrInvalidState = fmt.Errorf("procurement: only draft receipts can be posted: %w", inventory.ErrInvalidStateTransition)
)
