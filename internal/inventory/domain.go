package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// TransactionType enumerates ledger header types.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement.
	TransactionTypeIn TransactionType = "in"
	// TransactionTypeOut represents an outbound movement.
	TransactionTypeOut TransactionType = "out"
	// TransactionTypeTransfer moves stock between warehouses or locations.
	TransactionTypeTransfer TransactionType = "transfer"
	// TransactionTypeAdjustment carries signed corrections.
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known movement type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIn, TransactionTypeOut, TransactionTypeTransfer, TransactionTypeAdjustment:
		return true
	}
	return false
}

// StatusPosted is the only status a persisted ledger header carries.
const StatusPosted = "posted"

// DefaultLocationCode is the code of the lazily created fallback location.
const DefaultLocationCode = "MAIN"

// LocationType classifies a storage location.
type LocationType string

const (
	LocationTypeBin  LocationType = "bin"
	LocationTypeRack LocationType = "rack"
	LocationTypeZone LocationType = "zone"
	LocationTypeArea LocationType = "area"
)

// Item is a stock keeping unit.
type Item struct {
	ID              int64
	CompanyID       int64
	Code            string
	Name            string
	BaseUOM         string
	BasePackagingID *int64
	IsActive        bool
	Packagings      []Packaging
}

// Packaging converts an input unit into base units.
type Packaging struct {
	ID         int64
	ItemID     int64
	Name       string
	QtyPerPack decimal.Decimal
	IsActive   bool
}

// Warehouse groups locations under one company and optionally one business unit.
type Warehouse struct {
	ID             int64
	CompanyID      int64
	BusinessUnitID *int64
	Code           string
	Name           string
	IsActive       bool
}

// Location is a storage slot within a warehouse.
type Location struct {
	ID          int64
	CompanyID   int64
	WarehouseID int64
	Code        string
	Type        LocationType
	IsPickable  bool
	IsStorable  bool
	IsActive    bool
	IsDeleted   bool
	CreatedAt   time.Time
}

// Usable reports whether stock may be placed in or taken from the location.
func (l Location) Usable() bool {
	return l.IsActive && !l.IsDeleted
}

// WarehouseBalance is the aggregate stock of an item in a warehouse.
type WarehouseBalance struct {
	ID                int64
	CompanyID         int64
	ItemID            int64
	WarehouseID       int64
	CurrentStock      decimal.Decimal
	AvgCost           decimal.Decimal
	DefaultLocationID *int64
	UpdatedAt         time.Time
}

// StockValue is quantity times moving average cost.
func (b WarehouseBalance) StockValue() decimal.Decimal {
	return b.CurrentStock.Mul(b.AvgCost).Round(costScale)
}

// LocationBalance is the quantity of an item held at one location.
type LocationBalance struct {
	ID          int64
	CompanyID   int64
	ItemID      int64
	WarehouseID int64
	LocationID  int64
	QtyOnHand   decimal.Decimal
	QtyReserved decimal.Decimal
	IsDeleted   bool
	CreatedAt   time.Time
}

// Available is on-hand minus reserved.
func (b LocationBalance) Available() decimal.Decimal {
	return b.QtyOnHand.Sub(b.QtyReserved)
}

// Transaction is an immutable ledger header.
type Transaction struct {
	ID             int64
	Code           string
	CompanyID      int64
	Type           TransactionType
	WarehouseID    int64
	ToWarehouseID  *int64
	FromLocationID *int64
	ToLocationID   *int64
	ReferenceType  string
	ReferenceID    string
	Status         string
	Note           string
	ReversalOf     *int64
	PostingDate    time.Time
	CreatedBy      int64
	CreatedAt      time.Time
	Items          []TransactionItem
	Locations      []LocationEffect
}

// TransactionItem is one append-only ledger entry.
type TransactionItem struct {
	LineNo           int
	ItemID           int64
	WarehouseID      int64
	InputQty         decimal.Decimal
	InputPackagingID *int64
	ConversionFactor decimal.Decimal
	NormalizedQty    decimal.Decimal
	ValuationRate    decimal.Decimal
	QtyBefore        decimal.Decimal
	QtyAfter         decimal.Decimal
	StockValueBefore decimal.Decimal
	StockValueAfter  decimal.Decimal
}

// LocationEffect records the quantity a posting moved at one location.
type LocationEffect struct {
	ItemID      int64
	WarehouseID int64
	LocationID  int64
	QtyDelta    decimal.Decimal
}

// MovementRequest is the canonical input every source document is turned into.
type MovementRequest struct {
	Type           TransactionType
	WarehouseID    int64
	ToWarehouseID  *int64
	FromLocationID *int64
	ToLocationID   *int64
	ReferenceType  string
	ReferenceID    string
	PostingDate    time.Time
	Note           string
	IdempotencyKey string
	Lines          []MovementLine
}

// MovementLine is one item of a movement. Qty is signed for adjustments and
// positive otherwise. Sources pins an outbound line to exact base-unit
// quantities per location and must add up to the normalized Qty.
type MovementLine struct {
	ItemID      int64
	Qty         decimal.Decimal
	PackagingID *int64
	UnitCost    *decimal.Decimal
	WarehouseID *int64
	LocationID  *int64
	Sources     []Consumption
}

// UnitResolution is the outcome of converting an input quantity.
type UnitResolution struct {
	NormalizedQty    decimal.Decimal
	ConversionFactor decimal.Decimal
	BasePackagingID  int64
}

// Consumption is the quantity taken from one location.
type Consumption struct {
	LocationID int64
	Quantity   decimal.Decimal
}

// AdjustInput changes one location row.
type AdjustInput struct {
	ItemID           int64
	WarehouseID      int64
	LocationID       *int64
	QtyOnHandDelta   decimal.Decimal
	QtyReservedDelta decimal.Decimal
}

// BalanceView is the aggregate balance with its location breakdown.
type BalanceView struct {
	Balance   WarehouseBalance
	Locations []LocationBalance
}

// LedgerFilter narrows stock card queries.
type LedgerFilter struct {
	ItemID      int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Page        int
	PerPage     int
}

// LedgerEntry is one stock card row derived from ledger lines.
type LedgerEntry struct {
	TransactionID   int64
	Code            string
	Type            TransactionType
	PostingDate     time.Time
	ReferenceType   string
	ReferenceID     string
	ItemID          int64
	WarehouseID     int64
	QtyIn           decimal.Decimal
	QtyOut          decimal.Decimal
	QtyAfter        decimal.Decimal
	ValuationRate   decimal.Decimal
	StockValueAfter decimal.Decimal
}

// SplitSigned returns a signed quantity as separate in and out columns.
func SplitSigned(qty decimal.Decimal) (in, out decimal.Decimal) {
	if qty.IsNegative() {
		return decimal.Zero, qty.Neg()
	}
	return qty, decimal.Zero
}

// LedgerSum is the replayed quantity of an item in a warehouse.
type LedgerSum struct {
	ItemID      int64
	WarehouseID int64
	Qty         decimal.Decimal
}

// DriftDirection tells whether location rows under- or over-report stock.
type DriftDirection string

const (
	DriftUnder DriftDirection = "under"
	DriftOver  DriftDirection = "over"
)

// StockSnapshot pairs an aggregate balance with the sum of its location rows.
type StockSnapshot struct {
	CompanyID    int64
	ItemID       int64
	WarehouseID  int64
	AggregateQty decimal.Decimal
	LocationQty  decimal.Decimal
}

// DriftReport compares aggregate, location and ledger quantities for one key.
// Direction is empty when the location rows agree with the aggregate.
type DriftReport struct {
	CompanyID      int64
	ItemID         int64
	WarehouseID    int64
	AggregateQty   decimal.Decimal
	LocationQty    decimal.Decimal
	LedgerQty      decimal.Decimal
	Direction      DriftDirection
	LedgerMismatch bool
	Repaired       decimal.Decimal
}

// DriftRepair is persisted whenever missing location stock is topped up.
type DriftRepair struct {
	CompanyID    int64
	ItemID       int64
	WarehouseID  int64
	LocationID   int64
	AggregateQty decimal.Decimal
	LocationQty  decimal.Decimal
	RepairedQty  decimal.Decimal
	Source       string
	RepairedAt   time.Time
}

const (
	qtyScale  int32 = 6
	costScale int32 = 6
)

var (
	ErrInvalidPackaging                 = httpx.NewError(httpx.ErrValidation, "inventory: invalid packaging")
	ErrMissingUnitOfMeasure             = httpx.NewError(httpx.ErrValidation, "inventory: item has no base unit of measure")
	ErrInvalidQuantity                  = httpx.NewError(httpx.ErrValidation, "inventory: invalid quantity")
	ErrInvalidUnitCost                  = httpx.NewError(httpx.ErrValidation, "inventory: unit cost must be >= 0")
	ErrInvalidRequest                   = httpx.NewError(httpx.ErrValidation, "inventory: invalid movement request")
	ErrInvalidLocation                  = httpx.NewError(httpx.ErrValidation, "inventory: invalid location")
	ErrNoEffectiveLines                 = httpx.NewError(httpx.ErrValidation, "inventory: no effective lines")
	ErrInsufficientStockAcrossLocations = httpx.NewError(httpx.ErrUnprocessable, "inventory: insufficient stock across locations")
	ErrInsufficientLocationStock        = httpx.NewError(httpx.ErrUnprocessable, "inventory: insufficient location stock")
	ErrInvalidReservation               = httpx.NewError(httpx.ErrUnprocessable, "inventory: invalid reservation")
	ErrInvalidStateTransition           = httpx.NewError(httpx.ErrConflict, "inventory: invalid state transition")
	ErrAlreadyReversed                  = httpx.NewError(httpx.ErrConflict, "inventory: transaction already reversed")
	ErrWarehouseMismatch                = httpx.NewError(httpx.ErrForbidden, "inventory: warehouse outside caller scope")
	ErrNotFound                         = httpx.NewError(httpx.ErrNotFound, "inventory: not found")
	// ErrBalanceNotFound is returned by repositories for a missing balance row.
	ErrBalanceNotFound = httpx.NewError(httpx.ErrNotFound, "inventory: balance not found")
)
