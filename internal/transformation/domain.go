// Package transformation converts input items into output items and scrap,
// carrying the consumed value over to the outputs.
package transformation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Status of a transformation order.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPreparing Status = "PREPARING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Role tells whether a line is consumed or produced.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
	RoleScrap  Role = "scrap"
)

// Order is a transformation order header.
type Order struct {
	ID                int64
	CompanyID         int64
	Number            string
	SourceWarehouseID int64
	TargetWarehouseID int64
	Status            Status
	AdditionalCost    decimal.Decimal
	Note              string
	OutTransactionID  *int64
	InTransactionID   *int64
	CreatedBy         int64
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// Line is one input, output or scrap item. ScrapValue is the total recovery
// value of a scrap line. AllocatedCost is set when the order completes.
type Line struct {
	ID            int64
	OrderID       int64
	Role          Role
	ItemID        int64
	PackagingID   *int64
	Qty           decimal.Decimal
	ScrapValue    decimal.Decimal
	AllocatedCost *decimal.Decimal
}

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	ErrNotFound     = httpx.NewError(httpx.ErrNotFound, "transformation: order not found")
	ErrValidation   = httpx.NewError(httpx.ErrValidation, "transformation: invalid order")
	ErrInvalidState = fmt.Errorf("transformation: transition not allowed: %w", inventory.ErrInvalidStateTransition)
)
