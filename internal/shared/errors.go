package shared

import (
	"errors"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

var (
	// ErrMissingScope occurs when the gateway did not supply a company scope.
	ErrMissingScope = httpx.NewError(httpx.ErrUnauthorized, "scope headers missing")
	// ErrInvalidScope occurs when a scope header is not a positive integer.
	ErrInvalidScope = httpx.NewError(httpx.ErrValidation, "scope headers malformed")
	// ErrLockHeld indicates another worker owns the distributed lock.
	ErrLockHeld = errors.New("lock held by another owner")
)
