package shared

import (
	"context"
	"net/http"
	"strconv"
)

// Header names set by the upstream gateway after authentication.
const (
	HeaderCompanyID      = "X-Company-ID"
	HeaderBusinessUnitID = "X-Business-Unit-ID"
	HeaderActorID        = "X-Actor-ID"
)

// Scope identifies the tenant and caller a ledger operation runs for.
type Scope struct {
	CompanyID      int64
	BusinessUnitID int64
	ActorID        int64
}

// HasBusinessUnit reports whether the caller is restricted to one business unit.
func (s Scope) HasBusinessUnit() bool {
	return s.BusinessUnitID != 0
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}

// ScopeFromRequest parses the gateway headers. The company header is
// mandatory, business unit and actor are optional.
func ScopeFromRequest(r *http.Request) (Scope, error) {
	raw := r.Header.Get(HeaderCompanyID)
	if raw == "" {
		return Scope{}, ErrMissingScope
	}
	companyID, err := parsePositive(raw)
	if err != nil {
		return Scope{}, ErrInvalidScope
	}
	scope := Scope{CompanyID: companyID}
	if v := r.Header.Get(HeaderBusinessUnitID); v != "" {
		if scope.BusinessUnitID, err = parsePositive(v); err != nil {
			return Scope{}, ErrInvalidScope
		}
	}
	if v := r.Header.Get(HeaderActorID); v != "" {
		if scope.ActorID, err = parsePositive(v); err != nil {
			return Scope{}, ErrInvalidScope
		}
	}
	return scope, nil
}

// RequestScope returns the scope stored by the scope middleware and falls back
// to parsing the headers when the middleware did not run.
func RequestScope(r *http.Request) (Scope, error) {
	if scope, ok := ScopeFromContext(r.Context()); ok {
		return scope, nil
	}
	return ScopeFromRequest(r)
}

func parsePositive(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
