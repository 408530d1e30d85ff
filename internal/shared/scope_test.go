package shared

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, err := ScopeFromRequest(req)
	require.ErrorIs(t, err, ErrMissingScope)

	req.Header.Set(HeaderCompanyID, "abc")
	_, err = ScopeFromRequest(req)
	require.ErrorIs(t, err, ErrInvalidScope)

	req.Header.Set(HeaderCompanyID, "3")
	req.Header.Set(HeaderBusinessUnitID, "9")
	req.Header.Set(HeaderActorID, "42")
	scope, err := ScopeFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, Scope{CompanyID: 3, BusinessUnitID: 9, ActorID: 42}, scope)
	require.True(t, scope.HasBusinessUnit())

	req.Header.Set(HeaderActorID, "-1")
	_, err = ScopeFromRequest(req)
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestScopeContextRoundTrip(t *testing.T) {
	_, ok := ScopeFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithScope(context.Background(), Scope{CompanyID: 1})
	scope, ok := ScopeFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(1), scope.CompanyID)
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 0, p.Offset())
	require.Equal(t, 40, NewPagination(3, 20, 45).Offset())
	require.Equal(t, 0, NewPagination(1, 20, 0).TotalPages)
	require.Equal(t, 1, NewPagination(-4, 10, -1).Page)
}

func TestGenerateNumber(t *testing.T) {
	a, b := GenerateNumber("ADJ"), GenerateNumber("ADJ")
	require.Regexp(t, `^ADJ-\d{8}-[0-9A-F]{8}$`, a)
	require.NotEqual(t, a, b)
}
