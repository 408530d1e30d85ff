package stockrequests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

var dec = inventorytest.Dec

type testEnv struct {
	*inventorytest.Fixture
	inv *inventory.Service
	svc *Service
	ctx context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	f := inventorytest.NewFixture(1)
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.Repo.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := inventory.NewService(f.Repo, nil, nil, inventory.ServiceConfig{}, logger, nil)
	return &testEnv{
		Fixture: f,
		inv:     inv,
		svc:     NewService(newMemoryRepo(f.Repo), inv, nil, logger),
		ctx:     context.Background(),
	}
}

func (e *testEnv) receiveAt(t *testing.T, itemID, locationID int64, qty string) {
	t.Helper()
	cost := dec("1.5")
	_, err := e.inv.Post(e.ctx, e.Scope, inventory.MovementRequest{
		Type:         inventory.TransactionTypeIn,
		WarehouseID:  e.Warehouse.ID,
		ToLocationID: &locationID,
		Lines:        []inventory.MovementLine{{ItemID: itemID, Qty: dec(qty), UnitCost: &cost}},
	})
	require.NoError(t, err)
}

func (e *testEnv) row(t *testing.T, itemID, locationID int64) inventory.LocationBalance {
	t.Helper()
	for _, r := range e.Repo.LocationBalances(itemID, e.Warehouse.ID) {
		if r.LocationID == locationID {
			return r
		}
	}
	t.Fatalf("no location row for item %d at %d", itemID, locationID)
	return inventory.LocationBalance{}
}

func (e *testEnv) create(t *testing.T, itemID int64, qty string) Request {
	t.Helper()
	req, err := e.svc.Create(e.ctx, e.Scope, CreateInput{
		WarehouseID: e.Warehouse.ID,
		Lines:       []LineInput{{ItemID: itemID, Qty: dec(qty)}},
	})
	require.NoError(t, err)
	return req
}

func TestMarkReadyReservesOldestLocationsFirst(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	older := env.AddLocation(env.Warehouse.ID, "A-01")
	newer := env.AddLocation(env.Warehouse.ID, "A-02")
	env.receiveAt(t, item.ID, older.ID, "3")
	env.receiveAt(t, item.ID, newer.ID, "5")

	req := env.create(t, item.ID, "6")
	req, reserved, err := env.svc.MarkReady(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReadyForPick, req.Status)

	require.Len(t, reserved, 2)
	require.Equal(t, older.ID, reserved[0].LocationID)
	require.True(t, reserved[0].Qty.Equal(dec("3")))
	require.Equal(t, newer.ID, reserved[1].LocationID)
	require.True(t, reserved[1].Qty.Equal(dec("3")))

	require.True(t, env.row(t, item.ID, older.ID).QtyReserved.Equal(dec("3")))
	require.True(t, env.row(t, item.ID, newer.ID).QtyReserved.Equal(dec("3")))
	bal, ok := env.Repo.Balance(item.ID, env.Warehouse.ID)
	require.True(t, ok)
	require.True(t, bal.CurrentStock.Equal(dec("8")), "reserving must not move stock")

	_, err = env.inv.Post(env.ctx, env.Scope, inventory.MovementRequest{
		Type:        inventory.TransactionTypeOut,
		WarehouseID: env.Warehouse.ID,
		Lines:       []inventory.MovementLine{{ItemID: item.ID, Qty: dec("3")}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStockAcrossLocations)
}

func TestPickedReleasesAndIssuesReservedStock(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	bin := env.AddLocation(env.Warehouse.ID, "A-01")
	env.receiveAt(t, item.ID, bin.ID, "10")

	req := env.create(t, item.ID, "4")
	_, _, err := env.svc.MarkReady(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)

	req, posted, err := env.svc.Picked(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, req.Status)
	require.NotNil(t, req.DeliveredAt)
	require.Equal(t, inventory.TransactionTypeOut, posted.Type)
	require.Equal(t, "stock_request", posted.ReferenceType)

	row := env.row(t, item.ID, bin.ID)
	require.True(t, row.QtyOnHand.Equal(dec("6")))
	require.True(t, row.QtyReserved.IsZero())

	reserved, err := env.svc.Reservations(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Empty(t, reserved)

	_, _, err = env.svc.Picked(env.ctx, env.Scope, req.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPickedKeepsPackagingAsEntered(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET", inventory.Packaging{Name: "box", QtyPerPack: dec("12"), IsActive: true})
	box := item.Packagings[1].ID
	older := env.AddLocation(env.Warehouse.ID, "A-01")
	newer := env.AddLocation(env.Warehouse.ID, "A-02")
	env.receiveAt(t, item.ID, older.ID, "10")
	env.receiveAt(t, item.ID, newer.ID, "20")

	req, err := env.svc.Create(env.ctx, env.Scope, CreateInput{
		WarehouseID: env.Warehouse.ID,
		Lines:       []LineInput{{ItemID: item.ID, PackagingID: &box, Qty: dec("2")}},
	})
	require.NoError(t, err)
	_, reserved, err := env.svc.MarkReady(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Len(t, reserved, 2)

	_, posted, err := env.svc.Picked(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Len(t, posted.Items, 1)
	line := posted.Items[0]
	require.True(t, line.InputQty.Equal(dec("-2")))
	require.Equal(t, &box, line.InputPackagingID)
	require.True(t, line.ConversionFactor.Equal(dec("12")))
	require.True(t, line.NormalizedQty.Equal(dec("-24")))

	require.Len(t, posted.Locations, 2)
	require.Equal(t, older.ID, posted.Locations[0].LocationID)
	require.True(t, posted.Locations[0].QtyDelta.Equal(dec("-10")))
	require.Equal(t, newer.ID, posted.Locations[1].LocationID)
	require.True(t, posted.Locations[1].QtyDelta.Equal(dec("-14")))
	require.True(t, env.row(t, item.ID, older.ID).QtyOnHand.IsZero())
	require.True(t, env.row(t, item.ID, newer.ID).QtyOnHand.Equal(dec("6")))
}

func TestPickedRequiresReadyRequest(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	req := env.create(t, item.ID, "1")

	_, _, err := env.svc.Picked(env.ctx, env.Scope, req.ID)
	require.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
}

func TestMarkReadyIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	plenty := env.AddItem("PLENTY")
	scarce := env.AddItem("SCARCE")
	bin := env.AddLocation(env.Warehouse.ID, "A-01")
	env.receiveAt(t, plenty.ID, bin.ID, "10")
	env.receiveAt(t, scarce.ID, bin.ID, "1")

	req, err := env.svc.Create(env.ctx, env.Scope, CreateInput{
		WarehouseID: env.Warehouse.ID,
		Lines: []LineInput{
			{ItemID: plenty.ID, Qty: dec("5")},
			{ItemID: scarce.ID, Qty: dec("2")},
		},
	})
	require.NoError(t, err)

	_, _, err = env.svc.MarkReady(env.ctx, env.Scope, req.ID)
	require.ErrorIs(t, err, inventory.ErrInsufficientStockAcrossLocations)

	require.True(t, env.row(t, plenty.ID, bin.ID).QtyReserved.IsZero())
	stored, _, err := env.svc.Get(env.ctx, env.Scope, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestStockRequestHandler(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	env.receiveAt(t, item.ID, env.AddLocation(env.Warehouse.ID, "A-01").ID, "5")

	router := chi.NewRouter()
	router.Route("/stock-requests", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc).MountRoutes)
	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set(shared.HeaderCompanyID, "1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/stock-requests/", map[string]any{
		"warehouse_id": env.Warehouse.ID,
		"lines":        []map[string]any{{"item_id": item.ID, "qty": "2"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := fmt.Sprintf("/stock-requests/%d", created.ID)

	require.Equal(t, http.StatusGone, do(http.MethodPost, base+"/pick", nil).Code)
	require.Equal(t, http.StatusConflict, do(http.MethodPost, base+"/picked", nil).Code)
	require.Equal(t, http.StatusOK, do(http.MethodPost, base+"/ready", nil).Code)

	rec = do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched struct {
		Status       string `json:"status"`
		Reservations []struct {
			Qty string `json:"qty"`
		} `json:"reservations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	require.Equal(t, "ready_for_pick", fetched.Status)
	require.Len(t, fetched.Reservations, 1)
	require.Equal(t, "2", fetched.Reservations[0].Qty)

	require.Equal(t, http.StatusOK, do(http.MethodPost, base+"/picked", nil).Code)
}
