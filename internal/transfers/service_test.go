package transfers

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

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
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
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := inventory.NewService(f.Repo, nil, nil, inventory.ServiceConfig{}, logger, nil)
	return &testEnv{
		Fixture: f,
		inv:     inv,
		svc:     NewService(newMemoryRepo(f.Repo), inv, nil, logger),
		ctx:     context.Background(),
	}
}

func (e *testEnv) receive(t *testing.T, itemID, warehouseID int64, qty string) {
	t.Helper()
	cost := dec("4")
	_, err := e.inv.Post(e.ctx, e.Scope, inventory.MovementRequest{
		Type:        inventory.TransactionTypeIn,
		WarehouseID: warehouseID,
		Lines:       []inventory.MovementLine{{ItemID: itemID, Qty: dec(qty), UnitCost: &cost}},
	})
	require.NoError(t, err)
}

func (e *testEnv) stock(itemID, warehouseID int64) decimal.Decimal {
	bal, ok := e.Repo.Balance(itemID, warehouseID)
	if !ok {
		return decimal.Zero
	}
	return bal.CurrentStock
}

func TestTransferLifecycle(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	src := env.Warehouse.ID
	dst := env.AddWarehouse("WH2", nil).ID
	env.receive(t, item.ID, src, "10")

	tr, err := env.svc.Create(env.ctx, env.Scope, CreateInput{
		FromWarehouseID: src,
		ToWarehouseID:   dst,
		Lines:           []LineInput{{ItemID: item.ID, Qty: dec("4")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, tr.Status)

	tr, err = env.svc.Dispatch(env.ctx, env.Scope, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, tr.Status)
	require.True(t, env.stock(item.ID, src).Equal(dec("10")), "dispatch must not move stock")

	tr, posted, err := env.svc.Confirm(env.ctx, env.Scope, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, tr.Status)
	require.Equal(t, inventory.TransactionTypeTransfer, posted.Type)
	require.Equal(t, "stock_transfer", posted.ReferenceType)
	require.Len(t, posted.Locations, 2)

	require.True(t, env.stock(item.ID, src).Equal(dec("6")))
	require.True(t, env.stock(item.ID, dst).Equal(dec("4")))
	dstBal, ok := env.Repo.Balance(item.ID, dst)
	require.True(t, ok)
	require.True(t, dstBal.AvgCost.Equal(dec("4")))

	_, _, err = env.svc.Confirm(env.ctx, env.Scope, tr.ID)
	require.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
}

func TestConfirmDirectlyFromPending(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	dst := env.AddWarehouse("WH2", nil).ID
	env.receive(t, item.ID, env.Warehouse.ID, "3")

	tr, err := env.svc.Create(env.ctx, env.Scope, CreateInput{
		FromWarehouseID: env.Warehouse.ID,
		ToWarehouseID:   dst,
		Lines:           []LineInput{{ItemID: item.ID, Qty: dec("3")}},
	})
	require.NoError(t, err)

	_, _, err = env.svc.Confirm(env.ctx, env.Scope, tr.ID)
	require.NoError(t, err)

	_, err = env.svc.Dispatch(env.ctx, env.Scope, tr.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmRejectsDestinationOutsideBusinessUnit(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	bu, otherBU := int64(10), int64(11)
	src := env.AddWarehouse("SRC", &bu).ID
	dst := env.AddWarehouse("DST", &otherBU).ID
	env.receive(t, item.ID, src, "5")

	scope := env.Scope
	scope.BusinessUnitID = bu
	tr, err := env.svc.Create(env.ctx, scope, CreateInput{
		FromWarehouseID: src,
		ToWarehouseID:   dst,
		Lines:           []LineInput{{ItemID: item.ID, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, _, err = env.svc.Confirm(env.ctx, scope, tr.ID)
	require.ErrorIs(t, err, inventory.ErrWarehouseMismatch)

	stored, _, err := env.svc.Get(env.ctx, scope, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.True(t, env.stock(item.ID, src).Equal(dec("5")))
}

func TestConfirmWithoutStockKeepsTransferInTransit(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	dst := env.AddWarehouse("WH2", nil).ID
	env.receive(t, item.ID, env.Warehouse.ID, "2")

	tr, err := env.svc.Create(env.ctx, env.Scope, CreateInput{
		FromWarehouseID: env.Warehouse.ID,
		ToWarehouseID:   dst,
		Lines:           []LineInput{{ItemID: item.ID, Qty: dec("5")}},
	})
	require.NoError(t, err)
	_, err = env.svc.Dispatch(env.ctx, env.Scope, tr.ID)
	require.NoError(t, err)

	_, _, err = env.svc.Confirm(env.ctx, env.Scope, tr.ID)
	require.ErrorIs(t, err, inventory.ErrInsufficientStockAcrossLocations)

	stored, _, err := env.svc.Get(env.ctx, env.Scope, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, stored.Status)
	require.Nil(t, stored.TransactionID)
	require.True(t, env.stock(item.ID, dst).IsZero())
}

func TestCreateTransferValidation(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	wh := env.Warehouse.ID
	bin := env.AddLocation(wh, "A-01").ID

	cases := []struct {
		name  string
		input CreateInput
		want  error
	}{
		{"missing destination", CreateInput{FromWarehouseID: wh, Lines: []LineInput{{ItemID: item.ID, Qty: dec("1")}}}, ErrValidation},
		{"same warehouse without locations", CreateInput{FromWarehouseID: wh, ToWarehouseID: wh, Lines: []LineInput{{ItemID: item.ID, Qty: dec("1")}}}, ErrValidation},
		{"same location", CreateInput{FromWarehouseID: wh, ToWarehouseID: wh, FromLocationID: &bin, ToLocationID: &bin, Lines: []LineInput{{ItemID: item.ID, Qty: dec("1")}}}, ErrValidation},
		{"zero qty", CreateInput{FromWarehouseID: wh, ToWarehouseID: wh + 1, Lines: []LineInput{{ItemID: item.ID, Qty: dec("0")}}}, inventory.ErrInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(env.ctx, env.Scope, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTransferHandler(t *testing.T) {
	env := newTestEnv(t)
	item := env.AddItem("WIDGET")
	dst := env.AddWarehouse("WH2", nil).ID
	env.receive(t, item.ID, env.Warehouse.ID, "5")

	router := chi.NewRouter()
	router.Route("/stock-transfers", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), env.svc).MountRoutes)
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

	rec := do(http.MethodPost, "/stock-transfers/", map[string]any{
		"from_warehouse_id": env.Warehouse.ID,
		"to_warehouse_id":   dst,
		"lines":             []map[string]any{{"item_id": item.ID, "qty": "2"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := fmt.Sprintf("/stock-transfers/%d", created.ID)

	require.Equal(t, http.StatusOK, do(http.MethodPost, base+"/dispatch", nil).Code)
	require.Equal(t, http.StatusConflict, do(http.MethodPost, base+"/dispatch", nil).Code)

	rec = do(http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed struct {
		Status      string `json:"status"`
		Transaction struct {
			Type string `json:"type"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	require.Equal(t, "received", confirmed.Status)
	require.Equal(t, "transfer", confirmed.Transaction.Type)

	rec = do(http.MethodPost, "/stock-transfers/", map[string]any{"from_warehouse_id": env.Warehouse.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
