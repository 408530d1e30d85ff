package inventory_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type fakeEnqueuer struct {
	repair []bool
}

func (f *fakeEnqueuer) EnqueueReconcile(_ context.Context, repair bool) (string, error) {
	f.repair = append(f.repair, repair)
	return "task-1", nil
}

func newTestRouter(h *harness, enq inventory.ReconcileEnqueuer) http.Handler {
	handler := inventory.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), h.svc, enq)
	r := chi.NewRouter()
	r.Route("/inventory", handler.MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.HeaderCompanyID, "1")
	req.Header.Set(shared.HeaderActorID, "7")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostAndQuery(t *testing.T) {
	h := newHarness(t, inventory.ServiceConfig{})
	item := h.AddItem("X")
	wh := h.Warehouse.ID
	router := newTestRouter(h, nil)

	body := fmt.Sprintf(`{"type":"in","warehouse_id":%d,"reference_type":"manual","reference_id":"M-1","lines":[{"item_id":%d,"qty":"10","unit_cost":"2.5"}]}`, wh, item.ID)
	rec := doJSON(t, router, http.MethodPost, "/inventory/movements", body, map[string]string{"Idempotency-Key": "m-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var posted inventory.TransactionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.Equal(t, inventory.TransactionTypeIn, posted.Type)
	require.Len(t, posted.Items, 1)
	require.True(t, posted.Items[0].QtyAfter.Equal(dec("10")))

	rec = doJSON(t, router, http.MethodPost, "/inventory/movements", body, map[string]string{"Idempotency-Key": "m-1"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/balances?item_id=%d&warehouse_id=%d", item.ID, wh), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		CurrentStock string `json:"current_stock"`
		StockValue   string `json:"stock_value"`
		Locations    []struct {
			Available string `json:"available"`
		} `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "10", balance.CurrentStock)
	require.Equal(t, "25", balance.StockValue)
	require.Len(t, balance.Locations, 1)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/ledger?item_id=%d&warehouse_id=%d&limit=10", item.ID, wh), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger struct {
		Entries    []map[string]any  `json:"entries"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 1)
	require.Equal(t, 1, ledger.Pagination.Total)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/inventory/transactions/%d/reverse", posted.ID), `{"note":"typo"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/inventory/transactions/%d/reverse", posted.ID), "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/transactions/%d", posted.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t, inventory.ServiceConfig{})
	item := h.AddItem("X")
	wh := h.Warehouse.ID
	router := newTestRouter(h, nil)

	out := fmt.Sprintf(`{"type":"out","warehouse_id":%d,"reference_type":"manual","reference_id":"M-2","lines":[{"item_id":%d,"qty":"1"}]}`, wh, item.ID)
	rec := doJSON(t, router, http.MethodPost, "/inventory/movements", out, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/inventory/movements", out, map[string]string{shared.HeaderCompanyID: ""})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/inventory/movements", `{"type":"gift"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/inventory/movements", `{"unknown":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/inventory/balances?item_id=abc&warehouse_id=1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/balances?item_id=%d&warehouse_id=%d", item.ID, wh), "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/inventory/ledger?item_id=%d&warehouse_id=%d&from=yesterday", item.ID, wh), "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReconcileEnqueues(t *testing.T) {
	h := newHarness(t, inventory.ServiceConfig{})
	enq := &fakeEnqueuer{}
	router := newTestRouter(h, enq)

	rec := doJSON(t, router, http.MethodPost, "/inventory/reconcile", `{"repair":true}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"task_id":"task-1"}`, rec.Body.String())
	require.Equal(t, []bool{true}, enq.repair)

	syncRouter := newTestRouter(h, nil)
	rec = doJSON(t, syncRouter, http.MethodPost, "/inventory/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
