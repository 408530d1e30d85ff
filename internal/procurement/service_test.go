package procurement

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
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

var dec = inventorytest.Dec

type stubAudit struct {
	actions []string
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.actions = append(s.actions, log.Action)
	return nil
}

func newTestService(t *testing.T) (*Service, *inventorytest.Fixture, *stubAudit) {
	t.Helper()
	f := inventorytest.NewFixture(1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := inventory.NewService(f.Repo, nil, nil, inventory.ServiceConfig{}, logger, nil)
	audit := &stubAudit{}
	return NewService(newMemoryRepo(f.Repo), inv, audit, logger), f, audit
}

func TestPostGoodsReceiptConvertsPackCost(t *testing.T) {
	svc, f, audit := newTestService(t)
	ctx := context.Background()
	item := f.AddItem("SCREW", inventory.Packaging{Name: "box", QtyPerPack: dec("12"), IsActive: true})
	box := item.Packagings[1].ID
	bin := f.AddLocation(f.Warehouse.ID, "DOCK")

	grn, err := svc.CreateGoodsReceipt(ctx, f.Scope, CreateGRNInput{
		SupplierRef: "PO-77",
		WarehouseID: f.Warehouse.ID,
		LocationID:  &bin.ID,
		Lines:       []GRNLineInput{{ItemID: item.ID, PackagingID: &box, Qty: dec("2"), UnitCost: dec("6")}},
	})
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, grn.Status)

	grn, posted, err := svc.PostGoodsReceipt(ctx, f.Scope, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, grn.Status)
	require.Equal(t, inventory.TransactionTypeIn, posted.Type)
	require.Equal(t, "goods_receipt", posted.ReferenceType)
	require.Len(t, posted.Items, 1)
	require.True(t, posted.Items[0].NormalizedQty.Equal(dec("24")))
	require.True(t, posted.Items[0].ValuationRate.Equal(dec("0.5")))

	bal, ok := f.Repo.Balance(item.ID, f.Warehouse.ID)
	require.True(t, ok)
	require.True(t, bal.CurrentStock.Equal(dec("24")))
	require.True(t, bal.AvgCost.Equal(dec("0.5")))
	rows := f.Repo.LocationBalances(item.ID, f.Warehouse.ID)
	require.Len(t, rows, 1)
	require.Equal(t, bin.ID, rows[0].LocationID)

	_, _, err = svc.PostGoodsReceipt(ctx, f.Scope, grn.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, []string{"GRN_CREATE", "GRN_POST"}, audit.actions)
}

func TestPostGoodsReceiptWithInactivePackagingStaysDraft(t *testing.T) {
	svc, f, _ := newTestService(t)
	ctx := context.Background()
	item := f.AddItem("SCREW", inventory.Packaging{Name: "crate", QtyPerPack: dec("50"), IsActive: false})
	crate := item.Packagings[1].ID

	grn, err := svc.CreateGoodsReceipt(ctx, f.Scope, CreateGRNInput{
		WarehouseID: f.Warehouse.ID,
		Lines:       []GRNLineInput{{ItemID: item.ID, PackagingID: &crate, Qty: dec("1"), UnitCost: dec("10")}},
	})
	require.NoError(t, err)

	_, _, err = svc.PostGoodsReceipt(ctx, f.Scope, grn.ID)
	require.ErrorIs(t, err, inventory.ErrInvalidPackaging)

	stored, _, err := svc.GetGoodsReceipt(ctx, f.Scope, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, stored.Status)
	require.Empty(t, f.Repo.Transactions())
}

func TestCreateGoodsReceiptValidation(t *testing.T) {
	svc, f, _ := newTestService(t)
	ctx := context.Background()
	item := f.AddItem("SCREW")

	_, err := svc.CreateGoodsReceipt(ctx, f.Scope, CreateGRNInput{Lines: []GRNLineInput{{ItemID: item.ID, Qty: dec("1")}}})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateGoodsReceipt(ctx, f.Scope, CreateGRNInput{WarehouseID: f.Warehouse.ID, Lines: []GRNLineInput{{ItemID: item.ID, Qty: dec("-1")}}})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = svc.CreateGoodsReceipt(ctx, f.Scope, CreateGRNInput{WarehouseID: f.Warehouse.ID, Lines: []GRNLineInput{{ItemID: item.ID, Qty: dec("1"), UnitCost: dec("-2")}}})
	require.ErrorIs(t, err, inventory.ErrInvalidUnitCost)
}

func TestGoodsReceiptHandler(t *testing.T) {
	svc, f, _ := newTestService(t)
	item := f.AddItem("SCREW")
	router := chi.NewRouter()
	router.Route("/goods-receipts", NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes)
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

	rec := do(http.MethodPost, "/goods-receipts/", map[string]any{
		"warehouse_id": f.Warehouse.ID,
		"received_at":  "2026-05-04",
		"lines":        []map[string]any{{"item_id": item.ID, "qty": "5", "unit_cost": "2"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID         int64  `json:"id"`
		ReceivedAt string `json:"received_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "2026-05-04T00:00:00Z", created.ReceivedAt)

	rec = do(http.MethodPost, fmt.Sprintf("/goods-receipts/%d/post", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/goods-receipts/", map[string]any{
		"warehouse_id": f.Warehouse.ID,
		"received_at":  "04/05/2026",
		"lines":        []map[string]any{{"item_id": item.ID, "qty": "5"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
