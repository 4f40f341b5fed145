package masterdata

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newDirectory() *Directory {
	return NewService(NewRepository(kv.NewMemoryStore()), "IDR")
}

func TestLookupItemToleratesMissing(t *testing.T) {
	dir := newDirectory()
	ctx := context.Background()

	item, err := dir.LookupItem(ctx, "UNKNOWN")
	require.NoError(t, err)
	require.Equal(t, ItemKindMerchandise, item.Kind)
	require.Equal(t, TrackingNone, item.Tracking)

	_, err = dir.Item(ctx, "UNKNOWN")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = dir.UpsertItem(ctx, Item{ID: "RM-1", Name: "Flour", Kind: ItemKindRawMaterial, Tracking: TrackingBatch})
	require.NoError(t, err)
	item, err = dir.LookupItem(ctx, "RM-1")
	require.NoError(t, err)
	require.Equal(t, ItemKindRawMaterial, item.Kind)
	require.Equal(t, TrackingBatch, item.Tracking)
}

func TestUpsertItemRejectsUnknownKind(t *testing.T) {
	dir := newDirectory()
	_, err := dir.UpsertItem(context.Background(), Item{ID: "X", Name: "X", Kind: "GADGET"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestExchangeRate(t *testing.T) {
	dir := newDirectory()
	ctx := context.Background()

	rate, err := dir.ExchangeRate(ctx, "")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))

	_, err = dir.ExchangeRate(ctx, "USD")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = dir.UpsertCurrency(ctx, Currency{Code: "usd", ExchangeRate: decimal.NewFromInt(15000)})
	require.NoError(t, err)
	rate, err = dir.ExchangeRate(ctx, "USD")
	require.NoError(t, err)
	require.Equal(t, "15000", rate.String())
}

func TestHandlerUpsertAndShowItem(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newDirectory())
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodPut, "/items/FG-1", strings.NewReader(`{"name":"Bread","kind":"FINISHED_GOOD","standard_cost":"1.50"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/items/FG-1", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"kind":"FINISHED_GOOD"`)

	req = httptest.NewRequest(http.MethodPut, "/items/FG-2", strings.NewReader(`{"name":"Bad","kind":"NOPE"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
