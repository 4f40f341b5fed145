package procurement_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/procurement"
)

func TestHandlerApproveAndConfirm(t *testing.T) {
	fx, svc := newService(t)
	r := chi.NewRouter()
	procurement.NewHandler(slog.Default(), svc).MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/procurement/pos", `{"supplier_id":"SUP-1","location_id":"WH1","lines":[{"item_id":"BOLT","qty":"8","unit_price":"1.25"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var po procurement.PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	require.Equal(t, "PO-0001", po.Number)

	rec = do(http.MethodPost, "/procurement/pos/"+po.ID.String()+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approval procurement.Approval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approval))

	rec = do(http.MethodPost, "/procurement/grns/"+approval.Receipt.ID.String()+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "10.00", fx.Balance(t, accounting.RoleInventory))

	rec = do(http.MethodPost, "/procurement/grns/"+approval.Receipt.ID.String()+"/confirm", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/procurement/payments/"+approval.Payment.ID.String()+"/pay", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))

	rec = do(http.MethodGet, "/procurement/pos/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/procurement/pos/PO-0001", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPost, "/procurement/pos", `{"supplier_id":"SUP-1","location_id":"WH1","lines":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
