package sales_test

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
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/sales"
)

func TestHandlerOrderToCash(t *testing.T) {
	e := newService(t)
	e.openStock(t, posting.PurchaseLine{ItemID: "WIDGET", LocationID: "WH1", Qty: d("5"), UnitCost: d("3")})
	r := chi.NewRouter()
	sales.NewHandler(slog.Default(), e.sales).MountRoutes(r)

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

	rec := do(http.MethodPost, "/sales/orders", `{"customer_id":"CUST-1","location_id":"WH1","lines":[{"item_id":"WIDGET","qty":"2","unit_price":"7.50"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var so sales.SalesOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &so))
	require.Equal(t, "SO-0001", so.Number)

	rec = do(http.MethodPost, "/sales/orders/"+so.ID.String()+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conf sales.Confirmation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conf))
	require.Equal(t, "INV-0001", conf.Invoice.Number)

	rec = do(http.MethodPost, "/sales/orders/"+so.ID.String()+"/deliver", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "15.00", e.Balance(t, accounting.RoleAR))
	require.Equal(t, "6.00", e.Balance(t, accounting.RoleCOGS))

	rec = do(http.MethodPost, "/sales/invoices/"+conf.Invoice.ID.String()+"/post", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodPost, "/sales/receipts", `{"invoice_id":"`+conf.Invoice.ID.String()+`","amount":"15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "15.00", e.Balance(t, accounting.RoleBank))

	rec = do(http.MethodGet, "/sales/invoices?so_id="+so.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []sales.SalesInvoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	require.Len(t, invoices, 1)
	require.Equal(t, sales.InvoiceStatusPaid, invoices[0].Status)

	rec = do(http.MethodGet, "/sales/reports/ar-aging?as_of=2025-06-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/sales/reports/ar-aging?as_of=June", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodGet, "/sales/orders/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/sales/invoices?so_id=SO-0001", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPost, "/sales/orders", `{"customer_id":"CUST-1","location_id":"WH1","lines":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
