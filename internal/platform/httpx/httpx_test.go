package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NotFound("item", "A"), http.StatusNotFound},
		{shared.InvalidTransition("po", "DRAFT", "CLOSED"), http.StatusConflict},
		{&shared.AlreadyPostedError{Entity: "invoice", Number: "INV-0001"}, http.StatusConflict},
		{&shared.InsufficientStockError{ItemID: "A"}, http.StatusUnprocessableEntity},
		{shared.Invalid("qty", "must be positive"), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: broken json", ErrBadRequest), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestDecodeJSONValidates(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	var p payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":""}`))
	err := DecodeJSON(req, &p)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "name")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
	require.ErrorIs(t, DecodeJSON(req, &p), ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	require.NoError(t, DecodeJSON(req, &p))
	require.Equal(t, "ok", p.Name)
}

func TestUUIDParam(t *testing.T) {
	want := uuid.New()
	var got uuid.UUID
	var parseErr error
	r := chi.NewRouter()
	r.Get("/po/{id}", func(w http.ResponseWriter, req *http.Request) {
		got, parseErr = UUIDParam(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/po/"+want.String(), nil))
	require.NoError(t, parseErr)
	require.Equal(t, want, got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/po/PO-0001", nil))
	require.ErrorIs(t, parseErr, shared.ErrValidation)
}

func TestUUIDQuery(t *testing.T) {
	id, err := UUIDQuery(httptest.NewRequest(http.MethodGet, "/x", nil), "so_id")
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, id)

	want := uuid.New()
	id, err = UUIDQuery(httptest.NewRequest(http.MethodGet, "/x?so_id="+want.String(), nil), "so_id")
	require.NoError(t, err)
	require.Equal(t, want, id)

	_, err = UUIDQuery(httptest.NewRequest(http.MethodGet, "/x?so_id=SO-0001", nil), "so_id")
	require.ErrorIs(t, err, shared.ErrValidation)
}
