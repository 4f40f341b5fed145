package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory/balances", h.listBalances)
	r.Get("/inventory/items/{item}/locations/{location}", h.showBalance)
	r.Get("/inventory/items/{item}/locations/{location}/card", h.stockCard)
	r.Get("/inventory/items/{item}/locations/{location}/batches", h.batches)
	r.Get("/inventory/items/{item}/locations/{location}/serials", h.serials)
	r.Get("/inventory/items/{item}/locations/{location}/availability", h.availability)
	r.Get("/inventory/valuation", h.valuation)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.ListBalances(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) showBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "item"), chi.URLParam(r, "location"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	filter := StockCardFilter{ItemID: chi.URLParam(r, "item"), LocationID: chi.URLParam(r, "location")}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("from", "expected YYYY-MM-DD"))
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("to", "expected YYYY-MM-DD"))
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) batches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.GetBatchBalances(r.Context(), chi.URLParam(r, "item"), chi.URLParam(r, "location"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) serials(w http.ResponseWriter, r *http.Request) {
	serials, err := h.service.GetAvailableSerials(r.Context(), chi.URLParam(r, "item"), chi.URLParam(r, "location"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serials)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	qty, err := decimal.NewFromString(r.URL.Query().Get("qty"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("qty", "must be a number"))
		return
	}
	ok, err := h.service.CheckStockAvailability(r.Context(), chi.URLParam(r, "item"), chi.URLParam(r, "location"), qty)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"available": ok})
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.ValuationReport(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
