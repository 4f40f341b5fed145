package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler manages master data endpoints.
type Handler struct {
	logger    *slog.Logger
	directory *Directory
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, directory *Directory) *Handler {
	return &Handler{logger: logger, directory: directory}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.showItem)
	r.Put("/items/{id}", h.upsertItem)
	r.Get("/suppliers", h.listSuppliers)
	r.Put("/suppliers/{id}", h.upsertSupplier)
	r.Get("/customers", h.listCustomers)
	r.Put("/customers/{id}", h.upsertCustomer)
	r.Get("/locations", h.listLocations)
	r.Put("/locations/{id}", h.upsertLocation)
	r.Get("/currencies", h.listCurrencies)
	r.Put("/currencies/{code}", h.upsertCurrency)
}

type itemRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name" validate:"required"`
	Kind         ItemKind        `json:"kind" validate:"omitempty,oneof=RAW_MATERIAL FINISHED_GOOD MERCHANDISE SERVICE"`
	Tracking     TrackingMode    `json:"tracking" validate:"omitempty,oneof=NONE BATCH SERIAL"`
	Unit         string          `json:"unit"`
	StandardCost decimal.Decimal `json:"standard_cost"`
	SalesPrice   decimal.Decimal `json:"sales_price"`
	IsActive     *bool           `json:"is_active"`
}

type partyRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type locationRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type currencyRequest struct {
	Name         string          `json:"name"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.directory.ListItems(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.directory.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) upsertItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	item, err := h.directory.UpsertItem(r.Context(), Item{
		ID:           chi.URLParam(r, "id"),
		SKU:          req.SKU,
		Name:         req.Name,
		Kind:         req.Kind,
		Tracking:     req.Tracking,
		Unit:         req.Unit,
		StandardCost: req.StandardCost,
		SalesPrice:   req.SalesPrice,
		IsActive:     active,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("item upserted", slog.String("item", item.ID))
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.directory.ListSuppliers(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, suppliers)
}

func (h *Handler) upsertSupplier(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := h.directory.UpsertSupplier(r.Context(), Supplier{
		ID: chi.URLParam(r, "id"), Code: req.Code, Name: req.Name, Email: req.Email, Currency: req.Currency, IsActive: true,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.directory.ListCustomers(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
}

func (h *Handler) upsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	customer, err := h.directory.UpsertCustomer(r.Context(), Customer{
		ID: chi.URLParam(r, "id"), Code: req.Code, Name: req.Name, Email: req.Email, Currency: req.Currency, IsActive: true,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.directory.ListLocations(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, locations)
}

func (h *Handler) upsertLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	location, err := h.directory.UpsertLocation(r.Context(), Location{
		ID: chi.URLParam(r, "id"), Code: req.Code, Name: req.Name,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, location)
}

func (h *Handler) listCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.directory.ListCurrencies(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, currencies)
}

func (h *Handler) upsertCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency, err := h.directory.UpsertCurrency(r.Context(), Currency{
		Code: chi.URLParam(r, "code"), Name: req.Name, ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, currency)
}
