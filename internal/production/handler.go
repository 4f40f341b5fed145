package production

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler manages production endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/production", func(r chi.Router) {
		r.Get("/boms", h.listBOMs)
		r.Post("/boms", h.createBOM)
		r.Get("/boms/active/{item}", h.activeBOM)
		r.Post("/boms/{id}/activate", h.activateBOM)
		r.Post("/boms/{id}/deactivate", h.deactivateBOM)

		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.showOrder)
		r.Post("/orders/{id}/start", h.startOrder)
		r.Post("/orders/{id}/issue", h.issueMaterials)
		r.Post("/orders/{id}/complete", h.completeOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
	})
}

type bomLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required"`
	QtyPerUnit decimal.Decimal `json:"qty_per_unit"`
}

type createBOMRequest struct {
	ItemID   string           `json:"item_id" validate:"required"`
	Note     string           `json:"note"`
	Lines    []bomLineRequest `json:"lines" validate:"min=1,dive"`
	Activate bool             `json:"activate"`
}

type createOrderRequest struct {
	ItemID             string          `json:"item_id" validate:"required"`
	LocationID         string          `json:"location_id" validate:"required"`
	MaterialLocationID string          `json:"material_location_id"`
	Qty                decimal.Decimal `json:"qty"`
	PlannedDate        time.Time       `json:"planned_date"`
}

type issueRequest struct {
	UnitCosts map[string]decimal.Decimal `json:"unit_costs"`
}

type completeRequest struct {
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	BatchNo    string          `json:"batch_no"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

func (h *Handler) listBOMs(w http.ResponseWriter, r *http.Request) {
	boms, err := h.service.ListBOMs(r.Context(), r.URL.Query().Get("item_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, boms)
}

func (h *Handler) createBOM(w http.ResponseWriter, r *http.Request) {
	var req createBOMRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateBOMInput{ItemID: req.ItemID, Note: req.Note, Activate: req.Activate}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, BOMLine(line))
	}
	bom, err := h.service.CreateBOM(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bom)
}

func (h *Handler) activeBOM(w http.ResponseWriter, r *http.Request) {
	bom, err := h.service.ActiveBOM(r.Context(), chi.URLParam(r, "item"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bom)
}

func (h *Handler) activateBOM(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ActivateBOM)
}

func (h *Handler) deactivateBOM(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.DeactivateBOM)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	sourceID, err := httpx.UUIDQuery(r, "source_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orders, err := h.service.ListProductionOrders(r.Context(), OrderFilter{
		Status: OrderStatus(r.URL.Query().Get("status")), SourceID: sourceID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.CreateProductionOrder(r.Context(), CreateOrderInput{
		ItemID: req.ItemID, LocationID: req.LocationID, MaterialLocationID: req.MaterialLocationID,
		Qty: req.Qty, PlannedDate: req.PlannedDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("production order created", slog.String("order", order.Number))
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetProductionOrder)
}

func (h *Handler) startOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.StartProduction)
}

func (h *Handler) issueMaterials(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	withID(w, r, http.StatusOK, func(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
		return h.service.IssueMaterials(ctx, id, IssueInput(req))
	})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	withID(w, r, http.StatusOK, func(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
		return h.service.CompleteProduction(ctx, id, CompleteInput(req))
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelProductionOrder)
}

func withID[T any](w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context, id uuid.UUID) (T, error)) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := fn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, out)
}
