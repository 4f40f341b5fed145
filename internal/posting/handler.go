package posting

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes inventory documents over HTTP.
type Handler struct {
	logger *slog.Logger
	docs   *StockDocuments
}

// NewHandler builds the stock document handler.
func NewHandler(logger *slog.Logger, docs *StockDocuments) *Handler {
	return &Handler{logger: logger, docs: docs}
}

// MountRoutes registers stock document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inventory/adjustments", h.adjust)
	r.Post("/inventory/transfers", h.transfer)
	r.Post("/inventory/opening-stock", h.openingStock)
}

type adjustmentLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required"`
	LocationID string          `json:"location_id" validate:"required"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	BatchNo    string          `json:"batch_no"`
	SerialNo   string          `json:"serial_no"`
}

type adjustmentRequest struct {
	Date   time.Time               `json:"date"`
	Reason string                  `json:"reason" validate:"required"`
	Lines  []adjustmentLineRequest `json:"lines" validate:"min=1,dive"`
}

type transferLineRequest struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Qty      decimal.Decimal `json:"qty"`
	BatchNo  string          `json:"batch_no"`
	SerialNo string          `json:"serial_no"`
}

type transferRequest struct {
	Date           time.Time             `json:"date"`
	FromLocationID string                `json:"from_location_id" validate:"required"`
	ToLocationID   string                `json:"to_location_id" validate:"required,nefield=FromLocationID"`
	Note           string                `json:"note"`
	Lines          []transferLineRequest `json:"lines" validate:"min=1,dive"`
}

type openingLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required"`
	LocationID string          `json:"location_id" validate:"required"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	BatchNo    string          `json:"batch_no"`
	Serials    []string        `json:"serials"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

type openingRequest struct {
	Date  time.Time            `json:"date"`
	Lines []openingLineRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	evt := StockAdjustmentEvent{Document: Document{Date: req.Date}, Reason: req.Reason}
	for _, line := range req.Lines {
		evt.Lines = append(evt.Lines, AdjustmentLine(line))
	}
	h.respond(w, "stock adjusted", func() (Result, error) { return h.docs.Adjust(r.Context(), evt) })
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	evt := StockTransferEvent{
		Document:       Document{Date: req.Date, Note: req.Note},
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
	}
	for _, line := range req.Lines {
		evt.Lines = append(evt.Lines, TransferLine(line))
	}
	h.respond(w, "stock transferred", func() (Result, error) { return h.docs.Transfer(r.Context(), evt) })
}

func (h *Handler) openingStock(w http.ResponseWriter, r *http.Request) {
	var req openingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	evt := OpeningStockEvent{Document: Document{Date: req.Date}}
	for _, line := range req.Lines {
		evt.Lines = append(evt.Lines, PurchaseLine{
			ItemID: line.ItemID, LocationID: line.LocationID, Qty: line.Qty, UnitCost: line.UnitCost,
			BatchNo: line.BatchNo, Serials: line.Serials, ExpiryDate: line.ExpiryDate,
		})
	}
	h.respond(w, "opening stock loaded", func() (Result, error) { return h.docs.LoadOpening(r.Context(), evt) })
}

func (h *Handler) respond(w http.ResponseWriter, msg string, fn func() (Result, error)) {
	res, err := fn()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var number string
	if len(res.StockEntries) > 0 {
		number = res.StockEntries[0].SourceNo
	}
	h.logger.Info(msg, slog.String("document", number), slog.Int("entries", len(res.StockEntries)))
	httpx.JSON(w, http.StatusCreated, res)
}
