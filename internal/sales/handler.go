package sales

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler manages sales endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Get("/orders", h.listOrders)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.showOrder)
		r.Post("/orders/{id}/confirm", h.confirmOrder)
		r.Post("/orders/{id}/deliver", h.deliverOrder)
		r.Post("/orders/{id}/invoiced", h.markInvoiced)
		r.Post("/orders/{id}/close", h.closeOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)

		r.Get("/invoices", h.listInvoices)
		r.Post("/invoices", h.createInvoice)
		r.Get("/invoices/{id}", h.showInvoice)
		r.Post("/invoices/{id}/post", h.postInvoice)
		r.Post("/invoices/{id}/cancel", h.cancelInvoice)

		r.Get("/receipts", h.listReceipts)
		r.Post("/receipts", h.createReceipt)

		r.Post("/returns", h.createReturn)
		r.Get("/returns/{id}", h.showReturn)
		r.Post("/returns/{id}/approve", h.approveReturn)
		r.Post("/returns/{id}/process", h.processReturn)
		r.Post("/returns/{id}/cancel", h.cancelReturn)

		r.Get("/reports/ar-aging", h.arAging)
	})
}

type soLineRequest struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type createSORequest struct {
	CustomerID   string              `json:"customer_id" validate:"required"`
	LocationID   string              `json:"location_id" validate:"required"`
	Currency     string              `json:"currency" validate:"omitempty,len=3"`
	PaymentMode  posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER CREDIT"`
	OrderDate    time.Time           `json:"order_date"`
	ExpectedDate time.Time           `json:"expected_date"`
	Note         string              `json:"note"`
	Lines        []soLineRequest     `json:"lines" validate:"min=1,dive"`
}

type deliverLineRequest struct {
	LineNo int                       `json:"line_no" validate:"required,min=1"`
	Qty    decimal.Decimal           `json:"qty"`
	Lots   []inventory.LotAllocation `json:"lots"`
}

type deliverRequest struct {
	DeliveredAt time.Time            `json:"delivered_at"`
	Lines       []deliverLineRequest `json:"lines" validate:"dive"`
}

type invoiceLineRequest struct {
	ItemID    string                    `json:"item_id" validate:"required"`
	Qty       decimal.Decimal           `json:"qty"`
	UnitPrice decimal.Decimal           `json:"unit_price"`
	Discount  decimal.Decimal           `json:"discount"`
	TaxAmount decimal.Decimal           `json:"tax_amount"`
	Lots      []inventory.LotAllocation `json:"lots"`
}

type createInvoiceRequest struct {
	CustomerID  string               `json:"customer_id" validate:"required"`
	LocationID  string               `json:"location_id" validate:"required"`
	Currency    string               `json:"currency" validate:"omitempty,len=3"`
	PaymentMode posting.PaymentMode  `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER CREDIT"`
	InvoiceDate time.Time            `json:"invoice_date"`
	DueDate     time.Time            `json:"due_date"`
	Lines       []invoiceLineRequest `json:"lines" validate:"min=1,dive"`
}

type createReceiptRequest struct {
	CustomerID  string              `json:"customer_id"`
	InvoiceID   uuid.UUID           `json:"invoice_id"`
	Currency    string              `json:"currency" validate:"omitempty,len=3"`
	Amount      decimal.Decimal     `json:"amount"`
	PaymentMode posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER"`
	ReceivedAt  time.Time           `json:"received_at"`
	Note        string              `json:"note"`
}

type returnLineRequest struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	BatchNo   string          `json:"batch_no"`
	SerialNo  string          `json:"serial_no"`
}

type createReturnRequest struct {
	InvoiceID   uuid.UUID           `json:"invoice_id"`
	CustomerID  string              `json:"customer_id"`
	LocationID  string              `json:"location_id"`
	Currency    string              `json:"currency" validate:"omitempty,len=3"`
	PaymentMode posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER CREDIT"`
	Reason      string              `json:"reason"`
	ReturnDate  time.Time           `json:"return_date"`
	Lines       []returnLineRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListSalesOrders(r.Context(), SalesOrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createSORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateSOInput{
		CustomerID: req.CustomerID, LocationID: req.LocationID, Currency: req.Currency, PaymentMode: req.PaymentMode,
		OrderDate: req.OrderDate, ExpectedDate: req.ExpectedDate, Note: req.Note,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, SOLineInput(line))
	}
	so, err := h.service.CreateSalesOrder(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, so)
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetSalesOrder)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ConfirmSalesOrder)
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	in := DeliverInput{DeliveredAt: req.DeliveredAt}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, DeliverLineInput(line))
	}
	withID(w, r, http.StatusOK, func(ctx context.Context, id uuid.UUID) (Delivery, error) {
		return h.service.DeliverSalesOrder(ctx, id, in)
	})
}

func (h *Handler) markInvoiced(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.MarkInvoiced)
}

func (h *Handler) closeOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CloseSalesOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelSalesOrder)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	soID, err := httpx.UUIDQuery(r, "so_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, err := h.service.ListSalesInvoices(r.Context(), soID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInvoiceInput{
		CustomerID: req.CustomerID, LocationID: req.LocationID, Currency: req.Currency, PaymentMode: req.PaymentMode,
		InvoiceDate: req.InvoiceDate, DueDate: req.DueDate,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, InvoiceLineInput(line))
	}
	inv, err := h.service.CreateSalesInvoice(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetSalesInvoice)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.PostSalesInvoice)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelSalesInvoice)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := httpx.UUIDQuery(r, "invoice_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), invoiceID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipts)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rcpt, err := h.service.ReceivePayment(r.Context(), CreateReceiptInput(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("customer receipt recorded", slog.String("receipt", rcpt.Number))
	httpx.JSON(w, http.StatusCreated, rcpt)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateReturnInput{
		InvoiceID: req.InvoiceID, CustomerID: req.CustomerID, LocationID: req.LocationID, Currency: req.Currency,
		PaymentMode: req.PaymentMode, Reason: req.Reason, ReturnDate: req.ReturnDate,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, ReturnLine(line))
	}
	ret, err := h.service.CreateSalesReturn(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) showReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetSalesReturn)
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ApproveSalesReturn)
}

func (h *Handler) processReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ProcessSalesReturn)
}

func (h *Handler) cancelReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelSalesReturn)
}

func (h *Handler) arAging(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("as_of", "must be YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}
	aging, err := h.service.ARAging(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, aging)
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
