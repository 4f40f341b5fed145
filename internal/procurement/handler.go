package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/procurement", func(r chi.Router) {
		r.Get("/pos", h.listPOs)
		r.Post("/pos", h.createPO)
		r.Get("/pos/{id}", h.showPO)
		r.Post("/pos/{id}/approve", h.approvePO)
		r.Post("/pos/{id}/cancel", h.cancelPO)
		r.Post("/pos/{id}/close", h.closePO)
		r.Get("/pos/{id}/grns", h.listGRNs)
		r.Post("/pos/{id}/grns", h.createGRN)

		r.Get("/grns/{id}", h.showGRN)
		r.Put("/grns/{id}/lines", h.updateGRNLines)
		r.Post("/grns/{id}/confirm", h.confirmGRN)
		r.Post("/grns/{id}/cancel", h.cancelGRN)

		r.Get("/payments", h.listPayments)
		r.Post("/payments", h.createPayment)
		r.Post("/payments/{id}/pay", h.pay)
		r.Post("/payments/{id}/cancel", h.cancelPayment)

		r.Post("/invoices", h.createInvoice)
		r.Get("/invoices/{id}", h.showInvoice)
		r.Post("/invoices/{id}/post", h.postInvoice)
		r.Post("/invoices/{id}/cancel", h.cancelInvoice)

		r.Post("/returns", h.createReturn)
		r.Get("/returns/{id}", h.showReturn)
		r.Post("/returns/{id}/approve", h.approveReturn)
		r.Post("/returns/{id}/process", h.processReturn)
		r.Post("/returns/{id}/cancel", h.cancelReturn)

		r.Get("/reports/ap-aging", h.apAging)
	})
}

type poLineRequest struct {
	ItemID    string          `json:"item_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

type createPORequest struct {
	SupplierID   string              `json:"supplier_id" validate:"required"`
	LocationID   string              `json:"location_id" validate:"required"`
	Currency     string              `json:"currency" validate:"omitempty,len=3"`
	PaymentMode  posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER CREDIT"`
	OrderDate    time.Time           `json:"order_date"`
	ExpectedDate time.Time           `json:"expected_date"`
	Note         string              `json:"note"`
	Lines        []poLineRequest     `json:"lines" validate:"min=1,dive"`
}

type grnLineRequest struct {
	LineNo     int             `json:"line_no" validate:"required,min=1"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	BatchNo    string          `json:"batch_no"`
	Serials    []string        `json:"serials"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

type createGRNRequest struct {
	ReceivedAt time.Time        `json:"received_at"`
	Note       string           `json:"note"`
	Lines      []grnLineRequest `json:"lines" validate:"dive"`
	Confirm    bool             `json:"confirm"`
}

type updateGRNLinesRequest struct {
	Lines []grnLineRequest `json:"lines" validate:"min=1,dive"`
}

type createPaymentRequest struct {
	SupplierID  string              `json:"supplier_id"`
	InvoiceID   uuid.UUID           `json:"invoice_id"`
	Currency    string              `json:"currency" validate:"omitempty,len=3"`
	Amount      decimal.Decimal     `json:"amount"`
	PaymentMode posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER"`
	DueDate     time.Time           `json:"due_date"`
}

type payRequest struct {
	PaymentMode posting.PaymentMode `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER"`
}

type invoiceLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	BatchNo    string          `json:"batch_no"`
	Serials    []string        `json:"serials"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

type createInvoiceRequest struct {
	SupplierID  string               `json:"supplier_id" validate:"required"`
	SupplierRef string               `json:"supplier_ref"`
	LocationID  string               `json:"location_id"`
	Currency    string               `json:"currency" validate:"omitempty,len=3"`
	PaymentMode posting.PaymentMode  `json:"payment_mode" validate:"omitempty,oneof=CASH BANK CARD TRANSFER CREDIT"`
	InvoiceDate time.Time            `json:"invoice_date"`
	DueDate     time.Time            `json:"due_date"`
	Lines       []invoiceLineRequest `json:"lines" validate:"min=1,dive"`
}

type returnLineRequest struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	BatchNo  string          `json:"batch_no"`
	SerialNo string          `json:"serial_no"`
}

type createReturnRequest struct {
	SupplierID string              `json:"supplier_id"`
	GRNID      uuid.UUID           `json:"grn_id"`
	LocationID string              `json:"location_id"`
	Currency   string              `json:"currency" validate:"omitempty,len=3"`
	Reason     string              `json:"reason"`
	ReturnDate time.Time           `json:"return_date"`
	Lines      []returnLineRequest `json:"lines" validate:"min=1,dive"`
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListPurchaseOrders(r.Context(), POStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreatePOInput{
		SupplierID: req.SupplierID, LocationID: req.LocationID, Currency: req.Currency, PaymentMode: req.PaymentMode,
		OrderDate: req.OrderDate, ExpectedDate: req.ExpectedDate, Note: req.Note,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, POLineInput(line))
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("purchase order created", slog.String("po", po.Number))
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) showPO(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetPurchaseOrder)
}

func (h *Handler) approvePO(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ApprovePurchaseOrder)
}

func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelPurchaseOrder)
}

func (h *Handler) closePO(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ClosePurchaseOrder)
}

func (h *Handler) listGRNs(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ListGoodsReceipts)
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createGRNRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), CreateGRNInput{
		POID: poID, ReceivedAt: req.ReceivedAt, Note: req.Note, Lines: grnLines(req.Lines), Confirm: req.Confirm,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) showGRN(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetGoodsReceipt)
}

func (h *Handler) updateGRNLines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateGRNLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.UpdateGoodsReceiptLines(r.Context(), id, grnLines(req.Lines))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) confirmGRN(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ConfirmGoodsReceipt)
}

func (h *Handler) cancelGRN(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelGoodsReceipt)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.UUIDQuery(r, "po_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.ListSupplierPayments(r.Context(), poID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.CreateSupplierPayment(r.Context(), CreatePaymentInput(req))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req payRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	payment, err := h.service.PaySupplier(r.Context(), id, req.PaymentMode)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelSupplierPayment)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInvoiceInput{
		SupplierID: req.SupplierID, SupplierRef: req.SupplierRef, LocationID: req.LocationID, Currency: req.Currency,
		PaymentMode: req.PaymentMode, InvoiceDate: req.InvoiceDate, DueDate: req.DueDate,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, PurchaseInvoiceLine(line))
	}
	inv, err := h.service.CreatePurchaseInvoice(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetPurchaseInvoice)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.PostPurchaseInvoice)
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelPurchaseInvoice)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateReturnInput{
		SupplierID: req.SupplierID, GRNID: req.GRNID, LocationID: req.LocationID, Currency: req.Currency,
		Reason: req.Reason, ReturnDate: req.ReturnDate,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, ReturnLine(line))
	}
	ret, err := h.service.CreatePurchaseReturn(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) showReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.GetPurchaseReturn)
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ApprovePurchaseReturn)
}

func (h *Handler) processReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.ProcessPurchaseReturn)
}

func (h *Handler) cancelReturn(w http.ResponseWriter, r *http.Request) {
	withID(w, r, http.StatusOK, h.service.CancelPurchaseReturn)
}

func (h *Handler) apAging(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("as_of", "must be YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}
	aging, err := h.service.APAging(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, aging)
}

func grnLines(in []grnLineRequest) []GRNLineInput {
	out := make([]GRNLineInput, 0, len(in))
	for _, line := range in {
		out = append(out, GRNLineInput(line))
	}
	return out
}

// withID runs a transition keyed by the {id} URL parameter.
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
