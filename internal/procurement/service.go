package procurement

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PostingPort is the subset of the posting engine procurement drives.
type PostingPort interface {
	PostGoodsReceipt(ctx context.Context, evt posting.GoodsReceiptEvent) (posting.Result, error)
	PostPurchaseInvoice(ctx context.Context, evt posting.PurchaseInvoiceEvent) (posting.Result, error)
	PostSupplierPayment(ctx context.Context, evt posting.PaymentEvent) (posting.Result, error)
	PostPurchaseReturn(ctx context.Context, evt posting.PurchaseReturnEvent) (posting.Result, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates procurement flows.
type Service struct {
	repo    RepositoryPort
	posting PostingPort
	audit   AuditPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, engine PostingPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, posting: engine, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePOInput describes a purchase order.
type CreatePOInput struct {
	SupplierID   string
	LocationID   string
	Currency     string
	PaymentMode  posting.PaymentMode
	OrderDate    time.Time
	ExpectedDate time.Time
	Note         string
	Lines        []POLineInput
}

// POLineInput describes an ordered line.
type POLineInput struct {
	ItemID    string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	TaxAmount decimal.Decimal
}

// GRNLineInput selects a PO line and the quantity received against it.
// A zero UnitCost takes the PO unit price.
type GRNLineInput struct {
	LineNo     int
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	BatchNo    string
	Serials    []string
	ExpiryDate *time.Time
}

// CreateGRNInput describes a receipt against an approved PO. Without lines
// the receipt covers every outstanding quantity.
type CreateGRNInput struct {
	POID       uuid.UUID
	ReceivedAt time.Time
	Note       string
	Lines      []GRNLineInput
	Confirm    bool
}

// Approval is the outcome of approving a PO.
type Approval struct {
	Order   PurchaseOrder    `json:"order"`
	Receipt GoodsReceipt     `json:"receipt"`
	Payment *SupplierPayment `json:"payment,omitempty"`
}

// CreatePurchaseOrder validates and stores a DRAFT PO.
func (s *Service) CreatePurchaseOrder(ctx context.Context, in CreatePOInput) (PurchaseOrder, error) {
	if in.SupplierID == "" {
		return PurchaseOrder{}, shared.Invalid("supplier_id", "required")
	}
	if in.LocationID == "" {
		return PurchaseOrder{}, shared.Invalid("location_id", "required")
	}
	if in.PaymentMode != "" && !in.PaymentMode.Valid() {
		return PurchaseOrder{}, shared.Invalid("payment_mode", "unknown mode %q", in.PaymentMode)
	}
	if len(in.Lines) == 0 {
		return PurchaseOrder{}, shared.Invalid("lines", "minimal 1 line")
	}
	now := s.now().UTC()
	po := PurchaseOrder{
		ID: uuid.New(), SupplierID: in.SupplierID, LocationID: in.LocationID, Currency: in.Currency,
		PaymentMode: in.PaymentMode, Status: POStatusDraft, OrderDate: defaultTime(in.OrderDate, now),
		ExpectedDate: in.ExpectedDate, Note: in.Note, CreatedBy: shared.ActorFromContext(ctx),
		CreatedAt: now, UpdatedAt: now,
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return PurchaseOrder{}, shared.Invalid("item_id", "line %d: required", i+1)
		}
		if !line.Qty.IsPositive() {
			return PurchaseOrder{}, shared.Invalid("qty", "line %d: must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() || line.TaxAmount.IsNegative() {
			return PurchaseOrder{}, shared.Invalid("unit_price", "line %d: must not be negative", i+1)
		}
		po.Lines = append(po.Lines, POLine{
			LineNo: i + 1, ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice,
			TaxAmount: line.TaxAmount, ReceivedQty: decimal.Zero,
		})
	}
	po.recalc()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.KindPurchaseOrder)
		if err != nil {
			return err
		}
		po.Number = number
		return tx.PutOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "po.create", "purchase_order", po.ID, map[string]any{"number": po.Number, "total": po.Total.String()})
	return po, nil
}

// ApprovePurchaseOrder approves a DRAFT PO and, in the same transaction,
// creates the DRAFT receipt for every outstanding line and, for credit
// purchases, the PENDING payable settlement due after PaymentTermDays.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, id uuid.UUID) (Approval, error) {
	var out Approval
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return shared.InvalidTransition("purchase order", string(po.Status), string(POStatusApproved), string(POStatusDraft))
		}
		now := s.now().UTC()
		po.Status = POStatusApproved
		po.ApprovedAt = &now
		po.UpdatedAt = now

		grn, err := s.newReceipt(ctx, tx, po, CreateGRNInput{ReceivedAt: now})
		if err != nil {
			return err
		}
		if err := tx.PutReceipt(ctx, grn); err != nil {
			return err
		}
		out.Receipt = grn

		if po.PaymentMode == "" || po.PaymentMode == posting.PaymentCredit {
			number, err := tx.NextNumber(ctx, shared.KindSupplierPayment)
			if err != nil {
				return err
			}
			payment := SupplierPayment{
				ID: uuid.New(), Number: number, SupplierID: po.SupplierID, POID: po.ID, Currency: po.Currency,
				Amount: po.Total, Status: PaymentStatusPending, DueDate: now.AddDate(0, 0, PaymentTermDays),
				CreatedAt: now,
			}
			if err := tx.PutPayment(ctx, payment); err != nil {
				return err
			}
			out.Payment = &payment
		}
		out.Order = po
		return tx.PutOrder(ctx, po)
	})
	if err != nil {
		return Approval{}, err
	}
	s.logger.Info("purchase order approved", slog.String("po", out.Order.Number), slog.String("grn", out.Receipt.Number))
	s.recordAudit(ctx, "po.approve", "purchase_order", out.Order.ID, map[string]any{"number": out.Order.Number, "grn": out.Receipt.Number})
	return out, nil
}

// CancelPurchaseOrder cancels a PO with nothing received, together with its
// draft receipts and pending payments.
func (s *Service) CancelPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case po.Status != POStatusDraft && po.Status != POStatusApproved:
			return shared.InvalidTransition("purchase order", string(po.Status), string(POStatusCancelled), string(POStatusDraft), string(POStatusApproved))
		case po.anyReceived():
			return shared.InvalidTransition("purchase order", string(POStatusPartiallyReceived), string(POStatusCancelled), string(POStatusDraft), string(POStatusApproved))
		}
		receipts, err := tx.ListReceipts(ctx, po.ID)
		if err != nil {
			return err
		}
		for _, grn := range receipts {
			if grn.Status != GRNStatusDraft {
				continue
			}
			grn.Status = GRNStatusCancelled
			if err := tx.PutReceipt(ctx, grn); err != nil {
				return err
			}
		}
		payments, err := tx.ListPayments(ctx)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.POID != po.ID || p.Status != PaymentStatusPending {
				continue
			}
			p.Status = PaymentStatusCancelled
			if err := tx.PutPayment(ctx, p); err != nil {
				return err
			}
		}
		po.Status = POStatusCancelled
		po.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order cancelled", slog.String("po", po.Number))
	s.recordAudit(ctx, "po.cancel", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// ClosePurchaseOrder closes a fully received PO.
func (s *Service) ClosePurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusReceived {
			return shared.InvalidTransition("purchase order", string(po.Status), string(POStatusClosed), string(POStatusReceived))
		}
		po.Status = POStatusClosed
		po.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "po.close", "purchase_order", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

// GetPurchaseOrder loads a PO.
func (s *Service) GetPurchaseOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrder(ctx, id)
		return err
	})
	return po, err
}

// ListPurchaseOrders returns every PO, optionally filtered by status.
func (s *Service) ListPurchaseOrders(ctx context.Context, status POStatus) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		orders, err := tx.ListOrders(ctx)
		if err != nil {
			return err
		}
		for _, po := range orders {
			if status == "" || po.Status == status {
				out = append(out, po)
			}
		}
		return nil
	})
	return out, err
}

// CreateGoodsReceipt records a receipt against an approved PO. With
// in.Confirm the receipt is confirmed and posted in the same transaction.
func (s *Service) CreateGoodsReceipt(ctx context.Context, in CreateGRNInput) (GoodsReceipt, error) {
	var grn GoodsReceipt
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetOrder(ctx, in.POID)
		if err != nil {
			return err
		}
		if !receivable(po.Status) {
			return shared.InvalidTransition("purchase order", string(po.Status), "RECEIVING", string(POStatusApproved), string(POStatusPartiallyReceived))
		}
		grn, err = s.newReceipt(ctx, tx, po, in)
		if err != nil {
			return err
		}
		if in.Confirm {
			if err := s.confirmReceipt(ctx, tx, &po, &grn); err != nil {
				return err
			}
		}
		return tx.PutReceipt(ctx, grn)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.logger.Info("goods receipt created", slog.String("grn", grn.Number), slog.String("po", po.Number), slog.String("status", string(grn.Status)))
	s.recordAudit(ctx, "grn.create", "goods_receipt", grn.ID, map[string]any{"number": grn.Number, "po": po.Number, "status": string(grn.Status)})
	return grn, nil
}

// UpdateGoodsReceiptLines replaces the lines of a DRAFT receipt, allowing
// partial receipts before confirmation.
func (s *Service) UpdateGoodsReceiptLines(ctx context.Context, id uuid.UUID, lines []GRNLineInput) (GoodsReceipt, error) {
	var grn GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grn, err = tx.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return shared.InvalidTransition("goods receipt", string(grn.Status), string(GRNStatusDraft), string(GRNStatusDraft))
		}
		po, err := tx.GetOrder(ctx, grn.POID)
		if err != nil {
			return err
		}
		grn.Lines, err = receiptLines(po, lines)
		if err != nil {
			return err
		}
		return tx.PutReceipt(ctx, grn)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	return grn, nil
}

// ConfirmGoodsReceipt posts a DRAFT receipt: stock in, DR inventory / CR
// payables, PO received quantities and status.
func (s *Service) ConfirmGoodsReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error) {
	var grn GoodsReceipt
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grn, err = tx.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return shared.InvalidTransition("goods receipt", string(grn.Status), string(GRNStatusConfirmed), string(GRNStatusDraft))
		}
		po, err = tx.GetOrder(ctx, grn.POID)
		if err != nil {
			return err
		}
		if !receivable(po.Status) {
			return shared.InvalidTransition("purchase order", string(po.Status), "RECEIVING", string(POStatusApproved), string(POStatusPartiallyReceived))
		}
		if err := s.confirmReceipt(ctx, tx, &po, &grn); err != nil {
			return err
		}
		return tx.PutReceipt(ctx, grn)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.logger.Info("goods receipt confirmed", slog.String("grn", grn.Number), slog.String("po", po.Number), slog.String("po_status", string(po.Status)))
	s.recordAudit(ctx, "grn.confirm", "goods_receipt", grn.ID, map[string]any{"number": grn.Number, "po": po.Number})
	return grn, nil
}

// CancelGoodsReceipt cancels a DRAFT receipt.
func (s *Service) CancelGoodsReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error) {
	var grn GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grn, err = tx.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if grn.Status != GRNStatusDraft {
			return shared.InvalidTransition("goods receipt", string(grn.Status), string(GRNStatusCancelled), string(GRNStatusDraft))
		}
		grn.Status = GRNStatusCancelled
		return tx.PutReceipt(ctx, grn)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, "grn.cancel", "goods_receipt", grn.ID, map[string]any{"number": grn.Number})
	return grn, nil
}

// GetGoodsReceipt loads a receipt.
func (s *Service) GetGoodsReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error) {
	var grn GoodsReceipt
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		grn, err = tx.GetReceipt(ctx, id)
		return err
	})
	return grn, err
}

// ListGoodsReceipts returns receipts of a PO, or all receipts for uuid.Nil.
func (s *Service) ListGoodsReceipts(ctx context.Context, poID uuid.UUID) ([]GoodsReceipt, error) {
	var out []GoodsReceipt
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListReceipts(ctx, poID)
		return err
	})
	return out, err
}

func (s *Service) newReceipt(ctx context.Context, tx TxRepository, po PurchaseOrder, in CreateGRNInput) (GoodsReceipt, error) {
	lines, err := receiptLines(po, in.Lines)
	if err != nil {
		return GoodsReceipt{}, err
	}
	number, err := tx.NextNumber(ctx, shared.KindGoodsReceipt)
	if err != nil {
		return GoodsReceipt{}, err
	}
	now := s.now().UTC()
	return GoodsReceipt{
		ID: uuid.New(), Number: number, POID: po.ID, PONumber: po.Number, SupplierID: po.SupplierID,
		LocationID: po.LocationID, Status: GRNStatusDraft, ReceivedAt: defaultTime(in.ReceivedAt, now),
		Note: in.Note, Lines: lines, CreatedAt: now,
	}, nil
}

// receiptLines resolves inputs against po lines. Empty input selects every
// outstanding quantity at the ordered price.
func receiptLines(po PurchaseOrder, in []GRNLineInput) ([]GRNLine, error) {
	if len(in) == 0 {
		var out []GRNLine
		for _, line := range po.Lines {
			if rest := line.Outstanding(); rest.IsPositive() {
				out = append(out, GRNLine{LineNo: line.LineNo, ItemID: line.ItemID, Qty: rest, UnitCost: line.UnitPrice})
			}
		}
		if len(out) == 0 {
			return nil, shared.Invalid("lines", "purchase order %s has nothing outstanding", po.Number)
		}
		return out, nil
	}
	out := make([]GRNLine, 0, len(in))
	seen := make(map[int]bool, len(in))
	for _, line := range in {
		poLine, ok := po.line(line.LineNo)
		if !ok {
			return nil, shared.Invalid("line_no", "purchase order %s has no line %d", po.Number, line.LineNo)
		}
		if seen[line.LineNo] {
			return nil, shared.Invalid("line_no", "line %d listed more than once", line.LineNo)
		}
		seen[line.LineNo] = true
		if line.Qty.IsNegative() {
			return nil, shared.Invalid("qty", "line %d: must not be negative", line.LineNo)
		}
		if line.UnitCost.IsNegative() {
			return nil, shared.Invalid("unit_cost", "line %d: must not be negative", line.LineNo)
		}
		cost := line.UnitCost
		if cost.IsZero() {
			cost = poLine.UnitPrice
		}
		out = append(out, GRNLine{
			LineNo: line.LineNo, ItemID: poLine.ItemID, Qty: line.Qty, UnitCost: cost,
			BatchNo: line.BatchNo, Serials: line.Serials, ExpiryDate: line.ExpiryDate,
		})
	}
	return out, nil
}

// confirmReceipt posts grn and advances po; both are modified in place and
// po is stored.
func (s *Service) confirmReceipt(ctx context.Context, tx TxRepository, po *PurchaseOrder, grn *GoodsReceipt) error {
	received := false
	perLine := make(map[int]decimal.Decimal, len(grn.Lines))
	for _, line := range grn.Lines {
		poLine, ok := po.line(line.LineNo)
		if !ok {
			return shared.Invalid("line_no", "purchase order %s has no line %d", po.Number, line.LineNo)
		}
		perLine[line.LineNo] = perLine[line.LineNo].Add(line.Qty)
		if total := perLine[line.LineNo]; total.GreaterThan(poLine.Outstanding()) {
			return shared.Invalid("qty", "line %d: receiving %s exceeds outstanding %s", line.LineNo, total, poLine.Outstanding())
		}
		if line.Qty.IsPositive() {
			received = true
		}
	}
	if !received {
		return shared.Invalid("lines", "goods receipt %s receives nothing", grn.Number)
	}
	res, err := s.posting.PostGoodsReceipt(ctx, receiptEvent(*po, *grn, shared.ActorFromContext(ctx)))
	if err != nil {
		return err
	}
	for _, line := range grn.Lines {
		poLine, _ := po.line(line.LineNo)
		poLine.ReceivedQty = poLine.ReceivedQty.Add(line.Qty)
	}
	now := s.now().UTC()
	po.Status = po.receiptStatus()
	po.UpdatedAt = now
	grn.Status = GRNStatusConfirmed
	grn.IsPosted = true
	grn.JournalIDs = res.JournalIDs()
	grn.ConfirmedAt = &now
	return tx.PutOrder(ctx, *po)
}

func receivable(status POStatus) bool {
	return status == POStatusApproved || status == POStatusPartiallyReceived
}

// CreatePaymentInput describes a supplier payment. With InvoiceID the
// supplier and currency come from the invoice.
type CreatePaymentInput struct {
	SupplierID  string
	InvoiceID   uuid.UUID
	Currency    string
	Amount      decimal.Decimal
	PaymentMode posting.PaymentMode
	DueDate     time.Time
}

// CreateSupplierPayment stores a PENDING payment.
func (s *Service) CreateSupplierPayment(ctx context.Context, in CreatePaymentInput) (SupplierPayment, error) {
	if !in.Amount.IsPositive() {
		return SupplierPayment{}, shared.Invalid("amount", "must be positive")
	}
	if in.PaymentMode == posting.PaymentCredit || (in.PaymentMode != "" && !in.PaymentMode.Valid()) {
		return SupplierPayment{}, shared.Invalid("payment_mode", "cannot settle with %q", in.PaymentMode)
	}
	var payment SupplierPayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		payment = SupplierPayment{
			ID: uuid.New(), SupplierID: in.SupplierID, InvoiceID: in.InvoiceID, Currency: in.Currency,
			Amount: in.Amount, PaymentMode: in.PaymentMode, Status: PaymentStatusPending,
			DueDate: defaultTime(in.DueDate, now), CreatedAt: now,
		}
		if in.InvoiceID != uuid.Nil {
			inv, err := tx.GetInvoice(ctx, in.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status != InvoiceStatusPosted {
				return shared.InvalidTransition("purchase invoice", string(inv.Status), "PAYMENT", string(InvoiceStatusPosted))
			}
			if in.Amount.Sub(inv.Outstanding()).GreaterThanOrEqual(shared.Epsilon) {
				return shared.Invalid("amount", "%s exceeds outstanding %s", in.Amount, inv.Outstanding())
			}
			payment.SupplierID, payment.Currency = inv.SupplierID, inv.Currency
			if in.DueDate.IsZero() {
				payment.DueDate = inv.DueDate
			}
		}
		if payment.SupplierID == "" {
			return shared.Invalid("supplier_id", "required")
		}
		number, err := tx.NextNumber(ctx, shared.KindSupplierPayment)
		if err != nil {
			return err
		}
		payment.Number = number
		return tx.PutPayment(ctx, payment)
	})
	if err != nil {
		return SupplierPayment{}, err
	}
	s.recordAudit(ctx, "payment.create", "supplier_payment", payment.ID, map[string]any{"number": payment.Number, "amount": payment.Amount.String()})
	return payment, nil
}

// PaySupplier settles a PENDING payment: DR AP / CR cash or bank. An empty
// mode falls back to the payment's own mode, then bank.
func (s *Service) PaySupplier(ctx context.Context, id uuid.UUID, mode posting.PaymentMode) (SupplierPayment, error) {
	var payment SupplierPayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if payment.IsPosted {
			return &shared.AlreadyPostedError{Entity: "supplier payment", Number: payment.Number}
		}
		if payment.Status != PaymentStatusPending {
			return shared.InvalidTransition("supplier payment", string(payment.Status), string(PaymentStatusPaid), string(PaymentStatusPending))
		}
		if mode == "" {
			mode = payment.PaymentMode
		}
		if mode == "" {
			mode = posting.PaymentBank
		}
		if payment.InvoiceID != uuid.Nil {
			inv, err := tx.GetInvoice(ctx, payment.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status != InvoiceStatusPosted {
				return shared.InvalidTransition("purchase invoice", string(inv.Status), "PAYMENT", string(InvoiceStatusPosted))
			}
			if payment.Amount.Sub(inv.Outstanding()).GreaterThanOrEqual(shared.Epsilon) {
				return shared.Invalid("amount", "%s exceeds outstanding %s", payment.Amount, inv.Outstanding())
			}
			inv.PaidAmount = inv.PaidAmount.Add(payment.Amount)
			if shared.NearlyZero(inv.Outstanding()) {
				inv.Status = InvoiceStatusPaid
			}
			if err := tx.PutInvoice(ctx, inv); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		payment.PaidAt = &now
		payment.PaymentMode = mode
		res, err := s.posting.PostSupplierPayment(ctx, paymentEvent(payment, mode, shared.ActorFromContext(ctx)))
		if err != nil {
			return err
		}
		payment.Status = PaymentStatusPaid
		payment.IsPosted = true
		payment.JournalIDs = res.JournalIDs()
		return tx.PutPayment(ctx, payment)
	})
	if err != nil {
		return SupplierPayment{}, err
	}
	s.logger.Info("supplier paid", slog.String("payment", payment.Number), slog.String("amount", payment.Amount.StringFixed(2)))
	s.recordAudit(ctx, "payment.pay", "supplier_payment", payment.ID, map[string]any{"number": payment.Number, "mode": string(payment.PaymentMode)})
	return payment, nil
}

// CancelSupplierPayment cancels a PENDING payment.
func (s *Service) CancelSupplierPayment(ctx context.Context, id uuid.UUID) (SupplierPayment, error) {
	var payment SupplierPayment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if payment.Status != PaymentStatusPending {
			return shared.InvalidTransition("supplier payment", string(payment.Status), string(PaymentStatusCancelled), string(PaymentStatusPending))
		}
		payment.Status = PaymentStatusCancelled
		return tx.PutPayment(ctx, payment)
	})
	if err != nil {
		return SupplierPayment{}, err
	}
	s.recordAudit(ctx, "payment.cancel", "supplier_payment", payment.ID, map[string]any{"number": payment.Number})
	return payment, nil
}

// ListSupplierPayments returns every payment, optionally filtered by PO.
func (s *Service) ListSupplierPayments(ctx context.Context, poID uuid.UUID) ([]SupplierPayment, error) {
	var out []SupplierPayment
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		payments, err := tx.ListPayments(ctx)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if poID == uuid.Nil || p.POID == poID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// CreateInvoiceInput describes a supplier bill.
type CreateInvoiceInput struct {
	SupplierID  string
	SupplierRef string
	LocationID  string
	Currency    string
	PaymentMode posting.PaymentMode
	InvoiceDate time.Time
	DueDate     time.Time
	Lines       []PurchaseInvoiceLine
}

// CreatePurchaseInvoice stores a DRAFT bill. DueDate defaults to
// PaymentTermDays after the invoice date.
func (s *Service) CreatePurchaseInvoice(ctx context.Context, in CreateInvoiceInput) (PurchaseInvoice, error) {
	if in.SupplierID == "" {
		return PurchaseInvoice{}, shared.Invalid("supplier_id", "required")
	}
	if in.PaymentMode != "" && !in.PaymentMode.Valid() {
		return PurchaseInvoice{}, shared.Invalid("payment_mode", "unknown mode %q", in.PaymentMode)
	}
	if len(in.Lines) == 0 {
		return PurchaseInvoice{}, shared.Invalid("lines", "minimal 1 line")
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return PurchaseInvoice{}, shared.Invalid("item_id", "line %d: required", i+1)
		}
		if !line.Qty.IsPositive() {
			return PurchaseInvoice{}, shared.Invalid("qty", "line %d: must be positive", i+1)
		}
		if line.UnitCost.IsNegative() || line.TaxAmount.IsNegative() {
			return PurchaseInvoice{}, shared.Invalid("unit_cost", "line %d: must not be negative", i+1)
		}
	}
	now := s.now().UTC()
	inv := PurchaseInvoice{
		ID: uuid.New(), SupplierID: in.SupplierID, SupplierRef: in.SupplierRef, LocationID: in.LocationID,
		Currency: in.Currency, PaymentMode: in.PaymentMode, Status: InvoiceStatusDraft,
		InvoiceDate: defaultTime(in.InvoiceDate, now), Lines: in.Lines, PaidAmount: decimal.Zero, CreatedAt: now,
	}
	inv.DueDate = defaultTime(in.DueDate, inv.InvoiceDate.AddDate(0, 0, PaymentTermDays))
	inv.recalc()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.KindPurchaseInvoice)
		if err != nil {
			return err
		}
		inv.Number = number
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "pinv.create", "purchase_invoice", inv.ID, map[string]any{"number": inv.Number, "total": inv.Total.String()})
	return inv, nil
}

// PostPurchaseInvoice books a DRAFT bill. Bills paid on the spot are settled
// immediately.
func (s *Service) PostPurchaseInvoice(ctx context.Context, id uuid.UUID) (PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.IsPosted {
			return &shared.AlreadyPostedError{Entity: "purchase invoice", Number: inv.Number}
		}
		if inv.Status != InvoiceStatusDraft {
			return shared.InvalidTransition("purchase invoice", string(inv.Status), string(InvoiceStatusPosted), string(InvoiceStatusDraft))
		}
		res, err := s.posting.PostPurchaseInvoice(ctx, invoiceEvent(inv, shared.ActorFromContext(ctx)))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		inv.Status = InvoiceStatusPosted
		inv.IsPosted = true
		inv.JournalIDs = res.JournalIDs()
		inv.PostedAt = &now
		if inv.PaymentMode != "" && inv.PaymentMode != posting.PaymentCredit {
			inv.PaidAmount = inv.Total
			inv.Status = InvoiceStatusPaid
		}
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.logger.Info("purchase invoice posted", slog.String("invoice", inv.Number), slog.String("total", inv.Total.StringFixed(2)))
	s.recordAudit(ctx, "pinv.post", "purchase_invoice", inv.ID, map[string]any{"number": inv.Number})
	return inv, nil
}

// CancelPurchaseInvoice cancels a DRAFT bill.
func (s *Service) CancelPurchaseInvoice(ctx context.Context, id uuid.UUID) (PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return shared.InvalidTransition("purchase invoice", string(inv.Status), string(InvoiceStatusCancelled), string(InvoiceStatusDraft))
		}
		inv.Status = InvoiceStatusCancelled
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "pinv.cancel", "purchase_invoice", inv.ID, map[string]any{"number": inv.Number})
	return inv, nil
}

// GetPurchaseInvoice loads a bill.
func (s *Service) GetPurchaseInvoice(ctx context.Context, id uuid.UUID) (PurchaseInvoice, error) {
	var inv PurchaseInvoice
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	return inv, err
}

// CreateReturnInput describes goods going back to a supplier. With GRNID the
// supplier, location and missing unit costs come from the receipt.
type CreateReturnInput struct {
	SupplierID string
	GRNID      uuid.UUID
	LocationID string
	Currency   string
	Reason     string
	ReturnDate time.Time
	Lines      []ReturnLine
}

// CreatePurchaseReturn stores a DRAFT return.
func (s *Service) CreatePurchaseReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error) {
	if len(in.Lines) == 0 {
		return PurchaseReturn{}, shared.Invalid("lines", "minimal 1 line")
	}
	var ret PurchaseReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now().UTC()
		ret = PurchaseReturn{
			ID: uuid.New(), SupplierID: in.SupplierID, GRNID: in.GRNID, LocationID: in.LocationID,
			Currency: in.Currency, Status: ReturnStatusDraft, Reason: in.Reason,
			ReturnDate: defaultTime(in.ReturnDate, now), CreatedAt: now,
		}
		var grn *GoodsReceipt
		if in.GRNID != uuid.Nil {
			found, err := tx.GetReceipt(ctx, in.GRNID)
			if err != nil {
				return err
			}
			if found.Status != GRNStatusConfirmed {
				return shared.InvalidTransition("goods receipt", string(found.Status), "RETURN", string(GRNStatusConfirmed))
			}
			po, err := tx.GetOrder(ctx, found.POID)
			if err != nil {
				return err
			}
			grn = &found
			ret.SupplierID = found.SupplierID
			ret.LocationID = defaultString(ret.LocationID, found.LocationID)
			ret.Currency = defaultString(ret.Currency, po.Currency)
		}
		if ret.SupplierID == "" {
			return shared.Invalid("supplier_id", "required")
		}
		if ret.LocationID == "" {
			return shared.Invalid("location_id", "required")
		}
		returned, err := returnedQty(ctx, tx, in.GRNID)
		if err != nil {
			return err
		}
		for i, line := range in.Lines {
			if line.ItemID == "" {
				return shared.Invalid("item_id", "line %d: required", i+1)
			}
			if !line.Qty.IsPositive() {
				return shared.Invalid("qty", "line %d: must be positive", i+1)
			}
			if line.UnitCost.IsNegative() {
				return shared.Invalid("unit_cost", "line %d: must not be negative", i+1)
			}
			if grn != nil {
				qty, cost := grn.received(line.ItemID)
				left := qty.Sub(returned[line.ItemID])
				if line.Qty.GreaterThan(left) {
					return shared.Invalid("qty", "line %d: %s exceeds %s returnable on %s", i+1, line.Qty, left, grn.Number)
				}
				if line.UnitCost.IsZero() {
					line.UnitCost = cost
				}
				returned[line.ItemID] = returned[line.ItemID].Add(line.Qty)
			}
			ret.Lines = append(ret.Lines, line)
		}
		ret.recalc()
		number, err := tx.NextNumber(ctx, shared.KindPurchaseReturn)
		if err != nil {
			return err
		}
		ret.Number = number
		return tx.PutReturn(ctx, ret)
	})
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.recordAudit(ctx, "prtn.create", "purchase_return", ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// returnedQty sums the quantities already returned against grnID by returns
// that are not cancelled.
func returnedQty(ctx context.Context, tx TxRepository, grnID uuid.UUID) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	if grnID == uuid.Nil {
		return out, nil
	}
	returns, err := tx.ListReturns(ctx)
	if err != nil {
		return nil, err
	}
	for _, ret := range returns {
		if ret.GRNID != grnID || ret.Status == ReturnStatusCancelled {
			continue
		}
		for _, line := range ret.Lines {
			out[line.ItemID] = out[line.ItemID].Add(line.Qty)
		}
	}
	return out, nil
}

// ApprovePurchaseReturn moves a DRAFT return to APPROVED.
func (s *Service) ApprovePurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	return s.transitionReturn(ctx, id, ReturnStatusApproved, "prtn.approve", ReturnStatusDraft)
}

// CancelPurchaseReturn cancels a return that is not yet processed.
func (s *Service) CancelPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	return s.transitionReturn(ctx, id, ReturnStatusCancelled, "prtn.cancel", ReturnStatusDraft, ReturnStatusApproved)
}

func (s *Service) transitionReturn(ctx context.Context, id uuid.UUID, to ReturnStatus, action string, from ...ReturnStatus) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, ret.Status) {
			return shared.InvalidTransition("purchase return", string(ret.Status), string(to), returnStatusNames(from)...)
		}
		ret.Status = to
		return tx.PutReturn(ctx, ret)
	})
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.recordAudit(ctx, action, "purchase_return", ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// ProcessPurchaseReturn posts an APPROVED return: stock out, DR AP / CR
// inventory.
func (s *Service) ProcessPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if ret.IsPosted {
			return &shared.AlreadyPostedError{Entity: "purchase return", Number: ret.Number}
		}
		if ret.Status != ReturnStatusApproved {
			return shared.InvalidTransition("purchase return", string(ret.Status), string(ReturnStatusProcessed), string(ReturnStatusApproved))
		}
		res, err := s.posting.PostPurchaseReturn(ctx, returnEvent(ret, shared.ActorFromContext(ctx)))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		ret.Status = ReturnStatusProcessed
		ret.IsPosted = true
		ret.JournalIDs = res.JournalIDs()
		ret.Total = shared.Round2(res.StockCost())
		ret.ProcessedAt = &now
		return tx.PutReturn(ctx, ret)
	})
	if err != nil {
		return PurchaseReturn{}, err
	}
	s.logger.Info("purchase return processed", slog.String("return", ret.Number), slog.String("total", ret.Total.StringFixed(2)))
	s.recordAudit(ctx, "prtn.process", "purchase_return", ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// GetPurchaseReturn loads a return.
func (s *Service) GetPurchaseReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	var ret PurchaseReturn
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		return err
	})
	return ret, err
}

// APAging buckets outstanding posted bills and pending order payments by
// days past due as of asOf.
func (s *Service) APAging(ctx context.Context, asOf time.Time) (APAging, error) {
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	aging := APAging{AsOf: asOf, BySupplier: map[string]shared.AgingBucket{}}
	add := func(supplier string, due time.Time, amount decimal.Decimal) {
		days := shared.DaysPastDue(asOf, due)
		aging.Totals.Add(days, amount)
		bucket := aging.BySupplier[supplier]
		bucket.Add(days, amount)
		aging.BySupplier[supplier] = bucket
	}
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		invoices, err := tx.ListInvoices(ctx)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if inv.Status != InvoiceStatusPosted || shared.NearlyZero(inv.Outstanding()) {
				continue
			}
			add(inv.SupplierID, inv.DueDate, inv.Outstanding())
		}
		payments, err := tx.ListPayments(ctx)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status != PaymentStatusPending || p.InvoiceID != uuid.Nil {
				continue
			}
			add(p.SupplierID, p.DueDate, p.Amount)
		}
		return nil
	})
	if err != nil {
		return APAging{}, err
	}
	return aging, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: id.String(), Meta: meta, At: s.now().UTC()}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func returnStatusNames(set []ReturnStatus) []string {
	out := make([]string, len(set))
	for i, status := range set {
		out[i] = string(status)
	}
	return out
}

func defaultTime(v, fallback time.Time) time.Time {
	if v.IsZero() {
		return fallback
	}
	return v
}

func derefTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return *v
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
