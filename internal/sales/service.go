package sales

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/production"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PostingPort is the subset of the posting engine sales drives.
type PostingPort interface {
	PostSalesInvoice(ctx context.Context, evt posting.SalesInvoiceEvent) (posting.Result, error)
	PostCustomerReceipt(ctx context.Context, evt posting.PaymentEvent) (posting.Result, error)
	PostSalesReturn(ctx context.Context, evt posting.SalesReturnEvent) (posting.Result, error)
}

// StockPort allocates tracked lots before shipping.
type StockPort interface {
	AllocateBatches(ctx context.Context, itemID, locationID string, qty decimal.Decimal) ([]inventory.LotAllocation, error)
	AllocateSerials(ctx context.Context, itemID, locationID string, qty int) ([]inventory.LotAllocation, error)
}

// ItemPort resolves item kind and tracking.
type ItemPort interface {
	LookupItem(ctx context.Context, id string) (masterdata.Item, error)
}

// ProductionPort raises and withdraws production orders for sales demand.
type ProductionPort interface {
	HasActiveBOM(ctx context.Context, itemID string) (bool, error)
	CreateProductionOrder(ctx context.Context, in production.CreateOrderInput) (production.ProductionOrder, error)
	CancelForSource(ctx context.Context, sourceID uuid.UUID) (int, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates sales flows.
type Service struct {
	repo       RepositoryPort
	posting    PostingPort
	items      ItemPort
	stock      StockPort
	production ProductionPort
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
}

// Deps bundles the collaborators of Service. Production may be nil, in which
// case no item is manufactured to order.
type Deps struct {
	Posting    PostingPort
	Items      ItemPort
	Stock      StockPort
	Production ProductionPort
	Audit      AuditPort
}

// NewService constructs sales service.
func NewService(repo RepositoryPort, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo: repo, posting: deps.Posting, items: deps.Items, stock: deps.Stock,
		production: deps.Production, audit: deps.Audit, logger: logger, now: time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateSOInput describes a sales order.
type CreateSOInput struct {
	CustomerID   string
	LocationID   string
	Currency     string
	PaymentMode  posting.PaymentMode
	OrderDate    time.Time
	ExpectedDate time.Time
	Note         string
	Lines        []SOLineInput
}

// SOLineInput describes an ordered line.
type SOLineInput struct {
	ItemID    string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	TaxAmount decimal.Decimal
}

// Confirmation is the outcome of confirming a sales order.
type Confirmation struct {
	Order            SalesOrder                   `json:"order"`
	Invoice          SalesInvoice                 `json:"invoice"`
	ProductionOrders []production.ProductionOrder `json:"production_orders,omitempty"`
}

// DeliverLineInput ships a quantity of one order line. Lots left empty are
// allocated FEFO for batches and FIFO for serials.
type DeliverLineInput struct {
	LineNo int
	Qty    decimal.Decimal
	Lots   []inventory.LotAllocation
}

// DeliverInput describes a delivery. Without lines every outstanding
// quantity ships.
type DeliverInput struct {
	DeliveredAt time.Time
	Lines       []DeliverLineInput
}

// Delivery is the outcome of a delivery.
type Delivery struct {
	Order   SalesOrder   `json:"order"`
	Invoice SalesInvoice `json:"invoice"`
}

// CreateSalesOrder validates and stores a DRAFT sales order.
func (s *Service) CreateSalesOrder(ctx context.Context, in CreateSOInput) (SalesOrder, error) {
	if in.CustomerID == "" {
		return SalesOrder{}, shared.Invalid("customer_id", "required")
	}
	if in.LocationID == "" {
		return SalesOrder{}, shared.Invalid("location_id", "required")
	}
	if in.PaymentMode != "" && !in.PaymentMode.Valid() {
		return SalesOrder{}, shared.Invalid("payment_mode", "unknown mode %q", in.PaymentMode)
	}
	if len(in.Lines) == 0 {
		return SalesOrder{}, shared.Invalid("lines", "minimal 1 line")
	}
	now := s.now().UTC()
	so := SalesOrder{
		ID: uuid.New(), CustomerID: in.CustomerID, LocationID: in.LocationID, Currency: in.Currency,
		PaymentMode: in.PaymentMode, Status: SOStatusDraft, OrderDate: defaultTime(in.OrderDate, now),
		ExpectedDate: in.ExpectedDate, Note: in.Note, CreatedBy: shared.ActorFromContext(ctx),
		CreatedAt: now, UpdatedAt: now,
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return SalesOrder{}, shared.Invalid("item_id", "line %d: required", i+1)
		}
		if !line.Qty.IsPositive() {
			return SalesOrder{}, shared.Invalid("qty", "line %d: must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() || line.TaxAmount.IsNegative() {
			return SalesOrder{}, shared.Invalid("unit_price", "line %d: must not be negative", i+1)
		}
		if line.Discount.GreaterThan(line.Qty.Mul(line.UnitPrice)) {
			return SalesOrder{}, shared.Invalid("discount", "line %d: exceeds the line amount", i+1)
		}
		so.Lines = append(so.Lines, SalesOrderLine{
			LineNo: i + 1, ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice,
			Discount: line.Discount, TaxAmount: line.TaxAmount, DeliveredQty: decimal.Zero,
		})
	}
	so.recalc()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.KindSalesOrder)
		if err != nil {
			return err
		}
		so.Number = number
		return tx.PutOrder(ctx, so)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.logger.Info("sales order created", slog.String("so", so.Number), slog.String("customer", so.CustomerID))
	s.recordAudit(ctx, "so.create", "sales_order", so.ID, map[string]any{"number": so.Number, "total": so.Total.StringFixed(2)})
	return so, nil
}

// ConfirmSalesOrder confirms a DRAFT order. In the same transaction it raises
// a production order for every line whose item has an active BOM and the
// DRAFT invoice for the whole order.
func (s *Service) ConfirmSalesOrder(ctx context.Context, id uuid.UUID) (Confirmation, error) {
	var out Confirmation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if so.Status != SOStatusDraft {
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusConfirmed), string(SOStatusDraft))
		}
		for _, line := range so.Lines {
			order, planned, err := s.planProduction(ctx, so, line)
			if err != nil {
				return err
			}
			if planned {
				so.ProductionOrderIDs = append(so.ProductionOrderIDs, order.ID)
				out.ProductionOrders = append(out.ProductionOrders, order)
			}
		}

		now := s.now().UTC()
		lines := make([]InvoiceLine, 0, len(so.Lines))
		for _, line := range so.Lines {
			lines = append(lines, invoiceLine(line, line.Qty, nil))
		}
		inv, err := s.newInvoice(ctx, tx, so, lines, now)
		if err != nil {
			return err
		}
		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		out.Invoice = inv

		so.InvoiceIDs = append(so.InvoiceIDs, inv.ID)
		so.Status = SOStatusConfirmed
		so.ConfirmedAt = &now
		so.UpdatedAt = now
		out.Order = so
		return tx.PutOrder(ctx, so)
	})
	if err != nil {
		return Confirmation{}, err
	}
	s.logger.Info("sales order confirmed",
		slog.String("so", out.Order.Number),
		slog.String("invoice", out.Invoice.Number),
		slog.Int("production_orders", len(out.ProductionOrders)),
	)
	s.recordAudit(ctx, "so.confirm", "sales_order", out.Order.ID, map[string]any{"number": out.Order.Number, "invoice": out.Invoice.Number})
	return out, nil
}

// planProduction raises a production order for line when its item has an
// active BOM. Finished goods without one cannot be sold to order.
func (s *Service) planProduction(ctx context.Context, so SalesOrder, line SalesOrderLine) (production.ProductionOrder, bool, error) {
	item, err := s.items.LookupItem(ctx, line.ItemID)
	if err != nil {
		return production.ProductionOrder{}, false, err
	}
	manufactured := false
	if s.production != nil {
		if manufactured, err = s.production.HasActiveBOM(ctx, line.ItemID); err != nil {
			return production.ProductionOrder{}, false, err
		}
	}
	if !manufactured {
		if item.Kind == masterdata.ItemKindFinishedGood {
			return production.ProductionOrder{}, false, &shared.NoActiveBOMError{ItemID: line.ItemID}
		}
		return production.ProductionOrder{}, false, nil
	}
	order, err := s.production.CreateProductionOrder(ctx, production.CreateOrderInput{
		ItemID: line.ItemID, LocationID: so.LocationID, Qty: line.Qty, PlannedDate: so.ExpectedDate,
		SourceID: so.ID, SourceNo: so.Number,
	})
	return order, err == nil, err
}

// DeliverSalesOrder ships order lines and posts their invoice: the DRAFT
// invoice raised on confirmation, or a new one for later deliveries.
func (s *Service) DeliverSalesOrder(ctx context.Context, id uuid.UUID, in DeliverInput) (Delivery, error) {
	var out Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if so.Status != SOStatusConfirmed && so.Status != SOStatusPartiallyDelivered {
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusDelivered), string(SOStatusConfirmed), string(SOStatusPartiallyDelivered))
		}
		lines, err := deliveryLines(so, in.Lines)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		date := defaultTime(in.DeliveredAt, now)

		inv, found, err := draftInvoice(ctx, tx, so.ID)
		if err != nil {
			return err
		}
		if !found {
			if inv, err = s.newInvoice(ctx, tx, so, nil, date); err != nil {
				return err
			}
			so.InvoiceIDs = append(so.InvoiceIDs, inv.ID)
		}
		inv.Lines = lines
		inv.InvoiceDate = date
		inv.DueDate = date.AddDate(0, 0, PaymentTermDays)
		inv.recalc()

		if err := s.postInvoice(ctx, tx, &inv, &so); err != nil {
			return err
		}
		out = Delivery{Order: so, Invoice: inv}
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.logger.Info("sales order delivered", slog.String("so", out.Order.Number), slog.String("invoice", out.Invoice.Number), slog.String("status", string(out.Order.Status)))
	s.recordAudit(ctx, "so.deliver", "sales_order", out.Order.ID, map[string]any{"number": out.Order.Number, "invoice": out.Invoice.Number})
	return out, nil
}

func deliveryLines(so SalesOrder, in []DeliverLineInput) ([]InvoiceLine, error) {
	var out []InvoiceLine
	if len(in) == 0 {
		for _, line := range so.Lines {
			if qty := line.Outstanding(); qty.IsPositive() {
				out = append(out, invoiceLine(line, qty, nil))
			}
		}
		if len(out) == 0 {
			return nil, shared.Invalid("lines", "%s has nothing left to deliver", so.Number)
		}
		return out, nil
	}
	for _, req := range in {
		line, ok := so.line(req.LineNo)
		if !ok {
			return nil, shared.Invalid("line_no", "%s has no line %d", so.Number, req.LineNo)
		}
		if !req.Qty.IsPositive() {
			return nil, shared.Invalid("qty", "line %d: must be positive", req.LineNo)
		}
		if req.Qty.GreaterThan(line.Outstanding()) {
			return nil, shared.Invalid("qty", "line %d: %s exceeds outstanding %s", req.LineNo, req.Qty, line.Outstanding())
		}
		out = append(out, invoiceLine(line, req.Qty, req.Lots))
	}
	return out, nil
}

// invoiceLine bills qty of an order line with its discount and tax pro rata.
func invoiceLine(line SalesOrderLine, qty decimal.Decimal, lots []inventory.LotAllocation) InvoiceLine {
	out := InvoiceLine{
		LineNo: line.LineNo, ItemID: line.ItemID, Qty: qty, UnitPrice: line.UnitPrice,
		Discount: line.Discount, TaxAmount: line.TaxAmount, Lots: lots,
	}
	if !qty.Equal(line.Qty) {
		out.Discount = shared.Round2(line.Discount.Mul(qty).Div(line.Qty))
		out.TaxAmount = shared.Round2(line.TaxAmount.Mul(qty).Div(line.Qty))
	}
	return out
}

func draftInvoice(ctx context.Context, tx TxRepository, soID uuid.UUID) (SalesInvoice, bool, error) {
	invoices, err := tx.ListInvoices(ctx, soID)
	if err != nil {
		return SalesInvoice{}, false, err
	}
	for _, inv := range invoices {
		if inv.Status == InvoiceStatusDraft {
			return inv, true, nil
		}
	}
	return SalesInvoice{}, false, nil
}

func (s *Service) newInvoice(ctx context.Context, tx TxRepository, so SalesOrder, lines []InvoiceLine, date time.Time) (SalesInvoice, error) {
	number, err := tx.NextNumber(ctx, shared.KindSalesInvoice)
	if err != nil {
		return SalesInvoice{}, err
	}
	inv := SalesInvoice{
		ID: uuid.New(), Number: number, SOID: so.ID, SONumber: so.Number, CustomerID: so.CustomerID,
		LocationID: so.LocationID, Currency: so.Currency, PaymentMode: so.PaymentMode, Status: InvoiceStatusDraft,
		InvoiceDate: date, DueDate: date.AddDate(0, 0, PaymentTermDays), Lines: lines,
		PaidAmount: decimal.Zero, Credited: decimal.Zero, CreatedBy: shared.ActorFromContext(ctx), CreatedAt: s.now().UTC(),
	}
	inv.recalc()
	return inv, nil
}

// postInvoice allocates lots, posts inv and, for order invoices, advances the
// delivered quantities and status of so.
func (s *Service) postInvoice(ctx context.Context, tx TxRepository, inv *SalesInvoice, so *SalesOrder) error {
	if inv.IsPosted {
		return &shared.AlreadyPostedError{Entity: "sales invoice", Number: inv.Number}
	}
	if inv.Status != InvoiceStatusDraft {
		return shared.InvalidTransition("sales invoice", string(inv.Status), string(InvoiceStatusPosted), string(InvoiceStatusDraft))
	}
	if len(inv.Lines) == 0 {
		return shared.Invalid("lines", "%s has no lines", inv.Number)
	}
	if so != nil {
		perLine := make(map[int]decimal.Decimal, len(inv.Lines))
		for _, line := range inv.Lines {
			soLine, ok := so.line(line.LineNo)
			if !ok {
				return shared.Invalid("line_no", "%s has no line %d", so.Number, line.LineNo)
			}
			perLine[line.LineNo] = perLine[line.LineNo].Add(line.Qty)
			if total := perLine[line.LineNo]; total.GreaterThan(soLine.Outstanding()) {
				return shared.Invalid("qty", "line %d: %s exceeds outstanding %s", line.LineNo, total, soLine.Outstanding())
			}
		}
	}
	allocated := map[string]decimal.Decimal{}
	for i := range inv.Lines {
		line := &inv.Lines[i]
		if err := s.allocate(ctx, inv.LocationID, line, allocated[line.ItemID]); err != nil {
			return err
		}
		allocated[line.ItemID] = allocated[line.ItemID].Add(line.Qty)
	}

	res, err := s.posting.PostSalesInvoice(ctx, invoiceEvent(*inv, shared.ActorFromContext(ctx)))
	if err != nil {
		return err
	}
	applyLineCosts(inv.Lines, res.StockEntries)
	now := s.now().UTC()
	inv.IsPosted = true
	inv.Status = InvoiceStatusPosted
	inv.JournalIDs = res.JournalIDs()
	inv.COGS = res.StockCost()
	inv.PostedAt = &now
	if settlesOnPosting(inv.PaymentMode) {
		inv.PaidAmount = inv.Total
		inv.Status = InvoiceStatusPaid
	}
	if err := tx.PutInvoice(ctx, *inv); err != nil {
		return err
	}
	if so == nil {
		return nil
	}

	for _, line := range inv.Lines {
		for i := range so.Lines {
			if so.Lines[i].LineNo == line.LineNo {
				so.Lines[i].DeliveredQty = so.Lines[i].DeliveredQty.Add(line.Qty)
			}
		}
	}
	if so.fullyDelivered() {
		so.Status = SOStatusDelivered
	} else {
		so.Status = SOStatusPartiallyDelivered
	}
	if !slices.Contains(so.InvoiceIDs, inv.ID) {
		so.InvoiceIDs = append(so.InvoiceIDs, inv.ID)
	}
	so.UpdatedAt = now
	return tx.PutOrder(ctx, *so)
}

// applyLineCosts sets each line's unit cost from its own stock entries. The
// engine issues lines in order, so a line's entries are contiguous.
func applyLineCosts(lines []InvoiceLine, entries []inventory.StockLedgerEntry) {
	next := 0
	for i := range lines {
		line := &lines[i]
		qty, cost := decimal.Zero, decimal.Zero
		for next < len(entries) && entries[next].ItemID == line.ItemID && qty.LessThan(line.Qty) {
			qty = qty.Add(entries[next].QtyOut)
			cost = cost.Add(entries[next].TotalCost)
			next++
		}
		if qty.IsPositive() {
			line.UnitCost = cost.Div(qty).Round(6)
		}
	}
}

// allocate picks lots for line. prior is the quantity of the same item taken
// by earlier lines of the invoice, which are not yet written to the ledger.
func (s *Service) allocate(ctx context.Context, locationID string, line *InvoiceLine, prior decimal.Decimal) error {
	if len(line.Lots) > 0 {
		return nil
	}
	item, err := s.items.LookupItem(ctx, line.ItemID)
	if err != nil {
		return err
	}
	if !item.Stocked() {
		return nil
	}
	want := prior.Add(line.Qty)
	var lots []inventory.LotAllocation
	switch item.Tracking {
	case masterdata.TrackingBatch:
		lots, err = s.stock.AllocateBatches(ctx, line.ItemID, locationID, want)
	case masterdata.TrackingSerial:
		if !line.Qty.Equal(line.Qty.Truncate(0)) {
			return shared.Invalid("qty", "serial item %s needs a whole quantity", line.ItemID)
		}
		lots, err = s.stock.AllocateSerials(ctx, line.ItemID, locationID, int(want.IntPart()))
	default:
		return nil
	}
	if err != nil {
		return err
	}
	line.Lots = skipLots(lots, prior)
	return nil
}

// skipLots drops the first qty units from lots, splitting a lot if needed.
func skipLots(lots []inventory.LotAllocation, qty decimal.Decimal) []inventory.LotAllocation {
	out := make([]inventory.LotAllocation, 0, len(lots))
	for _, lot := range lots {
		switch {
		case !qty.IsPositive():
			out = append(out, lot)
		case lot.Qty.LessThanOrEqual(qty):
			qty = qty.Sub(lot.Qty)
		default:
			lot.Qty = lot.Qty.Sub(qty)
			qty = decimal.Zero
			out = append(out, lot)
		}
	}
	return out
}

func settlesOnPosting(mode posting.PaymentMode) bool {
	return mode != "" && mode != posting.PaymentCredit
}

// MarkInvoiced moves a DELIVERED order whose invoices are all posted to
// INVOICED.
func (s *Service) MarkInvoiced(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	var so SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		so, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if so.Status != SOStatusDelivered {
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusInvoiced), string(SOStatusDelivered))
		}
		if _, found, err := draftInvoice(ctx, tx, so.ID); err != nil {
			return err
		} else if found {
			return shared.Invalid("invoices", "%s still has a draft invoice", so.Number)
		}
		so.Status = SOStatusInvoiced
		so.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, so)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, "so.invoiced", "sales_order", so.ID, map[string]any{"number": so.Number})
	return so, nil
}

// CloseSalesOrder closes an INVOICED order.
func (s *Service) CloseSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	var so SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		so, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if so.Status != SOStatusInvoiced {
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusClosed), string(SOStatusInvoiced))
		}
		so.Status = SOStatusClosed
		so.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, so)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.recordAudit(ctx, "so.close", "sales_order", so.ID, map[string]any{"number": so.Number})
	return so, nil
}

// CancelSalesOrder cancels an order with nothing delivered, together with
// its draft invoice and open production orders.
func (s *Service) CancelSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	var so SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		so, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case so.Status != SOStatusDraft && so.Status != SOStatusConfirmed:
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusCancelled), string(SOStatusDraft), string(SOStatusConfirmed))
		case so.anyDelivered():
			return shared.InvalidTransition("sales order", string(SOStatusPartiallyDelivered), string(SOStatusCancelled), string(SOStatusDraft), string(SOStatusConfirmed))
		}
		invoices, err := tx.ListInvoices(ctx, so.ID)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if inv.Status != InvoiceStatusDraft {
				continue
			}
			inv.Status = InvoiceStatusCancelled
			if err := tx.PutInvoice(ctx, inv); err != nil {
				return err
			}
		}
		if s.production != nil && len(so.ProductionOrderIDs) > 0 {
			if _, err := s.production.CancelForSource(ctx, so.ID); err != nil {
				return err
			}
		}
		so.Status = SOStatusCancelled
		so.UpdatedAt = s.now().UTC()
		return tx.PutOrder(ctx, so)
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.logger.Info("sales order cancelled", slog.String("so", so.Number))
	s.recordAudit(ctx, "so.cancel", "sales_order", so.ID, map[string]any{"number": so.Number})
	return so, nil
}

// GetSalesOrder loads a sales order.
func (s *Service) GetSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	var so SalesOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		so, err = tx.GetOrder(ctx, id)
		return err
	})
	return so, err
}

// ListSalesOrders returns every order, optionally filtered by status.
func (s *Service) ListSalesOrders(ctx context.Context, status SalesOrderStatus) ([]SalesOrder, error) {
	var out []SalesOrder
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		orders, err := tx.ListOrders(ctx)
		if err != nil {
			return err
		}
		for _, so := range orders {
			if status == "" || so.Status == status {
				out = append(out, so)
			}
		}
		return nil
	})
	return out, err
}

// InvoiceLineInput describes a line of a direct sales invoice.
type InvoiceLineInput struct {
	ItemID    string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	TaxAmount decimal.Decimal
	Lots      []inventory.LotAllocation
}

// CreateInvoiceInput describes a sales invoice raised without an order.
type CreateInvoiceInput struct {
	CustomerID  string
	LocationID  string
	Currency    string
	PaymentMode posting.PaymentMode
	InvoiceDate time.Time
	DueDate     time.Time
	Lines       []InvoiceLineInput
}

// CreateSalesInvoice stores a DRAFT invoice without a sales order.
func (s *Service) CreateSalesInvoice(ctx context.Context, in CreateInvoiceInput) (SalesInvoice, error) {
	if in.CustomerID == "" {
		return SalesInvoice{}, shared.Invalid("customer_id", "required")
	}
	if in.LocationID == "" {
		return SalesInvoice{}, shared.Invalid("location_id", "required")
	}
	if in.PaymentMode != "" && !in.PaymentMode.Valid() {
		return SalesInvoice{}, shared.Invalid("payment_mode", "unknown mode %q", in.PaymentMode)
	}
	if len(in.Lines) == 0 {
		return SalesInvoice{}, shared.Invalid("lines", "minimal 1 line")
	}
	now := s.now().UTC()
	date := defaultTime(in.InvoiceDate, now)
	inv := SalesInvoice{
		ID: uuid.New(), CustomerID: in.CustomerID, LocationID: in.LocationID, Currency: in.Currency,
		PaymentMode: in.PaymentMode, Status: InvoiceStatusDraft, InvoiceDate: date,
		DueDate: defaultTime(in.DueDate, date.AddDate(0, 0, PaymentTermDays)), PaidAmount: decimal.Zero,
		Credited: decimal.Zero, CreatedBy: shared.ActorFromContext(ctx), CreatedAt: now,
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return SalesInvoice{}, shared.Invalid("item_id", "line %d: required", i+1)
		}
		if !line.Qty.IsPositive() {
			return SalesInvoice{}, shared.Invalid("qty", "line %d: must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() || line.TaxAmount.IsNegative() {
			return SalesInvoice{}, shared.Invalid("unit_price", "line %d: must not be negative", i+1)
		}
		inv.Lines = append(inv.Lines, InvoiceLine{
			LineNo: i + 1, ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice,
			Discount: line.Discount, TaxAmount: line.TaxAmount, Lots: line.Lots,
		})
	}
	inv.recalc()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, shared.KindSalesInvoice)
		if err != nil {
			return err
		}
		inv.Number = number
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return SalesInvoice{}, err
	}
	s.recordAudit(ctx, "inv.create", "sales_invoice", inv.ID, map[string]any{"number": inv.Number, "total": inv.Total.StringFixed(2)})
	return inv, nil
}

// PostSalesInvoice posts a DRAFT invoice once. Order invoices deliver their
// lines against the order.
func (s *Service) PostSalesInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error) {
	var inv SalesInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.SOID == uuid.Nil {
			return s.postInvoice(ctx, tx, &inv, nil)
		}
		so, err := tx.GetOrder(ctx, inv.SOID)
		if err != nil {
			return err
		}
		if !inv.IsPosted && so.Status != SOStatusConfirmed && so.Status != SOStatusPartiallyDelivered {
			return shared.InvalidTransition("sales order", string(so.Status), string(SOStatusDelivered), string(SOStatusConfirmed), string(SOStatusPartiallyDelivered))
		}
		return s.postInvoice(ctx, tx, &inv, &so)
	})
	if err != nil {
		return SalesInvoice{}, err
	}
	s.logger.Info("sales invoice posted", slog.String("invoice", inv.Number), slog.String("total", inv.Total.StringFixed(2)))
	s.recordAudit(ctx, "inv.post", "sales_invoice", inv.ID, map[string]any{"number": inv.Number, "journals": len(inv.JournalIDs)})
	return inv, nil
}

// CancelSalesInvoice cancels a DRAFT invoice.
func (s *Service) CancelSalesInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error) {
	var inv SalesInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusDraft {
			return shared.InvalidTransition("sales invoice", string(inv.Status), string(InvoiceStatusCancelled), string(InvoiceStatusDraft))
		}
		inv.Status = InvoiceStatusCancelled
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return SalesInvoice{}, err
	}
	s.recordAudit(ctx, "inv.cancel", "sales_invoice", inv.ID, map[string]any{"number": inv.Number})
	return inv, nil
}

// GetSalesInvoice loads a sales invoice.
func (s *Service) GetSalesInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error) {
	var inv SalesInvoice
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	return inv, err
}

// ListSalesInvoices returns the invoices of soID, or every invoice.
func (s *Service) ListSalesInvoices(ctx context.Context, soID uuid.UUID) ([]SalesInvoice, error) {
	var out []SalesInvoice
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListInvoices(ctx, soID)
		return err
	})
	return out, err
}

// CreateReceiptInput describes money received. With InvoiceID the receipt
// settles that invoice and defaults customer and currency from it.
type CreateReceiptInput struct {
	CustomerID  string
	InvoiceID   uuid.UUID
	Currency    string
	Amount      decimal.Decimal
	PaymentMode posting.PaymentMode
	ReceivedAt  time.Time
	Note        string
}

// ReceivePayment records and posts a customer receipt.
func (s *Service) ReceivePayment(ctx context.Context, in CreateReceiptInput) (CustomerReceipt, error) {
	if !in.Amount.IsPositive() {
		return CustomerReceipt{}, shared.Invalid("amount", "must be positive")
	}
	mode := in.PaymentMode
	if mode == "" {
		mode = posting.PaymentBank
	}
	if !mode.Valid() || mode == posting.PaymentCredit {
		return CustomerReceipt{}, shared.Invalid("payment_mode", "mode %q cannot settle a receipt", mode)
	}
	now := s.now().UTC()
	rcpt := CustomerReceipt{
		ID: uuid.New(), CustomerID: in.CustomerID, InvoiceID: in.InvoiceID, Currency: in.Currency,
		Amount: shared.Round2(in.Amount), PaymentMode: mode, ReceivedAt: defaultTime(in.ReceivedAt, now),
		Note: in.Note, CreatedBy: shared.ActorFromContext(ctx), CreatedAt: now,
	}
	var inv SalesInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.InvoiceID != uuid.Nil {
			var err error
			inv, err = tx.GetInvoice(ctx, in.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status != InvoiceStatusPosted {
				return shared.InvalidTransition("sales invoice", string(inv.Status), string(InvoiceStatusPaid), string(InvoiceStatusPosted))
			}
			if rcpt.CustomerID != "" && rcpt.CustomerID != inv.CustomerID {
				return shared.Invalid("customer_id", "invoice %s belongs to %s", inv.Number, inv.CustomerID)
			}
			if rcpt.Amount.Sub(inv.Outstanding()).GreaterThan(shared.Epsilon) {
				return shared.Invalid("amount", "%s exceeds outstanding %s on %s", rcpt.Amount, inv.Outstanding().StringFixed(2), inv.Number)
			}
			rcpt.CustomerID = inv.CustomerID
			rcpt.Currency = defaultString(rcpt.Currency, inv.Currency)
		}
		if rcpt.CustomerID == "" {
			return shared.Invalid("customer_id", "required")
		}
		number, err := tx.NextNumber(ctx, shared.KindCustomerReceipt)
		if err != nil {
			return err
		}
		rcpt.Number = number
		res, err := s.posting.PostCustomerReceipt(ctx, receiptEvent(rcpt, rcpt.CreatedBy))
		if err != nil {
			return err
		}
		rcpt.JournalIDs = res.JournalIDs()
		if err := tx.PutReceipt(ctx, rcpt); err != nil {
			return err
		}
		if in.InvoiceID == uuid.Nil {
			return nil
		}
		inv.PaidAmount = inv.PaidAmount.Add(rcpt.Amount)
		if shared.NearlyZero(inv.Outstanding()) {
			inv.Status = InvoiceStatusPaid
		}
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return CustomerReceipt{}, err
	}
	s.logger.Info("customer receipt posted", slog.String("receipt", rcpt.Number), slog.String("amount", rcpt.Amount.StringFixed(2)))
	s.recordAudit(ctx, "rcpt.post", "customer_receipt", rcpt.ID, map[string]any{"number": rcpt.Number, "invoice": inv.Number})
	return rcpt, nil
}

// ListReceipts returns the receipts of invoiceID, or every receipt.
func (s *Service) ListReceipts(ctx context.Context, invoiceID uuid.UUID) ([]CustomerReceipt, error) {
	var out []CustomerReceipt
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		receipts, err := tx.ListReceipts(ctx)
		if err != nil {
			return err
		}
		for _, rcpt := range receipts {
			if invoiceID == uuid.Nil || rcpt.InvoiceID == invoiceID {
				out = append(out, rcpt)
			}
		}
		return nil
	})
	return out, err
}

// CreateReturnInput describes a sales return. With InvoiceID the return is
// checked against the posted invoice and defaults from it.
type CreateReturnInput struct {
	InvoiceID   uuid.UUID
	CustomerID  string
	LocationID  string
	Currency    string
	PaymentMode posting.PaymentMode
	Reason      string
	ReturnDate  time.Time
	Lines       []ReturnLine
}

// CreateSalesReturn stores a DRAFT return.
func (s *Service) CreateSalesReturn(ctx context.Context, in CreateReturnInput) (SalesReturn, error) {
	if len(in.Lines) == 0 {
		return SalesReturn{}, shared.Invalid("lines", "minimal 1 line")
	}
	if in.PaymentMode != "" && !in.PaymentMode.Valid() {
		return SalesReturn{}, shared.Invalid("payment_mode", "unknown mode %q", in.PaymentMode)
	}
	now := s.now().UTC()
	ret := SalesReturn{
		ID: uuid.New(), InvoiceID: in.InvoiceID, CustomerID: in.CustomerID, LocationID: in.LocationID,
		Currency: in.Currency, PaymentMode: in.PaymentMode, Reason: in.Reason, Status: ReturnStatusDraft,
		ReturnDate: defaultTime(in.ReturnDate, now), CreatedBy: shared.ActorFromContext(ctx), CreatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var inv *SalesInvoice
		if in.InvoiceID != uuid.Nil {
			found, err := tx.GetInvoice(ctx, in.InvoiceID)
			if err != nil {
				return err
			}
			if !found.IsPosted {
				return shared.InvalidTransition("sales invoice", string(found.Status), "RETURN", string(InvoiceStatusPosted), string(InvoiceStatusPaid))
			}
			inv = &found
			ret.CustomerID = defaultString(ret.CustomerID, inv.CustomerID)
			ret.LocationID = defaultString(ret.LocationID, inv.LocationID)
			ret.Currency = defaultString(ret.Currency, inv.Currency)
			if ret.PaymentMode == "" {
				ret.PaymentMode = inv.PaymentMode
			}
		}
		if ret.CustomerID == "" {
			return shared.Invalid("customer_id", "required")
		}
		if ret.LocationID == "" {
			return shared.Invalid("location_id", "required")
		}
		returned, err := returnedQty(ctx, tx, in.InvoiceID)
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
			if line.UnitPrice.IsNegative() || line.UnitCost.IsNegative() || line.TaxAmount.IsNegative() {
				return shared.Invalid("unit_price", "line %d: must not be negative", i+1)
			}
			if inv != nil {
				b := inv.billedFor(line.ItemID)
				left := b.qty.Sub(returned[line.ItemID])
				if line.Qty.GreaterThan(left) {
					return shared.Invalid("qty", "line %d: %s exceeds %s returnable on %s", i+1, line.Qty, left, inv.Number)
				}
				if line.UnitPrice.IsZero() {
					line.UnitPrice = b.unitPrice
				}
				if line.UnitCost.IsZero() {
					line.UnitCost = b.unitCost
				}
				if line.TaxAmount.IsZero() && b.qty.IsPositive() {
					line.TaxAmount = shared.Round2(b.tax.Mul(line.Qty).Div(b.qty))
				}
				returned[line.ItemID] = returned[line.ItemID].Add(line.Qty)
			}
			ret.Lines = append(ret.Lines, line)
		}
		ret.recalc()
		number, err := tx.NextNumber(ctx, shared.KindSalesReturn)
		if err != nil {
			return err
		}
		ret.Number = number
		return tx.PutReturn(ctx, ret)
	})
	if err != nil {
		return SalesReturn{}, err
	}
	s.recordAudit(ctx, "srtn.create", "sales_return", ret.ID, map[string]any{"number": ret.Number, "total": ret.Total.StringFixed(2)})
	return ret, nil
}

// returnedQty sums the quantities already returned against invoiceID by
// returns that are not cancelled.
func returnedQty(ctx context.Context, tx TxRepository, invoiceID uuid.UUID) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	if invoiceID == uuid.Nil {
		return out, nil
	}
	returns, err := tx.ListReturns(ctx)
	if err != nil {
		return nil, err
	}
	for _, ret := range returns {
		if ret.InvoiceID != invoiceID || ret.Status == ReturnStatusCancelled {
			continue
		}
		for _, line := range ret.Lines {
			out[line.ItemID] = out[line.ItemID].Add(line.Qty)
		}
	}
	return out, nil
}

// ApproveSalesReturn approves a DRAFT return.
func (s *Service) ApproveSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	return s.transitionReturn(ctx, id, ReturnStatusApproved, "srtn.approve", ReturnStatusDraft)
}

// CancelSalesReturn cancels a return before it is processed.
func (s *Service) CancelSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	return s.transitionReturn(ctx, id, ReturnStatusCancelled, "srtn.cancel", ReturnStatusDraft, ReturnStatusApproved)
}

func (s *Service) transitionReturn(ctx context.Context, id uuid.UUID, to ReturnStatus, action string, from ...ReturnStatus) (SalesReturn, error) {
	var ret SalesReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, ret.Status) {
			return shared.InvalidTransition("sales return", string(ret.Status), string(to), returnStatusNames(from)...)
		}
		ret.Status = to
		return tx.PutReturn(ctx, ret)
	})
	if err != nil {
		return SalesReturn{}, err
	}
	s.recordAudit(ctx, action, "sales_return", ret.ID, map[string]any{"number": ret.Number})
	return ret, nil
}

// ProcessSalesReturn restocks an APPROVED return and posts the credit note
// and the COGS reversal. Credit returns reduce what the invoice still owes.
func (s *Service) ProcessSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	var ret SalesReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if ret.IsPosted {
			return &shared.AlreadyPostedError{Entity: "sales return", Number: ret.Number}
		}
		if ret.Status != ReturnStatusApproved {
			return shared.InvalidTransition("sales return", string(ret.Status), string(ReturnStatusProcessed), string(ReturnStatusApproved))
		}
		res, err := s.posting.PostSalesReturn(ctx, returnEvent(ret, shared.ActorFromContext(ctx)))
		if err != nil {
			return err
		}
		now := s.now().UTC()
		ret.IsPosted = true
		ret.Status = ReturnStatusProcessed
		ret.JournalIDs = res.JournalIDs()
		ret.ProcessedAt = &now
		if err := tx.PutReturn(ctx, ret); err != nil {
			return err
		}
		if ret.InvoiceID == uuid.Nil || settlesOnPosting(ret.PaymentMode) {
			return nil
		}
		inv, err := tx.GetInvoice(ctx, ret.InvoiceID)
		if err != nil {
			return err
		}
		inv.Credited = inv.Credited.Add(ret.Total)
		if inv.Status == InvoiceStatusPosted && !inv.Outstanding().GreaterThan(shared.Epsilon) {
			inv.Status = InvoiceStatusPaid
		}
		return tx.PutInvoice(ctx, inv)
	})
	if err != nil {
		return SalesReturn{}, err
	}
	s.logger.Info("sales return processed", slog.String("return", ret.Number), slog.String("total", ret.Total.StringFixed(2)))
	s.recordAudit(ctx, "srtn.process", "sales_return", ret.ID, map[string]any{"number": ret.Number, "journals": len(ret.JournalIDs)})
	return ret, nil
}

// GetSalesReturn loads a sales return.
func (s *Service) GetSalesReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	var ret SalesReturn
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, id)
		return err
	})
	return ret, err
}

// ARAging buckets the outstanding balance of posted invoices by days past
// due as of asOf.
func (s *Service) ARAging(ctx context.Context, asOf time.Time) (ARAging, error) {
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	aging := ARAging{AsOf: asOf, ByCustomer: map[string]shared.AgingBucket{}}
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		invoices, err := tx.ListInvoices(ctx, uuid.Nil)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			open := inv.Outstanding()
			if inv.Status != InvoiceStatusPosted || !open.GreaterThan(shared.Epsilon) {
				continue
			}
			days := shared.DaysPastDue(asOf, inv.DueDate)
			aging.Totals.Add(days, open)
			bucket := aging.ByCustomer[inv.CustomerID]
			bucket.Add(days, open)
			aging.ByCustomer[inv.CustomerID] = bucket
		}
		return nil
	})
	if err != nil {
		return ARAging{}, err
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

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
