package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// PaymentTermDays is the default credit term of sales invoices.
const PaymentTermDays = 30

// ============================================================================
// SALES ORDER
// ============================================================================

// SalesOrderStatus enumerates sales order states.
type SalesOrderStatus string

const (
	SOStatusDraft              SalesOrderStatus = "DRAFT"
	SOStatusConfirmed          SalesOrderStatus = "CONFIRMED"
	SOStatusPartiallyDelivered SalesOrderStatus = "PARTIALLY_DELIVERED"
	SOStatusDelivered          SalesOrderStatus = "DELIVERED"
	SOStatusInvoiced           SalesOrderStatus = "INVOICED"
	SOStatusClosed             SalesOrderStatus = "CLOSED"
	SOStatusCancelled          SalesOrderStatus = "CANCELLED"
)

// SalesOrder is a customer order shipped from one location.
type SalesOrder struct {
	ID                 uuid.UUID           `json:"id"`
	Number             string              `json:"number"`
	CustomerID         string              `json:"customer_id"`
	LocationID         string              `json:"location_id"`
	Currency           string              `json:"currency,omitempty"`
	PaymentMode        posting.PaymentMode `json:"payment_mode,omitempty"`
	Status             SalesOrderStatus    `json:"status"`
	OrderDate          time.Time           `json:"order_date"`
	ExpectedDate       time.Time           `json:"expected_date,omitempty"`
	Note               string              `json:"note,omitempty"`
	Lines              []SalesOrderLine    `json:"lines"`
	Subtotal           decimal.Decimal     `json:"subtotal"`
	TaxTotal           decimal.Decimal     `json:"tax_total"`
	Total              decimal.Decimal     `json:"total"`
	InvoiceIDs         []uuid.UUID         `json:"invoice_ids,omitempty"`
	ProductionOrderIDs []uuid.UUID         `json:"production_order_ids,omitempty"`
	CreatedBy          string              `json:"created_by"`
	ConfirmedAt        *time.Time          `json:"confirmed_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// SalesOrderLine is one ordered item.
type SalesOrderLine struct {
	LineNo       int             `json:"line_no"`
	ItemID       string          `json:"item_id"`
	Qty          decimal.Decimal `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	DeliveredQty decimal.Decimal `json:"delivered_qty"`
}

// Amount returns Qty × UnitPrice − Discount.
func (l SalesOrderLine) Amount() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice).Sub(l.Discount)
}

// Outstanding returns the quantity still to be delivered.
func (l SalesOrderLine) Outstanding() decimal.Decimal {
	rest := l.Qty.Sub(l.DeliveredQty)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

func (so *SalesOrder) recalc() {
	so.Subtotal, so.TaxTotal = decimal.Zero, decimal.Zero
	for _, line := range so.Lines {
		so.Subtotal = so.Subtotal.Add(shared.Round2(line.Amount()))
		so.TaxTotal = so.TaxTotal.Add(shared.Round2(line.TaxAmount))
	}
	so.Total = so.Subtotal.Add(so.TaxTotal)
}

func (so SalesOrder) line(no int) (SalesOrderLine, bool) {
	for _, line := range so.Lines {
		if line.LineNo == no {
			return line, true
		}
	}
	return SalesOrderLine{}, false
}

func (so SalesOrder) anyDelivered() bool {
	for _, line := range so.Lines {
		if line.DeliveredQty.IsPositive() {
			return true
		}
	}
	return false
}

func (so SalesOrder) fullyDelivered() bool {
	for _, line := range so.Lines {
		if line.Outstanding().IsPositive() {
			return false
		}
	}
	return true
}

// ============================================================================
// SALES INVOICE
// ============================================================================

// InvoiceStatus enumerates sales invoice states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPosted    InvoiceStatus = "POSTED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// SalesInvoice bills delivered goods. Invoices raised by a sales order carry
// SOID and reference order lines by LineNo.
type SalesInvoice struct {
	ID          uuid.UUID           `json:"id"`
	Number      string              `json:"number"`
	SOID        uuid.UUID           `json:"so_id,omitempty"`
	SONumber    string              `json:"so_number,omitempty"`
	CustomerID  string              `json:"customer_id"`
	LocationID  string              `json:"location_id"`
	Currency    string              `json:"currency,omitempty"`
	PaymentMode posting.PaymentMode `json:"payment_mode,omitempty"`
	Status      InvoiceStatus       `json:"status"`
	InvoiceDate time.Time           `json:"invoice_date"`
	DueDate     time.Time           `json:"due_date"`
	Lines       []InvoiceLine       `json:"lines"`
	Subtotal    decimal.Decimal     `json:"subtotal"`
	TaxTotal    decimal.Decimal     `json:"tax_total"`
	Total       decimal.Decimal     `json:"total"`
	PaidAmount  decimal.Decimal     `json:"paid_amount"`
	Credited    decimal.Decimal     `json:"credited"`
	COGS        decimal.Decimal     `json:"cogs"`
	IsPosted    bool                `json:"is_posted"`
	JournalIDs  []uuid.UUID         `json:"journal_ids,omitempty"`
	PostedAt    *time.Time          `json:"posted_at,omitempty"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

// InvoiceLine is one billed line. Lots and UnitCost are filled on posting.
type InvoiceLine struct {
	LineNo    int                       `json:"line_no"`
	ItemID    string                    `json:"item_id"`
	Qty       decimal.Decimal           `json:"qty"`
	UnitPrice decimal.Decimal           `json:"unit_price"`
	Discount  decimal.Decimal           `json:"discount"`
	TaxAmount decimal.Decimal           `json:"tax_amount"`
	UnitCost  decimal.Decimal           `json:"unit_cost"`
	Lots      []inventory.LotAllocation `json:"lots,omitempty"`
}

// Amount returns Qty × UnitPrice − Discount.
func (l InvoiceLine) Amount() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice).Sub(l.Discount)
}

// Outstanding returns Total less receipts and credited returns.
func (inv SalesInvoice) Outstanding() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount).Sub(inv.Credited)
}

func (inv *SalesInvoice) recalc() {
	inv.Subtotal, inv.TaxTotal = decimal.Zero, decimal.Zero
	for _, line := range inv.Lines {
		inv.Subtotal = inv.Subtotal.Add(shared.Round2(line.Amount()))
		inv.TaxTotal = inv.TaxTotal.Add(shared.Round2(line.TaxAmount))
	}
	inv.Total = inv.Subtotal.Add(inv.TaxTotal)
}

// billed aggregates the invoice lines of one item.
type billed struct {
	qty       decimal.Decimal
	unitPrice decimal.Decimal
	unitCost  decimal.Decimal
	tax       decimal.Decimal
}

func (inv SalesInvoice) billedFor(itemID string) billed {
	var out billed
	amount, cost := decimal.Zero, decimal.Zero
	for _, line := range inv.Lines {
		if line.ItemID != itemID {
			continue
		}
		out.qty = out.qty.Add(line.Qty)
		out.tax = out.tax.Add(line.TaxAmount)
		amount = amount.Add(line.Amount())
		cost = cost.Add(line.Qty.Mul(line.UnitCost))
	}
	if out.qty.IsPositive() {
		out.unitPrice = amount.Div(out.qty).Round(6)
		out.unitCost = cost.Div(out.qty).Round(6)
	}
	return out
}

// ============================================================================
// CUSTOMER RECEIPT
// ============================================================================

// CustomerReceipt is money received from a customer. Receipts are posted
// when recorded.
type CustomerReceipt struct {
	ID          uuid.UUID           `json:"id"`
	Number      string              `json:"number"`
	CustomerID  string              `json:"customer_id"`
	InvoiceID   uuid.UUID           `json:"invoice_id,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Amount      decimal.Decimal     `json:"amount"`
	PaymentMode posting.PaymentMode `json:"payment_mode"`
	ReceivedAt  time.Time           `json:"received_at"`
	Note        string              `json:"note,omitempty"`
	JournalIDs  []uuid.UUID         `json:"journal_ids,omitempty"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ============================================================================
// SALES RETURN
// ============================================================================

// ReturnStatus enumerates sales return states.
type ReturnStatus string

const (
	ReturnStatusDraft     ReturnStatus = "DRAFT"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusProcessed ReturnStatus = "PROCESSED"
	ReturnStatusCancelled ReturnStatus = "CANCELLED"
)

// SalesReturn takes goods back from a customer and credits them.
type SalesReturn struct {
	ID          uuid.UUID           `json:"id"`
	Number      string              `json:"number"`
	InvoiceID   uuid.UUID           `json:"invoice_id,omitempty"`
	CustomerID  string              `json:"customer_id"`
	LocationID  string              `json:"location_id"`
	Currency    string              `json:"currency,omitempty"`
	PaymentMode posting.PaymentMode `json:"payment_mode,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Status      ReturnStatus        `json:"status"`
	ReturnDate  time.Time           `json:"return_date"`
	Lines       []ReturnLine        `json:"lines"`
	Subtotal    decimal.Decimal     `json:"subtotal"`
	TaxTotal    decimal.Decimal     `json:"tax_total"`
	Total       decimal.Decimal     `json:"total"`
	IsPosted    bool                `json:"is_posted"`
	JournalIDs  []uuid.UUID         `json:"journal_ids,omitempty"`
	ProcessedAt *time.Time          `json:"processed_at,omitempty"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ReturnLine is one returned item. A zero UnitCost restocks at the cost the
// invoice shipped at, then at the current average.
type ReturnLine struct {
	ItemID    string          `json:"item_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	BatchNo   string          `json:"batch_no,omitempty"`
	SerialNo  string          `json:"serial_no,omitempty"`
}

func (ret *SalesReturn) recalc() {
	ret.Subtotal, ret.TaxTotal = decimal.Zero, decimal.Zero
	for _, line := range ret.Lines {
		ret.Subtotal = ret.Subtotal.Add(shared.Round2(line.Qty.Mul(line.UnitPrice)))
		ret.TaxTotal = ret.TaxTotal.Add(shared.Round2(line.TaxAmount))
	}
	ret.Total = ret.Subtotal.Add(ret.TaxTotal)
}

// ============================================================================
// REPORTS
// ============================================================================

// ARAging is the receivables aging report with a per-customer breakdown.
type ARAging struct {
	AsOf       time.Time                     `json:"as_of"`
	Totals     shared.AgingBucket            `json:"totals"`
	ByCustomer map[string]shared.AgingBucket `json:"by_customer"`
}
