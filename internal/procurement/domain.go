package procurement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusApproved          POStatus = "APPROVED"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusReceived          POStatus = "RECEIVED"
	POStatusClosed            POStatus = "CLOSED"
	POStatusCancelled         POStatus = "CANCELLED"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusConfirmed GRNStatus = "CONFIRMED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

// Supplier payment statuses.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Purchase invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPosted    InvoiceStatus = "POSTED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Purchase return statuses.
type ReturnStatus string

const (
	ReturnStatusDraft     ReturnStatus = "DRAFT"
	ReturnStatusApproved  ReturnStatus = "APPROVED"
	ReturnStatusProcessed ReturnStatus = "PROCESSED"
	ReturnStatusCancelled ReturnStatus = "CANCELLED"
)

// PaymentTermDays is the default due period of payables.
const PaymentTermDays = 30

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID           uuid.UUID           `json:"id"`
	Number       string              `json:"number"`
	SupplierID   string              `json:"supplier_id"`
	LocationID   string              `json:"location_id"`
	Currency     string              `json:"currency"`
	PaymentMode  posting.PaymentMode `json:"payment_mode"`
	Status       POStatus            `json:"status"`
	OrderDate    time.Time           `json:"order_date"`
	ExpectedDate time.Time           `json:"expected_date,omitempty"`
	Note         string              `json:"note,omitempty"`
	Lines        []POLine            `json:"lines"`
	Subtotal     decimal.Decimal     `json:"subtotal"`
	TaxTotal     decimal.Decimal     `json:"tax_total"`
	Total        decimal.Decimal     `json:"total"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ApprovedAt   *time.Time          `json:"approved_at,omitempty"`
}

// POLine represents PO lines.
type POLine struct {
	LineNo      int             `json:"line_no"`
	ItemID      string          `json:"item_id"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

// Outstanding returns the quantity still to receive.
func (l POLine) Outstanding() decimal.Decimal {
	rest := l.Qty.Sub(l.ReceivedQty)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Amount returns Qty × UnitPrice.
func (l POLine) Amount() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice)
}

func (po *PurchaseOrder) recalc() {
	po.Subtotal, po.TaxTotal = decimal.Zero, decimal.Zero
	for _, line := range po.Lines {
		po.Subtotal = po.Subtotal.Add(shared.Round2(line.Amount()))
		po.TaxTotal = po.TaxTotal.Add(shared.Round2(line.TaxAmount))
	}
	po.Total = po.Subtotal.Add(po.TaxTotal)
}

// line returns the PO line with the given number.
func (po *PurchaseOrder) line(no int) (*POLine, bool) {
	for i := range po.Lines {
		if po.Lines[i].LineNo == no {
			return &po.Lines[i], true
		}
	}
	return nil, false
}

// anyReceived reports whether any line has a received quantity.
func (po PurchaseOrder) anyReceived() bool {
	for _, line := range po.Lines {
		if line.ReceivedQty.IsPositive() {
			return true
		}
	}
	return false
}

// receiptStatus derives PARTIALLY_RECEIVED or RECEIVED from line quantities.
func (po PurchaseOrder) receiptStatus() POStatus {
	if !po.anyReceived() {
		return POStatusApproved
	}
	for _, line := range po.Lines {
		if line.ReceivedQty.LessThan(line.Qty) {
			return POStatusPartiallyReceived
		}
	}
	return POStatusReceived
}

// GoodsReceipt domain model.
type GoodsReceipt struct {
	ID          uuid.UUID   `json:"id"`
	Number      string      `json:"number"`
	POID        uuid.UUID   `json:"po_id"`
	PONumber    string      `json:"po_number"`
	SupplierID  string      `json:"supplier_id"`
	LocationID  string      `json:"location_id"`
	Status      GRNStatus   `json:"status"`
	ReceivedAt  time.Time   `json:"received_at"`
	Note        string      `json:"note,omitempty"`
	Lines       []GRNLine   `json:"lines"`
	IsPosted    bool        `json:"is_posted"`
	JournalIDs  []uuid.UUID `json:"journal_ids,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`
}

// GRNLine describes received goods against a PO line.
type GRNLine struct {
	LineNo     int             `json:"line_no"`
	ItemID     string          `json:"item_id"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	BatchNo    string          `json:"batch_no,omitempty"`
	Serials    []string        `json:"serials,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// SupplierPayment settles payables of an order or an invoice.
type SupplierPayment struct {
	ID          uuid.UUID           `json:"id"`
	Number      string              `json:"number"`
	SupplierID  string              `json:"supplier_id"`
	POID        uuid.UUID           `json:"po_id,omitempty"`
	InvoiceID   uuid.UUID           `json:"invoice_id,omitempty"`
	Currency    string              `json:"currency"`
	Amount      decimal.Decimal     `json:"amount"`
	PaymentMode posting.PaymentMode `json:"payment_mode"`
	Status      PaymentStatus       `json:"status"`
	DueDate     time.Time           `json:"due_date"`
	IsPosted    bool                `json:"is_posted"`
	JournalIDs  []uuid.UUID         `json:"journal_ids,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	PaidAt      *time.Time          `json:"paid_at,omitempty"`
}

// PurchaseInvoice is a supplier bill not backed by a purchase order.
type PurchaseInvoice struct {
	ID          uuid.UUID             `json:"id"`
	Number      string                `json:"number"`
	SupplierID  string                `json:"supplier_id"`
	SupplierRef string                `json:"supplier_ref,omitempty"`
	LocationID  string                `json:"location_id"`
	Currency    string                `json:"currency"`
	PaymentMode posting.PaymentMode   `json:"payment_mode"`
	Status      InvoiceStatus         `json:"status"`
	InvoiceDate time.Time             `json:"invoice_date"`
	DueDate     time.Time             `json:"due_date"`
	Lines       []PurchaseInvoiceLine `json:"lines"`
	Subtotal    decimal.Decimal       `json:"subtotal"`
	TaxTotal    decimal.Decimal       `json:"tax_total"`
	Total       decimal.Decimal       `json:"total"`
	PaidAmount  decimal.Decimal       `json:"paid_amount"`
	IsPosted    bool                  `json:"is_posted"`
	JournalIDs  []uuid.UUID           `json:"journal_ids,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	PostedAt    *time.Time            `json:"posted_at,omitempty"`
}

// PurchaseInvoiceLine is one billed line.
type PurchaseInvoiceLine struct {
	ItemID     string          `json:"item_id"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	BatchNo    string          `json:"batch_no,omitempty"`
	Serials    []string        `json:"serials,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// Outstanding returns Total − PaidAmount.
func (inv PurchaseInvoice) Outstanding() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount)
}

func (inv *PurchaseInvoice) recalc() {
	inv.Subtotal, inv.TaxTotal = decimal.Zero, decimal.Zero
	for _, line := range inv.Lines {
		inv.Subtotal = inv.Subtotal.Add(shared.Round2(line.Qty.Mul(line.UnitCost)))
		inv.TaxTotal = inv.TaxTotal.Add(shared.Round2(line.TaxAmount))
	}
	inv.Total = inv.Subtotal.Add(inv.TaxTotal)
}

// PurchaseReturn sends received goods back to a supplier.
type PurchaseReturn struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	SupplierID  string          `json:"supplier_id"`
	GRNID       uuid.UUID       `json:"grn_id,omitempty"`
	LocationID  string          `json:"location_id"`
	Currency    string          `json:"currency"`
	Status      ReturnStatus    `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	ReturnDate  time.Time       `json:"return_date"`
	Lines       []ReturnLine    `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	IsPosted    bool            `json:"is_posted"`
	JournalIDs  []uuid.UUID     `json:"journal_ids,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// ReturnLine is one returned line.
type ReturnLine struct {
	ItemID   string          `json:"item_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	BatchNo  string          `json:"batch_no,omitempty"`
	SerialNo string          `json:"serial_no,omitempty"`
}

// APAging is the aging report with a per-supplier breakdown.
type APAging struct {
	AsOf       time.Time                     `json:"as_of"`
	Totals     shared.AgingBucket            `json:"totals"`
	BySupplier map[string]shared.AgingBucket `json:"by_supplier"`
}

// received returns the confirmed quantity of item and its weighted unit cost.
func (grn GoodsReceipt) received(itemID string) (decimal.Decimal, decimal.Decimal) {
	qty, value := decimal.Zero, decimal.Zero
	for _, line := range grn.Lines {
		if line.ItemID != itemID {
			continue
		}
		qty = qty.Add(line.Qty)
		value = value.Add(line.Qty.Mul(line.UnitCost))
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return qty, value.Div(qty).Round(6)
}

func (ret *PurchaseReturn) recalc() {
	ret.Total = decimal.Zero
	for _, line := range ret.Lines {
		ret.Total = ret.Total.Add(shared.Round2(line.Qty.Mul(line.UnitCost)))
	}
}
