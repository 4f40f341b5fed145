package posting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EventKind names a business event the engine can post.
type EventKind string

const (
	EventSalesInvoice     EventKind = "sales_invoice"
	EventPurchaseInvoice  EventKind = "purchase_invoice"
	EventGoodsReceipt     EventKind = "goods_receipt"
	EventSupplierPayment  EventKind = "supplier_payment"
	EventCustomerReceipt  EventKind = "customer_receipt"
	EventProductionIssue  EventKind = "production_issue"
	EventProductionOutput EventKind = "production_output"
	EventPurchaseReturn   EventKind = "purchase_return"
	EventSalesReturn      EventKind = "sales_return"
	EventStockAdjustment  EventKind = "stock_adjustment"
	EventStockTransfer    EventKind = "stock_transfer"
	EventOpeningStock     EventKind = "opening_stock"
)

// PaymentMode selects the settlement account of a document.
type PaymentMode string

const (
	PaymentCash     PaymentMode = "CASH"
	PaymentBank     PaymentMode = "BANK"
	PaymentCard     PaymentMode = "CARD"
	PaymentTransfer PaymentMode = "TRANSFER"
	PaymentCredit   PaymentMode = "CREDIT"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentBank, PaymentCard, PaymentTransfer, PaymentCredit:
		return true
	}
	return false
}

// Document identifies the originating business document.
type Document struct {
	ID       uuid.UUID
	Number   string
	Date     time.Time
	Currency string
	// ExchangeRate overrides the directory rate when positive.
	ExchangeRate decimal.Decimal
	CreatedBy    string
	Note         string
}

func (d Document) validate() error {
	if d.ID == uuid.Nil {
		return shared.Invalid("document_id", "required")
	}
	if d.Number == "" {
		return shared.Invalid("document_no", "required")
	}
	return nil
}

// SalesLine is one invoiced line. Lots lists pre-allocated batches or serials;
// tracked items without lots are allocated FEFO/FIFO at posting time.
type SalesLine struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	UnitPrice  decimal.Decimal
	Discount   decimal.Decimal
	TaxAmount  decimal.Decimal
	Lots       []inventory.LotAllocation
}

// Subtotal returns Qty × UnitPrice − Discount.
func (l SalesLine) Subtotal() decimal.Decimal {
	return l.Qty.Mul(l.UnitPrice).Sub(l.Discount)
}

// SalesInvoiceEvent posts revenue, VAT and the cost of goods shipped.
type SalesInvoiceEvent struct {
	Document
	CustomerID  string
	PaymentMode PaymentMode
	Lines       []SalesLine
}

// PurchaseLine is one received or billed line. Serials produce one entry each.
type PurchaseLine struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	TaxAmount  decimal.Decimal
	BatchNo    string
	Serials    []string
	ExpiryDate *time.Time
}

// Amount returns Qty × UnitCost.
func (l PurchaseLine) Amount() decimal.Decimal {
	return l.Qty.Mul(l.UnitCost)
}

// GoodsReceiptEvent receives stock against payables or an immediate payment.
type GoodsReceiptEvent struct {
	Document
	SupplierID  string
	PaymentMode PaymentMode
	Lines       []PurchaseLine
}

// PurchaseInvoiceEvent books a supplier bill. Stocked lines also receive stock.
type PurchaseInvoiceEvent struct {
	Document
	SupplierID  string
	PaymentMode PaymentMode
	Lines       []PurchaseLine
}

// PaymentEvent settles payables or receivables.
type PaymentEvent struct {
	Document
	PartyID     string
	PaymentMode PaymentMode
	Amount      decimal.Decimal
}

// MaterialLine is one raw material consumed by production.
type MaterialLine struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	// UnitCost zero issues at the moving average.
	UnitCost decimal.Decimal
	Lots     []inventory.LotAllocation
}

// ProductionIssueEvent moves materials into work in progress.
type ProductionIssueEvent struct {
	Document
	Lines []MaterialLine
}

// ProductionOutputEvent moves finished goods out of work in progress.
type ProductionOutputEvent struct {
	Document
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	BatchNo    string
	ExpiryDate *time.Time
}

// ReturnLine is one returned line.
type ReturnLine struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	// UnitCost is the stock cost. Sales returns default to the current
	// average and then to the item standard cost.
	UnitCost decimal.Decimal
	// UnitPrice is the credited selling price. Sales returns only.
	UnitPrice decimal.Decimal
	TaxAmount decimal.Decimal
	BatchNo   string
	SerialNo  string
}

// PurchaseReturnEvent sends stock back to a supplier.
type PurchaseReturnEvent struct {
	Document
	SupplierID string
	Lines      []ReturnLine
}

// SalesReturnEvent takes stock back from a customer.
type SalesReturnEvent struct {
	Document
	CustomerID  string
	PaymentMode PaymentMode
	Lines       []ReturnLine
}

// AdjustmentLine changes on-hand quantity. Positive Qty adds stock.
type AdjustmentLine struct {
	ItemID     string
	LocationID string
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	BatchNo    string
	SerialNo   string
}

// StockAdjustmentEvent books counted differences as gain or loss.
type StockAdjustmentEvent struct {
	Document
	Reason string
	Lines  []AdjustmentLine
}

// TransferLine moves stock between locations at the source cost.
type TransferLine struct {
	ItemID   string
	Qty      decimal.Decimal
	BatchNo  string
	SerialNo string
}

// StockTransferEvent relocates stock without touching the ledger.
type StockTransferEvent struct {
	Document
	FromLocationID string
	ToLocationID   string
	Lines          []TransferLine
}

// OpeningStockEvent loads initial quantities against opening equity.
type OpeningStockEvent struct {
	Document
	Lines []PurchaseLine
}

// Result lists everything one posting wrote.
type Result struct {
	Journals     []accounting.Journal         `json:"journals"`
	StockEntries []inventory.StockLedgerEntry `json:"stock_entries"`
}

// JournalIDs returns the IDs of every posted journal.
func (r Result) JournalIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.Journals))
	for _, j := range r.Journals {
		out = append(out, j.ID)
	}
	return out
}

// StockCost sums the absolute cost of the written stock entries.
func (r Result) StockCost() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.StockEntries {
		total = total.Add(e.TotalCost)
	}
	return total
}

func (r *Result) merge(other Result) {
	r.Journals = append(r.Journals, other.Journals...)
	r.StockEntries = append(r.StockEntries, other.StockEntries...)
}
