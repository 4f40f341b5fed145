package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SourceType enumerates documents that move stock.
type SourceType string

const (
	SourceGRN              SourceType = "GRN"
	SourceSalesInvoice     SourceType = "SALES_INVOICE"
	SourceProductionIssue  SourceType = "PRODUCTION_ISSUE"
	SourceProductionOutput SourceType = "PRODUCTION_OUTPUT"
	SourceAdjustmentIn     SourceType = "ADJUSTMENT_IN"
	SourceAdjustmentOut    SourceType = "ADJUSTMENT_OUT"
	SourceTransferIn       SourceType = "TRANSFER_IN"
	SourceTransferOut      SourceType = "TRANSFER_OUT"
	SourceOpeningBalance   SourceType = "OPENING_BALANCE"
	SourcePurchaseReturn   SourceType = "PURCHASE_RETURN"
	SourceSalesReturn      SourceType = "SALES_RETURN"
	SourcePurchaseInvoice  SourceType = "PURCHASE_INVOICE"
)

// BalanceMode selects how CreateEntry maintains StockBalance.
type BalanceMode string

const (
	// BalanceModeIncremental adds the entry delta to the stored aggregate.
	BalanceModeIncremental BalanceMode = "incremental"
	// BalanceModeReplay recomputes the aggregate from every entry of the pair.
	BalanceModeReplay BalanceMode = "replay"
)

// StockLedgerEntry is one append-only movement.
type StockLedgerEntry struct {
	ID         uuid.UUID       `json:"id"`
	Seq        int64           `json:"seq"`
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	TxnDate    time.Time       `json:"txn_date"`
	SourceType SourceType      `json:"source_type"`
	SourceID   uuid.UUID       `json:"source_id"`
	SourceNo   string          `json:"source_no"`
	QtyIn      decimal.Decimal `json:"qty_in"`
	QtyOut     decimal.Decimal `json:"qty_out"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	BatchNo    string          `json:"batch_no,omitempty"`
	SerialNo   string          `json:"serial_no,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Inbound reports whether the entry adds stock.
func (e StockLedgerEntry) Inbound() bool {
	return e.QtyIn.IsPositive()
}

// SignedQty returns QtyIn - QtyOut.
func (e StockLedgerEntry) SignedQty() decimal.Decimal {
	return e.QtyIn.Sub(e.QtyOut)
}

// SignedCost returns TotalCost for inbound and -TotalCost for outbound.
func (e StockLedgerEntry) SignedCost() decimal.Decimal {
	if e.Inbound() {
		return e.TotalCost
	}
	return e.TotalCost.Neg()
}

// StockBalance summarises stock in location per item.
type StockBalance struct {
	ItemID      string          `json:"item_id"`
	LocationID  string          `json:"location_id"`
	BalanceQty  decimal.Decimal `json:"balance_qty"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	StockValue  decimal.Decimal `json:"stock_value"`
	NetCost     decimal.Decimal `json:"net_cost"`
	LastUpdated time.Time       `json:"last_updated"`
}

// apply adds an entry and refreshes derived fields.
func (b *StockBalance) apply(e StockLedgerEntry) {
	b.BalanceQty = b.BalanceQty.Add(e.SignedQty())
	b.NetCost = b.NetCost.Add(e.SignedCost())
	if b.BalanceQty.IsZero() {
		// An emptied pair carries no cost into the next receipt.
		b.NetCost = decimal.Zero
	}
	b.refresh()
	b.LastUpdated = e.CreatedAt
}

func (b *StockBalance) refresh() {
	if b.BalanceQty.IsPositive() {
		b.AvgCost = b.NetCost.Div(b.BalanceQty)
	} else {
		b.AvgCost = decimal.Zero
	}
	b.StockValue = b.BalanceQty.Mul(b.AvgCost)
}

// EntryInput describes one movement. Exactly one of QtyIn and QtyOut is set.
// Outbound entries with zero UnitCost are costed at the moving average.
type EntryInput struct {
	ItemID     string
	LocationID string
	TxnDate    time.Time
	SourceType SourceType
	SourceID   uuid.UUID
	SourceNo   string
	QtyIn      decimal.Decimal
	QtyOut     decimal.Decimal
	UnitCost   decimal.Decimal
	BatchNo    string
	SerialNo   string
	ExpiryDate *time.Time
	Note       string
}

// BatchBalance is the on-hand quantity of one batch.
type BatchBalance struct {
	BatchNo    string          `json:"batch_no"`
	Qty        decimal.Decimal `json:"qty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	FirstSeq   int64           `json:"first_seq"`
}

// LotAllocation assigns part of a requested quantity to a batch or serial.
type LotAllocation struct {
	BatchNo    string          `json:"batch_no,omitempty"`
	SerialNo   string          `json:"serial_no,omitempty"`
	Qty        decimal.Decimal `json:"qty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// StockCardEntry describes inventory card entry for reports.
type StockCardEntry struct {
	TxCode      string          `json:"tx_code"`
	TxType      SourceType      `json:"tx_type"`
	PostedAt    time.Time       `json:"posted_at"`
	QtyIn       decimal.Decimal `json:"qty_in"`
	QtyOut      decimal.Decimal `json:"qty_out"`
	BalanceQty  decimal.Decimal `json:"balance_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BalanceCost decimal.Decimal `json:"balance_cost"`
	BatchNo     string          `json:"batch_no,omitempty"`
	SerialNo    string          `json:"serial_no,omitempty"`
	Note        string          `json:"note,omitempty"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	LocationID string
	ItemID     string
	From       time.Time
	To         time.Time
	Limit      int
}

// ValuationRow is the stock value of one location.
type ValuationRow struct {
	LocationID string          `json:"location_id"`
	Items      int             `json:"items"`
	Quantity   decimal.Decimal `json:"quantity"`
	StockValue decimal.Decimal `json:"stock_value"`
}

// Valuation is the stock valuation report.
type Valuation struct {
	Locations  []ValuationRow  `json:"locations"`
	TotalValue decimal.Decimal `json:"total_value"`
}

var (
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = &shared.ValidationError{Field: "qty", Message: "inventory: exactly one of qty in or qty out must be positive"}
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = &shared.ValidationError{Field: "unit_cost", Message: "inventory: unit cost must be >= 0"}
	// ErrSerialQuantity indicates a serial entry with quantity other than one.
	ErrSerialQuantity = &shared.ValidationError{Field: "serial_no", Message: "inventory: serial entries move exactly one unit"}
)
