package shared

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
)

// DocumentKind identifies a numbered document series.
type DocumentKind string

const (
	KindPurchaseOrder   DocumentKind = "PO"
	KindSalesOrder      DocumentKind = "SO"
	KindSalesInvoice    DocumentKind = "INV"
	KindPurchaseInvoice DocumentKind = "PINV"
	KindGoodsReceipt    DocumentKind = "GRN"
	KindJournal         DocumentKind = "JRNL"
	KindProductionOrder DocumentKind = "PRD"
	KindBOM             DocumentKind = "BOM"
	KindSupplierPayment DocumentKind = "PAY"
	KindCustomerReceipt DocumentKind = "RCPT"
	KindPurchaseReturn  DocumentKind = "PRTN"
	KindSalesReturn     DocumentKind = "SRTN"
	KindStockAdjustment DocumentKind = "ADJ"
	KindStockTransfer   DocumentKind = "TRF"
)

var numberWidth = map[DocumentKind]int{
	KindGoodsReceipt: 5,
	KindJournal:      5,
}

// FormatNumber renders a document number such as PO-0001 or JRNL-00001.
func FormatNumber(kind DocumentKind, seq int64) string {
	width, ok := numberWidth[kind]
	if !ok {
		width = 4
	}
	return fmt.Sprintf("%s-%0*d", kind, width, seq)
}

// NextNumber allocates the next number of kind inside tx.
func NextNumber(ctx context.Context, tx kv.Tx, kind DocumentKind) (string, error) {
	seq, err := kv.NextSequence(ctx, tx, kv.Key("seq", string(kind)))
	if err != nil {
		return "", fmt.Errorf("shared: next %s number: %w", kind, err)
	}
	return FormatNumber(kind, seq), nil
}
