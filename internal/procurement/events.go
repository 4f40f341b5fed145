package procurement

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// receiptEvent maps a goods receipt of po to its posting event. Zero-quantity
// lines are left out; PO tax is carried pro rata to the received quantity.
func receiptEvent(po PurchaseOrder, grn GoodsReceipt, actor string) posting.GoodsReceiptEvent {
	evt := posting.GoodsReceiptEvent{
		Document: posting.Document{
			ID: grn.ID, Number: grn.Number, Date: grn.ReceivedAt, Currency: po.Currency,
			CreatedBy: actor, Note: "PO " + po.Number,
		},
		SupplierID:  po.SupplierID,
		PaymentMode: po.PaymentMode,
	}
	for _, line := range grn.Lines {
		if !line.Qty.IsPositive() {
			continue
		}
		tax := decimal.Zero
		if poLine, ok := po.line(line.LineNo); ok && poLine.Qty.IsPositive() {
			tax = shared.Round2(poLine.TaxAmount.Mul(line.Qty).Div(poLine.Qty))
		}
		evt.Lines = append(evt.Lines, posting.PurchaseLine{
			ItemID: line.ItemID, LocationID: grn.LocationID, Qty: line.Qty, UnitCost: line.UnitCost,
			TaxAmount: tax, BatchNo: line.BatchNo, Serials: line.Serials, ExpiryDate: line.ExpiryDate,
		})
	}
	return evt
}

func invoiceEvent(inv PurchaseInvoice, actor string) posting.PurchaseInvoiceEvent {
	evt := posting.PurchaseInvoiceEvent{
		Document: posting.Document{
			ID: inv.ID, Number: inv.Number, Date: inv.InvoiceDate, Currency: inv.Currency,
			CreatedBy: actor, Note: inv.SupplierRef,
		},
		SupplierID:  inv.SupplierID,
		PaymentMode: inv.PaymentMode,
	}
	for _, line := range inv.Lines {
		evt.Lines = append(evt.Lines, posting.PurchaseLine{
			ItemID: line.ItemID, LocationID: inv.LocationID, Qty: line.Qty, UnitCost: line.UnitCost,
			TaxAmount: line.TaxAmount, BatchNo: line.BatchNo, Serials: line.Serials, ExpiryDate: line.ExpiryDate,
		})
	}
	return evt
}

func paymentEvent(p SupplierPayment, mode posting.PaymentMode, actor string) posting.PaymentEvent {
	return posting.PaymentEvent{
		Document: posting.Document{
			ID: p.ID, Number: p.Number, Date: derefTime(p.PaidAt), Currency: p.Currency, CreatedBy: actor,
		},
		PartyID:     p.SupplierID,
		PaymentMode: mode,
		Amount:      p.Amount,
	}
}

func returnEvent(ret PurchaseReturn, actor string) posting.PurchaseReturnEvent {
	evt := posting.PurchaseReturnEvent{
		Document: posting.Document{
			ID: ret.ID, Number: ret.Number, Date: ret.ReturnDate, Currency: ret.Currency,
			CreatedBy: actor, Note: ret.Reason,
		},
		SupplierID: ret.SupplierID,
	}
	for _, line := range ret.Lines {
		evt.Lines = append(evt.Lines, posting.ReturnLine{
			ItemID: line.ItemID, LocationID: ret.LocationID, Qty: line.Qty, UnitCost: line.UnitCost,
			BatchNo: line.BatchNo, SerialNo: line.SerialNo,
		})
	}
	return evt
}
