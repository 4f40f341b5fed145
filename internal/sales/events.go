package sales

import (
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
)

func invoiceEvent(inv SalesInvoice, actor string) posting.SalesInvoiceEvent {
	note := ""
	if inv.SONumber != "" {
		note = "SO " + inv.SONumber
	}
	evt := posting.SalesInvoiceEvent{
		Document: posting.Document{
			ID: inv.ID, Number: inv.Number, Date: inv.InvoiceDate, Currency: inv.Currency,
			CreatedBy: actor, Note: note,
		},
		CustomerID:  inv.CustomerID,
		PaymentMode: inv.PaymentMode,
	}
	for _, line := range inv.Lines {
		evt.Lines = append(evt.Lines, posting.SalesLine{
			ItemID: line.ItemID, LocationID: inv.LocationID, Qty: line.Qty, UnitPrice: line.UnitPrice,
			Discount: line.Discount, TaxAmount: line.TaxAmount, Lots: line.Lots,
		})
	}
	return evt
}

func receiptEvent(rcpt CustomerReceipt, actor string) posting.PaymentEvent {
	return posting.PaymentEvent{
		Document: posting.Document{
			ID: rcpt.ID, Number: rcpt.Number, Date: rcpt.ReceivedAt, Currency: rcpt.Currency,
			CreatedBy: actor, Note: rcpt.Note,
		},
		PartyID:     rcpt.CustomerID,
		PaymentMode: rcpt.PaymentMode,
		Amount:      rcpt.Amount,
	}
}

func returnEvent(ret SalesReturn, actor string) posting.SalesReturnEvent {
	evt := posting.SalesReturnEvent{
		Document: posting.Document{
			ID: ret.ID, Number: ret.Number, Date: ret.ReturnDate, Currency: ret.Currency,
			CreatedBy: actor, Note: ret.Reason,
		},
		CustomerID:  ret.CustomerID,
		PaymentMode: ret.PaymentMode,
	}
	for _, line := range ret.Lines {
		evt.Lines = append(evt.Lines, posting.ReturnLine{
			ItemID: line.ItemID, LocationID: ret.LocationID, Qty: line.Qty, UnitCost: line.UnitCost,
			UnitPrice: line.UnitPrice, TaxAmount: line.TaxAmount, BatchNo: line.BatchNo, SerialNo: line.SerialNo,
		})
	}
	return evt
}
