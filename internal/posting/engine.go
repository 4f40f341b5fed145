// Package posting turns business events into balanced journals and stock
// movements, writing both in one store transaction.
package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Ledger writes journals.
type Ledger interface {
	PostJournal(ctx context.Context, input accounting.PostingInput) (accounting.Journal, error)
}

// StockLedger writes stock movements and answers lot queries.
type StockLedger interface {
	CreateEntry(ctx context.Context, in inventory.EntryInput) (inventory.StockLedgerEntry, error)
	GetBalance(ctx context.Context, itemID, locationID string) (inventory.StockBalance, error)
	AllocateBatches(ctx context.Context, itemID, locationID string, qty decimal.Decimal) ([]inventory.LotAllocation, error)
	AllocateSerials(ctx context.Context, itemID, locationID string, qty int) ([]inventory.LotAllocation, error)
}

// Directory resolves items and exchange rates.
type Directory interface {
	LookupItem(ctx context.Context, id string) (masterdata.Item, error)
	ExchangeRate(ctx context.Context, code string) (decimal.Decimal, error)
}

// Source modules stamped on journals.
const (
	ModuleSales       = "sales"
	ModuleProcurement = "procurement"
	ModuleProduction  = "production"
	ModuleInventory   = "inventory"
)

// Engine posts business events. Ledger and StockLedger must be backed by
// the same store so their writes join the engine transaction.
type Engine struct {
	store   kv.Store
	ledger  Ledger
	stock   StockLedger
	items   Directory
	roles   accounting.RoleTable
	metrics *Metrics
	logger  *slog.Logger
}

// NewEngine constructs the posting engine.
func NewEngine(store kv.Store, ledger Ledger, stock StockLedger, items Directory, roles accounting.RoleTable, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, ledger: ledger, stock: stock, items: items, roles: roles, logger: logger}
}

// WithMetrics attaches Prometheus instrumentation.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}

// Roles returns the account role table in use.
func (e *Engine) Roles() accounting.RoleTable {
	return e.roles
}

func (e *Engine) run(ctx context.Context, kind EventKind, doc Document, fn func(ctx context.Context, res *Result) error) (Result, error) {
	started := time.Now()
	var (
		res     Result
		pending bool
	)
	err := doc.validate()
	if err == nil {
		err = e.store.Update(ctx, func(ctx context.Context, _ kv.Tx) error {
			res = Result{}
			if err := fn(ctx, &res); err != nil {
				return err
			}
			// Inside a caller's transaction the posting only counts once that commits.
			posted, elapsed := res, time.Since(started)
			pending = true
			e.store.OnComplete(ctx, func(committed bool) {
				e.metrics.observe(kind, posted, elapsed, committed, nil)
			})
			return nil
		})
	}
	if err != nil {
		if !pending {
			e.metrics.observe(kind, Result{}, time.Since(started), false, err)
		}
		e.logger.Warn("posting rejected", slog.String("event", string(kind)), slog.String("document", doc.Number), slog.Any("error", err))
		return Result{}, err
	}
	e.logger.Info("posting recorded",
		slog.String("event", string(kind)),
		slog.String("document", doc.Number),
		slog.Int("journals", len(res.Journals)),
		slog.Int("stock_entries", len(res.StockEntries)),
	)
	return res, nil
}

func (e *Engine) rate(ctx context.Context, doc Document) (decimal.Decimal, error) {
	if doc.ExchangeRate.IsPositive() {
		return doc.ExchangeRate, nil
	}
	return e.items.ExchangeRate(ctx, doc.Currency)
}

func (e *Engine) postingInput(doc Document, module, description string, lines []accounting.PostingLineInput) accounting.PostingInput {
	return accounting.PostingInput{
		Date:         doc.Date,
		Description:  description,
		SourceModule: module,
		SourceID:     doc.ID,
		SourceNo:     doc.Number,
		CreatedBy:    doc.CreatedBy,
		Lines:        lines,
	}
}

// journal posts lines unless they net to nothing.
func (e *Engine) journal(ctx context.Context, res *Result, input accounting.PostingInput) error {
	if len(input.Lines) == 0 {
		return nil
	}
	j, err := e.ledger.PostJournal(ctx, input)
	if err != nil {
		return err
	}
	res.Journals = append(res.Journals, j)
	return nil
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return shared.Invalid(field, "must be greater than zero")
	}
	return nil
}

// issue writes stock-out entries for qty, one per lot. Tracked items without
// explicit lots are allocated FEFO (batches) or FIFO (serials).
func (e *Engine) issue(ctx context.Context, item masterdata.Item, locationID string, qty, unitCost decimal.Decimal, lots []inventory.LotAllocation, source inventory.SourceType, doc Document) ([]inventory.StockLedgerEntry, error) {
	if len(lots) == 0 {
		var err error
		lots, err = e.allocate(ctx, item, locationID, qty)
		if err != nil {
			return nil, err
		}
	} else {
		total := decimal.Zero
		for _, lot := range lots {
			total = total.Add(lot.Qty)
		}
		if !total.Equal(qty) {
			return nil, shared.Invalid("lots", "lots of %s cover %s, want %s", item.ID, total, qty)
		}
	}
	out := make([]inventory.StockLedgerEntry, 0, len(lots))
	for _, lot := range lots {
		entry, err := e.stock.CreateEntry(ctx, inventory.EntryInput{
			ItemID:     item.ID,
			LocationID: locationID,
			TxnDate:    doc.Date,
			SourceType: source,
			SourceID:   doc.ID,
			SourceNo:   doc.Number,
			QtyOut:     lot.Qty,
			UnitCost:   unitCost,
			BatchNo:    lot.BatchNo,
			SerialNo:   lot.SerialNo,
			ExpiryDate: lot.ExpiryDate,
			Note:       doc.Note,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Engine) allocate(ctx context.Context, item masterdata.Item, locationID string, qty decimal.Decimal) ([]inventory.LotAllocation, error) {
	switch item.Tracking {
	case masterdata.TrackingBatch:
		return e.stock.AllocateBatches(ctx, item.ID, locationID, qty)
	case masterdata.TrackingSerial:
		if !qty.Equal(qty.Truncate(0)) {
			return nil, shared.Invalid("qty", "serial item %s needs a whole quantity", item.ID)
		}
		return e.stock.AllocateSerials(ctx, item.ID, locationID, int(qty.IntPart()))
	}
	return []inventory.LotAllocation{{Qty: qty}}, nil
}

// receipt describes one stock-in line in base currency.
type receipt struct {
	item       masterdata.Item
	locationID string
	qty        decimal.Decimal
	unitCost   decimal.Decimal
	batchNo    string
	serials    []string
	expiry     *time.Time
}

func (e *Engine) receive(ctx context.Context, r receipt, source inventory.SourceType, doc Document) ([]inventory.StockLedgerEntry, error) {
	switch {
	case len(r.serials) > 0:
		if !decimal.NewFromInt(int64(len(r.serials))).Equal(r.qty) {
			return nil, shared.Invalid("serials", "%d serials for quantity %s of %s", len(r.serials), r.qty, r.item.ID)
		}
	case r.item.Tracking == masterdata.TrackingSerial:
		return nil, shared.Invalid("serials", "item %s requires serial numbers", r.item.ID)
	case r.item.Tracking == masterdata.TrackingBatch && r.batchNo == "":
		return nil, shared.Invalid("batch_no", "item %s requires a batch number", r.item.ID)
	}

	in := inventory.EntryInput{
		ItemID:     r.item.ID,
		LocationID: r.locationID,
		TxnDate:    doc.Date,
		SourceType: source,
		SourceID:   doc.ID,
		SourceNo:   doc.Number,
		UnitCost:   r.unitCost,
		BatchNo:    r.batchNo,
		ExpiryDate: r.expiry,
		Note:       doc.Note,
	}
	if len(r.serials) == 0 {
		in.QtyIn = r.qty
		entry, err := e.stock.CreateEntry(ctx, in)
		if err != nil {
			return nil, err
		}
		return []inventory.StockLedgerEntry{entry}, nil
	}
	out := make([]inventory.StockLedgerEntry, 0, len(r.serials))
	for _, serial := range r.serials {
		in.QtyIn = decimal.NewFromInt(1)
		in.SerialNo = serial
		entry, err := e.stock.CreateEntry(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Engine) inventoryAccount(item masterdata.Item) (uuid.UUID, error) {
	return InventoryAccount(e.roles, item.Kind)
}

// PostSalesInvoice books revenue and VAT, ships stocked lines and books COGS.
func (e *Engine) PostSalesInvoice(ctx context.Context, evt SalesInvoiceEvent) (Result, error) {
	return e.run(ctx, EventSalesInvoice, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "invoice has no lines")
		}
		rate, err := e.rate(ctx, evt.Document)
		if err != nil {
			return err
		}
		revenue, tax := decimal.Zero, decimal.Zero
		items := make([]masterdata.Item, len(evt.Lines))
		for i, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			if items[i], err = e.items.LookupItem(ctx, line.ItemID); err != nil {
				return err
			}
			revenue = revenue.Add(line.Subtotal().Mul(rate))
			tax = tax.Add(line.TaxAmount.Mul(rate))
		}
		lines, err := SalesLines(e.roles, evt.PaymentMode, revenue, tax)
		if err != nil {
			return err
		}
		sales := e.postingInput(evt.Document, ModuleSales, "Sales invoice "+evt.Number, lines)
		if len(lines) > 0 {
			if err := sales.Validate(); err != nil {
				return err
			}
		}

		var cogs Amounts
		for i, line := range evt.Lines {
			if !items[i].Stocked() {
				continue
			}
			entries, err := e.issue(ctx, items[i], line.LocationID, line.Qty, decimal.Zero, line.Lots, inventory.SourceSalesInvoice, evt.Document)
			if err != nil {
				return err
			}
			acc, err := e.inventoryAccount(items[i])
			if err != nil {
				return err
			}
			for _, entry := range entries {
				cogs.Add(acc, entry.TotalCost)
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}

		if err := e.journal(ctx, res, sales); err != nil {
			return err
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleSales, "Cost of sales "+evt.Number,
			TransferLines(e.roles.COGS, cogs, false, "cost of goods sold")))
	})
}

// PostGoodsReceipt receives stock and books DR inventory / CR payables or cash.
func (e *Engine) PostGoodsReceipt(ctx context.Context, evt GoodsReceiptEvent) (Result, error) {
	return e.run(ctx, EventGoodsReceipt, evt.Document, func(ctx context.Context, res *Result) error {
		return e.postPurchase(ctx, res, evt.Document, evt.PaymentMode, evt.Lines, inventory.SourceGRN, "Goods receipt "+evt.Number)
	})
}

// PostPurchaseInvoice books a supplier bill; stocked lines are received.
func (e *Engine) PostPurchaseInvoice(ctx context.Context, evt PurchaseInvoiceEvent) (Result, error) {
	return e.run(ctx, EventPurchaseInvoice, evt.Document, func(ctx context.Context, res *Result) error {
		return e.postPurchase(ctx, res, evt.Document, evt.PaymentMode, evt.Lines, inventory.SourcePurchaseInvoice, "Purchase invoice "+evt.Number)
	})
}

func (e *Engine) postPurchase(ctx context.Context, res *Result, doc Document, mode PaymentMode, lines []PurchaseLine, source inventory.SourceType, description string) error {
	if len(lines) == 0 {
		return shared.Invalid("lines", "document has no lines")
	}
	rate, err := e.rate(ctx, doc)
	if err != nil {
		return err
	}
	var debits Amounts
	tax := decimal.Zero
	for _, line := range lines {
		if err := positive("qty", line.Qty); err != nil {
			return err
		}
		if line.UnitCost.IsNegative() {
			return inventory.ErrInvalidUnitCost
		}
		item, err := e.items.LookupItem(ctx, line.ItemID)
		if err != nil {
			return err
		}
		tax = tax.Add(line.TaxAmount.Mul(rate))
		if !item.Stocked() {
			debits.Add(e.roles.PurchaseExpense, line.Amount().Mul(rate))
			continue
		}
		entries, err := e.receive(ctx, receipt{
			item: item, locationID: line.LocationID, qty: line.Qty, unitCost: line.UnitCost.Mul(rate),
			batchNo: line.BatchNo, serials: line.Serials, expiry: line.ExpiryDate,
		}, source, doc)
		if err != nil {
			return err
		}
		acc, err := e.inventoryAccount(item)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			debits.Add(acc, entry.TotalCost)
		}
		res.StockEntries = append(res.StockEntries, entries...)
	}
	journalLines, err := PurchaseLines(e.roles, mode, debits, tax)
	if err != nil {
		return err
	}
	return e.journal(ctx, res, e.postingInput(doc, ModuleProcurement, description, journalLines))
}

// PostSupplierPayment books DR AP / CR cash or bank.
func (e *Engine) PostSupplierPayment(ctx context.Context, evt PaymentEvent) (Result, error) {
	return e.run(ctx, EventSupplierPayment, evt.Document, func(ctx context.Context, res *Result) error {
		amount, err := e.paymentAmount(ctx, evt)
		if err != nil {
			return err
		}
		lines, err := SupplierPaymentLines(e.roles, evt.PaymentMode, amount)
		if err != nil {
			return err
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleProcurement, "Supplier payment "+evt.Number, lines))
	})
}

// PostCustomerReceipt books DR cash or bank / CR AR.
func (e *Engine) PostCustomerReceipt(ctx context.Context, evt PaymentEvent) (Result, error) {
	return e.run(ctx, EventCustomerReceipt, evt.Document, func(ctx context.Context, res *Result) error {
		amount, err := e.paymentAmount(ctx, evt)
		if err != nil {
			return err
		}
		lines, err := CustomerReceiptLines(e.roles, evt.PaymentMode, amount)
		if err != nil {
			return err
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleSales, "Customer receipt "+evt.Number, lines))
	})
}

func (e *Engine) paymentAmount(ctx context.Context, evt PaymentEvent) (decimal.Decimal, error) {
	if err := positive("amount", evt.Amount); err != nil {
		return decimal.Zero, err
	}
	rate, err := e.rate(ctx, evt.Document)
	if err != nil {
		return decimal.Zero, err
	}
	return evt.Amount.Mul(rate), nil
}

// PostProductionIssue moves materials out of stock into WIP.
func (e *Engine) PostProductionIssue(ctx context.Context, evt ProductionIssueEvent) (Result, error) {
	return e.run(ctx, EventProductionIssue, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to issue")
		}
		var credits Amounts
		for _, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			entries, err := e.issue(ctx, item, line.LocationID, line.Qty, line.UnitCost, line.Lots, inventory.SourceProductionIssue, evt.Document)
			if err != nil {
				return err
			}
			acc, err := e.inventoryAccount(item)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				credits.Add(acc, entry.TotalCost)
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleProduction, "Production issue "+evt.Number,
			TransferLines(e.roles.WIP, credits, false, "materials issued")))
	})
}

// PostProductionOutput receives finished goods out of WIP.
func (e *Engine) PostProductionOutput(ctx context.Context, evt ProductionOutputEvent) (Result, error) {
	return e.run(ctx, EventProductionOutput, evt.Document, func(ctx context.Context, res *Result) error {
		if err := positive("qty", evt.Qty); err != nil {
			return err
		}
		if evt.UnitCost.IsNegative() {
			return inventory.ErrInvalidUnitCost
		}
		item, err := e.items.LookupItem(ctx, evt.ItemID)
		if err != nil {
			return err
		}
		entries, err := e.receive(ctx, receipt{
			item: item, locationID: evt.LocationID, qty: evt.Qty, unitCost: evt.UnitCost,
			batchNo: evt.BatchNo, expiry: evt.ExpiryDate,
		}, inventory.SourceProductionOutput, evt.Document)
		if err != nil {
			return err
		}
		acc, err := e.inventoryAccount(item)
		if err != nil {
			return err
		}
		var debits Amounts
		for _, entry := range entries {
			debits.Add(acc, entry.TotalCost)
		}
		res.StockEntries = append(res.StockEntries, entries...)
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleProduction, "Production output "+evt.Number,
			TransferLines(e.roles.WIP, debits, true, "finished goods")))
	})
}

// PostPurchaseReturn sends stock back and books DR AP / CR inventory.
func (e *Engine) PostPurchaseReturn(ctx context.Context, evt PurchaseReturnEvent) (Result, error) {
	return e.run(ctx, EventPurchaseReturn, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to return")
		}
		rate, err := e.rate(ctx, evt.Document)
		if err != nil {
			return err
		}
		var credits Amounts
		for _, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if !item.Stocked() {
				return shared.Invalid("item_id", "%s is not a stocked item", item.ID)
			}
			entries, err := e.issue(ctx, item, line.LocationID, line.Qty, line.UnitCost.Mul(rate), explicitLot(line), inventory.SourcePurchaseReturn, evt.Document)
			if err != nil {
				return err
			}
			acc, err := e.inventoryAccount(item)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				credits.Add(acc, entry.TotalCost)
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleProcurement, "Purchase return "+evt.Number,
			TransferLines(e.roles.AP, credits, false, "returned to supplier")))
	})
}

func explicitLot(line ReturnLine) []inventory.LotAllocation {
	if line.BatchNo == "" && line.SerialNo == "" {
		return nil
	}
	return []inventory.LotAllocation{{BatchNo: line.BatchNo, SerialNo: line.SerialNo, Qty: line.Qty}}
}

// PostSalesReturn takes stock back, books the credit note and reverses COGS.
func (e *Engine) PostSalesReturn(ctx context.Context, evt SalesReturnEvent) (Result, error) {
	return e.run(ctx, EventSalesReturn, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to return")
		}
		rate, err := e.rate(ctx, evt.Document)
		if err != nil {
			return err
		}
		revenue, tax := decimal.Zero, decimal.Zero
		var restock Amounts
		for _, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			revenue = revenue.Add(line.Qty.Mul(line.UnitPrice).Mul(rate))
			tax = tax.Add(line.TaxAmount.Mul(rate))
			if !item.Stocked() {
				continue
			}
			cost, err := e.returnCost(ctx, item, line)
			if err != nil {
				return err
			}
			r := receipt{item: item, locationID: line.LocationID, qty: line.Qty, unitCost: cost, batchNo: line.BatchNo}
			if line.SerialNo != "" {
				r.serials = []string{line.SerialNo}
			}
			entries, err := e.receive(ctx, r, inventory.SourceSalesReturn, evt.Document)
			if err != nil {
				return err
			}
			acc, err := e.inventoryAccount(item)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				restock.Add(acc, entry.TotalCost)
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}
		lines, err := SalesReturnLines(e.roles, evt.PaymentMode, revenue, tax)
		if err != nil {
			return err
		}
		if err := e.journal(ctx, res, e.postingInput(evt.Document, ModuleSales, "Sales return "+evt.Number, lines)); err != nil {
			return err
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleSales, "COGS reversal "+evt.Number,
			TransferLines(e.roles.COGS, restock, true, "returned to stock")))
	})
}

func (e *Engine) returnCost(ctx context.Context, item masterdata.Item, line ReturnLine) (decimal.Decimal, error) {
	if line.UnitCost.IsPositive() {
		return line.UnitCost, nil
	}
	bal, err := e.stock.GetBalance(ctx, item.ID, line.LocationID)
	if err != nil {
		return decimal.Zero, err
	}
	if bal.AvgCost.IsPositive() {
		return bal.AvgCost.Round(6), nil
	}
	return item.StandardCost, nil
}

// PostStockAdjustment books counted differences. Positive lines are valued at
// the given cost, then the moving average, then the standard cost.
func (e *Engine) PostStockAdjustment(ctx context.Context, evt StockAdjustmentEvent) (Result, error) {
	return e.run(ctx, EventStockAdjustment, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to adjust")
		}
		var gains, losses Amounts
		for _, line := range evt.Lines {
			if line.Qty.IsZero() {
				return shared.Invalid("qty", "adjustment quantity must not be zero")
			}
			if line.UnitCost.IsNegative() {
				return inventory.ErrInvalidUnitCost
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if !item.Stocked() {
				return shared.Invalid("item_id", "%s is not a stocked item", item.ID)
			}
			acc, err := e.inventoryAccount(item)
			if err != nil {
				return err
			}
			var entries []inventory.StockLedgerEntry
			if line.Qty.IsPositive() {
				cost, err := e.returnCost(ctx, item, ReturnLine{LocationID: line.LocationID, UnitCost: line.UnitCost})
				if err != nil {
					return err
				}
				r := receipt{item: item, locationID: line.LocationID, qty: line.Qty, unitCost: cost, batchNo: line.BatchNo}
				if line.SerialNo != "" {
					r.serials = []string{line.SerialNo}
				}
				if entries, err = e.receive(ctx, r, inventory.SourceAdjustmentIn, evt.Document); err != nil {
					return err
				}
				for _, entry := range entries {
					gains.Add(acc, entry.TotalCost)
				}
			} else {
				qty := line.Qty.Neg()
				lots := explicitLot(ReturnLine{Qty: qty, BatchNo: line.BatchNo, SerialNo: line.SerialNo})
				if entries, err = e.issue(ctx, item, line.LocationID, qty, line.UnitCost, lots, inventory.SourceAdjustmentOut, evt.Document); err != nil {
					return err
				}
				for _, entry := range entries {
					losses.Add(acc, entry.TotalCost)
				}
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}
		description := "Stock adjustment " + evt.Number
		if evt.Reason != "" {
			description = fmt.Sprintf("%s: %s", description, evt.Reason)
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleInventory, description, AdjustmentLines(e.roles, gains, losses)))
	})
}

// PostStockTransfer moves stock between locations at the outgoing cost.
func (e *Engine) PostStockTransfer(ctx context.Context, evt StockTransferEvent) (Result, error) {
	return e.run(ctx, EventStockTransfer, evt.Document, func(ctx context.Context, res *Result) error {
		if evt.FromLocationID == "" || evt.ToLocationID == "" {
			return shared.Invalid("location_id", "source and destination required")
		}
		if evt.FromLocationID == evt.ToLocationID {
			return shared.Invalid("to_location_id", "destination equals source")
		}
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to transfer")
		}
		for _, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			lots := explicitLot(ReturnLine{Qty: line.Qty, BatchNo: line.BatchNo, SerialNo: line.SerialNo})
			outs, err := e.issue(ctx, item, evt.FromLocationID, line.Qty, decimal.Zero, lots, inventory.SourceTransferOut, evt.Document)
			if err != nil {
				return err
			}
			res.StockEntries = append(res.StockEntries, outs...)
			for _, out := range outs {
				in, err := e.stock.CreateEntry(ctx, inventory.EntryInput{
					ItemID:     item.ID,
					LocationID: evt.ToLocationID,
					TxnDate:    out.TxnDate,
					SourceType: inventory.SourceTransferIn,
					SourceID:   evt.ID,
					SourceNo:   evt.Number,
					QtyIn:      out.QtyOut,
					UnitCost:   out.TotalCost.Div(out.QtyOut),
					BatchNo:    out.BatchNo,
					SerialNo:   out.SerialNo,
					ExpiryDate: out.ExpiryDate,
					Note:       evt.Note,
				})
				if err != nil {
					return err
				}
				res.StockEntries = append(res.StockEntries, in)
			}
		}
		return nil
	})
}

// PostOpeningStock loads initial stock against opening balance equity.
func (e *Engine) PostOpeningStock(ctx context.Context, evt OpeningStockEvent) (Result, error) {
	return e.run(ctx, EventOpeningStock, evt.Document, func(ctx context.Context, res *Result) error {
		if len(evt.Lines) == 0 {
			return shared.Invalid("lines", "nothing to load")
		}
		var debits Amounts
		for _, line := range evt.Lines {
			if err := positive("qty", line.Qty); err != nil {
				return err
			}
			if line.UnitCost.IsNegative() {
				return inventory.ErrInvalidUnitCost
			}
			item, err := e.items.LookupItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if !item.Stocked() {
				return shared.Invalid("item_id", "%s is not a stocked item", item.ID)
			}
			entries, err := e.receive(ctx, receipt{
				item: item, locationID: line.LocationID, qty: line.Qty, unitCost: line.UnitCost,
				batchNo: line.BatchNo, serials: line.Serials, expiry: line.ExpiryDate,
			}, inventory.SourceOpeningBalance, evt.Document)
			if err != nil {
				return err
			}
			acc, err := e.inventoryAccount(item)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				debits.Add(acc, entry.TotalCost)
			}
			res.StockEntries = append(res.StockEntries, entries...)
		}
		return e.journal(ctx, res, e.postingInput(evt.Document, ModuleInventory, "Opening stock "+evt.Number,
			TransferLines(e.roles.OpeningEquity, debits, true, "opening balance")))
	})
}
