package posting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records document events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockDocuments numbers and posts inventory-only documents: adjustments,
// transfers and opening stock.
type StockDocuments struct {
	store  kv.Store
	engine *Engine
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewStockDocuments wires the inventory document desk.
func NewStockDocuments(store kv.Store, engine *Engine, audit AuditPort, logger *slog.Logger) *StockDocuments {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockDocuments{store: store, engine: engine, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (d *StockDocuments) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Adjust numbers and posts a stock adjustment.
func (d *StockDocuments) Adjust(ctx context.Context, evt StockAdjustmentEvent) (Result, error) {
	return d.post(ctx, shared.KindStockAdjustment, &evt.Document, func(ctx context.Context) (Result, error) {
		return d.engine.PostStockAdjustment(ctx, evt)
	})
}

// Transfer numbers and posts a stock transfer.
func (d *StockDocuments) Transfer(ctx context.Context, evt StockTransferEvent) (Result, error) {
	return d.post(ctx, shared.KindStockTransfer, &evt.Document, func(ctx context.Context) (Result, error) {
		return d.engine.PostStockTransfer(ctx, evt)
	})
}

// LoadOpening numbers and posts opening stock. It shares the ADJ series.
func (d *StockDocuments) LoadOpening(ctx context.Context, evt OpeningStockEvent) (Result, error) {
	return d.post(ctx, shared.KindStockAdjustment, &evt.Document, func(ctx context.Context) (Result, error) {
		return d.engine.PostOpeningStock(ctx, evt)
	})
}

// post fills doc in place before fn runs so the event closure sees the number.
func (d *StockDocuments) post(ctx context.Context, kind shared.DocumentKind, doc *Document, fn func(ctx context.Context) (Result, error)) (Result, error) {
	var res Result
	err := d.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		number, err := shared.NextNumber(ctx, tx, kind)
		if err != nil {
			return err
		}
		doc.ID = uuid.New()
		doc.Number = number
		if doc.Date.IsZero() {
			doc.Date = d.now().UTC()
		}
		res, err = fn(ctx)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if d.audit != nil {
		if err := d.audit.Record(ctx, shared.AuditLog{
			Action:   "stock." + string(kind),
			Entity:   "stock_document",
			EntityID: doc.Number,
			Meta:     map[string]any{"entries": len(res.StockEntries), "journals": len(res.Journals)},
		}); err != nil {
			d.logger.Warn("audit record failed", slog.String("document", doc.Number), slog.Any("error", err))
		}
	}
	return res, nil
}
