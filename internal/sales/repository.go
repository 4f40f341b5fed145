package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	View(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes sales documents inside a transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, kind shared.DocumentKind) (string, error)

	GetOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error)
	PutOrder(ctx context.Context, so SalesOrder) error
	ListOrders(ctx context.Context) ([]SalesOrder, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error)
	PutInvoice(ctx context.Context, inv SalesInvoice) error
	ListInvoices(ctx context.Context, soID uuid.UUID) ([]SalesInvoice, error)

	PutReceipt(ctx context.Context, rcpt CustomerReceipt) error
	ListReceipts(ctx context.Context) ([]CustomerReceipt, error)

	GetReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error)
	PutReturn(ctx context.Context, ret SalesReturn) error
	ListReturns(ctx context.Context) ([]SalesReturn, error)
}

// Repository stores sales documents under sales/ in a kv.Store.
type Repository struct {
	store kv.Store
}

// NewRepository constructs a Repository.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

// WithTx runs fn inside a read-write transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// View runs fn inside a read-only transaction.
func (r *Repository) View(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const (
	prefixOrder   = "sales/so/"
	prefixInvoice = "sales/inv/"
	prefixReceipt = "sales/rcpt/"
	prefixReturn  = "sales/srtn/"
)

type txRepo struct {
	tx kv.Tx
}

func get[T any](ctx context.Context, tx kv.Tx, prefix, entity string, id uuid.UUID) (T, error) {
	var out T
	err := kv.GetJSON(ctx, tx, prefix+id.String(), &out)
	if errors.Is(err, kv.ErrNotFound) {
		return out, shared.NotFound(entity, id.String())
	}
	return out, err
}

func (r *txRepo) NextNumber(ctx context.Context, kind shared.DocumentKind) (string, error) {
	return shared.NextNumber(ctx, r.tx, kind)
}

func (r *txRepo) GetOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return get[SalesOrder](ctx, r.tx, prefixOrder, "sales order", id)
}

func (r *txRepo) PutOrder(_ context.Context, so SalesOrder) error {
	return kv.PutJSON(r.tx, prefixOrder+so.ID.String(), so)
}

func (r *txRepo) ListOrders(ctx context.Context) ([]SalesOrder, error) {
	return kv.ScanJSON[SalesOrder](ctx, r.tx, prefixOrder)
}

func (r *txRepo) GetInvoice(ctx context.Context, id uuid.UUID) (SalesInvoice, error) {
	return get[SalesInvoice](ctx, r.tx, prefixInvoice, "sales invoice", id)
}

func (r *txRepo) PutInvoice(_ context.Context, inv SalesInvoice) error {
	return kv.PutJSON(r.tx, prefixInvoice+inv.ID.String(), inv)
}

// ListInvoices returns the invoices of soID, or every invoice when soID is nil.
func (r *txRepo) ListInvoices(ctx context.Context, soID uuid.UUID) ([]SalesInvoice, error) {
	all, err := kv.ScanJSON[SalesInvoice](ctx, r.tx, prefixInvoice)
	if err != nil || soID == uuid.Nil {
		return all, err
	}
	out := make([]SalesInvoice, 0, len(all))
	for _, inv := range all {
		if inv.SOID == soID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *txRepo) PutReceipt(_ context.Context, rcpt CustomerReceipt) error {
	return kv.PutJSON(r.tx, prefixReceipt+rcpt.ID.String(), rcpt)
}

func (r *txRepo) ListReceipts(ctx context.Context) ([]CustomerReceipt, error) {
	return kv.ScanJSON[CustomerReceipt](ctx, r.tx, prefixReceipt)
}

func (r *txRepo) GetReturn(ctx context.Context, id uuid.UUID) (SalesReturn, error) {
	return get[SalesReturn](ctx, r.tx, prefixReturn, "sales return", id)
}

func (r *txRepo) PutReturn(_ context.Context, ret SalesReturn) error {
	return kv.PutJSON(r.tx, prefixReturn+ret.ID.String(), ret)
}

func (r *txRepo) ListReturns(ctx context.Context) ([]SalesReturn, error) {
	return kv.ScanJSON[SalesReturn](ctx, r.tx, prefixReturn)
}
