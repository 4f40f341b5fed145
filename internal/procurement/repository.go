package procurement

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

// TxRepository exposes procurement documents inside a transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, kind shared.DocumentKind) (string, error)

	GetOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	PutOrder(ctx context.Context, po PurchaseOrder) error
	ListOrders(ctx context.Context) ([]PurchaseOrder, error)

	GetReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error)
	PutReceipt(ctx context.Context, grn GoodsReceipt) error
	ListReceipts(ctx context.Context, poID uuid.UUID) ([]GoodsReceipt, error)

	GetPayment(ctx context.Context, id uuid.UUID) (SupplierPayment, error)
	PutPayment(ctx context.Context, payment SupplierPayment) error
	ListPayments(ctx context.Context) ([]SupplierPayment, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (PurchaseInvoice, error)
	PutInvoice(ctx context.Context, inv PurchaseInvoice) error
	ListInvoices(ctx context.Context) ([]PurchaseInvoice, error)

	GetReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error)
	PutReturn(ctx context.Context, ret PurchaseReturn) error
	ListReturns(ctx context.Context) ([]PurchaseReturn, error)
}

// Repository stores procurement documents under proc/ in a kv.Store.
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
	prefixOrder   = "proc/po/"
	prefixReceipt = "proc/grn/"
	prefixPayment = "proc/pay/"
	prefixInvoice = "proc/pinv/"
	prefixReturn  = "proc/prtn/"
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

func (r *txRepo) GetOrder(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return get[PurchaseOrder](ctx, r.tx, prefixOrder, "purchase order", id)
}

func (r *txRepo) PutOrder(_ context.Context, po PurchaseOrder) error {
	return kv.PutJSON(r.tx, prefixOrder+po.ID.String(), po)
}

func (r *txRepo) ListOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return kv.ScanJSON[PurchaseOrder](ctx, r.tx, prefixOrder)
}

func (r *txRepo) GetReceipt(ctx context.Context, id uuid.UUID) (GoodsReceipt, error) {
	return get[GoodsReceipt](ctx, r.tx, prefixReceipt, "goods receipt", id)
}

func (r *txRepo) PutReceipt(_ context.Context, grn GoodsReceipt) error {
	return kv.PutJSON(r.tx, prefixReceipt+grn.ID.String(), grn)
}

// ListReceipts returns receipts of poID, or every receipt when poID is nil.
func (r *txRepo) ListReceipts(ctx context.Context, poID uuid.UUID) ([]GoodsReceipt, error) {
	all, err := kv.ScanJSON[GoodsReceipt](ctx, r.tx, prefixReceipt)
	if err != nil || poID == uuid.Nil {
		return all, err
	}
	out := make([]GoodsReceipt, 0, len(all))
	for _, grn := range all {
		if grn.POID == poID {
			out = append(out, grn)
		}
	}
	return out, nil
}

func (r *txRepo) GetPayment(ctx context.Context, id uuid.UUID) (SupplierPayment, error) {
	return get[SupplierPayment](ctx, r.tx, prefixPayment, "supplier payment", id)
}

func (r *txRepo) PutPayment(_ context.Context, payment SupplierPayment) error {
	return kv.PutJSON(r.tx, prefixPayment+payment.ID.String(), payment)
}

func (r *txRepo) ListPayments(ctx context.Context) ([]SupplierPayment, error) {
	return kv.ScanJSON[SupplierPayment](ctx, r.tx, prefixPayment)
}

func (r *txRepo) GetInvoice(ctx context.Context, id uuid.UUID) (PurchaseInvoice, error) {
	return get[PurchaseInvoice](ctx, r.tx, prefixInvoice, "purchase invoice", id)
}

func (r *txRepo) PutInvoice(_ context.Context, inv PurchaseInvoice) error {
	return kv.PutJSON(r.tx, prefixInvoice+inv.ID.String(), inv)
}

func (r *txRepo) ListInvoices(ctx context.Context) ([]PurchaseInvoice, error) {
	return kv.ScanJSON[PurchaseInvoice](ctx, r.tx, prefixInvoice)
}

func (r *txRepo) GetReturn(ctx context.Context, id uuid.UUID) (PurchaseReturn, error) {
	return get[PurchaseReturn](ctx, r.tx, prefixReturn, "purchase return", id)
}

func (r *txRepo) PutReturn(_ context.Context, ret PurchaseReturn) error {
	return kv.PutJSON(r.tx, prefixReturn+ret.ID.String(), ret)
}

func (r *txRepo) ListReturns(ctx context.Context) ([]PurchaseReturn, error) {
	return kv.ScanJSON[PurchaseReturn](ctx, r.tx, prefixReturn)
}
