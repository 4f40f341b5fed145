package production

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

// TxRepository exposes BOMs and production orders inside a transaction.
type TxRepository interface {
	NextNumber(ctx context.Context, kind shared.DocumentKind) (string, error)

	GetBOM(ctx context.Context, id uuid.UUID) (BOM, error)
	PutBOM(ctx context.Context, bom BOM) error
	ListBOMs(ctx context.Context, itemID string) ([]BOM, error)

	GetOrder(ctx context.Context, id uuid.UUID) (ProductionOrder, error)
	PutOrder(ctx context.Context, order ProductionOrder) error
	ListOrders(ctx context.Context) ([]ProductionOrder, error)
}

// Repository stores production documents under prod/ in a kv.Store.
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
	prefixBOM   = "prod/bom/"
	prefixOrder = "prod/order/"
)

type txRepo struct {
	tx kv.Tx
}

func (r *txRepo) NextNumber(ctx context.Context, kind shared.DocumentKind) (string, error) {
	return shared.NextNumber(ctx, r.tx, kind)
}

func (r *txRepo) GetBOM(ctx context.Context, id uuid.UUID) (BOM, error) {
	var bom BOM
	err := kv.GetJSON(ctx, r.tx, prefixBOM+id.String(), &bom)
	if errors.Is(err, kv.ErrNotFound) {
		return BOM{}, shared.NotFound("bom", id.String())
	}
	return bom, err
}

func (r *txRepo) PutBOM(_ context.Context, bom BOM) error {
	return kv.PutJSON(r.tx, prefixBOM+bom.ID.String(), bom)
}

// ListBOMs returns the BOMs of itemID, or all of them when itemID is empty.
func (r *txRepo) ListBOMs(ctx context.Context, itemID string) ([]BOM, error) {
	all, err := kv.ScanJSON[BOM](ctx, r.tx, prefixBOM)
	if err != nil || itemID == "" {
		return all, err
	}
	out := make([]BOM, 0, len(all))
	for _, bom := range all {
		if bom.ItemID == itemID {
			out = append(out, bom)
		}
	}
	return out, nil
}

func (r *txRepo) GetOrder(ctx context.Context, id uuid.UUID) (ProductionOrder, error) {
	var order ProductionOrder
	err := kv.GetJSON(ctx, r.tx, prefixOrder+id.String(), &order)
	if errors.Is(err, kv.ErrNotFound) {
		return ProductionOrder{}, shared.NotFound("production order", id.String())
	}
	return order, err
}

func (r *txRepo) PutOrder(_ context.Context, order ProductionOrder) error {
	return kv.PutJSON(r.tx, prefixOrder+order.ID.String(), order)
}

func (r *txRepo) ListOrders(ctx context.Context) ([]ProductionOrder, error) {
	return kv.ScanJSON[ProductionOrder](ctx, r.tx, prefixOrder)
}
