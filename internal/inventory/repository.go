package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	View(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes stock ledger persistence inside a transaction.
type TxRepository interface {
	NextEntrySeq(ctx context.Context) (int64, error)
	InsertEntry(ctx context.Context, entry StockLedgerEntry) error
	ListPairEntries(ctx context.Context, itemID, locationID string) ([]StockLedgerEntry, error)
	ListAllEntries(ctx context.Context) ([]StockLedgerEntry, error)
	ListEntriesBySource(ctx context.Context, sourceID uuid.UUID) ([]StockLedgerEntry, error)
	GetBalance(ctx context.Context, itemID, locationID string) (StockBalance, bool, error)
	PutBalance(ctx context.Context, balance StockBalance) error
	ListBalances(ctx context.Context) ([]StockBalance, error)
}

// Repository persists the stock ledger in a kv.Store.
type Repository struct {
	store kv.Store
}

// NewRepository creates the stock ledger repository.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

// WithTx runs fn in a read-write transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// View runs fn in a read-only transaction.
func (r *Repository) View(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx kv.Tx
}

func pairPrefix(itemID, locationID string) string {
	return kv.Key("stk", "e", itemID, locationID) + "/"
}

func entryKey(e StockLedgerEntry) string {
	return pairPrefix(e.ItemID, e.LocationID) + fmt.Sprintf("%012d", e.Seq)
}

func balanceKey(itemID, locationID string) string {
	return kv.Key("stk", "b", itemID, locationID)
}

func (r *txRepo) NextEntrySeq(ctx context.Context) (int64, error) {
	return kv.NextSequence(ctx, r.tx, "seq/stk")
}

func (r *txRepo) InsertEntry(_ context.Context, entry StockLedgerEntry) error {
	key := entryKey(entry)
	if err := kv.PutJSON(r.tx, key, entry); err != nil {
		return err
	}
	if entry.SourceID == uuid.Nil {
		return nil
	}
	return r.tx.Put(kv.Key("stk", "src", entry.SourceID.String(), fmt.Sprintf("%012d", entry.Seq)), []byte(key))
}

func (r *txRepo) ListPairEntries(ctx context.Context, itemID, locationID string) ([]StockLedgerEntry, error) {
	return kv.ScanJSON[StockLedgerEntry](ctx, r.tx, pairPrefix(itemID, locationID))
}

func (r *txRepo) ListAllEntries(ctx context.Context) ([]StockLedgerEntry, error) {
	return kv.ScanJSON[StockLedgerEntry](ctx, r.tx, "stk/e/")
}

func (r *txRepo) ListEntriesBySource(ctx context.Context, sourceID uuid.UUID) ([]StockLedgerEntry, error) {
	refs, err := r.tx.Scan(ctx, kv.Key("stk", "src", sourceID.String())+"/")
	if err != nil {
		return nil, err
	}
	out := make([]StockLedgerEntry, 0, len(refs))
	for _, ref := range refs {
		var e StockLedgerEntry
		if err := kv.GetJSON(ctx, r.tx, string(ref.Value), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *txRepo) GetBalance(ctx context.Context, itemID, locationID string) (StockBalance, bool, error) {
	var bal StockBalance
	err := kv.GetJSON(ctx, r.tx, balanceKey(itemID, locationID), &bal)
	if errors.Is(err, kv.ErrNotFound) {
		return StockBalance{ItemID: itemID, LocationID: locationID}, false, nil
	}
	if err != nil {
		return StockBalance{}, false, err
	}
	return bal, true, nil
}

func (r *txRepo) PutBalance(_ context.Context, balance StockBalance) error {
	return kv.PutJSON(r.tx, balanceKey(balance.ItemID, balance.LocationID), balance)
}

func (r *txRepo) ListBalances(ctx context.Context) ([]StockBalance, error) {
	return kv.ScanJSON[StockBalance](ctx, r.tx, "stk/b/")
}
