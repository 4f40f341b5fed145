package accounting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	View(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes ledger persistence inside a transaction.
type TxRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	PutAccount(ctx context.Context, account Account) error
	GetBalance(ctx context.Context, accountID uuid.UUID) (AccountBalance, error)
	ListBalances(ctx context.Context) ([]AccountBalance, error)
	PutBalance(ctx context.Context, balance AccountBalance) error
	NextJournalSeq(ctx context.Context) (int64, error)
	InsertJournal(ctx context.Context, journal Journal) error
	GetJournal(ctx context.Context, id uuid.UUID) (Journal, error)
	ListJournals(ctx context.Context) ([]Journal, error)
	ListJournalsBySource(ctx context.Context, sourceID uuid.UUID) ([]Journal, error)
}

// Repository persists the ledger in a kv.Store.
type Repository struct {
	store kv.Store
}

// NewRepository creates a ledger repository.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

// WithTx runs fn inside a read-write store transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// View runs fn inside a read-only store transaction.
func (r *Repository) View(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx kv.Tx
}

func accountKey(id uuid.UUID) string { return kv.Key("acct", id.String()) }
func balanceKey(id uuid.UUID) string { return kv.Key("bal", id.String()) }
func journalKey(seq int64) string    { return kv.Key("jrnl", fmt.Sprintf("%012d", seq)) }

func (r *txRepo) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	var acc Account
	err := kv.GetJSON(ctx, r.tx, accountKey(id), &acc)
	if errors.Is(err, kv.ErrNotFound) {
		return Account{}, shared.NotFound("account", id.String())
	}
	return acc, err
}

func (r *txRepo) ListAccounts(ctx context.Context) ([]Account, error) {
	return kv.ScanJSON[Account](ctx, r.tx, "acct/")
}

func (r *txRepo) PutAccount(_ context.Context, account Account) error {
	return kv.PutJSON(r.tx, accountKey(account.ID), account)
}

func (r *txRepo) GetBalance(ctx context.Context, accountID uuid.UUID) (AccountBalance, error) {
	var bal AccountBalance
	err := kv.GetJSON(ctx, r.tx, balanceKey(accountID), &bal)
	if errors.Is(err, kv.ErrNotFound) {
		return AccountBalance{AccountID: accountID}, nil
	}
	return bal, err
}

func (r *txRepo) ListBalances(ctx context.Context) ([]AccountBalance, error) {
	return kv.ScanJSON[AccountBalance](ctx, r.tx, "bal/")
}

func (r *txRepo) PutBalance(_ context.Context, balance AccountBalance) error {
	return kv.PutJSON(r.tx, balanceKey(balance.AccountID), balance)
}

func (r *txRepo) NextJournalSeq(ctx context.Context) (int64, error) {
	return kv.NextSequence(ctx, r.tx, kv.Key("seq", string(shared.KindJournal)))
}

func (r *txRepo) InsertJournal(_ context.Context, journal Journal) error {
	key := journalKey(journal.Seq)
	if err := kv.PutJSON(r.tx, key, journal); err != nil {
		return err
	}
	if err := r.tx.Put(kv.Key("jrnlid", journal.ID.String()), []byte(key)); err != nil {
		return err
	}
	if journal.SourceID == uuid.Nil {
		return nil
	}
	return r.tx.Put(kv.Key("jrnlsrc", journal.SourceID.String(), fmt.Sprintf("%012d", journal.Seq)), []byte(key))
}

func (r *txRepo) GetJournal(ctx context.Context, id uuid.UUID) (Journal, error) {
	key, err := r.tx.Get(ctx, kv.Key("jrnlid", id.String()))
	if errors.Is(err, kv.ErrNotFound) {
		return Journal{}, shared.NotFound("journal", id.String())
	}
	if err != nil {
		return Journal{}, err
	}
	var j Journal
	return j, kv.GetJSON(ctx, r.tx, string(key), &j)
}

func (r *txRepo) ListJournals(ctx context.Context) ([]Journal, error) {
	return kv.ScanJSON[Journal](ctx, r.tx, "jrnl/")
}

func (r *txRepo) ListJournalsBySource(ctx context.Context, sourceID uuid.UUID) ([]Journal, error) {
	refs, err := r.tx.Scan(ctx, kv.Key("jrnlsrc", sourceID.String())+"/")
	if err != nil {
		return nil, err
	}
	out := make([]Journal, 0, len(refs))
	for _, ref := range refs {
		var j Journal
		if err := kv.GetJSON(ctx, r.tx, string(ref.Value), &j); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
