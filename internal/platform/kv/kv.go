// Package kv provides the transactional key-value store every ledger and
// document repository is built on.
package kv

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates a missing key.
	ErrNotFound = errors.New("kv: key not found")
	// ErrReadOnly indicates a write attempted inside View.
	ErrReadOnly = errors.New("kv: transaction is read-only")
	// ErrTxDone indicates usage of a finished transaction.
	ErrTxDone = errors.New("kv: transaction already finished")
)

// Pair is a key with its stored value.
type Pair struct {
	Key   string
	Value []byte
}

// Tx exposes reads and buffered writes of a single transaction. Writes become
// visible to other transactions only after the enclosing Update returns nil.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, prefix string) ([]Pair, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store runs functions inside transactions.
type Store interface {
	// Update runs fn in a serialized read-write transaction. When ctx already
	// carries a read-write transaction of the same store, fn joins it.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only transaction, joining any transaction in ctx.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// OnComplete runs fn once the outermost read-write transaction in ctx
	// commits or rolls back. Without such a transaction fn runs at once with
	// committed set to true.
	OnComplete(ctx context.Context, fn func(committed bool))
	Close() error
}

// Key path-escapes each segment and joins them with "/".
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

type mutation struct {
	key    string
	value  []byte
	delete bool
}

type session interface {
	get(ctx context.Context, key string) ([]byte, error)
	scan(ctx context.Context, prefix string) ([]Pair, error)
	commit(ctx context.Context, muts []mutation) error
	rollback(ctx context.Context)
}

type backend interface {
	begin(ctx context.Context, write bool) (session, error)
	close() error
}

type txKey struct {
	store *engine
}

// engine implements Store on top of a backend.
type engine struct {
	backend backend
}

func newEngine(b backend) *engine {
	return &engine{backend: b}
}

type txn struct {
	sess     session
	writable bool
	done     bool
	writes   map[string]mutation
	hooks    []func(committed bool)
}

func (e *engine) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if current, ok := ctx.Value(txKey{store: e}).(*txn); ok && !current.done {
		if !current.writable {
			return ErrReadOnly
		}
		return fn(ctx, current)
	}
	return e.run(ctx, true, fn)
}

func (e *engine) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if current, ok := ctx.Value(txKey{store: e}).(*txn); ok && !current.done {
		return fn(ctx, current)
	}
	return e.run(ctx, false, fn)
}

func (e *engine) OnComplete(ctx context.Context, fn func(committed bool)) {
	if current, ok := ctx.Value(txKey{store: e}).(*txn); ok && !current.done && current.writable {
		current.hooks = append(current.hooks, fn)
		return
	}
	fn(true)
}

func (e *engine) Close() error {
	return e.backend.close()
}

func (e *engine) run(ctx context.Context, write bool, fn func(ctx context.Context, tx Tx) error) (err error) {
	sess, err := e.backend.begin(ctx, write)
	if err != nil {
		return err
	}
	t := &txn{sess: sess, writable: write, writes: make(map[string]mutation)}
	committed := false
	defer func() {
		t.done = true
		if !committed {
			sess.rollback(ctx)
		}
		ok := committed && err == nil
		for _, hook := range t.hooks {
			hook(ok)
		}
	}()
	txCtx := context.WithValue(ctx, txKey{store: e}, t)
	if err := fn(txCtx, t); err != nil {
		return err
	}
	if !write {
		return nil
	}
	committed = true
	return sess.commit(ctx, t.mutations())
}

func (t *txn) Get(ctx context.Context, key string) ([]byte, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if m, ok := t.writes[key]; ok {
		if m.delete {
			return nil, ErrNotFound
		}
		return cloneBytes(m.value), nil
	}
	return t.sess.get(ctx, key)
}

func (t *txn) Scan(ctx context.Context, prefix string) ([]Pair, error) {
	if t.done {
		return nil, ErrTxDone
	}
	stored, err := t.sess.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(stored))
	for _, p := range stored {
		merged[p.Key] = p.Value
	}
	for key, m := range t.writes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if m.delete {
			delete(merged, key)
			continue
		}
		merged[key] = cloneBytes(m.value)
	}
	out := make([]Pair, 0, len(merged))
	for key, value := range merged {
		out = append(out, Pair{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *txn) Put(key string, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	if !t.writable {
		return ErrReadOnly
	}
	if key == "" {
		return errors.New("kv: key required")
	}
	t.writes[key] = mutation{key: key, value: cloneBytes(value)}
	return nil
}

func (t *txn) Delete(key string) error {
	if t.done {
		return ErrTxDone
	}
	if !t.writable {
		return ErrReadOnly
	}
	t.writes[key] = mutation{key: key, delete: true}
	return nil
}

func (t *txn) mutations() []mutation {
	out := make([]mutation, 0, len(t.writes))
	for _, m := range t.writes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
