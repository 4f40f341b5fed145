// Package ledgertest wires the ledger, stock ledger and posting engine on an
// in-memory store for package tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/internal/testing/guard"
)

// Fixture bundles services sharing one store.
type Fixture struct {
	Store     kv.Store
	Audit     *shared.AuditLogger
	Ledger    *accounting.Service
	Stock     *inventory.Service
	Directory *masterdata.Directory
	Engine    *posting.Engine
	Roles     accounting.RoleTable
	Now       time.Time
}

// Option tweaks the fixture before wiring.
type Option func(*options)

type options struct {
	stock inventory.ServiceConfig
}

// WithStockConfig overrides the stock ledger configuration.
func WithStockConfig(cfg inventory.ServiceConfig) Option {
	return func(o *options) { o.stock = cfg }
}

// New seeds the default chart and returns the wired fixture.
func New(t testing.TB, opts ...Option) *Fixture {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	audit := shared.NewAuditLogger(store)
	ledger := accounting.NewService(accounting.NewRepository(store), audit, nil)
	ledger.WithNow(clock)
	stock := inventory.NewService(inventory.NewRepository(store), o.stock, nil)
	stock.WithNow(clock)
	dir := masterdata.NewService(masterdata.NewRepository(store), "IDR")
	dir.WithNow(clock)

	ctx := context.Background()
	_, err := ledger.SeedChart(ctx)
	require.NoError(t, err)
	roles, err := ledger.ResolveRoles(ctx, nil)
	require.NoError(t, err)

	return &Fixture{
		Store:     store,
		Audit:     audit,
		Ledger:    ledger,
		Stock:     stock,
		Directory: dir,
		Engine:    posting.NewEngine(store, ledger, stock, dir, roles, nil),
		Roles:     roles,
		Now:       now,
	}
}

// Clock returns the fixed fixture time.
func (f *Fixture) Clock() time.Time {
	return f.Now
}

// Item registers an item in the directory.
func (f *Fixture) Item(t testing.TB, id string, kind masterdata.ItemKind, tracking masterdata.TrackingMode) masterdata.Item {
	t.Helper()
	item, err := f.Directory.UpsertItem(context.Background(), masterdata.Item{
		ID: id, SKU: id, Name: id, Kind: kind, Tracking: tracking, Unit: "pcs", IsActive: true,
	})
	require.NoError(t, err)
	return item
}

// Balance returns the natural balance of the account bound to role as a
// two-decimal string.
func (f *Fixture) Balance(t testing.TB, role accounting.Role) string {
	t.Helper()
	code := accounting.DefaultRoleCodes()[role]
	bal, err := f.Ledger.GetBalance(context.Background(), code)
	require.NoError(t, err)
	return bal.Balance.StringFixed(2)
}

// OnHand returns the stock balance of item at location.
func (f *Fixture) OnHand(t testing.TB, item, location string) inventory.StockBalance {
	t.Helper()
	bal, err := f.Stock.GetBalance(context.Background(), item, location)
	require.NoError(t, err)
	return bal
}

// Receive loads stock through an opening-balance entry.
func (f *Fixture) Receive(t testing.TB, item, location, qty, cost string) {
	t.Helper()
	_, err := f.Stock.CreateEntry(context.Background(), inventory.EntryInput{
		ItemID: item, LocationID: location, SourceType: inventory.SourceOpeningBalance, SourceNo: "OPEN",
		QtyIn: D(qty), UnitCost: D(cost),
	})
	require.NoError(t, err)
}

// AssertBalanced checks the trial balance and the accounting equation.
func (f *Fixture) AssertBalanced(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	tb, err := f.Ledger.TrialBalance(ctx)
	require.NoError(t, err)
	require.True(t, tb.IsBalanced, "trial balance debit %s credit %s", tb.TotalDebit, tb.TotalCredit)
	bs, err := f.Ledger.BalanceSheet(ctx)
	require.NoError(t, err)
	require.True(t, bs.IsBalanced, "balance sheet out of balance")
}

// D parses a decimal literal.
func D(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
