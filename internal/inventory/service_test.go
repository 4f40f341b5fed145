package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newStockService(cfg ServiceConfig) *Service {
	return NewService(NewRepository(kv.NewMemoryStore()), cfg, nil)
}

func inbound(item, loc, q, cost string) EntryInput {
	return EntryInput{ItemID: item, LocationID: loc, SourceType: SourceGRN, SourceNo: "GRN-00001", QtyIn: qty(q), UnitCost: qty(cost)}
}

func outbound(item, loc, q string) EntryInput {
	return EntryInput{ItemID: item, LocationID: loc, SourceType: SourceSalesInvoice, SourceNo: "INV-0001", QtyOut: qty(q)}
}

func TestAverageMovingCost(t *testing.T) {
	for _, mode := range []BalanceMode{BalanceModeIncremental, BalanceModeReplay} {
		t.Run(string(mode), func(t *testing.T) {
			svc := newStockService(ServiceConfig{BalanceMode: mode})
			ctx := context.Background()

			_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "10", "100000"))
			require.NoError(t, err)
			_, err = svc.CreateEntry(ctx, inbound("P1", "WH1", "5", "120000"))
			require.NoError(t, err)

			bal, err := svc.GetBalance(ctx, "P1", "WH1")
			require.NoError(t, err)
			require.Equal(t, "15", bal.BalanceQty.String())
			require.Equal(t, "106666.67", bal.AvgCost.StringFixed(2))
			require.Equal(t, "1600000.00", bal.NetCost.StringFixed(2))

			out, err := svc.CreateEntry(ctx, outbound("P1", "WH1", "8"))
			require.NoError(t, err)
			require.Equal(t, "106666.67", out.UnitCost.StringFixed(2))

			bal, err = svc.GetBalance(ctx, "P1", "WH1")
			require.NoError(t, err)
			require.Equal(t, "7", bal.BalanceQty.String())
			require.Equal(t, "106666.67", bal.AvgCost.StringFixed(2))
			require.Equal(t, "746666.67", bal.StockValue.StringFixed(2))
		})
	}
}

func TestFullIssueClearsCost(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "3", "10"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, inbound("P1", "WH1", "3", "11"))
	require.NoError(t, err)
	out, err := svc.CreateEntry(ctx, outbound("P1", "WH1", "6"))
	require.NoError(t, err)
	require.Equal(t, "63.00", out.TotalCost.StringFixed(2))

	bal, err := svc.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)
	require.True(t, bal.BalanceQty.IsZero())
	require.True(t, bal.NetCost.IsZero())
	require.True(t, bal.AvgCost.IsZero())
}

func TestCostedDrainClearsRemainder(t *testing.T) {
	for _, mode := range []BalanceMode{BalanceModeIncremental, BalanceModeReplay} {
		t.Run(string(mode), func(t *testing.T) {
			svc := newStockService(ServiceConfig{BalanceMode: mode})
			ctx := context.Background()

			_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "4", "10"))
			require.NoError(t, err)
			drain := outbound("P1", "WH1", "4")
			drain.UnitCost = qty("9")
			out, err := svc.CreateEntry(ctx, drain)
			require.NoError(t, err)
			require.Equal(t, "36.00", out.TotalCost.StringFixed(2))

			bal, err := svc.GetBalance(ctx, "P1", "WH1")
			require.NoError(t, err)
			require.True(t, bal.BalanceQty.IsZero())
			require.True(t, bal.NetCost.IsZero())

			_, err = svc.CreateEntry(ctx, inbound("P1", "WH1", "2", "12"))
			require.NoError(t, err)
			bal, err = svc.GetBalance(ctx, "P1", "WH1")
			require.NoError(t, err)
			require.Equal(t, "12.00", bal.AvgCost.StringFixed(2))
			require.Equal(t, "24.00", bal.StockValue.StringFixed(2))
		})
	}
}

func TestNegativeStockGuard(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, outbound("P1", "WH1", "1"))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	entries, err := svc.GetStockCard(ctx, StockCardFilter{ItemID: "P1", LocationID: "WH1"})
	require.NoError(t, err)
	require.Empty(t, entries)

	permissive := newStockService(ServiceConfig{AllowNegativeStock: true})
	_, err = permissive.CreateEntry(ctx, outbound("P1", "WH1", "1"))
	require.NoError(t, err)
	bal, err := permissive.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)
	require.Equal(t, "-1", bal.BalanceQty.String())
	require.True(t, bal.AvgCost.IsZero())
}

func TestCreateEntryValidation(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()

	both := inbound("P1", "WH1", "1", "1")
	both.QtyOut = qty("1")
	_, err := svc.CreateEntry(ctx, both)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateEntry(ctx, inbound("P1", "WH1", "1", "-1"))
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	serial := inbound("P1", "WH1", "2", "1")
	serial.SerialNo = "SN-1"
	_, err = svc.CreateEntry(ctx, serial)
	require.ErrorIs(t, err, ErrSerialQuantity)
}

func TestBatchFEFOAllocation(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()

	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b2 := inbound("MED", "WH1", "10", "2")
	b2.BatchNo, b2.ExpiryDate = "B-JUN", &late
	b1 := inbound("MED", "WH1", "5", "2")
	b1.BatchNo, b1.ExpiryDate = "B-JAN", &early
	nob := inbound("MED", "WH1", "4", "2")
	nob.BatchNo = "B-NONE"
	for _, in := range []EntryInput{nob, b2, b1} {
		_, err := svc.CreateEntry(ctx, in)
		require.NoError(t, err)
	}

	batches, err := svc.GetBatchBalances(ctx, "MED", "WH1")
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, "B-JAN", batches[0].BatchNo)
	require.Equal(t, "B-JUN", batches[1].BatchNo)
	require.Equal(t, "B-NONE", batches[2].BatchNo)

	alloc, err := svc.AllocateBatches(ctx, "MED", "WH1", qty("7"))
	require.NoError(t, err)
	require.Len(t, alloc, 2)
	require.Equal(t, "B-JAN", alloc[0].BatchNo)
	require.Equal(t, "5", alloc[0].Qty.String())
	require.Equal(t, "B-JUN", alloc[1].BatchNo)
	require.Equal(t, "2", alloc[1].Qty.String())

	_, err = svc.AllocateBatches(ctx, "MED", "WH1", qty("20"))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	out := outbound("MED", "WH1", "5")
	out.BatchNo = "B-JAN"
	_, err = svc.CreateEntry(ctx, out)
	require.NoError(t, err)
	batches, err = svc.GetBatchBalances(ctx, "MED", "WH1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, "B-JUN", batches[0].BatchNo)

	over := outbound("MED", "WH1", "11")
	over.BatchNo = "B-JUN"
	_, err = svc.CreateEntry(ctx, over)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestSerialFIFOAllocation(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, sn := range []string{"SN-3", "SN-1", "SN-2"} {
		in := inbound("PHONE", "WH1", "1", "100")
		in.SerialNo = sn
		in.TxnDate = base.Add(time.Duration(i) * time.Hour)
		_, err := svc.CreateEntry(ctx, in)
		require.NoError(t, err)
	}

	dup := inbound("PHONE", "WH1", "1", "100")
	dup.SerialNo = "SN-1"
	_, err := svc.CreateEntry(ctx, dup)
	require.ErrorIs(t, err, shared.ErrValidation)

	alloc, err := svc.AllocateSerials(ctx, "PHONE", "WH1", 2)
	require.NoError(t, err)
	require.Equal(t, "SN-3", alloc[0].SerialNo)
	require.Equal(t, "SN-1", alloc[1].SerialNo)

	sold := outbound("PHONE", "WH1", "1")
	sold.SerialNo = "SN-1"
	_, err = svc.CreateEntry(ctx, sold)
	require.NoError(t, err)

	serials, err := svc.GetAvailableSerials(ctx, "PHONE", "WH1")
	require.NoError(t, err)
	require.Equal(t, []string{"SN-3", "SN-2"}, serials)

	again := outbound("PHONE", "WH1", "1")
	again.SerialNo = "SN-1"
	_, err = svc.CreateEntry(ctx, again)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = svc.AllocateSerials(ctx, "PHONE", "WH1", 3)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestRecalculateAllBalancesConverges(t *testing.T) {
	store := kv.NewMemoryStore()
	svc := NewService(NewRepository(store), ServiceConfig{}, nil)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "10", "3"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, inbound("P1", "WH2", "4", "5"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, outbound("P1", "WH1", "2.5"))
	require.NoError(t, err)

	before, err := svc.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)

	err = store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		return kv.PutJSON(tx, balanceKey("P1", "WH1"), StockBalance{ItemID: "P1", LocationID: "WH1", BalanceQty: qty("99")})
	})
	require.NoError(t, err)

	n, err := svc.RecalculateAllBalances(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	first, err := svc.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)
	require.True(t, before.BalanceQty.Equal(first.BalanceQty))
	require.True(t, before.NetCost.Equal(first.NetCost))

	_, err = svc.RecalculateAllBalances(ctx)
	require.NoError(t, err)
	second, err := svc.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)
	require.True(t, first.BalanceQty.Equal(second.BalanceQty))
	require.True(t, first.AvgCost.Equal(second.AvgCost))
	require.Equal(t, "7.5", second.BalanceQty.String())
}

func TestConcurrentIssuesCannotOversell(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()
	_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "10", "1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateEntry(ctx, outbound("P1", "WH1", "1"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
	}
	require.Equal(t, 10, succeeded)

	bal, err := svc.GetBalance(ctx, "P1", "WH1")
	require.NoError(t, err)
	require.True(t, bal.BalanceQty.IsZero())
}

func TestStockCardAndValuation(t *testing.T) {
	svc := newStockService(ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, inbound("P1", "WH1", "10", "2"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, outbound("P1", "WH1", "4"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, inbound("P2", "WH1", "1", "7.5"))
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, inbound("P1", "WH2", "2", "3"))
	require.NoError(t, err)

	card, err := svc.GetStockCard(ctx, StockCardFilter{ItemID: "P1", LocationID: "WH1"})
	require.NoError(t, err)
	require.Len(t, card, 2)
	require.Equal(t, "10", card[0].BalanceQty.String())
	require.Equal(t, "6", card[1].BalanceQty.String())
	require.Equal(t, "2.00", card[1].BalanceCost.StringFixed(2))

	available, err := svc.CheckStockAvailability(ctx, "P1", "WH1", qty("6"))
	require.NoError(t, err)
	require.True(t, available)
	available, err = svc.CheckStockAvailability(ctx, "P1", "WH1", qty("6.01"))
	require.NoError(t, err)
	require.False(t, available)

	report, err := svc.ValuationReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Locations, 2)
	require.Equal(t, "WH1", report.Locations[0].LocationID)
	require.Equal(t, "19.50", report.Locations[0].StockValue.StringFixed(2))
	require.Equal(t, "25.50", report.TotalValue.StringFixed(2))
}
