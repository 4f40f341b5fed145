package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{Invalid("qty", "must be positive"), ErrValidation},
		{NotFound("item", "X"), ErrNotFound},
		{InvalidTransition("purchase order", "DRAFT", "RECEIVED", "APPROVED"), ErrInvalidState},
		{&InsufficientStockError{ItemID: "A", Requested: decimal.NewFromInt(2)}, ErrInsufficientStock},
		{&AlreadyPostedError{Entity: "invoice", Number: "INV-0001"}, ErrAlreadyPosted},
		{&NoActiveBOMError{ItemID: "FG"}, ErrNoActiveBOM},
		{&UnbalancedJournalError{}, ErrUnbalanced},
		{&UnbalancedJournalError{}, ErrValidation},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		require.True(t, errors.Is(wrapped, tc.sentinel), "%v should match %v", tc.err, tc.sentinel)
	}

	var stockErr *InsufficientStockError
	require.True(t, errors.As(fmt.Errorf("x: %w", &InsufficientStockError{ItemID: "A"}), &stockErr))
	require.Equal(t, "A", stockErr.ItemID)
	require.False(t, errors.Is(NotFound("item", "X"), ErrValidation))
}

func TestNumbering(t *testing.T) {
	require.Equal(t, "PO-0001", FormatNumber(KindPurchaseOrder, 1))
	require.Equal(t, "GRN-00012", FormatNumber(KindGoodsReceipt, 12))
	require.Equal(t, "JRNL-00001", FormatNumber(KindJournal, 1))

	store := kv.NewMemoryStore()
	var numbers []string
	for i := 0; i < 3; i++ {
		err := store.Update(context.Background(), func(ctx context.Context, tx kv.Tx) error {
			n, err := NextNumber(ctx, tx, KindSalesOrder)
			numbers = append(numbers, n)
			return err
		})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"SO-0001", "SO-0002", "SO-0003"}, numbers)
}

func TestAuditLoggerRecordsAndFilters(t *testing.T) {
	store := kv.NewMemoryStore()
	logger := NewAuditLogger(store)
	ctx := ContextWithActor(context.Background(), "alice")

	require.NoError(t, logger.Record(ctx, AuditLog{Action: "po.approve", Entity: "purchase_order", EntityID: "PO-0001"}))
	require.NoError(t, logger.Record(ctx, AuditLog{Action: "so.confirm", Entity: "sales_order", EntityID: "SO-0001"}))
	require.Error(t, logger.Record(ctx, AuditLog{Action: "x"}))

	logs, err := logger.List(ctx, "purchase_order", "")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "alice", logs[0].ActorID)
	require.False(t, logs[0].At.IsZero())

	all, err := logger.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	page, meta := Paginate(items, 2, 2)
	require.Equal(t, []int{3, 4}, page)
	require.Equal(t, 3, meta.TotalPages)

	empty, _ := Paginate(items, 9, 2)
	require.Empty(t, empty)
}

func TestMoneyHelpers(t *testing.T) {
	require.True(t, NearlyEqual(decimal.RequireFromString("10.004"), decimal.RequireFromString("10")))
	require.False(t, NearlyEqual(decimal.RequireFromString("10.02"), decimal.RequireFromString("10")))
	require.Equal(t, "2.35", Round2(decimal.RequireFromString("2.345")).StringFixed(2))
}
