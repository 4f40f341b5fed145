package posting_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
)

var d = ledgertest.D

func doc(number string) posting.Document {
	return posting.Document{ID: uuid.New(), Number: number, Date: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)}
}

func TestGoodsReceiptPostsInventoryAgainstPayables(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()

	res, err := fx.Engine.PostGoodsReceipt(ctx, posting.GoodsReceiptEvent{
		Document: doc("GRN-00001"),
		Lines:    []posting.PurchaseLine{{ItemID: "A", LocationID: "WH1", Qty: d("100"), UnitCost: d("2.50")}},
	})
	require.NoError(t, err)
	require.Len(t, res.Journals, 1)
	require.Len(t, res.StockEntries, 1)

	j := res.Journals[0]
	require.Equal(t, "250.00", j.TotalDebit.StringFixed(2))
	require.Equal(t, "250.00", j.TotalCredit.StringFixed(2))
	require.Equal(t, posting.ModuleProcurement, j.SourceModule)
	require.Equal(t, "GRN-00001", j.SourceNo)
	require.Equal(t, "250.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "250.00", fx.Balance(t, accounting.RoleAP))

	bal := fx.OnHand(t, "A", "WH1")
	require.Equal(t, "100", bal.BalanceQty.String())
	require.Equal(t, "2.50", bal.AvgCost.StringFixed(2))
	fx.AssertBalanced(t)
}

func TestPaymentModeSelectsSettlementAccount(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()

	_, err := fx.Engine.PostGoodsReceipt(ctx, posting.GoodsReceiptEvent{
		Document:    doc("GRN-00001"),
		PaymentMode: posting.PaymentCash,
		Lines:       []posting.PurchaseLine{{ItemID: "A", LocationID: "WH1", Qty: d("4"), UnitCost: d("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, "-20.00", fx.Balance(t, accounting.RoleCash))
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))

	_, err = fx.Engine.PostCustomerReceipt(ctx, posting.PaymentEvent{Document: doc("RCPT-0001"), PaymentMode: posting.PaymentCard, Amount: d("30")})
	require.NoError(t, err)
	require.Equal(t, "30.00", fx.Balance(t, accounting.RoleBank))
	require.Equal(t, "-30.00", fx.Balance(t, accounting.RoleAR))

	_, err = fx.Engine.PostSupplierPayment(ctx, posting.PaymentEvent{Document: doc("PAY-0001"), PaymentMode: posting.PaymentCredit, Amount: d("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSalesInvoicePostsRevenueAndCOGS(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	fx.Item(t, "FG", masterdata.ItemKindFinishedGood, masterdata.TrackingNone)
	fx.Item(t, "SETUP", masterdata.ItemKindService, masterdata.TrackingNone)
	fx.Receive(t, "FG", "WH1", "10", "4")

	res, err := fx.Engine.PostSalesInvoice(ctx, posting.SalesInvoiceEvent{
		Document: doc("INV-0001"),
		Lines: []posting.SalesLine{
			{ItemID: "FG", LocationID: "WH1", Qty: d("3"), UnitPrice: d("10"), TaxAmount: d("3.30")},
			{ItemID: "SETUP", Qty: d("1"), UnitPrice: d("5")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Journals, 2)
	require.Len(t, res.StockEntries, 1)
	require.Equal(t, "38.30", res.Journals[0].TotalDebit.StringFixed(2))
	require.Equal(t, "12.00", res.Journals[1].TotalDebit.StringFixed(2))

	require.Equal(t, "38.30", fx.Balance(t, accounting.RoleAR))
	require.Equal(t, "35.00", fx.Balance(t, accounting.RoleSalesRevenue))
	require.Equal(t, "3.30", fx.Balance(t, accounting.RoleVATPayable))
	require.Equal(t, "12.00", fx.Balance(t, accounting.RoleCOGS))
	require.Equal(t, "-12.00", fx.Balance(t, accounting.RoleFinishedGoods))
	require.Equal(t, "7", fx.OnHand(t, "FG", "WH1").BalanceQty.String())
}

func TestSalesInvoiceAllocatesTrackedLots(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	fx.Item(t, "MILK", masterdata.ItemKindMerchandise, masterdata.TrackingBatch)
	fx.Item(t, "PHONE", masterdata.ItemKindMerchandise, masterdata.TrackingSerial)

	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := fx.Engine.PostOpeningStock(ctx, posting.OpeningStockEvent{
		Document: doc("ADJ-0001"),
		Lines: []posting.PurchaseLine{
			{ItemID: "MILK", LocationID: "WH1", Qty: d("10"), UnitCost: d("1"), BatchNo: "B-LATE", ExpiryDate: &late},
			{ItemID: "MILK", LocationID: "WH1", Qty: d("5"), UnitCost: d("1"), BatchNo: "B-EARLY", ExpiryDate: &early},
			{ItemID: "PHONE", LocationID: "WH1", Qty: d("2"), UnitCost: d("100"), Serials: []string{"SN-1", "SN-2"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "215.00", fx.Balance(t, accounting.RoleOpeningEquity))

	res, err := fx.Engine.PostSalesInvoice(ctx, posting.SalesInvoiceEvent{
		Document: doc("INV-0001"),
		Lines: []posting.SalesLine{
			{ItemID: "MILK", LocationID: "WH1", Qty: d("7"), UnitPrice: d("2")},
			{ItemID: "PHONE", LocationID: "WH1", Qty: d("1"), UnitPrice: d("150")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.StockEntries, 3)
	require.Equal(t, "B-EARLY", res.StockEntries[0].BatchNo)
	require.Equal(t, "5", res.StockEntries[0].QtyOut.String())
	require.Equal(t, "B-LATE", res.StockEntries[1].BatchNo)
	require.Equal(t, "2", res.StockEntries[1].QtyOut.String())
	require.Equal(t, "SN-1", res.StockEntries[2].SerialNo)

	serials, err := fx.Stock.GetAvailableSerials(ctx, "PHONE", "WH1")
	require.NoError(t, err)
	require.Equal(t, []string{"SN-2"}, serials)
}

func TestSalesInvoiceInsufficientStockWritesNothing(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	fx.Receive(t, "A", "WH1", "2", "4")

	_, err := fx.Engine.PostSalesInvoice(ctx, posting.SalesInvoiceEvent{
		Document: doc("INV-0001"),
		Lines: []posting.SalesLine{
			{ItemID: "A", LocationID: "WH1", Qty: d("1"), UnitPrice: d("10")},
			{ItemID: "A", LocationID: "WH1", Qty: d("5"), UnitPrice: d("10")},
		},
	})
	var stockErr *shared.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))

	require.Equal(t, "2", fx.OnHand(t, "A", "WH1").BalanceQty.String())
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAR))
	journals, err := fx.Ledger.ListJournals(ctx)
	require.NoError(t, err)
	require.Empty(t, journals)
}

func TestProductionIssueAndOutput(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	fx.Item(t, "FLOUR", masterdata.ItemKindRawMaterial, masterdata.TrackingNone)
	fx.Item(t, "CAKE", masterdata.ItemKindFinishedGood, masterdata.TrackingNone)
	fx.Receive(t, "FLOUR", "WH1", "20", "2")

	res, err := fx.Engine.PostProductionIssue(ctx, posting.ProductionIssueEvent{
		Document: doc("PRD-0001"),
		Lines:    []posting.MaterialLine{{ItemID: "FLOUR", LocationID: "WH1", Qty: d("5"), UnitCost: d("2.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, "10.00", res.Journals[0].TotalDebit.StringFixed(2))
	require.Equal(t, "10.00", fx.Balance(t, accounting.RoleWIP))
	require.Equal(t, "-10.00", fx.Balance(t, accounting.RoleRawMaterials))

	_, err = fx.Engine.PostProductionOutput(ctx, posting.ProductionOutputEvent{
		Document: doc("PRD-0001"), ItemID: "CAKE", LocationID: "WH1", Qty: d("10"), UnitCost: d("1.50"),
	})
	require.NoError(t, err)
	require.Equal(t, "15.00", fx.Balance(t, accounting.RoleFinishedGoods))
	require.Equal(t, "-5.00", fx.Balance(t, accounting.RoleWIP))
	require.Equal(t, "10", fx.OnHand(t, "CAKE", "WH1").BalanceQty.String())
}

func TestReturnsReverseStockAndLedger(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()

	_, err := fx.Engine.PostGoodsReceipt(ctx, posting.GoodsReceiptEvent{
		Document: doc("GRN-00001"),
		Lines:    []posting.PurchaseLine{{ItemID: "A", LocationID: "WH1", Qty: d("10"), UnitCost: d("3")}},
	})
	require.NoError(t, err)

	_, err = fx.Engine.PostPurchaseReturn(ctx, posting.PurchaseReturnEvent{
		Document: doc("PRTN-0001"),
		Lines:    []posting.ReturnLine{{ItemID: "A", LocationID: "WH1", Qty: d("2"), UnitCost: d("3")}},
	})
	require.NoError(t, err)
	require.Equal(t, "24.00", fx.Balance(t, accounting.RoleAP))
	require.Equal(t, "24.00", fx.Balance(t, accounting.RoleInventory))

	res, err := fx.Engine.PostSalesReturn(ctx, posting.SalesReturnEvent{
		Document: doc("SRTN-0001"),
		Lines:    []posting.ReturnLine{{ItemID: "A", LocationID: "WH1", Qty: d("1"), UnitPrice: d("8"), TaxAmount: d("0.88")}},
	})
	require.NoError(t, err)
	require.Len(t, res.Journals, 2)
	require.Equal(t, "-8.00", fx.Balance(t, accounting.RoleSalesReturns))
	require.Equal(t, "-0.88", fx.Balance(t, accounting.RoleVATPayable))
	require.Equal(t, "-8.88", fx.Balance(t, accounting.RoleAR))
	require.Equal(t, "-3.00", fx.Balance(t, accounting.RoleCOGS))
	require.Equal(t, "27.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "9", fx.OnHand(t, "A", "WH1").BalanceQty.String())
	fx.AssertBalanced(t)
}

func TestStockAdjustmentAndTransfer(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	fx.Receive(t, "A", "WH1", "10", "2")

	_, err := fx.Engine.PostStockAdjustment(ctx, posting.StockAdjustmentEvent{
		Document: doc("ADJ-0001"),
		Reason:   "cycle count",
		Lines: []posting.AdjustmentLine{
			{ItemID: "A", LocationID: "WH1", Qty: d("-3")},
			{ItemID: "B", LocationID: "WH1", Qty: d("4"), UnitCost: d("1.25")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "6.00", fx.Balance(t, accounting.RoleInventoryLoss))
	require.Equal(t, "5.00", fx.Balance(t, accounting.RoleInventoryGain))
	require.Equal(t, "-1.00", fx.Balance(t, accounting.RoleInventory))

	res, err := fx.Engine.PostStockTransfer(ctx, posting.StockTransferEvent{
		Document:       doc("TRF-0001"),
		FromLocationID: "WH1",
		ToLocationID:   "WH2",
		Lines:          []posting.TransferLine{{ItemID: "A", Qty: d("7")}},
	})
	require.NoError(t, err)
	require.Empty(t, res.Journals)
	require.Len(t, res.StockEntries, 2)
	require.True(t, fx.OnHand(t, "A", "WH1").BalanceQty.IsZero())
	moved := fx.OnHand(t, "A", "WH2")
	require.Equal(t, "7", moved.BalanceQty.String())
	require.Equal(t, "14.00", moved.StockValue.StringFixed(2))
}

func TestForeignCurrencyConvertsAtPostingRate(t *testing.T) {
	fx := ledgertest.New(t)
	ctx := context.Background()
	_, err := fx.Directory.UpsertCurrency(ctx, masterdata.Currency{Code: "USD", Name: "US Dollar", ExchangeRate: d("15000")})
	require.NoError(t, err)

	evt := posting.PaymentEvent{Document: doc("PAY-0001"), PaymentMode: posting.PaymentBank, Amount: d("2")}
	evt.Currency = "USD"
	_, err = fx.Engine.PostSupplierPayment(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, "-30000.00", fx.Balance(t, accounting.RoleAP))
	require.Equal(t, "-30000.00", fx.Balance(t, accounting.RoleBank))
}

func TestEngineRejectsAnonymousDocuments(t *testing.T) {
	fx := ledgertest.New(t)
	_, err := fx.Engine.PostCustomerReceipt(context.Background(), posting.PaymentEvent{Amount: d("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMetricsCountOutcomes(t *testing.T) {
	fx := ledgertest.New(t)
	reg := prometheus.NewRegistry()
	metrics := posting.NewMetrics(reg)
	engine := posting.NewEngine(fx.Store, fx.Ledger, fx.Stock, fx.Directory, fx.Roles, nil).WithMetrics(metrics)
	ctx := context.Background()

	_, err := engine.PostCustomerReceipt(ctx, posting.PaymentEvent{Document: doc("RCPT-0001"), Amount: d("5")})
	require.NoError(t, err)
	_, err = engine.PostProductionIssue(ctx, posting.ProductionIssueEvent{
		Document: doc("PRD-0001"),
		Lines:    []posting.MaterialLine{{ItemID: "X", LocationID: "WH1", Qty: d("1")}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	count, err := testutil.GatherAndCount(reg, "odyssey_postings_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP odyssey_journals_posted_total Journals written by the posting engine per event.
# TYPE odyssey_journals_posted_total counter
odyssey_journals_posted_total{event="customer_receipt"} 1
`), "odyssey_journals_posted_total"))
}

func TestMetricsWaitForEnclosingCommit(t *testing.T) {
	fx := ledgertest.New(t)
	reg := prometheus.NewRegistry()
	engine := posting.NewEngine(fx.Store, fx.Ledger, fx.Stock, fx.Directory, fx.Roles, nil).WithMetrics(posting.NewMetrics(reg))
	ctx := context.Background()
	abort := errors.New("abort")

	err := fx.Store.Update(ctx, func(ctx context.Context, _ kv.Tx) error {
		if _, err := engine.PostCustomerReceipt(ctx, posting.PaymentEvent{Document: doc("RCPT-0001"), Amount: d("5")}); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleCash))

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP odyssey_postings_total Total posting attempts partitioned by event and outcome.
# TYPE odyssey_postings_total counter
odyssey_postings_total{event="customer_receipt",outcome="rolled_back"} 1
`), "odyssey_postings_total"))
	count, err := testutil.GatherAndCount(reg, "odyssey_journals_posted_total")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStockDocumentsNumberSequentially(t *testing.T) {
	fx := ledgertest.New(t)
	fx.Receive(t, "A", "WH1", "5", "1")
	docs := posting.NewStockDocuments(fx.Store, fx.Engine, fx.Audit, nil)
	ctx := context.Background()

	first, err := docs.Transfer(ctx, posting.StockTransferEvent{
		FromLocationID: "WH1", ToLocationID: "WH2",
		Lines: []posting.TransferLine{{ItemID: "A", Qty: d("1")}},
	})
	require.NoError(t, err)
	second, err := docs.Adjust(ctx, posting.StockAdjustmentEvent{
		Lines: []posting.AdjustmentLine{{ItemID: "A", LocationID: "WH1", Qty: d("-1")}},
	})
	require.NoError(t, err)

	require.Equal(t, "TRF-0001", first.StockEntries[0].SourceNo)
	require.Equal(t, "ADJ-0001", second.StockEntries[0].SourceNo)
	logs, err := fx.Audit.List(ctx, "stock_document", "")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, inventory.SourceAdjustmentOut, second.StockEntries[0].SourceType)
}
