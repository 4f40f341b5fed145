package procurement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/procurement"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
)

var d = ledgertest.D

func newService(t *testing.T) (*ledgertest.Fixture, *procurement.Service) {
	t.Helper()
	fx := ledgertest.New(t)
	svc := procurement.NewService(procurement.NewRepository(fx.Store), fx.Engine, fx.Audit, nil)
	svc.WithNow(fx.Clock)
	return fx, svc
}

func createPO(t *testing.T, svc *procurement.Service, mode posting.PaymentMode, lines ...procurement.POLineInput) procurement.PurchaseOrder {
	t.Helper()
	po, err := svc.CreatePurchaseOrder(context.Background(), procurement.CreatePOInput{
		SupplierID: "SUP-1", LocationID: "WH1", PaymentMode: mode, Lines: lines,
	})
	require.NoError(t, err)
	return po
}

func TestPurchaseOrderReceiptScenario(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()
	fx.Item(t, "WIDGET", masterdata.ItemKindMerchandise, masterdata.TrackingNone)

	po := createPO(t, svc, "", procurement.POLineInput{ItemID: "WIDGET", Qty: d("100"), UnitPrice: d("2.50")})
	require.Equal(t, "PO-0001", po.Number)
	require.Equal(t, procurement.POStatusDraft, po.Status)
	require.Equal(t, "250.00", po.Total.StringFixed(2))

	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusApproved, approval.Order.Status)
	require.Equal(t, "GRN-00001", approval.Receipt.Number)
	require.Equal(t, procurement.GRNStatusDraft, approval.Receipt.Status)
	require.Len(t, approval.Receipt.Lines, 1)
	require.True(t, d("100").Equal(approval.Receipt.Lines[0].Qty))
	require.True(t, d("2.50").Equal(approval.Receipt.Lines[0].UnitCost))
	require.NotNil(t, approval.Payment)
	require.Equal(t, procurement.PaymentStatusPending, approval.Payment.Status)
	require.Equal(t, "250.00", approval.Payment.Amount.StringFixed(2))
	require.Equal(t, fx.Now.AddDate(0, 0, procurement.PaymentTermDays), approval.Payment.DueDate)

	grn, err := svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.GRNStatusConfirmed, grn.Status)
	require.True(t, grn.IsPosted)
	require.Len(t, grn.JournalIDs, 1)

	require.Equal(t, "250.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "250.00", fx.Balance(t, accounting.RoleAP))
	bal := fx.OnHand(t, "WIDGET", "WH1")
	require.Equal(t, "100", bal.BalanceQty.String())
	require.Equal(t, "2.50", bal.AvgCost.StringFixed(2))

	po, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusReceived, po.Status)
	require.True(t, d("100").Equal(po.Lines[0].ReceivedQty))

	_, err = svc.ConfirmGoodsReceipt(ctx, grn.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	paid, err := svc.PaySupplier(ctx, approval.Payment.ID, posting.PaymentBank)
	require.NoError(t, err)
	require.Equal(t, procurement.PaymentStatusPaid, paid.Status)
	require.True(t, paid.IsPosted)
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))
	require.Equal(t, "-250.00", fx.Balance(t, accounting.RoleBank))

	_, err = svc.PaySupplier(ctx, approval.Payment.ID, posting.PaymentBank)
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)

	po, err = svc.ClosePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, po.Status)
	fx.AssertBalanced(t)

	logs, err := fx.Audit.List(ctx, "purchase_order", po.ID.String())
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, "po.approve", logs[1].Action)
}

func TestPartialReceiptsAndOverReceipt(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	po := createPO(t, svc, posting.PaymentCredit, procurement.POLineInput{ItemID: "BOLT", Qty: d("10"), UnitPrice: d("3"), TaxAmount: d("3")})
	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.UpdateGoodsReceiptLines(ctx, approval.Receipt.ID, []procurement.GRNLineInput{{LineNo: 1, Qty: d("4")}})
	require.NoError(t, err)
	_, err = svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)

	po, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPartiallyReceived, po.Status)
	require.Equal(t, "12.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "1.20", fx.Balance(t, accounting.RoleVATInput))
	require.Equal(t, "13.20", fx.Balance(t, accounting.RoleAP))

	_, err = svc.CreateGoodsReceipt(ctx, procurement.CreateGRNInput{
		POID: po.ID, Lines: []procurement.GRNLineInput{{LineNo: 1, Qty: d("7")}}, Confirm: true,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "12.00", fx.Balance(t, accounting.RoleInventory))

	rest, err := svc.CreateGoodsReceipt(ctx, procurement.CreateGRNInput{POID: po.ID, Confirm: true})
	require.NoError(t, err)
	require.Equal(t, "GRN-00002", rest.Number)
	require.True(t, d("6").Equal(rest.Lines[0].Qty))

	po, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusReceived, po.Status)
	require.Equal(t, "30.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "3.00", fx.Balance(t, accounting.RoleVATInput))
	require.Equal(t, "33.00", fx.Balance(t, accounting.RoleAP))

	_, err = svc.PaySupplier(ctx, approval.Payment.ID, "")
	require.NoError(t, err)
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))
	fx.AssertBalanced(t)
}

func TestReceiptRejectsRepeatedLines(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	po := createPO(t, svc, "", procurement.POLineInput{ItemID: "WIDGET", Qty: d("100"), UnitPrice: d("2.50")})
	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.CreateGoodsReceipt(ctx, procurement.CreateGRNInput{
		POID:    po.ID,
		Lines:   []procurement.GRNLineInput{{LineNo: 1, Qty: d("60")}, {LineNo: 1, Qty: d("60")}},
		Confirm: true,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateGoodsReceiptLines(ctx, approval.Receipt.ID, []procurement.GRNLineInput{{LineNo: 1, Qty: d("50")}, {LineNo: 1, Qty: d("50")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "0", fx.OnHand(t, "WIDGET", "WH1").BalanceQty.String())
	po, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusApproved, po.Status)
	require.True(t, po.Lines[0].ReceivedQty.IsZero())
}

func TestCancelPurchaseOrderCascades(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	po := createPO(t, svc, "", procurement.POLineInput{ItemID: "BOLT", Qty: d("5"), UnitPrice: d("1")})
	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	po, err = svc.CancelPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCancelled, po.Status)

	grn, err := svc.GetGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.GRNStatusCancelled, grn.Status)
	payments, err := svc.ListSupplierPayments(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, procurement.PaymentStatusCancelled, payments[0].Status)

	_, err = svc.ApprovePurchaseOrder(ctx, po.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	received := createPO(t, svc, "", procurement.POLineInput{ItemID: "BOLT", Qty: d("5"), UnitPrice: d("1")})
	approval, err = svc.ApprovePurchaseOrder(ctx, received.ID)
	require.NoError(t, err)
	_, err = svc.UpdateGoodsReceiptLines(ctx, approval.Receipt.ID, []procurement.GRNLineInput{{LineNo: 1, Qty: d("2")}})
	require.NoError(t, err)
	_, err = svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)

	_, err = svc.CancelPurchaseOrder(ctx, received.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	fx.AssertBalanced(t)
}

func TestCashPurchaseSettlesOnReceipt(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	po := createPO(t, svc, posting.PaymentCash, procurement.POLineInput{ItemID: "BOLT", Qty: d("10"), UnitPrice: d("5")})
	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Nil(t, approval.Payment)

	_, err = svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)
	require.Equal(t, "-50.00", fx.Balance(t, accounting.RoleCash))
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))
}

func TestPurchaseInvoicePostsOnce(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()
	fx.Item(t, "PART", masterdata.ItemKindMerchandise, masterdata.TrackingNone)
	fx.Item(t, "REPAIR", masterdata.ItemKindService, masterdata.TrackingNone)

	inv, err := svc.CreatePurchaseInvoice(ctx, procurement.CreateInvoiceInput{
		SupplierID: "SUP-1", SupplierRef: "BILL-77", LocationID: "WH1",
		Lines: []procurement.PurchaseInvoiceLine{
			{ItemID: "PART", Qty: d("5"), UnitCost: d("4"), TaxAmount: d("2")},
			{ItemID: "REPAIR", Qty: d("1"), UnitCost: d("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "PINV-0001", inv.Number)
	require.Equal(t, "32.00", inv.Total.StringFixed(2))
	require.Equal(t, fx.Now.AddDate(0, 0, procurement.PaymentTermDays), inv.DueDate)

	inv, err = svc.PostPurchaseInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.InvoiceStatusPosted, inv.Status)
	require.Equal(t, "20.00", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "10.00", fx.Balance(t, accounting.RolePurchaseExpense))
	require.Equal(t, "2.00", fx.Balance(t, accounting.RoleVATInput))
	require.Equal(t, "32.00", fx.Balance(t, accounting.RoleAP))
	require.Equal(t, "5", fx.OnHand(t, "PART", "WH1").BalanceQty.String())

	_, err = svc.PostPurchaseInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)

	_, err = svc.CreateSupplierPayment(ctx, procurement.CreatePaymentInput{InvoiceID: inv.ID, Amount: d("40")})
	require.ErrorIs(t, err, shared.ErrValidation)

	payment, err := svc.CreateSupplierPayment(ctx, procurement.CreatePaymentInput{InvoiceID: inv.ID, Amount: d("32")})
	require.NoError(t, err)
	require.Equal(t, "SUP-1", payment.SupplierID)
	_, err = svc.PaySupplier(ctx, payment.ID, posting.PaymentTransfer)
	require.NoError(t, err)

	inv, err = svc.GetPurchaseInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.InvoiceStatusPaid, inv.Status)
	require.Equal(t, "-32.00", fx.Balance(t, accounting.RoleBank))
	require.Equal(t, "0.00", fx.Balance(t, accounting.RoleAP))
	fx.AssertBalanced(t)
}

func TestPurchaseReturnFromReceipt(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	po := createPO(t, svc, "", procurement.POLineInput{ItemID: "BOLT", Qty: d("10"), UnitPrice: d("2.40")})
	approval, err := svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)

	_, err = svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "BOLT", Qty: d("11")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	ret, err := svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Reason: "damaged", Lines: []procurement.ReturnLine{{ItemID: "BOLT", Qty: d("3")}},
	})
	require.NoError(t, err)
	require.Equal(t, "PRTN-0001", ret.Number)
	require.Equal(t, "SUP-1", ret.SupplierID)
	require.Equal(t, "WH1", ret.LocationID)
	require.Equal(t, "7.20", ret.Total.StringFixed(2))

	_, err = svc.ProcessPurchaseReturn(ctx, ret.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.ApprovePurchaseReturn(ctx, ret.ID)
	require.NoError(t, err)
	ret, err = svc.ProcessPurchaseReturn(ctx, ret.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.ReturnStatusProcessed, ret.Status)
	require.True(t, ret.IsPosted)
	require.Equal(t, "16.80", fx.Balance(t, accounting.RoleAP))
	require.Equal(t, "16.80", fx.Balance(t, accounting.RoleInventory))
	require.Equal(t, "7", fx.OnHand(t, "BOLT", "WH1").BalanceQty.String())

	_, err = svc.ProcessPurchaseReturn(ctx, ret.ID)
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)
	_, err = svc.CancelPurchaseReturn(ctx, ret.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	fx.AssertBalanced(t)
}

func TestPurchaseReturnsCappedByReceipt(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()

	first := createPO(t, svc, "", procurement.POLineInput{ItemID: "WIDGET", Qty: d("10"), UnitPrice: d("2")})
	approval, err := svc.ApprovePurchaseOrder(ctx, first.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmGoodsReceipt(ctx, approval.Receipt.ID)
	require.NoError(t, err)

	second := createPO(t, svc, "", procurement.POLineInput{ItemID: "WIDGET", Qty: d("50"), UnitPrice: d("2")})
	_, err = svc.CreateGoodsReceipt(ctx, procurement.CreateGRNInput{POID: second.ID, Confirm: true})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	other, err := svc.ApprovePurchaseOrder(ctx, second.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmGoodsReceipt(ctx, other.Receipt.ID)
	require.NoError(t, err)
	require.Equal(t, "60", fx.OnHand(t, "WIDGET", "WH1").BalanceQty.String())

	ret, err := svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "WIDGET", Qty: d("8")}},
	})
	require.NoError(t, err)

	_, err = svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "WIDGET", Qty: d("8")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "WIDGET", Qty: d("1")}, {ItemID: "WIDGET", Qty: d("2")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.ApprovePurchaseReturn(ctx, ret.ID)
	require.NoError(t, err)
	_, err = svc.ProcessPurchaseReturn(ctx, ret.ID)
	require.NoError(t, err)
	require.Equal(t, "52", fx.OnHand(t, "WIDGET", "WH1").BalanceQty.String())

	rest, err := svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "WIDGET", Qty: d("2")}},
	})
	require.NoError(t, err)
	_, err = svc.CancelPurchaseReturn(ctx, rest.ID)
	require.NoError(t, err)

	_, err = svc.CreatePurchaseReturn(ctx, procurement.CreateReturnInput{
		GRNID: approval.Receipt.ID, Lines: []procurement.ReturnLine{{ItemID: "WIDGET", Qty: d("2")}},
	})
	require.NoError(t, err)
	require.Equal(t, "104.00", fx.Balance(t, accounting.RoleAP))
	fx.AssertBalanced(t)
}

func TestAPAgingBuckets(t *testing.T) {
	fx, svc := newService(t)
	ctx := context.Background()
	fx.Item(t, "REPAIR", masterdata.ItemKindService, masterdata.TrackingNone)

	inv, err := svc.CreatePurchaseInvoice(ctx, procurement.CreateInvoiceInput{
		SupplierID:  "SUP-2",
		InvoiceDate: time.Date(2024, 12, 16, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Lines:       []procurement.PurchaseInvoiceLine{{ItemID: "REPAIR", Qty: d("1"), UnitCost: d("100")}},
	})
	require.NoError(t, err)
	_, err = svc.PostPurchaseInvoice(ctx, inv.ID)
	require.NoError(t, err)

	po := createPO(t, svc, "", procurement.POLineInput{ItemID: "BOLT", Qty: d("4"), UnitPrice: d("10")})
	_, err = svc.ApprovePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	aging, err := svc.APAging(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "100.00", aging.Totals.Bucket60.StringFixed(2))
	require.Equal(t, "40.00", aging.Totals.Current.StringFixed(2))
	require.Equal(t, "140.00", aging.Totals.Total().StringFixed(2))
	require.Equal(t, "100.00", aging.BySupplier["SUP-2"].Total().StringFixed(2))
	require.Equal(t, "40.00", aging.BySupplier["SUP-1"].Current.StringFixed(2))
}
