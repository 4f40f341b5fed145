package posting

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SettlementAccount resolves the account a document is settled through.
// CREDIT settles against the supplied receivable or payable account.
func SettlementAccount(roles accounting.RoleTable, mode PaymentMode, onCredit uuid.UUID) (uuid.UUID, error) {
	switch mode {
	case PaymentCash:
		return roles.Account(accounting.RoleCash)
	case PaymentBank, PaymentCard, PaymentTransfer:
		return roles.Account(accounting.RoleBank)
	case PaymentCredit, "":
		if onCredit == uuid.Nil {
			return uuid.Nil, shared.Invalid("payment_mode", "no account for credit settlement")
		}
		return onCredit, nil
	}
	return uuid.Nil, shared.Invalid("payment_mode", "unknown payment mode %q", mode)
}

// InventoryAccount maps an item kind to its inventory account.
func InventoryAccount(roles accounting.RoleTable, kind masterdata.ItemKind) (uuid.UUID, error) {
	switch kind {
	case masterdata.ItemKindRawMaterial:
		return roles.Account(accounting.RoleRawMaterials)
	case masterdata.ItemKindFinishedGood:
		return roles.Account(accounting.RoleFinishedGoods)
	}
	return roles.Account(accounting.RoleInventory)
}

// Amounts sums money per account, remembering first-seen order.
type Amounts struct {
	order []uuid.UUID
	sums  map[uuid.UUID]decimal.Decimal
}

// Add accumulates amount for account.
func (a *Amounts) Add(account uuid.UUID, amount decimal.Decimal) {
	if a.sums == nil {
		a.sums = make(map[uuid.UUID]decimal.Decimal)
	}
	if _, ok := a.sums[account]; !ok {
		a.order = append(a.order, account)
	}
	a.sums[account] = a.sums[account].Add(amount)
}

// Total returns the sum of the rounded per-account amounts.
func (a Amounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, acc := range a.order {
		total = total.Add(shared.Round2(a.sums[acc]))
	}
	return total
}

func (a Amounts) each(fn func(account uuid.UUID, amount decimal.Decimal)) {
	for _, acc := range a.order {
		fn(acc, shared.Round2(a.sums[acc]))
	}
}

// lineSet collects journal lines and drops zero amounts.
type lineSet struct {
	lines []accounting.PostingLineInput
}

func (s *lineSet) debit(account uuid.UUID, amount decimal.Decimal, memo string) {
	amount = shared.Round2(amount)
	if amount.IsZero() {
		return
	}
	s.lines = append(s.lines, accounting.Debit(account, amount, memo))
}

func (s *lineSet) credit(account uuid.UUID, amount decimal.Decimal, memo string) {
	amount = shared.Round2(amount)
	if amount.IsZero() {
		return
	}
	s.lines = append(s.lines, accounting.Credit(account, amount, memo))
}

func (s *lineSet) debitAll(amounts Amounts, memo string) {
	amounts.each(func(acc uuid.UUID, amt decimal.Decimal) { s.debit(acc, amt, memo) })
}

func (s *lineSet) creditAll(amounts Amounts, memo string) {
	amounts.each(func(acc uuid.UUID, amt decimal.Decimal) { s.credit(acc, amt, memo) })
}

// SalesLines books DR settlement / CR revenue and output VAT.
func SalesLines(roles accounting.RoleTable, mode PaymentMode, revenue, tax decimal.Decimal) ([]accounting.PostingLineInput, error) {
	settle, err := SettlementAccount(roles, mode, roles.AR)
	if err != nil {
		return nil, err
	}
	revenue, tax = shared.Round2(revenue), shared.Round2(tax)
	var set lineSet
	set.debit(settle, revenue.Add(tax), "invoice total")
	set.credit(roles.SalesRevenue, revenue, "sales")
	set.credit(roles.VATPayable, tax, "output VAT")
	return set.lines, nil
}

// TransferLines books DR target / CR each source account, or the mirror when
// reverse is set. Used for COGS, production and opening balances.
func TransferLines(target uuid.UUID, others Amounts, reverse bool, memo string) []accounting.PostingLineInput {
	var set lineSet
	if reverse {
		set.debitAll(others, memo)
		set.credit(target, others.Total(), memo)
		return set.lines
	}
	set.debit(target, others.Total(), memo)
	set.creditAll(others, memo)
	return set.lines
}

// PurchaseLines books DR inventory or expense plus input VAT / CR settlement.
func PurchaseLines(roles accounting.RoleTable, mode PaymentMode, debits Amounts, tax decimal.Decimal) ([]accounting.PostingLineInput, error) {
	settle, err := SettlementAccount(roles, mode, roles.AP)
	if err != nil {
		return nil, err
	}
	tax = shared.Round2(tax)
	var set lineSet
	set.debitAll(debits, "received")
	set.debit(roles.VATInput, tax, "input VAT")
	set.credit(settle, debits.Total().Add(tax), "payable")
	return set.lines, nil
}

// SupplierPaymentLines books DR AP / CR cash or bank.
func SupplierPaymentLines(roles accounting.RoleTable, mode PaymentMode, amount decimal.Decimal) ([]accounting.PostingLineInput, error) {
	if mode == PaymentCredit {
		return nil, shared.Invalid("payment_mode", "payments cannot be settled on credit")
	}
	if mode == "" {
		mode = PaymentBank
	}
	paid, err := SettlementAccount(roles, mode, uuid.Nil)
	if err != nil {
		return nil, err
	}
	var set lineSet
	set.debit(roles.AP, amount, "supplier payment")
	set.credit(paid, amount, "supplier payment")
	return set.lines, nil
}

// CustomerReceiptLines books DR cash or bank / CR AR.
func CustomerReceiptLines(roles accounting.RoleTable, mode PaymentMode, amount decimal.Decimal) ([]accounting.PostingLineInput, error) {
	if mode == PaymentCredit {
		return nil, shared.Invalid("payment_mode", "receipts cannot be settled on credit")
	}
	if mode == "" {
		mode = PaymentBank
	}
	received, err := SettlementAccount(roles, mode, uuid.Nil)
	if err != nil {
		return nil, err
	}
	var set lineSet
	set.debit(received, amount, "customer receipt")
	set.credit(roles.AR, amount, "customer receipt")
	return set.lines, nil
}

// SalesReturnLines books DR sales returns and output VAT / CR settlement.
func SalesReturnLines(roles accounting.RoleTable, mode PaymentMode, revenue, tax decimal.Decimal) ([]accounting.PostingLineInput, error) {
	settle, err := SettlementAccount(roles, mode, roles.AR)
	if err != nil {
		return nil, err
	}
	revenue, tax = shared.Round2(revenue), shared.Round2(tax)
	var set lineSet
	set.debit(roles.SalesReturns, revenue, "sales return")
	set.debit(roles.VATPayable, tax, "output VAT reversal")
	set.credit(settle, revenue.Add(tax), "credit note")
	return set.lines, nil
}

// AdjustmentLines books gains DR inventory / CR gain and losses DR loss / CR
// inventory in one journal.
func AdjustmentLines(roles accounting.RoleTable, gains, losses Amounts) []accounting.PostingLineInput {
	var set lineSet
	set.debitAll(gains, "stock gain")
	set.credit(roles.InventoryGain, gains.Total(), "stock gain")
	set.debit(roles.InventoryLoss, losses.Total(), "stock loss")
	set.creditAll(losses, "stock loss")
	return set.lines
}
