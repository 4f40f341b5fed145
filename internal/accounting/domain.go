package accounting

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether balances of t grow with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// SignedBalance applies the account-type sign convention to totals.
func (t AccountType) SignedBalance(debit, credit decimal.Decimal) decimal.Decimal {
	if t.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// Account models a chart of accounts node.
type Account struct {
	ID             uuid.UUID       `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	ParentID       *uuid.UUID      `json:"parent_id,omitempty"`
	IsActive       bool            `json:"is_active"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccountID derives the stable identifier of an account code.
func AccountID(code string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte("ACCOUNT:"+code))
}

// JournalEntry stores debit or credit amount for an account.
type JournalEntry struct {
	AccountID uuid.UUID       `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// Journal is an immutable balanced posting.
type Journal struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"seq"`
	ReferenceNo  string          `json:"reference_no"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	SourceModule string          `json:"source_module"`
	SourceID     uuid.UUID       `json:"source_id"`
	SourceNo     string          `json:"source_no,omitempty"`
	Entries      []JournalEntry  `json:"entries"`
	TotalDebit   decimal.Decimal `json:"total_debit"`
	TotalCredit  decimal.Decimal `json:"total_credit"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AccountBalance aggregates posted movements of one account.
type AccountBalance struct {
	AccountID   uuid.UUID       `json:"account_id"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Balance     decimal.Decimal `json:"balance"`
	LastUpdated time.Time       `json:"last_updated"`
}

// apply adds a movement and recomputes the signed balance.
func (b *AccountBalance) apply(t AccountType, debit, credit decimal.Decimal, at time.Time) {
	b.TotalDebit = b.TotalDebit.Add(debit)
	b.TotalCredit = b.TotalCredit.Add(credit)
	b.Balance = t.SignedBalance(b.TotalDebit, b.TotalCredit)
	b.LastUpdated = at
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// PostingInput groups fields required to create a journal.
type PostingInput struct {
	Date         time.Time
	Description  string
	SourceModule string
	SourceID     uuid.UUID
	SourceNo     string
	CreatedBy    string
	Lines        []PostingLineInput
}

var (
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrAccountInactive indicates a posting to a deactivated account.
	ErrAccountInactive = errors.New("accounting: account is inactive")
)

// Totals returns the rounded debit and credit sums.
func (in PostingInput) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range in.Lines {
		debit = debit.Add(shared.Round2(line.Debit))
		credit = credit.Add(shared.Round2(line.Credit))
	}
	return debit, credit
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return &shared.ValidationError{Field: "lines", Message: ErrTooFewLines.Error()}
	}
	for idx, line := range in.Lines {
		if line.AccountID == uuid.Nil {
			return shared.Invalid("lines", "line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Invalid("lines", "line %d negative amount", idx)
		}
		debit, credit := shared.Round2(line.Debit), shared.Round2(line.Credit)
		if debit.IsPositive() == credit.IsPositive() {
			return shared.Invalid("lines", "line %d must carry exactly one of debit or credit", idx)
		}
	}
	debit, credit := in.Totals()
	if !shared.NearlyEqual(debit, credit) {
		return &shared.UnbalancedJournalError{Debit: debit, Credit: credit}
	}
	if in.SourceModule == "" {
		return shared.Invalid("source_module", "required")
	}
	return nil
}

// Debit builds a debit line.
func Debit(account uuid.UUID, amount decimal.Decimal, memo string) PostingLineInput {
	return PostingLineInput{AccountID: account, Debit: amount, Memo: memo}
}

// Credit builds a credit line.
func Credit(account uuid.UUID, amount decimal.Decimal, memo string) PostingLineInput {
	return PostingLineInput{AccountID: account, Credit: amount, Memo: memo}
}
