package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var epsilon = decimal.RequireFromString("0.01")

// AccountBalance models a general ledger account with aggregated balances.
// Opening is expressed debit-positive.
type AccountBalance struct {
	Code    string
	Name    string
	Type    string
	Opening decimal.Decimal
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Closing computes the debit-positive closing balance for the account.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// Natural returns the closing balance in the account's normal direction.
func (a AccountBalance) Natural() decimal.Decimal {
	switch strings.ToUpper(a.Type) {
	case "ASSET", "EXPENSE":
		return a.Closing()
	}
	return a.Closing().Neg()
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Opening decimal.Decimal `json:"opening"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Closing decimal.Decimal `json:"closing"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Opening  decimal.Decimal       `json:"opening"`
	Debit    decimal.Decimal       `json:"debit"`
	Credit   decimal.Decimal       `json:"credit"`
	Closing  decimal.Decimal       `json:"closing"`
}

// TrialBalance is the final structure returned to report consumers.
type TrialBalance struct {
	Groups       []TrialBalanceGroup `json:"groups"`
	TotalDebit   decimal.Decimal     `json:"total_debit"`
	TotalCredit  decimal.Decimal     `json:"total_credit"`
	TotalOpening decimal.Decimal     `json:"total_opening"`
	TotalClosing decimal.Decimal     `json:"total_closing"`
	IsBalanced   bool                `json:"is_balanced"`
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Opening: acc.Opening,
			Debit:   acc.Debit,
			Credit:  acc.Credit,
			Closing: acc.Closing(),
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Opening = grp.Opening.Add(row.Opening)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		grp.Closing = grp.Closing.Add(row.Closing)
	}

	sort.Strings(keys)
	result := TrialBalance{}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalOpening = result.TotalOpening.Add(grp.Opening)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
		result.TotalClosing = result.TotalClosing.Add(grp.Closing)
	}
	result.IsBalanced = result.TotalDebit.Sub(result.TotalCredit).Abs().LessThan(epsilon)
	return result
}
