package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
// CurrentEarnings carries unclosed income minus expense into equity.
type BalanceSheet struct {
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	CurrentEarnings           decimal.Decimal     `json:"current_earnings"`
	TotalLiabilitiesAndEquity decimal.Decimal     `json:"total_liabilities_and_equity"`
	IsBalanced                bool                `json:"is_balanced"`
}

// BuildBalanceSheet aggregates balances into assets, liabilities, and equity sections.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets"}
	liabilities := BalanceSheetSection{Label: "Liabilities"}
	equity := BalanceSheetSection{Label: "Equity"}
	earnings := decimal.Zero

	for _, acc := range accounts {
		row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: acc.Natural()}
		switch strings.ToUpper(acc.Type) {
		case "ASSET":
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(row.Balance)
		case "LIABILITY":
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(row.Balance)
		case "EQUITY":
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(row.Balance)
		case "INCOME", "REVENUE":
			earnings = earnings.Add(row.Balance)
		case "EXPENSE":
			earnings = earnings.Sub(row.Balance)
		}
	}

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Code < assets.Accounts[j].Code })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Code < liabilities.Accounts[j].Code })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Code < equity.Accounts[j].Code })

	total := liabilities.Total.Add(equity.Total).Add(earnings)
	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		CurrentEarnings:           earnings,
		TotalLiabilitiesAndEquity: total,
		IsBalanced:                assets.Total.Sub(total).Abs().LessThan(epsilon),
	}
}
