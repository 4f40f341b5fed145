package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ProfitAndLossAccount represents an income or expense account summary.
type ProfitAndLossAccount struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string                 `json:"label"`
	Accounts []ProfitAndLossAccount `json:"accounts"`
	Total    decimal.Decimal        `json:"total"`
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	Revenue   ProfitAndLossSection `json:"revenue"`
	Expense   ProfitAndLossSection `json:"expense"`
	NetIncome decimal.Decimal      `json:"net_income"`
}

// BuildProfitAndLoss aggregates accounts into revenue and expense sections.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue"}
	expense := ProfitAndLossSection{Label: "Expense"}

	for _, acc := range accounts {
		amount := acc.Debit.Sub(acc.Credit)
		row := ProfitAndLossAccount{Code: acc.Code, Name: acc.Name, Amount: amount}
		switch strings.ToUpper(acc.Type) {
		case "REVENUE", "INCOME":
			row.Amount = amount.Neg()
			revenue.Accounts = append(revenue.Accounts, row)
			revenue.Total = revenue.Total.Add(row.Amount)
		case "EXPENSE":
			expense.Accounts = append(expense.Accounts, row)
			expense.Total = expense.Total.Add(row.Amount)
		}
	}

	sort.Slice(revenue.Accounts, func(i, j int) bool { return revenue.Accounts[i].Code < revenue.Accounts[j].Code })
	sort.Slice(expense.Accounts, func(i, j int) bool { return expense.Accounts[i].Code < expense.Accounts[j].Code })

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}
