package reports

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1000", Name: "Cash", Type: "ASSET", Opening: d("1000"), Debit: d("200"), Credit: d("150")},
		{Code: "1010", Name: "Bank", Type: "ASSET", Opening: d("500"), Debit: d("100"), Credit: d("50")},
		{Code: "2000", Name: "Accounts Payable", Type: "LIABILITY", Debit: d("10"), Credit: d("400")},
	}

	tb := BuildTrialBalance(accounts)
	if len(tb.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(tb.Groups))
	}
	if !tb.TotalDebit.Equal(d("310")) {
		t.Fatalf("unexpected total debit: %v", tb.TotalDebit)
	}
	if !tb.TotalCredit.Equal(d("600")) {
		t.Fatalf("unexpected total credit: %v", tb.TotalCredit)
	}
	if !tb.TotalOpening.Equal(d("1500")) {
		t.Fatalf("unexpected total opening: %v", tb.TotalOpening)
	}
	if !tb.TotalClosing.Equal(d("1210")) {
		t.Fatalf("unexpected closing total: %v", tb.TotalClosing)
	}
	if tb.IsBalanced {
		t.Fatalf("expected unbalanced trial balance")
	}
}

func TestTrialBalanceWithinTolerance(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		{Code: "1000", Type: "ASSET", Debit: d("100.004")},
		{Code: "2000", Type: "LIABILITY", Credit: d("100")},
	})
	if !tb.IsBalanced {
		t.Fatalf("expected balanced within 0.01")
	}
}

func TestBuildProfitAndLoss(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "4000", Name: "Sales", Type: "INCOME", Credit: d("1200")},
		{Code: "5000", Name: "COGS", Type: "EXPENSE", Debit: d("300")},
		{Code: "5100", Name: "Marketing", Type: "EXPENSE", Debit: d("200")},
	}

	pl := BuildProfitAndLoss(accounts)
	if !pl.Revenue.Total.Equal(d("1200")) {
		t.Fatalf("expected revenue total 1200 got %v", pl.Revenue.Total)
	}
	if !pl.Expense.Total.Equal(d("500")) {
		t.Fatalf("expected expense total 500 got %v", pl.Expense.Total)
	}
	if !pl.NetIncome.Equal(d("700")) {
		t.Fatalf("expected net income 700 got %v", pl.NetIncome)
	}
}

func TestBuildBalanceSheet(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1000", Name: "Cash", Type: "ASSET", Debit: d("1100"), Credit: d("20")},
		{Code: "2000", Name: "AP", Type: "LIABILITY", Debit: d("20"), Credit: d("300")},
		{Code: "3000", Name: "Equity", Type: "EQUITY", Credit: d("500")},
		{Code: "4000", Name: "Sales", Type: "INCOME", Credit: d("400")},
		{Code: "5000", Name: "COGS", Type: "EXPENSE", Debit: d("100")},
	}

	bs := BuildBalanceSheet(accounts)
	if !bs.Assets.Total.Equal(d("1080")) {
		t.Fatalf("expected assets 1080 got %v", bs.Assets.Total)
	}
	if !bs.Liabilities.Total.Equal(d("280")) {
		t.Fatalf("expected liabilities 280 got %v", bs.Liabilities.Total)
	}
	if !bs.Equity.Total.Equal(d("500")) {
		t.Fatalf("expected equity 500 got %v", bs.Equity.Total)
	}
	if !bs.CurrentEarnings.Equal(d("300")) {
		t.Fatalf("expected earnings 300 got %v", bs.CurrentEarnings)
	}
	if !bs.IsBalanced {
		t.Fatalf("expected balanced sheet, L+E %v", bs.TotalLiabilitiesAndEquity)
	}
}
