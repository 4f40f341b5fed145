package shared

import "github.com/shopspring/decimal"

// Epsilon is the tolerance for business equality on money and quantities.
var Epsilon = decimal.RequireFromString("0.01")

// Round2 rounds v half away from zero to two decimals.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// NearlyEqual reports |a-b| < Epsilon.
func NearlyEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// NearlyZero reports |v| < Epsilon.
func NearlyZero(v decimal.Decimal) bool {
	return v.Abs().LessThan(Epsilon)
}

// Sum adds values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
