package shared

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgingBucket summarises open amounts by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket_30"`
	Bucket60  decimal.Decimal `json:"bucket_60"`
	Bucket90  decimal.Decimal `json:"bucket_90"`
	Bucket120 decimal.Decimal `json:"bucket_120"`
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return Sum(b.Current, b.Bucket30, b.Bucket60, b.Bucket90, b.Bucket120)
}

// Add books amount into the bucket for days past due. Zero or negative days
// count as current.
func (b *AgingBucket) Add(days int, amount decimal.Decimal) {
	switch {
	case days <= 0:
		b.Current = b.Current.Add(amount)
	case days <= 30:
		b.Bucket30 = b.Bucket30.Add(amount)
	case days <= 60:
		b.Bucket60 = b.Bucket60.Add(amount)
	case days <= 90:
		b.Bucket90 = b.Bucket90.Add(amount)
	default:
		b.Bucket120 = b.Bucket120.Add(amount)
	}
}

// DaysPastDue returns whole days between due and asOf.
func DaysPastDue(asOf, due time.Time) int {
	return int(asOf.Sub(due).Hours() / 24)
}
