package masterdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind drives which inventory account an item is valued in.
type ItemKind string

const (
	ItemKindRawMaterial  ItemKind = "RAW_MATERIAL"
	ItemKindFinishedGood ItemKind = "FINISHED_GOOD"
	ItemKindMerchandise  ItemKind = "MERCHANDISE"
	ItemKindService      ItemKind = "SERVICE"
)

// TrackingMode controls lot tracking on the stock ledger.
type TrackingMode string

const (
	TrackingNone   TrackingMode = "NONE"
	TrackingBatch  TrackingMode = "BATCH"
	TrackingSerial TrackingMode = "SERIAL"
)

// Item is a stock keeping unit.
type Item struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Kind         ItemKind        `json:"kind"`
	Tracking     TrackingMode    `json:"tracking"`
	Unit         string          `json:"unit"`
	StandardCost decimal.Decimal `json:"standard_cost"`
	SalesPrice   decimal.Decimal `json:"sales_price"`
	IsActive     bool            `json:"is_active"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Stocked reports whether the item moves through the stock ledger.
func (i Item) Stocked() bool {
	return i.Kind != ItemKindService
}

// Supplier represents a supplier entity.
type Supplier struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Currency  string    `json:"currency"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Customer represents a customer entity.
type Customer struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Currency  string    `json:"currency"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a warehouse or stock bin.
type Location struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Currency carries the static rate into the base currency.
type Currency struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
