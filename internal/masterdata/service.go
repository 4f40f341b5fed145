package masterdata

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists master records.
type Repository interface {
	GetItem(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	UpsertItem(ctx context.Context, item Item) error
	GetSupplier(ctx context.Context, id string) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	UpsertSupplier(ctx context.Context, supplier Supplier) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	UpsertCustomer(ctx context.Context, customer Customer) error
	GetLocation(ctx context.Context, id string) (Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	UpsertLocation(ctx context.Context, location Location) error
	GetCurrency(ctx context.Context, code string) (Currency, error)
	ListCurrencies(ctx context.Context) ([]Currency, error)
	UpsertCurrency(ctx context.Context, currency Currency) error
}

// Directory answers master-data lookups for the ledgers and orchestrators.
type Directory struct {
	repo         Repository
	baseCurrency string
	now          func() time.Time
}

// NewService creates a Directory. baseCurrency always converts at rate 1.
func NewService(repo Repository, baseCurrency string) *Directory {
	if baseCurrency == "" {
		baseCurrency = "IDR"
	}
	return &Directory{repo: repo, baseCurrency: strings.ToUpper(baseCurrency), now: time.Now}
}

// WithNow overrides the clock, mostly for tests.
func (d *Directory) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// BaseCurrency returns the ledger currency code.
func (d *Directory) BaseCurrency() string {
	return d.baseCurrency
}

// Item returns the item or a NOT FOUND error.
func (d *Directory) Item(ctx context.Context, id string) (Item, error) {
	return d.repo.GetItem(ctx, id)
}

// LookupItem tolerates missing items: unknown IDs resolve to a MERCHANDISE
// item without lot tracking.
func (d *Directory) LookupItem(ctx context.Context, id string) (Item, error) {
	item, err := d.repo.GetItem(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return Item{ID: id, Name: id, Kind: ItemKindMerchandise, Tracking: TrackingNone, IsActive: true}, nil
	}
	if err != nil {
		return Item{}, err
	}
	if item.Kind == "" {
		item.Kind = ItemKindMerchandise
	}
	if item.Tracking == "" {
		item.Tracking = TrackingNone
	}
	return item, nil
}

// ExchangeRate returns the multiplier converting currency amounts into the base
// currency. Empty or base currency codes convert at 1.
func (d *Directory) ExchangeRate(ctx context.Context, code string) (decimal.Decimal, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == d.baseCurrency {
		return decimal.NewFromInt(1), nil
	}
	cur, err := d.repo.GetCurrency(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	if !cur.ExchangeRate.IsPositive() {
		return decimal.Zero, shared.Invalid("currency", "%s has no exchange rate", code)
	}
	return cur.ExchangeRate, nil
}

// UpsertItem validates and stores an item.
func (d *Directory) UpsertItem(ctx context.Context, item Item) (Item, error) {
	if strings.TrimSpace(item.Name) == "" {
		return Item{}, shared.Invalid("name", "required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Kind == "" {
		item.Kind = ItemKindMerchandise
	}
	if item.Tracking == "" {
		item.Tracking = TrackingNone
	}
	switch item.Kind {
	case ItemKindRawMaterial, ItemKindFinishedGood, ItemKindMerchandise, ItemKindService:
	default:
		return Item{}, shared.Invalid("kind", "unknown item kind %q", item.Kind)
	}
	switch item.Tracking {
	case TrackingNone, TrackingBatch, TrackingSerial:
	default:
		return Item{}, shared.Invalid("tracking", "unknown tracking mode %q", item.Tracking)
	}
	if item.StandardCost.IsNegative() || item.SalesPrice.IsNegative() {
		return Item{}, shared.Invalid("price", "must not be negative")
	}
	item.UpdatedAt = d.now().UTC()
	return item, d.repo.UpsertItem(ctx, item)
}

// ListItems returns all items ordered by ID.
func (d *Directory) ListItems(ctx context.Context) ([]Item, error) {
	return d.repo.ListItems(ctx)
}

// Supplier returns the supplier or NOT FOUND.
func (d *Directory) Supplier(ctx context.Context, id string) (Supplier, error) {
	return d.repo.GetSupplier(ctx, id)
}

// UpsertSupplier validates and stores a supplier.
func (d *Directory) UpsertSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return Supplier{}, shared.Invalid("name", "required")
	}
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	supplier.UpdatedAt = d.now().UTC()
	return supplier, d.repo.UpsertSupplier(ctx, supplier)
}

// ListSuppliers returns all suppliers.
func (d *Directory) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return d.repo.ListSuppliers(ctx)
}

// Customer returns the customer or NOT FOUND.
func (d *Directory) Customer(ctx context.Context, id string) (Customer, error) {
	return d.repo.GetCustomer(ctx, id)
}

// UpsertCustomer validates and stores a customer.
func (d *Directory) UpsertCustomer(ctx context.Context, customer Customer) (Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return Customer{}, shared.Invalid("name", "required")
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	customer.UpdatedAt = d.now().UTC()
	return customer, d.repo.UpsertCustomer(ctx, customer)
}

// ListCustomers returns all customers.
func (d *Directory) ListCustomers(ctx context.Context) ([]Customer, error) {
	return d.repo.ListCustomers(ctx)
}

// Location returns the location or NOT FOUND.
func (d *Directory) Location(ctx context.Context, id string) (Location, error) {
	return d.repo.GetLocation(ctx, id)
}

// UpsertLocation validates and stores a location.
func (d *Directory) UpsertLocation(ctx context.Context, location Location) (Location, error) {
	if strings.TrimSpace(location.ID) == "" {
		return Location{}, shared.Invalid("id", "required")
	}
	if location.Name == "" {
		location.Name = location.ID
	}
	location.UpdatedAt = d.now().UTC()
	return location, d.repo.UpsertLocation(ctx, location)
}

// ListLocations returns all locations.
func (d *Directory) ListLocations(ctx context.Context) ([]Location, error) {
	return d.repo.ListLocations(ctx)
}

// UpsertCurrency validates and stores a currency rate.
func (d *Directory) UpsertCurrency(ctx context.Context, currency Currency) (Currency, error) {
	currency.Code = strings.ToUpper(strings.TrimSpace(currency.Code))
	if len(currency.Code) != 3 {
		return Currency{}, shared.Invalid("code", "must be a 3-letter ISO code")
	}
	if !currency.ExchangeRate.IsPositive() {
		return Currency{}, shared.Invalid("exchange_rate", "must be positive")
	}
	currency.UpdatedAt = d.now().UTC()
	return currency, d.repo.UpsertCurrency(ctx, currency)
}

// ListCurrencies returns all currencies.
func (d *Directory) ListCurrencies(ctx context.Context) ([]Currency, error) {
	return d.repo.ListCurrencies(ctx)
}
