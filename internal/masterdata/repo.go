package masterdata

import (
	"context"
	"errors"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	kindItem     = "item"
	kindSupplier = "supplier"
	kindCustomer = "customer"
	kindLocation = "location"
	kindCurrency = "currency"
)

// repo stores master records under md/<kind>/<id>.
type repo struct {
	store kv.Store
}

// NewRepository creates a master data repository on top of store.
func NewRepository(store kv.Store) Repository {
	return &repo{store: store}
}

func mdKey(kind, id string) string {
	return kv.Key("md", kind, id)
}

func getRecord[T any](ctx context.Context, store kv.Store, kind, id string) (T, error) {
	var out T
	err := store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		err := kv.GetJSON(ctx, tx, mdKey(kind, id), &out)
		if errors.Is(err, kv.ErrNotFound) {
			return shared.NotFound(kind, id)
		}
		return err
	})
	return out, err
}

func listRecords[T any](ctx context.Context, store kv.Store, kind string) ([]T, error) {
	var out []T
	err := store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		var err error
		out, err = kv.ScanJSON[T](ctx, tx, kv.Key("md", kind)+"/")
		return err
	})
	return out, err
}

func putRecord(ctx context.Context, store kv.Store, kind, id string, value any) error {
	return store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		return kv.PutJSON(tx, mdKey(kind, id), value)
	})
}

func (r *repo) GetItem(ctx context.Context, id string) (Item, error) {
	return getRecord[Item](ctx, r.store, kindItem, id)
}

func (r *repo) ListItems(ctx context.Context) ([]Item, error) {
	return listRecords[Item](ctx, r.store, kindItem)
}

func (r *repo) UpsertItem(ctx context.Context, item Item) error {
	return putRecord(ctx, r.store, kindItem, item.ID, item)
}

func (r *repo) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return getRecord[Supplier](ctx, r.store, kindSupplier, id)
}

func (r *repo) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return listRecords[Supplier](ctx, r.store, kindSupplier)
}

func (r *repo) UpsertSupplier(ctx context.Context, supplier Supplier) error {
	return putRecord(ctx, r.store, kindSupplier, supplier.ID, supplier)
}

func (r *repo) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return getRecord[Customer](ctx, r.store, kindCustomer, id)
}

func (r *repo) ListCustomers(ctx context.Context) ([]Customer, error) {
	return listRecords[Customer](ctx, r.store, kindCustomer)
}

func (r *repo) UpsertCustomer(ctx context.Context, customer Customer) error {
	return putRecord(ctx, r.store, kindCustomer, customer.ID, customer)
}

func (r *repo) GetLocation(ctx context.Context, id string) (Location, error) {
	return getRecord[Location](ctx, r.store, kindLocation, id)
}

func (r *repo) ListLocations(ctx context.Context) ([]Location, error) {
	return listRecords[Location](ctx, r.store, kindLocation)
}

func (r *repo) UpsertLocation(ctx context.Context, location Location) error {
	return putRecord(ctx, r.store, kindLocation, location.ID, location)
}

func (r *repo) GetCurrency(ctx context.Context, code string) (Currency, error) {
	return getRecord[Currency](ctx, r.store, kindCurrency, code)
}

func (r *repo) ListCurrencies(ctx context.Context) ([]Currency, error) {
	return listRecords[Currency](ctx, r.store, kindCurrency)
}

func (r *repo) UpsertCurrency(ctx context.Context, currency Currency) error {
	return putRecord(ctx, r.store, kindCurrency, currency.Code, currency)
}
