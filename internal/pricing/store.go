package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order selects the sort applied by Find.
type Order int

const (
	// OrderUpdatedDesc sorts newest first.
	OrderUpdatedDesc Order = iota
	// OrderStoreIDAsc sorts by store id, then sku, using byte order.
	OrderStoreIDAsc
)

// Query describes a bounded read against the record store.
// StoreIDFrom/StoreIDTo form an inclusive byte-ordered range over store ids.
type Query struct {
	StoreID     string
	SKU         string
	StoreIDFrom string
	StoreIDTo   string
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	OrderBy     Order
	Limit       int
}

// Changes lists the fields to overwrite on an existing record. Nil pointers are left untouched.
type Changes struct {
	StoreID     *string
	SKU         *string
	ProductName *string
	Price       *decimal.Decimal
	Date        *string
	Currency    *string
	Notes       *string
	UpdatedBy   string
	UpdatedAt   time.Time
}

// Empty reports whether no field changes.
func (c Changes) Empty() bool {
	return c.StoreID == nil && c.SKU == nil && c.ProductName == nil && c.Price == nil &&
		c.Date == nil && c.Currency == nil && c.Notes == nil
}

// Apply returns rec with the changes applied.
func (c Changes) Apply(rec PricingRecord) PricingRecord {
	if c.StoreID != nil {
		rec.StoreID = *c.StoreID
	}
	if c.SKU != nil {
		rec.SKU = *c.SKU
	}
	if c.ProductName != nil {
		rec.ProductName = *c.ProductName
	}
	if c.Price != nil {
		rec.Price = *c.Price
	}
	if c.Date != nil {
		rec.Date = *c.Date
	}
	if c.Currency != nil {
		rec.Currency = *c.Currency
	}
	if c.Notes != nil {
		rec.Notes = *c.Notes
	}
	rec.UpdatedBy = c.UpdatedBy
	rec.UpdatedAt = c.UpdatedAt
	return rec
}

// Store abstracts the document store holding pricing records.
type Store interface {
	Get(ctx context.Context, id string) (PricingRecord, error)
	Find(ctx context.Context, q Query) ([]PricingRecord, error)
	Stats(ctx context.Context) (Stats, error)
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes the transactional operations used by ingestion and editing.
// Nothing written through a Tx is visible until WithTx returns nil.
type Tx interface {
	Get(ctx context.Context, id string) (PricingRecord, error)
	// InsertIfAbsent inserts rec unless its (storeId, sku) exists, in which case the
	// existing record is returned with inserted=false.
	InsertIfAbsent(ctx context.Context, rec PricingRecord) (existing PricingRecord, inserted bool, err error)
	// Update applies changes to the record with id. Moving onto a taken key yields ErrDuplicateKey.
	Update(ctx context.Context, id string, changes Changes) (PricingRecord, error)
}
