// Package memstore keeps pricing records in process memory.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pricebook/pricebook/internal/pricing"
)

// Store is an in-memory pricing.Store. Transactions are serialised and
// operate on a private copy that replaces the live data on commit.
type Store struct {
	mu   sync.RWMutex
	data *dataset

	txMu sync.Mutex
}

type dataset struct {
	records map[string]pricing.PricingRecord
	keys    map[pricing.Key]string
}

func newDataset() *dataset {
	return &dataset{
		records: make(map[string]pricing.PricingRecord),
		keys:    make(map[pricing.Key]string),
	}
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		records: make(map[string]pricing.PricingRecord, len(d.records)),
		keys:    make(map[pricing.Key]string, len(d.keys)),
	}
	for id, rec := range d.records {
		out.records[id] = rec
	}
	for k, id := range d.keys {
		out.keys[k] = id
	}
	return out
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

// Seed inserts records as-is, replacing any with the same id.
func (s *Store) Seed(records ...pricing.PricingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if old, ok := s.data.records[rec.ID]; ok {
			delete(s.data.keys, old.Key())
		}
		s.data.records[rec.ID] = rec
		s.data.keys[rec.Key()] = rec.ID
	}
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.records)
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id string) (pricing.PricingRecord, error) {
	if err := ctx.Err(); err != nil {
		return pricing.PricingRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data.records[id]
	if !ok {
		return pricing.PricingRecord{}, pricing.ErrNotFound
	}
	return rec, nil
}

// Find evaluates q against the live data.
func (s *Store) Find(ctx context.Context, q pricing.Query) ([]pricing.PricingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]pricing.PricingRecord, 0)
	for _, rec := range s.data.records {
		if matches(rec, q) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sortRecords(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Stats counts records per country prefix.
func (s *Store) Stats(ctx context.Context) (pricing.Stats, error) {
	if err := ctx.Err(); err != nil {
		return pricing.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := pricing.Stats{Total: len(s.data.records), ByCountry: make(map[string]int)}
	for _, rec := range s.data.records {
		stats.ByCountry[rec.Country()]++
	}
	return stats, nil
}

// WithTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, pricing.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{data: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
	return nil
}

type tx struct {
	data *dataset
}

func (t *tx) Get(ctx context.Context, id string) (pricing.PricingRecord, error) {
	rec, ok := t.data.records[id]
	if !ok {
		return pricing.PricingRecord{}, pricing.ErrNotFound
	}
	return rec, nil
}

func (t *tx) InsertIfAbsent(ctx context.Context, rec pricing.PricingRecord) (pricing.PricingRecord, bool, error) {
	if id, ok := t.data.keys[rec.Key()]; ok {
		return t.data.records[id], false, nil
	}
	if _, ok := t.data.records[rec.ID]; ok {
		return pricing.PricingRecord{}, false, pricing.ErrDuplicateKey
	}
	t.data.records[rec.ID] = rec
	t.data.keys[rec.Key()] = rec.ID
	return rec, true, nil
}

func (t *tx) Update(ctx context.Context, id string, changes pricing.Changes) (pricing.PricingRecord, error) {
	current, ok := t.data.records[id]
	if !ok {
		return pricing.PricingRecord{}, pricing.ErrNotFound
	}
	next := changes.Apply(current)
	if next.Key() != current.Key() {
		if other, taken := t.data.keys[next.Key()]; taken && other != id {
			return pricing.PricingRecord{}, pricing.ErrDuplicateKey
		}
		delete(t.data.keys, current.Key())
		t.data.keys[next.Key()] = id
	}
	t.data.records[id] = next
	return next, nil
}

func matches(rec pricing.PricingRecord, q pricing.Query) bool {
	if q.StoreID != "" && rec.StoreID != q.StoreID {
		return false
	}
	if q.SKU != "" && rec.SKU != q.SKU {
		return false
	}
	if q.StoreIDFrom != "" && rec.StoreID < q.StoreIDFrom {
		return false
	}
	if q.StoreIDTo != "" && rec.StoreID > q.StoreIDTo {
		return false
	}
	if q.MinPrice != nil && rec.Price.LessThan(*q.MinPrice) {
		return false
	}
	if q.MaxPrice != nil && rec.Price.GreaterThan(*q.MaxPrice) {
		return false
	}
	return true
}

func sortRecords(recs []pricing.PricingRecord, order pricing.Order) {
	switch order {
	case pricing.OrderStoreIDAsc:
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].StoreID != recs[j].StoreID {
				return recs[i].StoreID < recs[j].StoreID
			}
			if recs[i].SKU != recs[j].SKU {
				return recs[i].SKU < recs[j].SKU
			}
			return recs[i].ID < recs[j].ID
		})
	default:
		sort.SliceStable(recs, func(i, j int) bool {
			if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
				return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
			}
			return recs[i].ID < recs[j].ID
		})
	}
}
