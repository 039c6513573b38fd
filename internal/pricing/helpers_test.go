package pricing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/pricing/memstore"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/shared"
)

var (
	admin   = rbac.NewPrincipal("admin-1", "admin@example.com", rbac.RoleAdmin)
	manager = rbac.NewPrincipal("pm-1", "pm@example.com", rbac.RolePricingManager)
	viewer  = rbac.NewPrincipal("viewer-1", "viewer@example.com", rbac.RoleViewer)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id, storeID, sku, name, price string, updated time.Time) pricing.PricingRecord {
	return pricing.PricingRecord{
		ID:          id,
		StoreID:     storeID,
		SKU:         sku,
		ProductName: name,
		Price:       decimal.RequireFromString(price),
		Currency:    pricing.DefaultCurrency,
		UpdatedBy:   "seed",
		CreatedAt:   updated,
		UpdatedAt:   updated,
	}
}

// faultStore wraps a store and injects failures.
type faultStore struct {
	pricing.Store

	findErr   error
	txErrs    []error
	mu        sync.Mutex
	findCalls atomic.Int32
	txCalls   atomic.Int32
}

func (f *faultStore) Find(ctx context.Context, q pricing.Query) ([]pricing.PricingRecord, error) {
	f.findCalls.Add(1)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Store.Find(ctx, q)
}

func (f *faultStore) Get(ctx context.Context, id string) (pricing.PricingRecord, error) {
	if f.Store == nil {
		return pricing.PricingRecord{}, errors.New("unexpected Get")
	}
	return f.Store.Get(ctx, id)
}

func (f *faultStore) WithTx(ctx context.Context, fn func(context.Context, pricing.Tx) error) error {
	f.txCalls.Add(1)
	f.mu.Lock()
	var injected error
	if len(f.txErrs) > 0 {
		injected, f.txErrs = f.txErrs[0], f.txErrs[1:]
	}
	f.mu.Unlock()
	if injected != nil {
		return injected
	}
	if f.Store == nil {
		return errors.New("unexpected WithTx")
	}
	return f.Store.WithTx(ctx, fn)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []pricing.ChangeEvent
}

func (n *recordingNotifier) Publish(ctx context.Context, evt pricing.ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) Events() []pricing.ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pricing.ChangeEvent(nil), n.events...)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newMemStore(t *testing.T, recs ...pricing.PricingRecord) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.Seed(recs...)
	return s
}
