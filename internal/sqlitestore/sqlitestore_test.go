package sqlitestore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/users"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "pricebook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRecord(id, storeID, sku, price string, at time.Time) pricing.PricingRecord {
	return pricing.PricingRecord{
		ID:          id,
		StoreID:     storeID,
		SKU:         sku,
		ProductName: "Item " + sku,
		Price:       decimal.RequireFromString(price),
		Currency:    pricing.DefaultCurrency,
		UpdatedBy:   "seed",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestRecordStoreTransactions(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Records()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.WithTx(ctx, func(ctx context.Context, tx pricing.Tx) error {
		for i, rec := range []pricing.PricingRecord{
			seedRecord("r1", "US-0001", "ABC123", "9.99", base),
			seedRecord("r2", "US-0002", "ABC123", "19.50", base.Add(time.Minute)),
			seedRecord("r3", "CA-0010", "XYZ999", "5.00", base.Add(2*time.Minute)),
		} {
			_, inserted, err := tx.InsertIfAbsent(ctx, rec)
			require.NoError(t, err, "row %d", i)
			require.True(t, inserted)
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx pricing.Tx) error {
		existing, inserted, err := tx.InsertIfAbsent(ctx, seedRecord("r9", "US-0001", "ABC123", "1.00", base))
		require.NoError(t, err)
		require.False(t, inserted)
		require.Equal(t, "r1", existing.ID)
		require.True(t, existing.Price.Equal(decimal.RequireFromString("9.99")))
		return nil
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, "19.5", got.Price.String())
	require.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, pricing.ErrNotFound)

	recent, err := store.Find(ctx, pricing.Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "r3", recent[0].ID)

	floor := decimal.RequireFromString("6")
	byPrice, err := store.Find(ctx, pricing.Query{MinPrice: &floor, OrderBy: pricing.OrderStoreIDAsc})
	require.NoError(t, err)
	require.Len(t, byPrice, 2)
	require.Equal(t, "US-0001", byPrice[0].StoreID)

	ranged, err := store.Find(ctx, pricing.Query{StoreIDFrom: "US", StoreIDTo: "US", OrderBy: pricing.OrderStoreIDAsc})
	require.NoError(t, err)
	require.Len(t, ranged, 2)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, map[string]int{"US": 2, "CA": 1}, stats.ByCountry)

	name := "Renamed"
	err = store.WithTx(ctx, func(ctx context.Context, tx pricing.Tx) error {
		updated, err := tx.Update(ctx, "r1", pricing.Changes{ProductName: &name, UpdatedBy: "pm-1", UpdatedAt: base.Add(time.Hour)})
		require.NoError(t, err)
		require.Equal(t, "Renamed", updated.ProductName)

		taken := "US-0002"
		_, err = tx.Update(ctx, "r1", pricing.Changes{StoreID: &taken, UpdatedAt: base})
		return err
	})
	require.ErrorIs(t, err, pricing.ErrDuplicateKey)

	got, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "Item ABC123", got.ProductName, "failed transaction must roll back")
}

func TestRecordStoreBacksIngestor(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Records()
	ing := pricing.NewIngestor(store, pricing.IngestDeps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, pricing.IngestConfig{})
	admin := rbac.NewPrincipal("admin-1", "admin@example.com", rbac.RoleAdmin)

	feed := "Store ID,SKU,Product Name,Price,Date\n" +
		"US-0001,ABC123,Widget,9.99,2024-03-01\n" +
		"US-0002,ABC123,Widget,10.49,2024-03-01\n"
	summary, err := ing.Ingest(ctx, admin, strings.NewReader(feed), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Inserted)

	summary, err = ing.Ingest(ctx, admin, strings.NewReader(strings.Replace(feed, "9.99", "8.99", 1)), pricing.ModeOverwrite)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Updated)
	require.Equal(t, 0, summary.Inserted)

	recs, err := store.Find(ctx, pricing.Query{StoreID: "US-0001", SKU: "ABC123"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "8.99", recs[0].Price.String())
	require.Equal(t, "2024-03-01", recs[0].Date)
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t).Users()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, users.Profile{UID: "u1", Email: "a@example.com", Role: rbac.RoleViewer, CreatedAt: now}))
	require.ErrorIs(t, repo.Create(ctx, users.Profile{UID: "u2", Email: "A@example.com", Role: rbac.RoleViewer, CreatedAt: now}), users.ErrExists)

	require.NoError(t, repo.UpdateRole(ctx, "u1", rbac.RoleAdmin))
	require.ErrorIs(t, repo.UpdateRole(ctx, "ghost", rbac.RoleAdmin), users.ErrNotFound)

	p, err := repo.GetByUID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, rbac.RoleAdmin, p.Role)
	require.True(t, p.CreatedAt.Equal(now))

	_, err = repo.GetByUID(ctx, "ghost")
	require.ErrorIs(t, err, users.ErrNotFound)

	svc := users.NewService(repo)
	principal, err := svc.ResolveIdentity(ctx, "u1", "")
	require.NoError(t, err)
	require.True(t, principal.Permissions.ManageUsers)
}
