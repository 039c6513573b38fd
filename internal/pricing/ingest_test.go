package pricing_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/rbac"
)

const feedHeader = "Store ID,SKU,Product Name,Price,Date\n"

func newIngestor(store pricing.Store, notifier pricing.Notifier, audit pricing.AuditPort) *pricing.Ingestor {
	return pricing.NewIngestor(store, pricing.IngestDeps{
		Notifier: notifier,
		Audit:    audit,
		Logger:   discardLogger(),
	}, pricing.IngestConfig{BatchSize: 2})
}

func TestIngestMixedRows(t *testing.T) {
	store := newMemStore(t)
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	ingestor := newIngestor(store, notifier, audit)

	csv := feedHeader +
		"IND-0456,ABC123456,iPhone 15 Pro,999.99,2026-02-06\n" +
		"bad,BAD,\"\",-5,notadate\n"

	summary, err := ingestor.Ingest(context.Background(), manager, strings.NewReader(csv), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Valid)
	require.Equal(t, 1, summary.Invalid)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, summary.Inserted)
	require.NotEmpty(t, summary.ImportID)

	require.Contains(t, summary.Errors, "Row 3: Store ID must look like XX-1234 (2-4 uppercase letters, hyphen, 4+ digits)")
	require.Contains(t, summary.Errors, "Row 3: SKU must be 6-12 uppercase letters or digits")
	require.Contains(t, summary.Errors, "Row 3: Product name is required")
	require.Contains(t, summary.Errors, "Row 3: Price must be greater than 0")
	require.Len(t, summary.InvalidRows, 1)

	require.Equal(t, 1, store.Len())
	recs, err := store.Find(context.Background(), pricing.Query{StoreID: "IND-0456"})
	require.NoError(t, err)
	require.Equal(t, "pm-1", recs[0].UpdatedBy)
	require.Equal(t, "2026-02-06", recs[0].Date)
	require.False(t, recs[0].CreatedAt.IsZero())

	events := notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, pricing.ChangeImport, events[0].Kind)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "pricing.import", audit.logs[0].Action)
}

func TestIngestAppendIsIdempotent(t *testing.T) {
	store := newMemStore(t)
	ingestor := newIngestor(store, nil, nil)
	csv := feedHeader +
		"IND-0456,ABC123,iPhone 15 Pro,999.99,2026-02-06\n" +
		"IND-0456,ABC124,iPhone 15 Pro Max,1199.99,2026-02-06\n" +
		"IND-0456,ABC123,Duplicate In File,1.00,2026-02-06\n"

	first, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(csv), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 2, first.Inserted)
	require.Equal(t, 1, first.Skipped)

	second, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(csv), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 0, second.Uploaded)
	require.Equal(t, 3, second.Skipped)
	require.Equal(t, 2, store.Len())

	recs, err := store.Find(context.Background(), pricing.Query{SKU: "ABC123"})
	require.NoError(t, err)
	require.Equal(t, "iPhone 15 Pro", recs[0].ProductName)
}

func TestIngestOverwriteKeepsID(t *testing.T) {
	existing := record("keep-me", "IND-0456", "ABC123", "Old Name", "10.00", base)
	existing.Notes = "hand entered"
	store := newMemStore(t, existing)
	ingestor := newIngestor(store, nil, nil)

	csv := feedHeader +
		"IND-0456,ABC123,iPhone 15 Pro,999.99,2026-02-06\n" +
		"USA-0789,DEF456,MacBook Pro,2499.99,\n"
	summary, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(csv), pricing.ModeOverwrite)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, 1, summary.Inserted)
	require.Equal(t, 2, summary.Uploaded)

	got, err := store.Get(context.Background(), "keep-me")
	require.NoError(t, err)
	require.Equal(t, "iPhone 15 Pro", got.ProductName)
	require.Equal(t, "999.99", got.Price.StringFixed(2))
	require.Equal(t, "2026-02-06", got.Date)
	require.Equal(t, base, got.CreatedAt)
	require.True(t, got.UpdatedAt.After(base))
	require.Equal(t, "hand entered", got.Notes)
	require.Equal(t, "admin-1", got.UpdatedBy)
}

func TestIngestProcessesEveryRow(t *testing.T) {
	store := newMemStore(t)
	ingestor := newIngestor(store, nil, nil)

	var b strings.Builder
	b.WriteString(feedHeader)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "IND-%04d,SKU%06d,Product %d,%d.50,2026-02-06\n", 1000+i, i, i, i+1)
	}
	summary, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(b.String()), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 25, summary.Total)
	require.Equal(t, 25, summary.Uploaded)
	require.Equal(t, 25, store.Len())
}

func TestIngestRowsRevalidates(t *testing.T) {
	store := newMemStore(t)
	ingestor := newIngestor(store, nil, nil)

	rows := []pricing.ParsedRow{
		{RowIndex: 2, Valid: true, Fields: pricing.Fields{StoreID: "us-1", SKU: "abc", ProductName: "W", Price: "0.004"}},
		{RowIndex: 3, Valid: false, Errors: []string{"stale"}, Fields: pricing.Fields{StoreID: "US-0001", SKU: "ABC123", ProductName: "Widget", Price: "9.99"}},
	}
	summary, err := ingestor.IngestRows(context.Background(), admin, rows, pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Invalid)
	require.Equal(t, 1, summary.Inserted)
	require.Contains(t, summary.Errors, "Row 2: Price must have at most 2 decimal places")
	require.NotContains(t, summary.Errors, "Row 3: stale")
	require.Equal(t, 1, store.Len())

	_, err = ingestor.IngestRows(context.Background(), admin, rows, pricing.Mode("merge"))
	require.ErrorIs(t, err, pricing.ErrInvalidMode)
}

func TestIngestParseFailureWritesNothing(t *testing.T) {
	store := &faultStore{}
	ingestor := newIngestor(store, nil, nil)

	_, err := ingestor.Ingest(context.Background(), admin, strings.NewReader("Store,Sku\nA,B\n"), pricing.ModeAppend)
	require.ErrorIs(t, err, pricing.ErrParse)
	require.Zero(t, store.txCalls.Load())
}

func TestIngestDeniedBeforeIO(t *testing.T) {
	store := &faultStore{}
	ingestor := newIngestor(store, nil, nil)

	for _, p := range []rbac.Principal{viewer, rbac.NewPrincipal("x", "x@example.com", rbac.Role("Admin"))} {
		_, err := ingestor.Ingest(context.Background(), p, strings.NewReader(feedHeader+"IND-0456,ABC123,Widget,1,\n"), pricing.ModeAppend)
		require.ErrorIs(t, err, rbac.ErrForbidden)
	}
	require.Zero(t, store.txCalls.Load())
	require.Zero(t, store.findCalls.Load())
}

func TestIngestRejectsUnknownMode(t *testing.T) {
	ingestor := newIngestor(&faultStore{}, nil, nil)
	_, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(feedHeader), pricing.Mode("merge"))
	require.ErrorIs(t, err, pricing.ErrInvalidMode)
}

func TestIngestCancelledRollsBack(t *testing.T) {
	store := newMemStore(t)
	ingestor := newIngestor(store, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ingestor.Ingest(ctx, admin, strings.NewReader(feedHeader+"IND-0456,ABC123,Widget,1,\n"), pricing.ModeAppend)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.Len())
}

func TestIngestRetriesTransactionConflicts(t *testing.T) {
	store := &faultStore{Store: newMemStore(t), txErrs: []error{pricing.ErrTxConflict, pricing.ErrTxConflict}}
	ingestor := newIngestor(store, nil, nil)

	summary, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(feedHeader+"IND-0456,ABC123,Widget,1,\n"), pricing.ModeAppend)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Inserted)
	require.EqualValues(t, 3, store.txCalls.Load())

	store.txErrs = []error{pricing.ErrTxConflict, pricing.ErrTxConflict, pricing.ErrTxConflict, pricing.ErrTxConflict}
	_, err = ingestor.Ingest(context.Background(), admin, strings.NewReader(feedHeader+"IND-0457,ABC123,Widget,1,\n"), pricing.ModeAppend)
	require.ErrorIs(t, err, pricing.ErrTxConflict)
}

func TestIngestConcurrentUploadsKeepKeysUnique(t *testing.T) {
	store := newMemStore(t)
	ingestor := newIngestor(store, nil, nil)
	csv := feedHeader + "IND-0456,ABC123,Widget,1,\n"

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := ingestor.Ingest(context.Background(), admin, strings.NewReader(csv), pricing.ModeAppend)
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	require.Equal(t, 1, store.Len())
}
