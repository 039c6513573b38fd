package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobmetrics "github.com/pricebook/pricebook/internal/jobs"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ImportRecorder receives ingestion metrics. *jobmetrics.Metrics satisfies it.
type ImportRecorder interface {
	ObserveImport(mode string, counts jobmetrics.ImportCounts, elapsed time.Duration, err error)
}

// IngestConfig groups ingestion limits.
type IngestConfig struct {
	// BatchSize is the number of rows reconciled between cancellation checks.
	BatchSize int
	// MaxRows caps data rows per file; <= 0 disables the cap.
	MaxRows int
	// MaxRetries bounds re-runs after ErrTxConflict.
	MaxRetries int
}

// IngestDeps groups optional collaborators. Nil members are skipped.
type IngestDeps struct {
	Notifier Notifier
	Audit    AuditPort
	Metrics  ImportRecorder
	Logger   *slog.Logger
}

// Ingestor validates CSV feeds and reconciles them into the store.
type Ingestor struct {
	store    Store
	notifier Notifier
	audit    AuditPort
	metrics  ImportRecorder
	logger   *slog.Logger
	cfg      IngestConfig
	now      func() time.Time
	newID    func() string
}

// NewIngestor builds Ingestor.
func NewIngestor(store Store, deps IngestDeps, cfg IngestConfig) *Ingestor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    store,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Ingest parses data and reconciles every valid row under mode in one transaction.
// Invalid rows are reported in the summary and never written. A parse failure,
// cancellation or store failure leaves the store untouched.
func (s *Ingestor) Ingest(ctx context.Context, p rbac.Principal, data io.Reader, mode Mode) (Summary, error) {
	if err := rbac.Authorize(p, rbac.CapUploadCSV); err != nil {
		return Summary{}, err
	}
	if mode != ModeAppend && mode != ModeOverwrite {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	rows, err := ParseCSV(data, s.cfg.MaxRows)
	if err != nil {
		return Summary{}, err
	}
	return s.IngestRows(ctx, p, rows, mode)
}

// IngestRows reconciles already parsed rows. Every row is validated again, so the
// Valid flag and Errors supplied by the caller are ignored.
func (s *Ingestor) IngestRows(ctx context.Context, p rbac.Principal, rows []ParsedRow, mode Mode) (Summary, error) {
	if err := rbac.Authorize(p, rbac.CapUploadCSV); err != nil {
		return Summary{}, err
	}
	if mode != ModeAppend && mode != ModeOverwrite {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	start := time.Now()
	summary := Summary{
		ImportID: s.newID(),
		Mode:     mode,
		Total:    len(rows),
		Errors:   []string{},
	}
	valid := make([]ParsedRow, 0, len(rows))
	for _, row := range rows {
		row.Errors = RowErrors(row.Fields)
		row.Valid = len(row.Errors) == 0
		if !row.Valid {
			summary.InvalidRows = append(summary.InvalidRows, row)
			for _, msg := range row.Errors {
				summary.Errors = append(summary.Errors, fmt.Sprintf("Row %d: %s", row.RowIndex, msg))
			}
			continue
		}
		valid = append(valid, row)
	}
	summary.Valid = len(valid)
	summary.Invalid = len(summary.InvalidRows)

	var (
		written []string
		outcome reconcileCounts
		err     error
	)
	for attempt := 0; ; attempt++ {
		outcome, written, err = s.reconcile(ctx, p, valid, mode)
		if err == nil || !errors.Is(err, ErrTxConflict) || attempt >= s.cfg.MaxRetries {
			break
		}
		s.logger.Warn("pricing import retry", slog.String("import_id", summary.ImportID), slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	if err != nil {
		s.observe(mode, summary, time.Since(start), err)
		s.logger.Error("pricing import failed",
			slog.String("import_id", summary.ImportID),
			slog.String("mode", string(mode)),
			slog.String("actor", p.UID),
			slog.Any("error", err))
		return summary, fmt.Errorf("pricing: import: %w", err)
	}

	summary.Inserted = outcome.inserted
	summary.Updated = outcome.updated
	summary.Skipped = outcome.skipped
	summary.Uploaded = outcome.inserted + outcome.updated

	s.afterCommit(ctx, p, summary, written)
	s.observe(mode, summary, time.Since(start), nil)
	s.logger.Info("pricing import",
		slog.String("import_id", summary.ImportID),
		slog.String("mode", string(mode)),
		slog.String("actor", p.UID),
		slog.Int("total", summary.Total),
		slog.Int("valid", summary.Valid),
		slog.Int("invalid", summary.Invalid),
		slog.Int("uploaded", summary.Uploaded),
		slog.Int("skipped", summary.Skipped))
	return summary, nil
}

type reconcileCounts struct {
	inserted int
	updated  int
	skipped  int
}

func (s *Ingestor) reconcile(ctx context.Context, p rbac.Principal, rows []ParsedRow, mode Mode) (reconcileCounts, []string, error) {
	var (
		counts  reconcileCounts
		written []string
	)
	if err := ctx.Err(); err != nil {
		return counts, nil, err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		counts = reconcileCounts{}
		written = written[:0]
		for i, row := range rows {
			if i%s.cfg.BatchSize == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			now := s.now()
			rec := row.Fields.toRecord()
			rec.ID = s.newID()
			rec.UpdatedBy = p.UID
			rec.CreatedAt = now
			rec.UpdatedAt = now

			existing, inserted, err := tx.InsertIfAbsent(ctx, rec)
			if err != nil {
				return fmt.Errorf("row %d: %w", row.RowIndex, err)
			}
			switch {
			case inserted:
				counts.inserted++
				written = append(written, rec.ID)
			case mode == ModeAppend:
				counts.skipped++
			default:
				changes := Changes{
					ProductName: &rec.ProductName,
					Price:       &rec.Price,
					Date:        &rec.Date,
					UpdatedBy:   p.UID,
					UpdatedAt:   now,
				}
				if _, err := tx.Update(ctx, existing.ID, changes); err != nil {
					return fmt.Errorf("row %d: %w", row.RowIndex, err)
				}
				counts.updated++
				written = append(written, existing.ID)
			}
		}
		return ctx.Err()
	})
	return counts, written, err
}

// maxEventIDs bounds the ids carried on a change event.
const maxEventIDs = 100

func (s *Ingestor) afterCommit(ctx context.Context, p rbac.Principal, summary Summary, written []string) {
	if summary.Uploaded > 0 && s.notifier != nil {
		ids := written
		if len(ids) > maxEventIDs {
			ids = ids[:maxEventIDs]
		}
		evt := ChangeEvent{Kind: ChangeImport, IDs: ids, Count: summary.Uploaded, Actor: p.UID, Timestamp: s.now()}
		if err := s.notifier.Publish(ctx, evt); err != nil {
			s.logger.Warn("pricing change publish", slog.String("import_id", summary.ImportID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		entry := shared.AuditLog{
			ActorID:  p.UID,
			Action:   "pricing.import",
			Entity:   "pricing_records",
			EntityID: summary.ImportID,
			Meta: map[string]any{
				"mode":     string(summary.Mode),
				"total":    summary.Total,
				"valid":    summary.Valid,
				"invalid":  summary.Invalid,
				"inserted": summary.Inserted,
				"updated":  summary.Updated,
				"skipped":  summary.Skipped,
			},
			At: s.now(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("pricing import audit", slog.String("import_id", summary.ImportID), slog.Any("error", err))
		}
	}
}

func (s *Ingestor) observe(mode Mode, summary Summary, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveImport(string(mode), jobmetrics.ImportCounts{
		Inserted: summary.Inserted,
		Updated:  summary.Updated,
		Skipped:  summary.Skipped,
		Invalid:  summary.Invalid,
	}, elapsed, err)
}
