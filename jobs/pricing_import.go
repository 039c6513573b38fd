package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pricebook/pricebook/internal/jobs"
	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/rbac"
)

// PricingImportJob replays an uploaded feed through the ingestor on the worker.
type PricingImportJob struct {
	Ingestor *pricing.Ingestor
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPricingImportJob wires dependencies for the import handler.
func NewPricingImportJob(ingestor *pricing.Ingestor, logger *slog.Logger, metrics *jobmetrics.Metrics) *PricingImportJob {
	return &PricingImportJob{Ingestor: ingestor, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPricingImport tasks. Payload and permission problems are
// not retried; store failures are.
func (j *PricingImportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ingestor == nil {
		return errors.New("pricing import: handler not configured")
	}
	var req pricing.ImportRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("pricing import: decode payload: %w: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskPricingImport)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("actor", req.Principal.UID),
		slog.String("mode", string(req.Mode)),
	)
	if id, ok := asynq.GetTaskID(ctx); ok {
		logger = logger.With(slog.String("task_id", id))
	}

	summary, err := j.Ingestor.Ingest(ctx, req.Principal, bytes.NewReader(req.CSV), req.Mode)
	if err != nil {
		resultErr = err
		logger.Error("background import failed", slog.Any("error", err))
		if permanentImportError(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return resultErr
	}
	logger.Info("background import completed",
		slog.String("import_id", summary.ImportID),
		slog.Int("uploaded", summary.Uploaded),
		slog.Int("invalid", summary.Invalid))
	if w := t.ResultWriter(); w != nil {
		if body, err := json.Marshal(summary); err == nil {
			_, _ = w.Write(body)
		}
	}
	return nil
}

func permanentImportError(err error) bool {
	for _, target := range []error{
		rbac.ErrForbidden,
		pricing.ErrInvalidMode,
		pricing.ErrParse,
		pricing.ErrEmptyFile,
		pricing.ErrTooManyRows,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (j *PricingImportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
