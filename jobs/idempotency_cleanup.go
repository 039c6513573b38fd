package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pricebook/pricebook/internal/jobs"
)

// defaultIdempotencyRetention applies when the payload carries no retention.
const defaultIdempotencyRetention = 72 * time.Hour

// KeyCleaner prunes idempotency keys. *shared.IdempotencyStore satisfies it.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob removes upload keys past their retention.
type IdempotencyCleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Retention <= 0 {
		payload.Retention = defaultIdempotencyRetention
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	err := j.Store.Cleanup(ctx, payload.Retention)
	if j.Logger != nil {
		if err != nil {
			j.Logger.Error("idempotency cleanup", slog.Any("error", err))
		} else {
			j.Logger.Info("idempotency cleanup", slog.Duration("retention", payload.Retention))
		}
	}
	return tracker.End(err)
}
