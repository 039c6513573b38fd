package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pricebook/pricebook/internal/pricing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueImports carries CSV ingestions so large feeds do not starve maintenance tasks.
	QueueImports = "imports"

	// TaskPricingImport runs a deferred CSV ingestion.
	TaskPricingImport = "pricing:import"
	// TaskIdempotencyCleanup prunes expired upload idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// importTaskTimeout bounds a single ingestion attempt on the worker.
const importTaskTimeout = 10 * time.Minute

// NewPricingImportTask builds an asynq task carrying the upload.
func NewPricingImportTask(req pricing.ImportRequest) (*asynq.Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPricingImport, body,
		asynq.Queue(QueueImports),
		asynq.MaxRetry(3),
		asynq.Timeout(importTaskTimeout)), nil
}

// IdempotencyCleanupPayload configures the cleanup task.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
