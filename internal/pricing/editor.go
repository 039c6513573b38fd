package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/shared"
)

const duplicateKeyMessage = "A record for this Store ID and SKU already exists"

// Patch carries the fields a caller wants to change. Nil members are kept.
type Patch struct {
	StoreID     *string `json:"storeId,omitempty"`
	SKU         *string `json:"sku,omitempty"`
	ProductName *string `json:"productName,omitempty"`
	Price       *string `json:"price,omitempty"`
	Date        *string `json:"date,omitempty"`
	Currency    *string `json:"currency,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// CreateInput is a manually entered record.
type CreateInput struct {
	Fields
	Currency string `json:"currency"`
	Notes    string `json:"notes"`
}

// EditResult reports the outcome of an edit. FieldErrors is non-empty when
// validation rejected the input, in which case nothing was written.
type EditResult struct {
	Record      PricingRecord     `json:"record"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
	Changed     []string          `json:"changed,omitempty"`
}

// OK reports whether the edit passed validation.
func (r EditResult) OK() bool {
	return len(r.FieldErrors) == 0
}

// Editor reads and edits single records.
type Editor struct {
	store      Store
	notifier   Notifier
	audit      AuditPort
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
	newID      func() string
}

// NewEditor builds Editor. deps.Metrics is ignored.
func NewEditor(store Store, deps IngestDeps) *Editor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		store:      store,
		notifier:   deps.Notifier,
		audit:      deps.Audit,
		logger:     logger,
		maxRetries: 3,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// GetByID returns the record with id.
func (e *Editor) GetByID(ctx context.Context, p rbac.Principal, id string) (PricingRecord, error) {
	if err := rbac.Authorize(p, rbac.CapSearchRecords); err != nil {
		return PricingRecord{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return PricingRecord{}, ErrNotFound
	}
	return e.store.Get(ctx, id)
}

// Update validates the merged record and writes only the fields that differ.
func (e *Editor) Update(ctx context.Context, p rbac.Principal, id string, patch Patch) (EditResult, error) {
	if err := rbac.Authorize(p, rbac.CapUploadCSV); err != nil {
		return EditResult{}, err
	}
	existing, err := e.store.Get(ctx, id)
	if err != nil {
		return EditResult{}, err
	}

	merged := patch.merge(fieldsOf(existing))
	fieldErrs := ValidateFields(merged)
	currency := existing.Currency
	if patch.Currency != nil {
		currency = strings.ToUpper(strings.TrimSpace(*patch.Currency))
		if msg := validateCurrency(currency); msg != "" {
			fieldErrs[FieldCurrency] = msg
		}
	}
	if len(fieldErrs) > 0 {
		return EditResult{Record: existing, FieldErrors: fieldErrs}, nil
	}

	changes, changed := diff(existing, merged.toRecord(), currency, patch.Notes)
	if changes.Empty() {
		return EditResult{Record: existing}, nil
	}
	changes.UpdatedBy = p.UID
	changes.UpdatedAt = e.now()

	var updated PricingRecord
	err = e.withRetry(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.Update(ctx, id, changes)
		updated = rec
		return err
	})
	if errors.Is(err, ErrDuplicateKey) {
		return EditResult{Record: existing, FieldErrors: map[string]string{FieldStoreID: duplicateKeyMessage}}, nil
	}
	if err != nil {
		e.logger.Error("pricing update failed", slog.String("id", id), slog.String("actor", p.UID), slog.Any("error", err))
		return EditResult{}, fmt.Errorf("pricing: update %s: %w", id, err)
	}

	e.committed(ctx, p, ChangeUpdate, updated.ID, map[string]any{"changed": changed})
	return EditResult{Record: updated, Changed: changed}, nil
}

// Create validates and inserts a manually entered record.
func (e *Editor) Create(ctx context.Context, p rbac.Principal, in CreateInput) (EditResult, error) {
	if err := rbac.Authorize(p, rbac.CapUploadCSV); err != nil {
		return EditResult{}, err
	}
	fieldErrs := ValidateFields(in.Fields)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if msg := validateCurrency(currency); msg != "" {
		fieldErrs[FieldCurrency] = msg
	}
	if len(fieldErrs) > 0 {
		return EditResult{FieldErrors: fieldErrs}, nil
	}

	now := e.now()
	rec := in.Fields.toRecord()
	rec.ID = e.newID()
	rec.Currency = currency
	rec.Notes = strings.TrimSpace(in.Notes)
	rec.UpdatedBy = p.UID
	rec.CreatedAt = now
	rec.UpdatedAt = now

	var inserted bool
	err := e.withRetry(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		_, inserted, err = tx.InsertIfAbsent(ctx, rec)
		return err
	})
	if err != nil {
		e.logger.Error("pricing create failed", slog.String("store_id", rec.StoreID), slog.String("sku", rec.SKU), slog.Any("error", err))
		return EditResult{}, fmt.Errorf("pricing: create: %w", err)
	}
	if !inserted {
		return EditResult{FieldErrors: map[string]string{FieldStoreID: duplicateKeyMessage}}, nil
	}

	e.committed(ctx, p, ChangeCreate, rec.ID, map[string]any{"storeId": rec.StoreID, "sku": rec.SKU})
	return EditResult{Record: rec}, nil
}

func (e *Editor) withRetry(ctx context.Context, fn func(context.Context, Tx) error) error {
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		err = e.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrTxConflict) {
			return err
		}
	}
	return err
}

func (e *Editor) committed(ctx context.Context, p rbac.Principal, kind ChangeKind, id string, meta map[string]any) {
	if e.notifier != nil {
		evt := ChangeEvent{Kind: kind, IDs: []string{id}, Count: 1, Actor: p.UID, Timestamp: e.now()}
		if err := e.notifier.Publish(ctx, evt); err != nil {
			e.logger.Warn("pricing change publish", slog.String("id", id), slog.Any("error", err))
		}
	}
	if e.audit != nil {
		entry := shared.AuditLog{
			ActorID:  p.UID,
			Action:   "pricing." + string(kind),
			Entity:   "pricing_records",
			EntityID: id,
			Meta:     meta,
			At:       e.now(),
		}
		if err := e.audit.Record(ctx, entry); err != nil {
			e.logger.Warn("pricing audit", slog.String("id", id), slog.Any("error", err))
		}
	}
}

func (p Patch) merge(base Fields) Fields {
	if p.StoreID != nil {
		base.StoreID = *p.StoreID
	}
	if p.SKU != nil {
		base.SKU = *p.SKU
	}
	if p.ProductName != nil {
		base.ProductName = *p.ProductName
	}
	if p.Price != nil {
		base.Price = *p.Price
	}
	if p.Date != nil {
		base.Date = *p.Date
	}
	return base
}

func diff(current, next PricingRecord, currency string, notes *string) (Changes, []string) {
	var (
		c       Changes
		changed []string
	)
	if next.StoreID != current.StoreID {
		c.StoreID = &next.StoreID
		changed = append(changed, FieldStoreID)
	}
	if next.SKU != current.SKU {
		c.SKU = &next.SKU
		changed = append(changed, FieldSKU)
	}
	if next.ProductName != current.ProductName {
		c.ProductName = &next.ProductName
		changed = append(changed, FieldProductName)
	}
	if !next.Price.Equal(current.Price) {
		price := next.Price
		c.Price = &price
		changed = append(changed, FieldPrice)
	}
	if next.Date != current.Date {
		c.Date = &next.Date
		changed = append(changed, FieldDate)
	}
	if currency != current.Currency {
		c.Currency = &currency
		changed = append(changed, FieldCurrency)
	}
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		if trimmed != current.Notes {
			c.Notes = &trimmed
			changed = append(changed, "notes")
		}
	}
	return c, changed
}
