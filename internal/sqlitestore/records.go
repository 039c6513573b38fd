package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pricebook/pricebook/internal/pricing"
)

const recordColumns = `id, store_id, sku, product_name, price, price_date, currency, notes, updated_by, created_at, updated_at`

// RecordStore implements pricing.Store.
type RecordStore struct {
	db *sql.DB
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get loads a record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (pricing.PricingRecord, error) {
	return getRecord(ctx, s.db, id)
}

// Find runs a bounded query. Text comparisons use SQLite's default BINARY collation.
func (s *RecordStore) Find(ctx context.Context, q pricing.Query) ([]pricing.PricingRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.StoreID != "" {
		where = append(where, "store_id = ?")
		args = append(args, q.StoreID)
	}
	if q.SKU != "" {
		where = append(where, "sku = ?")
		args = append(args, q.SKU)
	}
	if q.StoreIDFrom != "" {
		where = append(where, "store_id >= ?")
		args = append(args, q.StoreIDFrom)
	}
	if q.StoreIDTo != "" {
		where = append(where, "store_id <= ?")
		args = append(args, q.StoreIDTo)
	}
	if q.MinPrice != nil {
		where = append(where, "CAST(price AS REAL) >= ?")
		args = append(args, q.MinPrice.InexactFloat64())
	}
	if q.MaxPrice != nil {
		where = append(where, "CAST(price AS REAL) <= ?")
		args = append(args, q.MaxPrice.InexactFloat64())
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + recordColumns + " FROM pricing_records")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	switch q.OrderBy {
	case pricing.OrderStoreIDAsc:
		sb.WriteString(" ORDER BY store_id, sku, id")
	default:
		sb.WriteString(" ORDER BY updated_at DESC, id")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]pricing.PricingRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, mapError(rows.Err())
}

// Stats counts records per country prefix.
func (s *RecordStore) Stats(ctx context.Context) (pricing.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		CASE WHEN instr(store_id, '-') > 1 THEN substr(store_id, 1, instr(store_id, '-') - 1) ELSE '' END AS country,
		COUNT(*)
		FROM pricing_records GROUP BY 1`)
	if err != nil {
		return pricing.Stats{}, mapError(err)
	}
	defer rows.Close()

	stats := pricing.Stats{ByCountry: make(map[string]int)}
	for rows.Next() {
		var (
			country string
			count   int
		)
		if err := rows.Scan(&country, &count); err != nil {
			return pricing.Stats{}, err
		}
		stats.ByCountry[country] = count
		stats.Total += count
	}
	return stats, mapError(rows.Err())
}

// WithTx runs fn inside an immediate transaction.
func (s *RecordStore) WithTx(ctx context.Context, fn func(context.Context, pricing.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &recordTx{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

type recordTx struct {
	tx *sql.Tx
}

func (t *recordTx) Get(ctx context.Context, id string) (pricing.PricingRecord, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *recordTx) InsertIfAbsent(ctx context.Context, rec pricing.PricingRecord) (pricing.PricingRecord, bool, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO pricing_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (store_id, sku) DO NOTHING`,
		rec.ID, rec.StoreID, rec.SKU, rec.ProductName, rec.Price.String(), rec.Date,
		rec.Currency, rec.Notes, rec.UpdatedBy, toUnix(rec.CreatedAt), toUnix(rec.UpdatedAt))
	if err != nil {
		return pricing.PricingRecord{}, false, mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return rec, true, nil
	}
	row := t.tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM pricing_records WHERE store_id = ? AND sku = ?`, rec.StoreID, rec.SKU)
	existing, err := scanRecord(row)
	if err != nil {
		return pricing.PricingRecord{}, false, err
	}
	return existing, false, nil
}

func (t *recordTx) Update(ctx context.Context, id string, changes pricing.Changes) (pricing.PricingRecord, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}
	if changes.StoreID != nil {
		set("store_id", *changes.StoreID)
	}
	if changes.SKU != nil {
		set("sku", *changes.SKU)
	}
	if changes.ProductName != nil {
		set("product_name", *changes.ProductName)
	}
	if changes.Price != nil {
		set("price", changes.Price.String())
	}
	if changes.Date != nil {
		set("price_date", *changes.Date)
	}
	if changes.Currency != nil {
		set("currency", *changes.Currency)
	}
	if changes.Notes != nil {
		set("notes", *changes.Notes)
	}
	set("updated_by", changes.UpdatedBy)
	set("updated_at", toUnix(changes.UpdatedAt))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE pricing_records SET %s WHERE id = ? RETURNING `+recordColumns, strings.Join(sets, ", "))
	return scanRecord(t.tx.QueryRowContext(ctx, query, args...))
}

func getRecord(ctx context.Context, q queryRower, id string) (pricing.PricingRecord, error) {
	return scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM pricing_records WHERE id = ?`, id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (pricing.PricingRecord, error) {
	var (
		rec                  pricing.PricingRecord
		price                string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.StoreID, &rec.SKU, &rec.ProductName, &price, &rec.Date,
		&rec.Currency, &rec.Notes, &rec.UpdatedBy, &createdAt, &updatedAt)
	if err != nil {
		return pricing.PricingRecord{}, mapError(err)
	}
	rec.Price, err = decimal.NewFromString(price)
	if err != nil {
		return pricing.PricingRecord{}, fmt.Errorf("sqlite: scan price %q: %w", price, err)
	}
	rec.CreatedAt = fromUnix(createdAt)
	rec.UpdatedAt = fromUnix(updatedAt)
	return rec, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return pricing.ErrNotFound
	case errors.Is(err, pricing.ErrNotFound), errors.Is(err, pricing.ErrDuplicateKey), errors.Is(err, pricing.ErrTxConflict):
		return err
	case isBusy(err):
		return fmt.Errorf("%w: %v", pricing.ErrTxConflict, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", pricing.ErrDuplicateKey, err)
	}
	return err
}
