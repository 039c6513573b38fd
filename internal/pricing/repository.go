package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pricebook/pricebook/internal/platform/db"
)

const recordColumns = `id, store_id, sku, product_name, price::text, COALESCE(to_char(price_date, 'YYYY-MM-DD'), ''),
	currency, notes, updated_by, created_at, updated_at`

// Repository persists pricing records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return mapPgError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	}))
}

// Get loads a record by id.
func (r *Repository) Get(ctx context.Context, id string) (PricingRecord, error) {
	return getRecord(ctx, r.pool, id, false)
}

// Find runs a bounded query.
func (r *Repository) Find(ctx context.Context, q Query) ([]PricingRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.StoreID != "" {
		where = append(where, "store_id = "+arg(q.StoreID))
	}
	if q.SKU != "" {
		where = append(where, "sku = "+arg(q.SKU))
	}
	if q.StoreIDFrom != "" {
		where = append(where, `store_id COLLATE "C" >= `+arg(q.StoreIDFrom))
	}
	if q.StoreIDTo != "" {
		where = append(where, `store_id COLLATE "C" <= `+arg(q.StoreIDTo))
	}
	if q.MinPrice != nil {
		where = append(where, "price >= "+arg(q.MinPrice.String())+"::numeric")
	}
	if q.MaxPrice != nil {
		where = append(where, "price <= "+arg(q.MaxPrice.String())+"::numeric")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + recordColumns + " FROM pricing_records")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	switch q.OrderBy {
	case OrderStoreIDAsc:
		sb.WriteString(` ORDER BY store_id COLLATE "C", sku COLLATE "C", id`)
	default:
		sb.WriteString(" ORDER BY updated_at DESC, id")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]PricingRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, mapPgError(rows.Err())
}

// Stats counts records per country prefix.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	rows, err := r.pool.Query(ctx, `SELECT split_part(store_id, '-', 1) AS country, COUNT(*) FROM pricing_records GROUP BY 1`)
	if err != nil {
		return Stats{}, mapPgError(err)
	}
	defer rows.Close()

	stats := Stats{ByCountry: make(map[string]int)}
	for rows.Next() {
		var (
			country string
			count   int64
		)
		if err := rows.Scan(&country, &count); err != nil {
			return Stats{}, err
		}
		stats.ByCountry[country] = int(count)
		stats.Total += int(count)
	}
	return stats, mapPgError(rows.Err())
}

func (t *txRepo) Get(ctx context.Context, id string) (PricingRecord, error) {
	return getRecord(ctx, t.tx, id, true)
}

func (t *txRepo) InsertIfAbsent(ctx context.Context, rec PricingRecord) (PricingRecord, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `INSERT INTO pricing_records
		(id, store_id, sku, product_name, price, price_date, currency, notes, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, NULLIF($6, '')::date, $7, $8, $9, $10, $11)
		ON CONFLICT (store_id, sku) DO NOTHING
		RETURNING id`,
		rec.ID, rec.StoreID, rec.SKU, rec.ProductName, rec.Price.String(), rec.Date,
		rec.Currency, rec.Notes, rec.UpdatedBy, rec.CreatedAt, rec.UpdatedAt).Scan(&id)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PricingRecord{}, false, mapPgError(err)
	}
	row := t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM pricing_records WHERE store_id = $1 AND sku = $2 FOR UPDATE`, rec.StoreID, rec.SKU)
	existing, err := scanRecord(row)
	if err != nil {
		return PricingRecord{}, false, err
	}
	return existing, false, nil
}

func (t *txRepo) Update(ctx context.Context, id string, changes Changes) (PricingRecord, error) {
	var (
		sets []string
		args []any
	)
	set := func(column, cast string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d%s", column, len(args), cast))
	}
	if changes.StoreID != nil {
		set("store_id", "", *changes.StoreID)
	}
	if changes.SKU != nil {
		set("sku", "", *changes.SKU)
	}
	if changes.ProductName != nil {
		set("product_name", "", *changes.ProductName)
	}
	if changes.Price != nil {
		set("price", "::numeric", changes.Price.String())
	}
	if changes.Date != nil {
		args = append(args, *changes.Date)
		sets = append(sets, fmt.Sprintf("price_date = NULLIF($%d, '')::date", len(args)))
	}
	if changes.Currency != nil {
		set("currency", "", *changes.Currency)
	}
	if changes.Notes != nil {
		set("notes", "", *changes.Notes)
	}
	set("updated_by", "", changes.UpdatedBy)
	set("updated_at", "", changes.UpdatedAt)
	args = append(args, id)

	sql := fmt.Sprintf(`UPDATE pricing_records SET %s WHERE id = $%d RETURNING `+recordColumns, strings.Join(sets, ", "), len(args))
	return scanRecord(t.tx.QueryRow(ctx, sql, args...))
}

func getRecord(ctx context.Context, q querier, id string, forUpdate bool) (PricingRecord, error) {
	sql := `SELECT ` + recordColumns + ` FROM pricing_records WHERE id = $1`
	if forUpdate {
		sql += " FOR UPDATE"
	}
	return scanRecord(q.QueryRow(ctx, sql, id))
}

func scanRecord(row pgx.Row) (PricingRecord, error) {
	var (
		rec   PricingRecord
		price string
	)
	err := row.Scan(&rec.ID, &rec.StoreID, &rec.SKU, &rec.ProductName, &price, &rec.Date,
		&rec.Currency, &rec.Notes, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return PricingRecord{}, mapPgError(err)
	}
	rec.Price, err = decimal.NewFromString(price)
	if err != nil {
		return PricingRecord{}, fmt.Errorf("pricing: scan price %q: %w", price, err)
	}
	return rec, nil
}

func mapPgError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrTxConflict):
		return err
	case db.IsSerializationFailure(err):
		return fmt.Errorf("%w: %v", ErrTxConflict, err)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}
