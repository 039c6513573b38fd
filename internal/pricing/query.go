package pricing

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

// Strategy names the retrieval path a query took.
type Strategy string

const (
	StrategyRecent      Strategy = "recent"
	StrategyExact       Strategy = "exact"
	StrategyProductName Strategy = "product_name"
	StrategyFilter      Strategy = "filter"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	exactProbeLimit   = 20
	nameCandidateSize = 100
	filterLimit       = 50

	// rangeSentinel sorts after every character a store id can contain.
	rangeSentinel = "\uf8ff"
)

var codeLikePattern = regexp.MustCompile(`^[A-Z0-9]{3,}$`)

// Result is the outcome of a read. Err is set when the underlying fetch failed,
// in which case Records is empty.
type Result struct {
	Records  []PricingRecord `json:"records"`
	Strategy Strategy        `json:"strategy"`
	Err      error           `json:"-"`
}

// Failed reports whether the read degraded to an empty result.
func (r Result) Failed() bool {
	return r.Err != nil
}

// ReadCache serves versioned JSON reads. *cache.Versioned satisfies it.
type ReadCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Router dispatches searches to the right retrieval strategy.
type Router struct {
	store  Store
	cache  ReadCache
	logger *slog.Logger
}

// NewRouter builds a Router. cache may be nil.
func NewRouter(store Store, cache ReadCache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, cache: cache, logger: logger}
}

// Classify decides how a search term is served.
func Classify(term string) Strategy {
	if strings.Contains(term, "-") || codeLikePattern.MatchString(term) {
		return StrategyExact
	}
	return StrategyProductName
}

// FetchRecent returns the most recently updated records, newest first.
func (r *Router) FetchRecent(ctx context.Context, pageSize int) Result {
	records, err := r.recent(ctx, clampPageSize(pageSize))
	return r.result(ctx, StrategyRecent, records, err)
}

// Search classifies term and runs the matching strategy. A blank term lists records by store id.
func (r *Router) Search(ctx context.Context, term string) Result {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.Filter(ctx, Filters{})
	}
	if Classify(term) == StrategyExact {
		return r.exact(ctx, term)
	}
	return r.SearchByProductName(ctx, term)
}

func (r *Router) exact(ctx context.Context, term string) Result {
	var byStore, bySKU []PricingRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := r.store.Find(gctx, Query{StoreID: term, OrderBy: OrderStoreIDAsc, Limit: exactProbeLimit})
		byStore = recs
		return err
	})
	g.Go(func() error {
		recs, err := r.store.Find(gctx, Query{SKU: term, OrderBy: OrderStoreIDAsc, Limit: exactProbeLimit})
		bySKU = recs
		return err
	})
	err := g.Wait()
	if err != nil {
		return r.result(ctx, StrategyExact, nil, err)
	}
	return r.result(ctx, StrategyExact, Merge(byStore, bySKU), nil)
}

// SearchByProductName filters the most recent candidates by case-insensitive
// substring match on the product name.
func (r *Router) SearchByProductName(ctx context.Context, text string) Result {
	candidates, err := r.recent(ctx, nameCandidateSize)
	if err != nil {
		return r.result(ctx, StrategyProductName, nil, err)
	}
	needle := foldCase(strings.TrimSpace(text))
	if needle == "" {
		return r.result(ctx, StrategyProductName, candidates, nil)
	}
	out := make([]PricingRecord, 0, len(candidates))
	for _, rec := range candidates {
		if strings.Contains(foldCase(rec.ProductName), needle) {
			out = append(out, rec)
		}
	}
	return r.result(ctx, StrategyProductName, out, nil)
}

// Filter composes the country prefix range with the optional narrowing predicates.
func (r *Router) Filter(ctx context.Context, f Filters) Result {
	q := Query{
		StoreID:  strings.TrimSpace(f.StoreID),
		SKU:      strings.TrimSpace(f.SKU),
		MinPrice: f.MinPrice,
		MaxPrice: f.MaxPrice,
		OrderBy:  OrderStoreIDAsc,
		Limit:    filterLimit,
	}
	if country := strings.ToUpper(strings.TrimSpace(f.Country)); country != "" {
		q.StoreIDFrom, q.StoreIDTo = CountryRange(country)
	}
	records, err := r.store.Find(ctx, q)
	return r.result(ctx, StrategyFilter, records, err)
}

// CountryRange returns the inclusive store id bounds selecting one country.
func CountryRange(country string) (from, to string) {
	prefix := country + "-"
	return prefix, prefix + rangeSentinel
}

// Merge concatenates lists, keeping the first occurrence of every id.
func Merge(lists ...[]PricingRecord) []PricingRecord {
	seen := make(map[string]struct{})
	out := make([]PricingRecord, 0)
	for _, list := range lists {
		for _, rec := range list {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

func (r *Router) recent(ctx context.Context, size int) ([]PricingRecord, error) {
	load := func(ctx context.Context) ([]PricingRecord, error) {
		return r.store.Find(ctx, Query{OrderBy: OrderUpdatedDesc, Limit: size})
	}
	if r.cache == nil {
		return load(ctx)
	}
	key, err := r.cache.BuildKey(ctx, "recent", strconv.Itoa(size))
	if err != nil {
		r.logger.Warn("pricing cache key", slog.Any("error", err))
		return load(ctx)
	}
	var out []PricingRecord
	err = r.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Warn("pricing cache fetch", slog.String("key", key), slog.Any("error", err))
		return load(ctx)
	}
	return out, nil
}

func (r *Router) result(ctx context.Context, strategy Strategy, records []PricingRecord, err error) Result {
	if err != nil {
		r.logger.ErrorContext(ctx, "pricing query failed", slog.String("strategy", string(strategy)), slog.Any("error", err))
		return Result{Records: []PricingRecord{}, Strategy: strategy, Err: err}
	}
	if records == nil {
		records = []PricingRecord{}
	}
	return Result{Records: records, Strategy: strategy}
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

func foldCase(s string) string {
	return cases.Fold().String(s)
}

// Stats aggregates record counts per country prefix.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "pricing stats failed", slog.Any("error", err))
		return Stats{}, err
	}
	return stats, nil
}
