package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("pricing:import").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("pricing:import").End(boom), boom)

	body := scrape(t, reg)
	require.Contains(t, body, `pricebook_jobs_total{job="pricing:import",status="success"} 1`)
	require.Contains(t, body, `pricebook_jobs_total{job="pricing:import",status="failure"} 1`)
	require.Contains(t, body, `pricebook_jobs_failures_total{job="pricing:import"} 1`)
}

func TestObserveImport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveImport("append", ImportCounts{Inserted: 3, Skipped: 1, Invalid: 2}, 50*time.Millisecond, nil)
	m.ObserveImport("append", ImportCounts{}, time.Millisecond, errors.New("tx"))

	body := scrape(t, reg)
	require.Contains(t, body, `pricebook_import_rows_total{mode="append",outcome="inserted"} 3`)
	require.Contains(t, body, `pricebook_import_rows_total{mode="append",outcome="invalid"} 2`)
	require.Contains(t, body, `pricebook_imports_total{mode="append",status="failure"} 1`)
	require.NotContains(t, body, `outcome="updated"`)

	var nilMetrics *Metrics
	nilMetrics.ObserveImport("append", ImportCounts{Inserted: 1}, time.Second, nil)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
