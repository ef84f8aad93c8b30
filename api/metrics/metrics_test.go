package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/eventdash/api/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAPI_Metrics_MiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/devices/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"d1", "d2", "d3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	require.Equal(t, before+3, testutil.ToFloat64(counter))
}

func TestAPI_Metrics_UnmatchedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	// chi skips middleware entirely on a router with no routes.
	r.Get("/api/ranges", func(w http.ResponseWriter, r *http.Request) {})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}
