package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/financial/history/{code}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	r.Get("/v1/financial/gold", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK) // ignored by net/http, must not relabel
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	unavailable := httpRequestsTotal.WithLabelValues(http.MethodGet, "503")
	notFound := httpRequestsTotal.WithLabelValues(http.MethodGet, "404")
	okBefore, unavailableBefore, notFoundBefore := testutil.ToFloat64(ok), testutil.ToFloat64(unavailable), testutil.ToFloat64(notFound)

	for _, path := range []string{"/v1/financial/history/USD", "/v1/financial/history/EUR", "/v1/financial/gold", "/random/probe"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(ok)-okBefore, 0)
	require.InDelta(t, 1, testutil.ToFloat64(unavailable)-unavailableBefore, 0)
	require.InDelta(t, 1, testutil.ToFloat64(notFound)-notFoundBefore, 0)

	// One series per pattern, never per concrete path.
	series := testutil.CollectAndCount(httpRequestDurationSeconds)
	require.Positive(t, series)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/financial/history/GBP", nil))
	require.Equal(t, series, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	require.Equal(t, http.StatusOK, rec.code())
	_, _ = rec.Write([]byte("x"))
	require.Equal(t, http.StatusOK, rec.code())
	require.NotNil(t, rec.Unwrap())
}
