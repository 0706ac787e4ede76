package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Tests share the global tracer provider, so they run sequentially.

func TestStartJobRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), Config{SampleRatio: 1}, recorder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := StartJob(context.Background(), "rss", "run-1")
	require.NotEmpty(t, TraceID(ctx))
	EndSpan(span, errors.New("feed down"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "job rss", ended[0].Name())
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Events(), 1)
}

func TestMiddlewareCreatesServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "test", SampleRatio: 1}, recorder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, seen)
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "GET /v1/scheduler/status", ended[0].Name())
}

func TestNoSamplingLeavesContextUntraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), Config{SampleRatio: 0}, recorder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartJob(context.Background(), "cleanup", "run-2")
	EndSpan(span, nil)
	require.Empty(t, recorder.Ended())
}

func TestTraceIDEmptyWithoutSpan(t *testing.T) {
	require.Empty(t, TraceID(context.Background()))
}
