package sqlfluff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jarredhawkins/sqlfluff-lsp/internal/config"
)

// collect returns the metrics recorded so far, keyed by instrument name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func callCount(t *testing.T, m metricdata.Metrics, subcommand, outcome string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "sqlfluff_calls_total is an int64 sum")

	want := attribute.NewSet(
		attribute.String("subcommand", subcommand),
		attribute.String("outcome", outcome),
	)
	var total int64
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestCallMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	ok, _ := fakeSqlfluff(t, `printf '[]'`)
	broken, _ := fakeSqlfluff(t, `exit 2`)

	client := New(config.Config{SqlfluffPath: ok, Timeout: 10 * time.Second}, nil, WithMeterProvider(mp))
	_, err := client.Lint(context.Background(), testURI(t), "select 1\n")
	require.NoError(t, err)
	_, err = client.Lint(context.Background(), testURI(t), "select 2\n")
	require.NoError(t, err)

	failing := New(config.Config{SqlfluffPath: broken, Timeout: 10 * time.Second}, nil, WithMeterProvider(mp))
	_, err = failing.Fix(context.Background(), testURI(t), "select 1\n")
	require.Error(t, err)

	metrics := collect(t, reader)
	require.Contains(t, metrics, "sqlfluff_calls_total")
	assert.Equal(t, int64(2), callCount(t, metrics["sqlfluff_calls_total"], "lint", outcomeOK))
	assert.Equal(t, int64(1), callCount(t, metrics["sqlfluff_calls_total"], "fix", outcomeFailed))

	require.Contains(t, metrics, "sqlfluff_call_duration_seconds")
	hist, isHist := metrics["sqlfluff_call_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	var observed uint64
	for _, dp := range hist.DataPoints {
		observed += dp.Count
	}
	assert.Equal(t, uint64(3), observed)
}

func TestCallSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bin, _ := fakeSqlfluff(t, `echo "boom" >&2; exit 2`)
	client := New(config.Config{SqlfluffPath: bin, Timeout: 10 * time.Second}, nil, WithTracerProvider(tp))

	_, err := client.Lint(context.Background(), testURI(t), "select 1\n")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sqlfluff.lint", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("sqlfluff.subcommand", "lint"))
}
