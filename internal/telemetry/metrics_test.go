package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAccumulate(t *testing.T) {
	m := New()

	m.ObserveIngest(4)
	m.ObserveIngest(2)
	m.DegradedWrite(StageKeywordWrite)
	m.RerankFallback()
	m.BackgroundEmbed(OutcomeSuccess)
	m.BackgroundEmbed(OutcomeSuccess)
	m.BackgroundEmbed(OutcomeFailure)

	assert.Equal(t, 6.0, testutil.ToFloat64(m.chunksIngested))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documentsIngest))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degradedWrites.WithLabelValues(StageKeywordWrite)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rerankFallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.backgroundEmbeds.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backgroundEmbeds.WithLabelValues(OutcomeFailure)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveIngest(1)
		m.DegradedWrite(StageVectorCleanup)
		m.ObserveQuery("hybrid", time.Millisecond, 3)
		m.RetrievalError("keyword")
		m.RerankFallback()
		m.BackgroundEmbed(OutcomeQueueFull)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveQuery("hybrid", 20*time.Millisecond, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ragkb_query_duration_seconds_count{mode="hybrid"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_Value(t *testing.T) {
	m := New()
	m.DegradedWrite(StageKeywordWrite)
	m.DegradedWrite(StageKeywordWrite)
	m.DegradedWrite(StageVectorCleanup)
	m.ObserveQuery("hybrid", time.Millisecond, 3)

	assert.Equal(t, 2.0, m.Value("degraded_writes_total", StageKeywordWrite))
	assert.Equal(t, 3.0, m.Value("degraded_writes_total"))
	assert.Equal(t, 1.0, m.Value("query_duration_seconds", "hybrid"))
	assert.Zero(t, m.Value("query_duration_seconds", "vector"))
	assert.Zero(t, m.Value("no_such_metric"))

	var nilMetrics *Metrics
	assert.Zero(t, nilMetrics.Value("chunks_ingested_total"))
}
