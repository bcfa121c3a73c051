package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddsvuln/vuln-dataset/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.RecordsCollected("NVD", 3)
	m.RecordsCollected("NVD", 2)
	m.RecordDropped("same-source duplicate")
	m.RecordsExported(4)
	m.Classification("gemini", metrics.OutcomeOK, time.Second)
	m.Classification("gemini", metrics.OutcomeCacheHit, 0)

	n, err := testutil.GatherAndCount(m.Registry,
		"vuln_dataset_records_collected_total",
		"vuln_dataset_records_dropped_total",
		"vuln_dataset_records_exported_total",
		"vuln_dataset_classifications_total",
		"vuln_dataset_classification_duration_seconds",
	)
	require.NoError(t, err)
	// collected{NVD}, dropped{reason}, exported, classifications{ok,cache_hit}, duration{gemini}
	assert.Equal(t, 6, n)

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vuln_dataset_records_collected_total{source="NVD"} 5`)
	assert.Contains(t, string(body), `vuln_dataset_classifications_total{outcome="cache_hit",provider="gemini"} 1`)
	assert.Contains(t, string(body), `vuln_dataset_classification_duration_seconds_count{provider="gemini"} 1`)
}

func TestMetrics_Nil(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.RecordsCollected("NVD", 1)
		m.RecordDropped("x")
		m.RecordsExported(1)
		m.Classification("gemini", metrics.OutcomeOK, time.Second)
	})
}
