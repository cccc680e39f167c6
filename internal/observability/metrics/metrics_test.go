package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDeduction(t *testing.T) {
	m := New()

	m.RecordDeduction("pro", 75)
	m.RecordDeduction("pro", 25)
	m.RecordDeduction("free", 10)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.deductions.WithLabelValues("pro")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.creditsDeducted.WithLabelValues("pro")))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.creditsDeducted.WithLabelValues("free")))
}

func TestCacheLookupOutcomes(t *testing.T) {
	m := New()

	m.IncCacheLookup("pricing_entries", true)
	m.IncCacheLookup("pricing_entries", true)
	m.IncCacheLookup("pricing_entries", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheLookups.WithLabelValues("pricing_entries", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheLookups.WithLabelValues("pricing_entries", "miss")))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.RecordDeduction("pro", 1)
		m.IncInsufficientCredits()
		m.IncWebhookIntent("credits.low")
		m.IncCacheLookup("margins", false)
		m.ObserveHTTPRequest("/v1/usage/deduct", "POST", 200, 5*time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}
