package cryfsmetrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	BlocksLoaded.Reset()
	BlocksLoaded.WithLabelValues("physicalstore").Inc()
	BlocksLoaded.WithLabelValues("physicalstore").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(BlocksLoaded.WithLabelValues("physicalstore")))
}

func TestHandlerServesMetrics(t *testing.T) {
	CacheEntries.Set(42)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cryfs_cache_entries 42")
}
