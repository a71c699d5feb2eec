package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r, err := New("test-host", "test", "codledger")
	require.NoError(t, err)

	r.CollectionResult("success")
	r.CollectionResult("success")
	r.CollectionResult("already_collected")
	r.RateLimited()
	r.ConsistencyError()
	r.ReconciliationDecided("approved", 0.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counterVec[SystemCOD+MetricCollectionsTotal].WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counterVec[SystemCOD+MetricCollectionsTotal].WithLabelValues("already_collected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters[SystemCOD+MetricRateLimitedTotal]))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters[SystemCOD+MetricConsistencyErrorsTotal]))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counterVec[SystemCOD+MetricReconciliationsTotal].WithLabelValues("approved")))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.CollectionResult("success")
		r.RateLimited()
		r.ReconciliationDecided("approved", 1)
	})
}
