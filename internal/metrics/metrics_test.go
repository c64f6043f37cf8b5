package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.RecordOperation("rename", false)
	c.RecordOperation("rename", true)
	c.RecordOperation("open", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.operationCounter.WithLabelValues("rename")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.errorCounter.WithLabelValues("rename")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.operationCounter.WithLabelValues("open")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.errorCounter.WithLabelValues("open")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordOperation("open", true)
	c.ObserveInitDuration(time.Second)
}

func TestObserveInitDuration(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.ObserveInitDuration(750 * time.Millisecond)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "chdfs_adapter_init_duration_seconds" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(1), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}
