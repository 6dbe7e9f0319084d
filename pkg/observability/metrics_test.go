package observability

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrement(t *testing.T) {
	m := NewMetricsRegistry()
	m.IncrementCounter(MetricCacheHits, 1)
	m.IncrementCounter(MetricCacheHits, 2)
	assert.Equal(t, uint64(3), m.Counter(MetricCacheHits))
	assert.Equal(t, uint64(0), m.Counter(MetricCacheMisses))
}

func TestGauges(t *testing.T) {
	m := NewMetricsRegistry()
	m.SetGauge(MetricPoolActive, 5)
	m.AddGauge(MetricPoolActive, -2)
	assert.Equal(t, int64(3), m.Gauge(MetricPoolActive))
}

func TestConcurrentCounters(t *testing.T) {
	m := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.IncrementCounter("c", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(16000), m.Counter("c"))
}

func TestLatencyPercentiles(t *testing.T) {
	m := NewMetricsRegistry()
	for i := 1; i <= 100; i++ {
		m.RecordLatency("get_episode", time.Duration(i)*time.Millisecond)
	}
	summary := m.LatencyPercentiles("get_episode")
	assert.Equal(t, uint64(100), summary.Count)
	assert.InDelta(t, 50, summary.P50.Milliseconds(), 2)
	assert.InDelta(t, 95, summary.P95.Milliseconds(), 2)
	assert.InDelta(t, 99, summary.P99.Milliseconds(), 2)
}

func TestLatencyReservoirBounded(t *testing.T) {
	m := NewMetricsRegistry()
	for i := 0; i < 5000; i++ {
		m.RecordLatency("op", time.Millisecond)
	}
	summary := m.LatencyPercentiles("op")
	// Count reflects all observations even though only the most recent
	// reservoirCapacity samples are retained.
	assert.Equal(t, uint64(5000), summary.Count)
	assert.Equal(t, time.Millisecond, summary.P99)
}

func TestLatencyEmpty(t *testing.T) {
	m := NewMetricsRegistry()
	summary := m.LatencyPercentiles("never_recorded")
	assert.Zero(t, summary.Count)
	assert.Zero(t, summary.P50)
}

func TestExportStableText(t *testing.T) {
	m := NewMetricsRegistry()
	m.IncrementCounter("b_counter", 2)
	m.IncrementCounter("a_counter", 1)
	m.SetGauge("g", 7)
	m.RecordLatency("op", 3*time.Millisecond)

	text := Export(m.Snapshot())
	require.Contains(t, text, "counter a_counter 1\n")
	require.Contains(t, text, "counter b_counter 2\n")
	require.Contains(t, text, "gauge g 7\n")
	require.Contains(t, text, "latency op count=1")

	// Counters are sorted alphabetically.
	aIdx := len("counter a_counter 1")
	assert.True(t, text[:aIdx] == "counter a_counter 1", "export should start with sorted counters: %q", text)
}

func TestExportDeterministic(t *testing.T) {
	m := NewMetricsRegistry()
	for i := 0; i < 10; i++ {
		m.IncrementCounter(fmt.Sprintf("c%d", i), uint64(i))
	}
	first := Export(m.Snapshot())
	second := Export(m.Snapshot())
	assert.Equal(t, first, second)
}
