package loader

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Stats are the load statistics of a Loader. Loads count entries found in a
// store, misses count store lookups without result. Container hits are
// neither.
//
// Thread-safe: All methods are safe for concurrent use
type Stats struct {
	enabled atomic.Bool

	set     *metrics.Set
	loads   *metrics.Counter
	misses  *metrics.Counter
	latency gometrics.Histogram // store lookup latency in nanoseconds
	sizes   *SizeHistogram      // size of loaded values in bytes
}

// StatsSnapshot is a point-in-time copy of the statistics.
type StatsSnapshot struct {
	Enabled         bool    `json:"enabled"`
	Loads           uint64  `json:"loads"`
	Misses          uint64  `json:"misses"`
	LatencyMeanMs   float64 `json:"latency_mean_ms"`
	LatencyP99Ms    float64 `json:"latency_p99_ms"`
	ValueSizeAvg    int     `json:"value_size_avg"`
	ValueSizeMedian int     `json:"value_size_median"`
	ValueSizeP99    int     `json:"value_size_p99"`
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("loads=%d misses=%d latency(mean=%.3fms p99=%.3fms) valueSize(avg=%d median=%d p99=%d)",
		s.Loads, s.Misses, s.LatencyMeanMs, s.LatencyP99Ms, s.ValueSizeAvg, s.ValueSizeMedian, s.ValueSizeP99)
}

// NewStats creates the statistics of a loader.
func NewStats(enabled bool) *Stats {
	s := &Stats{
		set:     metrics.NewSet(),
		latency: gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		sizes:   NewSizeHistogram(),
	}
	s.enabled.Store(enabled)
	s.loads = s.set.NewCounter("dgrid_loader_loads_total")
	s.misses = s.set.NewCounter("dgrid_loader_misses_total")
	s.set.NewGauge("dgrid_loader_load_latency_mean_seconds", func() float64 {
		return s.latency.Mean() / float64(time.Second)
	})
	s.set.NewGauge("dgrid_loader_load_latency_p99_seconds", func() float64 {
		return s.latency.Percentile(0.99) / float64(time.Second)
	})
	s.set.NewGauge("dgrid_loader_value_size_avg_bytes", func() float64 {
		return float64(s.sizes.Average())
	})
	return s
}

// Enabled returns whether statistics are recorded.
func (s *Stats) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled switches recording on or off. Recorded values are kept.
func (s *Stats) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

func (s *Stats) recordLoad(valueSize int, took time.Duration) {
	if !s.enabled.Load() {
		return
	}
	s.loads.Inc()
	s.latency.Update(int64(took))
	s.sizes.AddSample(valueSize)
}

func (s *Stats) recordMiss(took time.Duration) {
	if !s.enabled.Load() {
		return
	}
	s.misses.Inc()
	s.latency.Update(int64(took))
}

// Loads returns the number of entries loaded from a store.
func (s *Stats) Loads() uint64 {
	return s.loads.Get()
}

// Misses returns the number of store lookups that found nothing.
func (s *Stats) Misses() uint64 {
	return s.misses.Get()
}

// Reset sets all statistics to zero.
func (s *Stats) Reset() {
	s.loads.Set(0)
	s.misses.Set(0)
	s.latency.Clear()
	s.sizes.Reset()
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	ms := float64(time.Millisecond)
	return StatsSnapshot{
		Enabled:         s.Enabled(),
		Loads:           s.Loads(),
		Misses:          s.Misses(),
		LatencyMeanMs:   s.latency.Mean() / ms,
		LatencyP99Ms:    s.latency.Percentile(0.99) / ms,
		ValueSizeAvg:    s.sizes.Average(),
		ValueSizeMedian: s.sizes.Percentile(50),
		ValueSizeP99:    s.sizes.Percentile(99),
	}
}

// WritePrometheus writes the statistics in the Prometheus text format.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
