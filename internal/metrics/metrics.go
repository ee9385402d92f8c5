package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket set.
type MetricID int

const (
	MetricIssueSuccess MetricID = iota
	MetricIssueFailure
	MetricRotateSuccess
	MetricRotateFailure
	MetricRotateRateLimited
	MetricReuseDetected
	MetricFamilyRevoked
	MetricLogout
	MetricLogoutAll
	MetricAPIKeyCreated
	MetricAPIKeyValidated
	MetricAPIKeyRejected
	MetricAPIKeyUpdated
	MetricAPIKeyDeleted
	MetricScopeDenied
	MetricRateLimitHit
	MetricCleanupRun
	MetricCleanupDeleted
	MetricValidateLatency

	MetricIDCount
)

// Latency buckets in microseconds: <100us, <1ms, <10ms, <100ms, <1s, >=1s.
var latencyBucketBounds = []time.Duration{
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
}

const latencyBucketCount = 6

// Config controls which metric families are recorded.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

// Metrics holds atomic counters and optional latency histograms. A nil or
// disabled Metrics is a no-op on every method.
type Metrics struct {
	enabled bool
	latency bool

	counters   [MetricIDCount]atomic.Uint64
	histograms [MetricIDCount][latencyBucketCount]atomic.Uint64
}

// Snapshot is a point-in-time deep copy of all metrics.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *Metrics) Add(id MetricID, delta uint64) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(delta)
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id < 0 || id >= MetricIDCount {
		return
	}
	bucket := len(latencyBucketBounds)
	for i, bound := range latencyBucketBounds {
		if d < bound {
			bucket = i
			break
		}
	}
	m.histograms[id][bucket].Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return snap
	}

	for id := MetricID(0); id < MetricIDCount; id++ {
		if v := m.counters[id].Load(); v > 0 {
			snap.Counters[id] = v
		}
	}
	if m.latency {
		for id := MetricID(0); id < MetricIDCount; id++ {
			var buckets []uint64
			var total uint64
			for i := 0; i < latencyBucketCount; i++ {
				v := m.histograms[id][i].Load()
				total += v
				buckets = append(buckets, v)
			}
			if total > 0 {
				snap.Histograms[id] = buckets
			}
		}
	}

	return snap
}
