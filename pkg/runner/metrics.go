package runner

import (
	"sort"
	"sync"
	"time"
)

// ErrorCategory buckets node failures for metrics.
type ErrorCategory string

const (
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryOther      ErrorCategory = "other"
)

// DefaultWindowSize is the rolling sample window used when none is given.
const DefaultWindowSize = 256

// Thresholds configures when the threshold callback fires. Zero values
// disable the corresponding check.
type Thresholds struct {
	MaxFailureRate float64
	MaxP99         time.Duration
}

// Snapshot is a point-in-time view of the rolling window.
type Snapshot struct {
	Successes   int64
	Failures    int64
	Retries     int64
	FailureRate float64
	P50         time.Duration
	P90         time.Duration
	P99         time.Duration
	ByCategory  map[ErrorCategory]int64
}

// ThresholdCallback fires when a threshold is crossed. It is advisory
// only; the workflow is never blocked by it.
type ThresholdCallback func(nodeID string, snapshot Snapshot)

type sample struct {
	duration time.Duration
	failed   bool
}

// Metrics records node execution outcomes into a rolling window and computes
// latency percentiles on demand.
type Metrics struct {
	mu          sync.Mutex
	windowSize  int
	samples     []sample
	next        int
	filled      bool
	successes   int64
	failures    int64
	retries     int64
	byCategory  map[ErrorCategory]int64
	thresholds  Thresholds
	onThreshold ThresholdCallback
}

// NewMetrics creates a collector with the given window size. The callback
// may be nil.
func NewMetrics(windowSize int, thresholds Thresholds, onThreshold ThresholdCallback) *Metrics {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	return &Metrics{
		windowSize:  windowSize,
		samples:     make([]sample, windowSize),
		byCategory:  make(map[ErrorCategory]int64),
		thresholds:  thresholds,
		onThreshold: onThreshold,
	}
}

// RecordSuccess records a successful execution.
func (m *Metrics) RecordSuccess(nodeID string, duration time.Duration) {
	m.record(nodeID, sample{duration: duration}, func() {
		m.successes++
	})
}

// RecordFailure records a failed execution under a category.
func (m *Metrics) RecordFailure(nodeID string, duration time.Duration, category ErrorCategory) {
	m.record(nodeID, sample{duration: duration, failed: true}, func() {
		m.failures++
		m.byCategory[category]++
	})
}

// RecordRetry counts a retry. Retries do not add a latency sample; the
// retried execution records its own.
func (m *Metrics) RecordRetry(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retries++
}

// Snapshot computes the current window statistics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked()
}

func (m *Metrics) record(nodeID string, s sample, count func()) {
	m.mu.Lock()

	m.samples[m.next] = s
	m.next++

	if m.next == m.windowSize {
		m.next = 0
		m.filled = true
	}

	count()

	snapshot := m.snapshotLocked()
	crossed := m.crossedLocked(snapshot)
	callback := m.onThreshold

	m.mu.Unlock()

	if crossed && callback != nil {
		callback(nodeID, snapshot)
	}
}

func (m *Metrics) crossedLocked(s Snapshot) bool {
	if m.thresholds.MaxFailureRate > 0 && s.FailureRate > m.thresholds.MaxFailureRate {
		return true
	}

	if m.thresholds.MaxP99 > 0 && s.P99 > m.thresholds.MaxP99 {
		return true
	}

	return false
}

func (m *Metrics) snapshotLocked() Snapshot {
	window := m.windowLocked()

	snapshot := Snapshot{
		Successes:  m.successes,
		Failures:   m.failures,
		Retries:    m.retries,
		ByCategory: make(map[ErrorCategory]int64, len(m.byCategory)),
	}

	for category, count := range m.byCategory {
		snapshot.ByCategory[category] = count
	}

	if len(window) == 0 {
		return snapshot
	}

	failed := 0
	durations := make([]time.Duration, 0, len(window))

	for _, s := range window {
		durations = append(durations, s.duration)

		if s.failed {
			failed++
		}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	snapshot.FailureRate = float64(failed) / float64(len(window))
	snapshot.P50 = percentile(durations, 50)
	snapshot.P90 = percentile(durations, 90)
	snapshot.P99 = percentile(durations, 99)

	return snapshot
}

func (m *Metrics) windowLocked() []sample {
	if m.filled {
		return m.samples
	}

	return m.samples[:m.next]
}

// percentile expects sorted input and uses the nearest-rank method.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}

	return sorted[rank-1]
}
