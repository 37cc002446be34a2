package orchestrator

import (
	"sync"
	"time"
)

// Ledger tuning constants.
const (
	// LatencyWindowSize bounds the rolling window of recent success latencies.
	LatencyWindowSize = 100

	// ErrorWindow is how long an error timestamp stays recent.
	ErrorWindow = 60 * time.Second

	// MinRequestsForHealth is the sample size below which a backend is
	// always reported healthy.
	MinRequestsForHealth = 5

	// MinRequestsForLatencyCheck is the success count required before the
	// rolling-vs-overall latency comparison participates in health.
	MinRequestsForLatencyCheck = 10

	ErrorRateThresholdDegraded     = 0.3
	ErrorRateThresholdUnhealthy    = 0.6
	LatencyThresholdFactorDegraded = 2.0
)

// HealthStatus classifies a backend from its ledger state.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthDegraded
	HealthUnhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// BackendMetrics is the per-backend health and cost ledger. All methods are
// safe for concurrent use; updates serialize on a single mutex so counters
// are never lost and the windows stay internally consistent.
type BackendMetrics struct {
	mu sync.Mutex

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalLatencyMS     float64

	latencyWindow   []float64
	errorTimestamps []time.Time

	promptTokens     int64
	completionTokens int64
	cost             float64
}

// NewBackendMetrics returns an empty ledger entry.
func NewBackendMetrics() *BackendMetrics {
	return &BackendMetrics{}
}

// RecordSuccess adds one successful request: latency into the running sum
// and the rolling window, tokens and cost into the cumulative counters.
func (m *BackendMetrics) RecordSuccess(latencyMS float64, promptTokens, completionTokens int64, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.totalLatencyMS += latencyMS

	m.latencyWindow = append(m.latencyWindow, latencyMS)
	if len(m.latencyWindow) > LatencyWindowSize {
		m.latencyWindow = m.latencyWindow[len(m.latencyWindow)-LatencyWindowSize:]
	}

	m.promptTokens += promptTokens
	m.completionTokens += completionTokens
	m.cost += cost
}

// RecordError adds one failed request. Failed-attempt latency is not added
// to the success latency sum. Timestamps older than ErrorWindow relative to
// ts are pruned on insertion.
func (m *BackendMetrics) RecordError(latencyMS float64, ts time.Time) {
	_ = latencyMS

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failedRequests++

	m.errorTimestamps = append(m.errorTimestamps, ts)
	cutoff := ts.Add(-ErrorWindow)
	valid := m.errorTimestamps[:0]
	for _, t := range m.errorTimestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	m.errorTimestamps = valid
}

// SuccessRate returns successful/total, or 0 with no requests.
func (m *BackendMetrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRateLocked()
}

// AvgLatencyMS returns the all-time average latency over successes only.
func (m *BackendMetrics) AvgLatencyMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgLatencyLocked()
}

// RollingAvgLatencyMS returns the mean of the latency window. ok is false
// when the window is empty.
func (m *BackendMetrics) RollingAvgLatencyMS() (avg float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollingAvgLocked()
}

// RecentErrorRate returns recent errors over all-time total requests. The
// numerator is time-windowed to ErrorWindow but the denominator is not, so
// the ratio decays only as total_requests grows.
func (m *BackendMetrics) RecentErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentErrorRateLocked()
}

// Health classifies the backend.
func (m *BackendMetrics) Health() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked()
}

func (m *BackendMetrics) successRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests)
}

func (m *BackendMetrics) avgLatencyLocked() float64 {
	if m.successfulRequests == 0 {
		return 0
	}
	return m.totalLatencyMS / float64(m.successfulRequests)
}

func (m *BackendMetrics) rollingAvgLocked() (float64, bool) {
	if len(m.latencyWindow) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range m.latencyWindow {
		sum += v
	}
	return sum / float64(len(m.latencyWindow)), true
}

func (m *BackendMetrics) recentErrorRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(len(m.errorTimestamps)) / float64(m.totalRequests)
}

func (m *BackendMetrics) healthLocked() HealthStatus {
	if m.totalRequests < MinRequestsForHealth {
		return HealthHealthy
	}

	rate := m.recentErrorRateLocked()
	switch {
	case rate >= ErrorRateThresholdUnhealthy:
		return HealthUnhealthy
	case rate >= ErrorRateThresholdDegraded:
		return HealthDegraded
	}

	// Recent latency materially worse than the historical average counts
	// as degradation even without errors.
	if m.successfulRequests >= MinRequestsForLatencyCheck {
		if rolling, ok := m.rollingAvgLocked(); ok {
			if avg := m.avgLatencyLocked(); avg > 0 && rolling > LatencyThresholdFactorDegraded*avg {
				return HealthDegraded
			}
		}
	}

	return HealthHealthy
}

// MetricsSnapshot is a read-only copy of one ledger entry, including the
// derived quantities. Mutating it does not affect the live ledger.
type MetricsSnapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalLatencyMS     float64

	LatencyWindow []float64
	RecentErrors  int

	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Cost             float64

	SuccessRate         float64
	AvgLatencyMS        float64
	RollingAvgLatencyMS float64
	HasRollingAvg       bool
	RecentErrorRate     float64
	Health              HealthStatus
}

// Snapshot returns a defensive copy of the entry and its derived values.
func (m *BackendMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := make([]float64, len(m.latencyWindow))
	copy(window, m.latencyWindow)

	s := MetricsSnapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		TotalLatencyMS:     m.totalLatencyMS,
		LatencyWindow:      window,
		RecentErrors:       len(m.errorTimestamps),
		PromptTokens:       m.promptTokens,
		CompletionTokens:   m.completionTokens,
		TotalTokens:        m.promptTokens + m.completionTokens,
		Cost:               m.cost,
		SuccessRate:        m.successRateLocked(),
		AvgLatencyMS:       m.avgLatencyLocked(),
		RecentErrorRate:    m.recentErrorRateLocked(),
		Health:             m.healthLocked(),
	}
	s.RollingAvgLatencyMS, s.HasRollingAvg = m.rollingAvgLocked()
	return s
}
