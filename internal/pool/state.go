package pool

import (
	"database/sql"
	"math"
	"time"
)

// acquireHistorySize bounds the rolling window of acquire latencies
const acquireHistorySize = 128

// Metrics is a point-in-time view of pool health and throughput.
// TimeoutCount and ErrorCount accumulate for the process lifetime.
type Metrics struct {
	TotalConnections   int     `json:"total_connections"`
	IdleConnections    int     `json:"idle_connections"`
	ActiveConnections  int     `json:"active_connections"`
	PendingConnections int     `json:"pending_connections"`
	AvgAcquireTimeMs   float64 `json:"avg_acquire_time_ms"`
	TimeoutCount       uint64  `json:"timeout_count"`
	ErrorCount         uint64  `json:"error_count"`
	HealthScore        float64 `json:"health_score"`
}

// Utilization is the share of existing connections currently checked out
func (m Metrics) Utilization() float64 {
	if m.TotalConnections == 0 {
		return 0
	}
	return float64(m.ActiveConnections) / float64(m.TotalConnections)
}

// snapshot is the answer to a state query
type snapshot struct {
	metrics             Metrics
	createdAt           time.Time
	lastHealthCheck     time.Time
	consecutiveFailures int
}

// state tracks pool configuration, rolling metrics, the consecutive failure
// count and the derived health score. It performs no I/O and is owned
// exclusively by the pool's state goroutine; all mutation happens there.
type state struct {
	config              Config
	metrics             Metrics
	createdAt           time.Time
	lastHealthCheck     time.Time
	consecutiveFailures int

	acquireHistory []time.Duration
	historyNext    int
	historyCount   int
}

func newState(cfg Config) *state {
	return &state{
		config:         cfg,
		createdAt:      time.Now(),
		acquireHistory: make([]time.Duration, acquireHistorySize),
		metrics:        Metrics{HealthScore: 1.0},
	}
}

// observe refreshes the gauge portion of the metrics from the physical pool
func (s *state) observe(stats sql.DBStats, pending int) {
	s.metrics.TotalConnections = stats.OpenConnections
	s.metrics.IdleConnections = stats.Idle
	s.metrics.ActiveConnections = stats.InUse
	s.metrics.PendingConnections = pending
	s.recalculate()
}

// recordAcquire feeds a successful acquisition into the rolling history
func (s *state) recordAcquire(d time.Duration) {
	s.acquireHistory[s.historyNext] = d
	s.historyNext = (s.historyNext + 1) % acquireHistorySize
	if s.historyCount < acquireHistorySize {
		s.historyCount++
	}

	var sum time.Duration
	for i := 0; i < s.historyCount; i++ {
		sum += s.acquireHistory[i]
	}
	s.metrics.AvgAcquireTimeMs = float64(sum.Microseconds()) / float64(s.historyCount) / 1000.0

	s.recalculate()
}

func (s *state) recordTimeout() {
	s.metrics.TimeoutCount++
	s.recalculate()
}

func (s *state) recordError() {
	s.metrics.ErrorCount++
	s.recalculate()
}

func (s *state) recordHealthSuccess(at time.Time) {
	s.consecutiveFailures = 0
	s.lastHealthCheck = at
	s.recalculate()
}

func (s *state) recordHealthFailure(at time.Time) {
	s.consecutiveFailures++
	s.metrics.ErrorCount++
	s.lastHealthCheck = at
	s.recalculate()
}

// recalculate derives the health score. The factor order and caps are fixed:
// error rate capped at 0.5, timeout rate capped at 0.3, a 0.8 penalty for
// utilization under 10%, clamped to non-negative.
func (s *state) recalculate() {
	score := 1.0

	denom := float64(s.metrics.TotalConnections)
	if denom < 1 {
		denom = 1
	}

	errorRate := float64(s.metrics.ErrorCount) / denom
	score *= 1 - math.Min(errorRate, 0.5)

	timeoutRate := float64(s.metrics.TimeoutCount) / denom
	score *= 1 - math.Min(timeoutRate, 0.3)

	if s.metrics.Utilization() < 0.1 {
		score *= 0.8
	}

	if score < 0 {
		score = 0
	}
	s.metrics.HealthScore = score
}

func (s *state) snapshot() snapshot {
	return snapshot{
		metrics:             s.metrics,
		createdAt:           s.createdAt,
		lastHealthCheck:     s.lastHealthCheck,
		consecutiveFailures: s.consecutiveFailures,
	}
}
