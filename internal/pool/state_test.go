package pool

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stats(open, inUse, idle int) sql.DBStats {
	return sql.DBStats{OpenConnections: open, InUse: inUse, Idle: idle}
}

func TestHealthScoreExactFactors(t *testing.T) {
	s := newState(DefaultConfig())

	// 10 connections, 2 in use: error rate 0.2, timeout rate 0.1,
	// utilization 0.2 so no idle penalty
	s.observe(stats(10, 2, 8), 0)
	s.metrics.ErrorCount = 2
	s.metrics.TimeoutCount = 1
	s.recalculate()

	assert.InDelta(t, (1-0.2)*(1-0.1), s.metrics.HealthScore, 1e-9)
}

func TestHealthScoreCapsRates(t *testing.T) {
	s := newState(DefaultConfig())

	// error rate 3.0 capped at 0.5, timeout rate 2.0 capped at 0.3
	s.observe(stats(1, 1, 0), 0)
	s.metrics.ErrorCount = 3
	s.metrics.TimeoutCount = 2
	s.recalculate()

	assert.InDelta(t, 0.5*0.7, s.metrics.HealthScore, 1e-9)
}

func TestHealthScoreIdlePenalty(t *testing.T) {
	s := newState(DefaultConfig())

	s.observe(stats(10, 0, 10), 0)
	assert.InDelta(t, 0.8, s.metrics.HealthScore, 1e-9)

	s.observe(stats(10, 1, 9), 0)
	assert.InDelta(t, 1.0, s.metrics.HealthScore, 1e-9)
}

func TestHealthScoreNonIncreasingAndClamped(t *testing.T) {
	s := newState(DefaultConfig())
	s.observe(stats(5, 2, 3), 0)

	prev := s.metrics.HealthScore
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			s.recordError()
		} else {
			s.recordTimeout()
		}
		score := s.metrics.HealthScore
		assert.LessOrEqual(t, score, prev, "score must not increase with more failures")
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}
}

func TestUtilizationZeroWithoutConnections(t *testing.T) {
	var m Metrics
	assert.Equal(t, 0.0, m.Utilization())

	m = Metrics{TotalConnections: 4, ActiveConnections: 1}
	assert.InDelta(t, 0.25, m.Utilization(), 1e-9)
}

func TestHealthCheckBookkeeping(t *testing.T) {
	s := newState(DefaultConfig())
	s.observe(stats(4, 2, 2), 0)

	now := time.Now()
	s.recordHealthFailure(now)
	s.recordHealthFailure(now)
	assert.Equal(t, 2, s.consecutiveFailures)
	assert.Equal(t, uint64(2), s.metrics.ErrorCount)

	s.recordHealthSuccess(now)
	assert.Equal(t, 0, s.consecutiveFailures)
	assert.Equal(t, now, s.lastHealthCheck)
	// error count stays: it resets only with the process
	assert.Equal(t, uint64(2), s.metrics.ErrorCount)
}

func TestAcquireHistoryRollingAverage(t *testing.T) {
	s := newState(DefaultConfig())
	s.observe(stats(4, 2, 2), 0)

	s.recordAcquire(10 * time.Millisecond)
	s.recordAcquire(20 * time.Millisecond)
	assert.InDelta(t, 15.0, s.metrics.AvgAcquireTimeMs, 0.01)

	// fill past the window; the average must follow recent values only
	for i := 0; i < acquireHistorySize; i++ {
		s.recordAcquire(40 * time.Millisecond)
	}
	assert.InDelta(t, 40.0, s.metrics.AvgAcquireTimeMs, 0.01)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres", cfg.Driver)

	bad := cfg
	bad.Driver = "oracle"
	assert.Error(t, bad.Validate())

	ok := cfg
	ok.Driver = "mysql"
	assert.NoError(t, ok.Validate())

	bad = cfg
	bad.MinConnections = bad.MaxConnections + 1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.AcquireTimeout = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.HealthCheck.Timeout = bad.HealthCheck.Interval
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.HealthCheck.Enabled = false
	bad.HealthCheck.Interval = 0
	assert.NoError(t, bad.Validate(), "health check fields are not checked when disabled")

	bad = cfg
	bad.HealthCheck.Enabled = false
	bad.TestOnCheckout = true
	bad.HealthCheck.Timeout = 0
	assert.Error(t, bad.Validate(), "checkout testing needs a probe timeout")

	bad = cfg
	bad.HealthCheck.Enabled = false
	bad.TestOnIdle = true
	bad.HealthCheck.Timeout = 0
	assert.Error(t, bad.Validate(), "idle testing needs a probe timeout")

	ok = cfg
	ok.HealthCheck.Enabled = false
	ok.TestOnCheckout = true
	assert.NoError(t, ok.Validate(), "checkout testing with the default probe timeout")
}
