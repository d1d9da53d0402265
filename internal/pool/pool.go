// Package pool implements a bounded database connection pool with health
// monitoring. A counting gate limits concurrent checkouts on top of the
// physical driver limit so contention stays observable at the application
// layer, and a background monitor probes the database on a fixed interval.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/sync/semaphore"

	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
)

// AdvancedPool owns one physical connection pool, a counting gate bounding
// concurrent acquisitions, and a background health monitor. Shared state is
// owned by a single goroutine; foreground calls and the monitor deliver
// closures to it instead of contending on a lock.
type AdvancedPool struct {
	name string
	db   *sql.DB
	cfg  Config

	gate    *semaphore.Weighted
	pending atomic.Int64

	log logger.Logger
	m   *metrics.Metrics

	ops    chan func(*state)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New opens a pool on the configured driver for the given DSN and starts its
// monitor. Postgres is the default; mysql pools select it via Config.Driver.
func New(name, dsn string, cfg Config, log logger.Logger, m *metrics.Metrics) (*AdvancedPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectionError{Pool: name, Op: "open", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Pool: name, Op: "ping", Err: err}
	}

	return NewWithDB(name, db, cfg, log, m)
}

// NewWithDB builds a pool around an existing database handle. The pool takes
// ownership of the handle and closes it on Close.
func NewWithDB(name string, db *sql.DB, cfg Config, log logger.Logger, m *metrics.Metrics) (*AdvancedPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	ctx, cancel := context.WithCancel(context.Background())

	p := &AdvancedPool{
		name:   name,
		db:     db,
		cfg:    cfg,
		gate:   semaphore.NewWeighted(int64(cfg.MaxConnections)),
		log:    log.WithFields(map[string]interface{}{"pool": name}),
		m:      m,
		ops:    make(chan func(*state)),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.run()

	if cfg.HealthCheck.Enabled {
		p.wg.Add(1)
		go p.monitor()
	}

	p.log.Info("pool created",
		"max_connections", cfg.MaxConnections,
		"min_connections", cfg.MinConnections,
		"acquire_timeout", cfg.AcquireTimeout,
		"health_check", cfg.HealthCheck.Enabled,
	)

	return p, nil
}

// Name returns the pool's registered name
func (p *AdvancedPool) Name() string {
	return p.name
}

// run owns the pool state for the lifetime of the pool
func (p *AdvancedPool) run() {
	defer p.wg.Done()

	s := newState(p.cfg)
	for {
		select {
		case fn := <-p.ops:
			fn(s)
		case <-p.ctx.Done():
			return
		}
	}
}

// update delivers fn to the state owner and waits for it to run. After Close
// the update is dropped.
func (p *AdvancedPool) update(fn func(*state)) {
	done := make(chan struct{})
	wrapped := func(s *state) {
		fn(s)
		close(done)
	}
	select {
	case p.ops <- wrapped:
		<-done
	case <-p.ctx.Done():
	}
}

// Acquire blocks until a gate permit is available or the configured acquire
// timeout elapses. The returned Conn must be released.
func (p *AdvancedPool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	start := time.Now()

	p.pending.Add(1)
	gateCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	err := p.gate.Acquire(gateCtx, 1)
	cancel()
	p.pending.Add(-1)

	if err != nil {
		if errors.Is(gateCtx.Err(), context.DeadlineExceeded) {
			p.update(func(s *state) {
				s.observe(p.db.Stats(), int(p.pending.Load()))
				s.recordTimeout()
			})
			if p.m != nil {
				p.m.PoolAcquireTimeouts.WithLabelValues(p.name).Inc()
			}
			return nil, fmt.Errorf("%w (after %s)", ErrPoolExhausted, p.cfg.AcquireTimeout)
		}
		return nil, err
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.gate.Release(1)
		p.recordError()
		return nil, &ConnectionError{Pool: p.name, Op: "acquire", Err: err}
	}

	if p.cfg.TestOnCheckout {
		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheck.Timeout)
		err := conn.PingContext(pingCtx)
		cancel()
		if err != nil {
			conn.Close()
			p.gate.Release(1)
			p.recordError()
			return nil, &ConnectionError{Pool: p.name, Op: "checkout ping", Err: err}
		}
	}

	elapsed := time.Since(start)
	p.update(func(s *state) {
		s.observe(p.db.Stats(), int(p.pending.Load()))
		s.recordAcquire(elapsed)
	})
	if p.m != nil {
		p.m.PoolAcquiresTotal.WithLabelValues(p.name).Inc()
		p.m.PoolAcquireDuration.WithLabelValues(p.name).Observe(elapsed.Seconds())
	}

	return &Conn{conn: conn, pool: p}, nil
}

func (p *AdvancedPool) recordError() {
	p.update(func(s *state) {
		s.observe(p.db.Stats(), int(p.pending.Load()))
		s.recordError()
	})
	if p.m != nil {
		p.m.PoolErrorsTotal.WithLabelValues(p.name).Inc()
	}
}

// HealthCheck runs the configured probe query with the configured timeout.
// The bool reports whether the pool is still usable: a failed probe keeps
// the pool usable until max_failures consecutive failures.
func (p *AdvancedPool) HealthCheck(ctx context.Context) (bool, error) {
	if p.closed.Load() {
		return false, ErrPoolClosed
	}

	hc := p.cfg.HealthCheck
	probeCtx, cancel := context.WithTimeout(ctx, hc.Timeout)
	_, err := p.db.ExecContext(probeCtx, hc.Query)
	cancel()

	now := time.Now()

	if err == nil {
		p.update(func(s *state) {
			s.observe(p.db.Stats(), int(p.pending.Load()))
			s.recordHealthSuccess(now)
		})
		return true, nil
	}

	var failures int
	p.update(func(s *state) {
		s.observe(p.db.Stats(), int(p.pending.Load()))
		s.recordHealthFailure(now)
		failures = s.consecutiveFailures
	})
	if p.m != nil {
		p.m.PoolErrorsTotal.WithLabelValues(p.name).Inc()
	}

	hcErr := &HealthCheckError{
		Pool:                p.name,
		ConsecutiveFailures: failures,
		MaxFailures:         hc.MaxFailures,
		Err:                 err,
	}
	return failures < hc.MaxFailures, hcErr
}

// monitor probes the database every interval until the pool is closed
func (p *AdvancedPool) monitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheck.Interval)
	defer ticker.Stop()

	p.log.Debug("health monitor started", "interval", p.cfg.HealthCheck.Interval)

	for {
		select {
		case <-p.ctx.Done():
			p.log.Debug("health monitor stopped")
			return
		case <-ticker.C:
			if p.cfg.TestOnIdle {
				p.verifyIdle()
			}
			usable, err := p.HealthCheck(p.ctx)
			if err != nil && !errors.Is(err, ErrPoolClosed) {
				if usable {
					p.log.Warn("health check failed", "error", err)
				} else {
					p.log.Error("pool unhealthy", "error", err)
				}
			}
			p.publish()
		}
	}
}

// verifyIdle pings the physical pool between checkouts so the driver
// discards stale idle connections before a caller sees them
func (p *AdvancedPool) verifyIdle() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.HealthCheck.Timeout)
	err := p.db.PingContext(ctx)
	cancel()
	if err != nil {
		p.log.Warn("idle connection verification failed", "error", err)
		p.recordError()
	}
}

// Metrics returns a point-in-time copy of the pool metrics
func (p *AdvancedPool) Metrics() Metrics {
	var snap snapshot
	p.update(func(s *state) {
		s.observe(p.db.Stats(), int(p.pending.Load()))
		snap = s.snapshot()
	})
	return snap.metrics
}

// IsHealthy reports whether the health score is above 0.7 with no
// outstanding consecutive health check failures
func (p *AdvancedPool) IsHealthy() bool {
	var snap snapshot
	p.update(func(s *state) {
		s.observe(p.db.Stats(), int(p.pending.Load()))
		snap = s.snapshot()
	})
	return snap.metrics.HealthScore > 0.7 && snap.consecutiveFailures == 0
}

// Utilization returns active/total connections, 0 when no connections exist
func (p *AdvancedPool) Utilization() float64 {
	stats := p.db.Stats()
	if stats.OpenConnections == 0 {
		return 0
	}
	return float64(stats.InUse) / float64(stats.OpenConnections)
}

// LastHealthCheck returns the time of the most recent probe
func (p *AdvancedPool) LastHealthCheck() time.Time {
	var snap snapshot
	p.update(func(s *state) {
		snap = s.snapshot()
	})
	return snap.lastHealthCheck
}

// publish refreshes the prometheus gauges from the current metrics
func (p *AdvancedPool) publish() {
	if p.m == nil {
		return
	}
	m := p.Metrics()
	p.m.PoolConnectionsTotal.WithLabelValues(p.name).Set(float64(m.TotalConnections))
	p.m.PoolConnectionsIdle.WithLabelValues(p.name).Set(float64(m.IdleConnections))
	p.m.PoolConnectionsActive.WithLabelValues(p.name).Set(float64(m.ActiveConnections))
	p.m.PoolConnectionsPending.WithLabelValues(p.name).Set(float64(m.PendingConnections))
	p.m.PoolHealthScore.WithLabelValues(p.name).Set(m.HealthScore)
}

// DB exposes the underlying handle for collaborators that manage their own
// statement lifecycle, such as the migration record store.
func (p *AdvancedPool) DB() *sql.DB {
	return p.db
}

// Close stops the monitor and state goroutines and closes the physical pool.
// It is safe to call more than once.
func (p *AdvancedPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.log.Info("closing pool")
	p.cancel()
	p.wg.Wait()
	return p.db.Close()
}

// Conn is a checked-out connection holding one gate permit. Release returns
// the permit exactly once on every exit path.
type Conn struct {
	conn *sql.Conn
	pool *AdvancedPool
	once sync.Once
}

// ExecContext executes a statement on the checked-out connection
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the checked-out connection
func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the checked-out connection
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the checked-out connection
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

// Release returns the connection to the physical pool and the permit to the
// gate. Subsequent calls are no-ops.
func (c *Conn) Release() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		c.pool.gate.Release(1)
	})
	return err
}
