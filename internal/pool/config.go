package pool

import (
	"errors"
	"fmt"
	"time"

	platformcfg "github.com/dbplane/dbplane/internal/platform/config"
)

// Config holds pool construction parameters. It is immutable once a pool is
// built.
type Config struct {
	Driver         string
	MaxConnections int
	MinConnections int
	AcquireTimeout time.Duration
	MaxLifetime    time.Duration
	IdleTimeout    time.Duration
	TestOnCheckout bool
	TestOnIdle     bool

	HealthCheck HealthCheckConfig
}

// HealthCheckConfig holds the background health monitor parameters.
type HealthCheckConfig struct {
	Enabled     bool
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
	Query       string
}

// DefaultConfig returns a config suitable for most services
func DefaultConfig() Config {
	return Config{
		Driver:         "postgres",
		MaxConnections: 25,
		MinConnections: 5,
		AcquireTimeout: 5 * time.Second,
		MaxLifetime:    30 * time.Minute,
		IdleTimeout:    10 * time.Minute,
		HealthCheck: HealthCheckConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			MaxFailures: 3,
			Query:       "SELECT 1",
		},
	}
}

// ConfigFrom maps the platform configuration section onto a pool Config
func ConfigFrom(pc platformcfg.PoolConfig) Config {
	return Config{
		MaxConnections: pc.MaxConnections,
		MinConnections: pc.MinConnections,
		AcquireTimeout: pc.AcquireTimeout,
		MaxLifetime:    pc.MaxLifetime,
		IdleTimeout:    pc.IdleTimeout,
		TestOnCheckout: pc.TestOnCheckout,
		TestOnIdle:     pc.TestOnIdle,
		HealthCheck: HealthCheckConfig{
			Enabled:     pc.HealthCheck.Enabled,
			Interval:    pc.HealthCheck.Interval,
			Timeout:     pc.HealthCheck.Timeout,
			MaxFailures: pc.HealthCheck.MaxFailures,
			Query:       pc.HealthCheck.Query,
		},
	}
}

// Validate checks the config invariants
func (c Config) Validate() error {
	switch c.Driver {
	case "", "postgres", "mysql":
	default:
		return fmt.Errorf("pool: unsupported driver %q", c.Driver)
	}
	if (c.TestOnCheckout || c.TestOnIdle) && c.HealthCheck.Timeout <= 0 {
		return errors.New("pool: health_check.timeout must be positive when checkout or idle testing is enabled")
	}
	if c.MaxConnections <= 0 {
		return errors.New("pool: max_connections must be positive")
	}
	if c.MinConnections < 0 {
		return errors.New("pool: min_connections must not be negative")
	}
	if c.MinConnections > c.MaxConnections {
		return errors.New("pool: min_connections must not exceed max_connections")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("pool: acquire_timeout must be positive")
	}
	if c.HealthCheck.Enabled {
		if c.HealthCheck.Interval <= 0 {
			return errors.New("pool: health_check.interval must be positive")
		}
		if c.HealthCheck.Timeout <= 0 {
			return errors.New("pool: health_check.timeout must be positive")
		}
		if c.HealthCheck.Timeout >= c.HealthCheck.Interval {
			return errors.New("pool: health_check.timeout must be shorter than interval")
		}
		if c.HealthCheck.MaxFailures <= 0 {
			return errors.New("pool: health_check.max_failures must be positive")
		}
		if c.HealthCheck.Query == "" {
			return errors.New("pool: health_check.query must not be empty")
		}
	}
	return nil
}
