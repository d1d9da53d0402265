package pool

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when an acquire times out waiting on the gate
var ErrPoolExhausted = errors.New("pool exhausted: timed out waiting for a connection")

// ErrPoolClosed is returned for operations on a closed pool
var ErrPoolClosed = errors.New("pool is closed")

// ErrPoolAlreadyRegistered is returned when a manager already holds a pool
// under the requested name
var ErrPoolAlreadyRegistered = errors.New("pool already registered")

// ConnectionError wraps a physical connection or query failure. These are
// transient: the pool records them and returns them for the caller's own
// retry policy, it never retries silently.
type ConnectionError struct {
	Pool string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("pool %s: %s: %v", e.Pool, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HealthCheckError reports a failed health probe together with the failure
// budget so callers can distinguish transient from exhausted.
type HealthCheckError struct {
	Pool                string
	ConsecutiveFailures int
	MaxFailures         int
	Err                 error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("pool %s: health check failed (%d/%d consecutive): %v",
		e.Pool, e.ConsecutiveFailures, e.MaxFailures, e.Err)
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}
