package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/platform/metrics"
	"github.com/dbplane/dbplane/internal/pool"
)

// Options configures a Runner
type Options struct {
	// Environment is recorded on every migration record
	Environment string
	// AppliedBy identifies the executor; defaults to the hostname
	AppliedBy string
	// RecordFailures persists a failed record when a migration errors;
	// disable to leave failures unrecorded
	RecordFailures bool
}

// RollbackOptions controls a rollback run
type RollbackOptions struct {
	// ConfirmDestructive must be set to roll back migrations marked
	// destructive; they are never default-executed
	ConfirmDestructive bool
}

// Runner orders pending migrations by declared dependencies, applies or
// rolls them back through a pool, persists execution records and verifies
// checksums. Runner operations are meant to run single-threaded at startup;
// concurrent runs against the same target must be serialized externally,
// e.g. with Lock.
type Runner struct {
	pool  *pool.AdvancedPool
	store RecordStore
	opts  Options
	log   logger.Logger
	m     *metrics.Metrics

	mu    sync.Mutex
	known map[string]Migration
}

// NewRunner creates a migration runner over the given pool and record store
func NewRunner(p *pool.AdvancedPool, store RecordStore, opts Options, log logger.Logger, m *metrics.Metrics) *Runner {
	if opts.AppliedBy == "" {
		if host, err := os.Hostname(); err == nil {
			opts.AppliedBy = host
		} else {
			opts.AppliedBy = uuid.NewString()
		}
	}
	return &Runner{
		pool:  p,
		store: store,
		opts:  opts,
		log:   log,
		m:     m,
		known: make(map[string]Migration),
	}
}

// Plan validates the migration set against persisted records and computes
// the apply order. With dryRun set it performs ordering and checksum
// validation only: no SQL executes and nothing is written.
func (r *Runner) Plan(ctx context.Context, migrations []Migration, targetID string, dryRun bool) (Plan, error) {
	seen := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		if seen[m.ID] {
			return Plan{}, &DuplicateIDError{ID: m.ID}
		}
		seen[m.ID] = true
	}

	records, err := r.store.List(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("migration: failed to load records: %w", err)
	}

	applied := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.Status == StatusApplied {
			applied[rec.ID] = rec
		}
	}

	// Checksum integrity must surface before any SQL executes
	var pending []Migration
	for _, m := range migrations {
		rec, ok := applied[m.ID]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if rec.Checksum != m.Checksum() {
			return Plan{}, &ChecksumMismatchError{ID: m.ID, Recorded: rec.Checksum, Current: m.Checksum()}
		}
	}

	satisfied := make(map[string]bool, len(applied))
	for id := range applied {
		satisfied[id] = true
	}

	ordered, err := sortByDependencies(pending, satisfied)
	if err != nil {
		return Plan{}, err
	}

	if targetID != "" && !satisfied[targetID] {
		idx := -1
		for i, m := range ordered {
			if m.ID == targetID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Plan{}, fmt.Errorf("migration: target %q is neither pending nor applied", targetID)
		}
		ordered = ordered[:idx+1]
	} else if targetID != "" {
		// target already applied, nothing to do
		ordered = nil
	}

	r.remember(migrations)

	return Plan{ToApply: ordered, DryRun: dryRun, TargetID: targetID}, nil
}

// Apply executes the plan in order. A failure halts the remaining plan;
// already-applied migrations stay committed and recorded.
func (r *Runner) Apply(ctx context.Context, plan Plan) ([]Result, error) {
	if plan.DryRun {
		return nil, ErrDryRunPlan
	}

	results := make([]Result, 0, len(plan.ToApply))
	for _, m := range plan.ToApply {
		res, err := r.applyOne(ctx, m)
		results = append(results, res)
		if err != nil {
			r.log.Error("migration failed, halting plan",
				"migration", m.ID, "error", err)
			return results, err
		}
		r.log.Info("migration applied",
			"migration", m.ID, "name", m.Name, "duration_ms", res.ExecutionTimeMs)
	}
	return results, nil
}

// applyOne runs a single migration and its record insert in one transaction
func (r *Runner) applyOne(ctx context.Context, m Migration) (Result, error) {
	start := time.Now()
	var affected int64

	err := r.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, m.UpSQL)
		if err != nil {
			return err
		}
		if res != nil {
			if n, err := res.RowsAffected(); err == nil {
				affected = n
			}
		}
		return r.store.InsertTx(ctx, tx, r.record(m, StatusApplied, time.Since(start)))
	})

	elapsed := time.Since(start)
	if r.m != nil {
		r.m.MigrationDuration.WithLabelValues(r.opts.Environment, "up").Observe(elapsed.Seconds())
	}

	if err != nil {
		if r.opts.RecordFailures {
			rec := r.record(m, StatusFailed, elapsed)
			if insErr := r.store.Insert(ctx, rec); insErr != nil {
				r.log.Error("failed to record migration failure",
					"migration", m.ID, "error", insErr)
			}
		}
		if r.m != nil {
			r.m.MigrationsFailed.WithLabelValues(r.opts.Environment).Inc()
		}
		return Result{
			Migration:       m,
			Status:          StatusFailed,
			ExecutionTimeMs: elapsed.Milliseconds(),
			ErrorMessage:    err.Error(),
		}, &ExecutionError{ID: m.ID, Err: err}
	}

	if r.m != nil {
		r.m.MigrationsApplied.WithLabelValues(r.opts.Environment).Inc()
	}
	return Result{
		Migration:       m,
		Status:          StatusApplied,
		ExecutionTimeMs: elapsed.Milliseconds(),
		AffectedRows:    affected,
	}, nil
}

// Rollback reverses applied migrations more recent than targetID, in
// reverse-apply order, using their persisted rollback SQL. An empty targetID
// rolls back everything. A migration without rollback SQL blocks further
// rollback: completed rollbacks stay recorded, the blocked one is reported.
func (r *Runner) Rollback(ctx context.Context, targetID string, opts RollbackOptions) ([]Result, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration: failed to load records: %w", err)
	}

	var applied []Record
	for _, rec := range records {
		if rec.Status == StatusApplied {
			applied = append(applied, rec)
		}
	}

	// span is the set to roll back: newest first, stopping at the target
	var span []Record
	found := targetID == ""
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].ID == targetID {
			found = true
			break
		}
		span = append(span, applied[i])
	}
	if !found {
		return nil, fmt.Errorf("migration: rollback target %q is not an applied migration", targetID)
	}

	// Destructive migrations fail fast, before any SQL runs
	if !opts.ConfirmDestructive {
		for _, rec := range span {
			if m, ok := r.lookup(rec.ID); ok && m.Destructive {
				return nil, fmt.Errorf("%w: %s", ErrDestructiveNotConfirmed, rec.ID)
			}
		}
	}

	results := make([]Result, 0, len(span))
	for _, rec := range span {
		if rec.RollbackSQL == "" {
			return results, &MissingRollbackSQLError{ID: rec.ID}
		}

		res, err := r.rollbackOne(ctx, rec)
		results = append(results, res)
		if err != nil {
			r.log.Error("rollback failed, halting",
				"migration", rec.ID, "error", err)
			return results, err
		}
		r.log.Info("migration rolled back",
			"migration", rec.ID, "name", rec.Name, "duration_ms", res.ExecutionTimeMs)
	}
	return results, nil
}

// rollbackOne runs the down SQL and the record status update in one
// transaction
func (r *Runner) rollbackOne(ctx context.Context, rec Record) (Result, error) {
	start := time.Now()

	m, ok := r.lookup(rec.ID)
	if !ok {
		m = Migration{ID: rec.ID, Name: rec.Name, DownSQL: rec.RollbackSQL}
	}

	err := r.inTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, rec.RollbackSQL); err != nil {
			return err
		}
		return r.store.UpdateStatusTx(ctx, tx, rec.ID, StatusRolledBack)
	})

	elapsed := time.Since(start)
	if r.m != nil {
		r.m.MigrationDuration.WithLabelValues(r.opts.Environment, "down").Observe(elapsed.Seconds())
	}

	if err != nil {
		return Result{
			Migration:       m,
			Status:          StatusFailed,
			ExecutionTimeMs: elapsed.Milliseconds(),
			ErrorMessage:    err.Error(),
		}, &ExecutionError{ID: rec.ID, Err: err}
	}

	if r.m != nil {
		r.m.MigrationsRolledBack.WithLabelValues(r.opts.Environment).Inc()
	}
	return Result{
		Migration:       m,
		Status:          StatusRolledBack,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// Status summarizes persisted records against the known migration set
func (r *Runner) Status(ctx context.Context) (StatusSummary, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return StatusSummary{}, fmt.Errorf("migration: failed to load records: %w", err)
	}

	var summary StatusSummary
	appliedIDs := make(map[string]bool)
	for i := range records {
		rec := records[i]
		switch rec.Status {
		case StatusApplied:
			summary.Applied++
			appliedIDs[rec.ID] = true
			if summary.LastApplied == nil || rec.AppliedAt.After(summary.LastApplied.AppliedAt) {
				summary.LastApplied = &rec
			}
		case StatusFailed:
			summary.Failed++
		case StatusRolledBack:
			summary.RolledBack++
		}
	}

	r.mu.Lock()
	for id := range r.known {
		if !appliedIDs[id] {
			summary.Pending++
		}
	}
	r.mu.Unlock()

	return summary, nil
}

// inTransaction acquires a pooled connection and runs fn inside a
// transaction; every exit path releases the connection and either commits or
// rolls back.
func (r *Runner) inTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (r *Runner) record(m Migration, status Status, elapsed time.Duration) Record {
	return Record{
		ID:              m.ID,
		Name:            m.Name,
		Checksum:        m.Checksum(),
		AppliedAt:       time.Now(),
		AppliedBy:       r.opts.AppliedBy,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Status:          status,
		RollbackSQL:     m.DownSQL,
		Description:     m.Description,
		Environment:     r.opts.Environment,
	}
}

func (r *Runner) remember(migrations []Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range migrations {
		r.known[m.ID] = m
	}
}

func (r *Runner) lookup(id string) (Migration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.known[id]
	return m, ok
}
