package migration

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDestructiveNotConfirmed is returned when a rollback would execute a
// destructive migration without explicit caller confirmation
var ErrDestructiveNotConfirmed = errors.New("migration: destructive rollback requires explicit confirmation")

// ErrDryRunPlan is returned when a dry-run plan is handed to Apply
var ErrDryRunPlan = errors.New("migration: dry-run plan cannot be applied")

// ErrLockNotHeld is returned when releasing an advisory lock this process
// does not hold
var ErrLockNotHeld = errors.New("migration: advisory lock not held")

// ChecksumMismatchError is a fatal integrity violation: the migration source
// changed after it was applied. The runner refuses to proceed; it is never
// auto-resolved.
type ChecksumMismatchError struct {
	ID       string
	Recorded string
	Current  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("migration %s: checksum mismatch (recorded %s, current %s)",
		e.ID, e.Recorded, e.Current)
}

// DependencyCycleError is a fatal planning error
type DependencyCycleError struct {
	IDs []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("migration: dependency cycle involving [%s]", strings.Join(e.IDs, ", "))
}

// UnknownDependencyError reports a dependency id not known to the plan
type UnknownDependencyError struct {
	ID         string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("migration %s: unknown dependency %q", e.ID, e.Dependency)
}

// DuplicateIDError reports two migrations sharing an id
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("migration: duplicate id %q", e.ID)
}

// MissingRollbackSQLError makes rollback past the named migration
// impossible; it is reported, never silently skipped.
type MissingRollbackSQLError struct {
	ID string
}

func (e *MissingRollbackSQLError) Error() string {
	return fmt.Sprintf("migration %s: no rollback SQL, cannot roll back past it", e.ID)
}

// ExecutionError halts the remaining plan; already-applied migrations stay
// committed and recorded.
type ExecutionError struct {
	ID  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("migration %s: execution failed: %v", e.ID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
