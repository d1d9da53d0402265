// Package migration implements a dependency-ordered SQL migration runner
// with checksum verification and persisted execution records.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status represents migration execution status
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Migration is a developer-authored unit of schema change. ID must be unique
// and lexically sortable; Dependencies reference other migration ids.
type Migration struct {
	ID           string
	Name         string
	UpSQL        string
	DownSQL      string
	Description  string
	Dependencies []string
	Destructive  bool
}

// Checksum returns the sha256 hex digest of the forward SQL. It is computed
// at authoring time and re-verified before any re-apply attempt.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

// Record is the persisted row written when a migration executes
type Record struct {
	ID              string
	Name            string
	Checksum        string
	AppliedAt       time.Time
	AppliedBy       string
	ExecutionTimeMs int64
	Status          Status
	RollbackSQL     string
	Description     string
	Environment     string
}

// Plan is an ephemeral computed ordering; it is never persisted
type Plan struct {
	ToApply    []Migration
	ToRollback []Migration
	DryRun     bool
	TargetID   string
}

// Result reports the outcome of one executed migration
type Result struct {
	Migration       Migration
	Status          Status
	ExecutionTimeMs int64
	ErrorMessage    string
	AffectedRows    int64
}

// StatusSummary aggregates persisted records against known migrations
type StatusSummary struct {
	Applied     int
	Pending     int
	Failed      int
	RolledBack  int
	LastApplied *Record
}
