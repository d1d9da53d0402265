package migration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbplane/dbplane/internal/platform/logger"
	"github.com/dbplane/dbplane/internal/pool"
)

// memStore keeps records in memory so runner tests exercise the SQL of the
// migrations themselves without a live record table
type memStore struct {
	mu      sync.Mutex
	records []Record
}

func (s *memStore) EnsureTable(context.Context) error { return nil }

func (s *memStore) List(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *memStore) InsertTx(ctx context.Context, _ *sql.Tx, rec Record) error {
	return s.Insert(ctx, rec)
}

func (s *memStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) UpdateStatusTx(_ context.Context, _ *sql.Tx, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Status = status
			return nil
		}
	}
	return errors.New("record not found: " + id)
}

func (s *memStore) get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

func newTestRunner(t *testing.T, store RecordStore, opts Options) (*Runner, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	cfg := pool.DefaultConfig()
	cfg.MaxConnections = 2
	cfg.MinConnections = 1
	cfg.AcquireTimeout = time.Second
	cfg.HealthCheck.Enabled = false

	p, err := pool.NewWithDB("migrations", db, cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return NewRunner(p, store, opts, logger.NewNop(), nil), mock
}

func appliedRecord(m Migration, at time.Time) Record {
	return Record{
		ID:          m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum(),
		AppliedAt:   at,
		Status:      StatusApplied,
		RollbackSQL: m.DownSQL,
	}
}

func TestPlanExcludesAppliedAndOrders(t *testing.T) {
	a := mig("0001")
	b := mig("0002", "0001")
	c := mig("0003", "0001")

	store := &memStore{records: []Record{appliedRecord(a, time.Now())}}
	r, mock := newTestRunner(t, store, Options{})

	plan, err := r.Plan(context.Background(), []Migration{c, b, a}, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002", "0003"}, ids(plan.ToApply))
	assert.NoError(t, mock.ExpectationsWereMet(), "planning must not touch the database")
}

func TestPlanRejectsDuplicateIDs(t *testing.T) {
	r, _ := newTestRunner(t, &memStore{}, Options{})

	_, err := r.Plan(context.Background(), []Migration{mig("0001"), mig("0001")}, "", false)
	var dupErr *DuplicateIDError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "0001", dupErr.ID)
}

func TestPlanChecksumMismatchIsFatal(t *testing.T) {
	m := mig("0001")
	rec := appliedRecord(m, time.Now())
	rec.Checksum = "0000000000000000000000000000000000000000000000000000000000000000"

	store := &memStore{records: []Record{rec}}
	r, mock := newTestRunner(t, store, Options{})

	_, err := r.Plan(context.Background(), []Migration{m, mig("0002")}, "", false)
	require.Error(t, err)

	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "0001", mismatch.ID)
	assert.Equal(t, m.Checksum(), mismatch.Current)
	assert.NoError(t, mock.ExpectationsWereMet(), "mismatch must surface before any SQL")
}

func TestPlanTargetTruncates(t *testing.T) {
	a, b, c := mig("0001"), mig("0002", "0001"), mig("0003", "0002")
	r, _ := newTestRunner(t, &memStore{}, Options{})

	plan, err := r.Plan(context.Background(), []Migration{a, b, c}, "0002", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002"}, ids(plan.ToApply))

	_, err = r.Plan(context.Background(), []Migration{a, b, c}, "nope", false)
	assert.Error(t, err, "unknown target")
}

func TestPlanTargetAlreadyApplied(t *testing.T) {
	a := mig("0001")
	store := &memStore{records: []Record{appliedRecord(a, time.Now())}}
	r, _ := newTestRunner(t, store, Options{})

	plan, err := r.Plan(context.Background(), []Migration{a, mig("0002", "0001")}, "0001", false)
	require.NoError(t, err)
	assert.Empty(t, plan.ToApply)
}

func TestApplyRejectsDryRunPlan(t *testing.T) {
	r, mock := newTestRunner(t, &memStore{}, Options{})

	set := []Migration{mig("0001"), mig("0002", "0001"), mig("0003", "0001")}
	plan, err := r.Plan(context.Background(), set, "", true)
	require.NoError(t, err)
	require.True(t, plan.DryRun)
	assert.Len(t, plan.ToApply, 3, "a dry run still reports the full ordering")

	_, err = r.Apply(context.Background(), plan)
	assert.ErrorIs(t, err, ErrDryRunPlan)
	assert.NoError(t, mock.ExpectationsWereMet(), "a dry run must execute no SQL")
}

func TestApplyExecutesInOrderAndRecords(t *testing.T) {
	a := NewBuilder("0001", "one").UpSQL("CREATE TABLE a (id INT)").DownSQL("DROP TABLE a").MustBuild()
	b := NewBuilder("0002", "two").UpSQL("CREATE TABLE b (id INT)").DependsOn("0001").MustBuild()

	store := &memStore{}
	r, mock := newTestRunner(t, store, Options{Environment: "test", AppliedBy: "runner-test"})

	plan, err := r.Plan(context.Background(), []Migration{b, a}, "", false)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	results, err := r.Apply(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusApplied, results[0].Status)
	assert.Equal(t, StatusApplied, results[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	rec, ok := store.get("0001")
	require.True(t, ok)
	assert.Equal(t, StatusApplied, rec.Status)
	assert.Equal(t, a.Checksum(), rec.Checksum)
	assert.Equal(t, "DROP TABLE a", rec.RollbackSQL)
	assert.Equal(t, "runner-test", rec.AppliedBy)
	assert.Equal(t, "test", rec.Environment)
}

func TestApplyHaltsOnFailure(t *testing.T) {
	a := NewBuilder("0001", "one").UpSQL("CREATE TABLE a (id INT)").MustBuild()
	b := NewBuilder("0002", "two").UpSQL("CREATE TABLE broken").MustBuild()
	c := NewBuilder("0003", "three").UpSQL("CREATE TABLE c (id INT)").MustBuild()

	store := &memStore{}
	r, mock := newTestRunner(t, store, Options{RecordFailures: true})

	plan, err := r.Plan(context.Background(), []Migration{a, b, c}, "", false)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a (id INT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	results, err := r.Apply(context.Background(), plan)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "0002", execErr.ID)

	require.Len(t, results, 2, "the third migration must never start")
	assert.Equal(t, StatusApplied, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "syntax error")
	assert.NoError(t, mock.ExpectationsWereMet())

	rec, ok := store.get("0001")
	require.True(t, ok)
	assert.Equal(t, StatusApplied, rec.Status, "completed migrations stay committed")

	rec, ok = store.get("0002")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)

	_, ok = store.get("0003")
	assert.False(t, ok)
}

func TestRollbackToTarget(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	a := NewBuilder("0001", "one").UpSQL("CREATE TABLE a (id INT)").DownSQL("DROP TABLE a").MustBuild()
	b := NewBuilder("0002", "two").UpSQL("CREATE TABLE b (id INT)").DownSQL("DROP TABLE b").MustBuild()
	c := NewBuilder("0003", "three").UpSQL("CREATE TABLE c (id INT)").DownSQL("DROP TABLE c").MustBuild()

	store := &memStore{records: []Record{
		appliedRecord(a, base),
		appliedRecord(b, base.Add(time.Minute)),
		appliedRecord(c, base.Add(2*time.Minute)),
	}}
	r, mock := newTestRunner(t, store, Options{})

	// newest first: 0003 then 0002, stopping at 0001
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	results, err := r.Rollback(context.Background(), "0001", RollbackOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "0003", results[0].Migration.ID)
	assert.Equal(t, "0002", results[1].Migration.ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	rec, _ := store.get("0003")
	assert.Equal(t, StatusRolledBack, rec.Status)
	rec, _ = store.get("0002")
	assert.Equal(t, StatusRolledBack, rec.Status)
	rec, _ = store.get("0001")
	assert.Equal(t, StatusApplied, rec.Status, "the target itself stays applied")
}

func TestRollbackUnknownTarget(t *testing.T) {
	r, _ := newTestRunner(t, &memStore{}, Options{})

	_, err := r.Rollback(context.Background(), "ghost", RollbackOptions{})
	assert.Error(t, err)
}

func TestRollbackStopsAtMissingRollbackSQL(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	a := NewBuilder("0001", "one").UpSQL("CREATE TABLE a (id INT)").DownSQL("DROP TABLE a").MustBuild()
	b := NewBuilder("0002", "two").UpSQL("CREATE TABLE b (id INT)").MustBuild() // no down SQL
	c := NewBuilder("0003", "three").UpSQL("CREATE TABLE c (id INT)").DownSQL("DROP TABLE c").MustBuild()

	store := &memStore{records: []Record{
		appliedRecord(a, base),
		appliedRecord(b, base.Add(time.Minute)),
		appliedRecord(c, base.Add(2*time.Minute)),
	}}
	r, mock := newTestRunner(t, store, Options{})

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	results, err := r.Rollback(context.Background(), "", RollbackOptions{})
	require.Error(t, err)

	var missing *MissingRollbackSQLError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "0002", missing.ID)

	require.Len(t, results, 1, "rollbacks completed before the block stay done")
	assert.Equal(t, "0003", results[0].Migration.ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	rec, _ := store.get("0003")
	assert.Equal(t, StatusRolledBack, rec.Status)
	rec, _ = store.get("0001")
	assert.Equal(t, StatusApplied, rec.Status, "migrations behind the block are untouched")
}

func TestRollbackDestructiveRequiresConfirmation(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	a := NewBuilder("0001", "one").UpSQL("CREATE TABLE a (id INT)").DownSQL("DROP TABLE a").MustBuild()
	d := NewBuilder("0002", "drop legacy").
		UpSQL("DROP TABLE legacy").
		DownSQL("SELECT 1").
		Destructive(true).
		MustBuild()

	store := &memStore{records: []Record{
		appliedRecord(a, base),
		appliedRecord(d, base.Add(time.Minute)),
	}}
	r, mock := newTestRunner(t, store, Options{})

	// Plan teaches the runner which ids are destructive
	_, err := r.Plan(context.Background(), []Migration{a, d}, "", false)
	require.NoError(t, err)

	_, err = r.Rollback(context.Background(), "", RollbackOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDestructiveNotConfirmed)
	assert.NoError(t, mock.ExpectationsWereMet(), "the refusal must precede any SQL")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT 1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	results, err := r.Rollback(context.Background(), "", RollbackOptions{ConfirmDestructive: true})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusSummary(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	a := mig("0001")
	b := mig("0002")

	recA := appliedRecord(a, base)
	recB := appliedRecord(b, base.Add(time.Minute))
	failed := Record{ID: "0003", Name: "0003", Status: StatusFailed, AppliedAt: base.Add(2 * time.Minute)}
	rolled := Record{ID: "0000", Name: "0000", Status: StatusRolledBack, AppliedAt: base.Add(-time.Minute)}

	store := &memStore{records: []Record{recA, recB, failed, rolled}}
	r, _ := newTestRunner(t, store, Options{})

	// register the full set so pending ids are visible
	_, err := r.Plan(context.Background(), []Migration{a, b, mig("0004")}, "", true)
	require.NoError(t, err)

	summary, err := r.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.RolledBack)
	assert.Equal(t, 1, summary.Pending)
	require.NotNil(t, summary.LastApplied)
	assert.Equal(t, "0002", summary.LastApplied.ID)
}
