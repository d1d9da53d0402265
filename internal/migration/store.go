package migration

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/dbplane/dbplane/internal/platform/database"
)

// RecordStore persists migration execution records
type RecordStore interface {
	EnsureTable(ctx context.Context) error
	List(ctx context.Context) ([]Record, error)
	InsertTx(ctx context.Context, tx *sql.Tx, rec Record) error
	Insert(ctx context.Context, rec Record) error
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status Status) error
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// PostgresStore stores records in a caller-specified table. The column set
// is a compatibility surface shared with other tooling.
type PostgresStore struct {
	db    *database.DB
	table string
}

// NewPostgresStore creates a record store over the given transport
func NewPostgresStore(db *database.DB, table string) (*PostgresStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("migration: invalid record table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// EnsureTable creates the record table if it does not exist
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			checksum VARCHAR(64) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			applied_by VARCHAR(255) NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			rollback_sql TEXT,
			description TEXT,
			environment VARCHAR(64)
		)`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}
	return nil
}

// List returns every record ordered by applied_at ascending
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, name, checksum, applied_at, applied_by, execution_time_ms,
		       status, COALESCE(rollback_sql, ''), COALESCE(description, ''),
		       COALESCE(environment, '')
		FROM %s
		ORDER BY applied_at ASC, id ASC`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Checksum,
			&r.AppliedAt,
			&r.AppliedBy,
			&r.ExecutionTimeMs,
			&status,
			&r.RollbackSQL,
			&r.Description,
			&r.Environment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		r.Status = Status(status)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration records: %w", err)
	}
	return records, nil
}

const insertColumns = `(id, name, checksum, applied_at, applied_by, execution_time_ms, status, rollback_sql, description, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			applied_at = EXCLUDED.applied_at,
			applied_by = EXCLUDED.applied_by,
			execution_time_ms = EXCLUDED.execution_time_ms,
			status = EXCLUDED.status,
			rollback_sql = EXCLUDED.rollback_sql,
			description = EXCLUDED.description,
			environment = EXCLUDED.environment`

// InsertTx writes a record inside the caller's transaction so the record
// commits or rolls back atomically with the migration itself
func (s *PostgresStore) InsertTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	query := fmt.Sprintf("INSERT INTO %s %s", s.table, insertColumns)
	if _, err := tx.ExecContext(ctx, query, s.insertArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return nil
}

// Insert writes a record outside any transaction, used for failure records
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	query := fmt.Sprintf("INSERT INTO %s %s", s.table, insertColumns)
	if _, err := s.db.ExecContext(ctx, query, s.insertArgs(rec)...); err != nil {
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertArgs(rec Record) []interface{} {
	return []interface{}{
		rec.ID,
		rec.Name,
		rec.Checksum,
		rec.AppliedAt,
		rec.AppliedBy,
		rec.ExecutionTimeMs,
		string(rec.Status),
		database.NullString(rec.RollbackSQL),
		database.NullString(rec.Description),
		database.NullString(rec.Environment),
	}
}

// UpdateStatusTx updates a record's status inside the caller's transaction
func (s *PostgresStore) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status Status) error {
	query := fmt.Sprintf("UPDATE %s SET status = $2 WHERE id = $1", s.table)
	if _, err := tx.ExecContext(ctx, query, id, string(status)); err != nil {
		return fmt.Errorf("failed to update migration record %s: %w", id, err)
	}
	return nil
}
