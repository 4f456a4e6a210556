// Package postgres implements the audit store over a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidthor/clonectl/pkg/audit"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema creates the audit table. Rows are only ever inserted.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	plan_id     TEXT NOT NULL,
	step_id     TEXT NOT NULL,
	step_index  INTEGER NOT NULL,
	phase       TEXT NOT NULL,
	operation   JSONB NOT NULL,
	objects     TEXT[] NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ,
	outcome     TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	no_op       BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_records_objects_idx ON audit_records USING GIN (objects);
`

const selectColumns = `seq, id, run_id, plan_id, step_id, step_index, phase, operation, objects,
	started_at, ended_at, outcome, attempts, no_op, error`

// Store persists audit records in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL with the lib/pq driver.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append inserts the record. The insert commits before Append returns.
func (s *Store) Append(ctx context.Context, record audit.Record) error {
	op, err := json.Marshal(record.Operation)
	if err != nil {
		return errors.AuditWriteFailed(record.ID, fmt.Errorf("failed to encode operation: %w", err))
	}

	query := `
		INSERT INTO audit_records (
			id, run_id, plan_id, step_id, step_index, phase, operation, objects,
			started_at, ended_at, outcome, attempts, no_op, error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.RunID,
		record.PlanID,
		record.StepID,
		record.StepIndex,
		string(record.Phase),
		op,
		pq.Array(record.Objects),
		record.StartedAt,
		record.EndedAt,
		string(record.Outcome),
		record.Attempts,
		record.NoOp,
		record.Error,
	)
	if err != nil {
		return errors.AuditWriteFailed(record.ID, err)
	}

	s.logger.Debug("audit record inserted",
		zap.String("id", record.ID),
		zap.String("step_id", record.StepID),
		zap.String("phase", string(record.Phase)))
	return nil
}

// Query returns records touching object, oldest first.
func (s *Store) Query(ctx context.Context, object string) ([]audit.Record, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM audit_records
		WHERE EXISTS (SELECT 1 FROM unnest(objects) AS o WHERE upper(o) = upper($1))
		ORDER BY COALESCE(ended_at, started_at), seq
	`
	return s.list(ctx, query, object)
}

// All returns every record in insertion order.
func (s *Store) All(ctx context.Context) ([]audit.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_records ORDER BY seq`
	return s.list(ctx, query)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.BackendError("postgres", "query", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var (
			r       audit.Record
			phase   string
			outcome string
			op      []byte
			objects pq.StringArray
			endedAt sql.NullTime
		)
		if err := rows.Scan(
			&r.Seq,
			&r.ID,
			&r.RunID,
			&r.PlanID,
			&r.StepID,
			&r.StepIndex,
			&phase,
			&op,
			&objects,
			&r.StartedAt,
			&endedAt,
			&outcome,
			&r.Attempts,
			&r.NoOp,
			&r.Error,
		); err != nil {
			return nil, errors.BackendError("postgres", "scan", err)
		}
		if err := json.Unmarshal(op, &r.Operation); err != nil {
			return nil, errors.BackendError("postgres", "decode operation", err)
		}
		r.Phase = audit.Phase(phase)
		r.Outcome = audit.Outcome(outcome)
		r.Objects = []string(objects)
		if endedAt.Valid {
			t := endedAt.Time
			r.EndedAt = &t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.BackendError("postgres", "query", err)
	}
	return records, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ audit.Store  = (*Store)(nil)
	_ audit.Lister = (*Store)(nil)
)
