package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id TEXT PRIMARY KEY,
	ts BIGINT NOT NULL,
	account_id TEXT NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	upstream_model TEXT NOT NULL DEFAULT '',
	success SMALLINT NOT NULL,
	status INT NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	streamed SMALLINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs(ts);
CREATE INDEX IF NOT EXISTS idx_request_logs_account ON request_logs(account_id);
CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(model);
CREATE INDEX IF NOT EXISTS idx_request_logs_success ON request_logs(success);

CREATE TABLE IF NOT EXISTS model_mappings (
	pattern TEXT PRIMARY KEY,
	internal_id TEXT NOT NULL,
	match_type TEXT NOT NULL DEFAULT 'exact',
	priority INT NOT NULL DEFAULT 0,
	enabled SMALLINT NOT NULL DEFAULT 1
);
`

// PostgresStore backs the telemetry and mapping tables with Postgres for
// multi-instance deployments.
type PostgresStore struct {
	db        *sql.DB
	insertLog *sql.Stmt
}

// NewPostgresStore connects with a lib/pq DSN and applies the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return newPostgresStore(db)
}

func newPostgresStore(db *sql.DB) (*PostgresStore, error) {
	insertLog, err := db.Prepare(`
		INSERT INTO request_logs
			(id, ts, account_id, account_name, model, upstream_model,
			 success, status, error_kind, error_message, duration_ms, streamed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare log insert: %w", err)
	}
	return &PostgresStore{db: db, insertLog: insertLog}, nil
}

func (s *PostgresStore) InsertLog(ctx context.Context, row LogRow) error {
	_, err := s.insertLog.ExecContext(ctx,
		row.ID, row.Timestamp.UnixMilli(), row.AccountID, row.AccountName,
		row.Model, row.UpstreamModel, boolInt(row.Success), row.Status,
		row.ErrorKind, row.ErrorMessage, row.DurationMs, boolInt(row.Streamed),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentLogs(ctx context.Context, limit int) ([]LogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, account_id, account_name, model, upstream_model,
		       success, status, error_kind, error_message, duration_ms, streamed
		FROM request_logs ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()
	return scanLogRows(rows)
}

func (s *PostgresStore) FindMapping(ctx context.Context, clientModel string) (string, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, internal_id, match_type, priority, enabled
		FROM model_mappings WHERE enabled = 1 ORDER BY priority DESC, pattern`)
	if err != nil {
		return "", false, fmt.Errorf("query model mappings: %w", err)
	}
	defer rows.Close()
	rules, err := scanMappings(rows)
	if err != nil {
		return "", false, err
	}
	id, ok := matchMapping(rules, clientModel)
	return id, ok, nil
}

func (s *PostgresStore) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, internal_id, match_type, priority, enabled
		FROM model_mappings ORDER BY priority DESC, pattern`)
	if err != nil {
		return nil, fmt.Errorf("query model mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

func (s *PostgresStore) PutMapping(ctx context.Context, m Mapping) error {
	if err := validateMapping(m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_mappings (pattern, internal_id, match_type, priority, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pattern) DO UPDATE SET
			internal_id = EXCLUDED.internal_id,
			match_type = EXCLUDED.match_type,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled`,
		m.Pattern, m.InternalID, m.MatchType, m.Priority, boolInt(m.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upsert model mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMapping(ctx context.Context, pattern string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_mappings WHERE pattern = $1`, pattern)
	if err != nil {
		return fmt.Errorf("delete model mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.insertLog.Close()
	return s.db.Close()
}
