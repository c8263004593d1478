package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	account_id TEXT NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	upstream_model TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	streamed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs(ts);
CREATE INDEX IF NOT EXISTS idx_request_logs_account ON request_logs(account_id);
CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(model);
CREATE INDEX IF NOT EXISTS idx_request_logs_success ON request_logs(success);

CREATE TABLE IF NOT EXISTS model_mappings (
	pattern TEXT PRIMARY KEY,
	internal_id TEXT NOT NULL,
	match_type TEXT NOT NULL DEFAULT 'exact',
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);
`

// SQLiteStore is the default single-file backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc/sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY churn under concurrent inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertLog(ctx context.Context, row LogRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs
			(id, ts, account_id, account_name, model, upstream_model,
			 success, status, error_kind, error_message, duration_ms, streamed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Timestamp.UnixMilli(), row.AccountID, row.AccountName,
		row.Model, row.UpstreamModel, boolInt(row.Success), row.Status,
		row.ErrorKind, row.ErrorMessage, row.DurationMs, boolInt(row.Streamed),
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]LogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, account_id, account_name, model, upstream_model,
		       success, status, error_kind, error_message, duration_ms, streamed
		FROM request_logs ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()
	return scanLogRows(rows)
}

func (s *SQLiteStore) FindMapping(ctx context.Context, clientModel string) (string, bool, error) {
	rules, err := s.enabledMappings(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := matchMapping(rules, clientModel)
	return id, ok, nil
}

func (s *SQLiteStore) enabledMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, internal_id, match_type, priority, enabled
		FROM model_mappings WHERE enabled = 1 ORDER BY priority DESC, pattern`)
	if err != nil {
		return nil, fmt.Errorf("query model mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

func (s *SQLiteStore) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, internal_id, match_type, priority, enabled
		FROM model_mappings ORDER BY priority DESC, pattern`)
	if err != nil {
		return nil, fmt.Errorf("query model mappings: %w", err)
	}
	defer rows.Close()
	return scanMappings(rows)
}

func (s *SQLiteStore) PutMapping(ctx context.Context, m Mapping) error {
	if err := validateMapping(m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_mappings (pattern, internal_id, match_type, priority, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pattern) DO UPDATE SET
			internal_id = excluded.internal_id,
			match_type = excluded.match_type,
			priority = excluded.priority,
			enabled = excluded.enabled`,
		m.Pattern, m.InternalID, m.MatchType, m.Priority, boolInt(m.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upsert model mapping: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMapping(ctx context.Context, pattern string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_mappings WHERE pattern = ?`, pattern)
	if err != nil {
		return fmt.Errorf("delete model mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func validateMapping(m Mapping) error {
	if m.Pattern == "" || m.InternalID == "" {
		return fmt.Errorf("mapping requires pattern and internal id")
	}
	switch m.MatchType {
	case MatchExact, MatchPrefix, MatchContains:
		return nil
	default:
		return fmt.Errorf("unknown match type %q", m.MatchType)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
