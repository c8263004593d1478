package store

import (
	"database/sql"
	"time"
)

// Both backends store timestamps as Unix milliseconds so the scan path is
// shared.
func scanLogRows(rows *sql.Rows) ([]LogRow, error) {
	var out []LogRow
	for rows.Next() {
		var (
			row               LogRow
			ts                int64
			success, streamed int
		)
		if err := rows.Scan(&row.ID, &ts, &row.AccountID, &row.AccountName,
			&row.Model, &row.UpstreamModel, &success, &row.Status,
			&row.ErrorKind, &row.ErrorMessage, &row.DurationMs, &streamed); err != nil {
			return nil, err
		}
		row.Timestamp = time.UnixMilli(ts).UTC()
		row.Success = success != 0
		row.Streamed = streamed != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanMappings(rows *sql.Rows) ([]Mapping, error) {
	var out []Mapping
	for rows.Next() {
		var (
			m       Mapping
			enabled int
		)
		if err := rows.Scan(&m.Pattern, &m.InternalID, &m.MatchType, &m.Priority, &enabled); err != nil {
			return nil, err
		}
		m.Enabled = enabled != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
