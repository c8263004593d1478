// Package store persists request telemetry and the model-mapping rule table
// on SQLite (default) or Postgres.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors shared by the backends.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// LogRow is one request-log record. The table is append-only; ordering of
// inserts is not required.
type LogRow struct {
	ID            string
	Timestamp     time.Time
	AccountID     string
	AccountName   string
	Model         string
	UpstreamModel string
	Success       bool
	Status        int
	ErrorKind     string
	ErrorMessage  string
	DurationMs    int64
	Streamed      bool
}

// Mapping is one model-mapping rule. Enabled rules are consulted in
// priority order (highest first); MatchType is one of exact, prefix,
// contains.
type Mapping struct {
	Pattern    string
	InternalID string
	MatchType  string
	Priority   int
	Enabled    bool
}

// Match types accepted in the rule table.
const (
	MatchExact    = "exact"
	MatchPrefix   = "prefix"
	MatchContains = "contains"
)

// Store is the combined request-log and model-mapping persistence surface.
type Store interface {
	// InsertLog appends one telemetry row.
	InsertLog(ctx context.Context, row LogRow) error

	// RecentLogs returns the newest rows, most recent first.
	RecentLogs(ctx context.Context, limit int) ([]LogRow, error)

	// FindMapping resolves a client model label through the rule table.
	// ok is false on a miss.
	FindMapping(ctx context.Context, clientModel string) (internalID string, ok bool, err error)

	// ListMappings returns all rules, priority descending.
	ListMappings(ctx context.Context) ([]Mapping, error)

	// PutMapping inserts or replaces the rule keyed by pattern.
	PutMapping(ctx context.Context, m Mapping) error

	// DeleteMapping removes the rule keyed by pattern.
	DeleteMapping(ctx context.Context, pattern string) error

	Close() error
}

// matchMapping applies the rule-table semantics to an in-priority-order
// rule list: first enabled rule whose pattern matches wins.
func matchMapping(rules []Mapping, clientModel string) (string, bool) {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch r.MatchType {
		case MatchExact:
			if clientModel == r.Pattern {
				return r.InternalID, true
			}
		case MatchPrefix:
			if strings.HasPrefix(clientModel, r.Pattern) {
				return r.InternalID, true
			}
		default:
			if strings.Contains(clientModel, r.Pattern) {
				return r.InternalID, true
			}
		}
	}
	return "", false
}
