package store

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := []LogRow{
		{ID: "r1", Timestamp: base, AccountID: "a1", AccountName: "work", Model: "claude-sonnet-4-5",
			UpstreamModel: "CLAUDE_SONNET_4_5_20250929_V1_0", Success: true, Status: 200,
			DurationMs: 812, Streamed: true},
		{ID: "r2", Timestamp: base.Add(time.Minute), AccountID: "a2", Model: "claude-opus-4-1",
			Success: false, Status: 429, ErrorKind: "upstream_error",
			ErrorMessage: "throttled", DurationMs: 95},
	}
	for _, row := range rows {
		if err := s.InsertLog(ctx, row); err != nil {
			t.Fatalf("InsertLog(%s) error: %v", row.ID, err)
		}
	}

	got, err := s.RecentLogs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLogs() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentLogs() returned %d rows, want 2", len(got))
	}
	if got[0].ID != "r2" {
		t.Errorf("newest row first: got %q, want r2", got[0].ID)
	}
	if got[1].ID != "r1" || !got[1].Success || !got[1].Streamed || got[1].DurationMs != 812 {
		t.Errorf("r1 round trip mismatch: %+v", got[1])
	}
	if !got[1].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[1].Timestamp, base)
	}
	if got[0].ErrorKind != "upstream_error" || got[0].Status != 429 {
		t.Errorf("r2 round trip mismatch: %+v", got[0])
	}
}

func TestSQLiteMappingCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put := []Mapping{
		{Pattern: "claude-sonnet", InternalID: "SONNET_ID", MatchType: MatchPrefix, Priority: 10, Enabled: true},
		{Pattern: "haiku", InternalID: "HAIKU_ID", MatchType: MatchContains, Priority: 5, Enabled: true},
		{Pattern: "claude-sonnet-4-5", InternalID: "PINNED_ID", MatchType: MatchExact, Priority: 20, Enabled: true},
		{Pattern: "legacy", InternalID: "OLD_ID", MatchType: MatchContains, Priority: 99, Enabled: false},
	}
	for _, m := range put {
		if err := s.PutMapping(ctx, m); err != nil {
			t.Fatalf("PutMapping(%s) error: %v", m.Pattern, err)
		}
	}

	list, err := s.ListMappings(ctx)
	if err != nil {
		t.Fatalf("ListMappings() error: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("ListMappings() = %d rules, want 4", len(list))
	}
	if list[0].Pattern != "legacy" {
		t.Errorf("list order: first rule %q, want highest priority (legacy)", list[0].Pattern)
	}

	tests := []struct {
		model string
		want  string
		ok    bool
	}{
		{"claude-sonnet-4-5", "PINNED_ID", true},      // exact outranks prefix by priority
		{"claude-sonnet-4-5-latest", "SONNET_ID", true}, // prefix match
		{"my-haiku-v2", "HAIKU_ID", true},             // contains match
		{"legacy-model", "", false},                   // disabled rule never matches
		{"gpt-4", "", false},
	}
	for _, tt := range tests {
		got, ok, err := s.FindMapping(ctx, tt.model)
		if err != nil {
			t.Fatalf("FindMapping(%s) error: %v", tt.model, err)
		}
		if ok != tt.ok || got != tt.want {
			t.Errorf("FindMapping(%s) = %q, %v; want %q, %v", tt.model, got, ok, tt.want, tt.ok)
		}
	}

	// Upsert replaces in place.
	if err := s.PutMapping(ctx, Mapping{Pattern: "haiku", InternalID: "HAIKU_V2", MatchType: MatchContains, Priority: 5, Enabled: true}); err != nil {
		t.Fatalf("PutMapping(upsert) error: %v", err)
	}
	if got, _, _ := s.FindMapping(ctx, "my-haiku-v2"); got != "HAIKU_V2" {
		t.Errorf("upsert did not replace: got %q", got)
	}

	if err := s.DeleteMapping(ctx, "haiku"); err != nil {
		t.Fatalf("DeleteMapping() error: %v", err)
	}
	if err := s.DeleteMapping(ctx, "haiku"); err != ErrNotFound {
		t.Errorf("DeleteMapping(missing) = %v, want ErrNotFound", err)
	}
}

func TestPutMappingValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutMapping(ctx, Mapping{Pattern: "x", InternalID: "Y", MatchType: "regex"}); err == nil {
		t.Error("unknown match type accepted")
	}
	if err := s.PutMapping(ctx, Mapping{Pattern: "", InternalID: "Y", MatchType: MatchExact}); err == nil {
		t.Error("empty pattern accepted")
	}
}

func TestPostgresInsertLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	mock.ExpectPrepare("INSERT INTO request_logs")
	s, err := newPostgresStore(db)
	if err != nil {
		t.Fatalf("newPostgresStore() error: %v", err)
	}

	row := LogRow{ID: "r1", Timestamp: time.Now(), AccountID: "a1", Model: "claude-sonnet-4-5", Success: true, Status: 200}
	mock.ExpectExec("INSERT INTO request_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.InsertLog(context.Background(), row); err != nil {
		t.Fatalf("InsertLog() error: %v", err)
	}

	mock.ExpectExec("DELETE FROM model_mappings").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteMapping(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("DeleteMapping(missing) = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// blockingStore stalls inserts until released, for exercising the async
// sink's overflow path.
type blockingStore struct {
	SQLiteStore
	gate chan struct{}

	mu       sync.Mutex
	inserted []LogRow
}

func (b *blockingStore) InsertLog(ctx context.Context, row LogRow) error {
	<-b.gate
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserted = append(b.inserted, row)
	return nil
}

func (b *blockingStore) Close() error { return nil }

func TestAsyncLogSinkDropsOldest(t *testing.T) {
	backend := &blockingStore{gate: make(chan struct{})}
	sink := NewAsyncLogSink(backend, 2, slog.New(slog.DiscardHandler))

	// First row is pulled by the writer and blocks; the next two fill the
	// buffer; the fourth forces the oldest buffered row out.
	sink.Record(LogRow{ID: "r1"})
	waitFor(t, func() bool { return len(sink.queue) == 0 })
	sink.Record(LogRow{ID: "r2"})
	sink.Record(LogRow{ID: "r3"})
	sink.Record(LogRow{ID: "r4"})

	close(backend.gate)
	sink.Close()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	ids := make([]string, len(backend.inserted))
	for i, row := range backend.inserted {
		ids[i] = row.ID
	}
	want := []string{"r1", "r3", "r4"}
	if len(ids) != len(want) {
		t.Fatalf("inserted %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("inserted %v, want %v", ids, want)
		}
	}
	if sink.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", sink.Dropped())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
