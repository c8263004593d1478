package accounts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Roster persists the account list as a plain JSON array on disk. Writes go
// through an atomic temp-file rename so a crash never leaves a torn file,
// and ScheduleSave coalesces bursts of mutations: only the latest snapshot
// matters, and the final on-disk state always matches the last one
// scheduled.
type Roster struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	pending []Account
	dirty   bool
	kick    chan struct{}
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// LoadRoster reads the account list from path. A missing file is an empty
// roster, not an error.
func LoadRoster(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var list []Account
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	return list, nil
}

// NewRoster creates the roster writer for path and starts its flush loop.
func NewRoster(path string, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Roster{
		path:   path,
		logger: logger,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// ScheduleSave records the snapshot as the latest desired on-disk state and
// wakes the writer. Never blocks; the pool calls this under its lock.
func (r *Roster) ScheduleSave(accounts []Account) {
	r.mu.Lock()
	r.pending = accounts
	r.dirty = true
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Save writes the snapshot synchronously, bypassing the writer. Used by the
// admin CLI where the process exits right after the mutation.
func (r *Roster) Save(accounts []Account) error {
	return writeRosterFile(r.path, accounts)
}

// Close flushes any pending snapshot and stops the writer.
func (r *Roster) Close() error {
	r.stopped.Do(func() { close(r.done) })
	r.wg.Wait()
	return r.flush()
}

func (r *Roster) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.kick:
			if err := r.flush(); err != nil {
				r.logger.Error("roster save failed", "path", r.path, "error", err)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Roster) flush() error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	snapshot := r.pending
	r.dirty = false
	r.mu.Unlock()
	return writeRosterFile(r.path, snapshot)
}

// writeRosterFile writes atomically: temp file in the same directory, fsync
// via Close, then rename over the target. Mode 0600 because the file holds
// refresh tokens.
func writeRosterFile(path string, accounts []Account) error {
	if accounts == nil {
		accounts = []Account{}
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create roster dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".roster-*.json")
	if err != nil {
		return fmt.Errorf("create temp roster: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp roster: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp roster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp roster: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename roster: %w", err)
	}
	return nil
}
