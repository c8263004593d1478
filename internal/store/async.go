package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLogBuffer is the async sink's channel capacity.
const DefaultLogBuffer = 1024

// AsyncLogSink decouples request handling from telemetry inserts. Rows go
// through a bounded channel; when the buffer is full the oldest queued row
// is dropped so the hot path never blocks.
type AsyncLogSink struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	queue   chan LogRow
	done    chan struct{}
	dropped int64
}

// NewAsyncLogSink starts the background writer. buffer <= 0 selects
// DefaultLogBuffer.
func NewAsyncLogSink(store Store, buffer int, logger *slog.Logger) *AsyncLogSink {
	if buffer <= 0 {
		buffer = DefaultLogBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncLogSink{
		store:  store,
		logger: logger,
		queue:  make(chan LogRow, buffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record enqueues one row without blocking.
func (s *AsyncLogSink) Record(row LogRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.queue <- row:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped++
		default:
		}
	}
}

// Dropped reports how many rows were discarded because the buffer was full.
func (s *AsyncLogSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *AsyncLogSink) writeLoop() {
	defer close(s.done)
	for row := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.InsertLog(ctx, row)
		cancel()
		if err != nil {
			s.logger.Warn("request log insert failed", "id", row.ID, "error", err)
		}
	}
}

// Close drains the queue and stops the writer. Record must not be called
// after Close.
func (s *AsyncLogSink) Close() {
	close(s.queue)
	<-s.done
	if s.dropped > 0 {
		s.logger.Warn("request log rows dropped under load", "count", s.dropped)
	}
}
