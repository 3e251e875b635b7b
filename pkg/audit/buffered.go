package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kausenergy/settlement/pkg/dto"
)

const (
	defaultBufferSize    = 1024
	defaultFlushInterval = 2 * time.Second
	flushBatchLimit      = 128
)

// BufferedSink batches ordinary entries to the store from a background
// flusher. When the buffer is full it degrades to a synchronous write
// instead of dropping; Critical always writes synchronously.
type BufferedSink struct {
	store  Store
	logger *slog.Logger

	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBufferedSink starts the flush loop. Close must be called on shutdown to
// drain the buffer.
func NewBufferedSink(store Store, logger *slog.Logger) *BufferedSink {
	s := &BufferedSink{
		store:   store,
		logger:  logger,
		entries: make(chan Entry, defaultBufferSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Record implements Sink. Never blocks the settlement path for long: a full
// buffer falls through to a direct write.
func (s *BufferedSink) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case s.entries <- e:
	default:
		if err := s.store.Append(ctx, ToCreate(e)); err != nil {
			s.logger.Error("audit write failed with full buffer",
				"event_type", e.EventType, "reference_id", e.ReferenceID, "error", err)
		}
	}
}

// Critical implements Sink. Writes synchronously; on backend failure the
// entry is logged in full at Error with alert set, so it reaches the
// operator even when the audit store is down.
func (s *BufferedSink) Critical(ctx context.Context, e Entry) error {
	e.Severity = SeverityCritical
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := s.store.Append(ctx, ToCreate(e)); err != nil {
		s.logger.Error("CRITICAL audit entry could not be persisted",
			"alert", true,
			"event_type", e.EventType,
			"principal_id", e.PrincipalID,
			"amount", e.Amount,
			"status", e.Status,
			"reference_id", e.ReferenceID,
			"details", e.Details,
			"error", err,
		)
		return err
	}
	return nil
}

// Close drains the buffer and stops the flusher.
func (s *BufferedSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *BufferedSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		items := make([]Entry, len(batch))
		copy(items, batch)
		batch = batch[:0]
		s.write(items)
	}

	for {
		select {
		case e := <-s.entries:
			batch = append(batch, e)
			if len(batch) >= flushBatchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case e := <-s.entries:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *BufferedSink) write(items []Entry) {
	creates := make([]dto.AuditCreate, 0, len(items))
	for _, e := range items {
		creates = append(creates, ToCreate(e))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendBatch(ctx, creates); err != nil {
		s.logger.Error("audit batch flush failed", "count", len(items), "error", err)
	}
}

var _ Sink = (*BufferedSink)(nil)
