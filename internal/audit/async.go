package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/attaboy/identity/internal/domain"
)

// DefaultQueueSize bounds the events an AsyncSink holds before it drops.
const DefaultQueueSize = 1024

type queuedEvent struct {
	ctx       context.Context
	eventType domain.EventType
	subject   string
	attrs     map[string]any
	// flushed marks a Flush barrier instead of an event.
	flushed chan struct{}
}

// AsyncSink records events on a wrapped sink from a background goroutine.
// Record never waits: when the queue is full the event is dropped with a
// warning.
type AsyncSink struct {
	next    Sink
	logger  *slog.Logger
	queue   chan queuedEvent
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncSink starts draining into next. Close must be called to stop it.
func NewAsyncSink(next Sink, size int, logger *slog.Logger) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan queuedEvent, size),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		if ev.flushed != nil {
			close(ev.flushed)
			continue
		}
		s.next.Record(ev.ctx, ev.eventType, ev.subject, ev.attrs)
	}
}

func (s *AsyncSink) Record(ctx context.Context, eventType domain.EventType, subject string, attrs map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.closed {
		select {
		case s.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), eventType: eventType, subject: subject, attrs: attrs}:
			return
		default:
		}
	}
	s.dropped.Add(1)
	s.logger.Warn("audit event dropped",
		"event_type", eventType,
		"subject", subject,
		"closed", s.closed,
	)
}

// Dropped returns how many events were discarded.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Flush waits until every event queued before the call has been recorded.
func (s *AsyncSink) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.queue <- queuedEvent{flushed: barrier}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
