// Package audit records security events. Recording is best-effort: a sink
// never returns an error to or fails its caller. AsyncSink keeps slow
// backends off the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/repository"
)

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, eventType domain.EventType, subject string, attrs map[string]any)
}

const outboxWriteTimeout = 2 * time.Second

// OutboxSink writes events to event_outbox for relay to Kafka.
type OutboxSink struct {
	db     repository.DBTX
	repo   repository.OutboxRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewOutboxSink creates an OutboxSink writing through db.
func NewOutboxSink(db repository.DBTX, repo repository.OutboxRepository, logger *slog.Logger) *OutboxSink {
	return &OutboxSink{db: db, repo: repo, logger: logger, now: time.Now}
}

// Record inserts outside any caller transaction, so a failed audit write
// cannot abort the business write. It waits for the insert; wrap the sink in
// an AsyncSink on request paths.
func (s *OutboxSink) Record(ctx context.Context, eventType domain.EventType, subject string, attrs map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outboxWriteTimeout)
	defer cancel()

	draft := domain.NewAuditEvent(eventType, subject, attrs, s.now().UTC())
	if err := s.repo.Insert(ctx, s.db, draft); err != nil {
		s.logger.Warn("audit outbox write failed",
			"event_type", eventType,
			"event_id", draft.EventID,
			"error", err,
		)
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, eventType domain.EventType, subject string, attrs map[string]any) {
	args := make([]any, 0, 4+2*len(attrs))
	args = append(args, "event_type", string(eventType), "subject", subject)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "audit", args...)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, eventType domain.EventType, subject string, attrs map[string]any) {
	for _, s := range m {
		s.Record(ctx, eventType, subject, attrs)
	}
}

// Event is one captured audit record.
type Event struct {
	Type    domain.EventType
	Subject string
	Attrs   map[string]any
}

// Recorder keeps events in memory. It backs tests and the offline CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, eventType domain.EventType, subject string, attrs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: eventType, Subject: subject, Attrs: attrs})
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were captured.
func (r *Recorder) Count(eventType domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, domain.EventType, string, map[string]any) {}
