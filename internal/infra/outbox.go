package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/attaboy/identity/internal/repository"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// TopicFor returns the Kafka topic for an outbox record. Event types are
// already namespaced, e.g. identity.credential.issued.
func TopicFor(rec repository.OutboxRecord) string {
	return string(rec.EventType)
}

// OutboxPoller relays audit events from the event_outbox table to Kafka.
type OutboxPoller struct {
	db        repository.DBTX
	repo      repository.OutboxRepository
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	metrics   *Metrics
	now       func() time.Time
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(db repository.DBTX, repo repository.OutboxRepository, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *OutboxPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		db:        db,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// WithMetrics records relay throughput and backlog age on m.
func (p *OutboxPoller) WithMetrics(m *Metrics) *OutboxPoller {
	p.metrics = m
	return p
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// PollOnce relays one batch and returns how many events were published.
// Events that fail to publish stay in the outbox and are retried in order
// on the next poll.
func (p *OutboxPoller) PollOnce(ctx context.Context) (int, error) {
	records, err := p.repo.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		p.metrics.OutboxPolled(0, false, 0)
		return 0, nil
	}

	published := make([]int64, 0, len(records))
	failed := false
	for _, rec := range records {
		msg, err := json.Marshal(EnvelopeFor(rec))
		if err != nil {
			p.logger.Error("marshal outbox event failed", "event_id", rec.EventID, "error", err)
			failed = true
			break
		}

		if err := p.publisher.Publish(ctx, TopicFor(rec), []byte(rec.PartitionKey), msg); err != nil {
			p.logger.Error("kafka publish failed", "event_id", rec.EventID, "error", err)
			failed = true
			break
		}
		published = append(published, rec.SeqID)
	}

	if err := p.repo.MarkPublished(ctx, p.db, published); err != nil {
		return 0, err
	}

	var lag time.Duration
	if len(published) < len(records) {
		lag = p.now().Sub(records[len(published)].OccurredAt)
	}
	p.metrics.OutboxPolled(len(published), failed, lag)

	p.logger.Debug("outbox poll complete", "published", len(published), "fetched", len(records))
	return len(published), nil
}
