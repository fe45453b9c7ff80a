package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/repository"
)

// AuditEnvelope is the JSON value of every relayed audit message.
type AuditEnvelope struct {
	EventID       uuid.UUID            `json:"event_id"`
	AggregateType domain.AggregateType `json:"aggregate_type"`
	AggregateID   string               `json:"aggregate_id"`
	EventType     domain.EventType     `json:"event_type"`
	Headers       json.RawMessage      `json:"headers"`
	Payload       json.RawMessage      `json:"payload"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// EnvelopeFor converts an outbox row into its wire form.
func EnvelopeFor(rec repository.OutboxRecord) AuditEnvelope {
	return AuditEnvelope{
		EventID:       rec.EventID,
		AggregateType: rec.AggregateType,
		AggregateID:   rec.AggregateID,
		EventType:     rec.EventType,
		Headers:       rec.Headers,
		Payload:       rec.Payload,
		OccurredAt:    rec.OccurredAt,
	}
}

// ErrBadEnvelope marks a message whose value is not an audit envelope.
var ErrBadEnvelope = errors.New("bad audit envelope")

// DecodeEnvelope parses a relayed message value.
func DecodeEnvelope(value []byte) (AuditEnvelope, error) {
	var env AuditEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return AuditEnvelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.EventType == "" {
		return AuditEnvelope{}, fmt.Errorf("%w: missing event_type", ErrBadEnvelope)
	}
	return env, nil
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// KafkaProducer publishes audit envelopes. Messages are hashed on their key
// (the event subject) so one principal's events keep their order.
type KafkaProducer struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	enabled bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
func NewKafkaProducer(brokers string, enabled bool, logger *slog.Logger) *KafkaProducer {
	addrs := ParseBrokers(brokers)
	if !enabled || len(addrs) == 0 {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka producer initialized", "brokers", addrs)
	return &KafkaProducer{writer: w, logger: logger, enabled: true}
}

// Enabled reports whether messages reach a broker.
func (p *KafkaProducer) Enabled() bool { return p.enabled }

// Publish sends a message to the given topic. No-op if disabled.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !p.enabled {
		return nil
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// KafkaConsumer reads audit envelopes from one topic.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewKafkaConsumer creates a consumer for topic in groupID. A new group starts
// at the oldest retained message when fromBeginning is set, otherwise at the newest.
func NewKafkaConsumer(brokers, topic, groupID string, fromBeginning bool, logger *slog.Logger) (*KafkaConsumer, error) {
	addrs := ParseBrokers(brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}

	start := kafka.LastOffset
	if fromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     addrs,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: start,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})

	logger.Debug("kafka consumer initialized", "topic", topic, "group", groupID)
	return &KafkaConsumer{reader: r, logger: logger}, nil
}

// ReadEnvelope blocks for the next message and decodes it. Undecodable
// messages come back with an ErrBadEnvelope error so callers can skip them.
func (c *KafkaConsumer) ReadEnvelope(ctx context.Context) (kafka.Message, AuditEnvelope, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return kafka.Message{}, AuditEnvelope{}, err
	}
	env, err := DecodeEnvelope(msg.Value)
	return msg, env, err
}

// Close shuts down the Kafka reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// LogPublisher logs each message instead of sending it to a broker. The audit
// relay falls back to it when Kafka is disabled.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.Logger.InfoContext(ctx, "outbox event", "topic", topic, "key", string(key), "event", json.RawMessage(value))
	return nil
}
