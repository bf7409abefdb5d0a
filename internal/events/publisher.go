package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"speakerline/internal/config"
	"speakerline/internal/logging"
	"speakerline/internal/metrics"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes job events and segment events to separate Kafka topics.
type Publisher struct {
	jobs          messageWriter
	segments      messageWriter
	topicJobs     string
	topicSegments string
	source        string
	enabled       bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithMetrics records publish outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSource sets the source header attached to every message.
func WithSource(source string) Option {
	return func(p *Publisher) {
		p.source = source
	}
}

func withWriters(jobs, segments messageWriter) Option {
	return func(p *Publisher) {
		p.jobs = jobs
		p.segments = segments
		p.enabled = jobs != nil && segments != nil
	}
}

// New creates a publisher from the events configuration.
func New(cfg config.Events, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		topicJobs:     cfg.TopicJobs,
		topicSegments: cfg.TopicSegments,
		source:        "speakerline",
		logger:        logging.NewComponentLogger(logger, "events"),
	}

	if cfg.Enabled && len(cfg.Brokers) > 0 {
		dialer := &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
		transport := &kafka.Transport{
			Dial: dialer.DialFunc,
		}
		p.jobs = newWriter(cfg.Brokers, cfg.TopicJobs, transport)
		p.segments = newWriter(cfg.Brokers, cfg.TopicSegments, transport)
		p.enabled = true
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.enabled {
		p.logger.Info("kafka publisher initialized",
			logging.Any("brokers", cfg.Brokers),
			logging.String("topic_jobs", p.topicJobs),
			logging.String("topic_segments", p.topicSegments),
		)
	} else {
		p.logger.Debug("kafka disabled, using log-only mode")
	}
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}
}

// Enabled reports whether events are sent to Kafka.
func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// PublishJob publishes a job event keyed by job id.
func (p *Publisher) PublishJob(ctx context.Context, event JobEvent) error {
	if p == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return p.publish(ctx, p.jobs, p.topicJobs, event.Type, event.JobID, event)
}

// PublishSegment publishes a segment event keyed by job id, so all events of
// one job land on the same partition in order.
func (p *Publisher) PublishSegment(ctx context.Context, event SegmentEvent) error {
	if p == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return p.publish(ctx, p.segments, p.topicSegments, event.Type, event.JobID, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", logging.String("topic", topic), logging.Error(err))
		return err
	}

	p.logger.Debug("publishing event",
		logging.String("topic", topic),
		logging.String(logging.FieldEventType, eventType),
		logging.String("key", key),
		logging.String("payload", string(payload)),
	)

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "source", Value: []byte(p.source)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		logging.WarnWithContext(p.logger, "failed to write event to kafka", "kafka_publish_failed",
			logging.String("topic", topic),
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check kafka broker availability"),
			logging.String(logging.FieldImpact, "event consumers miss this transition"),
		)
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.jobs != nil {
		if err := p.jobs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.segments != nil {
		if err := p.segments.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
