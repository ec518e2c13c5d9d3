// Package consumer runs Kafka readers that dedupe through the inbox before
// handing messages to a job handler.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/teamsched/libs/kafkax"
	otelx "github.com/md-rashed-zaman/teamsched/libs/otel"
)

type Handler func(ctx context.Context, msg kafka.Message) error

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

type Recorder interface {
	ObserveMessage(topic string, err error)
}

type Consumer struct {
	reader   Reader
	logger   *slog.Logger
	inbox    Inbox
	handler  Handler
	recorder Recorder
	topic    string
	backoff  time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

type Option func(*Consumer)

func WithRecorder(r Recorder) Option {
	return func(c *Consumer) { c.recorder = r }
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler, opts ...Option) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, logger, inbox, cfg.Topic, handler, opts...)
}

func newConsumer(reader Reader, logger *slog.Logger, inbox Inbox, topic string, handler Handler, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		reader:  reader,
		logger:  logger.With("topic", topic),
		inbox:   inbox,
		handler: handler,
		topic:   topic,
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads until ctx is cancelled. Handler errors are logged and the
// message is not retried.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctxSpan, span := kafkax.StartConsumeSpan(ctx, otelx.Tracer("consumer"), msg)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "inbox")
		c.observe(msg.Topic, err)
		return
	}
	if !ok {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return
	}

	err = c.handler(ctxSpan, msg)
	c.observe(msg.Topic, err)
	if err != nil {
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
	}
}

func (c *Consumer) observe(topic string, err error) {
	if c.recorder == nil {
		return
	}
	if topic == "" {
		topic = c.topic
	}
	c.recorder.ObserveMessage(topic, err)
}
