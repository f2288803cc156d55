package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/pkg/logger"
	"github.com/microlearn/gamification-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING EVENT STREAM
// The content layer appends learning events to a Redis stream. Engine
// instances read it through one consumer group, so each event is handled by
// one instance and acknowledged only after its unit of work committed.
//
// An event that still fails after the in-process retries is copied to the
// dead-letter stream with the last error, then acknowledged.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLearningStream = "learning:events"
	DefaultDeadLetter     = "learning:events:dead"
	DefaultConsumerGroup  = "gamification-engine"

	eventField = "event"
	errorField = "error"
)

// StreamConfig configures the stream consumer.
type StreamConfig struct {
	Stream     string
	DeadLetter string
	Group      string
	Consumer   string

	// BatchSize is the COUNT of one XREADGROUP.
	BatchSize int64

	// Block is how long one read waits for new entries. Negative means
	// return immediately.
	Block time.Duration

	// HandlerTimeout bounds one handler call.
	HandlerTimeout time.Duration
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig(consumer string) StreamConfig {
	return StreamConfig{
		Stream:         DefaultLearningStream,
		DeadLetter:     DefaultDeadLetter,
		Group:          DefaultConsumerGroup,
		Consumer:       consumer,
		BatchSize:      32,
		Block:          5 * time.Second,
		HandlerTimeout: 10 * time.Second,
	}
}

func (c StreamConfig) withDefaults() StreamConfig {
	d := DefaultStreamConfig(c.Consumer)
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.DeadLetter == "" {
		c.DeadLetter = d.DeadLetter
	}
	if c.Group == "" {
		c.Group = d.Group
	}
	if c.Consumer == "" {
		c.Consumer = "engine"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Block == 0 {
		c.Block = d.Block
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// StreamPublisher appends learning events to the stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamPublisher creates a publisher. An empty stream means
// DefaultLearningStream.
func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	if stream == "" {
		stream = DefaultLearningStream
	}
	return &StreamPublisher{client: client, stream: stream}
}

// Publish appends the event and returns its stream entry id.
func (p *StreamPublisher) Publish(ctx context.Context, evt ledger.LearningEvent) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("marshal learning event: %w", err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{eventField: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSUMER
// ══════════════════════════════════════════════════════════════════════════════

// LearningEventHandler handles one event. A nil error acknowledges it.
type LearningEventHandler func(ctx context.Context, evt ledger.LearningEvent) error

// StreamConsumer reads learning events through a consumer group.
type StreamConsumer struct {
	client  *redis.Client
	config  StreamConfig
	handler LearningEventHandler
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewStreamConsumer creates a consumer. A nil retrier tries each event once.
func NewStreamConsumer(client *redis.Client, config StreamConfig, handler LearningEventHandler, retrier *retry.Retrier, log *logger.Logger) *StreamConsumer {
	if log == nil {
		log = logger.Nop()
	}
	if retrier == nil {
		retrier = retry.New(retry.WithMaxAttempts(1))
	}
	config = config.withDefaults()
	return &StreamConsumer{
		client:  client,
		config:  config,
		handler: handler,
		retrier: retrier,
		log: log.With(
			logger.Component("stream_consumer"),
			logger.String("stream", config.Stream),
			logger.String("consumer", config.Consumer),
		),
	}
}

// EnsureGroup creates the stream and the consumer group if missing.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", c.config.Group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Entries this consumer read before a
// restart but never acknowledged are handled first.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	for {
		n, err := c.poll(ctx, "0")
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	c.log.Info("stream consumer started")

	for {
		if ctx.Err() != nil {
			c.log.Info("stream consumer stopped")
			return nil
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("stream read failed", logger.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reads and handles one batch of new entries. It returns the number of
// entries handled.
func (c *StreamConsumer) Poll(ctx context.Context) (int, error) {
	return c.poll(ctx, ">")
}

func (c *StreamConsumer) poll(ctx context.Context, from string) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Consumer,
		Streams:  []string{c.config.Stream, from},
		Count:    c.config.BatchSize,
		Block:    c.config.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("xreadgroup %s: %w", c.config.Stream, err)
	}

	handled := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if err := c.handle(ctx, msg); err != nil {
				return handled, err
			}
			handled++
		}
	}
	return handled, nil
}

// handle settles one entry. It only returns an error when the entry could not
// be acknowledged or dead-lettered, leaving it pending for the next start.
func (c *StreamConsumer) handle(ctx context.Context, msg redis.XMessage) error {
	log := c.log.With(logger.String("entry_id", msg.ID))

	evt, err := decodeEntry(c.config.Stream, msg)
	if err != nil {
		log.Warn("undecodable stream entry", logger.Err(err))
		return c.deadLetter(ctx, msg, err)
	}

	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, c.config.HandlerTimeout)
		defer cancel()
		return c.handler(hctx, evt)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("learning event failed after retries", logger.EventID(evt.ID), logger.Err(err))
		return c.deadLetter(ctx, msg, err)
	}
	return c.ack(ctx, msg.ID)
}

func (c *StreamConsumer) ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.config.Stream, c.config.Group, id).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

func (c *StreamConsumer) deadLetter(ctx context.Context, msg redis.XMessage, cause error) error {
	values := make(map[string]interface{}, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values[errorField] = cause.Error()
	values["source_id"] = msg.ID

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.config.DeadLetter, Values: values}).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
	}
	return c.ack(ctx, msg.ID)
}

// decodeEntry parses one stream entry. An event without an id gets one derived
// from the stream and entry id, stable across redeliveries.
func decodeEntry(stream string, msg redis.XMessage) (ledger.LearningEvent, error) {
	var evt ledger.LearningEvent
	raw, ok := msg.Values[eventField]
	if !ok {
		return evt, fmt.Errorf("entry %s has no %q field", msg.ID, eventField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return evt, fmt.Errorf("entry %s: unexpected %T payload", msg.ID, raw)
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	if strings.TrimSpace(evt.ID) == "" {
		evt.ID = ledger.DeriveID(stream + "/" + msg.ID)
	}
	return evt, nil
}
