package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "accounts/pkg/domain"
)

// Message is a decoded mirrored event. Payload is left raw because its shape
// depends on Type.
type Message struct {
	ID            id.EventID       `json:"id"`
	Type          string           `json:"type"`
	Payload       json.RawMessage  `json:"payload"`
	AggregateID   string           `json:"aggregate_id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
	OccurredAt    time.Time        `json:"occurred_at"`

	Topic     string `json:"-"`
	Partition int32  `json:"-"`
	Offset    int64  `json:"-"`
}

// MessageHandler processes one mirrored event. A returned error stops the
// consumer without committing the batch.
type MessageHandler interface {
	Handle(ctx context.Context, msg *Message) error
}

type MessageHandlerFunc func(ctx context.Context, msg *Message) error

func (f MessageHandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Consumer reads the mirror topic in a consumer group and commits offsets
// after each fully handled poll.
type Consumer struct {
	client  *kgo.Client
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer builds a group consumer for topic. Offsets start at the
// beginning of the topic for a new group.
func NewConsumer(brokers []string, group, topic string, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled or the handler fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = c.handle(ctx, r)
		})
		if handleErr != nil {
			return handleErr
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, r *kgo.Record) error {
	var msg Message
	if err := json.Unmarshal(r.Value, &msg); err != nil {
		// Malformed records are skipped so they do not block the partition.
		c.logger.ErrorContext(ctx, "failed to decode mirrored event",
			"key", string(r.Key),
			"offset", r.Offset,
			"error", err,
		)
		return nil
	}
	msg.Topic = r.Topic
	msg.Partition = r.Partition
	msg.Offset = r.Offset
	return c.handler.Handle(ctx, &msg)
}
