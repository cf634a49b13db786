package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// ErrSkipMessage from a handler commits the message without processing it.
// Use it for payloads that will never decode.
var ErrSkipMessage = errors.New("skip message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done or handler fails.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil && !errors.Is(err, ErrSkipMessage) {
			// Not committed: the message is redelivered after restart.
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}



// Retry re-runs handler on the same message with exponential backoff, from
// initial up to ceiling, until it succeeds, skips, or ctx is done. The offset
// stays uncommitted meanwhile, so a transient failure never loses the message.
func Retry(ctx context.Context, handler func(key, value []byte) error, initial, ceiling time.Duration) func(key, value []byte) error {
	return func(key, value []byte) error {
		wait := initial
		for {
			err := handler(key, value)
			if err == nil || errors.Is(err, ErrSkipMessage) {
				return err
			}
			slog.Warn("kafka handler failed, retrying", "key", string(key), "backoff", wait.String(), "error", err.Error())
			select {
			case <-ctx.Done():
				return err
			case <-time.After(wait):
			}
			wait = min(wait*2, ceiling)
		}
	}
}
