package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length of the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus implements domain.EventBus. Every event is published on a Pub/Sub
// channel for live subscribers and appended to a stream so late readers can
// catch up.
type EventBus struct {
	c       *Client
	channel string
	stream  string
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{
		c:       c,
		channel: c.Key("events"),
		stream:  c.Key("events:stream"),
	}
}

// Publish wraps payload in a domain.Event envelope and fans it out.
func (eb *EventBus) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", eventType, err)
	}

	pipe := eb.c.rdb.Pipeline()
	pipe.Publish(ctx, eb.channel, data)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: eb.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"type": eventType, "payload": data},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe returns a channel of raw event envelopes. The subscription is
// closed when ctx is cancelled; the returned channel is closed at that point
// as well.
func (eb *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := eb.c.rdb.Subscribe(ctx, eb.channel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", eb.channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamRead reads up to count events after lastID. Use "0" to read from the
// beginning. It returns an empty slice (not an error) when nothing is new.
func (eb *EventBus) StreamRead(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	results, err := eb.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{eb.stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", eb.stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
