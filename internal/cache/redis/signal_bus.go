package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// streamMaxLen bounds every stream through XADD MAXLEN ~.
const streamMaxLen int64 = 10_000

// SignalBus implements domain.SignalBus: Pub/Sub for ephemeral fan-out and
// Streams for durable, ordered delivery.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern such as
// "notifications:*". The returned channel closes when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusMessage, error) {
	var ps *redis.PubSub
	if isPattern(channel) {
		ps = sb.rdb.PSubscribe(ctx, channel)
	} else {
		ps = sb.rdb.Subscribe(ctx, channel)
	}
	// Wait for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.BusMessage, 128)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- domain.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func isPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends payload to stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking. An
// empty stream yields no entries and no error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			var data []byte
			switch v := m.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: data})
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
