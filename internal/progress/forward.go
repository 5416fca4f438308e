package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Broadcaster pushes events to an out-of-process channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt Event) error
}

// Forward drains sub into b until ctx is done or the subscription is closed.
// Delivery failures are logged and skipped.
func Forward(ctx context.Context, sub *Subscription, b Broadcaster, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := b.Broadcast(ctx, evt); err != nil {
				logger.Warn("failed to forward progress event", "event", evt.Type, "error", err)
			}
		}
	}
}

// RedisPublisher is the subset of the redis client used for pub/sub fan-out.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBroadcaster publishes events as JSON on a Redis pub/sub channel
type RedisBroadcaster struct {
	client  RedisPublisher
	channel string
}

// NewRedisBroadcaster creates a Redis broadcaster
func NewRedisBroadcaster(client RedisPublisher, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// NATSBroadcaster publishes events as JSON on a NATS subject
type NATSBroadcaster struct {
	conn    *nats.Conn
	subject string
}

// NewNATSBroadcaster connects to url with reconnects enabled.
func NewNATSBroadcaster(url, subject string, logger *slog.Logger) (*NATSBroadcaster, error) {
	conn, err := nats.Connect(url,
		nats.Name("asin-availability"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSBroadcaster{conn: conn, subject: subject}, nil
}

func (b *NATSBroadcaster) Broadcast(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.subject, err)
	}
	return nil
}

// Close drains the connection
func (b *NATSBroadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
