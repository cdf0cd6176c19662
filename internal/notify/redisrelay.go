package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "goberry:history-changed"

// RedisRelay shares change signals between server instances over redis pub/sub.
// Messages are "<origin>|<unix millis>"; an instance ignores its own messages.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (r *RedisRelay) Broadcast(ctx context.Context, at time.Time) error {
	message := r.origin + "|" + strconv.FormatInt(at.UnixMilli(), 10)
	if err := r.client.Publish(ctx, r.channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish change signal: %w", err)
	}
	return nil
}

// RelaySubscription is a confirmed subscription to the relay channel.
type RelaySubscription struct {
	pubsub *redis.PubSub
	origin string
}

// Subscribe returns once redis has confirmed the subscription.
func (r *RedisRelay) Subscribe(ctx context.Context) (*RelaySubscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	return &RelaySubscription{pubsub: pubsub, origin: r.origin}, nil
}

// Forward delivers remote change signals to hub until ctx is done.
func (s *RelaySubscription) Forward(ctx context.Context, hub *Hub) error {
	defer func() {
		if err := s.pubsub.Close(); err != nil {
			slog.Warn("notify: failed to close redis subscription", "error", err)
		}
	}()

	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			origin, at, err := parseRelayMessage(msg.Payload)
			if err != nil {
				slog.Warn("notify: dropping invalid relay message", "payload", msg.Payload, "error", err)
				continue
			}
			if origin == s.origin {
				continue
			}
			hub.Deliver(at)
		}
	}
}

func parseRelayMessage(payload string) (string, time.Time, error) {
	origin, rawMillis, found := strings.Cut(payload, "|")
	if !found || origin == "" {
		return "", time.Time{}, fmt.Errorf("missing origin")
	}
	ms, err := strconv.ParseInt(rawMillis, 10, 64)
	if err != nil {
		return "", time.Time{}, err
	}
	return origin, time.UnixMilli(ms), nil
}
