package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publishes events as JSON over redis pub/sub, so that whichever daemon holds a creator's
// dashboard connection can deliver it.
type RedisNotifier struct {
	Client *redis.Client
}

var _ Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{Client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, channel string, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := n.Client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Subscribes to every creator channel and re-publishes into the local hub. Blocks until ctx is done.
func (n *RedisNotifier) RunRelay(ctx context.Context, hub *Hub, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "notify-relay")

	sub := n.Client.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	// wait for confirmation that subscription is created
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", channelPattern, err)
	}
	logger.Info("relaying dashboard events from redis", "pattern", channelPattern)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn("skipping undecodable event", "channel", msg.Channel, "err", err)
				continue
			}
			relayedEvents.Inc()
			hub.Publish(ctx, msg.Channel, evt)
		}
	}
}
