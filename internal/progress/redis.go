package progress

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "podforge:progress:"

// RedisPublisher mirrors progress events onto Redis pub/sub so subscribers
// held by another process (the API, when the publisher runs in the worker or
// a sibling API instance) still receive them.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher wraps a connected Redis client.
func NewRedisPublisher(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish serializes the event onto the parent's Redis channel. Delivery is
// best effort, matching the channel's non-durable contract.
func (p *RedisPublisher) Publish(ctx context.Context, parentID string, ev Event) {
	ev.ParentID = parentID
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Msg("progress: marshal event")
		return
	}
	if err := p.client.Publish(ctx, channelPrefix+parentID, data).Err(); err != nil {
		p.logger.Warn().Err(err).Str("parent_id", parentID).Msg("progress: redis publish failed")
	}
}

var _ Publisher = (*RedisPublisher)(nil)

// RunRedisBridge forwards events arriving on Redis into the local broker so
// SSE subscribers of this process see publishes from other processes. Blocks
// until the context is cancelled.
func RunRedisBridge(ctx context.Context, client *redis.Client, broker *Broker, logger zerolog.Logger) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			parentID := strings.TrimPrefix(msg.Channel, channelPrefix)
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Msg("progress: drop malformed bridge event")
				continue
			}
			broker.Publish(ctx, parentID, ev)
		}
	}
}
