package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "realtime:session:"

// RedisBus shares session events between chat instances over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	prefix string
}

func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) channel(sessionID string) string {
	return b.prefix + sessionID
}

func (b *RedisBus) Publish(ctx context.Context, sessionID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, b.channel(sessionID), payload).Err()
}

// Run forwards every published event into hub until ctx ends. ready is
// closed once the subscription is active.
func (b *RedisBus) Run(ctx context.Context, hub *Hub, ready chan<- struct{}) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sessionID := strings.TrimPrefix(msg.Channel, b.prefix)
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("realtime bus dropped malformed event", "session_id", sessionID, "err", err)
				continue
			}
			hub.Deliver(ctx, sessionID, ev)
		}
	}
}
