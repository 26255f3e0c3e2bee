package mapfeed

import (
	"context"
	"encoding/json"
	"log/slog"

	"starlane-server/internal/shared/redis"
)

const redisChannel = "starlane:map:changes"

// Notifier publishes world changes to map viewers. With Redis enabled the
// change goes through pub/sub so every process's hub sees it; otherwise it
// goes straight to the local hub. A nil Notifier drops everything.
type Notifier struct {
	hub    *Hub
	redis  *redis.Client
	logger *slog.Logger
}

func NewNotifier(hub *Hub, rdb *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{hub: hub, redis: rdb, logger: logger.With("component", "mapfeed_notifier")}
}

func (n *Notifier) Publish(ctx context.Context, kind ChangeKind, id int64) {
	if n == nil {
		return
	}
	payload, err := json.Marshal(Change{Kind: kind, ID: id})
	if err != nil {
		n.logger.Error("Failed to encode change", "operation", "publish", "error", err)
		return
	}

	if n.redis != nil {
		if err := n.redis.Notify(ctx, redisChannel, payload); err != nil {
			n.logger.Warn("Failed to publish change, delivering locally", "operation", "publish", "error", err)
		} else {
			return
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(payload)
	}
}

// Relay feeds Redis notifications into the local hub until ctx is done.
// Without Redis it just waits.
func (n *Notifier) Relay(ctx context.Context) error {
	return n.redis.Listen(ctx, redisChannel, func(payload []byte) {
		var c Change
		if err := json.Unmarshal(payload, &c); err != nil {
			n.logger.Warn("Dropping malformed change", "operation", "relay", "error", err)
			return
		}
		if n.hub != nil {
			n.hub.Broadcast(payload)
		}
	})
}
