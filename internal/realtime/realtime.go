// Package realtime pushes messages to connected websocket sessions. Publishers write to Redis
// pub/sub channels named user:<id> and tenant:<id>; every server process runs a Hub that
// subscribes to both patterns and forwards to its local sessions, so all sessions of a user
// receive a push no matter which process they are connected to.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Message is the frame written to websocket clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Event names pushed to clients.
const (
	EventNotification = "notification"
	EventAllRead      = "notifications.all_read"
	EventConnected    = "connected"
)

// UserChannel addresses every session of one user.
func UserChannel(userID string) string { return "user:" + userID }

// TenantChannel addresses every session in one tenant.
func TenantChannel(tenantID string) string { return "tenant:" + tenantID }

// Publisher delivers a message to a channel. Delivery is fire-and-forget: offline users miss it
// and read the persisted record later.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
}

// RedisPublisher publishes JSON frames on Redis pub/sub.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", msg.Event, err)
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", channel, err)
	}
	return nil
}

// Null discards every message.
type Null struct{}

func (Null) Publish(context.Context, string, Message) error { return nil }
