package notify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
	EventSessionExpired   EventType = "session_expired"
)

// Event is a session lifecycle notification fanned out to participants.
type Event struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"session_id"`
	GroupID      string    `json:"group_id"`
	Participants []string  `json:"participants,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Notifier fans session lifecycle events out to interested parties. Delivery
// is best effort; callers treat failures as non-fatal.
type Notifier interface {
	NotifySessionEvent(ctx context.Context, event Event) error
}

// SignaturePublisher hands a completed signature off to downstream
// consumers.
type SignaturePublisher interface {
	PublishSignedMessage(ctx context.Context, groupID string, messageHash, signature []byte) error
}

// RedisNotifier publishes events on a per-group Redis channel.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifySessionEvent(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	channel := "threshold:events:" + event.GroupID
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}

// RedisPublisher publishes completed signatures on a per-group Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishSignedMessage(ctx context.Context, groupID string, messageHash, signature []byte) error {
	payload, err := json.Marshal(map[string]string{
		"group_id":     groupID,
		"message_hash": hex.EncodeToString(messageHash),
		"signature":    hex.EncodeToString(signature),
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal signed message")
	}

	channel := "threshold:signed:" + groupID
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrap(err, "failed to publish signed message")
	}
	return nil
}

// NopNotifier drops every event. Used when no Redis is configured.
type NopNotifier struct{}

func (NopNotifier) NotifySessionEvent(context.Context, Event) error {
	return nil
}

// NopPublisher drops every signature.
type NopPublisher struct{}

func (NopPublisher) PublishSignedMessage(context.Context, string, []byte, []byte) error {
	return nil
}
