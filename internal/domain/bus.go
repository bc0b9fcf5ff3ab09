package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process) or NATS (multiple instances).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `toml:"type" env:"TYPE"`

	// Channel settings
	ChannelBufferSize int `toml:"channel_buffer_size" env:"CHANNEL_BUFFER_SIZE"`

	// NATS settings
	NATSUrl           string `toml:"nats_url" env:"NATS_URL"`
	NATSToken         string `toml:"nats_token" env:"NATS_TOKEN"`
	NATSMaxReconnects int    `toml:"nats_max_reconnects" env:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `toml:"nats_reconnect_wait" env:"NATS_RECONNECT_WAIT"` // seconds
}

// TopicDatasetRefreshed is published whenever the order table has been reloaded.
const TopicDatasetRefreshed = "kestrel.dataset.refreshed"

// DatasetRefreshed is the payload of TopicDatasetRefreshed.
type DatasetRefreshed struct {
	Source string `json:"source"`
	Rows   int    `json:"rows"`
}
