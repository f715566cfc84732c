package nats

import (
	"context"

	"github.com/nats-io/nats.go"

	"rule-broker/internal/reading"
)

// Conn is the subset of *nats.Conn the transport uses
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	ConnectedUrl() string
	Close()
}

// ConnectionManager handles NATS connection lifecycle
type ConnectionManager interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	GetConnection() Conn
}

// SubscriptionManager handles subject subscriptions and message reception
type SubscriptionManager interface {
	Subscribe(topics []string) error
	Unsubscribe(topics []string) error
	UnsubscribeAll() error
	GetSubscribedTopics() []string
	IsSubscribed() bool
}

// Publisher handles message publishing
type Publisher interface {
	Publish(topic string, payload []byte) error
	PublishCommand(ctx context.Context, clientID string, r reading.Reading) error
}
