// Package broker connects devices to the ingestion path over a message
// broker. Devices publish readings; synthetic readings go back to them as
// commands.
package broker

import (
	"context"
	"time"

	"rule-broker/internal/reading"
)

// Broker is a device-facing transport
type Broker interface {
	// Start subscribes to the reading topics of every client
	Start(ctx context.Context) error

	// PublishCommand sends a synthetic reading to the device it targets
	PublishCommand(ctx context.Context, clientID string, r reading.Reading) error

	// Close unsubscribes and disconnects
	Close()

	GetStats() BrokerStats
}

// Submitter accepts external readings
type Submitter interface {
	Submit(ctx context.Context, clientID string, r reading.Reading) (reading.Reading, error)
}

// BrokerState represents the current state of a broker connection
type BrokerState string

const (
	BrokerStateDisconnected BrokerState = "disconnected"
	BrokerStateConnected    BrokerState = "connected"
	BrokerStateReconnecting BrokerState = "reconnecting"
)

// BrokerStats holds statistics for a broker connection
type BrokerStats struct {
	MessagesReceived  uint64
	MessagesProcessed uint64
	MessagesPublished uint64
	Errors            uint64
	LastReconnect     time.Time
}
