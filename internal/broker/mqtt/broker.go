// Package mqtt is the MQTT device transport
package mqtt

import (
	"context"
	"fmt"
	"sync"

	"rule-broker/config"
	"rule-broker/internal/broker"
	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
)

var _ broker.Broker = (*MQTTBroker)(nil)

// MQTTBroker implements the broker.Broker interface for MQTT
type MQTTBroker struct {
	logger   *logger.Logger
	config   *config.BrokerConfig
	metrics  *metrics.Metrics
	dispatch *broker.Dispatcher

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher

	ctx context.Context
	mu  sync.RWMutex
}

// NewBroker creates an MQTT broker and connects it. Readings received are
// passed to submit.
func NewBroker(cfg *config.BrokerConfig, submit broker.Submitter, log *logger.Logger, metricsService *metrics.Metrics) (*MQTTBroker, error) {
	b := newBroker(cfg, submit, log, metricsService)

	conn, err := NewConnectionManager(b)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	b.attach(conn)

	if err := b.conn.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func newBroker(cfg *config.BrokerConfig, submit broker.Submitter, log *logger.Logger, metricsService *metrics.Metrics) *MQTTBroker {
	if log == nil {
		log = logger.NewNop()
	}
	return &MQTTBroker{
		logger:   log,
		config:   cfg,
		metrics:  metricsService,
		dispatch: broker.NewDispatcher(cfg.TopicPrefix, submit, log, metricsService),
		ctx:      context.Background(),
	}
}

// attach wires the publisher and subscription manager to a connection.
// Both must exist before the first connect handler runs.
func (b *MQTTBroker) attach(conn ConnectionManager) {
	b.conn = conn
	b.pub = NewPublisher(b)
	b.sub = NewSubscriptionManager(b)
}

// Start subscribes to the reading topic of every client
func (b *MQTTBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	filter, err := broker.ReadingsFilter(b.config.TopicPrefix)
	if err != nil {
		return err
	}

	if err := b.sub.Subscribe([]string{filter}); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}
	return nil
}

// PublishCommand implements broker.Broker interface
func (b *MQTTBroker) PublishCommand(ctx context.Context, clientID string, r reading.Reading) error {
	return b.pub.PublishCommand(ctx, clientID, r)
}

// Close implements broker.Broker interface
func (b *MQTTBroker) Close() {
	b.logger.Info("shutting down mqtt broker")
	if b.sub.IsSubscribed() {
		if err := b.sub.Unsubscribe(b.sub.GetSubscribedTopics()); err != nil {
			b.logger.Warn("failed to unsubscribe on shutdown", "error", err)
		}
	}
	b.conn.Disconnect()
}

// GetStats implements broker.Broker interface
func (b *MQTTBroker) GetStats() broker.BrokerStats {
	return b.dispatch.Stats()
}

// messageContext is the context readings received from the broker are
// submitted with
func (b *MQTTBroker) messageContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}
