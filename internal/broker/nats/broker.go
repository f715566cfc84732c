// Package nats is the NATS device transport. Topics are the MQTT layout of
// package broker with separators converted to subject form.
package nats

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

var _ broker.Broker = (*NATSBroker)(nil)

// NATSBroker implements the broker.Broker interface for NATS
type NATSBroker struct {
	logger   *logger.Logger
	config   *config.BrokerConfig
	metrics  *metrics.Metrics
	dispatch *broker.Dispatcher

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher

	ctx context.Context
	mu  sync.RWMutex
	wg  sync.WaitGroup
}

// NewBroker creates a NATS broker and connects it. Readings received are
// passed to submit.
func NewBroker(cfg *config.BrokerConfig, submit broker.Submitter, log *logger.Logger, metricsService *metrics.Metrics) (*NATSBroker, error) {
	b := newBroker(cfg, submit, log, metricsService)
	b.attach(NewConnectionManager(b))

	if err := b.conn.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func newBroker(cfg *config.BrokerConfig, submit broker.Submitter, log *logger.Logger, metricsService *metrics.Metrics) *NATSBroker {
	if log == nil {
		log = logger.NewNop()
	}
	return &NATSBroker{
		logger:   log,
		config:   cfg,
		metrics:  metricsService,
		dispatch: broker.NewDispatcher(cfg.TopicPrefix, submit, log, metricsService),
		ctx:      context.Background(),
	}
}

func (b *NATSBroker) attach(conn ConnectionManager) {
	b.conn = conn
	b.pub = NewPublisher(b, conn)
	b.sub = NewSubscriptionManager(b, conn)
}

// Start subscribes to the reading subject of every client. Subscriptions
// are dropped when ctx ends.
func (b *NATSBroker) Start(ctx context.Context) error {
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

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		b.logger.Info("context done, unsubscribing from all subjects")
		b.sub.UnsubscribeAll()
	}()

	return nil
}

// PublishCommand implements broker.Broker interface
func (b *NATSBroker) PublishCommand(ctx context.Context, clientID string, r reading.Reading) error {
	return b.pub.PublishCommand(ctx, clientID, r)
}

// Close implements broker.Broker interface. The context passed to Start
// must be done for Close to return.
func (b *NATSBroker) Close() {
	b.logger.Info("shutting down NATS broker")

	b.sub.UnsubscribeAll()
	b.conn.Disconnect()

	b.wg.Wait()
}

// GetStats implements broker.Broker interface
func (b *NATSBroker) GetStats() broker.BrokerStats {
	return b.dispatch.Stats()
}

func (b *NATSBroker) messageContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}
