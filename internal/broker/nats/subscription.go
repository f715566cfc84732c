package nats

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// SubscriptionManagerImpl implements SubscriptionManager for NATS
type SubscriptionManagerImpl struct {
	broker     *NATSBroker
	conn       ConnectionManager
	topics     []string
	subs       map[string]*nats.Subscription
	subscribed bool
	mu         sync.RWMutex
}

// NewSubscriptionManager creates a new NATS subscription manager
func NewSubscriptionManager(broker *NATSBroker, conn ConnectionManager) SubscriptionManager {
	return &SubscriptionManagerImpl{
		broker: broker,
		conn:   conn,
		topics: make([]string, 0),
		subs:   make(map[string]*nats.Subscription),
	}
}

// Subscribe subscribes to the provided MQTT-style topic filters
func (s *SubscriptionManagerImpl) Subscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.IsConnected() {
		return fmt.Errorf("not connected to NATS server")
	}

	s.broker.logger.Info("subscribing to topics", "count", len(topics))

	for _, topic := range topics {
		subject := ToNATSSubject(topic)
		sub, err := s.conn.GetConnection().Subscribe(subject, s.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
		s.subs[topic] = sub
		s.topics = append(s.topics, topic)
		s.broker.logger.Debug("subscribed to topic",
			"topic", topic,
			"subject", subject)
	}

	s.subscribed = len(s.topics) > 0
	return nil
}

// Unsubscribe removes subscriptions for provided topics
func (s *SubscriptionManagerImpl) Unsubscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, topic := range topics {
		sub, exists := s.subs[topic]
		if !exists {
			continue
		}
		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				return fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, err)
			}
		}
		delete(s.subs, topic)
		s.broker.logger.Debug("unsubscribed from topic", "topic", topic)
	}

	remaining := make([]string, 0, len(s.topics))
	for _, t := range s.topics {
		if _, still := s.subs[t]; still {
			remaining = append(remaining, t)
		}
	}
	s.topics = remaining
	s.subscribed = len(s.topics) > 0

	return nil
}

// UnsubscribeAll unsubscribes from all topics
func (s *SubscriptionManagerImpl) UnsubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			s.broker.logger.Debug("failed to unsubscribe from topic",
				"topic", topic,
				"error", err)
		}
	}

	s.subs = make(map[string]*nats.Subscription)
	s.topics = make([]string, 0)
	s.subscribed = false

	return nil
}

// GetSubscribedTopics returns the list of currently subscribed topics
func (s *SubscriptionManagerImpl) GetSubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, len(s.topics))
	copy(topics, s.topics)
	return topics
}

// IsSubscribed returns whether there are active subscriptions
func (s *SubscriptionManagerImpl) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// handleMessage dispatches a received message under its MQTT-style topic
func (s *SubscriptionManagerImpl) handleMessage(msg *nats.Msg) {
	_ = s.broker.dispatch.Dispatch(s.broker.messageContext(), ToMQTTTopic(msg.Subject), msg.Data)
}
