package mqtt

import (
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// SubscriptionManagerImpl implements the SubscriptionManager interface
type SubscriptionManagerImpl struct {
	broker     *MQTTBroker
	topics     []string
	subscribed bool
	mu         sync.RWMutex
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager(broker *MQTTBroker) SubscriptionManager {
	return &SubscriptionManagerImpl{
		broker: broker,
		topics: make([]string, 0),
	}
}

// Subscribe subscribes to the provided topics
func (s *SubscriptionManagerImpl) Subscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked(topics)
}

func (s *SubscriptionManagerImpl) subscribeLocked(topics []string) error {
	conn := s.broker.conn
	if !conn.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	s.topics = topics
	s.broker.logger.Info("subscribing to topics", "count", len(topics))

	qos := s.broker.config.MQTT.QoS
	for _, topic := range topics {
		if token := conn.GetClient().Subscribe(topic, qos, s.HandleMessage); token.Wait() && token.Error() != nil {
			s.subscribed = false
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
		}
		s.broker.logger.Debug("subscribed to topic", "topic", topic, "qos", qos)
	}

	s.subscribed = true
	return nil
}

// Unsubscribe removes subscriptions for the provided topics
func (s *SubscriptionManagerImpl) Unsubscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.broker.conn
	if !conn.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	if token := conn.GetClient().Unsubscribe(topics...); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from topics %v: %w", topics, token.Error())
	}

	remove := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		remove[t] = struct{}{}
	}
	remaining := make([]string, 0, len(s.topics))
	for _, t := range s.topics {
		if _, gone := remove[t]; !gone {
			remaining = append(remaining, t)
		}
	}
	s.topics = remaining
	s.subscribed = len(s.topics) > 0

	return nil
}

// HandleMessage passes a received reading to the dispatcher. Errors are
// logged and counted there; the message is not redelivered.
func (s *SubscriptionManagerImpl) HandleMessage(client mqtt.Client, msg mqtt.Message) {
	_ = s.broker.dispatch.Dispatch(s.broker.messageContext(), msg.Topic(), msg.Payload())
}

// ResubscribeAll subscribes again to every known topic
func (s *SubscriptionManagerImpl) ResubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.topics) == 0 {
		return nil
	}
	topics := make([]string, len(s.topics))
	copy(topics, s.topics)
	return s.subscribeLocked(topics)
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
