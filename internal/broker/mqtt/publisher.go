package mqtt

import (
	"context"
	"fmt"

	"rule-broker/internal/broker"
	"rule-broker/internal/reading"
)

// PublisherImpl handles MQTT message publishing
type PublisherImpl struct {
	broker *MQTTBroker
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(broker *MQTTBroker) Publisher {
	return &PublisherImpl{broker: broker}
}

// Publish sends a message to a specific topic and waits for the broker to
// accept it or ctx to end
func (p *PublisherImpl) Publish(ctx context.Context, topic string, payload []byte) error {
	conn := p.broker.conn
	if !conn.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	token := conn.GetClient().Publish(topic, p.broker.config.MQTT.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.broker.logger.Debug("published message",
		"topic", topic,
		"payloadSize", len(payload))
	return nil
}

// PublishCommand sends a synthetic reading to its device's command topic
func (p *PublisherImpl) PublishCommand(ctx context.Context, clientID string, r reading.Reading) error {
	topic, err := broker.CommandTopic(p.broker.config.TopicPrefix, clientID, r.DeviceID)
	if err != nil {
		return err
	}

	payload, err := broker.EncodeCommand(r)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	err = p.Publish(ctx, topic, payload)
	p.broker.dispatch.Published(err)
	if err != nil {
		p.broker.logger.Error("failed to publish command",
			"error", err,
			"topic", topic)
		return err
	}
	return nil
}
