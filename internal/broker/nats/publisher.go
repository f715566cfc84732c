package nats

import (
	"context"
	"fmt"

	"rule-broker/internal/broker"
	"rule-broker/internal/reading"
)

// PublisherImpl implements the Publisher interface for NATS
type PublisherImpl struct {
	broker *NATSBroker
	conn   ConnectionManager
}

// NewPublisher creates a new NATS publisher
func NewPublisher(broker *NATSBroker, conn ConnectionManager) Publisher {
	return &PublisherImpl{
		broker: broker,
		conn:   conn,
	}
}

// Publish sends a message to the subject of an MQTT-style topic
func (p *PublisherImpl) Publish(topic string, payload []byte) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("not connected to NATS server")
	}

	subject := ToNATSSubject(topic)
	if err := p.conn.GetConnection().Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.broker.logger.Debug("published message",
		"topic", topic,
		"subject", subject,
		"payloadSize", len(payload))
	return nil
}

// PublishCommand sends a synthetic reading to its device's command subject
func (p *PublisherImpl) PublishCommand(ctx context.Context, clientID string, r reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	topic, err := broker.CommandTopic(p.broker.config.TopicPrefix, clientID, r.DeviceID)
	if err != nil {
		return err
	}

	payload, err := broker.EncodeCommand(r)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	err = p.Publish(topic, payload)
	p.broker.dispatch.Published(err)
	if err != nil {
		p.broker.logger.Error("failed to publish command",
			"error", err,
			"topic", topic)
		return err
	}
	return nil
}
