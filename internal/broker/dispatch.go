package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
)

// readingMessage is the payload devices publish. value may be a JSON
// string, number or boolean.
type readingMessage struct {
	DeviceID  string            `json:"deviceId"`
	Type      reading.ValueType `json:"type"`
	Value     json.RawMessage   `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// DecodeReading parses a reading message payload
func DecodeReading(payload []byte) (reading.Reading, error) {
	var msg readingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return reading.Reading{}, fmt.Errorf("invalid reading payload: %w", err)
	}

	value, err := scalarValue(msg.Value)
	if err != nil {
		return reading.Reading{}, err
	}

	return reading.Reading{
		DeviceID:  msg.DeviceID,
		Type:      msg.Type,
		Value:     value,
		Timestamp: msg.Timestamp,
	}, nil
}

func scalarValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid reading value: %w", err)
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("reading value must be a scalar")
	default:
		return string(raw), nil
	}
}

// EncodeCommand renders a synthetic reading as a command payload
func EncodeCommand(r reading.Reading) ([]byte, error) {
	return json.Marshal(r)
}

// Dispatcher turns reading messages into ingestion calls and keeps the
// transport's message counters
type Dispatcher struct {
	prefix  string
	submit  Submitter
	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   BrokerStats

	lastReconnect int64 // unix nanoseconds
}

// NewDispatcher creates a dispatcher for topics under prefix
func NewDispatcher(prefix string, submit Submitter, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		prefix:  prefix,
		submit:  submit,
		logger:  log,
		metrics: m,
	}
}

// Dispatch handles one message received on topic. Failures are logged and
// counted; the message is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) error {
	atomic.AddUint64(&d.stats.MessagesReceived, 1)
	d.metrics.IncBrokerMessages("received")

	d.logger.Debug("processing message",
		"topic", topic,
		"payloadSize", len(payload))

	err := d.dispatch(ctx, topic, payload)
	if err != nil {
		atomic.AddUint64(&d.stats.Errors, 1)
		d.metrics.IncBrokerMessages("error")
		d.logger.Error("failed to process message",
			"topic", topic,
			"error", err)
		return err
	}

	atomic.AddUint64(&d.stats.MessagesProcessed, 1)
	d.metrics.IncBrokerMessages("processed")
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, topic string, payload []byte) error {
	clientID, err := ParseReadingTopic(d.prefix, topic)
	if err != nil {
		return err
	}

	r, err := DecodeReading(payload)
	if err != nil {
		return err
	}

	if _, err := d.submit.Submit(ctx, clientID, r); err != nil {
		return fmt.Errorf("submitting reading for client %s: %w", clientID, err)
	}
	return nil
}

// Published counts a command sent by the transport
func (d *Dispatcher) Published(err error) {
	if err != nil {
		atomic.AddUint64(&d.stats.Errors, 1)
		d.metrics.IncBrokerMessages("publish_error")
		return
	}
	atomic.AddUint64(&d.stats.MessagesPublished, 1)
	d.metrics.IncBrokerMessages("published")
}

// MarkReconnect records a reconnection time
func (d *Dispatcher) MarkReconnect(at time.Time) {
	atomic.StoreInt64(&d.lastReconnect, at.UnixNano())
}

// Stats returns a snapshot of the message counters
func (d *Dispatcher) Stats() BrokerStats {
	s := BrokerStats{
		MessagesReceived:  atomic.LoadUint64(&d.stats.MessagesReceived),
		MessagesProcessed: atomic.LoadUint64(&d.stats.MessagesProcessed),
		MessagesPublished: atomic.LoadUint64(&d.stats.MessagesPublished),
		Errors:            atomic.LoadUint64(&d.stats.Errors),
	}
	if ns := atomic.LoadInt64(&d.lastReconnect); ns != 0 {
		s.LastReconnect = time.Unix(0, ns)
	}
	return s
}
