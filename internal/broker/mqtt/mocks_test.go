package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rule-broker/internal/reading"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

// NewMockToken returns a token that is already complete
func NewMockToken(err error) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *MockToken) Wait() bool                       { return true }
func (t *MockToken) WaitTimeout(d time.Duration) bool { return true }
func (t *MockToken) Error() error                     { return t.err }
func (t *MockToken) Done() <-chan struct{}            { return t.done }

// pendingToken never completes
type pendingToken struct{}

func (pendingToken) Wait() bool                       { return false }
func (pendingToken) WaitTimeout(d time.Duration) bool { return false }
func (pendingToken) Error() error                     { return nil }
func (pendingToken) Done() <-chan struct{}            { return make(chan struct{}) }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// MockClient implements mqtt.Client for testing
type MockClient struct {
	mu            sync.Mutex
	published     []published
	subscriptions map[string]mqtt.MessageHandler
	subscribeQoS  map[string]byte
	unsubscribed  []string
	publishErr    error
	subscribeErr  error
	hang          bool
}

func NewMockClient() *MockClient {
	return &MockClient{
		subscriptions: make(map[string]mqtt.MessageHandler),
		subscribeQoS:  make(map[string]byte),
	}
}

func (m *MockClient) Connect() mqtt.Token      { return NewMockToken(nil) }
func (m *MockClient) Disconnect(quiesce uint) {}
func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hang {
		return pendingToken{}
	}
	data, _ := payload.([]byte)
	m.published = append(m.published, published{topic, qos, data})
	return NewMockToken(m.publishErr)
}
func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return NewMockToken(m.subscribeErr)
	}
	m.subscriptions[topic] = callback
	m.subscribeQoS[topic] = qos
	return NewMockToken(nil)
}
func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	for _, t := range topics {
		delete(m.subscriptions, t)
	}
	return NewMockToken(nil)
}
func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *MockClient) IsConnected() bool                                   { return true }
func (m *MockClient) IsConnectionOpen() bool                              { return true }
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader             { return mqtt.ClientOptionsReader{} }

// deliver invokes the handler subscribed to filter as the broker would
func (m *MockClient) deliver(filter, topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.subscriptions[filter]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(m, &MockMessage{topic: topic, payload: payload})
	return true
}

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	topic   string
	payload []byte
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 0 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}

type submission struct {
	ctx      context.Context
	clientID string
	reading  reading.Reading
}

// mockSubmitter records submitted readings
type mockSubmitter struct {
	mu    sync.Mutex
	calls []submission
	fail  bool
}

func (s *mockSubmitter) Submit(ctx context.Context, clientID string, r reading.Reading) (reading.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submission{ctx, clientID, r})
	if s.fail {
		return r, errors.New("rejected")
	}
	return r, nil
}
