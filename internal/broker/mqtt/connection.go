package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// ConnectionManagerImpl handles MQTT connection lifecycle
type ConnectionManagerImpl struct {
	broker    *MQTTBroker
	client    mqtt.Client
	connected atomic.Bool
}

// NewConnectionManager creates the MQTT client; Connect dials it
func NewConnectionManager(broker *MQTTBroker) (ConnectionManager, error) {
	cm := &ConnectionManagerImpl{
		broker: broker,
	}
	cfg := broker.config.MQTT

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute). // Prevent exponential backoff from growing too large
		SetOrderMatters(false)                // handlers publish commands and must not block the router

	opts.OnConnect = cm.handleConnect
	opts.OnConnectionLost = cm.handleDisconnect
	opts.OnReconnecting = cm.handleReconnecting

	if cfg.TLS.Enable {
		tlsConfig, err := newTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	cm.client = mqtt.NewClient(opts)
	return cm, nil
}

// NewConnectionManagerWithClient creates a connection manager with a provided client (for testing)
func NewConnectionManagerWithClient(broker *MQTTBroker, client mqtt.Client) ConnectionManager {
	cm := &ConnectionManagerImpl{
		broker: broker,
		client: client,
	}
	cm.connected.Store(true)
	return cm
}

// Connect establishes connection to the MQTT broker
func (cm *ConnectionManagerImpl) Connect() error {
	token := cm.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out connecting to broker %s", cm.broker.config.MQTT.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	cm.connected.Store(true)
	return nil
}

// Disconnect cleanly disconnects from the MQTT broker
func (cm *ConnectionManagerImpl) Disconnect() {
	cm.broker.logger.Info("disconnecting from mqtt broker")
	cm.client.Disconnect(250)
	cm.connected.Store(false)
	cm.broker.metrics.SetBrokerConnectionStatus(false)
}

// IsConnected returns current connection status
func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.connected.Load()
}

// GetClient returns the MQTT client instance
func (cm *ConnectionManagerImpl) GetClient() mqtt.Client {
	return cm.client
}

// handleConnect marks the connection up and restores subscriptions. With a
// clean session the broker forgets them on every disconnect.
func (cm *ConnectionManagerImpl) handleConnect(client mqtt.Client) {
	cm.broker.logger.Info("mqtt client connected", "broker", cm.broker.config.MQTT.Broker)
	cm.connected.Store(true)
	cm.broker.dispatch.MarkReconnect(time.Now())
	cm.broker.metrics.SetBrokerConnectionStatus(true)

	if err := cm.broker.sub.ResubscribeAll(); err != nil {
		cm.broker.logger.Error("failed to resubscribe to topics after reconnect",
			"error", err)
		return
	}
	if topics := cm.broker.sub.GetSubscribedTopics(); len(topics) > 0 {
		cm.broker.logger.Info("resubscribed to topics", "topics", topics)
	}
}

// handleDisconnect processes connection loss
func (cm *ConnectionManagerImpl) handleDisconnect(client mqtt.Client, err error) {
	cm.broker.logger.Error("mqtt connection lost", "error", err)
	cm.connected.Store(false)
	cm.broker.metrics.SetBrokerConnectionStatus(false)
}

// handleReconnecting processes reconnection attempts
func (cm *ConnectionManagerImpl) handleReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	cm.broker.logger.Info("mqtt client reconnecting",
		"broker", cm.broker.config.MQTT.Broker,
		"sinceLastConnect", time.Since(cm.broker.dispatch.Stats().LastReconnect))
	cm.broker.metrics.IncBrokerReconnects()
}

// newTLSConfig creates a new TLS configuration
func newTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
