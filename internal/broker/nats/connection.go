package nats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectionManagerImpl implements ConnectionManager for NATS
type ConnectionManagerImpl struct {
	broker    *NATSBroker
	conn      Conn
	connected atomic.Bool
}

// NewConnectionManager creates a NATS connection manager; Connect dials
func NewConnectionManager(broker *NATSBroker) ConnectionManager {
	return &ConnectionManagerImpl{
		broker: broker,
	}
}

// NewConnectionManagerWithConn wraps an established connection (for testing)
func NewConnectionManagerWithConn(broker *NATSBroker, conn Conn) ConnectionManager {
	cm := &ConnectionManagerImpl{
		broker: broker,
		conn:   conn,
	}
	cm.connected.Store(true)
	return cm
}

// options returns the connection options for the configured server
func (cm *ConnectionManagerImpl) options() []nats.Option {
	cfg := cm.broker.config.NATS

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(cm.handleDisconnect),
		nats.ReconnectHandler(cm.handleReconnect),
		nats.ClosedHandler(cm.handleClosed),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.TLS.Enable {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
		if cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
		}
	}

	return opts
}

// Connect establishes connection to the NATS server. Every configured URL
// is offered to the client as a seed server.
func (cm *ConnectionManagerImpl) Connect() error {
	urls := cm.broker.config.NATS.URLs
	if len(urls) == 0 {
		return fmt.Errorf("no NATS server URLs provided")
	}

	cm.broker.logger.Info("connecting to NATS server", "urls", urls)

	conn, err := nats.Connect(strings.Join(urls, ","), cm.options()...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	cm.conn = conn
	cm.connected.Store(true)
	cm.broker.metrics.SetBrokerConnectionStatus(true)

	cm.broker.logger.Info("connected to NATS server", "url", conn.ConnectedUrl())
	return nil
}

// Disconnect cleanly disconnects from the NATS server
func (cm *ConnectionManagerImpl) Disconnect() {
	if cm.conn != nil {
		cm.broker.logger.Info("disconnecting from NATS server")
		cm.conn.Close()
		cm.connected.Store(false)
		cm.broker.metrics.SetBrokerConnectionStatus(false)
	}
}

// IsConnected returns the current connection status
func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.conn != nil && cm.conn.IsConnected() && cm.connected.Load()
}

// GetConnection returns the NATS connection
func (cm *ConnectionManagerImpl) GetConnection() Conn {
	return cm.conn
}

func (cm *ConnectionManagerImpl) handleDisconnect(conn *nats.Conn, err error) {
	cm.broker.logger.Error("disconnected from NATS server", "error", err)
	cm.connected.Store(false)
	cm.broker.metrics.SetBrokerConnectionStatus(false)
}

// handleReconnect marks the connection up. nats.go replays subscriptions
// itself, so nothing is resubscribed here.
func (cm *ConnectionManagerImpl) handleReconnect(conn *nats.Conn) {
	cm.broker.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
	cm.connected.Store(true)
	cm.broker.dispatch.MarkReconnect(time.Now())
	cm.broker.metrics.SetBrokerConnectionStatus(true)
	cm.broker.metrics.IncBrokerReconnects()
}

func (cm *ConnectionManagerImpl) handleClosed(conn *nats.Conn) {
	cm.broker.logger.Warn("NATS connection closed")
	cm.connected.Store(false)
	cm.broker.metrics.SetBrokerConnectionStatus(false)
}
