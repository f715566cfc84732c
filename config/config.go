package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging    LogConfig      `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig  `json:"metrics" yaml:"metrics"`
	HTTP       HTTPConfig     `json:"http" yaml:"http"`
	Processing ProcConfig     `json:"processing" yaml:"processing"`
	WebHook    WebHookConfig  `json:"webhook" yaml:"webhook"`
	Storage    StorageConfig  `json:"storage" yaml:"storage"`
	Broker     BrokerConfig   `json:"broker" yaml:"broker"`
	Clients    []ClientConfig `json:"clients" yaml:"clients"`
	RulesPath  string         `json:"rulesPath" yaml:"rulesPath"` // optional seed directory
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`           // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath"` // file path, "stdout" or "stderr"
	Encoding   string `json:"encoding" yaml:"encoding"`     // json or console
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Address        string `json:"address" yaml:"address"`
	Path           string `json:"path" yaml:"path"`
	UpdateInterval string `json:"updateInterval" yaml:"updateInterval"` // Duration string
}

type HTTPConfig struct {
	Address string `json:"address" yaml:"address"`
}

type ProcConfig struct {
	// MaxCascadeDepth bounds how many hops of synthetic readings may
	// themselves trigger rule evaluation. 0 keeps cascades single-hop.
	MaxCascadeDepth int `json:"maxCascadeDepth" yaml:"maxCascadeDepth"`
}

type WebHookConfig struct {
	Timeout string `json:"timeout" yaml:"timeout"` // Duration string
}

type StorageConfig struct {
	Readings ReadingStoreConfig `json:"readings" yaml:"readings"`
	Rules    RuleStoreConfig    `json:"rules" yaml:"rules"`
}

type ReadingStoreConfig struct {
	Backend string      `json:"backend" yaml:"backend"` // memory or redis
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type RuleStoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // memory or sqlite
	DSN     string `json:"dsn" yaml:"dsn"`
}

type BrokerConfig struct {
	Type        string     `json:"type" yaml:"type"` // none, mqtt or nats
	TopicPrefix string     `json:"topicPrefix" yaml:"topicPrefix"`
	MQTT        MQTTConfig `json:"mqtt" yaml:"mqtt"`
	NATS        NATSConfig `json:"nats" yaml:"nats"`
}

type MQTTConfig struct {
	Broker   string    `json:"broker" yaml:"broker"`
	ClientID string    `json:"clientId" yaml:"clientId"`
	Username string    `json:"username" yaml:"username"`
	Password string    `json:"password" yaml:"password"`
	QoS      byte      `json:"qos" yaml:"qos"`
	TLS      TLSConfig `json:"tls" yaml:"tls"`
}

type NATSConfig struct {
	URLs     []string  `json:"urls" yaml:"urls"`
	ClientID string    `json:"clientId" yaml:"clientId"`
	Username string    `json:"username" yaml:"username"`
	Password string    `json:"password" yaml:"password"`
	TLS      TLSConfig `json:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enable   bool   `json:"enable" yaml:"enable"`
	CertFile string `json:"certFile" yaml:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile"`
	CAFile   string `json:"caFile" yaml:"caFile"`
}

// ClientConfig describes an API client allowed to submit readings and manage rules
type ClientConfig struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	APIKey  string   `json:"apiKey" yaml:"apiKey"`
	Roles   []string `json:"roles" yaml:"roles"`
	Devices []string `json:"devices" yaml:"devices"`
}

// Backend and broker identifiers
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	BrokerNone = "none"
	BrokerMQTT = "mqtt"
	BrokerNATS = "nats"

	RoleAdmin = "admin"
)

// IsAdmin reports whether the client carries the admin role
func (c ClientConfig) IsAdmin() bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, RoleAdmin) {
			return true
		}
	}
	return false
}

// OwnsDevice reports whether the client may access the given device
func (c ClientConfig) OwnsDevice(deviceID string) bool {
	for _, d := range c.Devices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are decoded as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults fills in every optional value left empty
func (c *Config) setDefaults() {
	// Set defaults for logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.OutputPath == "" {
		c.Logging.OutputPath = "stdout"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}

	// Set defaults for metrics
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":2112"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.UpdateInterval == "" {
		c.Metrics.UpdateInterval = "15s"
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.WebHook.Timeout == "" {
		c.WebHook.Timeout = "10s"
	}

	// Set defaults for storage
	if c.Storage.Readings.Backend == "" {
		c.Storage.Readings.Backend = BackendMemory
	}
	if c.Storage.Readings.Redis.KeyPrefix == "" {
		c.Storage.Readings.Redis.KeyPrefix = "readings:"
	}
	if c.Storage.Rules.Backend == "" {
		c.Storage.Rules.Backend = BackendMemory
	}
	if c.Storage.Rules.Backend == BackendSQLite && c.Storage.Rules.DSN == "" {
		c.Storage.Rules.DSN = "rules.db"
	}

	// Set defaults for broker
	if c.Broker.Type == "" {
		c.Broker.Type = BrokerNone
	}
	if c.Broker.TopicPrefix == "" {
		c.Broker.TopicPrefix = "iot"
	}
	if c.Broker.MQTT.ClientID == "" {
		c.Broker.MQTT.ClientID = "rule-broker"
	}
	if c.Broker.NATS.ClientID == "" {
		c.Broker.NATS.ClientID = "rule-broker"
	}
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	// Validate metrics config
	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
	}

	if _, err := time.ParseDuration(cfg.WebHook.Timeout); err != nil {
		return fmt.Errorf("invalid webhook timeout: %w", err)
	}

	// Validate processing config
	if cfg.Processing.MaxCascadeDepth < 0 {
		return fmt.Errorf("max cascade depth cannot be negative")
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}

	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}

	return validateClients(cfg.Clients)
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Readings.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Readings.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis reading store")
		}
	default:
		return fmt.Errorf("invalid reading store backend: %s", cfg.Readings.Backend)
	}

	switch cfg.Rules.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("invalid rule store backend: %s", cfg.Rules.Backend)
	}

	return nil
}

func validateBroker(cfg *BrokerConfig) error {
	switch cfg.Type {
	case BrokerNone:
		return nil
	case BrokerMQTT:
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker address is required")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1, or 2")
		}
		return validateTLS("mqtt", cfg.MQTT.TLS)
	case BrokerNATS:
		if len(cfg.NATS.URLs) == 0 {
			return fmt.Errorf("at least one nats url is required")
		}
		return validateTLS("nats", cfg.NATS.TLS)
	default:
		return fmt.Errorf("invalid broker type: %s", cfg.Type)
	}
}

// validateTLS checks TLS settings when TLS is enabled
func validateTLS(kind string, tls TLSConfig) error {
	if !tls.Enable {
		return nil
	}
	if tls.CertFile == "" {
		return fmt.Errorf("%s tls cert file is required when tls is enabled", kind)
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("%s tls key file is required when tls is enabled", kind)
	}
	if tls.CAFile == "" {
		return fmt.Errorf("%s tls ca file is required when tls is enabled", kind)
	}
	return nil
}

func validateClients(clients []ClientConfig) error {
	seenIDs := make(map[string]struct{}, len(clients))
	seenKeys := make(map[string]struct{}, len(clients))

	for i, c := range clients {
		if c.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
		if c.APIKey == "" {
			return fmt.Errorf("clients[%d]: api key is required", i)
		}
		if _, dup := seenIDs[c.ID]; dup {
			return fmt.Errorf("clients[%d]: duplicate client id %s", i, c.ID)
		}
		if _, dup := seenKeys[c.APIKey]; dup {
			return fmt.Errorf("clients[%d]: duplicate api key", i)
		}
		seenIDs[c.ID] = struct{}{}
		seenKeys[c.APIKey] = struct{}{}
	}

	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(httpAddr, metricsAddr, metricsPath string, metricsInterval time.Duration, maxCascadeDepth int) {
	if httpAddr != "" {
		c.HTTP.Address = httpAddr
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
	if metricsInterval > 0 {
		c.Metrics.UpdateInterval = metricsInterval.String()
	}
	if maxCascadeDepth >= 0 {
		c.Processing.MaxCascadeDepth = maxCascadeDepth
	}
}

// WebHookTimeout returns the parsed outbound webhook timeout
func (c *Config) WebHookTimeout() time.Duration {
	d, err := time.ParseDuration(c.WebHook.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
