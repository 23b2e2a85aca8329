package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ctrlgraph.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Bus       BusConfig       `yaml:"bus"`
	Session   SessionConfig   `yaml:"session"`
	Registry  RegistryConfig  `yaml:"registry"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Hub       HubConfig       `yaml:"hub"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains subscription transport settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"` // seconds
	PongTimeout    int    `yaml:"pong_timeout"`  // seconds
}

// BusConfig contains control-bus gateway connection settings.
// The gateway is reached over MQTT; request/response traffic and change
// events share one broker connection.
type BusConfig struct {
	Broker      BusBrokerConfig `yaml:"broker"`
	Auth        BusAuthConfig   `yaml:"auth"`
	TopicPrefix string          `yaml:"topic_prefix"`
	QoS         int             `yaml:"qos"`
	RPCTimeout  int             `yaml:"rpc_timeout"` // seconds, per bus round-trip
}

// BusBrokerConfig contains MQTT broker connection details.
type BusBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// BusAuthConfig contains MQTT authentication credentials.
type BusAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionConfig contains session validation settings. Tokens are JWTs
// issued by the external auth service; live sessions are checked against
// its Redis-compatible store on every request.
type SessionConfig struct {
	StoreAddr     string `yaml:"store_addr"`
	StorePassword string `yaml:"store_password"`
	StoreDB       int    `yaml:"store_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	JWTSecret     string `yaml:"jwt_secret"`
	StoreTimeout  int    `yaml:"store_timeout"` // seconds, per store round-trip
}

// RegistryConfig contains device resolution and reconnection settings.
type RegistryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`    // resolution attempt ceiling
	InitialBackoff int `yaml:"initial_backoff"` // milliseconds
	MaxBackoff     int `yaml:"max_backoff"`     // milliseconds
	IdleTTL        int `yaml:"idle_ttl"`        // seconds, handle eviction
}

// GatewayConfig contains per-operation execution settings.
type GatewayConfig struct {
	CallTimeout      int `yaml:"call_timeout"`      // seconds, per read/write/command
	TransientRetries int `yaml:"transient_retries"` // retries of transient bus faults
}

// HubConfig contains event subscription hub settings.
type HubConfig struct {
	SubscriberBuffer   int `yaml:"subscriber_buffer"`   // events buffered per subscriber
	ReregisterAttempts int `yaml:"reregister_attempts"` // re-arm ceiling after a bus fault
	ReregisterBackoff  int `yaml:"reregister_backoff"`  // milliseconds, between re-arm attempts
}

// AuditConfig contains the mutation audit trail settings.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// TelemetryConfig contains the optional InfluxDB attribute telemetry sink.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CTRLGRAPH_SECTION_KEY
// For example: CTRLGRAPH_BUS_HOST, CTRLGRAPH_SESSION_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5004,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Bus: BusConfig{
			Broker: BusBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ctrlgraph",
			},
			TopicPrefix: "ctrlbus",
			QoS:         1,
			RPCTimeout:  5,
		},
		Session: SessionConfig{
			StoreAddr:    "localhost:6379",
			KeyPrefix:    "session:",
			StoreTimeout: 3,
		},
		Registry: RegistryConfig{
			MaxAttempts:    4,
			InitialBackoff: 100,
			MaxBackoff:     5000,
			IdleTTL:        600,
		},
		Gateway: GatewayConfig{
			CallTimeout:      10,
			TransientRetries: 2,
		},
		Hub: HubConfig{
			SubscriberBuffer:   64,
			ReregisterAttempts: 5,
			ReregisterBackoff:  500,
		},
		Audit: AuditConfig{
			Enabled:     true,
			Path:        "./data/ctrlgraph.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CTRLGRAPH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("CTRLGRAPH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CTRLGRAPH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Bus gateway
	if v := os.Getenv("CTRLGRAPH_BUS_HOST"); v != "" {
		cfg.Bus.Broker.Host = v
	}
	if v := os.Getenv("CTRLGRAPH_BUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bus.Broker.Port = port
		}
	}
	if v := os.Getenv("CTRLGRAPH_BUS_USERNAME"); v != "" {
		cfg.Bus.Auth.Username = v
	}
	if v := os.Getenv("CTRLGRAPH_BUS_PASSWORD"); v != "" {
		cfg.Bus.Auth.Password = v
	}

	// Session store
	if v := os.Getenv("CTRLGRAPH_SESSION_STORE_ADDR"); v != "" {
		cfg.Session.StoreAddr = v
	}
	if v := os.Getenv("CTRLGRAPH_SESSION_STORE_PASSWORD"); v != "" {
		cfg.Session.StorePassword = v
	}
	if v := os.Getenv("CTRLGRAPH_SESSION_JWT_SECRET"); v != "" {
		cfg.Session.JWTSecret = v
	}

	// Audit
	if v := os.Getenv("CTRLGRAPH_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}

	// Telemetry
	if v := os.Getenv("CTRLGRAPH_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
		errs = append(errs, "bus.qos must be 0, 1, or 2")
	}
	if c.Bus.TopicPrefix == "" {
		errs = append(errs, "bus.topic_prefix is required")
	} else if strings.ContainsAny(c.Bus.TopicPrefix, "+#/") {
		errs = append(errs, "bus.topic_prefix must be a single topic level")
	}

	if c.Session.StoreAddr == "" {
		errs = append(errs, "session.store_addr is required")
	}

	// Tokens signed with a guessable secret would let anyone operate
	// physical instruments through this bridge.
	const minJWTSecretLength = 32
	if c.Session.JWTSecret == "" {
		errs = append(errs, "session.jwt_secret is required (set CTRLGRAPH_SESSION_JWT_SECRET environment variable)")
	} else if len(c.Session.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "session.jwt_secret must be at least 32 characters")
	}

	if c.Registry.MaxAttempts < 1 {
		errs = append(errs, "registry.max_attempts must be at least 1")
	}
	if c.Hub.SubscriberBuffer < 1 {
		errs = append(errs, "hub.subscriber_buffer must be at least 1")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required when audit is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.URL == "" {
		errs = append(errs, "telemetry.url is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Timeout returns the bus round-trip timeout as a Duration.
func (c BusConfig) Timeout() time.Duration {
	return time.Duration(c.RPCTimeout) * time.Second
}

// Timeout returns the session store round-trip timeout as a Duration.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.StoreTimeout) * time.Second
}
