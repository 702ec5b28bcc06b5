package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic GDO bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Ryobi     RyobiConfig     `yaml:"ryobi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RyobiConfig contains the vendor cloud account and device settings.
type RyobiConfig struct {
	// APIURL is the base of the request/response API (login, device snapshot).
	APIURL string `yaml:"api_url"`

	// WSURL is the WebSocket JSON-RPC endpoint used for the live session.
	WSURL string `yaml:"ws_url"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// APIKey skips the login exchange when set. Password is still
	// required for snapshot requests.
	APIKey string `yaml:"api_key"`

	// DeviceID is the opener's varName. If empty, the first garage door
	// opener on the account is used.
	DeviceID string `yaml:"device_id"`

	// HTTPTimeout is the request timeout for login and snapshot calls (seconds).
	HTTPTimeout int `yaml:"http_timeout"`

	Session SessionConfig `yaml:"session"`
}

// SessionConfig contains the live session retry and timeout settings.
type SessionConfig struct {
	// MaxRetries is the number of failed attempts tolerated before the
	// session stops for good. 0 disables the budget: the session retries
	// forever until stopped.
	MaxRetries int `yaml:"max_retries"`

	// IOTimeout bounds each dial, handshake read and write (seconds).
	IOTimeout int `yaml:"io_timeout"`

	// RetryDelay is the initial delay between attempts (seconds).
	RetryDelay int `yaml:"retry_delay"`

	// MaxRetryDelay caps the exponential backoff (seconds).
	MaxRetryDelay int `yaml:"max_retry_delay"`

	// PingInterval is how often keepalive pings are sent while connected (seconds).
	PingInterval int `yaml:"ping_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often bridge health is republished (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the local event relay.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
// Environment variables follow the pattern: GRAYLOGIC_GDO_SECTION_KEY
// For example: GRAYLOGIC_GDO_RYOBI_PASSWORD, GRAYLOGIC_GDO_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Ryobi: RyobiConfig{
			APIURL:      "https://tti.tiwiconnect.com/api",
			WSURL:       "wss://tti.tiwiconnect.com/api/wsrpc",
			HTTPTimeout: 10,
			Session: SessionConfig{
				MaxRetries:    10,
				IOTimeout:     10,
				RetryDelay:    2,
				MaxRetryDelay: 120,
				PingInterval:  30,
			},
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-gdo",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_GDO_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Ryobi account
	if v := os.Getenv("GRAYLOGIC_GDO_RYOBI_USERNAME"); v != "" {
		cfg.Ryobi.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_RYOBI_PASSWORD"); v != "" {
		cfg.Ryobi.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_RYOBI_API_KEY"); v != "" {
		cfg.Ryobi.APIKey = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_RYOBI_DEVICE_ID"); v != "" {
		cfg.Ryobi.DeviceID = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_RYOBI_WS_URL"); v != "" {
		cfg.Ryobi.WSURL = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_SESSION_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ryobi.Session.MaxRetries = n
		}
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_GDO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_GDO_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_GDO_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_GDO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Ryobi account. The snapshot endpoint authenticates with the password
	// even when an API key is preset, so both are always needed.
	if c.Ryobi.Username == "" {
		errs = append(errs, "ryobi.username is required (set GRAYLOGIC_GDO_RYOBI_USERNAME)")
	}
	if c.Ryobi.Password == "" {
		errs = append(errs, "ryobi.password is required (set GRAYLOGIC_GDO_RYOBI_PASSWORD)")
	}
	if u, err := url.Parse(c.Ryobi.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "ryobi.ws_url must be a ws:// or wss:// URL")
	}
	if u, err := url.Parse(c.Ryobi.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "ryobi.api_url must be an http:// or https:// URL")
	}

	s := c.Ryobi.Session
	if s.MaxRetries < 0 {
		errs = append(errs, "ryobi.session.max_retries must not be negative")
	}
	if s.IOTimeout <= 0 {
		errs = append(errs, "ryobi.session.io_timeout must be positive")
	}
	if s.RetryDelay < 0 || s.MaxRetryDelay < s.RetryDelay {
		errs = append(errs, "ryobi.session.max_retry_delay must be >= retry_delay >= 0")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetIOTimeout returns the per-attempt session I/O timeout.
func (c *Config) GetIOTimeout() time.Duration {
	return time.Duration(c.Ryobi.Session.IOTimeout) * time.Second
}

// GetRetryDelay returns the initial reconnect delay.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Ryobi.Session.RetryDelay) * time.Second
}

// GetMaxRetryDelay returns the reconnect backoff cap.
func (c *Config) GetMaxRetryDelay() time.Duration {
	return time.Duration(c.Ryobi.Session.MaxRetryDelay) * time.Second
}

// GetPingInterval returns the keepalive ping interval for the live session.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.Ryobi.Session.PingInterval) * time.Second
}

// GetHTTPTimeout returns the timeout for login and snapshot requests.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.Ryobi.HTTPTimeout) * time.Second
}

// GetHealthInterval returns the MQTT health publish interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
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
