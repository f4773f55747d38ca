package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fieldbus core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Bus       BusConfig       `yaml:"bus"`
	Transport TransportConfig `yaml:"transport"`
	Control   ControlConfig   `yaml:"control"`
	Audit     AuditConfig     `yaml:"audit"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// CatalogConfig points at the site model: device models, devices, rules and schedules.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains the ops HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the shared secret used to verify ops API bearer tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// SamplerConfig controls the cyclic device sampler.
type SamplerConfig struct {
	// Period is the target cycle length. A cycle that runs longer starts the
	// next one immediately and is reported as an overrun.
	Period time.Duration `yaml:"period"`

	// ReadTimeout bounds every single register read or write.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// BusConfig controls the in-process event bus.
type BusConfig struct {
	// QueueDepth is the per-subscriber inbound queue size.
	QueueDepth int `yaml:"queue_depth"`

	// Overflow is "drop_oldest" (default) or "block".
	Overflow string `yaml:"overflow"`
}

// TransportConfig controls how device I/O reaches the field bus.
type TransportConfig struct {
	// Mode selects the transport implementation. Only "simulator" ships in-tree;
	// hardware transports are provided by the deployment.
	Mode    string               `yaml:"mode"`
	Retry   TransportRetryConfig `yaml:"retry"`
	Breaker BreakerConfig        `yaml:"breaker"`
}

// TransportRetryConfig bounds retries of transient transport errors.
type TransportRetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// BreakerConfig configures the per-device circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	Interval            time.Duration `yaml:"interval"`
}

// ControlConfig holds control engine defaults.
type ControlConfig struct {
	// LockTTL is the priority lock lifetime for rules that do not set their own.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// AuditConfig controls the SQLite audit trail.
type AuditConfig struct {
	// Retention is how long audit rows are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDCORE_SECTION_KEY
// For example: FIELDCORE_DATABASE_PATH, FIELDCORE_SAMPLER_PERIOD
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Fieldbus Core",
			Timezone: "UTC",
		},
		Catalog: CatalogConfig{
			Path: "configs/site.yaml",
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fieldcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sampler: SamplerConfig{
			Period:      5 * time.Second,
			ReadTimeout: 500 * time.Millisecond,
		},
		Bus: BusConfig{
			QueueDepth: 64,
			Overflow:   "drop_oldest",
		},
		Transport: TransportConfig{
			Mode: "simulator",
			Retry: TransportRetryConfig{
				MaxRetries:      2,
				InitialInterval: 50 * time.Millisecond,
				MaxInterval:     500 * time.Millisecond,
			},
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
				Interval:            time.Minute,
			},
		},
		Control: ControlConfig{
			LockTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FIELDCORE_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	// Database
	if v := os.Getenv("FIELDCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FIELDCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FIELDCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FIELDCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("FIELDCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Sampler
	if v := os.Getenv("FIELDCORE_SAMPLER_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FIELDCORE_SAMPLER_PERIOD: %w", err)
		}
		cfg.Sampler.Period = d
	}

	if v := os.Getenv("FIELDCORE_BUS_QUEUE_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FIELDCORE_BUS_QUEUE_DEPTH: %w", err)
		}
		cfg.Bus.QueueDepth = n
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.Timezone != "" {
		if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("site.timezone %q is not a known zone", c.Site.Timezone))
		}
	}

	if c.Catalog.Path == "" {
		errs = append(errs, "catalog.path is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.validateRuntime()...)

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The ops API exposes live plant state; it never runs without a verifier secret.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.enabled (set FIELDCORE_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateRuntime checks the sampler, bus, transport and control sections.
func (c *Config) validateRuntime() []string {
	var errs []string

	if c.Sampler.Period <= 0 {
		errs = append(errs, "sampler.period must be positive")
	}
	if c.Sampler.ReadTimeout <= 0 {
		errs = append(errs, "sampler.read_timeout must be positive")
	}

	if c.Bus.QueueDepth < 1 {
		errs = append(errs, "bus.queue_depth must be at least 1")
	}
	switch c.Bus.Overflow {
	case "drop_oldest", "block":
	default:
		errs = append(errs, fmt.Sprintf("bus.overflow %q must be drop_oldest or block", c.Bus.Overflow))
	}

	if c.Transport.Mode != "simulator" {
		errs = append(errs, fmt.Sprintf("transport.mode %q is not supported", c.Transport.Mode))
	}
	if c.Transport.Retry.MaxRetries < 0 {
		errs = append(errs, "transport.retry.max_retries cannot be negative")
	}
	if c.Transport.Breaker.Enabled && c.Transport.Breaker.ConsecutiveFailures < 1 {
		errs = append(errs, "transport.breaker.consecutive_failures must be at least 1")
	}

	if c.Control.LockTTL <= 0 {
		errs = append(errs, "control.lock_ttl must be positive")
	}
	if c.Audit.Retention < 0 {
		errs = append(errs, "audit.retention cannot be negative")
	}

	return errs
}

// Location returns the site time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Site.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReadTimeout returns the HTTP read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the HTTP write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the HTTP idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
