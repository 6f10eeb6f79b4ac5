package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported transport kinds.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config is the root configuration structure for devlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// EndpointConfig describes how to reach the device's broker and which topic
// namespaces it uses. It is consumed once at session construction.
type EndpointConfig struct {
	// Hosts and Ports are parallel candidate lists tried in order.
	Hosts []string `yaml:"hosts"`
	Ports []int    `yaml:"ports"`

	// Path selects a WebSocket endpoint (e.g. "/mqtt"). Empty means plain TCP.
	Path string `yaml:"path"`
	TLS  bool   `yaml:"tls"`

	// Timeout is the per-query timeout in seconds.
	Timeout int `yaml:"timeout"`

	Topics         TopicsConfig `yaml:"topics"`
	ClientIDPrefix string       `yaml:"client_id_prefix"`
}

// TopicsConfig holds the three topic namespace prefixes.
type TopicsConfig struct {
	Data    string `yaml:"data"`
	CmdReq  string `yaml:"cmd_req"`
	CmdResp string `yaml:"cmd_resp"`
}

// TransportConfig selects and tunes the pub/sub transport binding.
type TransportConfig struct {
	Kind      string          `yaml:"kind"`
	QoS       int             `yaml:"qos"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// AuthConfig contains broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig controls the transport's automatic reconnection.
type ReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
	// MaxAttempts limits consecutive reconnect attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// APIConfig contains HTTP gateway settings.
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

// WebSocketConfig contains WebSocket telemetry relay settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the telemetry recorder.
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval int      `yaml:"flush_interval"`
	Keys          []string `yaml:"keys"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SimulatorConfig drives the device simulator (cmd/devlink-sim).
type SimulatorConfig struct {
	TelemetryInterval int      `yaml:"telemetry_interval"`
	Keys              []string `yaml:"keys"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVLINK_SECTION_KEY
// For example: DEVLINK_ENDPOINT_HOSTS, DEVLINK_API_PORT
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
// Topic prefixes match the device firmware's namespace.
func defaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Hosts:   []string{"localhost"},
			Ports:   []int{1883},
			Timeout: 15,
			Topics: TopicsConfig{
				Data:    "data/picalor/core",
				CmdReq:  "cmd/picalor/core/req",
				CmdResp: "cmd/picalor/core/resp",
			},
			ClientIDPrefix: "devlink_",
		},
		Transport: TransportConfig{
			Kind: TransportMQTT,
			QoS:  1,
			Reconnect: ReconnectConfig{
				Enabled:      true,
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/devlink.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Simulator: SimulatorConfig{
			TelemetryInterval: 2,
			Keys:              []string{"results"},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVLINK_SECTION_KEY
// List values are comma-separated.
func applyEnvOverrides(cfg *Config) {
	// Endpoint
	if v := os.Getenv("DEVLINK_ENDPOINT_HOSTS"); v != "" {
		cfg.Endpoint.Hosts = splitList(v)
	}
	if v := os.Getenv("DEVLINK_ENDPOINT_PORTS"); v != "" {
		ports := make([]int, 0)
		for _, p := range splitList(v) {
			// Unparsable entries become 0 and are reported by Validate.
			n, _ := strconv.Atoi(p) //nolint:errcheck // validated later
			ports = append(ports, n)
		}
		cfg.Endpoint.Ports = ports
	}

	// Transport
	if v := os.Getenv("DEVLINK_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("DEVLINK_TRANSPORT_USERNAME"); v != "" {
		cfg.Transport.Auth.Username = v
	}
	if v := os.Getenv("DEVLINK_TRANSPORT_PASSWORD"); v != "" {
		cfg.Transport.Auth.Password = v
	}

	// API
	if v := os.Getenv("DEVLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DEVLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Endpoint validation
	if len(c.Endpoint.Hosts) == 0 {
		errs = append(errs, "endpoint.hosts must list at least one host")
	}
	if len(c.Endpoint.Hosts) != len(c.Endpoint.Ports) {
		errs = append(errs, "endpoint.hosts and endpoint.ports must have the same length")
	}
	for _, p := range c.Endpoint.Ports {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Sprintf("endpoint.ports entry %d must be between 1 and 65535", p))
		}
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, "endpoint.timeout must be positive")
	}
	if c.Endpoint.Topics.Data == "" || c.Endpoint.Topics.CmdReq == "" || c.Endpoint.Topics.CmdResp == "" {
		errs = append(errs, "endpoint.topics.data, cmd_req and cmd_resp are required")
	}

	// Transport validation
	switch c.Transport.Kind {
	case TransportMQTT, TransportNATS:
	default:
		errs = append(errs, fmt.Sprintf("transport.kind %q must be %q or %q", c.Transport.Kind, TransportMQTT, TransportNATS))
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		errs = append(errs, "transport.qos must be 0, 1, or 2")
	}
	if c.Transport.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "transport.reconnect.max_attempts must not be negative")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging validation
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// QueryTimeout returns the per-query timeout as a Duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Endpoint.Timeout) * time.Second
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
