package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the intercom core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station     StationConfig     `yaml:"station"`
	SIP         SIPConfig         `yaml:"sip"`
	DTMF        DTMFConfig        `yaml:"dtmf"`
	Actuator    ActuatorConfig    `yaml:"actuator"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// StationConfig identifies this door station on the bus and in telemetry.
type StationConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SIPConfig contains call server and account settings.
type SIPConfig struct {
	Server    SIPServerConfig `yaml:"server"`
	LocalPort int             `yaml:"local_port"`
	Username  string          `yaml:"username"`
	Domain    string          `yaml:"domain"`
	Password  string          `yaml:"password"`
	// Callee is the SIP user or URI dialled when the doorbell is pressed.
	Callee    string `yaml:"callee"`
	UserAgent string `yaml:"user_agent"`

	// Expires is the binding lifetime requested in REGISTER (seconds).
	Expires int `yaml:"expires"`

	// RegisterInterval is the fixed re-registration period (seconds).
	RegisterInterval int `yaml:"register_interval"`

	// RegisterTimeout bounds a single REGISTER transaction (seconds).
	RegisterTimeout int `yaml:"register_timeout"`

	// CallTimeout bounds how long an outbound call may ring (seconds).
	CallTimeout int `yaml:"call_timeout"`
}

// SIPServerConfig is the call server address.
type SIPServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`
}

// DTMFConfig contains the tone routing table.
type DTMFConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Mappings []DTMFMappingConfig `yaml:"mappings"`
}

// DTMFMappingConfig maps one tone to a command.
type DTMFMappingConfig struct {
	Tone    string `yaml:"tone"`
	Command string `yaml:"command"`
	Param   uint32 `yaml:"param"`
	Enabled bool   `yaml:"enabled"`
}

// ActuatorConfig contains relay driver and interlock settings.
type ActuatorConfig struct {
	// Driver selects the relay backend: "gpio", "mqtt" or "memory".
	Driver string `yaml:"driver"`

	Door  RelayConfig `yaml:"door"`
	Light RelayConfig `yaml:"light"`

	DoorPulseMS int              `yaml:"door_pulse_ms"`
	CooldownMS  int              `yaml:"cooldown_ms"`
	AutoHangup  AutoHangupConfig `yaml:"auto_hangup"`
}

// RelayConfig addresses a single relay for whichever driver is active.
type RelayConfig struct {
	// Pin is the periph.io pin name (e.g. "GPIO23") for the gpio driver.
	Pin string `yaml:"pin"`
	// ActiveLow inverts the output level.
	ActiveLow bool `yaml:"active_low"`
	// Address is the bridge address used by the mqtt driver.
	Address string `yaml:"address"`
}

// AutoHangupConfig controls termination of the call after a door opening.
type AutoHangupConfig struct {
	Enabled bool `yaml:"enabled"`
	DelayMS int  `yaml:"delay_ms"`
}

// CoordinatorConfig contains state coordination settings.
type CoordinatorConfig struct {
	// LockTimeoutMS bounds how long a caller waits for the state lock.
	LockTimeoutMS int `yaml:"lock_timeout_ms"`
	// EventBuffer is the size of the notification queue.
	EventBuffer int `yaml:"event_buffer"`
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains WebSocket server settings.
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file output settings.
// Used when Output is "file" or "both".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the control API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Validation limits for the door station hardware and account.
const (
	minUsernameLength = 3
	maxUsernameLength = 31
	minPulseMS        = 100
	maxPulseMS        = 10000
	minHangupDelayMS  = 1
	maxHangupDelayMS  = 60000
	maxDTMFMappings   = 12
	minJWTSecret      = 32
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INTERCOM_SECTION_KEY
// For example: INTERCOM_SIP_PASSWORD, INTERCOM_DATABASE_PATH
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

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Station: StationConfig{
			ID:   "door-001",
			Name: "Front Door",
		},
		SIP: SIPConfig{
			Server: SIPServerConfig{
				Port:      5060,
				Transport: "udp",
			},
			LocalPort:        5060,
			UserAgent:        "GrayLogic-Intercom/1.0",
			Expires:          3600,
			RegisterInterval: 1800,
			RegisterTimeout:  32,
			CallTimeout:      30,
		},
		DTMF: DTMFConfig{
			Enabled: true,
		},
		Actuator: ActuatorConfig{
			Driver:      "memory",
			Door:        RelayConfig{Pin: "GPIO23", Address: "door"},
			Light:       RelayConfig{Pin: "GPIO24", Address: "light"},
			DoorPulseMS: 500,
			CooldownMS:  5000,
			AutoHangup: AutoHangupConfig{
				Enabled: true,
				DelayMS: 5000,
			},
		},
		Coordinator: CoordinatorConfig{
			LockTimeoutMS: 100,
			EventBuffer:   64,
		},
		Database: DatabaseConfig{
			Path:        "./data/intercom.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "intercom-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
			File: FileLoggingConfig{
				Path:       "./logs/intercom.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets should always arrive this way rather than through the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTERCOM_SIP_HOST"); v != "" {
		cfg.SIP.Server.Host = v
	}
	if v := os.Getenv("INTERCOM_SIP_USERNAME"); v != "" {
		cfg.SIP.Username = v
	}
	if v := os.Getenv("INTERCOM_SIP_PASSWORD"); v != "" {
		cfg.SIP.Password = v
	}
	if v := os.Getenv("INTERCOM_SIP_CALLEE"); v != "" {
		cfg.SIP.Callee = v
	}
	if v := os.Getenv("INTERCOM_ACTUATOR_DRIVER"); v != "" {
		cfg.Actuator.Driver = v
	}
	if v := os.Getenv("INTERCOM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("INTERCOM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INTERCOM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INTERCOM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("INTERCOM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("INTERCOM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INTERCOM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Station.ID == "" {
		errs = append(errs, "station.id is required")
	}

	errs = append(errs, c.SIP.validate()...)
	errs = append(errs, c.DTMF.validate()...)
	errs = append(errs, c.Actuator.validate()...)

	if c.Coordinator.LockTimeoutMS <= 0 {
		errs = append(errs, "coordinator.lock_timeout_ms must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The control API opens a door, so an empty or short secret is refused.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set INTERCOM_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecret {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s SIPConfig) validate() []string {
	var errs []string

	if s.Server.Host == "" {
		errs = append(errs, "sip.server.host is required")
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, "sip.server.port must be between 1 and 65535")
	}
	if t := strings.ToLower(s.Server.Transport); t != "udp" {
		errs = append(errs, fmt.Sprintf("sip.server.transport %q is not supported (udp only)", s.Server.Transport))
	}
	if s.LocalPort < 0 || s.LocalPort > 65535 {
		errs = append(errs, "sip.local_port must be between 0 and 65535")
	}
	if n := len(s.Username); n < minUsernameLength || n > maxUsernameLength {
		errs = append(errs, "sip.username must be 3-31 characters")
	}
	if s.Domain == "" {
		errs = append(errs, "sip.domain is required")
	}
	if s.Password == "" {
		errs = append(errs, "sip.password is required (set INTERCOM_SIP_PASSWORD environment variable)")
	}
	if s.RegisterInterval <= 0 {
		errs = append(errs, "sip.register_interval must be positive")
	}
	if s.RegisterTimeout <= 0 {
		errs = append(errs, "sip.register_timeout must be positive")
	}
	if s.CallTimeout <= 0 {
		errs = append(errs, "sip.call_timeout must be positive")
	}

	return errs
}

func (d DTMFConfig) validate() []string {
	var errs []string

	if len(d.Mappings) > maxDTMFMappings {
		errs = append(errs, "dtmf.mappings supports at most 12 entries")
	}
	for i, m := range d.Mappings {
		if len(m.Tone) != 1 || !strings.Contains("0123456789*#", m.Tone) {
			errs = append(errs, fmt.Sprintf("dtmf.mappings[%d].tone %q must be one of 0-9, * or #", i, m.Tone))
		}
		if m.Command == "" {
			errs = append(errs, fmt.Sprintf("dtmf.mappings[%d].command is required", i))
		}
	}

	return errs
}

func (a ActuatorConfig) validate() []string {
	var errs []string

	switch strings.ToLower(a.Driver) {
	case "gpio":
		if a.Door.Pin == "" || a.Light.Pin == "" {
			errs = append(errs, "actuator.door.pin and actuator.light.pin are required for the gpio driver")
		}
	case "mqtt":
		if a.Door.Address == "" || a.Light.Address == "" {
			errs = append(errs, "actuator.door.address and actuator.light.address are required for the mqtt driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("actuator.driver %q must be gpio, mqtt or memory", a.Driver))
	}

	if a.DoorPulseMS < minPulseMS || a.DoorPulseMS > maxPulseMS {
		errs = append(errs, "actuator.door_pulse_ms must be between 100 and 10000")
	}
	if a.CooldownMS <= 0 {
		errs = append(errs, "actuator.cooldown_ms must be positive")
	}
	if a.AutoHangup.Enabled && (a.AutoHangup.DelayMS < minHangupDelayMS || a.AutoHangup.DelayMS > maxHangupDelayMS) {
		errs = append(errs, "actuator.auto_hangup.delay_ms must be between 1 and 60000")
	}

	return errs
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

// RegisterIntervalDuration returns the re-registration period.
func (s SIPConfig) RegisterIntervalDuration() time.Duration {
	return time.Duration(s.RegisterInterval) * time.Second
}

// RegisterTimeoutDuration returns the REGISTER transaction timeout.
func (s SIPConfig) RegisterTimeoutDuration() time.Duration {
	return time.Duration(s.RegisterTimeout) * time.Second
}

// CallTimeoutDuration returns the outbound call ring timeout.
func (s SIPConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(s.CallTimeout) * time.Second
}

// DoorPulse returns the default door strike pulse length.
func (a ActuatorConfig) DoorPulse() time.Duration {
	return time.Duration(a.DoorPulseMS) * time.Millisecond
}

// Cooldown returns the relay protection window.
func (a ActuatorConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownMS) * time.Millisecond
}

// AutoHangupDelay returns the delay between a door opening and call termination.
func (a ActuatorConfig) AutoHangupDelay() time.Duration {
	return time.Duration(a.AutoHangup.DelayMS) * time.Millisecond
}

// LockTimeout returns the bounded state lock acquisition time.
func (c CoordinatorConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}
