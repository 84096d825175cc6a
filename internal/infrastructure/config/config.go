package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint store backends.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// homekitPinPattern matches an 8-digit HomeKit setup code.
var homekitPinPattern = regexp.MustCompile(`^\d{8}$`)

// Config is the root configuration structure for Atag One Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	HomeKit   HomeKitConfig   `yaml:"homekit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig describes how to find and talk to the controller.
type DeviceConfig struct {
	// IPAddress pins the controller address. When empty the address comes
	// from the endpoint store or from discovery.
	IPAddress string `yaml:"ip_address"`

	// CacheEndpoint persists discovered endpoints and reads them back at
	// startup.
	CacheEndpoint bool `yaml:"cache_endpoint"`

	EndpointStore EndpointStoreConfig `yaml:"endpoint_store"`

	// DiscoveryAddress is the UDP address the announcement listener binds.
	DiscoveryAddress string `yaml:"discovery_address"`

	// HTTPTimeout bounds one request to the controller (seconds).
	HTTPTimeout int `yaml:"http_timeout"`

	// CacheWindow is how long a report is reused (seconds).
	CacheWindow int `yaml:"cache_window"`

	// PollInterval is how often the service refreshes the report (seconds).
	PollInterval int `yaml:"poll_interval"`

	Thermostat ThermostatConfig `yaml:"thermostat"`
}

// EndpointStoreConfig selects where the endpoint is persisted.
type EndpointStoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ThermostatConfig bounds the target temperature accepted from clients.
type ThermostatConfig struct {
	MinTarget float64 `yaml:"min_target"`
	MaxTarget float64 `yaml:"max_target"`
	Step      float64 `yaml:"step"`
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

	// HealthInterval is how often bridge health is published (seconds).
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// Measurement is the InfluxDB measurement reports are written to.
	Measurement string `yaml:"measurement"`
}

// HomeKitConfig contains the HomeKit accessory settings.
type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
	Port        int    `yaml:"port"`
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
// Environment variables follow the pattern: ATAGONE_SECTION_KEY
// For example: ATAGONE_DEVICE_IP, ATAGONE_MQTT_HOST
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

// Defaults returns the default configuration with environment overrides
// applied, for running without a config file.
func Defaults() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			CacheEndpoint: true,
			EndpointStore: EndpointStoreConfig{
				Backend: StoreBackendFile,
				Path:    "./data/device-config.json",
			},
			DiscoveryAddress: ":11000",
			HTTPTimeout:      10,
			CacheWindow:      5,
			PollInterval:     30,
			Thermostat: ThermostatConfig{
				MinTarget: 16,
				MaxTarget: 25,
				Step:      0.5,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/atagone.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "atagone-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		InfluxDB: InfluxDBConfig{
			Measurement: "atagone_report",
		},
		HomeKit: HomeKitConfig{
			Name:        "Atag One",
			Pin:         "00102003",
			StoragePath: "./data/homekit",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ATAGONE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("ATAGONE_DEVICE_IP"); v != "" {
		cfg.Device.IPAddress = v
	}

	// Database
	if v := os.Getenv("ATAGONE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ATAGONE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ATAGONE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ATAGONE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ATAGONE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ATAGONE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// HomeKit
	if v := os.Getenv("ATAGONE_HOMEKIT_PIN"); v != "" {
		cfg.HomeKit.Pin = v
	}

	// Logging
	if v := os.Getenv("ATAGONE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Device.validate()...)

	// Database validation
	if c.Device.EndpointStore.Backend == StoreBackendSQLite && c.Database.Path == "" {
		errs = append(errs, "database.path is required for the sqlite endpoint store")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.HealthInterval < 1 {
			errs = append(errs, "mqtt.health_interval must be at least 1 second")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
		if c.InfluxDB.Measurement == "" {
			errs = append(errs, "influxdb.measurement is required when influxdb is enabled")
		}
	}

	// HomeKit validation
	if c.HomeKit.Enabled {
		if !homekitPinPattern.MatchString(c.HomeKit.Pin) {
			errs = append(errs, "homekit.pin must be 8 digits")
		}
		if c.HomeKit.StoragePath == "" {
			errs = append(errs, "homekit.storage_path is required when homekit is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d DeviceConfig) validate() []string {
	var errs []string

	if d.IPAddress != "" && strings.ContainsAny(d.IPAddress, "/:") && net.ParseIP(d.IPAddress) == nil {
		errs = append(errs, "device.ip_address must be a bare IP address or host name")
	}

	switch d.EndpointStore.Backend {
	case StoreBackendFile:
		if d.EndpointStore.Path == "" {
			errs = append(errs, "device.endpoint_store.path is required for the file backend")
		}
	case StoreBackendSQLite:
	default:
		errs = append(errs, "device.endpoint_store.backend must be \"file\" or \"sqlite\"")
	}

	if _, _, err := net.SplitHostPort(d.DiscoveryAddress); err != nil {
		errs = append(errs, "device.discovery_address must be host:port")
	}
	if d.HTTPTimeout < 1 {
		errs = append(errs, "device.http_timeout must be at least 1 second")
	}
	if d.CacheWindow < 1 {
		errs = append(errs, "device.cache_window must be at least 1 second")
	}
	if d.PollInterval < 1 {
		errs = append(errs, "device.poll_interval must be at least 1 second")
	}

	t := d.Thermostat
	if t.MinTarget >= t.MaxTarget {
		errs = append(errs, "device.thermostat.min_target must be below max_target")
	}
	if t.Step <= 0 {
		errs = append(errs, "device.thermostat.step must be positive")
	}

	return errs
}

// GetHTTPTimeout returns the device request timeout as a Duration.
func (d DeviceConfig) GetHTTPTimeout() time.Duration {
	return time.Duration(d.HTTPTimeout) * time.Second
}

// GetCacheWindow returns the report cache window as a Duration.
func (d DeviceConfig) GetCacheWindow() time.Duration {
	return time.Duration(d.CacheWindow) * time.Second
}

// GetPollInterval returns the report poll interval as a Duration.
func (d DeviceConfig) GetPollInterval() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (m MQTTConfig) GetHealthInterval() time.Duration {
	return time.Duration(m.HealthInterval) * time.Second
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
