package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HubConfig contains the device protocol server settings.
type HubConfig struct {
	// Host and Port form the TCP listen address for device connections.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DataDir is the directory holding the registry snapshot tables and
	// the per-device image store. Created on startup if absent.
	DataDir string `yaml:"data_dir"`

	// AttestationFile is the path to the trusted client reference,
	// a single line of the form "name:size". Unreadable at startup is fatal.
	AttestationFile string `yaml:"attestation_file"`

	// SnapshotInterval is the period, in seconds, between registry
	// snapshots written by the background scheduler.
	SnapshotInterval int `yaml:"snapshot_interval"`

	// SnapshotInitialDelay is the delay, in seconds, before the first
	// scheduled snapshot after startup.
	SnapshotInitialDelay int `yaml:"snapshot_initial_delay"`

	// ShutdownWait is the maximum time, in seconds, to wait for active
	// connections and an in-flight snapshot during shutdown.
	ShutdownWait int `yaml:"shutdown_wait"`
}

// DatabaseConfig contains SQLite database settings for the telemetry history.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker is an optional telemetry sink; the hub never subscribes.
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB time-series settings.
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
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_HUB_PORT, GRAYLOGIC_DATABASE_PATH
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
		Hub: HubConfig{
			Host:                 "0.0.0.0",
			Port:                 12345,
			DataDir:              "./data/hub",
			AttestationFile:      "./data/attestation.ref",
			SnapshotInterval:     30,
			SnapshotInitialDelay: 10,
			ShutdownWait:         10,
		},
		Database: DatabaseConfig{
			Path:        "./data/hub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("GRAYLOGIC_HUB_HOST"); v != "" {
		cfg.Hub.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_HUB_DATA_DIR"); v != "" {
		cfg.Hub.DataDir = v
	}
	if v := os.Getenv("GRAYLOGIC_HUB_ATTESTATION_FILE"); v != "" {
		cfg.Hub.AttestationFile = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Hub validation
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, fmt.Sprintf("hub.port must be 1-65535, got %d", c.Hub.Port))
	}
	if c.Hub.DataDir == "" {
		errs = append(errs, "hub.data_dir is required")
	}
	if c.Hub.AttestationFile == "" {
		errs = append(errs, "hub.attestation_file is required")
	}
	if c.Hub.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Sprintf("hub.snapshot_interval must be positive, got %d", c.Hub.SnapshotInterval))
	}
	if c.Hub.SnapshotInitialDelay < 0 {
		errs = append(errs, fmt.Sprintf("hub.snapshot_initial_delay must not be negative, got %d", c.Hub.SnapshotInitialDelay))
	}
	if c.Hub.ShutdownWait <= 0 {
		errs = append(errs, fmt.Sprintf("hub.shutdown_wait must be positive, got %d", c.Hub.ShutdownWait))
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, fmt.Sprintf("database.busy_timeout must not be negative, got %d", c.Database.BusyTimeout))
	}

	// MQTT validation (only when the sink is enabled)
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mqtt.broker.port must be 1-65535, got %d", c.MQTT.Broker.Port))
		}
		if c.MQTT.Broker.ClientID == "" {
			errs = append(errs, "mqtt.broker.client_id is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS))
		}
	}

	// InfluxDB validation (only when the sink is enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
