package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// DefaultSQLiteDSN is the database file used by the sqlite driver when no dsn
// is given.
const DefaultSQLiteDSN = "netfirst.db"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig `yaml:"server"`
	Origin     string       `yaml:"origin"`
	Generation string       `yaml:"generation"`
	Store      StoreConfig  `yaml:"store"`
	Fetch      FetchConfig  `yaml:"fetch"`
	Log        LogConfig    `yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig selects and configures the snapshot store
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres or dynamodb
	DSN    string `yaml:"dsn"`    // sqlite file or postgres connection string

	TablePrefix string `yaml:"table_prefix"` // dynamodb only
	Region      string `yaml:"region"`       // dynamodb only
	Endpoint    string `yaml:"endpoint"`     // dynamodb only, e.g. a local emulator
}

// FetchConfig tunes the request interception
type FetchConfig struct {
	Methods      []string `yaml:"methods"`
	WriteTimeout string   `yaml:"write_timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.setDefaults()

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}

	if c.Store.Driver == DriverSQLite && c.Store.DSN == "" {
		c.Store.DSN = DefaultSQLiteDSN
	}

	if len(c.Fetch.Methods) == 0 {
		c.Fetch.Methods = []string{"GET"}
	}

	if c.Fetch.WriteTimeout == "" {
		c.Fetch.WriteTimeout = "30s"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// GetWriteTimeout parses and returns the snapshot write timeout
func (c *Config) GetWriteTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.WriteTimeout)
}

// Validate validates the configuration needed to serve
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}

	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin must be an absolute URL, got: %s", c.Origin)
	}

	if c.Generation == "" {
		return fmt.Errorf("generation is required")
	}

	if _, err := c.GetWriteTimeout(); err != nil {
		return fmt.Errorf("invalid write timeout format: %w", err)
	}

	return c.ValidateStore()
}

// ValidateStore validates only the store section, for commands that do not serve
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case DriverMemory, DriverDynamoDB:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store driver must be one of memory, sqlite, postgres, dynamodb, got: %s", c.Store.Driver)
	}

	return nil
}
