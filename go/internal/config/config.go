// Package config loads settings for the codeclash binaries from an optional YAML file, then
// lets environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Session  SessionConfig  `yaml:"session"`
	API      APIConfig      `yaml:"api"`
	Room     RoomConfig     `yaml:"room"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type SessionConfig struct {
	Transport   string        `yaml:"transport"` // websocket or nats
	Endpoint    string        `yaml:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	BufferSize  int           `yaml:"buffer_size"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RoomConfig struct {
	ID           string        `yaml:"id"`
	Nickname     string        `yaml:"nickname"`
	UserID       string        `yaml:"user_id"`
	Spectate     string        `yaml:"spectate"` // user id of the player to mirror, optional
	TickInterval time.Duration `yaml:"tick_interval"`
}

type GatewayConfig struct {
	Port    string `yaml:"port"`
	NATSURL string `yaml:"nats_url"` // empty runs a standalone gateway
}

// DatabaseConfig holds Postgres connection settings for the results archive. Archiving is off
// unless URL or Host is set.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Console: true},
		Session: SessionConfig{
			Transport:   TransportWebSocket,
			Endpoint:    "ws://localhost:8081/ws",
			DialTimeout: 10 * time.Second,
			BufferSize:  64,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 10 * time.Second,
		},
		Room: RoomConfig{TickInterval: time.Second},
		Gateway: GatewayConfig{
			Port: "8081",
		},
		Database: DatabaseConfig{
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "codeclash",
			SSLMode:  "disable",
		},
	}
}

// Load reads path (skipped when empty) over the defaults and applies environment overrides
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Console = getEnvAsBool("LOG_CONSOLE", c.Log.Console)

	c.Session.Transport = getEnv("CODECLASH_TRANSPORT", c.Session.Transport)
	c.Session.Endpoint = getEnv("CODECLASH_ENDPOINT", c.Session.Endpoint)
	c.Session.DialTimeout = getEnvAsDuration("CODECLASH_DIAL_TIMEOUT", c.Session.DialTimeout)
	c.Session.BufferSize = getEnvAsInt("CODECLASH_BUFFER_SIZE", c.Session.BufferSize)

	c.API.BaseURL = getEnv("CODECLASH_API_URL", c.API.BaseURL)
	c.API.Timeout = getEnvAsDuration("CODECLASH_API_TIMEOUT", c.API.Timeout)

	c.Room.ID = getEnv("CODECLASH_ROOM", c.Room.ID)
	c.Room.Nickname = getEnv("CODECLASH_NICKNAME", c.Room.Nickname)
	c.Room.UserID = getEnv("CODECLASH_USER_ID", c.Room.UserID)
	c.Room.Spectate = getEnv("CODECLASH_SPECTATE", c.Room.Spectate)

	c.Gateway.Port = getEnv("GATEWAY_PORT", c.Gateway.Port)
	c.Gateway.NATSURL = getEnv("NATS_URL", c.Gateway.NATSURL)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
}

// Validate checks settings shared by every binary
func (c *Config) Validate() error {
	var errs []error
	switch c.Session.Transport {
	case TransportWebSocket, TransportNATS:
	default:
		errs = append(errs, fmt.Errorf("unknown session transport %q", c.Session.Transport))
	}
	if c.Session.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("session buffer size must be positive, got %d", c.Session.BufferSize))
	}
	if c.Room.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.Room.TickInterval))
	}
	return errors.Join(errs...)
}

// Enabled reports whether a database is configured
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the Postgres connection URL
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
