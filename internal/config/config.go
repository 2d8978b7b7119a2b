package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration: defaults, overridden by an optional
// YAML file, overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Draw     DrawConfig     `yaml:"draw"`
	Nats     NatsConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type DrawConfig struct {
	RevealDelayMS int `yaml:"reveal_delay_ms"`
}

// RevealDelay returns the pause between lottery start and winner reveal.
func (c DrawConfig) RevealDelay() time.Duration {
	return time.Duration(c.RevealDelayMS) * time.Millisecond
}

type NatsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "tombola",
			SSLMode:  "disable",
		},
		Draw: DrawConfig{RevealDelayMS: 3000},
		Nats: NatsConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			StreamName:    "ROOM_EVENTS",
			SubjectPrefix: "room.events",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Draw.RevealDelayMS = getEnvAsInt("REVEAL_DELAY_MS", cfg.Draw.RevealDelayMS)
	cfg.Nats.Enabled = getEnvAsBool("NATS_ENABLED", cfg.Nats.Enabled)
	cfg.Nats.URL = getEnv("NATS_URL", cfg.Nats.URL)
	cfg.Nats.StreamName = getEnv("NATS_STREAM_NAME", cfg.Nats.StreamName)
	cfg.Nats.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.Nats.SubjectPrefix)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
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
