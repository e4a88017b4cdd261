package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Change feed drivers.
const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
	DriverRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	CORS       CORSConfig
	ChangeFeed ChangeFeedConfig
	Events     EventsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// ChangeFeedConfig selects and configures the inspection change-notification
// transport.
type ChangeFeedConfig struct {
	Driver           string
	Channel          string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ReplayID         int64
}

// EventsConfig controls the per-dashboard UI event backlog and how long a
// dashboard without connected clients stays mounted. An IdleTTL of zero
// keeps dashboards until they are deleted.
type EventsConfig struct {
	Backlog int
	IdleTTL time.Duration
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "inspections")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("CHANGEFEED_DRIVER", DriverMemory)
	v.SetDefault("CDC_CHANNEL", "/data/Property_Inspection__ChangeEvent")
	v.SetDefault("CDC_REPLAY_ID", -1)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC_PREFIX", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EVENT_BACKLOG", 100)
	v.SetDefault("DASHBOARD_IDLE_TTL", "30m")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseList(v.GetString("CORS_ORIGINS")),
		},
		ChangeFeed: ChangeFeedConfig{
			Driver:           strings.ToLower(strings.TrimSpace(v.GetString("CHANGEFEED_DRIVER"))),
			Channel:          v.GetString("CDC_CHANNEL"),
			ReplayID:         v.GetInt64("CDC_REPLAY_ID"),
			KafkaBrokers:     parseList(v.GetString("KAFKA_BROKERS")),
			KafkaTopicPrefix: v.GetString("KAFKA_TOPIC_PREFIX"),
			RedisAddr:        v.GetString("REDIS_ADDR"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
		},
		Events: EventsConfig{
			Backlog: v.GetInt("EVENT_BACKLOG"),
			IdleTTL: v.GetDuration("DASHBOARD_IDLE_TTL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if err := c.ChangeFeed.Validate(); err != nil {
		return err
	}

	if c.Events.Backlog < 1 {
		return fmt.Errorf("EVENT_BACKLOG must be at least 1")
	}
	if c.Events.IdleTTL < 0 {
		return fmt.Errorf("DASHBOARD_IDLE_TTL must be non-negative")
	}

	return nil
}

// Validate checks the driver-specific settings of the change feed.
func (c ChangeFeedConfig) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("CDC_CHANNEL is required")
	}
	if c.ReplayID < -2 {
		return fmt.Errorf("CDC_REPLAY_ID must be -1 (new events), -2 (all retained events) or a replay position")
	}

	switch c.Driver {
	case DriverMemory:
	case DriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when CHANGEFEED_DRIVER=kafka")
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CHANGEFEED_DRIVER=redis")
		}
	default:
		return fmt.Errorf("CHANGEFEED_DRIVER must be one of %s, %s, %s; got %q",
			DriverMemory, DriverKafka, DriverRedis, c.Driver)
	}
	return nil
}

// parseList splits a comma-separated string into a slice of trimmed,
// non-empty values.
func parseList(values string) []string {
	if values == "" {
		return []string{}
	}

	parts := strings.Split(values, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
