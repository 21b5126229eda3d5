// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT"         envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH"      envDefault:"./data/stage.db"`
	WorldFile   string `env:"WORLD_FILE"   envDefault:"./data/world.yaml"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	Staging   StagingConfig
	Queue     QueueConfig
	Generator GeneratorConfig
	Neo4j     Neo4jConfig
	Kafka     KafkaConfig
	Minio     MinioConfig
	Telemetry TelemetryConfig
}

// StagingConfig tunes the approval workflow.
type StagingConfig struct {
	DefaultTTLHours int           `env:"DEFAULT_TTL_HOURS"        envDefault:"3"`
	ApprovalTimeout time.Duration `env:"STAGING_APPROVAL_TIMEOUT" envDefault:"0s"`
	SweepInterval   time.Duration `env:"STAGING_SWEEP_INTERVAL"   envDefault:"5s"`
}

// QueueConfig tunes action processing and client delivery.
type QueueConfig struct {
	Workers    int `env:"ACTION_QUEUE_WORKERS" envDefault:"1"`
	OutboxSize int `env:"OUTBOX_BUFFER"        envDefault:"256"`
}

// GeneratorConfig points at the remote proposal generator. An empty
// address means rule-only proposals.
type GeneratorConfig struct {
	Addr    string        `env:"GENERATOR_ADDR"`
	Timeout time.Duration `env:"GENERATOR_TIMEOUT" envDefault:"30s"`
}

// Neo4jConfig selects the graph world repository. An empty URI means the
// YAML catalog is used.
type Neo4jConfig struct {
	URI      string `env:"NEO4J_URI"`
	User     string `env:"NEO4J_USER"     envDefault:"neo4j"`
	Password string `env:"NEO4J_PASSWORD"`
	Database string `env:"NEO4J_DATABASE"`
}

// KafkaConfig enables the domain event stream.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC"   envDefault:"tablestage.events"`
}

// MinioConfig enables staging snapshot archiving.
type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"tablestage-stagings"`
	Secure    bool   `env:"MINIO_SECURE"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"tablestage"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Neo4j.URI == "" && c.WorldFile == "" {
		return fmt.Errorf("WORLD_FILE cannot be empty without NEO4J_URI")
	}
	if c.Staging.DefaultTTLHours <= 0 {
		return fmt.Errorf("DEFAULT_TTL_HOURS must be > 0")
	}
	if c.Staging.ApprovalTimeout < 0 {
		return fmt.Errorf("STAGING_APPROVAL_TIMEOUT cannot be negative")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("ACTION_QUEUE_WORKERS must be > 0")
	}
	if c.Queue.OutboxSize <= 0 {
		return fmt.Errorf("OUTBOX_BUFFER must be > 0")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set")
	}
	if c.Minio.Endpoint != "" && (c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
}
