package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "WORLD_FILE", "LOG_LEVEL", "FRONTEND_URL", "KAFKA_BROKERS", "MINIO_ENDPOINT", "STAGING_APPROVAL_TIMEOUT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/stage.db")
	t.Setenv("WORLD_FILE", "./data/world.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Staging.DefaultTTLHours)
	assert.Equal(t, time.Duration(0), cfg.Staging.ApprovalTimeout)
	assert.Equal(t, 5*time.Second, cfg.Staging.SweepInterval)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, 256, cfg.Queue.OutboxSize)
	assert.Equal(t, 30*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, "tablestage.events", cfg.Kafka.Topic)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STAGING_APPROVAL_TIMEOUT", "2m")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FRONTEND_URL", "https://table.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.Staging.ApprovalTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://table.example"}, cfg.AllowedOrigins())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:      "8080",
			DBPath:    "stage.db",
			WorldFile: "world.yaml",
			Staging:   StagingConfig{DefaultTTLHours: 3},
			Queue:     QueueConfig{Workers: 1, OutboxSize: 16},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db", func(c *Config) { c.DBPath = "" }},
		{"no world source", func(c *Config) { c.WorldFile = "" }},
		{"zero ttl", func(c *Config) { c.Staging.DefaultTTLHours = 0 }},
		{"negative timeout", func(c *Config) { c.Staging.ApprovalTimeout = -time.Second }},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"minio without keys", func(c *Config) { c.Minio.Endpoint = "minio:9000" }},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.WorldFile = ""
	c.Neo4j.URI = "neo4j://graph:7687"
	assert.NoError(t, c.Validate())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
