package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Evolution EvolutionConfig `json:"evolution"`
	Worker    WorkerConfig    `json:"worker"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// EvolutionConfig tunes admission control and locking for the orchestrator.
type EvolutionConfig struct {
	RateLimit          int `json:"rate_limit"`
	RateWindowSeconds  int `json:"rate_window_seconds"`
	LockTTLSeconds     int `json:"lock_ttl_seconds"`
	LockMaxRetries     int `json:"lock_max_retries"`
	RenewSeconds       int `json:"renew_seconds"`
	AuditTailSize      int `json:"audit_tail_size"`
	AuditRetentionDays int `json:"audit_retention_days"`
	CacheTTLSeconds    int `json:"cache_ttl_seconds"`
}

// WorkerConfig tunes the background loops.
type WorkerConfig struct {
	QueueName            string `json:"queue_name"`
	DrainBatchSize       int    `json:"drain_batch_size"`
	DrainIntervalSeconds int    `json:"drain_interval_seconds"`
	DecayIntervalMinutes int    `json:"decay_interval_minutes"`
	PurgeIntervalMinutes int    `json:"purge_interval_minutes"`
}

// RateWindow returns the rate window as a duration, defaulting to a minute.
func (c EvolutionConfig) RateWindow() time.Duration {
	if c.RateWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Evolution.RateLimit == 0 {
		c.Evolution.RateLimit = 10
	}
	if c.Evolution.LockTTLSeconds == 0 {
		c.Evolution.LockTTLSeconds = 30
	}
	if c.Evolution.LockMaxRetries == 0 {
		c.Evolution.LockMaxRetries = 5
	}
	if c.Evolution.RenewSeconds == 0 {
		c.Evolution.RenewSeconds = 20
	}
	if c.Evolution.AuditTailSize == 0 {
		c.Evolution.AuditTailSize = 10
	}
	if c.Evolution.AuditRetentionDays == 0 {
		c.Evolution.AuditRetentionDays = 90
	}
	if c.Evolution.CacheTTLSeconds == 0 {
		c.Evolution.CacheTTLSeconds = 300
	}
	if c.Worker.QueueName == "" {
		c.Worker.QueueName = "evolution"
	}
	if c.Worker.DrainBatchSize == 0 {
		c.Worker.DrainBatchSize = 50
	}
	if c.Worker.DrainIntervalSeconds == 0 {
		c.Worker.DrainIntervalSeconds = 5
	}
	if c.Worker.DecayIntervalMinutes == 0 {
		c.Worker.DecayIntervalMinutes = 10
	}
	if c.Worker.PurgeIntervalMinutes == 0 {
		c.Worker.PurgeIntervalMinutes = 60
	}
}
