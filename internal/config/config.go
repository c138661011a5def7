// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Relevance store configuration
	Database DatabaseConfig `yaml:"database"`
	Store    StoreConfig    `yaml:"store"`

	// Session event stream
	Kafka KafkaConfig `yaml:"kafka"`

	// Session loading
	Load LoadConfig `yaml:"load"`

	// Train/test split
	Split SplitConfig `yaml:"split"`

	// Ranking
	Ranking RankingConfig `yaml:"ranking"`

	// Metrics export and evaluation history
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL            string `envconfig:"CLICKRANK_DATABASE_URL" yaml:"url"`
	MigrateOnStart bool   `envconfig:"CLICKRANK_MIGRATE_ON_START" yaml:"migrate_on_start"`
}

// StoreConfig selects the relevance store backend.
type StoreConfig struct {
	Type string `envconfig:"CLICKRANK_STORE_TYPE" yaml:"type"`
}

// KafkaConfig holds the session event topic settings.
type KafkaConfig struct {
	Brokers  string `envconfig:"CLICKRANK_KAFKA_BROKERS" yaml:"brokers"`
	Topic    string `envconfig:"CLICKRANK_KAFKA_TOPIC" yaml:"topic"`
	Version  string `envconfig:"CLICKRANK_KAFKA_VERSION" yaml:"version"`
	ClientID string `envconfig:"CLICKRANK_KAFKA_CLIENT_ID" yaml:"client_id"`
}

// LoadConfig holds session loading settings.
type LoadConfig struct {
	Normalise           bool    `envconfig:"CLICKRANK_NORMALISE" yaml:"normalise"`
	MinSessionsPerQuery int     `envconfig:"CLICKRANK_MIN_SESSIONS_PER_QUERY" yaml:"min_sessions_per_query"` // 0 = disabled
	InsertRate          float64 `envconfig:"CLICKRANK_INSERT_RATE" yaml:"insert_rate"`                       // inserts/second, 0 = unlimited
}

// SplitConfig holds train/test split settings.
type SplitConfig struct {
	TestFraction float64 `envconfig:"CLICKRANK_TEST_FRACTION" yaml:"test_fraction"`
	Seed         uint64  `envconfig:"CLICKRANK_SPLIT_SEED" yaml:"seed"`
}

// RankingConfig holds ranker settings.
type RankingConfig struct {
	CacheSize int `envconfig:"CLICKRANK_RANKING_CACHE_SIZE" yaml:"cache_size"` // 0 = unbounded
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Persistence string `envconfig:"CLICKRANK_METRICS_PERSISTENCE" yaml:"persistence"`
	RedisURL    string `envconfig:"CLICKRANK_REDIS_URL" yaml:"redis_url"`
	Textfile    string `envconfig:"CLICKRANK_METRICS_TEXTFILE" yaml:"textfile"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"CLICKRANK_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"CLICKRANK_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"CLICKRANK_LOG_FILE" yaml:"file"`
}

// Override adjusts a loaded configuration before it is validated, e.g. from
// command-line flags.
type Override func(*Config)

// Load loads configuration from environment variables and optional config
// file, applies overrides and validates the result.
func Load(configPath string, overrides ...Override) (*Config, error) {
	// Set defaults first
	cfg := defaults()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Store = StoreConfig{
		Type: "memory",
	}

	cfg.Kafka = KafkaConfig{
		Brokers:  "localhost:9092",
		Topic:    "search-sessions",
		Version:  "2.8.0",
		ClientID: "clickrank",
	}

	cfg.Load = LoadConfig{
		Normalise:           false,
		MinSessionsPerQuery: 0,
		InsertRate:          0,
	}

	cfg.Split = SplitConfig{
		TestFraction: 0.25,
		Seed:         1,
	}

	cfg.Ranking = RankingConfig{
		CacheSize: 0,
	}

	cfg.Metrics = MetricsConfig{
		Persistence: "memory",
		RedisURL:    "redis://localhost:6379",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	validStores := map[string]bool{"memory": true, "postgres": true}
	if !validStores[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory or postgres)", c.Store.Type))
	}

	if c.Store.Type == "postgres" && c.Database.URL == "" {
		errs = append(errs, "database url is required for the postgres store")
	}

	if c.Database.MigrateOnStart && c.Database.URL == "" {
		errs = append(errs, "migrate_on_start requires a database url")
	}

	if c.Load.MinSessionsPerQuery < 0 {
		errs = append(errs, "min_sessions_per_query must not be negative")
	}

	if c.Load.InsertRate < 0 {
		errs = append(errs, "insert_rate must not be negative")
	}

	if c.Split.TestFraction < 0 || c.Split.TestFraction >= 1 {
		errs = append(errs, "test_fraction must be in [0, 1)")
	}

	if c.Ranking.CacheSize < 0 {
		errs = append(errs, "ranking cache_size must not be negative")
	}

	validPersistence := map[string]bool{"memory": true, "redis": true}
	if !validPersistence[c.Metrics.Persistence] {
		errs = append(errs, fmt.Sprintf("invalid metrics persistence: %s (must be memory or redis)", c.Metrics.Persistence))
	}

	if c.Metrics.Persistence == "redis" && c.Metrics.RedisURL == "" {
		errs = append(errs, "redis_url is required for redis metrics persistence")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
