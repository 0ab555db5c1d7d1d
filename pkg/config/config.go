package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bot configuration
type Config struct {
	Discord    DiscordConfig    `mapstructure:"discord"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Server     ServerConfig     `mapstructure:"server"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Entry      EntryConfig      `mapstructure:"entry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Shutdown   ShutdownConfig   `mapstructure:"shutdown"`
}

// DiscordConfig contains chat-platform credentials and OAuth settings
type DiscordConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RedirectURI   string `mapstructure:"redirect_uri"`
	LinkBaseURL   string `mapstructure:"link_base_url"`
	SigningSecret string `mapstructure:"signing_secret"`
}

// BackendConfig contains the quest-platform API client settings
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// MongoConfig contains document-store connection settings
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig contains key-value store connection settings
type RedisConfig struct {
	URI string `mapstructure:"uri"`
}

// ServerConfig contains the operational HTTP server settings
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// ReconcilerConfig contains projection sweep settings
type ReconcilerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Jitter      time.Duration `mapstructure:"jitter"`
	Concurrency int           `mapstructure:"concurrency"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	FailureCap  time.Duration `mapstructure:"failure_cap"`
	MaxStale    time.Duration `mapstructure:"max_stale"`
	EndedGrace  time.Duration `mapstructure:"ended_grace"`
}

// EntryConfig contains entry-pipeline settings
type EntryConfig struct {
	Budget          time.Duration `mapstructure:"budget"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_enabled", true)

	// Backend defaults
	viper.SetDefault("backend.request_timeout", "10s")
	viper.SetDefault("backend.max_retries", 2)

	// Mongo defaults
	viper.SetDefault("mongo.database", "questbridge")

	// Reconciler defaults
	viper.SetDefault("reconciler.interval", "30s")
	viper.SetDefault("reconciler.jitter", "5s")
	viper.SetDefault("reconciler.concurrency", 8)
	viper.SetDefault("reconciler.backoff_base", "30s")
	viper.SetDefault("reconciler.backoff_cap", "10m")
	viper.SetDefault("reconciler.failure_cap", "1h")
	viper.SetDefault("reconciler.max_stale", "60s")
	viper.SetDefault("reconciler.ended_grace", "24h")

	// Entry pipeline defaults
	viper.SetDefault("entry.budget", "8s")
	viper.SetDefault("entry.rate_limit_max", 3)
	viper.SetDefault("entry.rate_limit_window", "5m")
	viper.SetDefault("entry.lock_ttl", "15s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	// Shutdown defaults
	viper.SetDefault("shutdown.timeout", "30s")
}

func validate(config *Config) error {
	if config.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required")
	}
	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if config.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required")
	}
	if config.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if config.Redis.URI == "" {
		return fmt.Errorf("redis.uri is required")
	}
	if config.Reconciler.Concurrency <= 0 {
		return fmt.Errorf("reconciler.concurrency must be positive")
	}
	if config.Entry.Budget <= 0 {
		return fmt.Errorf("entry.budget must be positive")
	}
	return nil
}
