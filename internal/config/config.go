// Package config loads server configuration from config.json plus the
// environment (.env is honored when present).
package config

import (
	"context"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string
	// ClientURL is the allowed CORS origin.
	ClientURL string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DatabasePath is the SQLite file path.
	DatabasePath string

	// RedisAddr enables the cache layer when non-empty.
	RedisAddr     string
	RedisPassword string

	// KafkaBrokers enables the event mirror when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// NodeID seeds the snowflake generator.
	NodeID int64
}

// New reads config.json (name overridable via SHIKI_CONFIG_NAME) from
// ./config or the working directory, after loading .env if present.
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	if name := os.Getenv("SHIKI_CONFIG_NAME"); name != "" {
		v.SetConfigFile(name)
	}

	v.SetEnvPrefix("SHIKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("Addr", ":8080")
	v.SetDefault("ClientURL", "http://localhost:3000")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("DatabasePath", "data/shiki.db")
	v.SetDefault("KafkaTopic", "gateway-events")
	v.SetDefault("NodeID", 1)

	if err := v.ReadInConfig(); err != nil {
		// Defaults plus environment are a complete configuration; only a
		// malformed file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
