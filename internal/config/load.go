package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ION_SERVER_PORT.
const EnvPrefix = "ION"

// defaults lists every key Load understands. Registering each key is what
// lets viper pick it up from the environment during Unmarshal.
var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.public_url":       "http://localhost:8080",
	"server.shutdown_timeout": 10 * time.Second,

	"database.driver":         "postgres",
	"database.url":            "",
	"database.max_open_conns": 25,
	"database.auto_migrate":   true,

	"auth.jwt_secret":             "",
	"auth.token_lifetime_minutes": 60,

	"export.ttl":                 48 * time.Hour,
	"export.cooldown":            30 * 24 * time.Hour,
	"export.cooldown_disabled":   false,
	"export.reaper_interval":     10 * time.Minute,
	"export.stuck_after":         30 * time.Minute,
	"export.orphan_grace":        2 * time.Minute,
	"export.tombstone_retention": 30 * 24 * time.Hour,

	"queue.driver":             "memory",
	"queue.url":                "",
	"queue.name":               "exports",
	"queue.size":               100,
	"queue.workers":            2,
	"queue.max_attempts":       3,
	"queue.backoff":            5 * time.Second,
	"queue.backoff_multiplier": 1.0,

	"storage.driver":               "local",
	"storage.local_dir":            "./exports",
	"storage.s3.bucket":            "",
	"storage.s3.region":            "us-east-1",
	"storage.s3.endpoint":          "",
	"storage.s3.access_key_id":     "",
	"storage.s3.secret_access_key": "",
	"storage.s3.prefix":            "exports/",

	"mail.driver":           "log",
	"mail.sendgrid_api_key": "",
	"mail.from_email":       "noreply@example.com",
	"mail.from_name":        "Workout Exports",
}

// Load configuration from environment variables and optionally a config file
// named config.yaml in the working directory or ./config.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags and the cross-section rules
// tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Storage.Driver == "s3" && cfg.Storage.S3.Bucket == "" {
		return errors.New("config validation failed: storage.s3.bucket is required for the s3 driver")
	}
	if cfg.Export.StuckAfter <= cfg.Queue.Backoff {
		return errors.New("config validation failed: export.stuck_after must exceed queue.backoff")
	}

	return nil
}
