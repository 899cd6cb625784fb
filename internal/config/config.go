package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Export   ExportConfig   `mapstructure:"export" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Mail     MailConfig     `mapstructure:"mail" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// PublicURL is the externally reachable base URL used in download links.
	PublicURL       string        `mapstructure:"public_url" validate:"required,url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Driver selects the record store backend. "memory" keeps everything in
	// process and is meant for local development.
	Driver       string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL          string `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// ExportConfig contains the lifecycle settings of export requests.
type ExportConfig struct {
	// TTL is how long a request and its artifact live after submission.
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
	// Cooldown is the minimum time between two submissions by one user.
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	// CooldownDisabled lifts the cooldown entirely. Debugging only.
	CooldownDisabled bool `mapstructure:"cooldown_disabled"`
	// ReaperInterval is the period of the expiry sweep and reconciliation pass.
	ReaperInterval time.Duration `mapstructure:"reaper_interval" validate:"gt=0"`
	// StuckAfter is how long a request may stay processing before it is
	// handed back to the queue.
	StuckAfter time.Duration `mapstructure:"stuck_after" validate:"gt=0"`
	// OrphanGrace is how long a request may stay pending before it is
	// assumed lost from the queue and enqueued again.
	OrphanGrace time.Duration `mapstructure:"orphan_grace" validate:"gt=0"`
	// TombstoneRetention is how long a retired download link keeps answering
	// "gone" instead of "forbidden".
	TombstoneRetention time.Duration `mapstructure:"tombstone_retention" validate:"gt=0"`
}

// QueueConfig contains job queue and worker settings.
type QueueConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory rabbitmq"`
	URL    string `mapstructure:"url" validate:"required_if=Driver rabbitmq,omitempty,url"`
	Name   string `mapstructure:"name" validate:"required"`
	// Size bounds the in-memory queue buffer.
	Size int `mapstructure:"size" validate:"gt=0"`
	// Workers bounds how many renders run concurrently.
	Workers     int           `mapstructure:"workers" validate:"gt=0"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0"`
	Backoff     time.Duration `mapstructure:"backoff" validate:"gte=0"`
	// BackoffMultiplier of 1 gives a fixed delay between attempts.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"gte=1"`
}

// StorageConfig selects where rendered artifacts are kept.
type StorageConfig struct {
	Driver   string   `mapstructure:"driver" validate:"required,oneof=local s3"`
	LocalDir string   `mapstructure:"local_dir" validate:"required"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds settings for S3-compatible artifact storage.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

// MailConfig selects how "export ready" notifications are delivered.
type MailConfig struct {
	Driver         string `mapstructure:"driver" validate:"required,oneof=log sendgrid"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key" validate:"required_if=Driver sendgrid"`
	FromEmail      string `mapstructure:"from_email" validate:"required,email"`
	FromName       string `mapstructure:"from_name"`
}
