// Package config loads process configuration from tag defaults, an optional
// YAML file and environment variables, and validates it on startup so
// misconfiguration fails fast.
package config

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Kafka    KafkaConfig     `yaml:"kafka"`
	Stream   StreamConfig    `yaml:"stream"`
	Batch    BatchConfig     `yaml:"batch"`
	Server   ServerConfig    `yaml:"server"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds store connection settings.
type DatabaseConfig struct {
	// URL selects the engine by scheme: postgres:// (or postgresql://) for
	// Postgres/TimescaleDB, sqlite:// or file: for the embedded engine.
	URL string `env:"DATABASE_URL" envAlt:"TIMESCALE_DATABASE_URL" yaml:"url"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10" yaml:"max_conns"`

	// MinConns is the minimum number of connections kept open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1" yaml:"min_conns"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m" yaml:"max_conn_idle_time"`

	// ConnectTimeout bounds how long startup keeps retrying the first ping (default: 30s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"30s" yaml:"connect_timeout"`

	// EnsureSchema creates the packages and events tables when absent (default: true)
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true" yaml:"ensure_schema"`
}

// ErrNoDatabase is returned by Require when no database URL is configured.
var ErrNoDatabase = errors.New("DATABASE_URL is required")

// Require reports whether the settings name a database. Commands that do
// not touch the store (produce) skip this check.
func (c *DatabaseConfig) Require() error {
	if c.URL == "" {
		return ErrNoDatabase
	}
	return nil
}

// KafkaConfig holds message-broker settings shared by the consumer and the producer.
type KafkaConfig struct {
	// Brokers is a comma-separated bootstrap list (default: localhost:9094)
	Brokers []string `env:"KAFKA_BROKERS" default:"localhost:9094" yaml:"brokers"`

	Topic   string `env:"KAFKA_TOPIC" default:"eventos_rastreamento" yaml:"topic"`
	GroupID string `env:"KAFKA_GROUP_ID" default:"rastreamento_consumer_group" yaml:"group_id"`

	// StartOffset applies when the group has no committed offset: earliest or latest
	StartOffset string `env:"KAFKA_START_OFFSET" default:"earliest" yaml:"start_offset"`

	// DeadLetterTopic receives messages that could not be loaded. Empty disables it.
	DeadLetterTopic string `env:"KAFKA_DEAD_LETTER_TOPIC" yaml:"dead_letter_topic"`

	// MaxWait is the longest a fetch waits for new data (default: 500ms)
	MaxWait time.Duration `env:"KAFKA_MAX_WAIT" default:"500ms" yaml:"max_wait"`
}

// StreamConfig tunes the stream consumer loop.
type StreamConfig struct {
	// LoadTimeout bounds the load of a single message (default: 30s)
	LoadTimeout time.Duration `env:"STREAM_LOAD_TIMEOUT" default:"30s" yaml:"load_timeout"`

	// FetchRetryMax is how long broker errors are retried before the consumer exits. 0 retries forever.
	FetchRetryMax time.Duration `env:"STREAM_FETCH_RETRY_MAX" default:"5m" yaml:"fetch_retry_max"`
}

// BatchConfig holds batch extract settings.
type BatchConfig struct {
	// MaxFileSize is the largest extract accepted, in bytes (default: 100MB)
	MaxFileSize int64 `env:"BATCH_MAX_FILE_SIZE" default:"104857600" yaml:"max_file_size"`

	// Timeout bounds one batch run end to end (default: 10m)
	Timeout time.Duration `env:"BATCH_TIMEOUT" default:"10m" yaml:"timeout"`

	// MaxConcurrent limits parallel runs submitted over HTTP (default: 1)
	MaxConcurrent int `env:"BATCH_MAX_CONCURRENT" default:"1" yaml:"max_concurrent"`

	// MaxWaitTime is how long an HTTP run waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"BATCH_MAX_WAIT_TIME" default:"30s" yaml:"max_wait_time"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0" yaml:"host"`
	Port int    `env:"SERVER_PORT" default:"8080" yaml:"port"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s" yaml:"shutdown_timeout"`

	// RequestTimeout is the middleware timeout for non-batch requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s" yaml:"request_timeout"`
}

// RateLimitConfig holds per-client request limits for the HTTP API.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`

	// RequestsPerMinute is the limit per client IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100" yaml:"requests_per_minute"`
}

// SecurityConfig holds HTTP API access settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES" yaml:"trusted_proxies"`

	// RequireAPIKey guards /api routes with the X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false" yaml:"require_api_key"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS" yaml:"api_keys"`
}

// MetricsConfig controls the standalone /metrics listener used by the
// batch and stream commands. The serve command mounts /metrics itself.
type MetricsConfig struct {
	// Addr is host:port to listen on; empty disables the listener
	Addr string `env:"METRICS_ADDR" yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info" yaml:"level"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text" yaml:"format"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
