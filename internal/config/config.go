// Package config loads MammothBox's runtime configuration from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" | "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// ClickHouseDSN optionally enables a dual-write analytical lineage
	// sink alongside the primary catalog store. Empty disables it.
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

type BlobstoreConfig struct {
	Driver   string `mapstructure:"driver"` // "filesystem" | "s3"
	BasePath string `mapstructure:"base_path"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Region string `mapstructure:"s3_region"`
}

type QueueConfig struct {
	Driver     string `mapstructure:"driver"` // "memory" | "redis"
	RedisAddr  string `mapstructure:"redis_addr"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

type WorkerConfig struct {
	Count         int           `mapstructure:"count"`
	DequeueWait   time.Duration `mapstructure:"dequeue_wait"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	Backoff       Backoff       `mapstructure:"backoff"`
}

type CircuitBreakerConfig struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type SchemaDeciderConfig struct {
	SampleSize         int     `mapstructure:"sample_size"`
	StabilityThreshold float64 `mapstructure:"stability_threshold"`
	MaxTopLevelKeys    int     `mapstructure:"max_top_level_keys"`
	MaxDepth           int     `mapstructure:"max_depth"`
	SQLScoreThreshold  float64 `mapstructure:"sql_score_threshold"`
}

type LimitsConfig struct {
	MaxImageBytes    int64 `mapstructure:"max_image_bytes"`
	MaxVideoBytes    int64 `mapstructure:"max_video_bytes"`
	MaxAudioBytes    int64 `mapstructure:"max_audio_bytes"`
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes"`
	MaxJSONBytes     int64 `mapstructure:"max_json_bytes"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

type ObservabilityConfig struct {
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	LogMaxSizeMB int          `mapstructure:"log_max_size_mb"`
	LogMaxAgeDays int         `mapstructure:"log_max_age_days"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`         // ingestion/admin API
	MetricsAddr string `mapstructure:"metrics_addr"` // /metrics, /healthz, /readyz
}

type OutboxConfig struct {
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"` // cron expression
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

// EventHookConfig configures the optional NATS lineage-event publisher.
// Left with an empty NATSURL, the publisher is a no-op.
type EventHookConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// MediaServiceConfig points at the external media-normalization/embedding
// service that MediaProcessor delegates to (spec.md §1 Non-goals: this
// module never implements decoding or embedding itself).
type MediaServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Storage        StorageConfig        `mapstructure:"storage"`
	Blobstore      BlobstoreConfig      `mapstructure:"blobstore"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	SchemaDecider  SchemaDeciderConfig  `mapstructure:"schema_decider"`
	Limits         LimitsConfig         `mapstructure:"limits"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Outbox         OutboxConfig         `mapstructure:"outbox"`
	EventHook      EventHookConfig      `mapstructure:"event_hook"`
	MediaService   MediaServiceConfig   `mapstructure:"media_service"`

	// AutoMigrate, if true, skips admin review: provisional schemas
	// activate and execute their DDL immediately (spec.md §6).
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:          "sqlite",
			DSN:             "./mammothbox.db",
			MaxOpenConns:    30,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Blobstore: BlobstoreConfig{
			Driver:   "filesystem",
			BasePath: "./storage",
		},
		Queue: QueueConfig{
			Driver:     "memory",
			RedisAddr:  "localhost:6379",
			MaxRetries: 3,
		},
		Worker: WorkerConfig{
			Count:         4,
			DequeueWait:   2 * time.Second,
			ShutdownGrace: 15 * time.Second,
			Backoff:       Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 0.5,
			Window:           time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		SchemaDecider: SchemaDeciderConfig{
			SampleSize:         128,
			StabilityThreshold: 0.6,
			MaxTopLevelKeys:    20,
			MaxDepth:           2,
			SQLScoreThreshold:  0.85,
		},
		Limits: LimitsConfig{
			MaxImageBytes:    50 * 1024 * 1024,
			MaxVideoBytes:    500 * 1024 * 1024,
			MaxAudioBytes:    100 * 1024 * 1024,
			MaxDocumentBytes: 100 * 1024 * 1024,
			MaxJSONBytes:     10 * 1024 * 1024,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogMaxSizeMB:  100,
			LogMaxAgeDays: 28,
			Tracing:       TracingConfig{Enabled: false},
		},
		HTTP: HTTPConfig{Addr: ":8080", MetricsAddr: ":9090"},
		Outbox: OutboxConfig{
			ReconcileSchedule: "*/1 * * * *",
			StaleAfter:        2 * time.Minute,
		},
		EventHook: EventHookConfig{
			Subject: "mammothbox.lineage",
		},
		MediaService: MediaServiceConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file (if it exists) layered over
// defaults, with environment-variable overrides (MAMMOTHBOX_ prefix,
// nested keys joined by underscore).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mammothbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.dsn", def.Storage.DSN)
	v.SetDefault("storage.max_open_conns", def.Storage.MaxOpenConns)
	v.SetDefault("storage.max_idle_conns", def.Storage.MaxIdleConns)
	v.SetDefault("storage.conn_max_lifetime", def.Storage.ConnMaxLifetime)
	v.SetDefault("storage.clickhouse_dsn", def.Storage.ClickHouseDSN)

	v.SetDefault("blobstore.driver", def.Blobstore.Driver)
	v.SetDefault("blobstore.base_path", def.Blobstore.BasePath)

	v.SetDefault("queue.driver", def.Queue.Driver)
	v.SetDefault("queue.redis_addr", def.Queue.RedisAddr)
	v.SetDefault("queue.max_retries", def.Queue.MaxRetries)

	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.dequeue_wait", def.Worker.DequeueWait)
	v.SetDefault("worker.shutdown_grace", def.Worker.ShutdownGrace)
	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("schema_decider.sample_size", def.SchemaDecider.SampleSize)
	v.SetDefault("schema_decider.stability_threshold", def.SchemaDecider.StabilityThreshold)
	v.SetDefault("schema_decider.max_top_level_keys", def.SchemaDecider.MaxTopLevelKeys)
	v.SetDefault("schema_decider.max_depth", def.SchemaDecider.MaxDepth)
	v.SetDefault("schema_decider.sql_score_threshold", def.SchemaDecider.SQLScoreThreshold)

	v.SetDefault("limits.max_image_bytes", def.Limits.MaxImageBytes)
	v.SetDefault("limits.max_video_bytes", def.Limits.MaxVideoBytes)
	v.SetDefault("limits.max_audio_bytes", def.Limits.MaxAudioBytes)
	v.SetDefault("limits.max_document_bytes", def.Limits.MaxDocumentBytes)
	v.SetDefault("limits.max_json_bytes", def.Limits.MaxJSONBytes)

	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_max_size_mb", def.Observability.LogMaxSizeMB)
	v.SetDefault("observability.log_max_age_days", def.Observability.LogMaxAgeDays)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)

	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("http.metrics_addr", def.HTTP.MetricsAddr)

	v.SetDefault("outbox.reconcile_schedule", def.Outbox.ReconcileSchedule)
	v.SetDefault("outbox.stale_after", def.Outbox.StaleAfter)

	v.SetDefault("event_hook.nats_url", def.EventHook.NATSURL)
	v.SetDefault("event_hook.subject", def.EventHook.Subject)

	v.SetDefault("media_service.url", def.MediaService.URL)
	v.SetDefault("media_service.timeout", def.MediaService.Timeout)

	v.SetDefault("auto_migrate", def.AutoMigrate)
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1")
	}
	if cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("storage.driver must be postgres or sqlite")
	}
	if cfg.Blobstore.Driver != "filesystem" && cfg.Blobstore.Driver != "s3" {
		return fmt.Errorf("blobstore.driver must be filesystem or s3")
	}
	if cfg.Blobstore.Driver == "s3" && cfg.Blobstore.S3Bucket == "" {
		return fmt.Errorf("blobstore.s3_bucket required when blobstore.driver is s3")
	}
	if cfg.Queue.Driver != "memory" && cfg.Queue.Driver != "redis" {
		return fmt.Errorf("queue.driver must be memory or redis")
	}
	if cfg.SchemaDecider.SQLScoreThreshold <= 0 || cfg.SchemaDecider.SQLScoreThreshold > 1 {
		return fmt.Errorf("schema_decider.sql_score_threshold must be in (0,1]")
	}
	if cfg.Limits.MaxJSONBytes <= 0 {
		return fmt.Errorf("limits.max_json_bytes must be > 0")
	}
	return nil
}
