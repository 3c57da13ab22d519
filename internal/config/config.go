// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Broker configures the Queue Broker Adapter: primary and DLQ list names,
// and the reliable-pop processing-list/heartbeat key patterns.
type Broker struct {
	QueueName             string `mapstructure:"queue_name"`
	DLQName               string `mapstructure:"dlq_name"`
	ProcessingListPattern string `mapstructure:"processing_list_pattern"`
	HeartbeatKeyPattern   string `mapstructure:"heartbeat_key_pattern"`
}

type Worker struct {
	Count        int           `mapstructure:"count"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
	Backoff      Backoff       `mapstructure:"backoff"`
	BreakerPause time.Duration `mapstructure:"breaker_pause"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
	Insecure         bool    `mapstructure:"insecure"`
}

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

type HTTP struct {
	ListenAddr         string   `mapstructure:"listen_addr"`
	APIKey             string   `mapstructure:"api_key"`
	APIKeyHeader       string   `mapstructure:"api_key_header"`
	RecentDefaultLimit int      `mapstructure:"recent_default_limit"`
	RecentMaxLimit     int      `mapstructure:"recent_max_limit"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
}

type Audit struct {
	LogPath    string `mapstructure:"log_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type LiveBus struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// Scope holds the deterministic default tenant/project identity injected
// into every ingested event in the single-default-tenant supported mode.
type Scope struct {
	DefaultTenantID  string `mapstructure:"default_tenant_id"`
	DefaultProjectID string `mapstructure:"default_project_id"`
}

type Config struct {
	DatabaseURL    string              `mapstructure:"database_url"`
	Redis          Redis               `mapstructure:"redis"`
	Broker         Broker              `mapstructure:"broker"`
	Worker         Worker              `mapstructure:"worker"`
	CircuitBreaker CircuitBreaker      `mapstructure:"circuit_breaker"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	HTTP           HTTP                `mapstructure:"http"`
	Audit          Audit               `mapstructure:"audit"`
	LiveBus        LiveBus             `mapstructure:"live_bus"`
	Scope          Scope               `mapstructure:"scope"`
}

func defaultConfig() *Config {
	return &Config{
		DatabaseURL: "postgres://localhost:5432/llmscope?sslmode=disable",
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Broker: Broker{
			QueueName:             "llmscope:events",
			DLQName:               "llmscope:events:dlq",
			ProcessingListPattern: "llmscope:worker:%s:processing",
			HeartbeatKeyPattern:   "llmscope:worker:%s:heartbeat",
		},
		Worker: Worker{
			Count:        4,
			BatchSize:    100,
			PollInterval: 100 * time.Millisecond,
			HeartbeatTTL: 30 * time.Second,
			MaxRetries:   3,
			Backoff:      Backoff{Base: 2 * time.Second, Max: 30 * time.Second},
			BreakerPause: 100 * time.Millisecond,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: ObservabilityConfig{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             TracingConfig{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
			QueueSampleInterval: 2 * time.Second,
		},
		HTTP: HTTP{
			ListenAddr:         ":8080",
			APIKeyHeader:       "X-API-Key",
			RecentDefaultLimit: 50,
			RecentMaxLimit:     1000,
			CORSOrigins:        []string{"*"},
		},
		Audit: Audit{
			LogPath:    "./log/audit.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		LiveBus: LiveBus{BufferSize: 16},
	}
}

// Load reads configuration from a YAML file with environment variable
// overrides (dots replaced by underscores, e.g. HTTP_API_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("database_url", def.DatabaseURL)

	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("broker.queue_name", def.Broker.QueueName)
	v.SetDefault("broker.dlq_name", def.Broker.DLQName)
	v.SetDefault("broker.processing_list_pattern", def.Broker.ProcessingListPattern)
	v.SetDefault("broker.heartbeat_key_pattern", def.Broker.HeartbeatKeyPattern)

	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.batch_size", def.Worker.BatchSize)
	v.SetDefault("worker.poll_interval", def.Worker.PollInterval)
	v.SetDefault("worker.heartbeat_ttl", def.Worker.HeartbeatTTL)
	v.SetDefault("worker.max_retries", def.Worker.MaxRetries)
	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)
	v.SetDefault("worker.breaker_pause", def.Worker.BreakerPause)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.sampling_strategy", def.Observability.Tracing.SamplingStrategy)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("http.listen_addr", def.HTTP.ListenAddr)
	v.SetDefault("http.api_key", def.HTTP.APIKey)
	v.SetDefault("http.api_key_header", def.HTTP.APIKeyHeader)
	v.SetDefault("http.recent_default_limit", def.HTTP.RecentDefaultLimit)
	v.SetDefault("http.recent_max_limit", def.HTTP.RecentMaxLimit)
	v.SetDefault("http.cors_origins", def.HTTP.CORSOrigins)

	v.SetDefault("audit.log_path", def.Audit.LogPath)
	v.SetDefault("audit.max_size_mb", def.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", def.Audit.MaxBackups)

	v.SetDefault("live_bus.buffer_size", def.LiveBus.BufferSize)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Scope.DefaultTenantID == "" || cfg.Scope.DefaultProjectID == "" {
		t, p := DefaultScopeIDs()
		if cfg.Scope.DefaultTenantID == "" {
			cfg.Scope.DefaultTenantID = t
		}
		if cfg.Scope.DefaultProjectID == "" {
			cfg.Scope.DefaultProjectID = p
		}
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1")
	}
	if cfg.Worker.BatchSize < 1 {
		return fmt.Errorf("worker.batch_size must be >= 1")
	}
	if cfg.Worker.HeartbeatTTL < 5*time.Second {
		return fmt.Errorf("worker.heartbeat_ttl must be >= 5s")
	}
	if cfg.Broker.QueueName == "" || cfg.Broker.DLQName == "" {
		return fmt.Errorf("broker.queue_name and broker.dlq_name are required")
	}
	if cfg.HTTP.APIKey == "" {
		return fmt.Errorf("http.api_key is required")
	}
	if cfg.HTTP.RecentDefaultLimit < 1 || cfg.HTTP.RecentDefaultLimit > cfg.HTTP.RecentMaxLimit {
		return fmt.Errorf("http.recent_default_limit must be between 1 and http.recent_max_limit")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
