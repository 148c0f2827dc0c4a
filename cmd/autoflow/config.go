package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rendis/autoflow/internal/predicate"
	"github.com/rendis/autoflow/pkg/schema"
)

// Config holds all autoflow server configuration.
// Priority: env vars (AUTOFLOW_*) > config file > defaults.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string `mapstructure:"log_format" yaml:"log_format"`
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`

	Predicate struct {
		Mode string `mapstructure:"mode" yaml:"mode"`
	} `mapstructure:"predicate" yaml:"predicate"`

	Engine struct {
		FormulaEngine     string        `mapstructure:"formula_engine" yaml:"formula_engine"`
		RecordConcurrency int           `mapstructure:"record_concurrency" yaml:"record_concurrency"`
		RecordTimeout     time.Duration `mapstructure:"record_timeout" yaml:"record_timeout"`
		RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
		WriteRetries      int           `mapstructure:"write_retries" yaml:"write_retries"`
	} `mapstructure:"engine" yaml:"engine"`

	Scheduler struct {
		Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
		Interval      string        `mapstructure:"interval" yaml:"interval"` // cron spec, e.g. "@every 1m"
		SyncBatchSize int           `mapstructure:"sync_batch_size" yaml:"sync_batch_size"`
		Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
		ClaimTTL      time.Duration `mapstructure:"claim_ttl" yaml:"claim_ttl"`
	} `mapstructure:"scheduler" yaml:"scheduler"`

	Datasync struct {
		RunnerURL        string        `mapstructure:"runner_url" yaml:"runner_url"`
		Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
		Retries          int           `mapstructure:"retries" yaml:"retries"`
		BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
		BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	} `mapstructure:"datasync" yaml:"datasync"`

	Locks struct {
		RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	} `mapstructure:"locks" yaml:"locks"`

	NATS struct {
		URL string `mapstructure:"url" yaml:"url"`
	} `mapstructure:"nats" yaml:"nats"`

	Metrics struct {
		Namespace string `mapstructure:"namespace" yaml:"namespace"`
	} `mapstructure:"metrics" yaml:"metrics"`
}

func autoflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4200")
	v.SetDefault("db_path", filepath.Join(autoflowDir(), "autoflow.db"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("predicate.mode", string(predicate.Permissive))

	v.SetDefault("engine.formula_engine", "expr")
	v.SetDefault("engine.record_concurrency", 4)
	v.SetDefault("engine.record_timeout", "30s")
	v.SetDefault("engine.run_timeout", "10m")
	v.SetDefault("engine.write_retries", 2)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 1m")
	v.SetDefault("scheduler.sync_batch_size", 50)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.claim_ttl", "30m")

	v.SetDefault("datasync.runner_url", "")
	v.SetDefault("datasync.timeout", "5m")
	v.SetDefault("datasync.retries", 2)
	v.SetDefault("datasync.breaker_threshold", 5)
	v.SetDefault("datasync.breaker_cooldown", "30m")

	v.SetDefault("locks.redis_url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("metrics.namespace", "autoflow")
}

// newViper returns a viper instance with defaults and AUTOFLOW_ env binding.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AUTOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads cfgFile, or autoflow.yaml from the working directory and
// ~/.autoflow when cfgFile is empty. A missing default file is not an error.
func loadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("autoflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(autoflowDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Predicate.Mode) {
	case string(predicate.Permissive), string(predicate.Strict):
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "predicate.mode must be permissive or strict, got %q", c.Predicate.Mode)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid timezone %q", c.Timezone).WithCause(err)
	}
	if c.DBPath == "" {
		return schema.NewError(schema.ErrCodeValidation, "db_path is required")
	}
	if c.Engine.RecordConcurrency < 0 || c.Scheduler.Concurrency < 0 || c.Scheduler.SyncBatchSize < 0 {
		return schema.NewError(schema.ErrCodeValidation, "concurrency and batch sizes must not be negative")
	}
	return nil
}

func (c *Config) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// retryPolicy builds an exponential policy for max retries; nil when max <= 0.
func retryPolicy(max int, delay, maxDelay string) *schema.RetryPolicy {
	if max <= 0 {
		return nil
	}
	return &schema.RetryPolicy{Max: max, Backoff: "exponential", Delay: delay, MaxDelay: maxDelay}
}
