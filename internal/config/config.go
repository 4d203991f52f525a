package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zone database for images without one

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Feed       FeedConfig       `yaml:"feed" mapstructure:"feed"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FeedConfig configures the Google News RSS source.
type FeedConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	HL                string  `yaml:"hl" mapstructure:"hl"`
	GL                string  `yaml:"gl" mapstructure:"gl"`
	CEID              string  `yaml:"ceid" mapstructure:"ceid"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// PipelineConfig configures run pacing and the historical window.
type PipelineConfig struct {
	Timezone        string `yaml:"timezone" mapstructure:"timezone"`
	WriteDelayMs    int    `yaml:"write_delay_ms" mapstructure:"write_delay_ms"`
	EnrichBatchSize int    `yaml:"enrich_batch_size" mapstructure:"enrich_batch_size"`
	ClassifyDelayMs int    `yaml:"classify_delay_ms" mapstructure:"classify_delay_ms"`
	HistoricalStart string `yaml:"historical_start" mapstructure:"historical_start"`
	HistoricalEnd   string `yaml:"historical_end" mapstructure:"historical_end"`
}

// Location loads the pipeline time zone.
func (p PipelineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", p.Timezone)
	}
	return loc, nil
}

// ClassifierConfig configures the classification provider and model quotas.
type ClassifierConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider"`
	GeminiKey     string        `yaml:"gemini_key" mapstructure:"gemini_key"`
	AnthropicKey  string        `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	MaxTokens     int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffUnitMs int           `yaml:"backoff_unit_ms" mapstructure:"backoff_unit_ms"`
	Models        []ModelConfig `yaml:"models" mapstructure:"models"`
}

// ModelConfig is one model in priority order with its daily call budget.
type ModelConfig struct {
	Name       string `yaml:"name" mapstructure:"name"`
	DailyQuota int    `yaml:"daily_quota" mapstructure:"daily_quota"`
}

// MatchingConfig holds per-candidate disambiguation overrides keyed by name.
type MatchingConfig struct {
	Overrides map[string]OverrideConfig `yaml:"overrides" mapstructure:"overrides"`
}

// OverrideConfig lists phrases that force acceptance or rejection.
type OverrideConfig struct {
	Require []string `yaml:"require" mapstructure:"require"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
}

// ScheduleConfig configures the cron daemon.
type ScheduleConfig struct {
	Daily    string `yaml:"daily" mapstructure:"daily"`
	Enrich   string `yaml:"enrich" mapstructure:"enrich"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleRunHours        int     `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NEWSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "newswatch.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("feed.base_url", "https://news.google.com/rss/search")
	v.SetDefault("feed.hl", "es-419")
	v.SetDefault("feed.gl", "CO")
	v.SetDefault("feed.ceid", "CO:es-419")
	v.SetDefault("feed.requests_per_second", 1.0)
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.user_agent", "newswatch/1.0")
	v.SetDefault("pipeline.timezone", "America/Bogota")
	v.SetDefault("pipeline.write_delay_ms", 1000)
	v.SetDefault("pipeline.enrich_batch_size", 250)
	v.SetDefault("pipeline.classify_delay_ms", 5000)
	v.SetDefault("pipeline.historical_start", "2025-01-01")
	v.SetDefault("classifier.provider", "gemini")
	v.SetDefault("classifier.max_tokens", 256)
	v.SetDefault("classifier.max_attempts", 5)
	v.SetDefault("classifier.backoff_unit_ms", 1000)
	v.SetDefault("classifier.models", []map[string]any{
		{"name": "gemini-1.5-flash", "daily_quota": 45},
	})
	v.SetDefault("schedule.daily", "0 6 * * *")
	v.SetDefault("schedule.enrich", "30 */2 * * *")
	v.SetDefault("schedule.timezone", "America/Bogota")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_run_hours", 6)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: ingest,
// enrich, schedule, store.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	validateStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}
	validatePipeline := func() {
		if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil || c.Pipeline.Timezone == "" {
			add("pipeline.timezone %q is not a valid time zone", c.Pipeline.Timezone)
		}
		if c.Pipeline.WriteDelayMs < 0 || c.Pipeline.ClassifyDelayMs < 0 {
			add("pipeline delays must be >= 0")
		}
	}
	validateIngest := func() {
		if c.Feed.RequestsPerSecond <= 0 {
			add("feed.requests_per_second must be > 0")
		}
	}
	validateEnrich := func() {
		switch c.Classifier.Provider {
		case "gemini":
			if c.Classifier.GeminiKey == "" {
				add("classifier.gemini_key is required")
			}
		case "anthropic":
			if c.Classifier.AnthropicKey == "" {
				add("classifier.anthropic_key is required")
			}
		default:
			add("classifier.provider must be gemini or anthropic, got %q", c.Classifier.Provider)
		}
		if len(c.Classifier.Models) == 0 {
			add("classifier.models must list at least one model")
		}
		for i, m := range c.Classifier.Models {
			if strings.TrimSpace(m.Name) == "" {
				add("classifier.models[%d].name is required", i)
			}
			if m.DailyQuota <= 0 {
				add("classifier.models[%d].daily_quota must be > 0", i)
			}
		}
		if c.Classifier.MaxAttempts < 1 {
			add("classifier.max_attempts must be >= 1")
		}
		if c.Pipeline.EnrichBatchSize < 1 {
			add("pipeline.enrich_batch_size must be >= 1")
		}
	}

	switch mode {
	case "store":
		validateStore()
	case "ingest":
		validateStore()
		validatePipeline()
		validateIngest()
	case "enrich":
		validateStore()
		validatePipeline()
		validateEnrich()
	case "schedule":
		validateStore()
		validatePipeline()
		validateIngest()
		validateEnrich()
		if c.Schedule.Daily == "" && c.Schedule.Enrich == "" {
			add("schedule.daily or schedule.enrich is required")
		}
		if c.Schedule.Timezone != "" {
			if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
				add("schedule.timezone %q is not a valid time zone", c.Schedule.Timezone)
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
