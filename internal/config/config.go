package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	SEC       SECConfig       `yaml:"sec" mapstructure:"sec"`
	Tiers     TierConfig      `yaml:"tiers" mapstructure:"tiers"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	DLQ       DLQConfig       `yaml:"dlq" mapstructure:"dlq"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SECConfig configures EDGAR access.
type SECConfig struct {
	UserAgent      string   `yaml:"user_agent" mapstructure:"user_agent"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	RateLimitDelay float64  `yaml:"rate_limit_delay" mapstructure:"rate_limit_delay"` // seconds between requests
	MaxRetries     int      `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FormTypes      []string `yaml:"form_types" mapstructure:"form_types"`
}

// TierConfig holds the size thresholds and per-tier parse timeouts.
type TierConfig struct {
	SmallMB             float64 `yaml:"small_mb" mapstructure:"small_mb"`
	MediumMB            float64 `yaml:"medium_mb" mapstructure:"medium_mb"`
	LargeMB             float64 `yaml:"large_mb" mapstructure:"large_mb"`
	TimeoutStandardSecs int     `yaml:"timeout_standard_secs" mapstructure:"timeout_standard_secs"`
	TimeoutLimitedSecs  int     `yaml:"timeout_limited_secs" mapstructure:"timeout_limited_secs"`
	TimeoutMinimalSecs  int     `yaml:"timeout_minimal_secs" mapstructure:"timeout_minimal_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Size      int `yaml:"size" mapstructure:"size"` // per-date cap when --max-filings is unset
	NightSize int `yaml:"night_size" mapstructure:"night_size"`
	Workers   int `yaml:"workers" mapstructure:"workers"`
}

// DLQConfig configures the dead-letter queue policy.
type DLQConfig struct {
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryAfterHours int     `yaml:"retry_after_hours" mapstructure:"retry_after_hours"`
	MaxFileSizeMB   float64 `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
}

// RetentionConfig configures the cleanup sweep.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// ServerConfig configures the ops API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitorConfig configures the background health checker run by the ops
// server. A zero threshold disables the corresponding alert.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"` // 0..1
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackRuns         int     `yaml:"lookback_runs" mapstructure:"lookback_runs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases maps config keys to the flat environment names existing
// deployments use, alongside the NCSR_* prefixed forms.
var envAliases = map[string]string{
	"store.database_url":          "DATABASE_URL",
	"sec.user_agent":              "SEC_USER_AGENT",
	"sec.rate_limit_delay":        "RATE_LIMIT_DELAY",
	"tiers.small_mb":              "SMALL_FILE_THRESHOLD",
	"tiers.medium_mb":             "MEDIUM_FILE_THRESHOLD",
	"tiers.large_mb":              "LARGE_FILE_THRESHOLD",
	"tiers.timeout_standard_secs": "TIMEOUT_STANDARD",
	"tiers.timeout_limited_secs":  "TIMEOUT_LIMITED",
	"tiers.timeout_minimal_secs":  "TIMEOUT_MINIMAL",
	"batch.size":                  "BATCH_SIZE",
	"batch.night_size":            "NIGHT_BATCH_SIZE",
	"dlq.max_attempts":            "DLQ_MAX_ATTEMPTS",
	"dlq.retry_after_hours":       "DLQ_RETRY_AFTER_HOURS",
	"dlq.max_file_size_mb":        "DLQ_MAX_FILE_SIZE_MB",
	"retention.days":              "DATA_RETENTION_DAYS",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NCSR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, env)
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("sec.user_agent", "")
	v.SetDefault("sec.base_url", "https://www.sec.gov")
	v.SetDefault("sec.rate_limit_delay", 0.1)
	v.SetDefault("sec.max_retries", 3)
	v.SetDefault("sec.timeout_secs", 30)
	v.SetDefault("sec.form_types", []string{"N-CSR", "N-CSRS"})
	v.SetDefault("tiers.small_mb", 10.0)
	v.SetDefault("tiers.medium_mb", 50.0)
	v.SetDefault("tiers.large_mb", 100.0)
	v.SetDefault("tiers.timeout_standard_secs", 300)
	v.SetDefault("tiers.timeout_limited_secs", 120)
	v.SetDefault("tiers.timeout_minimal_secs", 60)
	v.SetDefault("batch.size", 100)
	v.SetDefault("batch.night_size", 50)
	v.SetDefault("batch.workers", 1)
	v.SetDefault("dlq.max_attempts", 5)
	v.SetDefault("dlq.retry_after_hours", 24)
	v.SetDefault("dlq.max_file_size_mb", 100.0)
	v.SetDefault("retention.days", 90)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.dlq_depth_threshold", 100)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_runs", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the invariants the pipeline depends on. Commands that
// touch the database or EDGAR call it; read-only commands can run against
// a partial configuration.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: DATABASE_URL is required")
	}
	if strings.TrimSpace(c.SEC.UserAgent) == "" {
		return eris.New("config: SEC_USER_AGENT is required (operator name and email)")
	}
	if !(c.Tiers.SmallMB > 0 && c.Tiers.SmallMB < c.Tiers.MediumMB && c.Tiers.MediumMB < c.Tiers.LargeMB) {
		return eris.Errorf("config: tier thresholds must be strictly ascending, got %.1f/%.1f/%.1f",
			c.Tiers.SmallMB, c.Tiers.MediumMB, c.Tiers.LargeMB)
	}
	if c.Tiers.TimeoutStandardSecs <= 0 || c.Tiers.TimeoutLimitedSecs <= 0 || c.Tiers.TimeoutMinimalSecs <= 0 {
		return eris.New("config: tier timeouts must be positive")
	}
	if c.SEC.RateLimitDelay <= 0 {
		return eris.New("config: rate limit delay must be positive")
	}
	if c.DLQ.MaxAttempts < 1 {
		return eris.New("config: dlq max attempts must be at least 1")
	}
	if c.Batch.Workers < 1 {
		return eris.New("config: batch workers must be at least 1")
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
