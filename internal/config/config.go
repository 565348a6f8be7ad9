package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// Config holds the full application configuration.
type Config struct {
	APIKey     string           `yaml:"api_key" mapstructure:"api_key"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the remote API client.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// Timeout returns the per-request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CrawlConfig configures crawl defaults and waiting.
type CrawlConfig struct {
	MaxPages        int    `yaml:"max_pages" mapstructure:"max_pages"`
	RenderJS        bool   `yaml:"render_js" mapstructure:"render_js"`
	PollInitialMs   int    `yaml:"poll_initial_ms" mapstructure:"poll_initial_ms"`
	PollCapMs       int    `yaml:"poll_cap_ms" mapstructure:"poll_cap_ms"`
	WaitTimeoutSecs int    `yaml:"wait_timeout_secs" mapstructure:"wait_timeout_secs"`
	OutputDir       string `yaml:"output_dir" mapstructure:"output_dir"`
}

// PollOptions converts the polling settings for CrawlJob.Wait and ChatbotJob.Wait.
func (c CrawlConfig) PollOptions() []webtranspose.PollOption {
	var opts []webtranspose.PollOption
	if c.PollInitialMs > 0 {
		opts = append(opts, webtranspose.WithPollInterval(time.Duration(c.PollInitialMs)*time.Millisecond))
	}
	if c.PollCapMs > 0 {
		opts = append(opts, webtranspose.WithPollCap(time.Duration(c.PollCapMs)*time.Millisecond))
	}
	if c.WaitTimeoutSecs > 0 {
		opts = append(opts, webtranspose.WithPollTimeout(time.Duration(c.WaitTimeoutSecs)*time.Second))
	}
	return opts
}

// ScrapeConfig configures scraping.
type ScrapeConfig struct {
	MaxConcurrent int  `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RenderJS      bool `yaml:"render_js" mapstructure:"render_js"`
	CacheTTLHours int  `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// RetryConfig configures opt-in retries of failed API calls.
type RetryConfig struct {
	Enabled          bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures the client circuit breaker.
type CircuitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the job ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the local gateway.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// MonitoringConfig configures the background alert checker run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinishedJobs      int     `yaml:"min_finished_jobs" mapstructure:"min_finished_jobs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Load reads configuration from .env, webtranspose.yaml and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// working directory and $HOME/.webtranspose.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("webtranspose")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.webtranspose")
	}

	v.SetEnvPrefix("WEBTRANSPOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api_key", webtranspose.EnvAPIKey); err != nil {
		return nil, eris.Wrap(err, "config: bind api key")
	}

	v.SetDefault("api.base_url", webtranspose.DefaultBaseURL)
	v.SetDefault("api.timeout_secs", 180)
	v.SetDefault("api.rate_per_sec", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("crawl.max_pages", 15)
	v.SetDefault("crawl.render_js", false)
	v.SetDefault("crawl.poll_initial_ms", 2000)
	v.SetDefault("crawl.poll_cap_ms", 15000)
	v.SetDefault("crawl.wait_timeout_secs", 600)
	v.SetDefault("crawl.output_dir", "webtranspose-out")
	v.SetDefault("scrape.max_concurrent", 4)
	v.SetDefault("scrape.render_js", false)
	v.SetDefault("scrape.cache_ttl_hours", 24)
	v.SetDefault("retry.enabled", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.enabled", false)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "webtranspose.db")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished_jobs", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store.driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return eris.Errorf("config: unsupported log.format %q (want json or console)", c.Log.Format)
	}
	if c.API.TimeoutSecs <= 0 {
		return eris.Errorf("config: api.timeout_secs must be positive, got %d", c.API.TimeoutSecs)
	}
	if c.API.RatePerSec < 0 {
		return eris.Errorf("config: api.rate_per_sec must not be negative, got %v", c.API.RatePerSec)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	return nil
}
