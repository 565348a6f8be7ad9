package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// isolate moves into an empty temp dir with an empty HOME so no config file,
// .env or credential leaks in from the machine running the tests.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	t.Setenv("HOME", dir)
	t.Setenv(webtranspose.EnvAPIKey, "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, webtranspose.DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 180*time.Second, cfg.API.Timeout())
	assert.Equal(t, 15, cfg.Crawl.MaxPages)
	assert.Equal(t, 2000, cfg.Crawl.PollInitialMs)
	assert.Equal(t, 600, cfg.Crawl.WaitTimeoutSecs)
	assert.Equal(t, 4, cfg.Scrape.MaxConcurrent)
	assert.False(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Circuit.Enabled)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "webtranspose.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := isolate(t)

	yaml := `
api_key: file-key
api:
  base_url: http://localhost:9999
  rate_per_sec: 2.5
crawl:
  max_pages: 40
  render_js: true
store:
  driver: postgres
  database_url: postgres://localhost/wt
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webtranspose.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, "http://localhost:9999", cfg.API.BaseURL)
	assert.InDelta(t, 2.5, cfg.API.RatePerSec, 0.001)
	assert.Equal(t, 40, cfg.Crawl.MaxPages)
	assert.True(t, cfg.Crawl.RenderJS)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Scrape.MaxConcurrent)
}

func TestLoadFromHomeDir(t *testing.T) {
	dir := isolate(t)
	home := filepath.Join(dir, ".webtranspose")
	require.NoError(t, os.MkdirAll(home, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "webtranspose.yaml"), []byte("crawl:\n  max_pages: 7\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crawl.MaxPages)
}

func TestLoadFile_Explicit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7070\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webtranspose.yaml"), []byte("api_key: file-key\n"), 0o644))
	t.Setenv(webtranspose.EnvAPIKey, "  env-key ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WEBTRANSPOSE_CRAWL_MAX_PAGES=33\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("WEBTRANSPOSE_CRAWL_MAX_PAGES") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 33, cfg.Crawl.MaxPages)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webtranspose.yaml"), []byte("store:\n  driver: postgres\nlog:\n  level: debug\n"), 0o644))

	t.Setenv("WEBTRANSPOSE_STORE_DRIVER", "sqlite")
	t.Setenv("WEBTRANSPOSE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("WEBTRANSPOSE_STORE_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API:    APIConfig{TimeoutSecs: 10},
			Store:  StoreConfig{Driver: "sqlite"},
			Server: ServerConfig{Port: 8080},
			Log:    LogConfig{Format: "json"},
		}
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"timeout", func(c *Config) { c.API.TimeoutSecs = 0 }, "api.timeout_secs"},
		{"rate", func(c *Config) { c.API.RatePerSec = -1 }, "api.rate_per_sec"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCrawlConfig_PollOptions(t *testing.T) {
	assert.Empty(t, CrawlConfig{}.PollOptions())
	assert.Len(t, CrawlConfig{PollInitialMs: 10, PollCapMs: 20, WaitTimeoutSecs: 1}.PollOptions(), 3)
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wt.log")
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1}))
	zap.L().Info("rotating file sink")
	_ = zap.L().Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotating file sink")
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
