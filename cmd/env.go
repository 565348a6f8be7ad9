package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/webtranspose/internal/ledger"
	"github.com/sells-group/webtranspose/internal/monitoring"
	"github.com/sells-group/webtranspose/internal/resilience"
	"github.com/sells-group/webtranspose/internal/store"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// appEnv holds the collaborators shared by commands.
type appEnv struct {
	Client  webtranspose.Client
	Store   store.Store
	Ledger  *ledger.Recorder
	Cache   *ledger.ScrapeCache
	Metrics *monitoring.Metrics
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initEnv opens and migrates the job store and builds the API client.
// Metrics are collected only when withMetrics is set.
func initEnv(ctx context.Context, withMetrics bool) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{
		Store: st,
		Cache: ledger.NewScrapeCache(st, time.Duration(cfg.Scrape.CacheTTLHours)*time.Hour),
	}
	if withMetrics {
		env.Metrics = monitoring.NewMetrics()
		env.Ledger = ledger.New(st, env.Metrics)
		env.Client = newClient(env.Metrics)
	} else {
		env.Ledger = ledger.New(st, nil)
		env.Client = newClient(nil)
	}
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "webtranspose.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newClient builds the API client from cfg. observer may be nil.
func newClient(observer webtranspose.Observer) webtranspose.Client {
	opts := []webtranspose.Option{
		webtranspose.WithBaseURL(cfg.API.BaseURL),
		webtranspose.WithTimeout(cfg.API.Timeout()),
	}
	if cfg.API.RatePerSec > 0 {
		opts = append(opts, webtranspose.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.API.RatePerSec), max(cfg.API.Burst, 1))))
	}
	if cfg.Retry.Enabled {
		opts = append(opts, webtranspose.WithRetry(resilience.RetryFromSettings(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
		)))
	}
	if cfg.Circuit.Enabled {
		opts = append(opts, webtranspose.WithCircuitBreaker(resilience.NewCircuitBreaker(
			resilience.CircuitFromSettings(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		)))
	}
	if observer != nil {
		opts = append(opts, webtranspose.WithObserver(observer))
	}
	return webtranspose.NewClient(cfg.APIKey, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
