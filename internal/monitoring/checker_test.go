package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webtranspose/internal/config"
	"github.com/sells-group/webtranspose/internal/model"
)

func failingJobs() []model.Job {
	return []model.Job{
		job(model.JobKindCrawl, model.JobStatusComplete, time.Hour),
		job(model.JobKindCrawl, model.JobStatusComplete, time.Hour),
		job(model.JobKindCrawl, model.JobStatusComplete, time.Hour),
		job(model.JobKindCrawl, model.JobStatusFailed, time.Hour),
		job(model.JobKindChatbot, model.JobStatusFailed, time.Hour),
		job(model.JobKindCrawl, model.JobStatusQueued, time.Minute),
		job(model.JobKindChatbot, model.JobStatusRunning, time.Minute),
	}
}

func checkerConfig(webhook string) config.MonitoringConfig {
	return config.MonitoringConfig{
		WebhookURL:           webhook,
		CheckIntervalSecs:    3600,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
		MinFinishedJobs:      1,
	}
}

func TestChecker_PublishesSnapshot(t *testing.T) {
	m := NewMetrics()
	st := &mockStore{jobs: failingJobs()}
	cfg := checkerConfig("")
	c := NewChecker(NewCollector(st, fixedCounter{total: 40, failed: 10}), NewAlerter(cfg), m, cfg)

	alerts, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	assert.InDelta(t, 0.4, testutil.ToFloat64(m.JobFailRatio), 1e-9)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.APIFailRatio), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsFiring.WithLabelValues(string(AlertJobFailureRate))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsFiring.WithLabelValues(string(AlertAPIFailureRate))))
	assert.Positive(t, testutil.ToFloat64(m.LastCheckEpoch))

	st.jobs = nil
	c.collector = NewCollector(st, fixedCounter{total: 40})
	_, err = c.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AlertsFiring.WithLabelValues(string(AlertJobFailureRate))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AlertsFiring.WithLabelValues(string(AlertAPIFailureRate))))
}

func TestChecker_WebhookOnlyWhenAlertStartsFiring(t *testing.T) {
	var posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	st := &mockStore{jobs: failingJobs()}
	cfg := checkerConfig(ts.URL)
	c := NewChecker(NewCollector(st, nil), NewAlerter(cfg), nil, cfg)
	ctx := context.Background()

	alerts, err := c.Check(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
	assert.Equal(t, int32(1), posts.Load())

	alerts, err = c.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, int32(1), posts.Load())

	st.jobs = []model.Job{job(model.JobKindCrawl, model.JobStatusComplete, time.Hour)}
	_, err = c.Check(ctx)
	require.NoError(t, err)

	st.jobs = failingJobs()
	alerts, err = c.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, int32(2), posts.Load())
}

func TestChecker_AlertsWithoutWebhook(t *testing.T) {
	cfg := checkerConfig("")
	c := NewChecker(NewCollector(&mockStore{jobs: failingJobs()}, nil), NewAlerter(cfg), nil, cfg)

	alerts, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestChecker_CollectErrorSkipsPublish(t *testing.T) {
	m := NewMetrics()
	cfg := checkerConfig("")
	c := NewChecker(NewCollector(&mockStore{listErr: errors.New("db down")}, nil), NewAlerter(cfg), m, cfg)

	_, err := c.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastCheckEpoch))
}

func TestChecker_RunChecksImmediatelyAndStops(t *testing.T) {
	m := NewMetrics()
	cfg := checkerConfig("")
	c := NewChecker(NewCollector(&mockStore{}, m), NewAlerter(cfg), m, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.LastCheckEpoch) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(config.MonitoringConfig{}), nil, config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, c.interval())

	c = NewChecker(nil, nil, nil, config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.interval())
}
