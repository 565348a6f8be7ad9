package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	jobs    []model.Job
	listErr error
}

func (m *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Job
	for _, j := range m.jobs {
		if !filter.CreatedAfter.IsZero() && j.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		filtered = append(filtered, j)
	}
	return filtered, nil
}

// Unused store methods; satisfy the interface.
func (m *mockStore) CreateJob(context.Context, *model.Job) error                { return nil }
func (m *mockStore) UpdateJobStatus(context.Context, string, model.JobUpdate) error { return nil }
func (m *mockStore) GetJob(context.Context, string) (*model.Job, error)         { return nil, nil }
func (m *mockStore) GetJobByRemoteID(context.Context, model.JobKind, string) (*model.Job, error) {
	return nil, nil
}
func (m *mockStore) GetCachedScrape(context.Context, string) ([]byte, error) { return nil, nil }
func (m *mockStore) SetCachedScrape(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (m *mockStore) DeleteExpiredScrapes(context.Context) (int, error) { return 0, nil }
func (m *mockStore) Migrate(context.Context) error                    { return nil }
func (m *mockStore) Close() error                                     { return nil }

type fixedCounter struct{ total, failed int64 }

func (f fixedCounter) APICounts() (int64, int64) { return f.total, f.failed }

func job(kind model.JobKind, status model.JobStatus, age time.Duration) model.Job {
	return model.Job{Kind: kind, Status: status, CreatedAt: time.Now().UTC().Add(-age)}
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.JobsTotal)
	assert.Equal(t, 0.0, snap.JobFailRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_JobMetrics(t *testing.T) {
	st := &mockStore{jobs: []model.Job{
		job(model.JobKindCrawl, model.JobStatusComplete, time.Hour),
		job(model.JobKindCrawl, model.JobStatusComplete, time.Hour),
		job(model.JobKindCrawl, model.JobStatusFailed, time.Hour),
		job(model.JobKindScraper, model.JobStatusComplete, 2*time.Hour),
		job(model.JobKindChatbot, model.JobStatusRunning, time.Minute),
		job(model.JobKindCrawl, model.JobStatusQueued, time.Minute),
		// Outside the window.
		job(model.JobKindCrawl, model.JobStatusFailed, 48*time.Hour),
	}}
	c := NewCollector(st, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.JobsTotal)
	assert.Equal(t, 3, snap.JobsComplete)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsRunning)
	assert.Equal(t, 1, snap.JobsQueued)
	assert.InDelta(t, 0.25, snap.JobFailRate, 1e-9)
	assert.Equal(t, 4, snap.JobsByKind["crawl"])
	assert.Equal(t, 1, snap.JobsByKind["scraper"])
	assert.Equal(t, 1, snap.JobsByKind["chatbot"])
}

func TestCollector_APICounts(t *testing.T) {
	c := NewCollector(&mockStore{}, fixedCounter{total: 40, failed: 10})

	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), snap.APICalls)
	assert.Equal(t, int64(10), snap.APIFailures)
	assert.InDelta(t, 0.25, snap.APIFailRate, 1e-9)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockStore{listErr: errors.New("db down")}, nil)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list jobs")
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	st := &mockStore{jobs: []model.Job{
		job(model.JobKindCrawl, model.JobStatusRunning, time.Minute),
	}}
	snap, err := NewCollector(st, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.JobFailRate)
}
