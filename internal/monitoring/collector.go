package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job and API health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal    int            `json:"jobs_total"`
	JobsQueued   int            `json:"jobs_queued"`
	JobsRunning  int            `json:"jobs_running"`
	JobsComplete int            `json:"jobs_complete"`
	JobsFailed   int            `json:"jobs_failed"`
	JobFailRate  float64        `json:"job_fail_rate"`
	JobsByKind   map[string]int `json:"jobs_by_kind"`

	// API call metrics since process start.
	APICalls    int64   `json:"api_calls"`
	APIFailures int64   `json:"api_failures"`
	APIFailRate float64 `json:"api_fail_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// APICounter reports running API call totals. *Metrics implements it.
type APICounter interface {
	APICounts() (total, failed int64)
}

// Collector gathers metrics from the job ledger and API counters.
type Collector struct {
	store store.Store
	api   APICounter
}

// NewCollector creates a new metrics collector. api may be nil.
func NewCollector(st store.Store, api APICounter) *Collector {
	return &Collector{store: st, api: api}
}

const collectLimit = 10000

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		JobsByKind:    make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		snap.JobsByKind[string(j.Kind)]++
		switch j.Status {
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusRunning:
			snap.JobsRunning++
		case model.JobStatusComplete:
			snap.JobsComplete++
		case model.JobStatusFailed:
			snap.JobsFailed++
		}
	}
	if finished := snap.JobsComplete + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.api != nil {
		snap.APICalls, snap.APIFailures = c.api.APICounts()
		if snap.APICalls > 0 {
			snap.APIFailRate = float64(snap.APIFailures) / float64(snap.APICalls)
		}
	}
	return snap, nil
}
