// Package store persists the local job ledger and the scrape result cache.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/webtranspose/internal/model"
)

// ErrNotFound is returned when a job lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for jobs and cached scrapes.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJobStatus(ctx context.Context, id string, update model.JobUpdate) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetJobByRemoteID(ctx context.Context, kind model.JobKind, remoteID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Scrape cache
	GetCachedScrape(ctx context.Context, key string) ([]byte, error)
	SetCachedScrape(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredScrapes(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// JobFilter controls which jobs are listed.
type JobFilter struct {
	Kind         model.JobKind
	Status       model.JobStatus
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

const defaultListLimit = 100

func (f JobFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

func prepareJob(job *model.Job, now time.Time) error {
	if job == nil {
		return eris.New("store: nil job")
	}
	if !job.Kind.Valid() {
		return eris.Errorf("store: invalid job kind %q", job.Kind)
	}
	if job.RemoteID == "" {
		return eris.New("store: job remote id is required")
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// nullableJSON maps empty payloads to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
