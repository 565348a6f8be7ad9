// Package ledger records remote jobs in the local store and serves scrape
// results from the store's cache.
package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/internal/store"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// JobCounter receives job lifecycle counts. *monitoring.Metrics implements it.
type JobCounter interface {
	JobCreated(kind string)
	JobFinished(kind, status string)
}

// Recorder writes job handles and status snapshots to a store. A Recorder
// with a nil store records nothing.
type Recorder struct {
	store   store.Store
	counter JobCounter
}

// New returns a Recorder. Either argument may be nil.
func New(st store.Store, counter JobCounter) *Recorder {
	return &Recorder{store: st, counter: counter}
}

// Enabled reports whether a store is attached.
func (r *Recorder) Enabled() bool { return r != nil && r.store != nil }

func (r *Recorder) create(ctx context.Context, kind model.JobKind, remoteID, target string, request any) (*model.Job, error) {
	if r.counter != nil {
		r.counter.JobCreated(string(kind))
	}
	if !r.Enabled() {
		return nil, nil
	}
	reqJSON, err := json.Marshal(request)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal request")
	}
	job := &model.Job{
		Kind:     kind,
		RemoteID: remoteID,
		Target:   target,
		Status:   model.JobStatusQueued,
		Request:  reqJSON,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "ledger: record %s %s", kind, remoteID)
	}
	return job, nil
}

// Crawl records a newly queued crawl.
func (r *Recorder) Crawl(ctx context.Context, job *webtranspose.CrawlJob) (*model.Job, error) {
	return r.create(ctx, model.JobKindCrawl, job.ID, job.Request.URL, job.Request)
}

// Scraper records a scraper once it exists remotely.
func (r *Recorder) Scraper(ctx context.Context, s *webtranspose.Scraper) (*model.Job, error) {
	if !s.Created() {
		return nil, nil
	}
	if existing, err := r.lookup(ctx, model.JobKindScraper, s.ID()); existing != nil || err != nil {
		return existing, err
	}
	job, err := r.create(ctx, model.JobKindScraper, s.ID(), s.Name(), s.Schema().Map())
	if err != nil || job == nil {
		return job, err
	}
	return job, r.update(ctx, model.JobKindScraper, s.ID(), model.JobUpdate{Status: model.JobStatusComplete})
}

// Chatbot records a chatbot being built.
func (r *Recorder) Chatbot(ctx context.Context, job *webtranspose.ChatbotJob) (*model.Job, error) {
	return r.create(ctx, model.JobKindChatbot, job.ID, job.Request.Name, job.Request)
}

// CrawlJobStatus maps a remote crawl snapshot to a ledger status.
func CrawlJobStatus(s webtranspose.CrawlStatus) model.JobStatus {
	switch {
	case s.Done():
		return model.JobStatusComplete
	case !s.Started() && s.NumFailed > 0:
		return model.JobStatusFailed
	case s.Started():
		return model.JobStatusRunning
	default:
		return model.JobStatusQueued
	}
}

// ChatbotJobStatus maps a remote chatbot descriptor to a ledger status.
func ChatbotJobStatus(b webtranspose.Chatbot) model.JobStatus {
	switch {
	case b.Complete():
		return model.JobStatusComplete
	case b.Status == "failed":
		return model.JobStatusFailed
	case b.Status == "":
		return model.JobStatusQueued
	default:
		return model.JobStatusRunning
	}
}

// CrawlStatus stores a crawl progress snapshot. Crawls not in the ledger
// are ignored.
func (r *Recorder) CrawlStatus(ctx context.Context, s *webtranspose.CrawlStatus) error {
	stats, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal crawl status")
	}
	return r.update(ctx, model.JobKindCrawl, s.CrawlID, model.JobUpdate{
		Status: CrawlJobStatus(*s),
		Stats:  stats,
	})
}

// ChatbotStatus stores a chatbot descriptor.
func (r *Recorder) ChatbotStatus(ctx context.Context, b *webtranspose.Chatbot) error {
	stats, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal chatbot")
	}
	return r.update(ctx, model.JobKindChatbot, b.ID, model.JobUpdate{
		Status: ChatbotJobStatus(*b),
		Stats:  stats,
	})
}

// Failed marks a job failed with cause.
func (r *Recorder) Failed(ctx context.Context, kind model.JobKind, remoteID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.update(ctx, kind, remoteID, model.JobUpdate{Status: model.JobStatusFailed, Error: msg})
}

func (r *Recorder) lookup(ctx context.Context, kind model.JobKind, remoteID string) (*model.Job, error) {
	if !r.Enabled() {
		return nil, nil
	}
	job, err := r.store.GetJobByRemoteID(ctx, kind, remoteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (r *Recorder) update(ctx context.Context, kind model.JobKind, remoteID string, update model.JobUpdate) error {
	job, err := r.lookup(ctx, kind, remoteID)
	if err != nil || job == nil {
		return err
	}
	if job.Status == update.Status && update.Error == "" && len(update.Stats) == 0 {
		return nil
	}
	if err := r.store.UpdateJobStatus(ctx, job.ID, update); err != nil {
		return eris.Wrapf(err, "ledger: update %s %s", kind, remoteID)
	}
	if r.counter != nil && update.Status.Terminal() && !job.Status.Terminal() {
		r.counter.JobFinished(string(kind), string(update.Status))
	}
	zap.L().Debug("ledger: job updated",
		zap.String("kind", string(kind)),
		zap.String("remote_id", remoteID),
		zap.String("status", string(update.Status)),
	)
	return nil
}
