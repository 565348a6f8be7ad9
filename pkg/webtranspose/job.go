package webtranspose

import (
	"context"

	"go.uber.org/zap"
)

// CrawlJob is a handle to a remote crawl. Progress lives on the service and
// every accessor asks it; Request mirrors the last settings sent.
type CrawlJob struct {
	ID      string
	Request CrawlRequest
	client  Client
}

// AttachCrawl returns a handle for an existing remote crawl.
func AttachCrawl(client Client, crawlID string) *CrawlJob {
	return &CrawlJob{ID: crawlID, client: client}
}

// Status fetches the current remote progress.
func (j *CrawlJob) Status(ctx context.Context) (*CrawlStatus, error) {
	return j.client.GetCrawlStatus(ctx, j.ID)
}

// Wait blocks until the crawl has started and then drained its queue or hit
// its page budget. A crawl whose first page failed ends with a remote
// first_page_failed error.
func (j *CrawlJob) Wait(ctx context.Context, opts ...PollOption) (*CrawlResult, error) {
	cfg := newPollConfig(opts)

	var last *CrawlStatus
	err := poll(ctx, cfg, pathCrawlGet, func(ctx context.Context) (bool, error) {
		s, err := j.client.GetCrawlStatus(ctx, j.ID)
		if err != nil {
			return false, err
		}
		if s.MaxPages == 0 {
			s.MaxPages = j.Request.MaxPages
		}
		last = s

		if !s.Started() {
			if s.NumFailed > 0 {
				return false, remoteError(pathCrawlGet, 0, CodeFirstPageFailed, "the first page of crawl "+j.ID+" failed")
			}
			return false, nil
		}
		zap.L().Debug("webtranspose: crawl progress",
			zap.String("crawl_id", j.ID),
			zap.Int("visited", s.NumVisited),
			zap.Int("queued", s.NumQueued),
			zap.Int("failed", s.NumFailed),
		)
		return s.Done(), nil
	})
	if err != nil {
		return nil, err
	}

	visited, err := j.client.GetCrawlURLs(ctx, j.ID, URLSetVisited)
	if err != nil {
		return nil, err
	}
	return &CrawlResult{Job: j, Status: *last, Visited: visited}, nil
}

// Visited lists pages crawled successfully.
func (j *CrawlJob) Visited(ctx context.Context) ([]string, error) {
	return j.client.GetCrawlURLs(ctx, j.ID, URLSetVisited)
}

// Ignored lists pages skipped by allow/ban rules.
func (j *CrawlJob) Ignored(ctx context.Context) ([]string, error) {
	return j.client.GetCrawlURLs(ctx, j.ID, URLSetIgnored)
}

// Failed lists pages that could not be fetched.
func (j *CrawlJob) Failed(ctx context.Context) ([]string, error) {
	return j.client.GetCrawlURLs(ctx, j.ID, URLSetFailed)
}

// Banned lists pages excluded by ban patterns.
func (j *CrawlJob) Banned(ctx context.Context) ([]string, error) {
	return j.client.GetCrawlURLs(ctx, j.ID, URLSetBanned)
}

// Queued lists up to max URLs still waiting to be crawled.
func (j *CrawlJob) Queued(ctx context.Context, max int) ([]string, error) {
	return j.client.GetCrawlQueue(ctx, j.ID, max)
}

// Page fetches a crawled page.
func (j *CrawlJob) Page(ctx context.Context, pageURL string) (*Page, error) {
	return j.client.GetCrawlPage(ctx, j.ID, pageURL)
}

// ChildURLs lists links discovered on a crawled page.
func (j *CrawlJob) ChildURLs(ctx context.Context, pageURL string) ([]string, error) {
	return j.client.GetChildURLs(ctx, j.ID, pageURL)
}

// SetAllowedURLs replaces the allow patterns of the running crawl.
func (j *CrawlJob) SetAllowedURLs(ctx context.Context, patterns []string) error {
	if err := j.client.SetAllowedURLs(ctx, j.ID, patterns); err != nil {
		return err
	}
	j.Request.AllowedURLs = patterns
	return nil
}

// SetBannedURLs replaces the ban patterns of the running crawl.
func (j *CrawlJob) SetBannedURLs(ctx context.Context, patterns []string) error {
	if err := j.client.SetBannedURLs(ctx, j.ID, patterns); err != nil {
		return err
	}
	j.Request.BannedURLs = patterns
	return nil
}

// SetMaxPages changes the page budget of the running crawl.
func (j *CrawlJob) SetMaxPages(ctx context.Context, maxPages int) error {
	if err := j.client.SetMaxPages(ctx, j.ID, maxPages); err != nil {
		return err
	}
	j.Request.MaxPages = maxPages
	return nil
}

// RetryFailed requeues failed pages.
func (j *CrawlJob) RetryFailed(ctx context.Context) error {
	return j.client.RetryFailed(ctx, j.ID)
}

// DownloadURL returns a presigned URL for a zip of the crawled pages.
func (j *CrawlJob) DownloadURL(ctx context.Context) (string, error) {
	return j.client.GetDownloadURL(ctx, j.ID)
}
