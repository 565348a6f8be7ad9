package webtranspose

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// CrawlRequest configures a remote crawl.
type CrawlRequest struct {
	URL         string   `json:"url"`
	MaxPages    int      `json:"max_pages"`
	RenderJS    bool     `json:"render_js"`
	AllowedURLs []string `json:"allowed_urls"`
	BannedURLs  []string `json:"banned_urls"`
}

// Validate checks the request locally. It never touches the network.
func (r CrawlRequest) Validate() error {
	if err := validateURL(pathCrawlCreate, r.URL); err != nil {
		return err
	}
	if r.MaxPages <= 0 {
		return configErrorf(pathCrawlCreate, "max_pages must be positive, got %d", r.MaxPages)
	}
	if err := validatePatterns(pathCrawlCreate, r.AllowedURLs); err != nil {
		return err
	}
	return validatePatterns(pathCrawlCreate, r.BannedURLs)
}

func (r CrawlRequest) wire() CrawlRequest {
	if r.AllowedURLs == nil {
		r.AllowedURLs = []string{}
	}
	if r.BannedURLs == nil {
		r.BannedURLs = []string{}
	}
	return r
}

// CrawlStatus is the remote progress snapshot of a crawl.
type CrawlStatus struct {
	CrawlID     string   `json:"crawl_id"`
	BaseURL     string   `json:"base_url"`
	MaxPages    int      `json:"max_pages"`
	RenderJS    bool     `json:"render_js"`
	NumVisited  int      `json:"num_visited"`
	NumIgnored  int      `json:"num_ignored"`
	NumFailed   int      `json:"num_failed"`
	NumQueued   int      `json:"num_queued"`
	AllowedURLs []string `json:"allowed_urls"`
	BannedURLs  []string `json:"banned_urls"`
}

// Started reports whether the crawl has produced any page outcome.
func (s CrawlStatus) Started() bool {
	return s.NumQueued+s.NumVisited+s.NumIgnored > 0
}

// Done reports whether the crawl has nothing left to do.
func (s CrawlStatus) Done() bool {
	if !s.Started() {
		return false
	}
	return s.NumQueued == 0 || (s.MaxPages > 0 && s.NumVisited >= s.MaxPages)
}

// Page is a single crawled page.
type Page struct {
	URL        string   `json:"url"`
	Type       string   `json:"type,omitempty"`
	Title      string   `json:"title,omitempty"`
	Date       string   `json:"date,omitempty"`
	Text       string   `json:"text,omitempty"`
	HTML       string   `json:"html,omitempty"`
	ParentURLs []string `json:"parent_urls,omitempty"`
	ChildURLs  []string `json:"child_urls,omitempty"`
}

// URLSet names one of the remote per-crawl URL lists.
type URLSet string

// URL sets tracked by the service for each crawl.
const (
	URLSetVisited URLSet = "visited"
	URLSetIgnored URLSet = "ignored"
	URLSetFailed  URLSet = "failed"
	URLSetBanned  URLSet = "banned"
)

// ParseURLSet validates a URL set name.
func ParseURLSet(s string) (URLSet, error) {
	switch set := URLSet(strings.ToLower(strings.TrimSpace(s))); set {
	case URLSetVisited, URLSetIgnored, URLSetFailed, URLSetBanned:
		return set, nil
	}
	return "", configErrorf("crawl", "unknown url set %q", s)
}

func (s URLSet) path() string {
	return "v1/crawl/get/" + string(s)
}

// CrawlResult is returned by a blocking crawl once the remote job is done.
type CrawlResult struct {
	Job     *CrawlJob
	Status  CrawlStatus
	Visited []string
}

type crawlIDBody struct {
	CrawlID string `json:"crawl_id"`
}

// QueueCrawl creates a crawl remotely, starts it, and returns a handle
// without waiting for completion.
func (c *httpClient) QueueCrawl(ctx context.Context, req CrawlRequest) (*CrawlJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var created crawlIDBody
	if err := c.call(ctx, pathCrawlCreate, req.wire(), &created); err != nil {
		return nil, err
	}
	if created.CrawlID == "" {
		return nil, remoteError(pathCrawlCreate, 0, CodeInvalidResponse, "response missing crawl_id")
	}
	if err := c.call(ctx, pathCrawlResume, crawlIDBody{CrawlID: created.CrawlID}, nil); err != nil {
		return nil, err
	}

	zap.L().Info("webtranspose: crawl queued",
		zap.String("crawl_id", created.CrawlID),
		zap.String("url", req.URL),
		zap.Int("max_pages", req.MaxPages),
	)
	return &CrawlJob{ID: created.CrawlID, Request: req, client: c}, nil
}

// Crawl queues a crawl and blocks until it completes.
func (c *httpClient) Crawl(ctx context.Context, req CrawlRequest, opts ...PollOption) (*CrawlResult, error) {
	job, err := c.QueueCrawl(ctx, req)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx, opts...)
}

func (c *httpClient) GetCrawlStatus(ctx context.Context, crawlID string) (*CrawlStatus, error) {
	if err := requireID(pathCrawlGet, "crawl_id", crawlID); err != nil {
		return nil, err
	}
	var status CrawlStatus
	if err := c.call(ctx, pathCrawlGet, crawlIDBody{CrawlID: crawlID}, &status); err != nil {
		return nil, err
	}
	if status.CrawlID == "" {
		status.CrawlID = crawlID
	}
	return &status, nil
}

func (c *httpClient) ListCrawls(ctx context.Context) ([]CrawlStatus, error) {
	var resp struct {
		Crawls []CrawlStatus `json:"crawls"`
	}
	if err := c.call(ctx, pathCrawlList, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Crawls, nil
}

func (c *httpClient) GetCrawlURLs(ctx context.Context, crawlID string, set URLSet) ([]string, error) {
	op := set.path()
	if _, err := ParseURLSet(string(set)); err != nil {
		return nil, err
	}
	if err := requireID(op, "crawl_id", crawlID); err != nil {
		return nil, err
	}
	var resp map[string]json.RawMessage
	if err := c.call(ctx, op, crawlIDBody{CrawlID: crawlID}, &resp); err != nil {
		return nil, err
	}
	return decodeURLList(op, resp, "pages", "urls")
}

func (c *httpClient) GetCrawlQueue(ctx context.Context, crawlID string, max int) ([]string, error) {
	if err := requireID(pathCrawlQueue, "crawl_id", crawlID); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 10
	}
	body := struct {
		CrawlID  string `json:"crawl_id"`
		MaxPages int    `json:"max_pages"`
	}{crawlID, max}
	var resp map[string]json.RawMessage
	if err := c.call(ctx, pathCrawlQueue, body, &resp); err != nil {
		return nil, err
	}
	return decodeURLList(pathCrawlQueue, resp, "urls", "pages")
}

type crawlPageBody struct {
	CrawlID string `json:"crawl_id"`
	URL     string `json:"url"`
}

func (c *httpClient) GetCrawlPage(ctx context.Context, crawlID, pageURL string) (*Page, error) {
	if err := requireID(pathCrawlPage, "crawl_id", crawlID); err != nil {
		return nil, err
	}
	if err := validateURL(pathCrawlPage, pageURL); err != nil {
		return nil, err
	}
	var page Page
	if err := c.call(ctx, pathCrawlPage, crawlPageBody{crawlID, pageURL}, &page); err != nil {
		return nil, err
	}
	if page.URL == "" {
		page.URL = pageURL
	}
	return &page, nil
}

func (c *httpClient) GetChildURLs(ctx context.Context, crawlID, pageURL string) ([]string, error) {
	if err := requireID(pathCrawlChildURLs, "crawl_id", crawlID); err != nil {
		return nil, err
	}
	if err := validateURL(pathCrawlChildURLs, pageURL); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.call(ctx, pathCrawlChildURLs, crawlPageBody{crawlID, pageURL}, &raw); err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		return urlsFromElements(pathCrawlChildURLs, list)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, remoteError(pathCrawlChildURLs, 0, CodeInvalidResponse, "child urls response is neither a list nor an object")
	}
	return decodeURLList(pathCrawlChildURLs, obj, "child_urls", "urls")
}

func (c *httpClient) SetAllowedURLs(ctx context.Context, crawlID string, patterns []string) error {
	return c.setPatterns(ctx, pathCrawlSetAllowed, "allowed_urls", crawlID, patterns)
}

func (c *httpClient) SetBannedURLs(ctx context.Context, crawlID string, patterns []string) error {
	return c.setPatterns(ctx, pathCrawlSetBanned, "banned_urls", crawlID, patterns)
}

func (c *httpClient) setPatterns(ctx context.Context, op, field, crawlID string, patterns []string) error {
	if err := requireID(op, "crawl_id", crawlID); err != nil {
		return err
	}
	if err := validatePatterns(op, patterns); err != nil {
		return err
	}
	if patterns == nil {
		patterns = []string{}
	}
	return c.call(ctx, op, map[string]any{"crawl_id": crawlID, field: patterns}, nil)
}

func (c *httpClient) SetMaxPages(ctx context.Context, crawlID string, maxPages int) error {
	if err := requireID(pathCrawlSetMaxPages, "crawl_id", crawlID); err != nil {
		return err
	}
	if maxPages <= 0 {
		return configErrorf(pathCrawlSetMaxPages, "max_pages must be positive, got %d", maxPages)
	}
	body := struct {
		CrawlID  string `json:"crawl_id"`
		MaxPages int    `json:"max_pages"`
	}{crawlID, maxPages}
	return c.call(ctx, pathCrawlSetMaxPages, body, nil)
}

func (c *httpClient) RetryFailed(ctx context.Context, crawlID string) error {
	if err := requireID(pathCrawlRetryFailed, "crawl_id", crawlID); err != nil {
		return err
	}
	return c.call(ctx, pathCrawlRetryFailed, crawlIDBody{CrawlID: crawlID}, nil)
}

// GetDownloadURL returns a presigned URL to a zip archive of the crawl's pages.
func (c *httpClient) GetDownloadURL(ctx context.Context, crawlID string) (string, error) {
	if err := requireID(pathCrawlDownload, "crawl_id", crawlID); err != nil {
		return "", err
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, pathCrawlDownload, crawlIDBody{CrawlID: crawlID}, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", remoteError(pathCrawlDownload, 0, CodeInvalidResponse, "response missing url")
	}
	return resp.URL, nil
}

func validateURL(op, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return configErrorf(op, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return configErrorf(op, "invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return configErrorf(op, "url %q must use http or https", raw)
	}
	if u.Host == "" {
		return configErrorf(op, "url %q has no host", raw)
	}
	return nil
}

func validatePatterns(op string, patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return configErrorf(op, "empty url pattern")
		}
		if _, err := path.Match(p, ""); err != nil {
			return configErrorf(op, "invalid url pattern %q: %v", p, err)
		}
	}
	return nil
}

func requireID(op, name, id string) error {
	if strings.TrimSpace(id) == "" {
		return configErrorf(op, "%s is required", name)
	}
	return nil
}

// decodeURLList reads the first present key of obj as a list of URLs. List
// elements may be plain strings or objects with a "url" field.
func decodeURLList(op string, obj map[string]json.RawMessage, keys ...string) ([]string, error) {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		if string(raw) == "null" {
			return []string{}, nil
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, remoteError(op, 0, CodeInvalidResponse, k+" is not a list")
		}
		return urlsFromElements(op, list)
	}
	return []string{}, nil
}

func urlsFromElements(op string, list []json.RawMessage) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, el := range list {
		var s string
		if json.Unmarshal(el, &s) == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(el, &obj); err != nil || obj.URL == "" {
			return nil, remoteError(op, 0, CodeInvalidResponse, "list element is neither a url string nor an object with url")
		}
		out = append(out, obj.URL)
	}
	return out, nil
}
