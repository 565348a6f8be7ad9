// Package webtranspose is a thin client for the hosted Web Transpose API:
// remote crawls, AI scrapers, web search and chatbots. All heavy lifting
// happens on the service; this package validates input, speaks the JSON wire
// protocol, and classifies failures.
package webtranspose

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/webtranspose/internal/resilience"
)

const (
	// DefaultBaseURL is the hosted API root.
	DefaultBaseURL = "https://api.webtranspose.com"
	// EnvAPIKey is the environment variable consulted by ResolveAPIKey.
	EnvAPIKey = "WEBTRANSPOSE_API_KEY"

	defaultTimeout = 180 * time.Second
	userAgent      = "webtranspose-go"
)

// API paths.
const (
	pathCrawlCreate      = "v1/crawl/create"
	pathCrawlResume      = "v1/crawl/resume"
	pathCrawlGet         = "v1/crawl/get"
	pathCrawlQueue       = "v1/crawl/get-queue"
	pathCrawlSetAllowed  = "v1/crawl/set-allowed"
	pathCrawlSetBanned   = "v1/crawl/set-banned"
	pathCrawlSetMaxPages = "v1/crawl/set-max-pages"
	pathCrawlPage        = "v1/crawl/get-page"
	pathCrawlChildURLs   = "v1/crawl/get-child-urls"
	pathCrawlRetryFailed = "v1/crawl/retry-failed"
	pathCrawlDownload    = "v1/crawl/download"
	pathCrawlList        = "v1/crawl/list"

	pathScraperCreate = "v1/scraper/create"
	pathScraperScrape = "v1/scraper/scrape"
	pathScraperGet    = "v1/scraper/get"
	pathScraperList   = "v1/scraper/list"

	pathSearch       = "v1/search"
	pathSearchFilter = "v1/search/filter"

	pathChatCreate       = "v1/chat/create"
	pathChatGet          = "v1/chat/get"
	pathChatQuery        = "v1/chat/database/query"
	pathChatAddURLs      = "v1/chat/urls/add"
	pathChatDeleteCrawls = "v1/chat/crawls/delete"
)

// Client defines the Web Transpose API operations.
type Client interface {
	// Crawl
	QueueCrawl(ctx context.Context, req CrawlRequest) (*CrawlJob, error)
	Crawl(ctx context.Context, req CrawlRequest, opts ...PollOption) (*CrawlResult, error)
	GetCrawlStatus(ctx context.Context, crawlID string) (*CrawlStatus, error)
	ListCrawls(ctx context.Context) ([]CrawlStatus, error)
	GetCrawlURLs(ctx context.Context, crawlID string, set URLSet) ([]string, error)
	GetCrawlQueue(ctx context.Context, crawlID string, max int) ([]string, error)
	GetCrawlPage(ctx context.Context, crawlID, pageURL string) (*Page, error)
	GetChildURLs(ctx context.Context, crawlID, pageURL string) ([]string, error)
	SetAllowedURLs(ctx context.Context, crawlID string, patterns []string) error
	SetBannedURLs(ctx context.Context, crawlID string, patterns []string) error
	SetMaxPages(ctx context.Context, crawlID string, maxPages int) error
	RetryFailed(ctx context.Context, crawlID string) error
	GetDownloadURL(ctx context.Context, crawlID string) (string, error)

	// Scrape
	CreateScraper(ctx context.Context, spec ScraperSpec) (string, error)
	RunScraper(ctx context.Context, scraperID string, in ScrapeInput) (json.RawMessage, error)
	GetScraperInfo(ctx context.Context, scraperID string) (*ScraperInfo, error)
	ListScrapers(ctx context.Context) ([]ScraperInfo, error)

	// Search
	Search(ctx context.Context, query string) (*SearchResponse, error)
	SearchFilter(ctx context.Context, query string) (*SearchResponse, error)

	// Chatbot
	CreateChatbot(ctx context.Context, req ChatbotRequest) (*ChatbotJob, error)
	GetChatbot(ctx context.Context, chatbotID string) (*Chatbot, error)
	QueryChatbot(ctx context.Context, chatbotID, query string, numRecords int) ([]ChatRecord, error)
	AddChatbotURLs(ctx context.Context, chatbotID string, urls []string, maxPages int) error
	DeleteChatbotCrawls(ctx context.Context, chatbotID string, crawlIDs []string) error
}

// Observer receives one callback per API call. outcome is "ok" or the
// error Kind name.
type Observer interface {
	ObserveRequest(path, outcome string, d time.Duration)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimiter throttles outgoing calls. The limiter is shared by all
// goroutines using the client.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithRetry opts in to retrying retryable failures. Without it, every call
// is attempted exactly once.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = &cfg
	}
}

// WithCircuitBreaker routes every call through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

// WithObserver registers a per-call metrics hook.
func WithObserver(o Observer) Option {
	return func(c *httpClient) {
		c.observer = o
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retry     *resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	observer  Observer
}

// NewClient creates a Web Transpose API client. An empty apiKey is accepted;
// every operation then fails with ErrMissingAPIKey before doing any I/O.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    strings.TrimSpace(apiKey),
		baseURL:   DefaultBaseURL,
		userAgent: userAgent,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveAPIKey returns explicit when set, otherwise the value of
// WEBTRANSPOSE_API_KEY.
func ResolveAPIKey(explicit string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv(EnvAPIKey))
}

func (c *httpClient) hasAPIKey() bool { return c.apiKey != "" }

// call performs one logical API call, applying the optional limiter,
// circuit breaker and retry policy around post.
func (c *httpClient) call(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" {
		c.observe(path, KindConfig.String(), 0)
		return missingKeyError(path)
	}

	attempt := func(ctx context.Context) error {
		if c.breaker == nil {
			return c.post(ctx, path, body, out)
		}
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.post(ctx, path, body, out)
		})
		if eris.Is(err, resilience.ErrCircuitOpen) {
			return &Error{Kind: KindTransport, Op: path, Code: CodeCircuitOpen, Err: err}
		}
		return err
	}

	if c.retry == nil {
		return attempt(ctx)
	}
	cfg := *c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("webtranspose", path)
	}
	return resilience.Do(ctx, cfg, attempt)
}

func (c *httpClient) post(ctx context.Context, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		c.observe(path, outcome, time.Since(start))
	}()

	buf, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindConfig, Op: path, Code: CodeInvalidRequest, Err: eris.Wrap(err, "marshal request")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(path, 0, eris.Wrap(err, "rate limiter wait"))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(buf))
	if err != nil {
		return &Error{Kind: KindConfig, Op: path, Code: CodeInvalidRequest, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(path, 0, eris.Wrap(err, "execute request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(path, resp.StatusCode, eris.Wrap(err, "read response body"))
	}

	zap.L().Debug("webtranspose: call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{
			Kind:       KindRemote,
			Op:         path,
			StatusCode: resp.StatusCode,
			Code:       CodeInvalidResponse,
			Err:        eris.Wrap(err, "decode response"),
		}
	}
	return nil
}

func (c *httpClient) observe(path, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(path, outcome, d)
	}
}
