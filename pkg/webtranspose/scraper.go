package webtranspose

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultScraperName = "New Scraper"

// ScraperSpec is the body of a scraper creation call.
type ScraperSpec struct {
	Name     string            `json:"name"`
	Schema   map[string]string `json:"schema"`
	RenderJS bool              `json:"render_js"`
}

// ScrapeInput selects what a scraper runs against: a URL the service fetches,
// or HTML supplied by the caller.
type ScrapeInput struct {
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`
}

// ScraperInfo describes a scraper.
type ScraperInfo struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	RenderJS bool              `json:"render_js"`
	Schema   map[string]string `json:"schema"`
	// Created is false for a scraper that exists only locally.
	Created bool `json:"created"`
}

func (c *httpClient) CreateScraper(ctx context.Context, spec ScraperSpec) (string, error) {
	if len(spec.Schema) == 0 {
		return "", configErrorf(pathScraperCreate, "schema must declare at least one field")
	}
	if spec.Name == "" {
		spec.Name = defaultScraperName
	}
	var resp struct {
		ScraperID string `json:"scraper_id"`
	}
	if err := c.call(ctx, pathScraperCreate, spec, &resp); err != nil {
		return "", err
	}
	if resp.ScraperID == "" {
		return "", remoteError(pathScraperCreate, 0, CodeInvalidResponse, "response missing scraper_id")
	}
	return resp.ScraperID, nil
}

func (c *httpClient) RunScraper(ctx context.Context, scraperID string, in ScrapeInput) (json.RawMessage, error) {
	if err := requireID(pathScraperScrape, "scraper_id", scraperID); err != nil {
		return nil, err
	}
	if in.URL == "" && in.HTML == "" {
		return nil, configErrorf(pathScraperScrape, "either url or html is required")
	}
	if in.URL != "" {
		if err := validateURL(pathScraperScrape, in.URL); err != nil {
			return nil, err
		}
	}
	body := struct {
		ScraperID string `json:"scraper_id"`
		ScrapeInput
	}{scraperID, in}

	var raw json.RawMessage
	if err := c.call(ctx, pathScraperScrape, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *httpClient) GetScraperInfo(ctx context.Context, scraperID string) (*ScraperInfo, error) {
	if err := requireID(pathScraperGet, "scraper_id", scraperID); err != nil {
		return nil, err
	}
	var resp struct {
		Scraper *ScraperInfo `json:"scraper"`
	}
	body := map[string]string{"scraper_id": scraperID}
	if err := c.call(ctx, pathScraperGet, body, &resp); err != nil {
		return nil, err
	}
	if resp.Scraper == nil {
		return nil, remoteError(pathScraperGet, 0, CodeInvalidResponse, "response missing scraper")
	}
	info := resp.Scraper
	if info.ID == "" {
		info.ID = scraperID
	}
	info.Created = true
	return info, nil
}

func (c *httpClient) ListScrapers(ctx context.Context) ([]ScraperInfo, error) {
	var resp struct {
		Scrapers []ScraperInfo `json:"scrapers"`
	}
	if err := c.call(ctx, pathScraperList, struct{}{}, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Scrapers {
		resp.Scrapers[i].Created = true
	}
	return resp.Scrapers, nil
}

// ScraperOption configures a Scraper.
type ScraperOption func(*Scraper)

// WithScraperName sets the display name used when the scraper is created.
func WithScraperName(name string) ScraperOption {
	return func(s *Scraper) {
		if name != "" {
			s.name = name
		}
	}
}

// WithRenderJS asks the service to render pages with a browser before extraction.
func WithRenderJS(on bool) ScraperOption {
	return func(s *Scraper) {
		s.renderJS = on
	}
}

// WithScraperID binds the handle to an already created remote scraper.
func WithScraperID(id string) ScraperOption {
	return func(s *Scraper) {
		if id != "" {
			s.remoteID = id
		}
	}
}

// Scraper extracts schema-shaped records from pages. The remote scraper is
// created on first use; concurrent first calls create it once.
type Scraper struct {
	client   Client
	schema   Schema
	name     string
	renderJS bool
	localID  string

	// createMu serializes remote creation; mu guards remoteID only.
	createMu sync.Mutex
	mu       sync.Mutex
	remoteID string
}

// NewScraper returns a scraper handle. No remote call is made.
func NewScraper(client Client, schema Schema, opts ...ScraperOption) *Scraper {
	s := &Scraper{
		client:  client,
		schema:  schema,
		name:    defaultScraperName,
		localID: uuid.NewString(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetScraper attaches to an existing remote scraper, recovering its schema.
func GetScraper(ctx context.Context, client Client, scraperID string) (*Scraper, error) {
	info, err := client.GetScraperInfo(ctx, scraperID)
	if err != nil {
		return nil, err
	}
	schema, err := NewSchema(info.Schema)
	if err != nil {
		return nil, &Error{Kind: KindRemote, Op: pathScraperGet, Code: CodeSchemaMismatch, Message: "stored scraper schema is invalid", Err: err}
	}
	return NewScraper(client, schema,
		WithScraperID(info.ID),
		WithScraperName(info.Name),
		WithRenderJS(info.RenderJS),
	), nil
}

// Schema returns the scraper's schema.
func (s *Scraper) Schema() Schema { return s.schema }

// Name returns the scraper's display name.
func (s *Scraper) Name() string { return s.name }

// RenderJS reports whether pages are rendered before extraction.
func (s *Scraper) RenderJS() bool { return s.renderJS }

// CheckCredential returns an error matching ErrMissingAPIKey when the
// scraper's client has no API key.
func (s *Scraper) CheckCredential() error {
	if kc, ok := s.client.(interface{ hasAPIKey() bool }); ok && !kc.hasAPIKey() {
		return missingKeyError(pathScraperScrape)
	}
	return nil
}

// ID returns the remote id once created, otherwise a local placeholder id.
func (s *Scraper) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteID != "" {
		return s.remoteID
	}
	return s.localID
}

// Created reports whether the remote scraper exists.
func (s *Scraper) Created() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID != ""
}

// Status describes the scraper. Before creation it is built locally; after,
// the service is asked.
func (s *Scraper) Status(ctx context.Context) (*ScraperInfo, error) {
	id := s.remote()
	if id == "" {
		return &ScraperInfo{
			ID:       s.localID,
			Name:     s.name,
			RenderJS: s.renderJS,
			Schema:   s.schema.Map(),
		}, nil
	}
	return s.client.GetScraperInfo(ctx, id)
}

func (s *Scraper) remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

func (s *Scraper) ensureCreated(ctx context.Context) (string, error) {
	if id := s.remote(); id != "" {
		return id, nil
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if id := s.remote(); id != "" {
		return id, nil
	}
	id, err := s.client.CreateScraper(ctx, ScraperSpec{
		Name:     s.name,
		Schema:   s.schema.Map(),
		RenderJS: s.renderJS,
	})
	if err != nil {
		return "", err
	}
	zap.L().Info("webtranspose: scraper created", zap.String("scraper_id", id), zap.String("name", s.name))
	s.mu.Lock()
	s.remoteID = id
	s.mu.Unlock()
	return id, nil
}

// Scrape extracts a record from the page at pageURL.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (Record, error) {
	if err := validateURL(pathScraperScrape, pageURL); err != nil {
		return nil, err
	}
	return s.run(ctx, ScrapeInput{URL: strings.TrimSpace(pageURL)})
}

// ScrapeHTML extracts a record from caller-supplied HTML.
func (s *Scraper) ScrapeHTML(ctx context.Context, html string) (Record, error) {
	if strings.TrimSpace(html) == "" {
		return nil, configErrorf(pathScraperScrape, "html is required")
	}
	return s.run(ctx, ScrapeInput{HTML: html})
}

func (s *Scraper) run(ctx context.Context, in ScrapeInput) (Record, error) {
	if s.schema.Len() == 0 {
		return nil, configErrorf(pathScraperCreate, "schema must declare at least one field")
	}
	id, err := s.ensureCreated(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.RunScraper(ctx, id, in)
	if err != nil {
		return nil, err
	}
	return s.schema.Normalize(raw)
}

// ScrapeOutcome is the per-URL result of ScrapeAll.
type ScrapeOutcome struct {
	URL    string
	Record Record
	Err    error
}

// ScrapeAll scrapes urls with at most maxConcurrent calls in flight. Outcomes
// are returned in input order; a failure on one URL does not stop the others.
func (s *Scraper) ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []ScrapeOutcome {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	out := make([]ScrapeOutcome, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			rec, err := s.Scrape(gctx, u)
			out[i] = ScrapeOutcome{URL: u, Record: rec, Err: err}
			if err != nil {
				zap.L().Debug("webtranspose: scrape failed", zap.String("url", u), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
