package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/ledger"
	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/internal/store"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

type crawlBody struct {
	URL         string   `json:"url"`
	MaxPages    int      `json:"max_pages"`
	RenderJS    *bool    `json:"render_js"`
	AllowedURLs []string `json:"allowed_urls"`
	BannedURLs  []string `json:"banned_urls"`
}

type crawlQueued struct {
	CrawlID string `json:"crawl_id"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status"`
}

func (s *Server) queueCrawl(r *http.Request) (any, int, error) {
	var body crawlBody
	if err := decodeBody(r, &body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	req := webtranspose.CrawlRequest{
		URL:         body.URL,
		MaxPages:    body.MaxPages,
		RenderJS:    s.cfg.CrawlRenderJS,
		AllowedURLs: body.AllowedURLs,
		BannedURLs:  body.BannedURLs,
	}
	if req.MaxPages == 0 {
		req.MaxPages = s.cfg.CrawlMaxPages
	}
	if body.RenderJS != nil {
		req.RenderJS = *body.RenderJS
	}

	job, err := s.client.QueueCrawl(r.Context(), req)
	if err != nil {
		return nil, 0, err
	}
	resp := crawlQueued{CrawlID: job.ID, Status: string(model.JobStatusQueued)}
	if entry := s.record(r.Context(), "crawl", job.ID, func(ctx context.Context) (*model.Job, error) {
		return s.ledger.Crawl(ctx, job)
	}); entry != nil {
		resp.JobID = entry.ID
	}
	return resp, http.StatusAccepted, nil
}

func (s *Server) listCrawls(r *http.Request) (any, int, error) {
	crawls, err := s.client.ListCrawls(r.Context())
	if err != nil {
		return nil, 0, err
	}
	return crawls, http.StatusOK, nil
}

type crawlState struct {
	*webtranspose.CrawlStatus
	State model.JobStatus `json:"state"`
}

func (s *Server) crawlStatus(r *http.Request) (any, int, error) {
	st, err := s.client.GetCrawlStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, 0, err
	}
	if err := s.ledger.CrawlStatus(r.Context(), st); err != nil {
		zap.L().Warn("gateway: record crawl status", zap.String("crawl_id", st.CrawlID), zap.Error(err))
	}
	return crawlState{CrawlStatus: st, State: ledger.CrawlJobStatus(*st)}, http.StatusOK, nil
}

func (s *Server) crawlURLs(r *http.Request) (any, int, error) {
	setName := r.URL.Query().Get("set")
	if setName == "" {
		setName = string(webtranspose.URLSetVisited)
	}
	set, err := webtranspose.ParseURLSet(setName)
	if err != nil {
		return nil, 0, err
	}
	urls, err := s.client.GetCrawlURLs(r.Context(), chi.URLParam(r, "id"), set)
	if err != nil {
		return nil, 0, err
	}
	return map[string]any{"set": set, "urls": urls}, http.StatusOK, nil
}

func (s *Server) crawlQueue(r *http.Request) (any, int, error) {
	n, err := intParam(r, "max", 10)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	urls, err := s.client.GetCrawlQueue(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		return nil, 0, err
	}
	return map[string]any{"urls": urls}, http.StatusOK, nil
}

func (s *Server) crawlPage(r *http.Request) (any, int, error) {
	page, err := s.client.GetCrawlPage(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("url"))
	if err != nil {
		return nil, 0, err
	}
	return page, http.StatusOK, nil
}

func (s *Server) retryCrawl(r *http.Request) (any, int, error) {
	id := chi.URLParam(r, "id")
	if err := s.client.RetryFailed(r.Context(), id); err != nil {
		return nil, 0, err
	}
	return crawlQueued{CrawlID: id, Status: string(model.JobStatusRunning)}, http.StatusAccepted, nil
}

type scrapeBody struct {
	ScraperID string            `json:"scraper_id"`
	Name      string            `json:"name"`
	Schema    map[string]string `json:"schema"`
	URL       string            `json:"url"`
	HTML      string            `json:"html"`
	RenderJS  *bool             `json:"render_js"`
}

type scrapeResult struct {
	ScraperID string              `json:"scraper_id"`
	URL       string              `json:"url,omitempty"`
	Record    webtranspose.Record `json:"record"`
	Cached    bool                `json:"cached"`
}

func (s *Server) scrape(r *http.Request) (any, int, error) {
	var body scrapeBody
	if err := decodeBody(r, &body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if (body.URL == "") == (strings.TrimSpace(body.HTML) == "") {
		return nil, http.StatusBadRequest, eris.New("gateway: exactly one of url or html is required")
	}

	sc, err := s.scraperFor(r.Context(), body)
	if err != nil {
		return nil, 0, err
	}

	var (
		rec    webtranspose.Record
		cached bool
	)
	if body.URL != "" {
		rec, cached, err = s.cache.Scrape(r.Context(), sc, body.URL)
	} else {
		rec, err = sc.ScrapeHTML(r.Context(), body.HTML)
	}
	if err != nil {
		return nil, 0, err
	}
	s.record(r.Context(), "scraper", sc.ID(), func(ctx context.Context) (*model.Job, error) {
		return s.ledger.Scraper(ctx, sc)
	})
	return scrapeResult{ScraperID: sc.ID(), URL: body.URL, Record: rec, Cached: cached}, http.StatusOK, nil
}

// scraperFor returns a shared scraper for the request's id or schema, so
// repeated requests reuse one remote scraper.
func (s *Server) scraperFor(ctx context.Context, body scrapeBody) (*webtranspose.Scraper, error) {
	if body.ScraperID != "" {
		key := "id:" + body.ScraperID
		if sc := s.cachedScraper(key); sc != nil {
			return sc, nil
		}
		sc, err := webtranspose.GetScraper(ctx, s.client, body.ScraperID)
		if err != nil {
			return nil, err
		}
		return s.storeScraper(key, sc), nil
	}

	schema, err := webtranspose.NewSchema(body.Schema)
	if err != nil {
		return nil, err
	}
	renderJS := s.cfg.ScrapeRenderJS
	if body.RenderJS != nil {
		renderJS = *body.RenderJS
	}
	key := "schema:" + ledger.CacheKey(schema, renderJS, "") + ":" + body.Name
	if sc := s.cachedScraper(key); sc != nil {
		return sc, nil
	}
	opts := []webtranspose.ScraperOption{webtranspose.WithRenderJS(renderJS)}
	if body.Name != "" {
		opts = append(opts, webtranspose.WithScraperName(body.Name))
	}
	return s.storeScraper(key, webtranspose.NewScraper(s.client, schema, opts...)), nil
}

func (s *Server) cachedScraper(key string) *webtranspose.Scraper {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrapers[key]
}

func (s *Server) storeScraper(key string, sc *webtranspose.Scraper) *webtranspose.Scraper {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.scrapers[key]; ok {
		return existing
	}
	s.scrapers[key] = sc
	return sc
}

func (s *Server) search(r *http.Request) (any, int, error) {
	q := r.URL.Query()
	query := q.Get("q")
	filter, _ := strconv.ParseBool(q.Get("filter"))

	var (
		resp *webtranspose.SearchResponse
		err  error
	)
	if filter {
		resp, err = s.client.SearchFilter(r.Context(), query)
	} else {
		resp, err = s.client.Search(r.Context(), query)
	}
	if err != nil {
		return nil, 0, err
	}
	return resp, http.StatusOK, nil
}

type chatbotBody struct {
	Name     string   `json:"name"`
	URLs     []string `json:"urls"`
	MaxPages int      `json:"max_pages"`
}

func (s *Server) createChatbot(r *http.Request) (any, int, error) {
	var body chatbotBody
	if err := decodeBody(r, &body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	job, err := s.client.CreateChatbot(r.Context(), webtranspose.ChatbotRequest{
		Name:     body.Name,
		URLs:     body.URLs,
		MaxPages: body.MaxPages,
	})
	if err != nil {
		return nil, 0, err
	}
	resp := map[string]string{"chatbot_id": job.ID, "status": string(model.JobStatusQueued)}
	if entry := s.record(r.Context(), "chatbot", job.ID, func(ctx context.Context) (*model.Job, error) {
		return s.ledger.Chatbot(ctx, job)
	}); entry != nil {
		resp["job_id"] = entry.ID
	}
	return resp, http.StatusAccepted, nil
}

func (s *Server) chatbotStatus(r *http.Request) (any, int, error) {
	bot, err := s.client.GetChatbot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, 0, err
	}
	if err := s.ledger.ChatbotStatus(r.Context(), bot); err != nil {
		zap.L().Warn("gateway: record chatbot status", zap.String("chatbot_id", bot.ID), zap.Error(err))
	}
	return bot, http.StatusOK, nil
}

func (s *Server) queryChatbot(r *http.Request) (any, int, error) {
	var body struct {
		Query      string `json:"query"`
		NumRecords int    `json:"num_records"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, http.StatusBadRequest, err
	}
	records, err := s.client.QueryChatbot(r.Context(), chi.URLParam(r, "id"), body.Query, body.NumRecords)
	if err != nil {
		return nil, 0, err
	}
	return map[string]any{"results": records}, http.StatusOK, nil
}

func (s *Server) listJobs(r *http.Request) (any, int, error) {
	if s.jobs == nil {
		return nil, http.StatusServiceUnavailable, eris.New("gateway: job ledger is disabled")
	}
	q := r.URL.Query()
	filter := store.JobFilter{
		Kind:   model.JobKind(q.Get("kind")),
		Status: model.JobStatus(q.Get("status")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, http.StatusBadRequest, eris.Errorf("gateway: unknown job kind %q", filter.Kind)
	}
	var err error
	if filter.Limit, err = intParam(r, "limit", 0); err != nil {
		return nil, http.StatusBadRequest, err
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		return nil, http.StatusBadRequest, err
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		return nil, 0, err
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	return jobs, http.StatusOK, nil
}

func (s *Server) getJob(r *http.Request) (any, int, error) {
	if s.jobs == nil {
		return nil, http.StatusServiceUnavailable, eris.New("gateway: job ledger is disabled")
	}
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, 0, err
	}
	return job, http.StatusOK, nil
}

// record runs a ledger write. Failures are logged only.
func (s *Server) record(ctx context.Context, kind, remoteID string, fn func(context.Context) (*model.Job, error)) *model.Job {
	job, err := fn(ctx)
	if err != nil {
		zap.L().Warn("gateway: record job",
			zap.String("kind", kind),
			zap.String("remote_id", remoteID),
			zap.Error(err),
		)
		return nil
	}
	return job
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("gateway: %s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}
