// Package gateway exposes the Web Transpose client as a small local HTTP API
// so non-Go callers can queue crawls, scrape pages and search through one
// configured credential.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/webtranspose/internal/ledger"
	"github.com/sells-group/webtranspose/internal/monitoring"
	"github.com/sells-group/webtranspose/internal/store"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

const maxBodyBytes = 1 << 20

// Config holds gateway settings.
type Config struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	CrawlMaxPages  int
	CrawlRenderJS  bool
	ScrapeRenderJS bool
}

// Deps are the collaborators a Server calls. Only Client is required.
type Deps struct {
	Client  webtranspose.Client
	Ledger  *ledger.Recorder
	Cache   *ledger.ScrapeCache
	Store   store.Store
	Metrics *monitoring.Metrics
}

// Server routes HTTP requests to the API client.
type Server struct {
	client  webtranspose.Client
	ledger  *ledger.Recorder
	cache   *ledger.ScrapeCache
	jobs    store.Store
	metrics *monitoring.Metrics
	cfg     Config

	mu       sync.Mutex
	scrapers map[string]*webtranspose.Scraper
}

// New creates a Server.
func New(deps Deps, cfg Config) *Server {
	if cfg.CrawlMaxPages <= 0 {
		cfg.CrawlMaxPages = 15
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(nil, nil)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		client:   deps.Client,
		ledger:   deps.Ledger,
		cache:    deps.Cache,
		jobs:     deps.Store,
		metrics:  deps.Metrics,
		cfg:      cfg,
		scrapers: make(map[string]*webtranspose.Scraper),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/health", handleJSON(func(*http.Request) (any, int, error) {
		return map[string]string{"status": "ok"}, http.StatusOK, nil
	}))
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/crawls", func(r chi.Router) {
		r.Post("/", handleJSON(s.queueCrawl))
		r.Get("/", handleJSON(s.listCrawls))
		r.Get("/{id}", handleJSON(s.crawlStatus))
		r.Get("/{id}/urls", handleJSON(s.crawlURLs))
		r.Get("/{id}/queue", handleJSON(s.crawlQueue))
		r.Get("/{id}/page", handleJSON(s.crawlPage))
		r.Post("/{id}/retry", handleJSON(s.retryCrawl))
	})

	r.Post("/scrape", handleJSON(s.scrape))
	r.Get("/search", handleJSON(s.search))

	r.Route("/chatbots", func(r chi.Router) {
		r.Post("/", handleJSON(s.createChatbot))
		r.Get("/{id}", handleJSON(s.chatbotStatus))
		r.Post("/{id}/query", handleJSON(s.queryChatbot))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", handleJSON(s.listJobs))
		r.Get("/{id}", handleJSON(s.getJob))
	})

	return r
}
