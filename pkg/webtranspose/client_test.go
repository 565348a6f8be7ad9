package webtranspose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webtranspose/internal/resilience"
)

func newTestServer(t *testing.T, handler http.Handler, opts ...Option) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-api-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	return srv, c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestRequestShape(t *testing.T) {
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "webtranspose-go", r.Header.Get("User-Agent"))
		assert.Equal(t, "golang generics", decodeBody(t, r)["query"])
		writeJSON(t, w, http.StatusOK, map[string]any{"results": []any{}})
	}))

	_, err := c.Search(context.Background(), "golang generics")
	require.NoError(t, err)
}

func TestWithBaseURL_TrailingSlash(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		writeJSON(t, w, http.StatusOK, map[string]any{"crawls": []any{}})
	}))
	t.Cleanup(srv.Close)

	c := NewClient("k", WithBaseURL(srv.URL+"/"))
	_, err := c.ListCrawls(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/v1/crawl/list", path)
}

func TestMissingAPIKey_SameErrorForEveryCallStyle(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	schema, err := NewSchema(map[string]string{"title": "string"})
	require.NoError(t, err)
	req := CrawlRequest{URL: "https://example.com", MaxPages: 5}
	ctx := context.Background()

	calls := map[string]func() error{
		"blocking crawl": func() error { _, err := c.Crawl(ctx, req); return err },
		"queued crawl":   func() error { _, err := c.QueueCrawl(ctx, req); return err },
		"scrape": func() error {
			_, err := NewScraper(c, schema).Scrape(ctx, "https://example.com/item")
			return err
		},
		"search":        func() error { _, err := c.Search(ctx, "q"); return err },
		"search filter": func() error { _, err := c.SearchFilter(ctx, "q"); return err },
		"chatbot": func() error {
			_, err := c.CreateChatbot(ctx, ChatbotRequest{URLs: []string{"https://example.com"}})
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, IsConfig(err))
			assert.ErrorIs(t, err, ErrMissingAPIKey)
			assert.False(t, KindOf(err) == KindTransport)
		})
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	assert.Equal(t, "explicit", ResolveAPIKey("explicit"))
	assert.Equal(t, "from-env", ResolveAPIKey(""))
	assert.Equal(t, "from-env", ResolveAPIKey("   "))

	t.Setenv(EnvAPIKey, "")
	assert.Equal(t, "", ResolveAPIKey(""))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantKind      Kind
		wantCode      string
		wantMessage   string
		wantRetryable bool
		wantQuota     bool
	}{
		{
			name:        "unauthorized with error string",
			status:      http.StatusUnauthorized,
			body:        `{"error":"Unauthorized"}`,
			wantKind:    KindRemote,
			wantMessage: "Unauthorized",
		},
		{
			name:          "rate limited with detail",
			status:        http.StatusTooManyRequests,
			body:          `{"detail":"Too many requests"}`,
			wantKind:      KindRemote,
			wantMessage:   "Too many requests",
			wantRetryable: true,
			wantQuota:     true,
		},
		{
			name:        "quota code in nested error",
			status:      http.StatusForbidden,
			body:        `{"error":{"code":"quota_exceeded","message":"monthly credits used"}}`,
			wantKind:    KindRemote,
			wantCode:    "quota_exceeded",
			wantMessage: "monthly credits used",
			wantQuota:   true,
		},
		{
			name:        "code and message",
			status:      http.StatusBadRequest,
			body:        `{"code":"invalid_schema","message":"bad field"}`,
			wantKind:    KindRemote,
			wantCode:    "invalid_schema",
			wantMessage: "bad field",
		},
		{
			name:          "bad gateway html",
			status:        http.StatusBadGateway,
			body:          `<html>502 Bad Gateway</html>`,
			wantKind:      KindTransport,
			wantRetryable: true,
		},
		{
			name:          "empty json object",
			status:        http.StatusInternalServerError,
			body:          `{}`,
			wantKind:      KindTransport,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := c.Search(context.Background(), "q")
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "v1/search", apiErr.Op)
			assert.Equal(t, tt.wantRetryable, apiErr.Retryable())
			assert.Equal(t, tt.wantQuota, apiErr.IsQuota())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apiErr.Code)
			}
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, apiErr.Message)
			}
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))

	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	assert.Contains(t, err.Error(), "decode response")
}

func TestContextCancellation(t *testing.T) {
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"results": []any{}})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, "q")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoRetryByDefault(t *testing.T) {
	var hits atomic.Int32
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWithRetry(t *testing.T) {
	var hits atomic.Int32
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"results": []map[string]string{{"url": "https://go.dev", "title": "Go"}},
		})
	}), WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}))

	resp, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWithRetry_SkipsNonRetryable(t *testing.T) {
	var hits atomic.Int32
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"error": "url is not reachable"})
	}), WithRetry(resilience.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond}))

	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestWithCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := c.Search(context.Background(), "q")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindTransport, apiErr.Kind)
	assert.Equal(t, CodeCircuitOpen, apiErr.Code)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(2), hits.Load())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRequest(path, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, path+" "+outcome)
}

func TestWithObserver(t *testing.T) {
	obs := &recordingObserver{}
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/search" {
			writeJSON(t, w, http.StatusOK, map[string]any{"results": []any{}})
			return
		}
		writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "no such crawl"})
	}), WithObserver(obs))

	_, err := c.Search(context.Background(), "q")
	require.NoError(t, err)
	_, err = c.GetCrawlStatus(context.Background(), "missing")
	require.Error(t, err)

	assert.Equal(t, []string{"v1/search ok", "v1/crawl/get remote"}, obs.calls)
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: 5 * time.Second}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
}

func TestWithTimeout(t *testing.T) {
	c := NewClient("k", WithTimeout(3*time.Second)).(*httpClient)
	assert.Equal(t, 3*time.Second, c.http.Timeout)
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	_, c := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, _ := decodeBody(t, r)["query"].(string)
		time.Sleep(time.Millisecond)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"results": []map[string]string{{"url": "https://example.com/" + q, "title": q}},
		})
	}))

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([]*SearchResponse, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], errs[i] = c.Search(context.Background(), fmt.Sprintf("query-%d", i))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		want := fmt.Sprintf("query-%d", i)
		assert.Equal(t, want, got[i].Query)
		require.Len(t, got[i].Results, 1)
		assert.Equal(t, want, got[i].Results[0].Title)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())
	assert.Zero(t, apiErr.StatusCode)
}
