package webtranspose

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// SearchResult is one hit.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse holds raw results and, for filtered searches, the subset the
// service judged relevant.
type SearchResponse struct {
	Query           string         `json:"query"`
	Results         []SearchResult `json:"results"`
	FilteredResults []SearchResult `json:"filtered_results"`
	// Degraded is set when filtering was requested but did not happen.
	Degraded    bool   `json:"degraded,omitempty"`
	FilterError string `json:"filter_error,omitempty"`
}

type searchHit struct {
	URL         string `json:"url"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
}

func (h searchHit) result() SearchResult {
	r := SearchResult{URL: h.URL, Title: h.Title, Snippet: h.Snippet}
	if r.URL == "" {
		r.URL = h.Link
	}
	if r.Snippet == "" {
		r.Snippet = h.Description
	}
	return r
}

type searchWire struct {
	Results         []searchHit  `json:"results"`
	FilteredResults *[]searchHit `json:"filtered_results"`
	FilterError     string       `json:"filter_error"`
}

func toResults(hits []searchHit) []SearchResult {
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.result())
	}
	return out
}

func validateQuery(op, q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", configErrorf(op, "query is required")
	}
	return q, nil
}

// Search runs a web search.
func (c *httpClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	q, err := validateQuery(pathSearch, query)
	if err != nil {
		return nil, err
	}
	var wire searchWire
	if err := c.call(ctx, pathSearch, map[string]string{"query": q}, &wire); err != nil {
		return nil, err
	}
	return &SearchResponse{Query: q, Results: toResults(wire.Results)}, nil
}

// SearchFilter runs a web search and asks the service to filter results for
// relevance. Filtering is best effort: when it fails the raw results come
// back with Degraded set instead of an error.
func (c *httpClient) SearchFilter(ctx context.Context, query string) (*SearchResponse, error) {
	q, err := validateQuery(pathSearchFilter, query)
	if err != nil {
		return nil, err
	}

	var wire searchWire
	if err := c.call(ctx, pathSearchFilter, map[string]string{"query": q}, &wire); err != nil {
		if IsConfig(err) {
			return nil, err
		}
		zap.L().Warn("webtranspose: search filter failed, falling back to raw search",
			zap.String("query", q),
			zap.Error(err),
		)
		raw, rawErr := c.Search(ctx, q)
		if rawErr != nil {
			return nil, rawErr
		}
		raw.degrade(err.Error())
		return raw, nil
	}

	resp := &SearchResponse{Query: q, Results: toResults(wire.Results)}
	switch {
	case wire.FilterError != "":
		resp.degrade(wire.FilterError)
	case wire.FilteredResults == nil:
		resp.degrade("response did not include filtered_results")
	default:
		resp.FilteredResults = toResults(*wire.FilteredResults)
	}
	return resp, nil
}

func (r *SearchResponse) degrade(reason string) {
	r.Degraded = true
	r.FilterError = reason
	r.FilteredResults = []SearchResult{}
}
