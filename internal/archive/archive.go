// Package archive downloads a crawl's page archive and lays the pages out on
// disk, one JSON file per page grouped by host.
package archive

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/fetcher"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

// Entry describes one page written to disk.
type Entry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

// URLSource yields the presigned archive URL for a crawl. *webtranspose.CrawlJob
// implements it.
type URLSource interface {
	DownloadURL(ctx context.Context) (string, error)
}

// Downloader fetches crawl archives.
type Downloader struct {
	fetcher fetcher.Fetcher
}

// NewDownloader returns a Downloader using f for the archive GET.
func NewDownloader(f fetcher.Fetcher) *Downloader {
	return &Downloader{fetcher: f}
}

// Download fetches the archive for job, extracts it and writes each page to
// <outDir>/<host>/<name>.json. Entries that are not page JSON are skipped.
func (d *Downloader) Download(ctx context.Context, job URLSource, outDir string) ([]Entry, error) {
	link, err := job.DownloadURL(ctx)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "webtranspose-archive-*")
	if err != nil {
		return nil, eris.Wrap(err, "archive: create temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	zipPath := filepath.Join(tmp, "crawl.zip")
	n, err := d.fetcher.DownloadToFile(ctx, link, zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "archive: download")
	}
	zap.L().Debug("archive: downloaded", zap.Int64("bytes", n))

	files, err := fetcher.ExtractZIP(zipPath, filepath.Join(tmp, "pages"))
	if err != nil {
		return nil, eris.Wrap(err, "archive: extract")
	}

	var entries []Entry
	for _, f := range files {
		if ctx.Err() != nil {
			return entries, eris.Wrap(ctx.Err(), "archive: write pages")
		}
		entry, ok, err := writePage(f, outDir)
		if err != nil {
			return entries, err
		}
		if !ok {
			zap.L().Debug("archive: skipping non-page entry", zap.String("file", filepath.Base(f)))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func writePage(src, outDir string) (Entry, bool, error) {
	if !strings.EqualFold(filepath.Ext(src), ".json") {
		return Entry{}, false, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "archive: read page")
	}
	var page webtranspose.Page
	if err := json.Unmarshal(data, &page); err != nil || page.URL == "" {
		return Entry{}, false, nil
	}
	fillFromHTML(&page)

	dest, err := PagePath(outDir, page.URL)
	if err != nil {
		return Entry{}, false, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Entry{}, false, eris.Wrap(err, "archive: create host dir")
	}
	out, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "archive: marshal page")
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return Entry{}, false, eris.Wrap(err, "archive: write page")
	}
	return Entry{URL: page.URL, Title: page.Title, Path: dest}, true, nil
}

// PagePath maps a page URL to <outDir>/<host>/<escaped>.json, where escaped
// is the query-escaped URL with "/" replaced by "_".
func PagePath(outDir, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", eris.Errorf("archive: page url %q has no host", pageURL)
	}
	name := strings.ReplaceAll(url.QueryEscape(pageURL), "/", "_")
	return filepath.Join(outDir, u.Host, name+".json"), nil
}

// fillFromHTML derives a missing title or text from the page's HTML.
func fillFromHTML(p *webtranspose.Page) {
	if p.HTML == "" || (p.Title != "" && p.Text != "") {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("title").First().Text())
		if p.Title == "" {
			p.Title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}
	if p.Text == "" {
		doc.Find("script, style, noscript").Remove()
		p.Text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
}
