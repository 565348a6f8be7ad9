package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/webtranspose/internal/export"
	"github.com/sells-group/webtranspose/internal/schemafile"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Extract schema-shaped records from pages",
	Long:  "Runs an AI scraper against one or more URLs or a local HTML file. The schema comes from --schema (YAML or JSON), repeated --field name=type flags, or an existing --scraper-id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		urls, _ := flags.GetStringSlice("url")
		htmlFile, _ := flags.GetString("html-file")
		concurrency, _ := flags.GetInt("concurrency")
		noCache, _ := flags.GetBool("no-cache")
		outPath, _ := flags.GetString("out")

		if (len(urls) == 0) == (htmlFile == "") {
			return eris.New("scrape: pass --url (repeatable) or --html-file")
		}
		if concurrency <= 0 {
			concurrency = cfg.Scrape.MaxConcurrent
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		scraper, err := buildScraper(cmd, env.Client)
		if err != nil {
			return err
		}

		var outcomes []scrapeOutcome
		if htmlFile != "" {
			data, err := os.ReadFile(htmlFile)
			if err != nil {
				return eris.Wrapf(err, "scrape: read %s", htmlFile)
			}
			rec, err := scraper.ScrapeHTML(ctx, string(data))
			outcomes = []scrapeOutcome{{URL: htmlFile, Record: rec, Err: err}}
		} else if noCache {
			for _, o := range scraper.ScrapeAll(ctx, urls, concurrency) {
				outcomes = append(outcomes, scrapeOutcome{URL: o.URL, Record: o.Record, Err: o.Err})
			}
		} else {
			outcomes = make([]scrapeOutcome, len(urls))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			for i, u := range urls {
				g.Go(func() error {
					rec, cached, err := env.Cache.Scrape(gctx, scraper, u)
					outcomes[i] = scrapeOutcome{URL: u, Record: rec, Cached: cached, Err: err}
					return nil
				})
			}
			_ = g.Wait()
		}

		if _, err := env.Ledger.Scraper(ctx, scraper); err != nil {
			zap.L().Warn("record scraper", zap.String("scraper_id", scraper.ID()), zap.Error(err))
		}

		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				zap.L().Warn("scrape failed", zap.String("url", o.URL), zap.Error(o.Err))
			}
		}

		if outPath != "" {
			if err := export.WriteFile(outPath, recordsTable(scraper.Schema(), outcomes)); err != nil {
				return err
			}
		} else if err := printJSON(cmd.OutOrStdout(), outcomesJSON(outcomes)); err != nil {
			return err
		}

		if failed == len(outcomes) {
			return outcomes[0].Err
		}
		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d scrapes failed\n", failed, len(outcomes))
		}
		return nil
	},
}

type scrapeOutcome struct {
	URL    string
	Record webtranspose.Record
	Cached bool
	Err    error
}

// buildScraper resolves the scraper from --scraper-id, --schema or --field.
func buildScraper(cmd *cobra.Command, client webtranspose.Client) (*webtranspose.Scraper, error) {
	flags := cmd.Flags()
	scraperID, _ := flags.GetString("scraper-id")
	schemaPath, _ := flags.GetString("schema")
	fields, _ := flags.GetStringSlice("field")
	name, _ := flags.GetString("name")

	if scraperID != "" {
		return webtranspose.GetScraper(cmd.Context(), client, scraperID)
	}

	var (
		schema   webtranspose.Schema
		renderJS = cfg.Scrape.RenderJS
	)
	switch {
	case schemaPath != "":
		f, err := schemafile.Load(schemaPath)
		if err != nil {
			return nil, err
		}
		schema = f.Schema
		if f.RenderJS {
			renderJS = true
		}
		if name == "" {
			name = f.Name
		}
	case len(fields) > 0:
		m, err := parseFields(fields)
		if err != nil {
			return nil, err
		}
		if schema, err = webtranspose.NewSchema(m); err != nil {
			return nil, err
		}
	default:
		return nil, eris.New("scrape: pass --schema, --field or --scraper-id")
	}
	if flags.Changed("render-js") {
		renderJS, _ = flags.GetBool("render-js")
	}

	opts := []webtranspose.ScraperOption{webtranspose.WithRenderJS(renderJS)}
	if name != "" {
		opts = append(opts, webtranspose.WithScraperName(name))
	}
	return webtranspose.NewScraper(client, schema, opts...), nil
}

// parseFields turns name=type pairs into a schema mapping.
func parseFields(pairs []string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, typ, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, eris.Errorf("scrape: field %q must be name=type", p)
		}
		if _, dup := m[name]; dup {
			return nil, eris.Errorf("scrape: field %q declared twice", name)
		}
		m[name] = strings.TrimSpace(typ)
	}
	return m, nil
}

// recordsTable lays records out one row per URL with a column per field.
func recordsTable(schema webtranspose.Schema, outcomes []scrapeOutcome) export.Table {
	fields := schema.Fields()
	t := export.Table{Name: "records", Header: []string{"url"}}
	for _, f := range fields {
		t.Header = append(t.Header, f.Name)
	}
	t.Header = append(t.Header, "error")

	for _, o := range outcomes {
		row := []string{o.URL}
		for _, f := range fields {
			row = append(row, cellValue(o.Record[f.Name]))
		}
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		t.Rows = append(t.Rows, append(row, errText))
	}
	return t
}

func cellValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func outcomesJSON(outcomes []scrapeOutcome) []map[string]any {
	out := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		item := map[string]any{"url": o.URL, "record": o.Record, "cached": o.Cached}
		if o.Err != nil {
			item["error"] = o.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

// -- scraper --

var scraperCmd = &cobra.Command{
	Use:   "scraper",
	Short: "Inspect remote scrapers",
}

var scraperListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scrapers on the account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		scrapers, err := env.Client.ListScrapers(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), scrapers)
	},
}

var scraperGetCmd = &cobra.Command{
	Use:   "get <scraper-id>",
	Short: "Show a scraper's schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		info, err := env.Client.GetScraperInfo(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	},
}

func init() {
	f := scrapeCmd.Flags()
	f.StringSlice("url", nil, "page URL to scrape (repeatable)")
	f.String("html-file", "", "scrape a local HTML file instead of a URL")
	f.String("schema", "", "schema file (.yaml, .yml or .json)")
	f.StringSlice("field", nil, "schema field as name=type (repeatable)")
	f.String("scraper-id", "", "reuse an existing remote scraper")
	f.String("name", "", "scraper name")
	f.Bool("render-js", false, "render JavaScript before extraction")
	f.Int("concurrency", 0, "max scrapes in flight (default from config)")
	f.Bool("no-cache", false, "skip the local scrape cache")
	f.String("out", "", "write records to a .json, .csv or .xlsx file")

	scraperCmd.AddCommand(scraperListCmd)
	scraperCmd.AddCommand(scraperGetCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(scraperCmd)
}
