package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/archive"
	"github.com/sells-group/webtranspose/internal/export"
	"github.com/sells-group/webtranspose/internal/fetcher"
	"github.com/sells-group/webtranspose/internal/ledger"
	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Queue and inspect remote crawls",
}

// -- crawl start --

var crawlStartCmd = &cobra.Command{
	Use:   "start <url>",
	Short: "Queue a crawl starting at url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		maxPages, _ := cmd.Flags().GetInt("max-pages")
		allowed, _ := cmd.Flags().GetStringSlice("allow")
		banned, _ := cmd.Flags().GetStringSlice("ban")
		wait, _ := cmd.Flags().GetBool("wait")

		req := webtranspose.CrawlRequest{
			URL:         args[0],
			MaxPages:    cfg.Crawl.MaxPages,
			RenderJS:    cfg.Crawl.RenderJS,
			AllowedURLs: allowed,
			BannedURLs:  banned,
		}
		if maxPages > 0 {
			req.MaxPages = maxPages
		}
		if cmd.Flags().Changed("render-js") {
			req.RenderJS, _ = cmd.Flags().GetBool("render-js")
		}

		job, err := env.Client.QueueCrawl(ctx, req)
		if err != nil {
			return err
		}
		if _, err := env.Ledger.Crawl(ctx, job); err != nil {
			zap.L().Warn("record crawl", zap.String("crawl_id", job.ID), zap.Error(err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)

		if !wait {
			return nil
		}
		return waitCrawl(ctx, env, job, cmd.OutOrStdout())
	},
}

// -- crawl wait --

var crawlWaitCmd = &cobra.Command{
	Use:   "wait <crawl-id>",
	Short: "Block until a crawl is done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()
		return waitCrawl(ctx, env, webtranspose.AttachCrawl(env.Client, args[0]), cmd.OutOrStdout())
	},
}

func waitCrawl(ctx context.Context, env *appEnv, job *webtranspose.CrawlJob, out io.Writer) error {
	res, err := job.Wait(ctx, cfg.Crawl.PollOptions()...)
	if err != nil {
		if webtranspose.IsRemote(err) {
			if lerr := env.Ledger.Failed(ctx, model.JobKindCrawl, job.ID, err); lerr != nil {
				zap.L().Warn("record crawl failure", zap.String("crawl_id", job.ID), zap.Error(lerr))
			}
		}
		return eris.Wrap(err, "crawl wait")
	}
	if err := env.Ledger.CrawlStatus(ctx, &res.Status); err != nil {
		zap.L().Warn("record crawl status", zap.String("crawl_id", job.ID), zap.Error(err))
	}
	return printJSON(out, map[string]any{
		"crawl_id": job.ID,
		"status":   res.Status,
		"visited":  res.Visited,
	})
}

// -- crawl status --

var crawlStatusCmd = &cobra.Command{
	Use:   "status <crawl-id>",
	Short: "Show a crawl's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Client.GetCrawlStatus(ctx, args[0])
		if err != nil {
			return err
		}
		if err := env.Ledger.CrawlStatus(ctx, st); err != nil {
			zap.L().Warn("record crawl status", zap.String("crawl_id", st.CrawlID), zap.Error(err))
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"status": st,
			"state":  ledger.CrawlJobStatus(*st),
		})
	},
}

// -- crawl list --

var crawlListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crawls on the account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		crawls, err := env.Client.ListCrawls(ctx)
		if err != nil {
			return err
		}
		if len(crawls) == 0 {
			fmt.Fprintln(os.Stderr, "No crawls found.")
			return nil
		}
		formatCrawlList(cmd.OutOrStdout(), crawls)
		return nil
	},
}

// formatCrawlList writes a tabular list of crawls to out.
func formatCrawlList(out io.Writer, crawls []webtranspose.CrawlStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CRAWL_ID\tBASE_URL\tSTATE\tVISITED\tQUEUED\tFAILED\tMAX_PAGES")
	for _, c := range crawls {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			c.CrawlID, c.BaseURL, ledger.CrawlJobStatus(c),
			c.NumVisited, c.NumQueued, c.NumFailed, c.MaxPages,
		)
	}
	_ = w.Flush()
}

// -- crawl urls --

var crawlURLsCmd = &cobra.Command{
	Use:   "urls <crawl-id>",
	Short: "List a crawl's visited, ignored, failed or banned URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		setName, _ := cmd.Flags().GetString("set")
		outPath, _ := cmd.Flags().GetString("out")

		set, err := webtranspose.ParseURLSet(setName)
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		urls, err := env.Client.GetCrawlURLs(ctx, args[0], set)
		if err != nil {
			return err
		}
		return writeURLs(cmd.OutOrStdout(), outPath, string(set), urls)
	},
}

// -- crawl queue --

var crawlQueueCmd = &cobra.Command{
	Use:   "queue <crawl-id>",
	Short: "Show URLs waiting to be crawled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		n, _ := cmd.Flags().GetInt("max")
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		urls, err := env.Client.GetCrawlQueue(ctx, args[0], n)
		if err != nil {
			return err
		}
		return writeURLs(cmd.OutOrStdout(), "", "queue", urls)
	},
}

// -- crawl page --

var crawlPageCmd = &cobra.Command{
	Use:   "page <crawl-id> <url>",
	Short: "Show one crawled page",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		page, err := env.Client.GetCrawlPage(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), page)
	},
}

// -- crawl children --

var crawlChildrenCmd = &cobra.Command{
	Use:   "children <crawl-id> <url>",
	Short: "List links discovered on a crawled page",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		urls, err := env.Client.GetChildURLs(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return writeURLs(cmd.OutOrStdout(), "", "children", urls)
	},
}

// -- crawl retry --

var crawlRetryCmd = &cobra.Command{
	Use:   "retry <crawl-id>",
	Short: "Requeue a crawl's failed URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Client.RetryFailed(ctx, args[0])
	},
}

// -- crawl set --

var crawlSetCmd = &cobra.Command{
	Use:   "set <crawl-id>",
	Short: "Change a crawl's allowed or banned patterns and page budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		if !flags.Changed("allow") && !flags.Changed("ban") && !flags.Changed("max-pages") {
			return eris.New("crawl set: nothing to change (use --allow, --ban or --max-pages)")
		}
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		job := webtranspose.AttachCrawl(env.Client, args[0])
		if flags.Changed("allow") {
			allowed, _ := flags.GetStringSlice("allow")
			if err := job.SetAllowedURLs(ctx, allowed); err != nil {
				return err
			}
		}
		if flags.Changed("ban") {
			banned, _ := flags.GetStringSlice("ban")
			if err := job.SetBannedURLs(ctx, banned); err != nil {
				return err
			}
		}
		if flags.Changed("max-pages") {
			maxPages, _ := flags.GetInt("max-pages")
			if err := job.SetMaxPages(ctx, maxPages); err != nil {
				return err
			}
		}
		return nil
	},
}

// -- crawl download --

var crawlDownloadCmd = &cobra.Command{
	Use:   "download <crawl-id>",
	Short: "Download a crawl's pages as JSON files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		outDir, _ := cmd.Flags().GetString("out")
		indexPath, _ := cmd.Flags().GetString("index")
		if outDir == "" {
			outDir = cfg.Crawl.OutputDir
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		dl := archive.NewDownloader(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout: cfg.API.Timeout(),
		}))
		entries, err := dl.Download(ctx, webtranspose.AttachCrawl(env.Client, args[0]), outDir)
		if err != nil {
			return eris.Wrap(err, "crawl download")
		}
		zap.L().Info("crawl downloaded",
			zap.String("crawl_id", args[0]),
			zap.String("dir", outDir),
			zap.Int("pages", len(entries)),
		)

		if indexPath != "" {
			if err := export.WriteFile(indexPath, export.ArchiveEntries(entries)); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d pages written to %s\n", len(entries), outDir)
		return nil
	},
}

// writeURLs writes urls to path (format by extension) or one per line to out.
func writeURLs(out io.Writer, path, name string, urls []string) error {
	if path != "" {
		return export.WriteFile(path, export.URLs(name, urls))
	}
	for _, u := range urls {
		if _, err := fmt.Fprintln(out, u); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	crawlStartCmd.Flags().Int("max-pages", 0, "page budget (default from config)")
	crawlStartCmd.Flags().Bool("render-js", false, "render JavaScript before extracting links")
	crawlStartCmd.Flags().StringSlice("allow", nil, "glob patterns a URL must match to be crawled")
	crawlStartCmd.Flags().StringSlice("ban", nil, "glob patterns excluded from the crawl")
	crawlStartCmd.Flags().Bool("wait", false, "block until the crawl is done")

	crawlURLsCmd.Flags().String("set", string(webtranspose.URLSetVisited), "url set: visited, ignored, failed or banned")
	crawlURLsCmd.Flags().String("out", "", "write to a .json, .csv or .xlsx file")

	crawlQueueCmd.Flags().Int("max", 10, "max queued URLs to show")

	crawlSetCmd.Flags().StringSlice("allow", nil, "replace allowed URL patterns")
	crawlSetCmd.Flags().StringSlice("ban", nil, "replace banned URL patterns")
	crawlSetCmd.Flags().Int("max-pages", 0, "new page budget")

	crawlDownloadCmd.Flags().String("out", "", "output directory (default from config)")
	crawlDownloadCmd.Flags().String("index", "", "also write an index of pages to a .json, .csv or .xlsx file")

	crawlCmd.AddCommand(crawlStartCmd)
	crawlCmd.AddCommand(crawlWaitCmd)
	crawlCmd.AddCommand(crawlStatusCmd)
	crawlCmd.AddCommand(crawlListCmd)
	crawlCmd.AddCommand(crawlURLsCmd)
	crawlCmd.AddCommand(crawlQueueCmd)
	crawlCmd.AddCommand(crawlPageCmd)
	crawlCmd.AddCommand(crawlChildrenCmd)
	crawlCmd.AddCommand(crawlRetryCmd)
	crawlCmd.AddCommand(crawlSetCmd)
	crawlCmd.AddCommand(crawlDownloadCmd)
	rootCmd.AddCommand(crawlCmd)
}
