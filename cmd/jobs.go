package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the local job ledger",
	Long:  "Commands for listing and viewing crawls, scrapers and chatbots recorded by earlier invocations.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("kind")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			Kind:   model.JobKind(kind),
			Status: model.JobStatus(status),
			Limit:  limit,
		}
		if filter.Kind != "" && !filter.Kind.Valid() {
			return eris.Errorf("jobs list: unknown kind %q (want crawl, scraper or chatbot)", kind)
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(cmd.OutOrStdout(), jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a recorded job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

// -- jobs prune-cache --

var jobsPruneCmd = &cobra.Command{
	Use:   "prune-cache",
	Short: "Delete expired scrape cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.Prune(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs prune-cache")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d expired entries deleted\n", n)
		return nil
	},
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tREMOTE_ID\tTARGET\tSTATUS\tCREATED\tUPDATED")
	for _, j := range jobs {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		status := string(j.Status)
		if j.Error != "" {
			status += " (" + truncate(j.Error, 40) + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, j.Kind, j.RemoteID, truncate(j.Target, 50), status,
			j.CreatedAt.Format("2006-01-02 15:04"),
			j.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	jobsListCmd.Flags().String("kind", "", "filter by kind (crawl, scraper, chatbot)")
	jobsListCmd.Flags().String("status", "", "filter by status (queued, running, complete, failed)")
	jobsListCmd.Flags().Duration("since", 0, "only jobs created within this window (e.g. 24h)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsPruneCmd)
	rootCmd.AddCommand(jobsCmd)
}
