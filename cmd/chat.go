package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/model"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Build and query chatbots over crawled sites",
}

var chatCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a chatbot from one or more URLs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		urls, _ := cmd.Flags().GetStringSlice("url")
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		wait, _ := cmd.Flags().GetBool("wait")

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Client.CreateChatbot(ctx, webtranspose.ChatbotRequest{
			Name:     name,
			URLs:     urls,
			MaxPages: maxPages,
		})
		if err != nil {
			return err
		}
		if _, err := env.Ledger.Chatbot(ctx, job); err != nil {
			zap.L().Warn("record chatbot", zap.String("chatbot_id", job.ID), zap.Error(err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.ID)
		if !wait {
			return nil
		}

		bot, err := job.Wait(ctx, cfg.Crawl.PollOptions()...)
		if err != nil {
			if webtranspose.IsRemote(err) {
				if lerr := env.Ledger.Failed(ctx, model.JobKindChatbot, job.ID, err); lerr != nil {
					zap.L().Warn("record chatbot failure", zap.String("chatbot_id", job.ID), zap.Error(lerr))
				}
			}
			return eris.Wrap(err, "chat create")
		}
		if err := env.Ledger.ChatbotStatus(ctx, bot); err != nil {
			zap.L().Warn("record chatbot status", zap.String("chatbot_id", job.ID), zap.Error(err))
		}
		return printJSON(cmd.OutOrStdout(), bot)
	},
}

var chatStatusCmd = &cobra.Command{
	Use:   "status <chatbot-id>",
	Short: "Show a chatbot's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		bot, err := webtranspose.AttachChatbot(env.Client, args[0]).Status(ctx)
		if err != nil {
			return err
		}
		if err := env.Ledger.ChatbotStatus(ctx, bot); err != nil {
			zap.L().Warn("record chatbot status", zap.String("chatbot_id", bot.ID), zap.Error(err))
		}
		return printJSON(cmd.OutOrStdout(), bot)
	},
}

var chatQueryCmd = &cobra.Command{
	Use:   "query <chatbot-id> <query...>",
	Short: "Retrieve records relevant to a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		num, _ := cmd.Flags().GetInt("num")
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := webtranspose.AttachChatbot(env.Client, args[0]).Query(ctx, strings.Join(args[1:], " "), num)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), records)
	},
}

var chatAddURLsCmd = &cobra.Command{
	Use:   "add-urls <chatbot-id>",
	Short: "Crawl more URLs into a chatbot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		urls, _ := cmd.Flags().GetStringSlice("url")
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Client.AddChatbotURLs(ctx, args[0], urls, maxPages)
	},
}

var chatDeleteCrawlsCmd = &cobra.Command{
	Use:   "delete-crawls <chatbot-id> <crawl-id...>",
	Short: "Remove crawls from a chatbot",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Client.DeleteChatbotCrawls(ctx, args[0], args[1:])
	},
}

func init() {
	chatCreateCmd.Flags().String("name", "", "chatbot name")
	chatCreateCmd.Flags().StringSlice("url", nil, "URL to crawl (repeatable)")
	chatCreateCmd.Flags().Int("max-pages", 0, "page budget per URL (default 100)")
	chatCreateCmd.Flags().Bool("wait", false, "block until indexing is complete")

	chatQueryCmd.Flags().Int("num", 5, "number of records to return")

	chatAddURLsCmd.Flags().StringSlice("url", nil, "URL to crawl (repeatable)")
	chatAddURLsCmd.Flags().Int("max-pages", 0, "page budget per URL (default 100)")

	chatCmd.AddCommand(chatCreateCmd)
	chatCmd.AddCommand(chatStatusCmd)
	chatCmd.AddCommand(chatQueryCmd)
	chatCmd.AddCommand(chatAddURLsCmd)
	chatCmd.AddCommand(chatDeleteCrawlsCmd)
	rootCmd.AddCommand(chatCmd)
}
