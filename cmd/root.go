package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webtranspose/internal/config"
)

var (
	cfg        *config.Config
	configPath string
	apiKeyFlag string
)

var rootCmd = &cobra.Command{
	Use:   "webtranspose",
	Short: "Client for the hosted Web Transpose API",
	Long:  "Queues remote crawls, runs AI scrapers, searches the web and builds chatbots through the Web Transpose service. Jobs are recorded in a local ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if apiKeyFlag != "" {
			c.APIKey = apiKeyFlag
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./webtranspose.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key (default $WEBTRANSPOSE_API_KEY)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
