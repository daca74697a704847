package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "addresskit",
	Short: "G-NAF address ingestion and autocomplete service",
	Long:  "Downloads the quarterly G-NAF release, structures every address, indexes the corpus into Elasticsearch, and serves autocomplete queries over it.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
