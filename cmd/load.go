package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/addresskit/addresskit/internal/ingest"
	"github.com/addresskit/addresskit/internal/observability"
	"github.com/addresskit/addresskit/internal/search"
)

var (
	loadClear   bool
	loadRefresh bool
	loadStates  string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Run a full G-NAF ingestion into the search backend",
	Long:  "Resolves the current release from data.gov.au, downloads and extracts the archive, then streams every covered state into the index. Safe to re-run: downloads resume, extraction skips complete entries, and document ids are deterministic.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if loadStates != "" {
			cfg.GNAF.CoveredStates = loadStates
		}

		client, err := search.New(cfg.Elastic)
		if err != nil {
			return err
		}

		o := ingest.New(cfg, client, observability.New())
		return o.Run(ctx, ingest.Options{
			Clear:   loadClear,
			Refresh: loadRefresh,
		})
	},
}

func init() {
	loadCmd.Flags().BoolVar(&loadClear, "clear", false, "drop and recreate the index before loading")
	loadCmd.Flags().BoolVar(&loadRefresh, "refresh", false, "refresh the index after every bulk request (slow; for tests)")
	loadCmd.Flags().StringVar(&loadStates, "states", "", "comma-separated state filter (default COVERED_STATES or all)")
	rootCmd.AddCommand(loadCmd)
}
