package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/gnaf"
	"github.com/addresskit/addresskit/internal/search"
)

var indexClear bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the backend index",
}

var indexInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the index with the address mapping",
	Long:  "Creates the index. When an extracted release is present on disk its authority tables feed the synonym analyzer; otherwise the index is created without synonyms and a later load with --clear rebuilds it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := search.New(cfg.Elastic)
		if err != nil {
			return err
		}
		return client.EnsureIndex(cmd.Context(), releaseSynonyms(cmd.Context()), indexClear)
	},
}

var indexDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := search.New(cfg.Elastic)
		if err != nil {
			return err
		}
		return client.DropIndex(cmd.Context())
	},
}

// releaseSynonyms loads the synonym pairs from an extracted release when one
// is available.
func releaseSynonyms(ctx context.Context) []string {
	rel, err := gnaf.OpenRelease(cfg.GNAF.Dir)
	if err != nil {
		zap.L().Warn("no extracted release, creating index without synonyms", zap.Error(err))
		return nil
	}

	idx := gnaf.NewAuthorityIndex()
	for _, table := range gnaf.Tables {
		f, err := os.Open(rel.AuthorityFile(table))
		if err != nil {
			continue
		}
		err = idx.LoadTable(ctx, table, f)
		_ = f.Close()
		if err != nil {
			zap.L().Warn("authority table unreadable", zap.String("table", string(table)), zap.Error(err))
		}
	}
	return idx.Synonyms()
}

func init() {
	indexInitCmd.Flags().BoolVar(&indexClear, "clear", false, "drop an existing index first")
	indexCmd.AddCommand(indexInitCmd)
	indexCmd.AddCommand(indexDropCmd)
	rootCmd.AddCommand(indexCmd)
}
