package main

import (
	"fmt"

	"github.com/siliconmark/vastmark/pkg/api"
	"github.com/siliconmark/vastmark/pkg/indexstore"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded benchmark results over HTTP",
	Long: `Start the read-only results API. Records are served from the JSON
store file; per-machine latest queries use the index database when one is
configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var index indexstore.Store

	if cfg.Results.Index != nil {
		index = indexstore.NewStore(log, cfg.Results.Index)
		if err := index.Start(ctx); err != nil {
			return fmt.Errorf("starting index store: %w", err)
		}

		defer func() {
			if err := index.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop index store")
			}
		}()
	}

	server := api.NewServer(log, &cfg.API, cfg.Results.StorePath, index)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	<-ctx.Done()

	return server.Stop()
}
