package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/siliconmark/vastmark/pkg/attempt"
	"github.com/siliconmark/vastmark/pkg/config"
	"github.com/siliconmark/vastmark/pkg/indexstore"
	"github.com/siliconmark/vastmark/pkg/result"
	"github.com/siliconmark/vastmark/pkg/siliconmark"
	"github.com/siliconmark/vastmark/pkg/sshexec"
	"github.com/siliconmark/vastmark/pkg/upload"
	"github.com/siliconmark/vastmark/pkg/vast"
)

// loadConfig loads and validates the configuration from --config.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

// benchmarkStack holds everything an attempt needs, wired from config.
type benchmarkStack struct {
	cfg     *config.Config
	market  vast.Client
	store   result.Store
	index   indexstore.Store
	runner  attempt.Runner
	cleanup func()
}

// buildStack logs into the job API, starts the store and optional index, and
// wires the attempt runner. The returned cleanup must run before exit.
func buildStack(ctx context.Context, cfg *config.Config, notes string) (*benchmarkStack, error) {
	sm := siliconmark.NewClient(log, &cfg.SiliconMark)
	if err := sm.Login(ctx); err != nil {
		return nil, fmt.Errorf("logging in to job API: %w", err)
	}

	market := vast.NewClient(log, &cfg.Vast)

	store := result.NewStore(log, cfg.Results.StorePath)
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting result store: %w", err)
	}

	var stops []func()

	stops = append(stops, func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop result store")
		}
	})

	cleanup := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	var index indexstore.Store

	if cfg.Results.Index != nil {
		index = indexstore.NewStore(log, cfg.Results.Index)
		if err := index.Start(ctx); err != nil {
			cleanup()

			return nil, fmt.Errorf("starting index store: %w", err)
		}

		stops = append(stops, func() {
			if err := index.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop index store")
			}
		})
	}

	var uploader upload.Uploader

	if cfg.Results.Upload != nil && cfg.Results.Upload.Enabled {
		var err error

		uploader, err = upload.NewS3Uploader(log, cfg.Results.Upload)
		if err != nil {
			cleanup()

			return nil, fmt.Errorf("creating S3 uploader: %w", err)
		}

		// Fail fast: verify S3 is writable before renting anything.
		if err := uploader.Preflight(ctx); err != nil {
			cleanup()

			return nil, fmt.Errorf("S3 upload preflight check failed: %w", err)
		}

		log.Info("S3 upload preflight check passed")
	}

	var ssh sshexec.Runner
	if cfg.Benchmark.Mode == config.ModeSSH {
		ssh = sshexec.NewRunner(log, cfg.Vast.SSHUser, cfg.Vast.SSHKeyPath)
	}

	attemptCfg := &attempt.Config{
		Image:            cfg.Benchmark.Image,
		DiskGB:           cfg.DiskGB(),
		Mode:             cfg.Benchmark.Mode,
		AgentURL:         cfg.Benchmark.AgentURL,
		ProvisionTimeout: cfg.ProvisionTimeout(),
		BenchmarkTimeout: cfg.BenchmarkTimeout(),
		LogDir:           cfg.Results.LogDir,
		Notes:            notes,
	}

	var indexer attempt.Indexer
	if index != nil {
		indexer = index
	}

	var up attempt.Uploader
	if uploader != nil {
		up = uploader
	}

	runner := attempt.NewRunner(log, attemptCfg, sm, market, ssh, store, up, indexer)

	return &benchmarkStack{
		cfg:     cfg,
		market:  market,
		store:   store,
		index:   index,
		runner:  runner,
		cleanup: cleanup,
	}, nil
}
