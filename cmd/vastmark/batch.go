package main

import (
	"os"

	"github.com/siliconmark/vastmark/pkg/coordinator"
	"github.com/spf13/cobra"
)

var batchNotes string

var batchCmd = &cobra.Command{
	Use:   "batch <machine-id>...",
	Short: "Benchmark multiple machines concurrently",
	Long: `Run benchmark attempts for every given machine ID concurrently,
showing a periodically refreshed status table. The command exits non-zero
if any target failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchNotes, "notes", "", "free-form note recorded with each result")
}

func runBatch(cmd *cobra.Command, args []string) error {
	machineIDs := make([]int, 0, len(args))

	for _, arg := range args {
		machineID, err := parseMachineID(arg)
		if err != nil {
			return err
		}

		machineIDs = append(machineIDs, machineID)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	stack, err := buildStack(ctx, cfg, batchNotes)
	if err != nil {
		return err
	}
	defer stack.cleanup()

	log.WithField("targets", len(machineIDs)).Info("Starting batch")

	coord := coordinator.NewCoordinator(
		log,
		&coordinator.Config{PollInterval: cfg.PollInterval()},
		stack.runner.Run,
		stack.market,
	)

	return coord.Run(ctx, machineIDs, os.Stdout)
}
