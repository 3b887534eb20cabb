package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var runNotes string

var runCmd = &cobra.Command{
	Use:   "run <machine-id>",
	Short: "Benchmark a single machine",
	Long: `Rent the given machine, run the benchmark agent on it, record the
result, and tear the rental down.`,
	Args: cobra.ExactArgs(1),
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runNotes, "notes", "", "free-form note recorded with the result")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	machineID, err := parseMachineID(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	stack, err := buildStack(ctx, cfg, runNotes)
	if err != nil {
		return err
	}
	defer stack.cleanup()

	log.WithField("machine", machineID).Info("Starting benchmark")

	if err := stack.runner.Run(ctx, machineID, os.Stdout); err != nil {
		return fmt.Errorf("benchmarking machine %d: %w", machineID, err)
	}

	log.WithField("machine", machineID).Info("Benchmark completed")

	return nil
}

// parseMachineID parses a positive integer machine ID argument.
func parseMachineID(arg string) (int, error) {
	machineID, err := strconv.Atoi(arg)
	if err != nil || machineID <= 0 {
		return 0, fmt.Errorf("invalid machine id %q: must be a positive integer", arg)
	}

	return machineID, nil
}
