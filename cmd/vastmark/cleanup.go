package main

import (
	"fmt"
	"strings"

	"github.com/siliconmark/vastmark/pkg/vast"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy leftover benchmark instances",
	Long: `List rented instances carrying the vastmark label and destroy them.
Use this after a crashed or killed run to stop paying for orphans.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false,
		"list matching instances without destroying them")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	market := vast.NewClient(log, &cfg.Vast)

	instances, err := market.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	var matched int

	for _, inst := range instances {
		if !strings.HasPrefix(inst.Label, vast.LabelPrefix) {
			continue
		}

		matched++

		if cleanupDryRun {
			log.WithFields(logrus.Fields{
				"instance": inst.ID,
				"label":    inst.Label,
				"status":   inst.ActualStatus,
			}).Info("Would destroy instance")

			continue
		}

		if err := market.DestroyInstance(ctx, inst.ID); err != nil {
			log.WithError(err).WithField("instance", inst.ID).
				Error("Failed to destroy instance")

			continue
		}

		log.WithFields(logrus.Fields{
			"instance": inst.ID,
			"label":    inst.Label,
		}).Info("Destroyed instance")
	}

	if matched == 0 {
		log.Info("No labeled instances found")
	}

	return nil
}
