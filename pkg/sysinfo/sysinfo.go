// Package sysinfo captures a snapshot of the orchestrator host. The snapshot
// is written into each attempt's run directory so results can be traced back
// to the environment that produced them.
package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot describes the orchestrator host at collection time.
type Snapshot struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	CPUModel      string `json:"cpu_model"`
	CPUCores      int    `json:"cpu_cores"`
	MemoryTotal   uint64 `json:"memory_total_bytes"`
	CollectedAt   string `json:"collected_at"`
}

// Collect gathers a host snapshot. Individual probes failing leave their
// fields empty rather than aborting; the snapshot is diagnostic, not load
// bearing.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		CollectedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = info.Platform
		snap.KernelVersion = info.KernelVersion
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		snap.CPUModel = infos[0].ModelName
	}

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = count
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotal = vm.Total
	}

	return snap
}

// WriteFile writes the snapshot as indented JSON to path.
func (s *Snapshot) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return nil
}
