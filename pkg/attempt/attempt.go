// Package attempt runs one end-to-end benchmark cycle for a single machine:
// create a job, rent the machine, run the agent, extract and persist the
// result, tear the instance down. Every failure is terminal for its attempt
// and never aborts sibling attempts; there are no retries.
package attempt

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siliconmark/vastmark/pkg/extract"
	"github.com/siliconmark/vastmark/pkg/result"
	"github.com/siliconmark/vastmark/pkg/siliconmark"
	"github.com/siliconmark/vastmark/pkg/sshexec"
	"github.com/siliconmark/vastmark/pkg/sysinfo"
	"github.com/siliconmark/vastmark/pkg/vast"
	"github.com/sirupsen/logrus"
)

const (
	// ModeSSH runs the agent over an interactive SSH session.
	ModeSSH = "ssh"

	// ModeOnstart runs the agent from the instance startup script and
	// reads its output back through the marketplace log endpoint.
	ModeOnstart = "onstart"

	// DefaultProvisionPollInterval is how often instance state is checked
	// while waiting for the running state.
	DefaultProvisionPollInterval = 10 * time.Second

	// DefaultLogsPollInterval is how often instance logs are fetched in
	// onstart mode while waiting for the completion marker.
	DefaultLogsPollInterval = 15 * time.Second
)

// Config for attempt runs.
type Config struct {
	Image                 string
	DiskGB                float64
	Mode                  string
	AgentURL              string
	ProvisionTimeout      time.Duration
	BenchmarkTimeout      time.Duration
	ProvisionPollInterval time.Duration
	LogsPollInterval      time.Duration
	LogDir                string
	Notes                 string
}

// Runner executes benchmark attempts.
type Runner interface {
	// Run executes one full cycle for machineID, streaming progress output
	// to out. It returns only after teardown has been attempted.
	Run(ctx context.Context, machineID int, out io.Writer) error
}

// Uploader exports a completed run directory to external storage.
type Uploader interface {
	Upload(ctx context.Context, localDir string) error
}

// Indexer records completed benchmark records in a queryable index.
type Indexer interface {
	InsertRecord(ctx context.Context, rec *result.BenchmarkRecord) error
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log      logrus.FieldLogger
	cfg      *Config
	sm       siliconmark.Client
	market   vast.Client
	ssh      sshexec.Runner
	store    result.Store
	uploader Uploader
	indexer  Indexer
}

// NewRunner creates an attempt runner. uploader and indexer may be nil; ssh
// may be nil in onstart mode.
func NewRunner(
	log logrus.FieldLogger,
	cfg *Config,
	sm siliconmark.Client,
	market vast.Client,
	ssh sshexec.Runner,
	store result.Store,
	uploader Uploader,
	indexer Indexer,
) Runner {
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 10 * time.Minute
	}

	if cfg.BenchmarkTimeout == 0 {
		cfg.BenchmarkTimeout = 30 * time.Minute
	}

	if cfg.ProvisionPollInterval == 0 {
		cfg.ProvisionPollInterval = DefaultProvisionPollInterval
	}

	if cfg.LogsPollInterval == 0 {
		cfg.LogsPollInterval = DefaultLogsPollInterval
	}

	return &runner{
		log:      log.WithField("component", "attempt"),
		cfg:      cfg,
		sm:       sm,
		market:   market,
		ssh:      ssh,
		store:    store,
		uploader: uploader,
		indexer:  indexer,
	}
}

// Run executes one full cycle for machineID.
func (r *runner) Run(ctx context.Context, machineID int, out io.Writer) error {
	log := r.log.WithField("machine", machineID)

	runDir := filepath.Join(
		r.cfg.LogDir,
		fmt.Sprintf("%d_%s_%d", time.Now().Unix(), generateShortID(), machineID),
	)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	if err := sysinfo.Collect(ctx).WriteFile(filepath.Join(runDir, "metadata.json")); err != nil {
		log.WithError(err).Warn("Failed to write host metadata")
	}

	// One job per attempt; the job token doubles as the agent's API key.
	job, err := r.sm.CreateJob(ctx, 1)
	if err != nil {
		return fmt.Errorf("creating benchmark job: %w", err)
	}

	offers, err := r.market.SearchOffers(ctx, machineID)
	if err != nil {
		return err
	}

	offer := offers[0]

	fmt.Fprintf(out, "accepted offer %d on machine %d (%s x%d, $%.3f/h, dlperf %.1f)\n",
		offer.ID, offer.MachineID, offer.GPUName, offer.NumGPUs, offer.DPHTotal, offer.DLPerf)

	spec := &vast.CreateSpec{
		Image:  r.cfg.Image,
		DiskGB: r.cfg.DiskGB,
		Label:  vast.LabelForMachine(machineID),
	}

	if r.cfg.Mode == ModeOnstart {
		spec.OnStart = r.onstartScript(job.JobToken)
	}

	instanceID, err := r.market.CreateInstance(ctx, offer.ID, spec)
	if err != nil {
		return err
	}

	// Teardown always runs, cancellation included. An orphaned instance is
	// an operational nuisance, not a correctness issue, so failures here
	// are reported but never escalated.
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := r.market.DestroyInstance(teardownCtx, instanceID); err != nil {
			log.WithError(err).WithField("instance", instanceID).
				Warn("Teardown failed, instance may still be rented")
			fmt.Fprintf(out, "WARNING: teardown of instance %d failed: %v\n", instanceID, err)
		}
	}()

	instance, err := r.waitRunning(ctx, instanceID, out)
	if err != nil {
		return err
	}

	raw, err := r.runAgent(ctx, instance, job.JobToken, out)
	if err != nil {
		return err
	}

	doc, err := extract.ExtractAndPreserve(raw, filepath.Join(runDir, "raw-agent.log"))
	if err != nil {
		return err
	}

	hostID := offer.HostID
	rec := result.Normalize(doc, result.TargetMeta{
		MachineID: machineID,
		HostID:    &hostID,
		DLPerf:    offer.DLPerf,
		JobID:     job.JobID,
		Notes:     r.cfg.Notes,
	})

	if err := r.persist(ctx, runDir, &rec, log); err != nil {
		return err
	}

	fmt.Fprintf(out, "recorded %s=%.2f for machine %d\n", rec.ScoreMetric, rec.Score, machineID)

	return nil
}

// persist appends the record to the store and feeds the optional index and
// upload destinations.
func (r *runner) persist(
	ctx context.Context,
	runDir string,
	rec *result.BenchmarkRecord,
	log logrus.FieldLogger,
) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err == nil {
		if err := os.WriteFile(filepath.Join(runDir, "record.json"), append(data, '\n'), 0644); err != nil {
			log.WithError(err).Warn("Failed to write record copy to run directory")
		}
	}

	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}

	if r.indexer != nil {
		if err := r.indexer.InsertRecord(ctx, rec); err != nil {
			log.WithError(err).Warn("Failed to index record")
		}
	}

	if r.uploader != nil {
		if err := r.uploader.Upload(ctx, runDir); err != nil {
			log.WithError(err).Warn("Failed to upload run directory")
		}
	}

	return nil
}

// waitRunning polls instance state until it is running or the provisioning
// ceiling is hit.
func (r *runner) waitRunning(ctx context.Context, instanceID int, out io.Writer) (*vast.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProvisionTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ProvisionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrProvisionTimeout, r.cfg.ProvisionTimeout)
			}

			return nil, ctx.Err()
		case <-ticker.C:
			instance, err := r.market.GetInstance(ctx, instanceID)
			if err != nil {
				// Transient status errors are expected while the
				// marketplace schedules the instance.
				continue
			}

			fmt.Fprintf(out, "instance %d status: %s\n", instanceID, instance.ActualStatus)

			if instance.Running() {
				return instance, nil
			}
		}
	}
}

// runAgent executes the benchmark agent and returns its raw combined output.
func (r *runner) runAgent(ctx context.Context, instance *vast.Instance, apiKey string, out io.Writer) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.BenchmarkTimeout)
	defer cancel()

	switch r.cfg.Mode {
	case ModeOnstart:
		return r.pollAgentLogs(ctx, instance.ID, out)
	default:
		return r.runAgentSSH(ctx, instance, apiKey, out)
	}
}

// runAgentSSH starts the agent over SSH and captures its output.
func (r *runner) runAgentSSH(ctx context.Context, instance *vast.Instance, apiKey string, out io.Writer) ([]byte, error) {
	var buf bytes.Buffer

	command := r.agentCommand(apiKey)

	err := r.ssh.Run(ctx, instance.SSHHost, instance.SSHPort, command, io.MultiWriter(&buf, out))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrBenchmarkTimeout, r.cfg.BenchmarkTimeout)
		}

		return nil, err
	}

	return buf.Bytes(), nil
}

// pollAgentLogs fetches instance logs until the completion marker appears.
func (r *runner) pollAgentLogs(ctx context.Context, instanceID int, out io.Writer) ([]byte, error) {
	ticker := time.NewTicker(r.cfg.LogsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrBenchmarkTimeout, r.cfg.BenchmarkTimeout)
			}

			return nil, ctx.Err()
		case <-ticker.C:
			raw, err := r.market.GetLogs(ctx, instanceID)
			if err != nil {
				r.log.WithError(err).Debug("Log fetch failed, will retry")

				continue
			}

			if strings.Contains(string(raw), extract.EndMarker) {
				if _, err := out.Write(raw); err != nil {
					return nil, fmt.Errorf("writing agent output: %w", err)
				}

				return raw, nil
			}

			if line := lastLine(raw); line != "" {
				fmt.Fprintf(out, "waiting for agent: %s\n", line)
			}
		}
	}
}

// agentCommand is the shell command run over SSH: download the agent, run it
// against the job's API key, then emit the completion marker.
func (r *runner) agentCommand(apiKey string) string {
	return fmt.Sprintf(
		"curl -fsSL %s -o /tmp/quickmark && chmod +x /tmp/quickmark && /tmp/quickmark --api-key %s; status=$?; echo %s; exit $status",
		r.cfg.AgentURL, apiKey, extract.EndMarker,
	)
}

// onstartScript is the startup script for onstart mode. The instance runs the
// agent unattended; output is read back through the marketplace log endpoint.
func (r *runner) onstartScript(apiKey string) string {
	return fmt.Sprintf(
		"#!/bin/bash\ncurl -fsSL %s -o /tmp/quickmark\nchmod +x /tmp/quickmark\n/tmp/quickmark --api-key %s\necho %s\n",
		r.cfg.AgentURL, apiKey, extract.EndMarker,
	)
}

// lastLine returns the last non-empty line of raw output.
func lastLine(raw []byte) string {
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

// generateShortID generates a short random hex ID (8 characters).
func generateShortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}

	return hex.EncodeToString(b)
}
