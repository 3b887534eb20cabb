// Package coordinator fans a batch of benchmark targets out to concurrent
// attempts and renders a polled status table while they run. Targets are
// isolated: one failure never aborts the others, and the batch result is
// only successful when every target succeeded.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/siliconmark/vastmark/pkg/vast"
	"github.com/sirupsen/logrus"
)

// State of a single target's attempt.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// DefaultPollInterval is how often the status table is redrawn.
const DefaultPollInterval = 5 * time.Second

// AttemptFunc runs one full benchmark cycle for machineID, streaming
// progress output to out.
type AttemptFunc func(ctx context.Context, machineID int, out io.Writer) error

// Config for the coordinator.
type Config struct {
	PollInterval time.Duration
}

// Coordinator runs a batch of benchmark targets.
type Coordinator interface {
	// Run benchmarks every machine ID concurrently, writing the status
	// table to statusOut. It returns a non-nil error if any target failed
	// or the context was cancelled.
	Run(ctx context.Context, machineIDs []int, statusOut io.Writer) error
}

// Compile-time interface check.
var _ Coordinator = (*coordinator)(nil)

type coordinator struct {
	log     logrus.FieldLogger
	cfg     *Config
	attempt AttemptFunc
	market  vast.Client

	mu      sync.Mutex
	targets []*target
}

// target tracks one batch entry. The same machine ID may appear more than
// once in a batch; each occurrence is its own target.
type target struct {
	machineID int
	state     State
	startedAt time.Time
	endedAt   time.Time
	err       error
	out       *lineTracker
}

// NewCoordinator creates a coordinator that runs each target through
// attempt. market is used to sweep labeled instances after a cancelled
// batch.
func NewCoordinator(log logrus.FieldLogger, cfg *Config, attempt AttemptFunc, market vast.Client) Coordinator {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &coordinator{
		log:     log.WithField("component", "coordinator"),
		cfg:     cfg,
		attempt: attempt,
		market:  market,
	}
}

// Run benchmarks every machine ID concurrently.
func (c *coordinator) Run(ctx context.Context, machineIDs []int, statusOut io.Writer) error {
	if len(machineIDs) == 0 {
		return fmt.Errorf("no benchmark targets given")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.targets = make([]*target, len(machineIDs))
	for i, machineID := range machineIDs {
		c.targets[i] = &target{
			machineID: machineID,
			state:     StatePending,
			out:       &lineTracker{},
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup

	for _, t := range c.targets {
		wg.Add(1)

		go func(t *target) {
			defer wg.Done()

			c.runTarget(runCtx, t)
		}(t)
	}

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			c.renderStatus(statusOut)

			return c.batchResult()
		case <-ticker.C:
			c.renderStatus(statusOut)
		case <-ctx.Done():
			c.log.Info("Batch cancelled, waiting for attempts to tear down")
			cancel()
			<-done
			c.renderStatus(statusOut)
			c.sweepInstances()

			return ctx.Err()
		}
	}
}

// runTarget executes one attempt and records its outcome.
func (c *coordinator) runTarget(ctx context.Context, t *target) {
	c.mu.Lock()
	t.state = StateRunning
	t.startedAt = time.Now()
	c.mu.Unlock()

	err := c.attempt(ctx, t.machineID, t.out)

	c.mu.Lock()
	defer c.mu.Unlock()

	t.endedAt = time.Now()

	if err != nil {
		t.state = StateFailed
		t.err = err
		c.log.WithError(err).WithField("machine", t.machineID).Error("Benchmark target failed")

		return
	}

	t.state = StateSucceeded
}

// batchResult aggregates per-target outcomes into the batch error.
func (c *coordinator) batchResult() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var failed []string

	for _, t := range c.targets {
		if t.state == StateFailed {
			failed = append(failed, fmt.Sprintf("%d", t.machineID))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d benchmark targets failed (machines %s)",
			len(failed), len(c.targets), strings.Join(failed, ", "))
	}

	return nil
}

// sweepInstances destroys any still-rented instances carrying our label. The
// attempts tear down their own instances; the sweep catches orphans left by
// a hard cancellation. Failures are reported but never escalated.
func (c *coordinator) sweepInstances() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	instances, err := c.market.ListInstances(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Failed to list instances during sweep")

		return
	}

	for _, inst := range instances {
		if !strings.HasPrefix(inst.Label, vast.LabelPrefix) {
			continue
		}

		if err := c.market.DestroyInstance(ctx, inst.ID); err != nil {
			c.log.WithError(err).WithField("instance", inst.ID).
				Warn("Failed to destroy labeled instance during sweep")

			continue
		}

		c.log.WithFields(logrus.Fields{
			"instance": inst.ID,
			"label":    inst.Label,
		}).Info("Destroyed orphaned instance")
	}
}
