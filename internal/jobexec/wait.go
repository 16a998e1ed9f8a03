package jobexec

import (
	"context"
	"fmt"
	"time"
)

// WaitOptions bounds a Wait loop.
type WaitOptions struct {
	// MaxRuntime is the hard job bound. On overrun the job is killed and
	// ErrMaxRuntime returned.
	MaxRuntime time.Duration
	// PollInterval defaults to 2s.
	PollInterval time.Duration
}

// Wait polls the executor until the job reaches a terminal status or exceeds
// its max runtime. The runtime bound is the only cancellation path.
func Wait(ctx context.Context, executor Executor, containerName string, opts WaitOptions) (Observation, error) {
	if executor == nil {
		return Observation{}, fmt.Errorf("executor is required")
	}
	if opts.MaxRuntime <= 0 {
		return Observation{}, fmt.Errorf("max runtime must be positive")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	deadline := time.Now().Add(opts.MaxRuntime)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		obs, err := executor.Inspect(ctx, containerName)
		if err != nil {
			return Observation{}, err
		}
		if obs.Status.Terminal() {
			return obs, nil
		}
		if time.Now().After(deadline) {
			if killErr := executor.Kill(ctx, containerName); killErr != nil {
				return Observation{}, fmt.Errorf("kill after overrun: %w", killErr)
			}
			return Observation{Status: StatusFailed, Message: "max_runtime_exceeded"}, ErrMaxRuntime
		}

		select {
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
