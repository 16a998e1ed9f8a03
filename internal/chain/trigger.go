// Package chain links the clean stage to the aggregate stage: the aggregate
// job starts exactly once per clean run, and only when that run succeeded.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// TriggerState is the per-run trigger position.
type TriggerState string

const (
	StateWaiting TriggerState = "WAITING"
	StateFired   TriggerState = "FIRED"
)

// UpstreamStatus is the terminal status reported for a clean run.
type UpstreamStatus string

const (
	StatusSucceeded UpstreamStatus = "succeeded"
	StatusFailed    UpstreamStatus = "failed"
	StatusStopped   UpstreamStatus = "stopped"
	StatusTimeout   UpstreamStatus = "timeout"
)

// StartFunc launches the downstream job for one upstream run.
type StartFunc func(ctx context.Context, runID string) error

// maxTrackedRuns bounds the per-run terminal-status record. Once that many
// newer runs have been observed the oldest record is evicted; run IDs are
// fresh UUIDs, so a status report that stale does not occur in practice.
const maxTrackedRuns = 4096

// Trigger fires the downstream stage on upstream success. Only the first
// terminal status reported for a run ID counts: success moves it
// WAITING → FIRED exactly once, and a non-success status leaves it WAITING
// permanently for that run, even if a contradictory success arrives later.
// There is no automatic upstream retry.
type Trigger struct {
	Start  StartFunc
	Logger *slog.Logger

	mu       sync.Mutex
	terminal map[string]UpstreamStatus
	order    []string
}

func NewTrigger(start StartFunc, logger *slog.Logger) (*Trigger, error) {
	if start == nil {
		return nil, fmt.Errorf("start function is required")
	}
	return &Trigger{
		Start:    start,
		Logger:   logger,
		terminal: make(map[string]UpstreamStatus),
	}, nil
}

// State returns the trigger state for a run ID.
func (t *Trigger) State(runID string) TriggerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal[runID] == StatusSucceeded {
		return StateFired
	}
	return StateWaiting
}

// Observe records an upstream run's first terminal status. It fires the
// downstream start at most once per run, only when that first status is
// StatusSucceeded; later observations for the same run are ignored. Returns
// true when the downstream job was started by this call.
func (t *Trigger) Observe(ctx context.Context, runID string, status UpstreamStatus) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("trigger not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return false, fmt.Errorf("run id is required")
	}

	t.mu.Lock()
	if prev, seen := t.terminal[runID]; seen {
		t.mu.Unlock()
		if prev != status && t.Logger != nil {
			t.Logger.Warn("chain trigger ignoring contradictory status",
				"run_id", runID, "status", string(status), "recorded", string(prev))
		}
		return false, nil
	}
	t.terminal[runID] = status
	t.order = append(t.order, runID)
	if len(t.order) > maxTrackedRuns {
		delete(t.terminal, t.order[0])
		t.order = t.order[1:]
	}
	t.mu.Unlock()

	if status != StatusSucceeded {
		if t.Logger != nil {
			t.Logger.Info("chain trigger not firing", "run_id", runID, "status", string(status))
		}
		return false, nil
	}

	if err := t.Start(ctx, runID); err != nil {
		// The run stays FIRED: the contract is at-most-once per run, and the
		// downstream failure surfaces through its own status.
		if t.Logger != nil {
			t.Logger.Error("chain trigger start failed", "run_id", runID, "error", err.Error())
		}
		return true, fmt.Errorf("start downstream for run %s: %w", runID, err)
	}

	if t.Logger != nil {
		t.Logger.Info("chain trigger fired", "run_id", runID)
	}
	return true, nil
}
