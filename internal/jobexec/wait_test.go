package jobexec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeExecutor scripts a sequence of observations and records kills.
type fakeExecutor struct {
	mu           sync.Mutex
	observations []Observation
	inspectErr   error
	inspects     int
	killed       []string
}

func (f *fakeExecutor) Kind() string { return "fake" }

func (f *fakeExecutor) Submit(ctx context.Context, spec JobSpec) error { return nil }

func (f *fakeExecutor) Inspect(ctx context.Context, containerName string) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return Observation{}, f.inspectErr
	}
	idx := f.inspects
	if idx >= len(f.observations) {
		idx = len(f.observations) - 1
	}
	f.inspects++
	return f.observations[idx], nil
}

func (f *fakeExecutor) Kill(ctx context.Context, containerName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, containerName)
	return nil
}

func TestWaitUntilSucceeded(t *testing.T) {
	executor := &fakeExecutor{observations: []Observation{
		{Status: StatusPending},
		{Status: StatusRunning},
		{Status: StatusSucceeded},
	}}

	obs, err := Wait(context.Background(), executor, "job-1", WaitOptions{
		MaxRuntime:   time.Minute,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if obs.Status != StatusSucceeded {
		t.Fatalf("status=%q, want succeeded", obs.Status)
	}
	if len(executor.killed) != 0 {
		t.Fatalf("killed=%v, want none", executor.killed)
	}
}

func TestWaitFailedIsTerminal(t *testing.T) {
	executor := &fakeExecutor{observations: []Observation{{Status: StatusFailed, Message: "exit 1"}}}

	obs, err := Wait(context.Background(), executor, "job-1", WaitOptions{
		MaxRuntime:   time.Minute,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if obs.Status != StatusFailed {
		t.Fatalf("status=%q, want failed", obs.Status)
	}
}

func TestWaitKillsOnMaxRuntime(t *testing.T) {
	executor := &fakeExecutor{observations: []Observation{{Status: StatusRunning}}}

	obs, err := Wait(context.Background(), executor, "job-1", WaitOptions{
		MaxRuntime:   5 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	if !errors.Is(err, ErrMaxRuntime) {
		t.Fatalf("err=%v, want ErrMaxRuntime", err)
	}
	if obs.Status != StatusFailed {
		t.Fatalf("status=%q, want failed", obs.Status)
	}
	if len(executor.killed) != 1 || executor.killed[0] != "job-1" {
		t.Fatalf("killed=%v, want [job-1]", executor.killed)
	}
}

func TestWaitPropagatesInspectError(t *testing.T) {
	executor := &fakeExecutor{inspectErr: errors.New("runtime down")}

	if _, err := Wait(context.Background(), executor, "job-1", WaitOptions{
		MaxRuntime:   time.Minute,
		PollInterval: time.Millisecond,
	}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWaitRequiresMaxRuntime(t *testing.T) {
	executor := &fakeExecutor{observations: []Observation{{Status: StatusSucceeded}}}
	if _, err := Wait(context.Background(), executor, "job-1", WaitOptions{}); err == nil {
		t.Fatalf("expected error for missing max runtime")
	}
}
