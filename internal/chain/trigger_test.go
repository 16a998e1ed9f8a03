package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestTriggerFiresOnceOnSuccess(t *testing.T) {
	calls := 0
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	fired, err := trigger.Observe(context.Background(), "run-1", StatusSucceeded)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !fired {
		t.Fatalf("expected fire on success")
	}
	if trigger.State("run-1") != StateFired {
		t.Fatalf("state=%q, want FIRED", trigger.State("run-1"))
	}

	// Duplicate success for the same run is a no-op.
	fired, err = trigger.Observe(context.Background(), "run-1", StatusSucceeded)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if fired {
		t.Fatalf("second success should not fire")
	}
	if calls != 1 {
		t.Fatalf("start calls=%d, want 1", calls)
	}
}

func TestTriggerNeverFiresOnNonSuccess(t *testing.T) {
	calls := 0
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i, status := range []UpstreamStatus{StatusFailed, StatusStopped, StatusTimeout, UpstreamStatus("unknown")} {
		runID := fmt.Sprintf("run-%d", i)
		fired, err := trigger.Observe(context.Background(), runID, status)
		if err != nil {
			t.Fatalf("observe %s: %v", status, err)
		}
		if fired {
			t.Fatalf("status %q fired", status)
		}
		if trigger.State(runID) != StateWaiting {
			t.Fatalf("state after %q=%q, want WAITING", status, trigger.State(runID))
		}
	}
	if calls != 0 {
		t.Fatalf("start calls=%d, want 0", calls)
	}
}

func TestTriggerLateSuccessAfterNonSuccess(t *testing.T) {
	calls := 0
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// The first terminal status latches the run; a contradictory success
	// report afterwards must never start the downstream job.
	for i, status := range []UpstreamStatus{StatusFailed, StatusStopped, StatusTimeout} {
		runID := fmt.Sprintf("run-%d", i)
		if _, err := trigger.Observe(context.Background(), runID, status); err != nil {
			t.Fatalf("observe %s: %v", status, err)
		}

		fired, err := trigger.Observe(context.Background(), runID, StatusSucceeded)
		if err != nil {
			t.Fatalf("observe late success: %v", err)
		}
		if fired {
			t.Fatalf("late success after %q fired", status)
		}
		if trigger.State(runID) != StateWaiting {
			t.Fatalf("state=%q, want WAITING permanently", trigger.State(runID))
		}
	}
	if calls != 0 {
		t.Fatalf("start calls=%d, want 0", calls)
	}
}

func TestTriggerTrackedRunsBounded(t *testing.T) {
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	total := maxTrackedRuns + 32
	for i := 0; i < total; i++ {
		runID := fmt.Sprintf("run-%d", i)
		if _, err := trigger.Observe(context.Background(), runID, StatusFailed); err != nil {
			t.Fatalf("observe %s: %v", runID, err)
		}
	}

	trigger.mu.Lock()
	records, ordered := len(trigger.terminal), len(trigger.order)
	_, oldestKept := trigger.terminal[fmt.Sprintf("run-%d", total-maxTrackedRuns)]
	trigger.mu.Unlock()

	if records != maxTrackedRuns || ordered != maxTrackedRuns {
		t.Fatalf("records=%d ordered=%d, want %d tracked runs", records, ordered, maxTrackedRuns)
	}
	if !oldestKept {
		t.Fatalf("expected run-%d to still be tracked", total-maxTrackedRuns)
	}
}

func TestTriggerIndependentRuns(t *testing.T) {
	var mu sync.Mutex
	started := make(map[string]int)
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		mu.Lock()
		started[runID]++
		mu.Unlock()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := trigger.Observe(context.Background(), "run-a", StatusSucceeded); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if _, err := trigger.Observe(context.Background(), "run-b", StatusSucceeded); err != nil {
		t.Fatalf("observe: %v", err)
	}

	if started["run-a"] != 1 || started["run-b"] != 1 {
		t.Fatalf("started=%v, want one fire per run", started)
	}
}

func TestTriggerConcurrentObserves(t *testing.T) {
	calls := 0
	var callsMu sync.Mutex
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		callsMu.Lock()
		calls++
		callsMu.Unlock()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger.Observe(context.Background(), "run-1", StatusSucceeded)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("start calls=%d, want exactly 1", calls)
	}
}

func TestTriggerStartErrorStaysFired(t *testing.T) {
	trigger, err := NewTrigger(func(ctx context.Context, runID string) error {
		return errors.New("downstream boom")
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	fired, err := trigger.Observe(context.Background(), "run-1", StatusSucceeded)
	if err == nil {
		t.Fatalf("expected start error")
	}
	if !fired {
		t.Fatalf("fire attempt should be reported")
	}
	if trigger.State("run-1") != StateFired {
		t.Fatalf("state=%q, want FIRED (at most once)", trigger.State("run-1"))
	}
}

func TestNewTriggerRequiresStart(t *testing.T) {
	if _, err := NewTrigger(nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
