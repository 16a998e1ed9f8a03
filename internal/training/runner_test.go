package training

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relayml-labs/relayml-go/internal/jobexec"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

type fakeExecutor struct {
	mu           sync.Mutex
	submitted    []jobexec.JobSpec
	observations []jobexec.Observation
	inspects     int
	killed       []string
}

func (f *fakeExecutor) Kind() string { return "fake" }

func (f *fakeExecutor) Submit(ctx context.Context, spec jobexec.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, spec)
	return nil
}

func (f *fakeExecutor) Inspect(ctx context.Context, containerName string) (jobexec.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func newRunner(t *testing.T, executor jobexec.Executor, withArtifact bool) (*Runner, objectstore.Store) {
	t.Helper()
	store, err := objectstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if withArtifact {
		body := "model-bytes"
		if err := store.Put(context.Background(), ArtifactKey("exec-1"), strings.NewReader(body), int64(len(body)), ""); err != nil {
			t.Fatalf("put artifact: %v", err)
		}
	}
	runner, err := NewRunner(Config{
		ImageRef:     "registry.local/train:1",
		MaxRuntime:   time.Second,
		PollInterval: time.Millisecond,
	}, executor, store, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner, store
}

func TestRunnerSuccess(t *testing.T) {
	executor := &fakeExecutor{observations: []jobexec.Observation{
		{Status: jobexec.StatusRunning},
		{Status: jobexec.StatusSucceeded},
	}}
	runner, _ := newRunner(t, executor, true)

	out, err := runner.Run(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ArtifactKey != "model-artifacts/exec-1/model.bin" {
		t.Fatalf("artifact key=%q", out.ArtifactKey)
	}
	if out.TrainingJobID != "relayml-train-exec-1" {
		t.Fatalf("job id=%q", out.TrainingJobID)
	}

	if len(executor.submitted) != 1 {
		t.Fatalf("submissions=%d, want 1", len(executor.submitted))
	}
	spec := executor.submitted[0]
	if spec.Env["OBJECTIVE"] != "reg:squarederror" {
		t.Fatalf("OBJECTIVE=%q", spec.Env["OBJECTIVE"])
	}
	if spec.Env["NUM_ROUND"] != "10" {
		t.Fatalf("NUM_ROUND=%q", spec.Env["NUM_ROUND"])
	}
	if spec.Env["ARTIFACT_OBJECT_KEY"] != out.ArtifactKey {
		t.Fatalf("artifact env=%q", spec.Env["ARTIFACT_OBJECT_KEY"])
	}
}

func TestRunnerJobFailure(t *testing.T) {
	executor := &fakeExecutor{observations: []jobexec.Observation{
		{Status: jobexec.StatusFailed, Message: "exit 1"},
	}}
	runner, _ := newRunner(t, executor, true)

	if _, err := runner.Run(context.Background(), "exec-1"); err == nil {
		t.Fatalf("expected error for failed job")
	}
}

func TestRunnerMissingArtifactFails(t *testing.T) {
	executor := &fakeExecutor{observations: []jobexec.Observation{
		{Status: jobexec.StatusSucceeded},
	}}
	runner, _ := newRunner(t, executor, false)

	if _, err := runner.Run(context.Background(), "exec-1"); err == nil {
		t.Fatalf("expected error when artifact is missing")
	}
}

func TestRunnerMaxRuntimeKillsJob(t *testing.T) {
	executor := &fakeExecutor{observations: []jobexec.Observation{
		{Status: jobexec.StatusRunning},
	}}
	store, err := objectstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runner, err := NewRunner(Config{
		ImageRef:     "registry.local/train:1",
		MaxRuntime:   5 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, executor, store, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	if _, err := runner.Run(context.Background(), "exec-1"); err == nil {
		t.Fatalf("expected error for overrun")
	}
	if len(executor.killed) != 1 {
		t.Fatalf("killed=%v, want the training container", executor.killed)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{ImageRef: "img", MaxRuntime: time.Second}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Config{MaxRuntime: time.Second}).Validate(); err == nil {
		t.Fatalf("expected error for missing image")
	}
	if err := (Config{ImageRef: "img"}).Validate(); err == nil {
		t.Fatalf("expected error for zero max runtime")
	}
}
