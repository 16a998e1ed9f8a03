package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// fakeStore keeps executions in memory, enforcing the same transition rules
// as the Postgres store.
type fakeStore struct {
	mu         sync.Mutex
	executions map[string]domain.Execution
	steps      []domain.StepRecord
	nextID     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{executions: make(map[string]domain.Execution)}
}

func (s *fakeStore) Create(ctx context.Context) (domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	exec := domain.Execution{
		ID:        fmt.Sprintf("exec-%d", s.nextID),
		State:     domain.StateTrain,
		CreatedAt: time.Now().UTC(),
	}
	s.executions[exec.ID] = exec
	return exec, nil
}

func (s *fakeStore) Get(ctx context.Context, executionID string) (domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return domain.Execution{}, ErrNotFound
	}
	return exec, nil
}

func (s *fakeStore) Transition(ctx context.Context, executionID string, from, to domain.ExecutionState, outputs domain.Execution) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	if exec.State != from {
		return ErrStaleState
	}
	exec.State = to
	if outputs.ArtifactKey != "" {
		exec.ArtifactKey = outputs.ArtifactKey
	}
	if outputs.TrainingJobID != "" {
		exec.TrainingJobID = outputs.TrainingJobID
	}
	if outputs.ModelID != "" {
		exec.ModelID = outputs.ModelID
	}
	if outputs.HostingConfigID != "" {
		exec.HostingConfigID = outputs.HostingConfigID
	}
	if outputs.EndpointName != "" {
		exec.EndpointName = outputs.EndpointName
	}
	if outputs.FailureReason != "" {
		exec.FailureReason = outputs.FailureReason
	}
	s.executions[executionID] = exec
	return nil
}

func (s *fakeStore) RecordStep(ctx context.Context, record domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, record)
	return nil
}

func happySteps(order *[]string) Steps {
	return Steps{
		Train: func(ctx context.Context, executionID string) (TrainOutput, error) {
			*order = append(*order, "train")
			return TrainOutput{ArtifactKey: "model-artifacts/" + executionID + "/model.bin", TrainingJobID: "job-1"}, nil
		},
		RegisterModel: func(ctx context.Context, executionID string, train TrainOutput) (string, error) {
			*order = append(*order, "register")
			if train.ArtifactKey == "" {
				return "", errors.New("missing artifact key")
			}
			return "model-1", nil
		},
		ConfigureHosting: func(ctx context.Context, executionID string, modelID string) (string, error) {
			*order = append(*order, "configure")
			if modelID != "model-1" {
				return "", fmt.Errorf("unexpected model id %q", modelID)
			}
			return "cfg-1", nil
		},
		DeployEndpoint: func(ctx context.Context, executionID string, hostingConfigID string) (string, error) {
			*order = append(*order, "deploy")
			if hostingConfigID != "cfg-1" {
				return "", fmt.Errorf("unexpected config id %q", hostingConfigID)
			}
			return "relayml-endpoint", nil
		},
	}
}

func TestOrchestratorRunsStepsInOrder(t *testing.T) {
	store := newFakeStore()
	var order []string
	orch, err := NewOrchestrator(store, happySteps(&order), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	exec, err := orch.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []string{"train", "register", "configure", "deploy"}
	if len(order) != len(want) {
		t.Fatalf("order=%v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want %v", order, want)
		}
	}

	if exec.State != domain.StateSucceeded {
		t.Fatalf("state=%q, want SUCCEEDED", exec.State)
	}
	if exec.ArtifactKey == "" || exec.ModelID != "model-1" || exec.HostingConfigID != "cfg-1" || exec.EndpointName != "relayml-endpoint" {
		t.Fatalf("outputs not threaded: %+v", exec)
	}

	if len(store.steps) != 4 {
		t.Fatalf("step records=%d, want 4", len(store.steps))
	}
	for _, record := range store.steps {
		if record.Status != domain.StepStatusSucceeded {
			t.Fatalf("step %q status=%q", record.Step, record.Status)
		}
	}
}

func TestOrchestratorFailureShortCircuits(t *testing.T) {
	store := newFakeStore()
	var order []string
	steps := happySteps(&order)
	steps.RegisterModel = func(ctx context.Context, executionID string, train TrainOutput) (string, error) {
		order = append(order, "register")
		return "", errors.New("registry down")
	}

	orch, err := NewOrchestrator(store, steps, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	exec, err := orch.Start(context.Background())
	if err != nil {
		t.Fatalf("start should return the terminal execution, got err=%v", err)
	}

	if exec.State != domain.StateFailed {
		t.Fatalf("state=%q, want FAILED", exec.State)
	}
	// Later steps never ran.
	for _, step := range order {
		if step == "configure" || step == "deploy" {
			t.Fatalf("step %q ran after failure", step)
		}
	}
	// Prior step output is left in place.
	if exec.ArtifactKey == "" {
		t.Fatalf("training artifact should survive failure")
	}
	if exec.FailureReason == "" {
		t.Fatalf("failure reason not recorded")
	}

	var failed int
	for _, record := range store.steps {
		if record.Status == domain.StepStatusFailed {
			failed++
			if record.Step != domain.StateRegisterModel {
				t.Fatalf("failed step=%q, want REGISTER_MODEL", record.Step)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed records=%d, want 1", failed)
	}
}

func TestOrchestratorTrainFailureRegistersNothing(t *testing.T) {
	store := newFakeStore()
	var order []string
	steps := happySteps(&order)
	steps.Train = func(ctx context.Context, executionID string) (TrainOutput, error) {
		return TrainOutput{}, errors.New("max runtime exceeded")
	}

	orch, err := NewOrchestrator(store, steps, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	exec, err := orch.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.State != domain.StateFailed {
		t.Fatalf("state=%q, want FAILED", exec.State)
	}
	if exec.ModelID != "" {
		t.Fatalf("nothing should be registered after training failure")
	}
}

func TestOrchestratorConcurrentExecutionsIndependent(t *testing.T) {
	store := newFakeStore()
	var mu sync.Mutex
	var order []string
	orch, err := NewOrchestrator(store, Steps{
		Train: func(ctx context.Context, executionID string) (TrainOutput, error) {
			return TrainOutput{ArtifactKey: "model-artifacts/" + executionID + "/model.bin"}, nil
		},
		RegisterModel: func(ctx context.Context, executionID string, train TrainOutput) (string, error) {
			return "model-" + executionID, nil
		},
		ConfigureHosting: func(ctx context.Context, executionID string, modelID string) (string, error) {
			return "cfg-" + executionID, nil
		},
		DeployEndpoint: func(ctx context.Context, executionID string, hostingConfigID string) (string, error) {
			mu.Lock()
			order = append(order, executionID)
			mu.Unlock()
			return "relayml-endpoint", nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]domain.Execution, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := orch.Start(context.Background())
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			results[i] = exec
		}(i)
	}
	wg.Wait()

	for _, exec := range results {
		if exec.State != domain.StateSucceeded {
			t.Fatalf("state=%q, want SUCCEEDED", exec.State)
		}
	}
	if len(order) != 4 {
		t.Fatalf("deploys=%d, want 4", len(order))
	}
}

func TestOrchestratorStartDetachedReachesTerminal(t *testing.T) {
	store := newFakeStore()
	var order []string
	orch, err := NewOrchestrator(store, happySteps(&order), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan domain.Execution, 1)
	orch.OnTerminal = func(ctx context.Context, exec domain.Execution) {
		done <- exec
	}

	exec, err := orch.StartDetached(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.State != domain.StateTrain {
		t.Fatalf("state=%q, want TRAIN immediately after start", exec.State)
	}

	select {
	case final := <-done:
		if final.ID != exec.ID {
			t.Fatalf("terminal execution id=%q, want %q", final.ID, exec.ID)
		}
		if final.State != domain.StateSucceeded {
			t.Fatalf("state=%q, want SUCCEEDED", final.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("execution never reached a terminal state")
	}
}

func TestNewOrchestratorValidatesSteps(t *testing.T) {
	if _, err := NewOrchestrator(newFakeStore(), Steps{}, nil); err == nil {
		t.Fatalf("expected error for missing steps")
	}
	var order []string
	if _, err := NewOrchestrator(nil, happySteps(&order), nil); err == nil {
		t.Fatalf("expected error for missing store")
	}
}
