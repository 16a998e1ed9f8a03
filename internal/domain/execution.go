package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionState is the current position of a pipeline execution in the linear
// train → register → configure → deploy workflow.
type ExecutionState string

const (
	StateTrain            ExecutionState = "TRAIN"
	StateRegisterModel    ExecutionState = "REGISTER_MODEL"
	StateConfigureHosting ExecutionState = "CONFIGURE_HOSTING"
	StateDeployEndpoint   ExecutionState = "DEPLOY_ENDPOINT"
	StateSucceeded        ExecutionState = "SUCCEEDED"
	StateFailed           ExecutionState = "FAILED"
)

// StepOrder is the canonical step sequence. The transition table below must
// stay consistent with it.
var StepOrder = []ExecutionState{
	StateTrain,
	StateRegisterModel,
	StateConfigureHosting,
	StateDeployEndpoint,
}

var executionTransitions = map[ExecutionState][]ExecutionState{
	StateTrain:            {StateRegisterModel, StateFailed},
	StateRegisterModel:    {StateConfigureHosting, StateFailed},
	StateConfigureHosting: {StateDeployEndpoint, StateFailed},
	StateDeployEndpoint:   {StateSucceeded, StateFailed},
	StateSucceeded:        {},
	StateFailed:           {},
}

func (s ExecutionState) Valid() bool {
	_, ok := executionTransitions[s]
	return ok
}

// Terminal reports whether the state admits no further transitions.
func (s ExecutionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition returns true when a transition is allowed.
func CanTransition(from, to ExecutionState) bool {
	allowed, ok := executionTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures an execution state transition is valid.
func ValidateTransition(from, to ExecutionState) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid execution state transition")
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("execution state transition %q -> %q not allowed", from, to)
	}
	return nil
}

// NextStep returns the step after current in the canonical order, or SUCCEEDED
// after the final step.
func NextStep(current ExecutionState) (ExecutionState, error) {
	for i, step := range StepOrder {
		if step != current {
			continue
		}
		if i == len(StepOrder)-1 {
			return StateSucceeded, nil
		}
		return StepOrder[i+1], nil
	}
	return "", fmt.Errorf("state %q is not a workflow step", current)
}

// ParseExecutionState maps free-form status values to canonical states.
func ParseExecutionState(value string) (ExecutionState, error) {
	state := ExecutionState(strings.ToUpper(strings.TrimSpace(value)))
	if !state.Valid() {
		return "", fmt.Errorf("unknown execution state %q", value)
	}
	return state, nil
}

// Execution is one workflow run. Step outputs are threaded forward: training
// produces the artifact key, registration the model id, and so on. Empty
// fields mean the step has not completed.
type Execution struct {
	ID              string
	State           ExecutionState
	ArtifactKey     string
	TrainingJobID   string
	ModelID         string
	HostingConfigID string
	EndpointName    string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e Execution) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if !e.State.Valid() {
		return fmt.Errorf("invalid execution state %q", e.State)
	}
	return nil
}

// StepRecord is the persisted outcome of one step attempt.
type StepRecord struct {
	ExecutionID string
	Step        ExecutionState
	Status      StepStatus
	Output      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// StepStatus is a terminal step outcome.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)
