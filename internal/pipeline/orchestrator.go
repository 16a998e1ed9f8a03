package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// TrainOutput is what the training step must produce for registration.
type TrainOutput struct {
	ArtifactKey   string
	TrainingJobID string
}

// Steps supplies the side-effecting work per workflow step. Each step's output
// is required input to the next; the orchestrator threads them through.
type Steps struct {
	Train            func(ctx context.Context, executionID string) (TrainOutput, error)
	RegisterModel    func(ctx context.Context, executionID string, train TrainOutput) (modelID string, err error)
	ConfigureHosting func(ctx context.Context, executionID string, modelID string) (hostingConfigID string, err error)
	DeployEndpoint   func(ctx context.Context, executionID string, hostingConfigID string) (endpointName string, err error)
}

func (s Steps) validate() error {
	if s.Train == nil {
		return fmt.Errorf("train step is required")
	}
	if s.RegisterModel == nil {
		return fmt.Errorf("register model step is required")
	}
	if s.ConfigureHosting == nil {
		return fmt.Errorf("configure hosting step is required")
	}
	if s.DeployEndpoint == nil {
		return fmt.Errorf("deploy endpoint step is required")
	}
	return nil
}

// Store is the persistence surface the orchestrator drives. Implemented by
// ExecutionStore; faked in tests.
type Store interface {
	Create(ctx context.Context) (domain.Execution, error)
	Get(ctx context.Context, executionID string) (domain.Execution, error)
	Transition(ctx context.Context, executionID string, from, to domain.ExecutionState, outputs domain.Execution) error
	RecordStep(ctx context.Context, record domain.StepRecord) error
}

// Orchestrator runs executions through the state machine. Failures at any
// step move the execution to FAILED and leave earlier outputs in place; there
// are no automatic retries.
type Orchestrator struct {
	Store  Store
	Steps  Steps
	Logger *slog.Logger

	// OnTerminal, when set, observes every execution that reaches SUCCEEDED or
	// FAILED. Used for the pipeline event log.
	OnTerminal func(ctx context.Context, exec domain.Execution)
}

func NewOrchestrator(store Store, steps Steps, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := steps.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{Store: store, Steps: steps, Logger: logger}, nil
}

// Start creates a new execution and runs it to a terminal state.
func (o *Orchestrator) Start(ctx context.Context) (domain.Execution, error) {
	if o == nil || o.Store == nil {
		return domain.Execution{}, fmt.Errorf("orchestrator not initialized")
	}
	exec, err := o.Store.Create(ctx)
	if err != nil {
		return domain.Execution{}, err
	}
	if o.Logger != nil {
		o.Logger.Info("execution started", "execution_id", exec.ID)
	}
	_ = o.run(ctx, exec.ID)
	o.notifyTerminal(ctx, exec.ID)
	return o.Store.Get(ctx, exec.ID)
}

// StartDetached creates a new execution and runs it in the background. The
// returned execution is in the TRAIN state; callers poll Get for progress.
func (o *Orchestrator) StartDetached(ctx context.Context) (domain.Execution, error) {
	if o == nil || o.Store == nil {
		return domain.Execution{}, fmt.Errorf("orchestrator not initialized")
	}
	exec, err := o.Store.Create(ctx)
	if err != nil {
		return domain.Execution{}, err
	}
	if o.Logger != nil {
		o.Logger.Info("execution started", "execution_id", exec.ID)
	}
	go func() {
		_ = o.run(ctx, exec.ID)
		o.notifyTerminal(ctx, exec.ID)
	}()
	return exec, nil
}

func (o *Orchestrator) notifyTerminal(ctx context.Context, executionID string) {
	if o.OnTerminal == nil {
		return
	}
	exec, err := o.Store.Get(ctx, executionID)
	if err != nil || !exec.State.Terminal() {
		return
	}
	o.OnTerminal(ctx, exec)
}

func (o *Orchestrator) run(ctx context.Context, executionID string) error {
	var train TrainOutput
	var modelID, hostingConfigID string

	for _, step := range domain.StepOrder {
		started := time.Now().UTC()
		var output string
		var err error

		switch step {
		case domain.StateTrain:
			train, err = o.Steps.Train(ctx, executionID)
			output = train.ArtifactKey
		case domain.StateRegisterModel:
			modelID, err = o.Steps.RegisterModel(ctx, executionID, train)
			output = modelID
		case domain.StateConfigureHosting:
			hostingConfigID, err = o.Steps.ConfigureHosting(ctx, executionID, modelID)
			output = hostingConfigID
		case domain.StateDeployEndpoint:
			output, err = o.Steps.DeployEndpoint(ctx, executionID, hostingConfigID)
		}

		finished := time.Now().UTC()
		if err != nil {
			o.recordStep(ctx, domain.StepRecord{
				ExecutionID: executionID,
				Step:        step,
				Status:      domain.StepStatusFailed,
				Error:       err.Error(),
				StartedAt:   started,
				FinishedAt:  finished,
			})
			if transitionErr := o.Store.Transition(ctx, executionID, step, domain.StateFailed, domain.Execution{
				FailureReason: fmt.Sprintf("%s: %s", step, err.Error()),
			}); transitionErr != nil {
				return fmt.Errorf("mark failed after %s: %w", step, transitionErr)
			}
			if o.Logger != nil {
				o.Logger.Error("execution failed",
					"execution_id", executionID,
					"step", string(step),
					"error", err.Error(),
				)
			}
			return fmt.Errorf("step %s: %w", step, err)
		}

		o.recordStep(ctx, domain.StepRecord{
			ExecutionID: executionID,
			Step:        step,
			Status:      domain.StepStatusSucceeded,
			Output:      output,
			StartedAt:   started,
			FinishedAt:  finished,
		})

		next, err := domain.NextStep(step)
		if err != nil {
			return err
		}
		outputs := domain.Execution{}
		switch step {
		case domain.StateTrain:
			outputs.ArtifactKey = train.ArtifactKey
			outputs.TrainingJobID = train.TrainingJobID
		case domain.StateRegisterModel:
			outputs.ModelID = modelID
		case domain.StateConfigureHosting:
			outputs.HostingConfigID = hostingConfigID
		case domain.StateDeployEndpoint:
			outputs.EndpointName = output
		}
		if err := o.Store.Transition(ctx, executionID, step, next, outputs); err != nil {
			return fmt.Errorf("transition %s -> %s: %w", step, next, err)
		}
		if o.Logger != nil {
			o.Logger.Info("execution step complete",
				"execution_id", executionID,
				"step", string(step),
				"next", string(next),
			)
		}
	}
	return nil
}

func (o *Orchestrator) recordStep(ctx context.Context, record domain.StepRecord) {
	if err := o.Store.RecordStep(ctx, record); err != nil && o.Logger != nil {
		o.Logger.Warn("record step failed",
			"execution_id", record.ExecutionID,
			"step", string(record.Step),
			"error", err.Error(),
		)
	}
}
