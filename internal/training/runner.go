package training

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/jobexec"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

// Output is what a successful training run yields.
type Output struct {
	ArtifactKey   string
	TrainingJobID string
}

// Runner submits one training container per execution and waits for it to
// finish. The container reads the aggregated dataset from the store and must
// write its artifact to the key the runner passes in.
type Runner struct {
	Config   Config
	Executor jobexec.Executor
	Store    objectstore.Store
	Logger   *slog.Logger
}

func NewRunner(cfg Config, executor jobexec.Executor, store objectstore.Store, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Runner{Config: cfg, Executor: executor, Store: store, Logger: logger}, nil
}

// Run trains a model for one execution. It blocks until the job terminates or
// exceeds the max runtime, then verifies the artifact exists.
func (r *Runner) Run(ctx context.Context, executionID string) (Output, error) {
	if r == nil || r.Executor == nil {
		return Output{}, fmt.Errorf("training runner not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return Output{}, fmt.Errorf("execution id is required")
	}

	jobID := "relayml-train-" + executionID
	artifactKey := ArtifactKey(executionID)

	spec := jobexec.JobSpec{
		ContainerName: jobID,
		ImageRef:      r.Config.ImageRef,
		JobKind:       "training",
		ExecutionID:   executionID,
		Env: map[string]string{
			"OBJECTIVE":           HyperparamObjective,
			"NUM_ROUND":           HyperparamNumRound,
			"INPUT_PREFIX":        objectstore.PrefixAggregated,
			"ARTIFACT_OBJECT_KEY": artifactKey,
		},
	}
	if err := r.Executor.Submit(ctx, spec); err != nil {
		return Output{}, fmt.Errorf("submit training job: %w", err)
	}
	if r.Logger != nil {
		r.Logger.Info("training job submitted",
			"execution_id", executionID,
			"job_id", jobID,
			"image", r.Config.ImageRef,
			"max_runtime", r.Config.MaxRuntime.String(),
		)
	}

	obs, err := jobexec.Wait(ctx, r.Executor, jobID, jobexec.WaitOptions{
		MaxRuntime:   r.Config.MaxRuntime,
		PollInterval: r.Config.PollInterval,
	})
	if err != nil {
		return Output{}, fmt.Errorf("training job %s: %w", jobID, err)
	}
	if obs.Status != jobexec.StatusSucceeded {
		return Output{}, fmt.Errorf("training job %s %s: %s", jobID, obs.Status, obs.Message)
	}

	if _, err := r.Store.Stat(ctx, artifactKey); err != nil {
		return Output{}, fmt.Errorf("training artifact missing at %s: %w", artifactKey, err)
	}

	if r.Logger != nil {
		r.Logger.Info("training job succeeded", "execution_id", executionID, "artifact_key", artifactKey)
	}
	return Output{ArtifactKey: artifactKey, TrainingJobID: jobID}, nil
}

// ArtifactKey is the fixed artifact location per execution.
func ArtifactKey(executionID string) string {
	return objectstore.PrefixArtifacts + executionID + "/model.bin"
}
