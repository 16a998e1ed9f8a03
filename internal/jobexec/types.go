// Package jobexec runs pipeline jobs (training, serving) as containers and
// observes them until a terminal status.
package jobexec

import (
	"context"
	"errors"
)

// Executor is the container runtime surface the orchestrator uses. Submit
// starts the container detached; callers observe it through Inspect.
type Executor interface {
	Kind() string
	Submit(ctx context.Context, spec JobSpec) error
	Inspect(ctx context.Context, containerName string) (Observation, error)
	Kill(ctx context.Context, containerName string) error
}

// JobSpec describes one container job. Env keys collide-checked against the
// reserved pipeline keys.
type JobSpec struct {
	ContainerName string
	ImageRef      string
	JobKind       string
	ExecutionID   string
	Env           map[string]string
}

// Observation is a point-in-time view of a job.
type Observation struct {
	Status  Status
	Message string
	Details map[string]any
}

// Status is a job status as reported by the runtime.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further change.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var (
	ErrImageRefNotFound = errors.New("image_ref_not_found")
	ErrMaxRuntime       = errors.New("max_runtime_exceeded")
)
