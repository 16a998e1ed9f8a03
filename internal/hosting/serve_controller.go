package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/jobexec"
)

// ContainerServeController runs the model server as a single long-lived
// container named after the endpoint. Replace is a stop-then-start: the old
// container is removed before the new config comes up, so the endpoint serves
// exactly one config at a time.
type ContainerServeController struct {
	Executor jobexec.Executor
	ImageRef string
	Logger   *slog.Logger
}

func NewContainerServeController(executor jobexec.Executor, imageRef string, logger *slog.Logger) (*ContainerServeController, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if strings.TrimSpace(imageRef) == "" {
		return nil, fmt.Errorf("serving image is required")
	}
	return &ContainerServeController{Executor: executor, ImageRef: imageRef, Logger: logger}, nil
}

// ServingContainerName is the fixed container name per endpoint.
func ServingContainerName(endpointName string) string {
	return "relayml-serve-" + endpointName
}

func (c *ContainerServeController) Replace(ctx context.Context, endpointName, hostingConfigID, executionID string) error {
	if c == nil || c.Executor == nil {
		return fmt.Errorf("serve controller not initialized")
	}
	name := ServingContainerName(endpointName)

	if err := c.Executor.Kill(ctx, name); err != nil {
		return fmt.Errorf("remove previous server: %w", err)
	}
	spec := jobexec.JobSpec{
		ContainerName: name,
		ImageRef:      c.ImageRef,
		JobKind:       "serving",
		ExecutionID:   executionID,
		Env: map[string]string{
			"ENDPOINT_NAME":     endpointName,
			"HOSTING_CONFIG_ID": hostingConfigID,
		},
	}
	if err := c.Executor.Submit(ctx, spec); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if c.Logger != nil {
		c.Logger.Info("serving container replaced", "container", name, "hosting_config_id", hostingConfigID)
	}
	return nil
}
