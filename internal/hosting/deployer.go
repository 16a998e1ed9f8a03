// Package hosting deploys models to the fixed-name serving endpoint. A deploy
// points the endpoint row at the new hosting config and swaps the serving
// container; redeploys under the same name overwrite the previous deployment.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relayml-labs/relayml-go/internal/domain"
	"github.com/relayml-labs/relayml-go/internal/platform/env"
)

// DefaultEndpointName is the single endpoint every execution deploys to.
const DefaultEndpointName = "relayml-endpoint"

type Config struct {
	// EndpointName is fixed per installation. All executions deploy here.
	EndpointName string
	// ServingImage runs the model server container.
	ServingImage string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		EndpointName: env.String("RELAYML_ENDPOINT_NAME", DefaultEndpointName),
		ServingImage: env.String("RELAYML_SERVING_IMAGE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.EndpointName) == "" {
		return errors.New("RELAYML_ENDPOINT_NAME must not be blank")
	}
	if strings.TrimSpace(c.ServingImage) == "" {
		return errors.New("RELAYML_SERVING_IMAGE is required")
	}
	return nil
}

// EndpointUpserter is the registry surface a deploy needs.
type EndpointUpserter interface {
	Upsert(ctx context.Context, endpoint domain.Endpoint) (domain.Endpoint, error)
}

// ServeController swaps the running model server to a new hosting config.
type ServeController interface {
	Replace(ctx context.Context, endpointName, hostingConfigID, executionID string) error
}

// Deployer is the DEPLOY_ENDPOINT step: record the endpoint, then swap the
// serving container. The row is written first so the endpoint always names the
// most recently deployed config even if the swap has to be retried.
type Deployer struct {
	Config     Config
	Endpoints  EndpointUpserter
	Controller ServeController
	Logger     *slog.Logger
}

func NewDeployer(cfg Config, endpoints EndpointUpserter, controller ServeController, logger *slog.Logger) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint store is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("serve controller is required")
	}
	return &Deployer{Config: cfg, Endpoints: endpoints, Controller: controller, Logger: logger}, nil
}

// Deploy points the endpoint at hostingConfigID and replaces the serving
// container. Returns the endpoint name on success.
func (d *Deployer) Deploy(ctx context.Context, executionID, hostingConfigID string) (string, error) {
	if d == nil || d.Endpoints == nil {
		return "", fmt.Errorf("deployer not initialized")
	}
	hostingConfigID = strings.TrimSpace(hostingConfigID)
	if hostingConfigID == "" {
		return "", fmt.Errorf("hosting config id is required")
	}

	endpoint, err := d.Endpoints.Upsert(ctx, domain.Endpoint{
		Name:            d.Config.EndpointName,
		HostingConfigID: hostingConfigID,
		UpdatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("record endpoint: %w", err)
	}

	if err := d.Controller.Replace(ctx, endpoint.Name, hostingConfigID, executionID); err != nil {
		return "", fmt.Errorf("replace serving container: %w", err)
	}

	if d.Logger != nil {
		d.Logger.Info("endpoint deployed",
			"endpoint", endpoint.Name,
			"hosting_config_id", hostingConfigID,
			"execution_id", executionID,
		)
	}
	return endpoint.Name, nil
}
