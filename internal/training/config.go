// Package training runs the model training job as a bounded container and
// locates the artifact it produces.
package training

import (
	"errors"
	"strings"
	"time"

	"github.com/relayml-labs/relayml-go/internal/platform/env"
)

// Fixed hyperparameters for the regression objective.
const (
	HyperparamObjective = "reg:squarederror"
	HyperparamNumRound  = "10"
)

// DefaultMaxRuntime bounds a training job. Overrun kills the container and
// fails the execution.
const DefaultMaxRuntime = 600 * time.Second

type Config struct {
	// ImageRef is the externally supplied training image.
	ImageRef     string
	MaxRuntime   time.Duration
	PollInterval time.Duration
}

func ConfigFromEnv() (Config, error) {
	maxRuntime, err := env.Duration("RELAYML_TRAINING_MAX_RUNTIME", DefaultMaxRuntime)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := env.Duration("RELAYML_TRAINING_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ImageRef:     env.String("RELAYML_TRAINING_IMAGE", ""),
		MaxRuntime:   maxRuntime,
		PollInterval: pollInterval,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ImageRef) == "" {
		return errors.New("RELAYML_TRAINING_IMAGE is required")
	}
	if c.MaxRuntime <= 0 {
		return errors.New("RELAYML_TRAINING_MAX_RUNTIME must be positive")
	}
	return nil
}
