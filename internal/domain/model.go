package domain

import (
	"errors"
	"strings"
	"time"
)

// Model is a registered model referencing a training artifact in the object
// store.
type Model struct {
	ID            string
	Name          string
	ArtifactKey   string
	TrainingJobID string
	CreatedAt     time.Time
	CreatedBy     string
}

func (m Model) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("model id is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("model name is required")
	}
	if strings.TrimSpace(m.ArtifactKey) == "" {
		return errors.New("artifact key is required")
	}
	return nil
}

// HostingConfig describes how a model is served: a single variant taking all
// traffic on one instance.
type HostingConfig struct {
	ID            string
	ModelID       string
	InstanceType  string
	InstanceCount int
	VariantName   string
	TrafficWeight float64
	CreatedAt     time.Time
}

func (c HostingConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("hosting config id is required")
	}
	if strings.TrimSpace(c.ModelID) == "" {
		return errors.New("model id is required")
	}
	if strings.TrimSpace(c.InstanceType) == "" {
		return errors.New("instance type is required")
	}
	if c.InstanceCount != 1 {
		return errors.New("instance count must be 1")
	}
	if c.TrafficWeight != 1.0 {
		return errors.New("traffic weight must be 1.0")
	}
	return nil
}

// Endpoint is the fixed-name serving endpoint. Redeploys overwrite the row:
// the endpoint always reflects the most recent successful execution.
type Endpoint struct {
	Name            string
	HostingConfigID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("endpoint name is required")
	}
	if strings.TrimSpace(e.HostingConfigID) == "" {
		return errors.New("hosting config id is required")
	}
	return nil
}
