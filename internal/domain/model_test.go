package domain

import "testing"

func TestModelValidate(t *testing.T) {
	valid := Model{ID: "model-1", Name: "relayml-regressor", ArtifactKey: "model-artifacts/exec-1/model.bin"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Model)
	}{
		{name: "missing id", mutate: func(m *Model) { m.ID = "" }},
		{name: "missing name", mutate: func(m *Model) { m.Name = " " }},
		{name: "missing artifact", mutate: func(m *Model) { m.ArtifactKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			if err := m.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHostingConfigValidate(t *testing.T) {
	valid := HostingConfig{
		ID:            "cfg-1",
		ModelID:       "model-1",
		InstanceType:  "small",
		InstanceCount: 1,
		VariantName:   "primary",
		TrafficWeight: 1.0,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*HostingConfig)
	}{
		{name: "missing id", mutate: func(c *HostingConfig) { c.ID = "" }},
		{name: "missing model", mutate: func(c *HostingConfig) { c.ModelID = "" }},
		{name: "missing instance type", mutate: func(c *HostingConfig) { c.InstanceType = "" }},
		{name: "multiple instances", mutate: func(c *HostingConfig) { c.InstanceCount = 2 }},
		{name: "partial traffic", mutate: func(c *HostingConfig) { c.TrafficWeight = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEndpointValidate(t *testing.T) {
	if err := (Endpoint{Name: "relayml-endpoint", HostingConfigID: "cfg-1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Endpoint{HostingConfigID: "cfg-1"}).Validate(); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := (Endpoint{Name: "relayml-endpoint"}).Validate(); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
