package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/platform/env"
)

// Fixed key prefixes of the pipeline bucket. Everything in the system reads and
// writes under one of these.
const (
	PrefixRaw        = "raw/"
	PrefixClean      = "clean/"
	PrefixAggregated = "aggregated/"
	PrefixScripts    = "scripts/"
	PrefixArtifacts  = "model-artifacts/"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RELAYML_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("RELAYML_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("RELAYML_MINIO_ACCESS_KEY", "relayml"),
		SecretKey: env.String("RELAYML_MINIO_SECRET_KEY", "relaymlminio"),
		Region:    env.String("RELAYML_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("RELAYML_MINIO_BUCKET", "relayml-pipeline"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// Prefixes returns the fixed pipeline prefixes in layout order.
func Prefixes() []string {
	return []string{PrefixRaw, PrefixClean, PrefixAggregated, PrefixScripts, PrefixArtifacts}
}
