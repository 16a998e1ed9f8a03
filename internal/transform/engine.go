// Package transform implements the two batch stages: clean (raw → clean) and
// aggregate (clean → aggregated). Both stages read and write through the
// object store abstraction so the same code serves MinIO and local runs.
package transform

import (
	"fmt"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/platform/env"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

const (
	EngineMinio = "minio"
	EngineFile  = "file"
)

// OpenStore builds the storage engine for a stage CLI. The minio engine reads
// RELAYML_MINIO_* env config; the file engine roots keys at RELAYML_DATA_DIR
// (default ".").
func OpenStore(engine string) (objectstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case EngineMinio:
		cfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return objectstore.NewMinioStore(cfg)
	case EngineFile:
		return objectstore.NewFileStore(env.String("RELAYML_DATA_DIR", "."))
	default:
		return nil, fmt.Errorf("unknown engine %q (want %s or %s)", engine, EngineMinio, EngineFile)
	}
}
