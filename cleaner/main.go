// Command cleaner runs the first pipeline stage: it reads raw telemetry
// records under the input path, validates and coerces them, and writes a
// cleaned columnar dataset under the output path.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
	"github.com/relayml-labs/relayml-go/internal/transform"
)

func main() {
	input := flag.String("input", objectstore.PrefixRaw, "input path prefix")
	output := flag.String("output", objectstore.PrefixClean, "output path prefix")
	engine := flag.String("engine", transform.EngineMinio, "storage engine: minio or file")
	malformed := flag.String("malformed", string(transform.PolicyDrop), "malformed record policy: drop or strict")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := transform.ParseMalformedPolicy(*malformed)
	if err != nil {
		logger.Error("invalid flag", "error", err)
		os.Exit(2)
	}

	store, err := transform.OpenStore(*engine)
	if err != nil {
		logger.Error("storage engine init failed", "engine", *engine, "error", err)
		os.Exit(2)
	}

	job := transform.CleanJob{
		Store:  store,
		Input:  *input,
		Output: *output,
		Policy: policy,
		Logger: logger,
	}
	result, err := job.Run(ctx)
	if err != nil {
		logger.Error("clean stage failed", "input", *input, "error", err)
		os.Exit(1)
	}

	logger.Info("clean stage succeeded",
		"output_key", result.OutputKey,
		"objects", result.ObjectsRead,
		"records_in", result.RecordsIn,
		"records_out", result.RecordsOut,
		"dropped", result.Dropped,
	)
}
