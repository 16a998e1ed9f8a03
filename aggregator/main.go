// Command aggregator runs the second pipeline stage: it reads the cleaned
// dataset under the input path, groups records into 5-minute windows per
// device, and writes per-window aggregates in CSV and columnar form.
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
	input := flag.String("input", objectstore.PrefixClean, "input path prefix")
	output := flag.String("output", objectstore.PrefixAggregated, "output path prefix")
	engine := flag.String("engine", transform.EngineMinio, "storage engine: minio or file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := transform.OpenStore(*engine)
	if err != nil {
		logger.Error("storage engine init failed", "engine", *engine, "error", err)
		os.Exit(2)
	}

	job := transform.AggregateJob{
		Store:  store,
		Input:  *input,
		Output: *output,
		Logger: logger,
	}
	result, err := job.Run(ctx)
	if err != nil {
		logger.Error("aggregate stage failed", "input", *input, "error", err)
		os.Exit(1)
	}

	logger.Info("aggregate stage succeeded",
		"csv_key", result.CSVKey,
		"columnar_key", result.ColumnarKey,
		"records_in", result.RecordsIn,
		"records_out", result.RecordsOut,
	)
}
