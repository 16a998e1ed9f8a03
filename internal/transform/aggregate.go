package transform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/relayml-labs/relayml-go/internal/codec"
	"github.com/relayml-labs/relayml-go/internal/domain"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

// Aggregate groups clean records into 5-minute epoch-aligned windows per
// device and computes count/avg/min/max per field. Output order is (window,
// device), so identical inputs yield identical output.
func Aggregate(records []domain.CleanRecord) []domain.AggregateRecord {
	type groupKey struct {
		windowStart int64
		deviceID    string
	}
	type accumulator struct {
		count int64
		sum   float64
		min   float64
		max   float64
	}

	groups := make(map[groupKey]map[string]*accumulator)
	for _, rec := range records {
		key := groupKey{
			windowStart: domain.WindowFor(rec.Timestamp).Unix(),
			deviceID:    rec.DeviceID,
		}
		fields, ok := groups[key]
		if !ok {
			fields = make(map[string]*accumulator)
			groups[key] = fields
		}
		for name, v := range rec.Values {
			acc, ok := fields[name]
			if !ok {
				fields[name] = &accumulator{count: 1, sum: v, min: v, max: v}
				continue
			}
			acc.count++
			acc.sum += v
			if v < acc.min {
				acc.min = v
			}
			if v > acc.max {
				acc.max = v
			}
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].windowStart != keys[j].windowStart {
			return keys[i].windowStart < keys[j].windowStart
		}
		return keys[i].deviceID < keys[j].deviceID
	})

	out := make([]domain.AggregateRecord, 0, len(keys))
	for _, key := range keys {
		fields := make(map[string]domain.FieldStats, len(groups[key]))
		for name, acc := range groups[key] {
			fields[name] = domain.FieldStats{
				Count: acc.count,
				Avg:   acc.sum / float64(acc.count),
				Min:   acc.min,
				Max:   acc.max,
			}
		}
		out = append(out, domain.AggregateRecord{
			WindowStart: time.Unix(key.windowStart, 0).UTC(),
			DeviceID:    key.deviceID,
			Fields:      fields,
		})
	}
	return out
}

// AggregateResult summarizes one aggregate run.
type AggregateResult struct {
	RecordsIn   int
	RecordsOut  int
	CSVKey      string
	ColumnarKey string
}

// AggregateJob reads the cleaned row dataset under Input and writes one
// aggregate record per (window, device) in both CSV and column-major JSON.
// Output keys are fixed per input so reruns overwrite.
type AggregateJob struct {
	Store  objectstore.Store
	Input  string
	Output string
	Logger *slog.Logger
}

func (j AggregateJob) Run(ctx context.Context) (AggregateResult, error) {
	if j.Store == nil {
		return AggregateResult{}, fmt.Errorf("store is required")
	}
	if strings.TrimSpace(j.Input) == "" {
		return AggregateResult{}, fmt.Errorf("input prefix is required")
	}
	if strings.TrimSpace(j.Output) == "" {
		return AggregateResult{}, fmt.Errorf("output prefix is required")
	}

	rowsKey := cleanRowsKey(j.Input)
	rc, _, err := j.Store.Get(ctx, rowsKey)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("get %s: %w", rowsKey, err)
	}
	records, err := codec.DecodeCleanRecords(rc)
	rc.Close()
	if err != nil {
		return AggregateResult{}, fmt.Errorf("decode %s: %w", rowsKey, err)
	}

	aggregates := Aggregate(records)

	var csvBuf bytes.Buffer
	if err := codec.EncodeAggregatesCSV(&csvBuf, aggregates); err != nil {
		return AggregateResult{}, err
	}
	var colBuf bytes.Buffer
	if err := codec.EncodeAggregatesColumnar(&colBuf, aggregates); err != nil {
		return AggregateResult{}, err
	}

	result := AggregateResult{
		RecordsIn:   len(records),
		RecordsOut:  len(aggregates),
		CSVKey:      aggregateCSVKey(j.Output),
		ColumnarKey: aggregateColumnarKey(j.Output),
	}
	if err := j.Store.Put(ctx, result.CSVKey, &csvBuf, int64(csvBuf.Len()), "text/csv"); err != nil {
		return AggregateResult{}, fmt.Errorf("put %s: %w", result.CSVKey, err)
	}
	if err := j.Store.Put(ctx, result.ColumnarKey, &colBuf, int64(colBuf.Len()), "application/json"); err != nil {
		return AggregateResult{}, fmt.Errorf("put %s: %w", result.ColumnarKey, err)
	}

	if j.Logger != nil {
		j.Logger.Info("aggregate stage complete",
			"input", rowsKey,
			"csv", result.CSVKey,
			"columnar", result.ColumnarKey,
			"records_in", result.RecordsIn,
			"records_out", result.RecordsOut,
		)
	}
	return result, nil
}

func aggregateCSVKey(output string) string {
	return strings.TrimSuffix(output, "/") + "/aggregates.csv"
}

func aggregateColumnarKey(output string) string {
	return strings.TrimSuffix(output, "/") + "/aggregates.columnar.json"
}
