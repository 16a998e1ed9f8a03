package transform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/codec"
	"github.com/relayml-labs/relayml-go/internal/domain"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
)

// MalformedPolicy decides what happens when a raw record fails validation.
type MalformedPolicy string

const (
	// PolicyDrop drops malformed records and counts them.
	PolicyDrop MalformedPolicy = "drop"
	// PolicyStrict aborts the job on the first malformed record.
	PolicyStrict MalformedPolicy = "strict"
)

func ParseMalformedPolicy(value string) (MalformedPolicy, error) {
	switch MalformedPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyDrop, "":
		return PolicyDrop, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown malformed policy %q (want drop or strict)", value)
	}
}

// CleanResult summarizes one clean run.
type CleanResult struct {
	ObjectsRead int
	RecordsIn   int
	RecordsOut  int
	Dropped     int
	OutputKey   string
}

// CleanJob reads every object under Input, validates and coerces raw records,
// and writes one columnar cleaned dataset under Output. The output key is
// fixed per input so reruns overwrite.
type CleanJob struct {
	Store  objectstore.Store
	Input  string
	Output string
	Policy MalformedPolicy
	Logger *slog.Logger
}

func (j CleanJob) Run(ctx context.Context) (CleanResult, error) {
	if j.Store == nil {
		return CleanResult{}, fmt.Errorf("store is required")
	}
	if strings.TrimSpace(j.Input) == "" {
		return CleanResult{}, fmt.Errorf("input prefix is required")
	}
	if strings.TrimSpace(j.Output) == "" {
		return CleanResult{}, fmt.Errorf("output prefix is required")
	}
	policy := j.Policy
	if policy == "" {
		policy = PolicyDrop
	}

	infos, err := j.Store.List(ctx, j.Input)
	if err != nil {
		return CleanResult{}, fmt.Errorf("list input: %w", err)
	}
	if len(infos) == 0 {
		return CleanResult{}, fmt.Errorf("no objects under %q", j.Input)
	}

	result := CleanResult{ObjectsRead: len(infos)}
	var cleaned []domain.CleanRecord

	for _, info := range infos {
		rc, _, err := j.Store.Get(ctx, info.Key)
		if err != nil {
			return CleanResult{}, fmt.Errorf("get %s: %w", info.Key, err)
		}
		records, malformedLines, err := codec.DecodeRawRecords(rc)
		rc.Close()
		if err != nil {
			return CleanResult{}, fmt.Errorf("decode %s: %w", info.Key, err)
		}

		result.RecordsIn += len(records) + len(malformedLines)
		if len(malformedLines) > 0 {
			if policy == PolicyStrict {
				return CleanResult{}, fmt.Errorf("%s: %d unparseable records", info.Key, len(malformedLines))
			}
			result.Dropped += len(malformedLines)
		}

		for _, raw := range records {
			rec, err := domain.CleanRaw(raw)
			if err != nil {
				if policy == PolicyStrict {
					return CleanResult{}, fmt.Errorf("%s: malformed record: %w", info.Key, err)
				}
				result.Dropped++
				continue
			}
			cleaned = append(cleaned, rec)
		}
	}

	var buf bytes.Buffer
	if err := codec.EncodeCleanColumnar(&buf, cleaned); err != nil {
		return CleanResult{}, err
	}

	result.RecordsOut = len(cleaned)
	result.OutputKey = cleanOutputKey(j.Output)
	if err := j.Store.Put(ctx, result.OutputKey, &buf, int64(buf.Len()), "application/json"); err != nil {
		return CleanResult{}, fmt.Errorf("put %s: %w", result.OutputKey, err)
	}

	// Row-oriented copy alongside the columnar dataset so the aggregate stage
	// and humans can read it back without the columnar decoder.
	var rows bytes.Buffer
	if err := codec.EncodeCleanRecords(&rows, cleaned); err != nil {
		return CleanResult{}, err
	}
	rowsKey := cleanRowsKey(j.Output)
	if err := j.Store.Put(ctx, rowsKey, &rows, int64(rows.Len()), "application/x-ndjson"); err != nil {
		return CleanResult{}, fmt.Errorf("put %s: %w", rowsKey, err)
	}

	if j.Logger != nil {
		j.Logger.Info("clean stage complete",
			"input", j.Input,
			"output", result.OutputKey,
			"objects", result.ObjectsRead,
			"records_in", result.RecordsIn,
			"records_out", result.RecordsOut,
			"dropped", result.Dropped,
			"policy", string(policy),
		)
	}
	return result, nil
}

func cleanOutputKey(output string) string {
	return strings.TrimSuffix(output, "/") + "/dataset.columnar.json"
}

func cleanRowsKey(output string) string {
	return strings.TrimSuffix(output, "/") + "/dataset.jsonl"
}
