package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// columnarDataset is a column-major layout: one array per column, all the same
// length. Column names are sorted so encoding is deterministic.
type columnarDataset struct {
	Rows    int                  `json:"rows"`
	Columns map[string][]float64 `json:"columns"`
	// String-typed columns kept apart so numeric columns stay homogeneous.
	Labels map[string][]string `json:"labels"`
}

// EncodeCleanColumnar writes clean records column-major: a "labels" block with
// timestamp and device_id columns, and one numeric column per value field.
// Records missing a field get NaN-free zero fill via explicit presence
// columns (<field>_present holding 0/1).
func EncodeCleanColumnar(w io.Writer, records []domain.CleanRecord) error {
	sorted := make([]domain.CleanRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].DeviceID < sorted[j].DeviceID
	})

	fieldSet := make(map[string]struct{})
	for _, rec := range sorted {
		for name := range rec.Values {
			fieldSet[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	ds := columnarDataset{
		Rows:    len(sorted),
		Columns: make(map[string][]float64, 2*len(fields)),
		Labels: map[string][]string{
			"timestamp": make([]string, 0, len(sorted)),
			"device_id": make([]string, 0, len(sorted)),
		},
	}
	for _, field := range fields {
		ds.Columns[field] = make([]float64, 0, len(sorted))
		ds.Columns[field+"_present"] = make([]float64, 0, len(sorted))
	}

	for _, rec := range sorted {
		ds.Labels["timestamp"] = append(ds.Labels["timestamp"], rec.Timestamp.UTC().Format(time.RFC3339))
		ds.Labels["device_id"] = append(ds.Labels["device_id"], rec.DeviceID)
		for _, field := range fields {
			v, ok := rec.Values[field]
			present := 0.0
			if ok {
				present = 1.0
			} else {
				v = 0
			}
			ds.Columns[field] = append(ds.Columns[field], v)
			ds.Columns[field+"_present"] = append(ds.Columns[field+"_present"], present)
		}
	}

	return encodeDataset(w, ds)
}

// EncodeAggregatesColumnar writes aggregate records column-major with one
// column per (field, statistic) pair. Rows are expected pre-sorted by
// (window, device).
func EncodeAggregatesColumnar(w io.Writer, records []domain.AggregateRecord) error {
	fields := collectFieldNames(records)

	ds := columnarDataset{
		Rows:    len(records),
		Columns: make(map[string][]float64, 4*len(fields)),
		Labels: map[string][]string{
			"window_start": make([]string, 0, len(records)),
			"device_id":    make([]string, 0, len(records)),
		},
	}
	for _, field := range fields {
		for _, stat := range []string{"count", "avg", "min", "max"} {
			ds.Columns[field+"_"+stat] = make([]float64, 0, len(records))
		}
	}

	for _, rec := range records {
		ds.Labels["window_start"] = append(ds.Labels["window_start"], rec.WindowStart.UTC().Format(time.RFC3339))
		ds.Labels["device_id"] = append(ds.Labels["device_id"], rec.DeviceID)
		for _, field := range fields {
			stats := rec.Fields[field]
			ds.Columns[field+"_count"] = append(ds.Columns[field+"_count"], float64(stats.Count))
			ds.Columns[field+"_avg"] = append(ds.Columns[field+"_avg"], stats.Avg)
			ds.Columns[field+"_min"] = append(ds.Columns[field+"_min"], stats.Min)
			ds.Columns[field+"_max"] = append(ds.Columns[field+"_max"], stats.Max)
		}
	}

	return encodeDataset(w, ds)
}

// DecodeColumnar reads a column-major dataset.
func DecodeColumnar(r io.Reader) (rows int, columns map[string][]float64, labels map[string][]string, err error) {
	var ds columnarDataset
	dec := json.NewDecoder(r)
	if err := dec.Decode(&ds); err != nil {
		return 0, nil, nil, fmt.Errorf("decode columnar dataset: %w", err)
	}
	for name, col := range ds.Columns {
		if len(col) != ds.Rows {
			return 0, nil, nil, fmt.Errorf("column %q has %d values, want %d", name, len(col), ds.Rows)
		}
	}
	for name, col := range ds.Labels {
		if len(col) != ds.Rows {
			return 0, nil, nil, fmt.Errorf("label column %q has %d values, want %d", name, len(col), ds.Rows)
		}
	}
	return ds.Rows, ds.Columns, ds.Labels, nil
}

func encodeDataset(w io.Writer, ds columnarDataset) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("encode columnar dataset: %w", err)
	}
	return nil
}
