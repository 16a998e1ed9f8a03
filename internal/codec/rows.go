// Package codec encodes pipeline datasets: JSON-lines for raw and clean
// records, CSV rows and column-major JSON for aggregates. All encoders emit
// deterministic output so identical inputs produce byte-identical objects.
package codec

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// DecodeRawRecords reads JSON-lines raw records. Lines that fail to parse as
// JSON objects are returned as-is in malformed, leaving the policy decision to
// the caller.
func DecodeRawRecords(r io.Reader) (records []domain.RawRecord, malformed []string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed = append(malformed, scanner.Text())
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan records: %w", err)
	}
	return records, malformed, nil
}

type cleanRecordJSON struct {
	Timestamp string             `json:"timestamp"`
	DeviceID  string             `json:"device_id"`
	Values    map[string]float64 `json:"values"`
}

// EncodeCleanRecords writes clean records as JSON-lines, sorted by timestamp
// then device id.
func EncodeCleanRecords(w io.Writer, records []domain.CleanRecord) error {
	sorted := make([]domain.CleanRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].DeviceID < sorted[j].DeviceID
	})

	enc := json.NewEncoder(w)
	for _, rec := range sorted {
		if err := enc.Encode(cleanRecordJSON{
			Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
			DeviceID:  rec.DeviceID,
			Values:    rec.Values,
		}); err != nil {
			return fmt.Errorf("encode clean record: %w", err)
		}
	}
	return nil
}

// DecodeCleanRecords reads JSON-lines clean records.
func DecodeCleanRecords(r io.Reader) ([]domain.CleanRecord, error) {
	var out []domain.CleanRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec cleanRecordJSON
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode clean record: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode clean record timestamp: %w", err)
		}
		out = append(out, domain.CleanRecord{
			Timestamp: ts.UTC(),
			DeviceID:  rec.DeviceID,
			Values:    rec.Values,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan clean records: %w", err)
	}
	return out, nil
}

// EncodeAggregatesCSV writes aggregate records as CSV. Header columns are
// window_start, device_id, then per-field count/avg/min/max in sorted field
// order. Rows are expected to be pre-sorted by (window, device).
func EncodeAggregatesCSV(w io.Writer, records []domain.AggregateRecord) error {
	fields := collectFieldNames(records)

	header := []string{"window_start", "device_id"}
	for _, field := range fields {
		header = append(header,
			field+"_count",
			field+"_avg",
			field+"_min",
			field+"_max",
		)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{rec.WindowStart.UTC().Format(time.RFC3339), rec.DeviceID}
		for _, field := range fields {
			stats, ok := rec.Fields[field]
			if !ok {
				row = append(row, "0", "", "", "")
				continue
			}
			row = append(row,
				strconv.FormatInt(stats.Count, 10),
				formatFloat(stats.Avg),
				formatFloat(stats.Min),
				formatFloat(stats.Max),
			)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func collectFieldNames(records []domain.AggregateRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec.Fields {
			seen[name] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for name := range seen {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
