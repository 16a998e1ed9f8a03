package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RawRecord is one telemetry reading as found under raw/. Fields arrive loosely
// typed: timestamps may be RFC3339 strings or unix seconds, values may be
// numbers or numeric strings.
type RawRecord map[string]any

// CleanRecord is a validated, coerced reading.
type CleanRecord struct {
	Timestamp time.Time
	DeviceID  string
	Values    map[string]float64
}

var (
	ErrMissingTimestamp = errors.New("timestamp is required")
	ErrMissingDeviceID  = errors.New("device_id is required")
	ErrNoNumericFields  = errors.New("at least one numeric field is required")
)

// CleanRaw validates a raw record and coerces it into a CleanRecord.
func CleanRaw(raw RawRecord) (CleanRecord, error) {
	if raw == nil {
		return CleanRecord{}, errors.New("record is nil")
	}

	tsRaw, ok := raw["timestamp"]
	if !ok {
		return CleanRecord{}, ErrMissingTimestamp
	}
	ts, err := coerceTimestamp(tsRaw)
	if err != nil {
		return CleanRecord{}, fmt.Errorf("timestamp: %w", err)
	}

	deviceRaw, ok := raw["device_id"]
	if !ok {
		return CleanRecord{}, ErrMissingDeviceID
	}
	deviceID, ok := deviceRaw.(string)
	if !ok || strings.TrimSpace(deviceID) == "" {
		return CleanRecord{}, ErrMissingDeviceID
	}

	values := make(map[string]float64)
	for key, v := range raw {
		if key == "timestamp" || key == "device_id" {
			continue
		}
		f, err := coerceFloat(v)
		if err != nil {
			continue
		}
		values[key] = f
	}
	if len(values) == 0 {
		return CleanRecord{}, ErrNoNumericFields
	}

	return CleanRecord{
		Timestamp: ts.UTC(),
		DeviceID:  strings.TrimSpace(deviceID),
		Values:    values,
	}, nil
}

func (r CleanRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		return ErrMissingDeviceID
	}
	if len(r.Values) == 0 {
		return ErrNoNumericFields
	}
	return nil
}

// FieldNames returns the record's value field names in sorted order.
func (r CleanRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Values))
	for name := range r.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldStats holds per-field aggregate statistics.
type FieldStats struct {
	Count int64
	Avg   float64
	Min   float64
	Max   float64
}

// AggregateRecord is one output row per (window, device).
type AggregateRecord struct {
	WindowStart time.Time
	DeviceID    string
	Fields      map[string]FieldStats
}

func (r AggregateRecord) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func coerceTimestamp(v any) (time.Time, error) {
	switch typed := v.(type) {
	case string:
		s := strings.TrimSpace(typed)
		if s == "" {
			return time.Time{}, errors.New("empty")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if unix, err := strconv.ParseFloat(s, 64); err == nil {
			return unixToTime(unix)
		}
		return time.Time{}, fmt.Errorf("unparseable value %q", s)
	case float64:
		return unixToTime(typed)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return unixToTime(f)
	case int64:
		return time.Unix(typed, 0), nil
	case int:
		return time.Unix(int64(typed), 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}

func unixToTime(seconds float64) (time.Time, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return time.Time{}, fmt.Errorf("invalid unix seconds %v", seconds)
	}
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
}

func coerceFloat(v any) (float64, error) {
	switch typed := v.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return 0, errors.New("not finite")
		}
		return typed, nil
	case json.Number:
		return typed.Float64()
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		s := strings.TrimSpace(typed)
		if s == "" {
			return 0, errors.New("empty")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, errors.New("not finite")
		}
		return f, nil
	case bool:
		return 0, errors.New("not numeric")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
