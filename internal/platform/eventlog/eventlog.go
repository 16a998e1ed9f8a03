// Package eventlog records pipeline activity (object arrivals, trigger fires,
// execution state changes) as an append-only, integrity-hashed table.
package eventlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	KindObjectCreated   = "object.created"
	KindTriggerFired    = "trigger.fired"
	KindStepStarted     = "step.started"
	KindStepCompleted   = "step.completed"
	KindStateChanged    = "execution.state_changed"
	KindEndpointUpdated = "endpoint.updated"
)

type Event struct {
	OccurredAt  time.Time
	Source      string
	RequestID   string
	Kind        string
	SubjectType string
	SubjectID   string
	Detail      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Source) == "" {
		return errors.New("Source is required")
	}
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("Kind is required")
	}
	if strings.TrimSpace(e.SubjectType) == "" {
		return errors.New("SubjectType is required")
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return errors.New("SubjectID is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	detail := event.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return 0, fmt.Errorf("marshal detail: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, detailJSON)
	if err != nil {
		return 0, err
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO pipeline_events (
			occurred_at,
			source,
			request_id,
			kind,
			subject_type,
			subject_id,
			detail,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Source),
		requestID,
		strings.TrimSpace(event.Kind),
		strings.TrimSpace(event.SubjectType),
		strings.TrimSpace(event.SubjectID),
		detailJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline event: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, detailJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt  time.Time       `json:"occurred_at"`
		Source      string          `json:"source"`
		RequestID   string          `json:"request_id,omitempty"`
		Kind        string          `json:"kind"`
		SubjectType string          `json:"subject_type"`
		SubjectID   string          `json:"subject_id"`
		Detail      json.RawMessage `json:"detail"`
	}

	in := integrityInput{
		OccurredAt:  event.OccurredAt.UTC(),
		Source:      strings.TrimSpace(event.Source),
		RequestID:   strings.TrimSpace(event.RequestID),
		Kind:        strings.TrimSpace(event.Kind),
		SubjectType: strings.TrimSpace(event.SubjectType),
		SubjectID:   strings.TrimSpace(event.SubjectID),
		Detail:      detailJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
