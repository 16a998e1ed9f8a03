// Package pipeline runs workflow executions through the linear train →
// register → configure → deploy state machine and persists them in Postgres.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

// ErrNotFound is returned when an execution does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleState is returned when a state update lost a race with another
// transition.
var ErrStaleState = errors.New("stale execution state")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ExecutionStore struct {
	db DB
}

const (
	insertExecutionQuery = `INSERT INTO pipeline_executions (
		execution_id,
		state,
		artifact_key,
		training_job_id,
		model_id,
		hosting_config_id,
		endpoint_name,
		failure_reason,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`

	selectExecutionQuery = `SELECT execution_id, state, artifact_key, training_job_id, model_id, hosting_config_id, endpoint_name, failure_reason, created_at, updated_at
	 FROM pipeline_executions
	 WHERE execution_id = $1`

	listExecutionsQuery = `SELECT execution_id, state, artifact_key, training_job_id, model_id, hosting_config_id, endpoint_name, failure_reason, created_at, updated_at
	 FROM pipeline_executions
	 ORDER BY created_at DESC, execution_id DESC
	 LIMIT $1`

	// The state predicate makes the update conditional on the expected
	// current state, so concurrent transitions cannot clobber each other.
	updateExecutionQuery = `UPDATE pipeline_executions SET
		state = $1,
		artifact_key = COALESCE($2, artifact_key),
		training_job_id = COALESCE($3, training_job_id),
		model_id = COALESCE($4, model_id),
		hosting_config_id = COALESCE($5, hosting_config_id),
		endpoint_name = COALESCE($6, endpoint_name),
		failure_reason = COALESCE($7, failure_reason),
		updated_at = $8
	 WHERE execution_id = $9 AND state = $10`

	insertStepQuery = `INSERT INTO pipeline_steps (
		step_id,
		execution_id,
		step,
		status,
		output,
		error,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	listStepsQuery = `SELECT execution_id, step, status, output, error, started_at, finished_at
	 FROM pipeline_steps
	 WHERE execution_id = $1
	 ORDER BY started_at ASC, step_id ASC`
)

func NewExecutionStore(db DB) *ExecutionStore {
	if db == nil {
		return nil
	}
	return &ExecutionStore{db: db}
}

// Create inserts a new execution in the TRAIN state.
func (s *ExecutionStore) Create(ctx context.Context) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}

	exec := domain.Execution{
		ID:        uuid.NewString(),
		State:     domain.StateTrain,
		CreatedAt: time.Now().UTC(),
	}
	exec.UpdatedAt = exec.CreatedAt

	_, err := s.db.ExecContext(
		ctx,
		insertExecutionQuery,
		exec.ID,
		string(exec.State),
		sql.NullString{},
		sql.NullString{},
		sql.NullString{},
		sql.NullString{},
		sql.NullString{},
		sql.NullString{},
		exec.CreatedAt,
	)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("insert execution: %w", err)
	}
	return exec, nil
}

func (s *ExecutionStore) Get(ctx context.Context, executionID string) (domain.Execution, error) {
	if s == nil || s.db == nil {
		return domain.Execution{}, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return domain.Execution{}, fmt.Errorf("execution id is required")
	}
	return scanExecution(s.db.QueryRowContext(ctx, selectExecutionQuery, executionID))
}

func (s *ExecutionStore) List(ctx context.Context, limit int) ([]domain.Execution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, listExecutionsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]domain.Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// Transition moves an execution from one state to the next, persisting any
// step outputs produced along the way. Only fields set in outputs are written.
func (s *ExecutionStore) Transition(ctx context.Context, executionID string, from, to domain.ExecutionState, outputs domain.Execution) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		updateExecutionQuery,
		string(to),
		nullIfEmpty(outputs.ArtifactKey),
		nullIfEmpty(outputs.TrainingJobID),
		nullIfEmpty(outputs.ModelID),
		nullIfEmpty(outputs.HostingConfigID),
		nullIfEmpty(outputs.EndpointName),
		nullIfEmpty(outputs.FailureReason),
		time.Now().UTC(),
		strings.TrimSpace(executionID),
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if rows == 0 {
		return ErrStaleState
	}
	return nil
}

// RecordStep appends one step attempt record.
func (s *ExecutionStore) RecordStep(ctx context.Context, record domain.StepRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("execution store not initialized")
	}
	if strings.TrimSpace(record.ExecutionID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if !record.Step.Valid() || record.Step.Terminal() {
		return fmt.Errorf("invalid step %q", record.Step)
	}

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var finishedAt sql.NullTime
	if !record.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: record.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		insertStepQuery,
		uuid.NewString(),
		strings.TrimSpace(record.ExecutionID),
		string(record.Step),
		string(record.Status),
		nullIfEmpty(record.Output),
		nullIfEmpty(record.Error),
		startedAt,
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

func (s *ExecutionStore) ListSteps(ctx context.Context, executionID string) ([]domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("execution store not initialized")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	rows, err := s.db.QueryContext(ctx, listStepsQuery, executionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StepRecord, 0)
	for rows.Next() {
		var record domain.StepRecord
		var step, status string
		var output, errText sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&record.ExecutionID,
			&step,
			&status,
			&output,
			&errText,
			&record.StartedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}
		record.Step = domain.ExecutionState(step)
		record.Status = domain.StepStatus(status)
		record.Output = strings.TrimSpace(output.String)
		record.Error = strings.TrimSpace(errText.String)
		if finishedAt.Valid {
			record.FinishedAt = finishedAt.Time.UTC()
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner rowScanner) (domain.Execution, error) {
	var exec domain.Execution
	var state string
	var artifactKey, trainingJobID, modelID, hostingConfigID, endpointName, failureReason sql.NullString
	if err := scanner.Scan(
		&exec.ID,
		&state,
		&artifactKey,
		&trainingJobID,
		&modelID,
		&hostingConfigID,
		&endpointName,
		&failureReason,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Execution{}, ErrNotFound
		}
		return domain.Execution{}, err
	}
	exec.State = domain.ExecutionState(state)
	exec.ArtifactKey = strings.TrimSpace(artifactKey.String)
	exec.TrainingJobID = strings.TrimSpace(trainingJobID.String)
	exec.ModelID = strings.TrimSpace(modelID.String)
	exec.HostingConfigID = strings.TrimSpace(hostingConfigID.String)
	exec.EndpointName = strings.TrimSpace(endpointName.String)
	exec.FailureReason = strings.TrimSpace(failureReason.String)
	return exec, nil
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
