package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

type ModelStore struct {
	db DB
}

const (
	insertModelQuery = `INSERT INTO models (
		model_id,
		name,
		artifact_key,
		training_job_id,
		created_at,
		created_by
	) VALUES ($1,$2,$3,$4,$5,$6)
	RETURNING model_id, name, artifact_key, training_job_id, created_at, created_by`

	selectModelQuery = `SELECT model_id, name, artifact_key, training_job_id, created_at, created_by
	 FROM models
	 WHERE model_id = $1`

	listModelsQuery = `SELECT model_id, name, artifact_key, training_job_id, created_at, created_by
	 FROM models
	 ORDER BY created_at DESC, model_id DESC`
)

func NewModelStore(db DB) *ModelStore {
	if db == nil {
		return nil
	}
	return &ModelStore{db: db}
}

// Register inserts a model row referencing a training artifact.
func (s *ModelStore) Register(ctx context.Context, model domain.Model) (domain.Model, error) {
	if s == nil || s.db == nil {
		return domain.Model{}, fmt.Errorf("model store not initialized")
	}
	if strings.TrimSpace(model.ID) == "" {
		model.ID = uuid.NewString()
	}
	model.CreatedAt = normalizeTime(model.CreatedAt)
	if err := model.Validate(); err != nil {
		return domain.Model{}, err
	}

	var out domain.Model
	var trainingJobID sql.NullString
	var createdBy sql.NullString
	err := s.db.QueryRowContext(
		ctx,
		insertModelQuery,
		strings.TrimSpace(model.ID),
		strings.TrimSpace(model.Name),
		strings.TrimSpace(model.ArtifactKey),
		nullIfEmpty(model.TrainingJobID),
		model.CreatedAt,
		nullIfEmpty(model.CreatedBy),
	).Scan(
		&out.ID,
		&out.Name,
		&out.ArtifactKey,
		&trainingJobID,
		&out.CreatedAt,
		&createdBy,
	)
	if err != nil {
		return domain.Model{}, fmt.Errorf("insert model: %w", err)
	}
	out.TrainingJobID = strings.TrimSpace(trainingJobID.String)
	out.CreatedBy = strings.TrimSpace(createdBy.String)
	return out, nil
}

func (s *ModelStore) Get(ctx context.Context, modelID string) (domain.Model, error) {
	if s == nil || s.db == nil {
		return domain.Model{}, fmt.Errorf("model store not initialized")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return domain.Model{}, fmt.Errorf("model id is required")
	}
	return scanModel(s.db.QueryRowContext(ctx, selectModelQuery, modelID))
}

func (s *ModelStore) List(ctx context.Context) ([]domain.Model, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("model store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listModelsQuery)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := make([]domain.Model, 0)
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(scanner rowScanner) (domain.Model, error) {
	var model domain.Model
	var trainingJobID sql.NullString
	var createdBy sql.NullString
	if err := scanner.Scan(
		&model.ID,
		&model.Name,
		&model.ArtifactKey,
		&trainingJobID,
		&model.CreatedAt,
		&createdBy,
	); err != nil {
		return domain.Model{}, handleNotFound(err)
	}
	model.TrainingJobID = strings.TrimSpace(trainingJobID.String)
	model.CreatedBy = strings.TrimSpace(createdBy.String)
	return model, nil
}
