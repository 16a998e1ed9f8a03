package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

type HostingConfigStore struct {
	db DB
}

const (
	insertHostingConfigQuery = `INSERT INTO hosting_configs (
		hosting_config_id,
		model_id,
		instance_type,
		instance_count,
		variant_name,
		traffic_weight,
		created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING hosting_config_id, model_id, instance_type, instance_count, variant_name, traffic_weight, created_at`

	selectHostingConfigQuery = `SELECT hosting_config_id, model_id, instance_type, instance_count, variant_name, traffic_weight, created_at
	 FROM hosting_configs
	 WHERE hosting_config_id = $1`
)

// DefaultVariantName is the single serving variant every config gets.
const DefaultVariantName = "primary"

func NewHostingConfigStore(db DB) *HostingConfigStore {
	if db == nil {
		return nil
	}
	return &HostingConfigStore{db: db}
}

// Create inserts a hosting config: one variant, full traffic, one instance.
func (s *HostingConfigStore) Create(ctx context.Context, cfg domain.HostingConfig) (domain.HostingConfig, error) {
	if s == nil || s.db == nil {
		return domain.HostingConfig{}, fmt.Errorf("hosting config store not initialized")
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = uuid.NewString()
	}
	if strings.TrimSpace(cfg.VariantName) == "" {
		cfg.VariantName = DefaultVariantName
	}
	if cfg.InstanceCount == 0 {
		cfg.InstanceCount = 1
	}
	if cfg.TrafficWeight == 0 {
		cfg.TrafficWeight = 1.0
	}
	cfg.CreatedAt = normalizeTime(cfg.CreatedAt)
	if err := cfg.Validate(); err != nil {
		return domain.HostingConfig{}, err
	}

	var out domain.HostingConfig
	err := s.db.QueryRowContext(
		ctx,
		insertHostingConfigQuery,
		strings.TrimSpace(cfg.ID),
		strings.TrimSpace(cfg.ModelID),
		strings.TrimSpace(cfg.InstanceType),
		cfg.InstanceCount,
		strings.TrimSpace(cfg.VariantName),
		cfg.TrafficWeight,
		cfg.CreatedAt,
	).Scan(
		&out.ID,
		&out.ModelID,
		&out.InstanceType,
		&out.InstanceCount,
		&out.VariantName,
		&out.TrafficWeight,
		&out.CreatedAt,
	)
	if err != nil {
		return domain.HostingConfig{}, fmt.Errorf("insert hosting config: %w", err)
	}
	return out, nil
}

func (s *HostingConfigStore) Get(ctx context.Context, configID string) (domain.HostingConfig, error) {
	if s == nil || s.db == nil {
		return domain.HostingConfig{}, fmt.Errorf("hosting config store not initialized")
	}
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return domain.HostingConfig{}, fmt.Errorf("hosting config id is required")
	}

	var out domain.HostingConfig
	if err := s.db.QueryRowContext(ctx, selectHostingConfigQuery, configID).Scan(
		&out.ID,
		&out.ModelID,
		&out.InstanceType,
		&out.InstanceCount,
		&out.VariantName,
		&out.TrafficWeight,
		&out.CreatedAt,
	); err != nil {
		return domain.HostingConfig{}, handleNotFound(err)
	}
	return out, nil
}
