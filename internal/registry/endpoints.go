package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/relayml-labs/relayml-go/internal/domain"
)

type EndpointStore struct {
	db DB
}

const (
	// Keyed by name: a redeploy under the same endpoint name overwrites the
	// previous configuration (last write wins).
	upsertEndpointQuery = `INSERT INTO endpoints (
		name,
		hosting_config_id,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$3)
	ON CONFLICT (name) DO UPDATE SET
		hosting_config_id = EXCLUDED.hosting_config_id,
		updated_at = EXCLUDED.updated_at
	RETURNING name, hosting_config_id, created_at, updated_at`

	selectEndpointQuery = `SELECT name, hosting_config_id, created_at, updated_at
	 FROM endpoints
	 WHERE name = $1`
)

func NewEndpointStore(db DB) *EndpointStore {
	if db == nil {
		return nil
	}
	return &EndpointStore{db: db}
}

// Upsert points the named endpoint at a hosting config, overwriting any
// previous deployment under that name.
func (s *EndpointStore) Upsert(ctx context.Context, endpoint domain.Endpoint) (domain.Endpoint, error) {
	if s == nil || s.db == nil {
		return domain.Endpoint{}, fmt.Errorf("endpoint store not initialized")
	}
	endpoint.UpdatedAt = normalizeTime(endpoint.UpdatedAt)
	if err := endpoint.Validate(); err != nil {
		return domain.Endpoint{}, err
	}

	var out domain.Endpoint
	err := s.db.QueryRowContext(
		ctx,
		upsertEndpointQuery,
		strings.TrimSpace(endpoint.Name),
		strings.TrimSpace(endpoint.HostingConfigID),
		endpoint.UpdatedAt,
	).Scan(
		&out.Name,
		&out.HostingConfigID,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("upsert endpoint: %w", err)
	}
	return out, nil
}

func (s *EndpointStore) Get(ctx context.Context, name string) (domain.Endpoint, error) {
	if s == nil || s.db == nil {
		return domain.Endpoint{}, fmt.Errorf("endpoint store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Endpoint{}, fmt.Errorf("endpoint name is required")
	}

	var out domain.Endpoint
	if err := s.db.QueryRowContext(ctx, selectEndpointQuery, name).Scan(
		&out.Name,
		&out.HostingConfigID,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.Endpoint{}, handleNotFound(err)
	}
	return out, nil
}
