package store

import (
	"context"
	"database/sql"

	"booking-service/internal/models"
)

// GetResource retrieves a resource by ID
func (s *Store) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	var r models.Resource
	err := s.db.GetContext(ctx, &r, "SELECT * FROM resources WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResources retrieves resources, optionally only the active ones.
func (s *Store) ListResources(ctx context.Context, activeOnly bool) ([]models.Resource, error) {
	query := "SELECT * FROM resources"
	if activeOnly {
		query += " WHERE active"
	}
	resources := []models.Resource{}
	err := s.db.SelectContext(ctx, &resources, query+" ORDER BY name, id")
	return resources, err
}
