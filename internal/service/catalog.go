package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/store"

	"github.com/patrickmn/go-cache"
)

// Catalog is a read-through cache over the resource table.
type Catalog struct {
	reader ResourceReader
	cache  *cache.Cache
}

// NewCatalog creates a catalog whose entries live for ttl.
func NewCatalog(reader ResourceReader, ttl time.Duration) *Catalog {
	return &Catalog{reader: reader, cache: cache.New(ttl, 2*ttl)}
}

// GetResource returns the resource or a NotFound domain error. Cached entries
// may lag the store by up to the catalog TTL.
func (c *Catalog) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	if v, ok := c.cache.Get(resourceKey(id)); ok {
		r := *v.(*models.Resource)
		return &r, nil
	}
	return c.Current(ctx, id)
}

// Current reads the resource from the store, bypassing the cache, and
// refreshes the cached entry. Booking decisions use it.
func (c *Catalog) Current(ctx context.Context, id int64) (*models.Resource, error) {
	r, err := c.reader.GetResource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.cache.Delete(resourceKey(id))
		return nil, apperr.NotFound("RESOURCE_NOT_FOUND", "resource %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %d: %w", id, err)
	}

	c.cache.SetDefault(resourceKey(id), r)
	copied := *r
	return &copied, nil
}

func resourceKey(id int64) string {
	return fmt.Sprintf("resource:%d", id)
}

// List returns the bookable resources, or every resource when includeInactive is set.
func (c *Catalog) List(ctx context.Context, includeInactive bool) ([]models.Resource, error) {
	key := "resources:active"
	if includeInactive {
		key = "resources:all"
	}
	if v, ok := c.cache.Get(key); ok {
		return append([]models.Resource(nil), v.([]models.Resource)...), nil
	}

	list, err := c.reader.ListResources(ctx, !includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	c.cache.SetDefault(key, list)
	return append([]models.Resource(nil), list...), nil
}
