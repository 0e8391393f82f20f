package listings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openlot/openlot/pkg/observability"
)

// Cache TTLs per object kind
var cacheTTL = map[string]time.Duration{
	"listing": 15 * time.Minute,
	"list":    time.Minute,
}

// CachedStore is a Redis read-through layer over the listing store.
// Reads of individual listings and the published list are cached; every
// write invalidates what it touched. Redis failures degrade to direct
// database access.
type CachedStore struct {
	store   *Store
	redis   *redis.Client
	metrics *observability.Metrics
}

// NewCachedStore wraps the store with the Redis cache
func NewCachedStore(store *Store, redisClient *redis.Client, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{store: store, redis: redisClient, metrics: metrics}
}

// Create inserts the listing and invalidates the published list
func (c *CachedStore) Create(ctx context.Context, listing *Listing) error {
	if err := c.store.Create(ctx, listing); err != nil {
		return err
	}
	c.redis.Del(ctx, publishedListKey)
	return nil
}

// GetByID gets a listing with caching
func (c *CachedStore) GetByID(ctx context.Context, id string) (*Listing, error) {
	cacheKey := listingKey(id)

	if cached, err := c.redis.Get(ctx, cacheKey).Result(); err == nil {
		var listing Listing
		if err := json.Unmarshal([]byte(cached), &listing); err == nil {
			c.recordCache(true)
			return &listing, nil
		}
	}
	c.recordCache(false)

	listing, err := c.store.GetByID(ctx, id)
	if err != nil || listing == nil {
		return listing, err
	}

	if data, err := json.Marshal(listing); err == nil {
		c.redis.Set(ctx, cacheKey, data, cacheTTL["listing"])
	}
	return listing, nil
}

// List returns listings matching the filter. Only the unfiltered
// published page is cached; everything else goes straight through.
func (c *CachedStore) List(ctx context.Context, filter Filter) ([]*Listing, error) {
	if !c.cacheableList(filter) {
		return c.store.List(ctx, filter)
	}

	if cached, err := c.redis.Get(ctx, publishedListKey).Result(); err == nil {
		var result []*Listing
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			c.recordCache(true)
			return result, nil
		}
	}
	c.recordCache(false)

	result, err := c.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		c.redis.Set(ctx, publishedListKey, data, cacheTTL["list"])
	}
	return result, nil
}

// Update rewrites the listing and drops its cache entries
func (c *CachedStore) Update(ctx context.Context, listing *Listing) (bool, error) {
	updated, err := c.store.Update(ctx, listing)
	if updated {
		c.invalidate(ctx, listing.ID)
	}
	return updated, err
}

// SetStatus updates the lifecycle state and drops its cache entries
func (c *CachedStore) SetStatus(ctx context.Context, id string, status Status) (bool, error) {
	updated, err := c.store.SetStatus(ctx, id, status)
	if updated {
		c.invalidate(ctx, id)
	}
	return updated, err
}

// AddPhoto records the photo and drops the listing's cache entry
func (c *CachedStore) AddPhoto(ctx context.Context, listingID, key string) error {
	if err := c.store.AddPhoto(ctx, listingID, key); err != nil {
		return err
	}
	c.redis.Del(ctx, listingKey(listingID))
	return nil
}

// CountPublished is never cached; it feeds a gauge
func (c *CachedStore) CountPublished(ctx context.Context) (int64, error) {
	return c.store.CountPublished(ctx)
}

const publishedListKey = "listings:published"

func listingKey(id string) string {
	return fmt.Sprintf("listing:%s", id)
}

// Only the default first page of published listings is cached; it is
// the one page every anonymous visitor hits.
func (c *CachedStore) cacheableList(filter Filter) bool {
	return filter == Filter{Status: StatusPublished} ||
		filter == Filter{Status: StatusPublished, Limit: defaultPageSize}
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	c.redis.Del(ctx, listingKey(id), publishedListKey)
}

func (c *CachedStore) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("listing").Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues("listing").Inc()
	}
}
