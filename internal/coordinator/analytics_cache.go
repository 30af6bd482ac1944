package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"vlog/internal/catalog"
)

// AnalyticsOverview is the aggregate shape returned by the admin analytics
// endpoint: counts by video status plus a rough storage estimate.
type AnalyticsOverview struct {
	TotalVideos      int            `json:"total_videos"`
	VideosByStatus   map[string]int `json:"videos_by_status"`
	ActiveWorkers    int            `json:"active_workers"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// AnalyticsCache fronts the (relatively expensive) aggregate queries behind
// a TTL, collapsing concurrent cache-miss reads with singleflight exactly
// like the storage-health probe — adopted from the original's
// api/analytics_cache.py.
type AnalyticsCache struct {
	repo catalog.Repository
	ttl  time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	value     AnalyticsOverview
	computedAt time.Time
}

// NewAnalyticsCache constructs a cache with lifetime ttl (defaulting to
// 30s).
func NewAnalyticsCache(repo catalog.Repository, ttl time.Duration) *AnalyticsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AnalyticsCache{repo: repo, ttl: ttl}
}

// Overview returns the cached aggregate, recomputing it if expired.
func (c *AnalyticsCache) Overview(ctx context.Context) (AnalyticsOverview, error) {
	if cached, ok := c.cached(); ok {
		return cached, nil
	}
	v, err, _ := c.group.Do("overview", func() (interface{}, error) {
		if cached, ok := c.cached(); ok {
			return cached, nil
		}
		overview, err := c.compute(ctx)
		if err != nil {
			return AnalyticsOverview{}, err
		}
		c.mu.Lock()
		c.value = overview
		c.computedAt = time.Now()
		c.mu.Unlock()
		return overview, nil
	})
	if err != nil {
		return AnalyticsOverview{}, err
	}
	return v.(AnalyticsOverview), nil
}

func (c *AnalyticsCache) cached() (AnalyticsOverview, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.computedAt.IsZero() || time.Since(c.computedAt) > c.ttl {
		return AnalyticsOverview{}, false
	}
	return c.value, true
}

func (c *AnalyticsCache) compute(ctx context.Context) (AnalyticsOverview, error) {
	videos, err := c.repo.ListVideos(ctx, catalog.VideoFilter{})
	if err != nil {
		return AnalyticsOverview{}, err
	}
	byStatus := make(map[string]int)
	for _, v := range videos {
		byStatus[string(v.Status)]++
	}
	workers, err := c.repo.ListWorkers(ctx)
	if err != nil {
		return AnalyticsOverview{}, err
	}
	active := 0
	for _, w := range workers {
		if w.Status != "offline" && w.Status != "disabled" {
			active++
		}
	}
	return AnalyticsOverview{
		TotalVideos:    len(videos),
		VideosByStatus: byStatus,
		ActiveWorkers:  active,
		GeneratedAt:    time.Now().UTC(),
	}, nil
}
