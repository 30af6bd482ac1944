package coordinator

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StorageHealth caches the outcome of a storage-reachability probe (does
// videosDir exist and accept a stat?) behind a TTL and a singleflight group
// so N concurrent callers checking on TTL expiry collapse into one real
// probe, per spec.md §5 and the scenario-6 testable property in §8.
type StorageHealth struct {
	videosDir string
	ttl       time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	healthy   bool
	checkedAt time.Time
}

// NewStorageHealth constructs a prober for videosDir with cache lifetime
// ttl (defaulting to 5s).
func NewStorageHealth(videosDir string, ttl time.Duration) *StorageHealth {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &StorageHealth{videosDir: videosDir, ttl: ttl}
}

// Healthy reports whether storage was reachable as of the last probe,
// running a fresh probe if the cached result has expired.
func (s *StorageHealth) Healthy(ctx context.Context) bool {
	if cached, ok := s.cached(); ok {
		return cached
	}
	v, _, _ := s.group.Do("probe", func() (interface{}, error) {
		if cached, ok := s.cached(); ok {
			return cached, nil
		}
		healthy := s.probe(ctx)
		s.mu.Lock()
		s.healthy = healthy
		s.checkedAt = time.Now()
		s.mu.Unlock()
		return healthy, nil
	})
	healthy, _ := v.(bool)
	return healthy
}

func (s *StorageHealth) cached() (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkedAt.IsZero() || time.Since(s.checkedAt) > s.ttl {
		return false, false
	}
	return s.healthy, true
}

func (s *StorageHealth) probe(ctx context.Context) bool {
	done := make(chan bool, 1)
	go func() {
		_, err := os.Stat(s.videosDir)
		done <- err == nil
	}()
	select {
	case healthy := <-done:
		return healthy
	case <-ctx.Done():
		return false
	case <-time.After(2 * time.Second):
		return false
	}
}
