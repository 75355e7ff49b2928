package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/pkg/types"
)

// Metrics holds cache statistics.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// MemoryCache is an in-process cache with TTL expiry and a byte budget.
// When the budget is exceeded, an eviction worker removes the least used
// entries, oldest access first.
type MemoryCache struct {
	maxBytes  int64
	metrics   Metrics
	index     sync.Map // key -> *memEntry
	evictChan chan struct{}
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
	now       func() time.Time
}

type memEntry struct {
	datasetID   string
	data        []byte
	expiresAt   time.Time
	lastAccess  atomic.Int64 // Unix nanos
	accessCount atomic.Int64
}

// NewMemoryCache creates an in-memory cache holding at most maxBytes of
// compressed values.
func NewMemoryCache(maxBytes int64, logger *zap.Logger) (*MemoryCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: maxBytes must be positive, got %d", maxBytes)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &MemoryCache{
		maxBytes:  maxBytes,
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		logger:    logger.Named("cache.memory"),
		now:       time.Now,
	}

	c.wg.Add(1)
	go c.evictionWorker()

	return c, nil
}

// Close stops the eviction worker.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, datasetID string, number types.VersionNumber) (*replay.Materialization, bool, error) {
	key := Key(datasetID, number)
	v, ok := c.index.Load(key)
	if !ok {
		c.recordMiss()
		return nil, false, nil
	}

	entry := v.(*memEntry)
	if !c.now().Before(entry.expiresAt) {
		c.remove(key, entry)
		c.recordMiss()
		return nil, false, nil
	}

	m, err := decode(entry.data)
	if err != nil {
		c.remove(key, entry)
		observability.CacheRequests.WithLabelValues("memory", observability.CacheError).Inc()
		return nil, false, err
	}

	entry.lastAccess.Store(c.now().UnixNano())
	entry.accessCount.Add(1)
	c.metrics.Hits.Add(1)
	observability.CacheRequests.WithLabelValues("memory", observability.CacheHit).Inc()
	return m, true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, datasetID string, number types.VersionNumber, m *replay.Materialization, ttl time.Duration) error {
	data, err := encode(m)
	if err != nil {
		return err
	}

	entry := &memEntry{
		datasetID: datasetID,
		data:      data,
		expiresAt: c.now().Add(ttlOrDefault(ttl)),
	}
	entry.lastAccess.Store(c.now().UnixNano())
	entry.accessCount.Store(1)

	key := Key(datasetID, number)
	if prev, loaded := c.index.Swap(key, entry); loaded {
		old := prev.(*memEntry)
		c.metrics.SizeBytes.Add(-int64(len(old.data)))
		c.metrics.Entries.Add(-1)
	}
	c.metrics.SizeBytes.Add(int64(len(data)))
	c.metrics.Entries.Add(1)
	observability.CacheBytes.Set(float64(c.metrics.SizeBytes.Load()))

	if c.metrics.SizeBytes.Load() > c.maxBytes {
		select {
		case c.evictChan <- struct{}{}:
		default:
			// An eviction pass is already pending.
		}
	}
	return nil
}

// InvalidateDataset implements Cache.
func (c *MemoryCache) InvalidateDataset(_ context.Context, datasetID string) error {
	removed := 0
	c.index.Range(func(key, value any) bool {
		entry := value.(*memEntry)
		if entry.datasetID == datasetID && c.remove(key.(string), entry) {
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("invalidated dataset",
			zap.String("dataset_id", datasetID),
			zap.Int("entries", removed))
	}
	return nil
}

// Stats returns current cache counters.
func (c *MemoryCache) Stats() (hits, misses, evictions, entries, size int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load(),
		c.metrics.Entries.Load(), c.metrics.SizeBytes.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (c *MemoryCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

func (c *MemoryCache) recordMiss() {
	c.metrics.Misses.Add(1)
	observability.CacheRequests.WithLabelValues("memory", observability.CacheMiss).Inc()
}

// remove deletes key if it still maps to entry.
func (c *MemoryCache) remove(key string, entry *memEntry) bool {
	if !c.index.CompareAndDelete(key, entry) {
		return false
	}
	c.metrics.SizeBytes.Add(-int64(len(entry.data)))
	c.metrics.Entries.Add(-1)
	observability.CacheBytes.Set(float64(c.metrics.SizeBytes.Load()))
	return true
}

func (c *MemoryCache) evictionWorker() {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.evictChan:
			c.performEviction()
		case <-ticker.C:
			c.performEviction()
		}
	}
}

// performEviction drops expired entries, then evicts until the cache is at
// 90% of its budget.
func (c *MemoryCache) performEviction() {
	now := c.now()

	type evictCandidate struct {
		key        string
		entry      *memEntry
		accessTime int64
		count      int64
	}
	var candidates []evictCandidate

	c.index.Range(func(key, value any) bool {
		entry := value.(*memEntry)
		if !now.Before(entry.expiresAt) {
			c.remove(key.(string), entry)
			return true
		}
		candidates = append(candidates, evictCandidate{
			key:        key.(string),
			entry:      entry,
			accessTime: entry.lastAccess.Load(),
			count:      entry.accessCount.Load(),
		})
		return true
	})

	targetSize := int64(float64(c.maxBytes) * 0.9)
	if c.metrics.SizeBytes.Load() <= targetSize {
		return
	}

	// Least accessed first, then least recently used.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].accessTime < candidates[j].accessTime
	})

	for _, cand := range candidates {
		if c.metrics.SizeBytes.Load() <= targetSize {
			break
		}
		if c.remove(cand.key, cand.entry) {
			c.metrics.Evictions.Add(1)
			observability.CacheEvictions.Inc()
			c.logger.Debug("evicted entry",
				zap.String("key", cand.key),
				zap.Int("bytes", len(cand.entry.data)))
		}
	}
}
