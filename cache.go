package pe

import (
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/elastic/go-freelru"
	"github.com/pkg/errors"
)

// cacheKey identifies one version of a file on disk.
type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

func (k cacheKey) hash32() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.path))
	return h.Sum32()
}

// resultCache keeps recent results so a file named twice in one batch is
// analyzed once. Results are shared, so callers must not modify them.
type resultCache struct {
	lru    *freelru.SyncedLRU[cacheKey, *AnalysisResult]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// EnableCache turns on result caching for AnalyzeFile. Entries expire after
// ttl; a zero ttl keeps them until evicted. Call it before the Analyzer is
// shared.
func (a *Analyzer) EnableCache(size uint32, ttl time.Duration) error {
	lru, err := freelru.NewSynced[cacheKey, *AnalysisResult](size, cacheKey.hash32)
	if err != nil {
		return errors.Wrap(err, "failure to create result cache")
	}
	if ttl > 0 {
		lru.SetLifetime(ttl)
	}
	a.cache = &resultCache{lru: lru}
	return nil
}

// CacheStats returns the cache hit and miss counters.
func (a *Analyzer) CacheStats() (hits, misses uint64) {
	if a.cache == nil {
		return 0, 0
	}
	return a.cache.hits.Load(), a.cache.misses.Load()
}

func (c *resultCache) get(key cacheKey) (*AnalysisResult, bool) {
	if c == nil {
		return nil, false
	}
	res, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return res, ok
}

func (c *resultCache) add(key cacheKey, res *AnalysisResult) {
	if c == nil {
		return
	}
	c.lru.Add(key, res)
}
