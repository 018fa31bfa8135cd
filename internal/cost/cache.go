package cost

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/lance13c/vrt/internal/database"
	"github.com/lance13c/vrt/internal/logging"
	"github.com/lance13c/vrt/internal/types"
)

// CacheStore persists analyses between runs
type CacheStore interface {
	LoadAnalyses(since time.Time) ([]database.AnalysisRecord, error)
	SaveAnalysis(record database.AnalysisRecord) error
}

type cacheEntry struct {
	result  types.AnalyzeResult
	created time.Time
}

// Cache holds analyses by image-pair key with a TTL. With a store it loads
// persisted entries once, on first use.
type Cache struct {
	ttl   time.Duration
	store CacheStore
	now   func() time.Time

	loadOnce sync.Once

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache. store may be nil for a memory-only cache.
func NewCache(ttl time.Duration, store CacheStore) *Cache {
	return &Cache{
		ttl:     ttl,
		store:   store,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// SetClock replaces the time source
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) expired(created time.Time) bool {
	return c.ttl > 0 && c.now().Sub(created) > c.ttl
}

func (c *Cache) load() {
	c.loadOnce.Do(func() {
		if c.store == nil {
			return
		}
		since := time.Time{}
		if c.ttl > 0 {
			since = c.now().Add(-c.ttl)
		}
		records, err := c.store.LoadAnalyses(since)
		if err != nil {
			logging.Warn("failed to load analysis cache: %v", err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, r := range records {
			var res types.AnalyzeResult
			if err := json.Unmarshal([]byte(r.ResultJSON), &res); err != nil {
				logging.Debug("dropping unreadable cache entry %s: %v", r.Key, err)
				continue
			}
			if _, ok := c.entries[r.Key]; !ok {
				c.entries[r.Key] = cacheEntry{result: res, created: r.CreatedAt}
			}
		}
		logging.Debug("loaded %d cached analyses", len(records))
	})
}

// Get returns a copy of the cached analysis for key
func (c *Cache) Get(key string) (*types.AnalyzeResult, bool) {
	c.load()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.expired(e.created) {
		delete(c.entries, key)
		return nil, false
	}
	res := e.result
	res.Differences = append([]types.Difference(nil), e.result.Differences...)
	return &res, true
}

// Put stores result under key and persists it when a store is set
func (c *Cache) Put(key string, result *types.AnalyzeResult) {
	c.load()

	now := c.now()
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: *result, created: now}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		logging.Warn("failed to encode analysis for cache: %v", err)
		return
	}
	if err := c.store.SaveAnalysis(database.AnalysisRecord{Key: key, ResultJSON: string(data), CreatedAt: now}); err != nil {
		logging.Warn("failed to persist analysis: %v", err)
	}
}

// Len returns the number of entries, expired ones included
func (c *Cache) Len() int {
	c.load()
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key builds a content key from both files' SHA-256 digests, falling back to
// the escaped paths when a file cannot be read
func Key(baselinePath, actualPath string) string {
	b, errB := fileHash(baselinePath)
	a, errA := fileHash(actualPath)
	if errB != nil || errA != nil {
		return url.PathEscape(baselinePath) + ":" + url.PathEscape(actualPath)
	}
	return b + ":" + a
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
