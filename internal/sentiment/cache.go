package sentiment

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DefaultCacheSize is the number of classified texts remembered.
const DefaultCacheSize = 1024

// CacheStats tracks label cache usage.
type CacheStats struct {
	Capacity  int
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// labelCache remembers labels for recently classified texts with LRU
// eviction. Keys are content hashes so the texts themselves are not kept.
type labelCache struct {
	capacity int
	items    map[string]*list.Element
	eviction *list.List

	mu    sync.Mutex
	stats CacheStats
}

type labelEntry struct {
	key   string
	label string
}

func newLabelCache(capacity int) *labelCache {
	return &labelCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    CacheStats{Capacity: capacity},
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *labelCache) get(text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[cacheKey(text)]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	c.eviction.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*labelEntry).label, true
}

func (c *labelCache) put(text, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(text)
	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*labelEntry).label = label
		return
	}

	for c.eviction.Len() >= c.capacity {
		oldest := c.eviction.Back()
		c.eviction.Remove(oldest)
		delete(c.items, oldest.Value.(*labelEntry).key)
		c.stats.Evictions++
	}
	c.items[key] = c.eviction.PushFront(&labelEntry{key: key, label: label})
}

func (c *labelCache) snapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.eviction.Len()
	return s
}
