package discovery

import (
	"math/rand"
	"sync"
	"time"
)

// interrogationCacheBaseTTL and interrogationCacheJitter bound the
// randomized expiry window: 60min + random(0..10)min, so many cameras
// interrogated around the same time don't all re-interrogate at once.
const (
	interrogationCacheBaseTTL = 60 * time.Minute
	interrogationCacheJitter  = 10 * time.Minute
)

type cacheEntry struct {
	config  StreamConfig
	expires time.Time
}

// interrogationCache remembers a camera's last-resolved StreamConfig
// for a randomized TTL so the agent can skip re-interrogating a
// device it already knows about on every 60s poll tick.
type interrogationCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	rng     *rand.Rand
}

func newInterrogationCache() *interrogationCache {
	return &interrogationCache{
		entries: make(map[string]cacheEntry),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *interrogationCache) get(id string) (StreamConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || time.Now().After(e.expires) {
		return StreamConfig{}, false
	}
	return e.config, true
}

func (c *interrogationCache) put(id string, sc StreamConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	jitter := time.Duration(c.rng.Int63n(int64(interrogationCacheJitter)))
	c.entries[id] = cacheEntry{config: sc, expires: time.Now().Add(interrogationCacheBaseTTL + jitter)}
}

func (c *interrogationCache) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
