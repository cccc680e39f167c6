package cache

import (
	"sync"
	"time"
)

// Cache is a TTL-bounded key/value cache.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Purge()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
}

// NewTTLCache returns an in-memory cache with per-entry TTL and lazy expiry.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return &ttlCache[K, V]{entries: make(map[K]entry[V])}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(item.expiresAt) {
		c.Delete(key)
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}
