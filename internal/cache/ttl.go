package cache

import (
	"sync"
	"time"
)

const defaultMaxEntries = 1024

// Cache is a concurrency-safe key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	insertSeq uint64
}

type ttlCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]entry[V]
	maxEntries int
	seq        uint64
	now        func() time.Time
}

type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries bounds the cache. The oldest insert is evicted on overflow.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithNow overrides the time source, used by tests.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func NewTTLCache[K comparable, V any](opts ...Option) Cache[K, V] {
	o := options{maxEntries: defaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ttlCache[K, V]{
		items:      make(map[K]entry[V]),
		maxEntries: o.maxEntries,
		now:        o.now,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.items[key]; still && current.insertSeq == item.insertSeq {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.seq++
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt, insertSeq: c.seq}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *ttlCache[K, V]) evictOldestLocked() {
	now := c.now()
	var (
		oldestKey K
		oldestSeq uint64
		found     bool
	)
	for k, item := range c.items {
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			delete(c.items, k)
			return
		}
		if !found || item.insertSeq < oldestSeq {
			oldestKey, oldestSeq, found = k, item.insertSeq, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}
