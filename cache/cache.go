// Package cache memoises converted resolution results per culture, result type and effective
// key. Entries are never updated in place; they are removed by invalidation and put again.
package cache

import (
	"context"
	"reflect"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/telemetry"
)

const telemetryPkg = "lexicon/cache"

// DefaultSize bounds a cache created without an explicit size.
const DefaultSize = 4096

// Key identifies a cached result.
type Key struct {
	Culture string
	Type    string
	Key     string
}

// NewKey builds the key of a result of type typ resolved for effectiveKey in culture c.
func NewKey(c language.Tag, typ reflect.Type, effectiveKey string) Key {
	return Key{Culture: culture.Name(c), Type: TypeName(typ), Key: effectiveKey}
}

// TypeName names a result type inside a cache key.
func TypeName(typ reflect.Type) string {
	if typ == nil {
		return "any"
	}
	return typ.String()
}

// String renders the key as culture:type:effective-key.
func (k Key) String() string {
	return k.Culture + ":" + k.Type + ":" + k.Key
}

// Stats are the counters of a cache since creation or the last Clear.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded, concurrency safe result memo.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[Key, any]
	stats Stats
	epoch uint64

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// New creates a cache holding at most size entries, DefaultSize when size is not positive.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}

	c := &Cache{
		hits:   telemetry.DimensionlessMeasure(telemetryPkg, "/hits", "Count of result cache hits"),
		misses: telemetry.DimensionlessMeasure(telemetryPkg, "/misses", "Count of result cache misses"),
	}

	lru, err := simplelru.NewLRU[Key, any](size, nil)
	if err != nil {
		// size is always positive here
		panic(err)
	}
	c.lru = lru
	return c
}

// Get returns the cached value of key.
func (c *Cache) Get(ctx context.Context, key Key) (any, bool) {
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()

	if ok {
		c.hits.Add(ctx, 1)
	} else {
		c.misses.Add(ctx, 1)
	}
	return v, ok
}

// Put stores value under key unless an entry exists. It reports whether value was stored;
// an existing entry is kept and must be invalidated before it can be replaced.
func (c *Cache) Put(key Key, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(key) {
		return false
	}
	if c.lru.Add(key, value) {
		c.stats.Evictions++
	}
	return true
}

// Epoch identifies the current invalidation generation. Take it before reading the raw input of
// a value and hand it to PutIfCurrent.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// PutIfCurrent stores value like Put, but only when no Invalidate or Clear ran since epoch was
// taken. A value computed from input that a change event has since superseded is dropped.
func (c *Cache) PutIfCurrent(key Key, value any, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch || c.lru.Contains(key) {
		return false
	}
	if c.lru.Add(key, value) {
		c.stats.Evictions++
	}
	return true
}

// Invalidate removes every entry matching pred in one step and returns the removed keys. Each
// call starts a new epoch, even when nothing matched.
func (c *Cache) Invalidate(pred func(key Key, value any) bool) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++

	var removed []Key
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if ok && pred(k, v) {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		c.lru.Remove(k)
	}
	return removed
}

// Remove drops a single entry.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.stats = Stats{}
	c.epoch++
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
