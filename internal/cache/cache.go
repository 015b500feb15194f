package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Cache is an in-process TTL map. Expired entries are dropped lazily on read.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]entry
	now func() time.Time

	// bumped by DeletePrefix and Clear so fills started before an
	// invalidation cannot land after it
	epoch uint64
	gens  map[string]uint64
}

// Generation identifies the invalidation state of a key prefix.
type Generation struct {
	epoch uint64
	n     uint64
}

func (g Generation) String() string {
	return strconv.FormatUint(g.epoch, 10) + "." + strconv.FormatUint(g.n, 10)
}
type entry struct {
	val any
	exp time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{
		ttl: ttl,
		m:    make(map[string]entry),
		now:  time.Now,
		gens: make(map[string]uint64),
	}
}

// WithClock swaps the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Get(key string) (any, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if now.After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}

	return e.val, true
}

func (c *Cache) Set(key string, val any) {
	c.mu.Lock()
	c.m[key] = entry{val: val, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Generation reports the current generation of prefix. Pass it to
// SetIfGeneration when filling a key under that prefix.
func (c *Cache) Generation(prefix string) Generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Generation{epoch: c.epoch, n: c.gens[prefix]}
}

// SetIfGeneration stores val only if prefix has not been invalidated since gen
// was read. It reports whether the value was stored.
func (c *Cache) SetIfGeneration(key, prefix string, gen Generation, val any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != gen.epoch || c.gens[prefix] != gen.n {
		return false
	}
	c.m[key] = entry{val: val, exp: c.now().Add(c.ttl)}
	return true
}

// DeletePrefix drops every key starting with prefix and moves the prefix to a
// new generation.
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	c.gens[prefix]++
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.epoch++
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
