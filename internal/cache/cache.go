// Package cache implements the generic TTL cache used to memoize tool
// results (spec §4.9), grounded on the teacher's MemoryCache LRU/TTL
// design in internal/mcp/cache.go.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is one cached value with its absolute expiry.
type Entry struct {
	Key       string
	Value     interface{}
	CreatedAt time.Time
	TTL       time.Duration
	Hits      int64
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Cache is a generic, goroutine-safe TTL cache with a periodic sweeper.
// It is owned exclusively by the Server instance.
type Cache struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	stop    chan struct{}
	stopped bool
}

// New creates a cache and starts the 60-second background sweeper.
func New() *Cache {
	c := &Cache{
		data: make(map[string]*Entry),
		stop: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key builds the canonical cache key: sha256(toolName+canonical(args))[0:16].
func Key(toolName string, args map[string]interface{}) string {
	canon := canonicalize(args)
	sum := sha256.Sum256([]byte(toolName + canon))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalize produces a stable JSON rendering of args by sorting keys
// recursively, so identical argument sets always hash to the same key.
func canonicalize(args map[string]interface{}) string {
	if args == nil {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string      `json:"k"`
		V interface{} `json:"v"`
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string      `json:"k"`
			V interface{} `json:"v"`
		}{k, args[k]})
	}
	b, _ := json.Marshal(ordered)
	return string(b)
}

func (c *Cache) Put(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = &Entry{Key: key, Value: value, CreatedAt: time.Now(), TTL: ttl}
}

// Get returns the cached value and true if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.data, key)
		return nil, false
	}
	e.Hits++
	return e.Value, true
}

// Sweep removes every expired entry and returns how many were pruned.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	pruned := 0
	for k, e := range c.data {
		if e.expired(now) {
			delete(c.data, k)
			pruned++
		}
	}
	return pruned
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

// Len reports the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
