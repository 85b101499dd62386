package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Local is an in-process cache with TTL expiry and LRU eviction.
type Local struct {
	cache *ttlcache.Cache[string, Entry]
}

// NewLocal creates a local cache. A zero ttl keeps entries until evicted; a
// zero capacity is unbounded. Call Start to run expiry in the background.
func NewLocal(capacity int, ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	opts := []ttlcache.Option[string, Entry]{
		ttlcache.WithTTL[string, Entry](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, Entry](uint64(capacity)))
	}
	return &Local{cache: ttlcache.New(opts...)}
}

// Start runs the expiry loop until Stop is called.
func (l *Local) Start() { go l.cache.Start() }

// Stop ends the expiry loop.
func (l *Local) Stop() { l.cache.Stop() }

func (l *Local) Get(key string) (Entry, bool) {
	item := l.cache.Get(key)
	if item == nil {
		return Entry{}, false
	}
	return item.Value(), true
}

func (l *Local) Set(key string, e Entry) {
	l.cache.Set(key, e, ttlcache.DefaultTTL)
}

// Len is the number of live entries.
func (l *Local) Len() int { return l.cache.Len() }
