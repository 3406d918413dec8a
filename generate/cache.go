package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	poemlet "github.com/Paranoid-AF/poemlet"
)

// PoemCache is a TTL cache of generated poems keyed by request shape.
// Concurrent misses for the same key share one generation.
type PoemCache struct {
	cache *ttlcache.Cache[string, *Result]
	group singleflight.Group
}

// NewPoemCache creates a cache whose entries live for ttl.
// A non-positive ttl yields a cache that never stores anything.
func NewPoemCache(ttl time.Duration) *PoemCache {
	if ttl <= 0 {
		return &PoemCache{}
	}
	c := ttlcache.New[string, *Result](
		ttlcache.WithTTL[string, *Result](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Result](),
	)
	go c.Start()
	return &PoemCache{cache: c}
}

// Close stops the cache expiration loop.
func (pc *PoemCache) Close() {
	if pc.cache != nil {
		pc.cache.Stop()
	}
}

// CacheKey identifies requests that would be rendered into the same prompt.
func CacheKey(cfg poemlet.PoemConfig) string {
	return fmt.Sprintf("%q|%s|%d|%d", cfg.Theme, poemlet.NormalizeForm(cfg.Form), cfg.Lines, cfg.MaxNewTokens)
}

// Get returns the cached result for cfg, or nil if not cached/expired.
func (pc *PoemCache) Get(cfg poemlet.PoemConfig) *Result {
	if pc.cache == nil {
		return nil
	}
	item := pc.cache.Get(CacheKey(cfg))
	if item == nil {
		return nil
	}
	return item.Value()
}

// Len reports the number of live entries.
func (pc *PoemCache) Len() int {
	if pc.cache == nil {
		return 0
	}
	return pc.cache.Len()
}

// Purge drops every entry, e.g. after a config reload.
func (pc *PoemCache) Purge() {
	if pc.cache != nil {
		pc.cache.DeleteAll()
	}
}

// GetOrGenerate returns a cached result for cfg or calls gen to produce one.
// cached reports whether the result came from the cache or another caller's
// in-flight generation. Errors are never cached.
func (pc *PoemCache) GetOrGenerate(ctx context.Context, cfg poemlet.PoemConfig, gen func(context.Context, poemlet.PoemConfig) (*Result, error)) (res *Result, cached bool, err error) {
	if r := pc.Get(cfg); r != nil {
		return r, true, nil
	}

	key := CacheKey(cfg)
	leader := false
	v, err, _ := pc.group.Do(key, func() (any, error) {
		leader = true
		r, err := gen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if pc.cache != nil {
			pc.cache.Set(key, r, ttlcache.DefaultTTL)
		}
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Result), !leader, nil
}
