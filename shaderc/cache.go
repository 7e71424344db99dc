package shaderc

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/gogpu/gfx/internal/cache"
)

// Cache memoizes successful compilations. Requests share an entry when
// their preprocessed source, entry points and output options match, so a
// changed include file or define misses. Cached results are shared and
// must not be modified.
//
// A nil *Cache compiles every request.
type Cache struct {
	lru *cache.Cache[[sha256.Size]byte, *Result]
}

// CacheStats reports the effectiveness of a Cache.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// NewCache returns a cache holding at most capacity results.
func NewCache(capacity int) *Cache {
	return &Cache{lru: cache.New[[sha256.Size]byte, *Result](capacity)}
}

// Compile returns the cached result for req or compiles and stores it.
func (c *Cache) Compile(ctx context.Context, req Request) (*Result, error) {
	if c == nil {
		return Compile(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := prepare(req)
	if err != nil {
		return nil, err
	}
	key := u.key()
	if res, ok := c.lru.Get(key); ok {
		slogger().Debug("shaderc: cache hit", "name", req.Name)
		return res, nil
	}
	res, err := u.compile(ctx)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, res)
	return res, nil
}

// Stats returns the cache counters.
func (c *Cache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	s := c.lru.Stats()
	return CacheStats{Entries: s.Len, Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
}

func (u *unit) key() [sha256.Size]byte {
	h := sha256.New()
	for i, s := range u.stages {
		fmt.Fprintf(h, "%d:%d:%s;", s, len(u.names[i]), u.names[i])
	}
	fmt.Fprintf(h, "%d;%t;%t;%d:", u.req.Target, u.req.DeriveLayout, u.req.Debug, len(u.src))
	h.Write([]byte(u.src))
	var k [sha256.Size]byte
	h.Sum(k[:0])
	return k
}
