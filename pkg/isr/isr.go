// Package isr implements incremental static regeneration: rendered pages are
// kept in a store and replayed until they go stale, and successful responses
// advertise their remaining freshness to downstream HTTP caches.
package isr

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Config enables incremental caching of rendered pages.
type Config struct {
	// MaxAge is how long a rendered page stays fresh. Zero disables caching.
	MaxAge time.Duration

	// StaleWhileRevalidate extends the Cache-Control header so downstream
	// caches may serve a stale copy while fetching a fresh one.
	StaleWhileRevalidate time.Duration

	// Store is the persistence backend. If nil, an in-process memory store
	// with MaxEntries entries is used.
	Store Store

	// MaxEntries bounds the default memory store. Default: 1024.
	MaxEntries int
}

// Freshness describes how long a response may be reused without
// revalidation. The zero value writes no headers.
type Freshness struct {
	MaxAge               time.Duration
	StaleWhileRevalidate time.Duration
}

// WriteHeaders writes the freshness of a response as Cache-Control
// directives. A zero Freshness writes nothing.
func (f Freshness) WriteHeaders(h http.Header) {
	if f.MaxAge <= 0 {
		return
	}
	v := fmt.Sprintf("max-age=%d", int(f.MaxAge.Seconds()))
	if f.StaleWhileRevalidate > 0 {
		v += fmt.Sprintf(", stale-while-revalidate=%d", int(f.StaleWhileRevalidate.Seconds()))
	}
	h.Set("Cache-Control", v)
}

// Entry is one cached rendered page.
type Entry struct {
	Status     int
	Header     http.Header
	Body       []byte
	RenderedAt time.Time
}

// Store persists rendered pages keyed by request path.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
}

// Cache decides when a rendered page can be replayed and records new renders.
type Cache struct {
	store  Store
	maxAge time.Duration
	swr    time.Duration
}

// NewCache builds a Cache from cfg. Returns nil when cfg is nil or caching
// is disabled.
func NewCache(cfg *Config) *Cache {
	if cfg == nil || cfg.MaxAge <= 0 {
		return nil
	}
	store := cfg.Store
	if store == nil {
		max := cfg.MaxEntries
		if max <= 0 {
			max = 1024
		}
		store = NewMemoryStore(max)
	}
	return &Cache{store: store, maxAge: cfg.MaxAge, swr: cfg.StaleWhileRevalidate}
}

// Lookup returns the cached entry for key if it is still fresh, along with
// the freshness remaining to advertise on the replayed response.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, Freshness, bool) {
	entry, err := c.store.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, Freshness{}, false
	}
	age := time.Since(entry.RenderedAt)
	if age >= c.maxAge {
		return nil, Freshness{}, false
	}
	return entry, Freshness{MaxAge: c.maxAge - age, StaleWhileRevalidate: c.swr}, true
}

// Record stores a freshly rendered page and returns its full freshness.
func (c *Cache) Record(ctx context.Context, key string, entry *Entry) (Freshness, error) {
	if entry.RenderedAt.IsZero() {
		entry.RenderedAt = time.Now()
	}
	err := c.store.Put(ctx, key, entry)
	return c.Freshness(), err
}

// Freshness returns the full freshness window of a just-rendered page.
func (c *Cache) Freshness() Freshness {
	return Freshness{MaxAge: c.maxAge, StaleWhileRevalidate: c.swr}
}
