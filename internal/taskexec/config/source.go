package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Source fetches the effective properties. The production implementation
// talks to the central config service; FileSource reads the materialized
// document the deployment drops on disk.
type Source interface {
	Fetch(ctx context.Context) (*Properties, error)
}

// FileSource loads properties from a YAML file.
type FileSource struct {
	Path string
}

// Fetch reads and parses the file.
func (f FileSource) Fetch(_ context.Context) (*Properties, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", f.Path, err)
	}
	return Parse(data)
}

// CachedSource wraps a Source with a time-to-live cache. Entries are served
// until they expire; the next access after expiry triggers a refetch. A
// failed refetch falls back to the stale copy with a warning rather than
// failing the caller, so a config-service outage does not stop task
// processing.
type CachedSource struct {
	src Source
	ttl time.Duration
	log *slog.Logger

	mu        sync.Mutex
	props     *Properties
	fetchedAt time.Time
}

// NewCachedSource wraps src with a ttl cache.
func NewCachedSource(src Source, ttl time.Duration, log *slog.Logger) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	return &CachedSource{src: src, ttl: ttl, log: log}
}

// Properties returns the cached properties, refetching when stale.
func (c *CachedSource) Properties(ctx context.Context) (*Properties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.props != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.props, nil
	}

	props, err := c.src.Fetch(ctx)
	if err != nil {
		if c.props != nil {
			c.log.Warn("config refetch failed, serving stale properties",
				"age", time.Since(c.fetchedAt), "error", err)
			return c.props, nil
		}
		return nil, err
	}

	c.props = props
	c.fetchedAt = time.Now()
	return c.props, nil
}
