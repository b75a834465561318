// Package cache provides caching for protection-engine secrets: tenant search
// peppers and unwrapped data encryption keys.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SecureCache implements types.Cache over a pluggable storage backend with
// secure memory handling. It is read-mostly: peppers and DEKs are written once
// per TTL window and read on every tokenize/encrypt call.
type SecureCache struct {
	store   interfaces.Storage
	logger  *zerolog.Logger
	mu      sync.RWMutex
	enabled bool

	hits      int64
	misses    int64
	startTime time.Time
}

// New creates a secure cache over the given storage backend
func New(store interfaces.Storage) types.Cache {
	logger := log.With().Str("component", "secure_cache").Logger()

	return &SecureCache{
		store:     store,
		logger:    &logger,
		enabled:   true,
		startTime: time.Now().UTC(),
	}
}

// Enable enables the cache
func (c *SecureCache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable disables the cache and securely wipes all entries
func (c *SecureCache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	_ = c.store.Clear(context.Background())
}

// IsEnabled returns whether the cache is enabled
func (c *SecureCache) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Clear securely wipes and removes all entries from the cache
func (c *SecureCache) Clear() {
	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear cache")
	}
}

// Get retrieves a value from the cache
func (c *SecureCache) Get(ctx context.Context, key string) (*types.SecureBytes, int, bool) {
	if !c.IsEnabled() {
		return nil, 0, false
	}

	var entry types.CacheEntry
	if err := c.store.Get(ctx, key, &entry); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, 0, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.Value, entry.Version, true
}

// Set adds a value to the cache with secure memory handling
func (c *SecureCache) Set(ctx context.Context, key string, value []byte, version int, ttl time.Duration) {
	if !c.IsEnabled() {
		return
	}

	entry := &types.CacheEntry{
		Value:   types.NewSecureBytes(value),
		Version: version,
	}
	if err := c.store.Set(ctx, key, entry, ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to store cache entry")
	}
}

// Delete securely wipes and removes a key from the cache
func (c *SecureCache) Delete(key string) {
	if err := c.store.Delete(context.Background(), key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete cache entry")
	}
}

// GetStats returns cache statistics
func (c *SecureCache) GetStats(ctx context.Context) types.CacheStats {
	if statsSource, ok := c.store.(interface {
		GetStats(ctx context.Context) types.CacheStats
	}); ok {
		s := statsSource.GetStats(ctx)
		s.Hits = atomic.LoadInt64(&c.hits)
		s.Misses = atomic.LoadInt64(&c.misses)
		return s
	}
	return types.CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
