// Package storage provides the in-process backend for the secret cache.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxEntries caps the adapter well above one entry per tenant (pepper plus a
// handful of DEK versions each).
const maxEntries = 1000

// purgeInterval paces the background sweep for expired entries
const purgeInterval = time.Minute

// record is one cached secret together with its bookkeeping. A zero expiresAt
// means the entry never expires on its own.
type record struct {
	entry     *types.CacheEntry
	expiresAt time.Time
	lastUsed  time.Time
}

// MemoryAdapter implements interfaces.Storage in process memory. Entries are
// wiped on every removal path so key material never outlives its TTL in
// readable memory. When full, Set evicts the least recently used entry
// synchronously.
type MemoryAdapter struct {
	mu      sync.Mutex
	records map[string]*record
	stats   types.CacheStats
	logger  *zerolog.Logger
	done    chan struct{}
}

// NewMemoryAdapter creates an in-memory storage backend. Each call returns an
// independent instance with its own purge goroutine.
func NewMemoryAdapter() interfaces.Storage {
	logger := log.With().Str("component", "secret_cache_memory").Logger()

	now := time.Now().UTC()
	a := &MemoryAdapter{
		records: make(map[string]*record),
		logger:  &logger,
		done:    make(chan struct{}),
		stats: types.CacheStats{
			LastAccess:  now,
			LastUpdated: now,
			LastPurged:  now,
		},
	}
	go a.purgeLoop()
	return a
}

// purgeLoop sweeps expired entries until Shutdown
func (a *MemoryAdapter) purgeLoop() {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, _ := a.ClearExpiredKeys(context.Background()); n > 0 {
				a.logger.Debug().Int("purged", n).Msg("Expired cache entries purged")
			}
		case <-a.done:
			return
		}
	}
}

// Get retrieves a cached entry into value, which must be a *types.CacheEntry.
// Expired entries are wiped on access and reported as misses.
func (a *MemoryAdapter) Get(ctx context.Context, key string, value interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	dest, ok := value.(*types.CacheEntry)
	if !ok {
		return fmt.Errorf("cache get: destination must be *types.CacheEntry, got %T", value)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	a.stats.LastAccess = now

	rec, exists := a.records[key]
	if exists && !rec.expiresAt.IsZero() && now.After(rec.expiresAt) {
		a.dropLocked(key)
		exists = false
	}
	if !exists {
		a.stats.Misses++
		return types.ErrNotFound
	}

	rec.lastUsed = now
	dest.Value = rec.entry.Value
	dest.Version = rec.entry.Version
	a.stats.Hits++
	return nil
}

// Set stores a *types.CacheEntry under the key. A replaced entry is wiped
// first; when the adapter is full the least recently used entry makes room.
func (a *MemoryAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	entry, ok := value.(*types.CacheEntry)
	if !ok {
		return fmt.Errorf("cache set: value must be *types.CacheEntry, got %T", value)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	if old, exists := a.records[key]; exists {
		old.entry.Clear()
	} else if len(a.records) >= maxEntries {
		a.evictOldestLocked()
	}

	rec := &record{entry: entry, lastUsed: now}
	if ttl > 0 {
		rec.expiresAt = now.Add(ttl)
	}
	a.records[key] = rec

	a.stats.Size = len(a.records)
	a.stats.LastUpdated = now
	return nil
}

// Delete wipes and removes a single key
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropLocked(key)
	return nil
}

// Clear wipes and removes every entry
func (a *MemoryAdapter) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range a.records {
		rec.entry.Clear()
	}
	a.records = make(map[string]*record)
	a.stats.Size = 0
	a.stats.LastUpdated = time.Now().UTC()
	return nil
}

// ClearExpiredKeys wipes and removes expired entries, returning the count
func (a *MemoryAdapter) ClearExpiredKeys(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	purged := 0
	for key, rec := range a.records {
		if !rec.expiresAt.IsZero() && now.After(rec.expiresAt) {
			a.dropLocked(key)
			purged++
		}
	}
	if purged > 0 {
		a.stats.LastPurged = now
	}
	return purged, nil
}

// GetStats returns storage statistics
func (a *MemoryAdapter) GetStats(ctx context.Context) types.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Shutdown stops the purge goroutine and wipes all entries
func (a *MemoryAdapter) Shutdown() error {
	close(a.done)
	return a.Clear(context.Background())
}

// dropLocked wipes and removes one key. Caller holds a.mu.
func (a *MemoryAdapter) dropLocked(key string) {
	if rec, exists := a.records[key]; exists {
		rec.entry.Clear()
		delete(a.records, key)
		a.stats.Size = len(a.records)
		a.stats.LastUpdated = time.Now().UTC()
	}
}

// evictOldestLocked wipes and removes the least recently used entry to make
// room for a new one. Caller holds a.mu.
func (a *MemoryAdapter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, rec := range a.records {
		if oldestKey == "" || rec.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = rec.lastUsed
		}
	}
	if oldestKey != "" {
		a.dropLocked(oldestKey)
		a.logger.Debug().Str("key", oldestKey).Msg("Evicted least recently used cache entry")
	}
}
