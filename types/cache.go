package types

import (
	"context"
	"runtime"
	"time"
)

const (
	// DefaultCacheTTLMinutes bounds how long an unwrapped DEK stays cached
	DefaultCacheTTLMinutes = 15

	// PepperCacheTTLHours bounds how long a tenant search pepper stays cached
	// before it is re-read from the secret store
	PepperCacheTTLHours = 24
)

// SecureBytes wraps key material held in memory. The backing buffer is zeroed
// on Clear and, as a backstop, when the wrapper is garbage collected. Tenant
// peppers and unwrapped DEKs are only ever cached through this type.
type SecureBytes struct {
	buf []byte
}

// NewSecureBytes copies the material into a wrapped buffer. The caller keeps
// ownership of the input slice and should wipe it separately.
func NewSecureBytes(material []byte) *SecureBytes {
	s := &SecureBytes{buf: make([]byte, len(material))}
	copy(s.buf, material)
	runtime.SetFinalizer(s, (*SecureBytes).Clear)
	return s
}

// Clear zeroes the buffer and detaches it. Safe to call more than once.
func (s *SecureBytes) Clear() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.buf = nil
}

// Get returns a copy of the material, or nil after Clear. Callers own the
// returned slice.
func (s *SecureBytes) Get() []byte {
	if s.buf == nil {
		return nil
	}
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// CacheEntry is one cached secret. Version carries the key version for DEK
// entries; pepper entries use 1.
type CacheEntry struct {
	Value   *SecureBytes
	Version int
}

// Clear wipes the wrapped material
func (e *CacheEntry) Clear() {
	if e.Value != nil {
		e.Value.Clear()
		e.Value = nil
	}
}

// CacheStats reports cache health for diagnostics
type CacheStats struct {
	Size        int       `json:"size" bson:"size"`
	Hits        int64     `json:"hits" bson:"hits"`
	Misses      int64     `json:"misses" bson:"misses"`
	LastPurged  time.Time `json:"lastPurged" bson:"lastPurged"`
	LastAccess  time.Time `json:"lastAccess" bson:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// Cache is the secret cache used by the key and pepper services
type Cache interface {
	// Enable enables the cache
	Enable()

	// Disable disables the cache and wipes all entries
	Disable()

	// IsEnabled returns whether the cache is enabled
	IsEnabled() bool

	// Clear wipes and removes all entries
	Clear()

	// Get retrieves a cached secret and its version
	Get(ctx context.Context, key string) (*SecureBytes, int, bool)

	// Set caches a secret under a bounded TTL
	Set(ctx context.Context, key string, value []byte, version int, ttl time.Duration)

	// Delete wipes and removes a single key
	Delete(key string)

	// GetStats returns cache statistics
	GetStats(ctx context.Context) CacheStats
}
