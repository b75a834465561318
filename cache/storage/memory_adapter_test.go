package storage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector/identity-wallet-module-protection/types"
)

func newEntry(material string, version int) *types.CacheEntry {
	return &types.CacheEntry{Value: types.NewSecureBytes([]byte(material)), Version: version}
}

func TestMemoryAdapterRoundTrip(t *testing.T) {
	a := NewMemoryAdapter().(*MemoryAdapter)
	defer a.Shutdown()
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "dek-tenant-a-v1", newEntry("material", 1), time.Minute))

	var got types.CacheEntry
	require.NoError(t, a.Get(ctx, "dek-tenant-a-v1", &got))
	assert.Equal(t, []byte("material"), got.Value.Get())
	assert.Equal(t, 1, got.Version)

	stats := a.GetStats(ctx)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestMemoryAdapterExpiryOnAccess(t *testing.T) {
	a := NewMemoryAdapter().(*MemoryAdapter)
	defer a.Shutdown()
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "pepper-tenant-a", newEntry("pepper", 1), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	var got types.CacheEntry
	err := a.Get(ctx, "pepper-tenant-a", &got)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Equal(t, 0, a.GetStats(ctx).Size)
}

func TestMemoryAdapterClearExpiredKeys(t *testing.T) {
	a := NewMemoryAdapter().(*MemoryAdapter)
	defer a.Shutdown()
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "short", newEntry("a", 1), time.Nanosecond))
	require.NoError(t, a.Set(ctx, "long", newEntry("b", 1), time.Hour))
	time.Sleep(5 * time.Millisecond)

	purged, err := a.ClearExpiredKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	var got types.CacheEntry
	assert.NoError(t, a.Get(ctx, "long", &got))
}

func TestMemoryAdapterEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	a := NewMemoryAdapter().(*MemoryAdapter)
	defer a.Shutdown()
	ctx := context.Background()

	// Fill to capacity, then touch the first key so a filler entry is oldest
	require.NoError(t, a.Set(ctx, "first", newEntry("a", 1), 0))
	for i := 1; i < maxEntries; i++ {
		require.NoError(t, a.Set(ctx, "filler-"+strconv.Itoa(i), newEntry("x", 1), 0))
	}
	var got types.CacheEntry
	require.NoError(t, a.Get(ctx, "first", &got))

	require.NoError(t, a.Set(ctx, "overflow", newEntry("b", 1), 0))

	assert.Equal(t, maxEntries, a.GetStats(ctx).Size)
	assert.NoError(t, a.Get(ctx, "first", &got), "recently used entry must survive eviction")
	assert.NoError(t, a.Get(ctx, "overflow", &got))
}

func TestMemoryAdapterRejectsWrongValueType(t *testing.T) {
	a := NewMemoryAdapter().(*MemoryAdapter)
	defer a.Shutdown()
	ctx := context.Background()

	assert.Error(t, a.Set(ctx, "k", "not-an-entry", time.Minute))

	var wrong string
	assert.Error(t, a.Get(ctx, "k", &wrong))
}
