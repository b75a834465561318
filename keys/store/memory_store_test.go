package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector/identity-wallet-module-protection/types"
)

func seedTenant(t *testing.T, s *MemoryStore, tenantID string) *types.TenantKeyInfo {
	t.Helper()
	info := &types.TenantKeyInfo{
		TenantID:    tenantID,
		ActiveKeyID: "key-1",
		Versions: []types.KeyVersion{{
			KeyID:     "key-1",
			Version:   1,
			CreatedAt: time.Now().UTC(),
		}},
	}
	created, err := s.CreateTenantKeys(context.Background(), info)
	require.NoError(t, err)
	require.True(t, created)
	return info
}

func TestUpdateTenantKeysRejectsStaleWrite(t *testing.T) {
	s := NewMemoryStore().(*MemoryStore)
	ctx := context.Background()
	seedTenant(t, s, "tenant-a")

	// Two writers read the same history
	first, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)
	second, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)

	first.ActiveKeyID = "key-2"
	first.Versions = append(first.Versions, types.KeyVersion{KeyID: "key-2", Version: 2})
	require.NoError(t, s.UpdateTenantKeys(ctx, first))

	// The second writer's history is now stale and must not clobber key-2
	second.ActiveKeyID = "key-3"
	second.Versions = append(second.Versions, types.KeyVersion{KeyID: "key-3", Version: 2})
	err = s.UpdateTenantKeys(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConflict))

	current, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "key-2", current.ActiveKeyID)
	assert.NotNil(t, current.FindVersion("key-2"))
	assert.Nil(t, current.FindVersion("key-3"))
}

func TestUpdateTenantKeysRetryAfterReRead(t *testing.T) {
	s := NewMemoryStore().(*MemoryStore)
	ctx := context.Background()
	seedTenant(t, s, "tenant-a")

	stale, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)

	winner, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)
	winner.Versions = append(winner.Versions, types.KeyVersion{KeyID: "key-2", Version: 2})
	require.NoError(t, s.UpdateTenantKeys(ctx, winner))

	stale.Versions = append(stale.Versions, types.KeyVersion{KeyID: "key-3", Version: 2})
	require.True(t, errors.Is(s.UpdateTenantKeys(ctx, stale), types.ErrConflict))

	// Re-reading picks up the bumped UpdateVersion and the retry lands
	fresh, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)
	fresh.Versions = append(fresh.Versions, types.KeyVersion{KeyID: "key-3", Version: 3})
	require.NoError(t, s.UpdateTenantKeys(ctx, fresh))

	current, err := s.GetTenantKeys(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, current.Versions, 3)
}

func TestUpdateTenantKeysUnknownTenant(t *testing.T) {
	s := NewMemoryStore().(*MemoryStore)

	err := s.UpdateTenantKeys(context.Background(), &types.TenantKeyInfo{TenantID: "ghost"})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
