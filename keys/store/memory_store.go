// Package store provides tenant key material storage backends.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// MemoryStore implements interfaces.KeyStore in process memory
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*types.TenantKeyInfo
}

// NewMemoryStore creates a new in-memory key store
func NewMemoryStore() interfaces.KeyStore {
	return &MemoryStore{
		tenants: make(map[string]*types.TenantKeyInfo),
	}
}

// GetTenantKeys retrieves the key history for a tenant, or types.ErrNotFound
func (s *MemoryStore) GetTenantKeys(ctx context.Context, tenantID string) (*types.TenantKeyInfo, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.tenants[tenantID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneKeyInfo(info), nil
}

// CreateTenantKeys inserts a new key history. The check and the write share
// one lock so that concurrent first use creates exactly one history.
func (s *MemoryStore) CreateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[info.TenantID]; ok {
		return false, nil
	}
	s.tenants[info.TenantID] = cloneKeyInfo(info)
	return true, nil
}

// UpdateTenantKeys replaces an existing key history. The update only lands
// when the caller read the current UpdateVersion; a stale write gets
// types.ErrConflict instead of clobbering a concurrent rotation.
func (s *MemoryStore) UpdateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tenants[info.TenantID]
	if !ok {
		return types.ErrNotFound
	}
	if current.UpdateVersion != info.UpdateVersion {
		return types.ErrConflict
	}

	stored := cloneKeyInfo(info)
	stored.UpdateVersion = info.UpdateVersion + 1
	s.tenants[info.TenantID] = stored
	return nil
}

// ListTenantIDs lists all tenants with key material
func (s *MemoryStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// cloneKeyInfo copies the history so callers cannot mutate stored state
func cloneKeyInfo(info *types.TenantKeyInfo) *types.TenantKeyInfo {
	out := *info
	out.Versions = make([]types.KeyVersion, len(info.Versions))
	copy(out.Versions, info.Versions)
	return &out
}
