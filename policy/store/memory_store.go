// Package store provides tenant security policy storage backends.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// MemoryStore implements interfaces.PolicyStore in process memory
type MemoryStore struct {
	mu       sync.Mutex
	policies map[string]*types.TenantSecurityPolicy
}

// NewMemoryStore creates a new in-memory policy store
func NewMemoryStore() interfaces.PolicyStore {
	return &MemoryStore{
		policies: make(map[string]*types.TenantSecurityPolicy),
	}
}

// GetEffective returns the policy version in force for the tenant at the
// given instant. With overlapping effective ranges the highest version wins.
func (s *MemoryStore) GetEffective(ctx context.Context, tenantID string, at time.Time) (*types.TenantSecurityPolicy, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.TenantSecurityPolicy
	for _, p := range s.policies {
		if p.TenantID != tenantID || !p.EffectiveAt(at) {
			continue
		}
		if best == nil || p.Version > best.Version {
			best = p
		}
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	return clonePolicy(best), nil
}

// Store persists a new policy version
func (s *MemoryStore) Store(ctx context.Context, policy *types.TenantSecurityPolicy) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ID] = clonePolicy(policy)
	return nil
}

// Update replaces a stored policy version
func (s *MemoryStore) Update(ctx context.Context, policy *types.TenantSecurityPolicy) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[policy.ID]; !ok {
		return types.ErrNotFound
	}
	s.policies[policy.ID] = clonePolicy(policy)
	return nil
}

// ListVersions lists all policy versions for a tenant, newest first
func (s *MemoryStore) ListVersions(ctx context.Context, tenantID string) ([]*types.TenantSecurityPolicy, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.TenantSecurityPolicy
	for _, p := range s.policies {
		if p.TenantID == tenantID {
			out = append(out, clonePolicy(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func clonePolicy(p *types.TenantSecurityPolicy) *types.TenantSecurityPolicy {
	out := *p
	out.Rules = make([]types.FieldProtectionRule, len(p.Rules))
	copy(out.Rules, p.Rules)
	if p.EffectiveTo != nil {
		to := *p.EffectiveTo
		out.EffectiveTo = &to
	}
	return &out
}
