// Package secrets provides implementations of the secret store contract used
// for tenant search peppers and related key material.
package secrets

import (
	"context"
	"sync"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// MemoryStore implements interfaces.SecretStore in process memory. Used by
// tests and single-node deployments; production tenants back this with the
// platform secret store.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

// NewMemoryStore creates a new in-memory secret store
func NewMemoryStore() interfaces.SecretStore {
	return &MemoryStore{
		secrets: make(map[string][]byte),
	}
}

// GetSecret returns the named secret, or types.ErrNotFound when absent
func (s *MemoryStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.secrets[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// SetSecretIfAbsent stores the secret only when none exists for the name.
// The check and the write happen under one lock: this is the conditional
// write that keeps concurrent first-use from minting two peppers.
func (s *MemoryStore) SetSecretIfAbsent(ctx context.Context, name string, value []byte) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[name]; ok {
		return false, nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.secrets[name] = stored
	return true, nil
}
