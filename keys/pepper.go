package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

const (
	// pepperSize is the tenant search pepper length (256 bits)
	pepperSize = 32

	cacheKeyPrefixPepper = "pepper"
)

// PepperService resolves the per-tenant search pepper: cache first, then the
// secret store, minting a new pepper on first use. A tenant must always
// resolve to the same pepper bytes, or every previously generated search
// token becomes permanently unmatchable. Pepper rotation therefore requires a
// full re-tokenization pass and is intentionally not offered here.
type PepperService struct {
	secretStore interfaces.SecretStore
	cache       types.Cache
	logger      zerolog.Logger
}

// NewPepperService creates a pepper service over the given secret store and cache
func NewPepperService(secretStore interfaces.SecretStore, cache types.Cache) (*PepperService, error) {
	if secretStore == nil {
		return nil, fmt.Errorf("secretStore is required for NewPepperService")
	}
	return &PepperService{
		secretStore: secretStore,
		cache:       cache,
		logger:      log.With().Str("component", "pepper_service").Logger(),
	}, nil
}

// pepperSecretName is the secret-store key for a tenant's pepper
func pepperSecretName(tenantID string) string {
	return fmt.Sprintf("search-pepper-%s", tenantID)
}

// GetTenantPepper returns the tenant's pepper, creating it on first use.
// Creation is a single conditional write against the secret store, never
// check-then-act: when two callers race, exactly one pepper is persisted and
// both return it.
func (p *PepperService) GetTenantPepper(ctx context.Context, tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	cacheKey := fmt.Sprintf("%s:%s", cacheKeyPrefixPepper, tenantID)
	if p.cache != nil && p.cache.IsEnabled() {
		if cached, _, found := p.cache.Get(ctx, cacheKey); found && cached != nil {
			return cached.Get(), nil
		}
	}

	pepper, err := p.secretStore.GetSecret(ctx, pepperSecretName(tenantID))
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("failed to read tenant pepper: %w", err)
	}

	if errors.Is(err, types.ErrNotFound) {
		pepper, err = p.createTenantPepper(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	if p.cache != nil && p.cache.IsEnabled() {
		p.cache.Set(ctx, cacheKey, pepper, 1, types.PepperCacheTTLHours*time.Hour)
	}

	return pepper, nil
}

// createTenantPepper mints a candidate pepper and races it into the secret
// store. Losing the race is normal: the winner's pepper is re-read and used.
func (p *PepperService) createTenantPepper(ctx context.Context, tenantID string) ([]byte, error) {
	candidate := make([]byte, pepperSize)
	if _, err := rand.Read(candidate); err != nil {
		return nil, fmt.Errorf("failed to generate tenant pepper: %w", err)
	}

	created, err := p.secretStore.SetSecretIfAbsent(ctx, pepperSecretName(tenantID), candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to persist tenant pepper: %w", err)
	}
	if created {
		p.logger.Info().
			Str("tenantId", tenantID).
			Msg("Tenant search pepper created")
		return candidate, nil
	}

	// Another caller created the pepper first; ours is discarded
	winner, err := p.secretStore.GetSecret(ctx, pepperSecretName(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to re-read tenant pepper after lost race: %w", err)
	}
	p.logger.Debug().
		Str("tenantId", tenantID).
		Msg("Tenant pepper created concurrently, using persisted value")
	return winner, nil
}
