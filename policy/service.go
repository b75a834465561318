// Package policy resolves tenant security policy down to individual field
// protection rules, with a conservative default when no rule exists.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

const defaultPolicyCacheTTL = 5 * time.Minute

type cacheEntry struct {
	policy    *types.TenantSecurityPolicy
	expiresAt time.Time
}

// Resolver implements interfaces.PolicyResolver over a PolicyStore with a
// short-lived per-tenant cache. A stale window of a few minutes after a
// policy update is acceptable; missing protection is not, which is why the
// default rule below is conservative rather than permissive.
type Resolver struct {
	store    interfaces.PolicyStore
	audit    interfaces.AuditLogger
	cache    sync.Map
	cacheTTL time.Duration
	logger   zerolog.Logger

	mu sync.Mutex // serializes UpdatePolicy per process
}

// NewResolver creates a policy resolver. The audit logger is optional.
func NewResolver(store interfaces.PolicyStore, auditLogger interfaces.AuditLogger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required for NewResolver")
	}
	return &Resolver{
		store:    store,
		audit:    auditLogger,
		cacheTTL: defaultPolicyCacheTTL,
		logger:   log.With().Str("component", "policy_resolver").Logger(),
	}, nil
}

// DefaultRule is the rule applied when a tenant has no rule for a field.
// It deliberately refuses encryption and tokenization (nothing becomes
// searchable or key-dependent without an explicit decision) while redacting
// display fully, so an unconfigured field leaks nothing.
func DefaultRule(entityType, fieldName string) *types.FieldProtectionRule {
	return &types.FieldProtectionRule{
		EntityType:             entityType,
		FieldName:              fieldName,
		PIIType:                types.PIITypeOther,
		MinimumClassification:  types.ClassificationOfficialSensitive,
		EnableEncryption:       false,
		EnableTokenization:     false,
		RedactionPattern:       types.RedactFull,
		RequireReasonForUnmask: true,
	}
}

// GetFieldPolicy resolves the rule for (tenant, entityType, fieldName)
func (r *Resolver) GetFieldPolicy(ctx context.Context, tenantID, entityType, fieldName string) (*types.FieldProtectionRule, error) {
	if tenantID == "" || entityType == "" || fieldName == "" {
		return nil, fmt.Errorf("tenantID, entityType and fieldName are required")
	}

	policy, err := r.effectivePolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return DefaultRule(entityType, fieldName), nil
		}
		return nil, err
	}

	rule := policy.FindRule(entityType, fieldName)
	if rule == nil {
		return DefaultRule(entityType, fieldName), nil
	}
	out := *rule
	return &out, nil
}

// RequiresEncryption reports whether the resolved rule demands encryption
func (r *Resolver) RequiresEncryption(ctx context.Context, tenantID, entityType, fieldName string) (bool, error) {
	rule, err := r.GetFieldPolicy(ctx, tenantID, entityType, fieldName)
	if err != nil {
		return false, err
	}
	return rule.EnableEncryption, nil
}

// GetUnmaskingPolicy resolves the tenant-wide unmasking policy. Tenants
// without a stored policy get the zero value, whose accessors fall back to
// the documented defaults.
func (r *Resolver) GetUnmaskingPolicy(ctx context.Context, tenantID string) (*types.UnmaskingPolicy, error) {
	policy, err := r.effectivePolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &types.UnmaskingPolicy{}, nil
		}
		return nil, err
	}
	out := policy.Unmasking
	return &out, nil
}

// GetRetentionPolicy resolves the tenant-wide retention policy
func (r *Resolver) GetRetentionPolicy(ctx context.Context, tenantID string) (*types.RetentionPolicy, error) {
	policy, err := r.effectivePolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &types.RetentionPolicy{}, nil
		}
		return nil, err
	}
	out := policy.Retention
	return &out, nil
}

// UpdatePolicy validates and persists a new policy version. The previous
// current version is closed at the new version's EffectiveFrom, so exactly
// one version is effective at any instant.
func (r *Resolver) UpdatePolicy(ctx context.Context, policy *types.TenantSecurityPolicy) error {
	if policy == nil {
		return fmt.Errorf("policy is required")
	}
	if policy.EffectiveFrom.IsZero() {
		policy.EffectiveFrom = time.Now().UTC()
	}
	if err := ValidatePolicy(policy); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, err := r.store.ListVersions(ctx, policy.TenantID)
	if err != nil {
		return fmt.Errorf("failed to list policy versions: %w", err)
	}

	maxVersion := 0
	for _, v := range versions {
		if v.Version > maxVersion {
			maxVersion = v.Version
		}
		if v.EffectiveTo == nil {
			closed := *v
			to := policy.EffectiveFrom
			closed.EffectiveTo = &to
			if err := r.store.Update(ctx, &closed); err != nil {
				return fmt.Errorf("failed to close previous policy version: %w", err)
			}
		}
	}

	policy.ID = uuid.New().String()
	policy.Version = maxVersion + 1
	if err := r.store.Store(ctx, policy); err != nil {
		return fmt.Errorf("failed to store policy: %w", err)
	}

	r.cache.Delete(policy.TenantID)

	r.logger.Info().
		Str("tenantId", policy.TenantID).
		Int("version", policy.Version).
		Int("rules", len(policy.Rules)).
		Msg("Tenant security policy updated")

	if r.audit != nil {
		event := audit.NewAuditEvent(audit.EventTypePolicyUpdate, audit.OperationUpdate, policy.TenantID)
		event.Metadata = map[string]interface{}{
			"version": policy.Version,
			"rules":   len(policy.Rules),
		}
		if err := r.audit.LogEvent(ctx, event); err != nil {
			r.logger.Warn().Err(err).Str("tenantId", policy.TenantID).Msg("Failed to audit policy update")
		}
	}

	return nil
}

// effectivePolicy loads the tenant's current policy, cache first
func (r *Resolver) effectivePolicy(ctx context.Context, tenantID string) (*types.TenantSecurityPolicy, error) {
	if cached, ok := r.cache.Load(tenantID); ok {
		if entry, ok := cached.(*cacheEntry); ok && time.Now().Before(entry.expiresAt) {
			return entry.policy, nil
		}
		r.cache.Delete(tenantID)
	}

	policy, err := r.store.GetEffective(ctx, tenantID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	r.cache.Store(tenantID, &cacheEntry{
		policy:    policy,
		expiresAt: time.Now().Add(r.cacheTTL),
	})
	return policy, nil
}
