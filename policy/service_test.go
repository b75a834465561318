package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	policystore "github.com/root-sector/identity-wallet-module-protection/policy/store"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(policystore.NewMemoryStore(), nil)
	require.NoError(t, err)
	return r
}

func emailRule() types.FieldProtectionRule {
	return types.FieldProtectionRule{
		EntityType:            "user",
		FieldName:             "email",
		PIIType:               types.PIITypeEmail,
		MinimumClassification: types.ClassificationOfficialSensitive,
		EnableEncryption:      true,
		EnableTokenization:    true,
		RedactionPattern:      types.RedactShowDomain,
		SearchStrategy:        types.SearchExact,
	}
}

func TestGetFieldPolicyDefaultRule(t *testing.T) {
	r := newTestResolver(t)

	rule, err := r.GetFieldPolicy(context.Background(), "tenant-a", "user", "nickname")
	require.NoError(t, err)

	// An unconfigured field must never be encrypted or tokenized by surprise,
	// and must never display anything
	assert.False(t, rule.EnableEncryption)
	assert.False(t, rule.EnableTokenization)
	assert.Equal(t, types.RedactFull, rule.RedactionPattern)
	assert.True(t, rule.RequireReasonForUnmask)
}

func TestUpdateAndResolvePolicy(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	err := r.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{emailRule()},
	})
	require.NoError(t, err)

	rule, err := r.GetFieldPolicy(ctx, "tenant-a", "user", "email")
	require.NoError(t, err)
	assert.True(t, rule.EnableEncryption)
	assert.Equal(t, types.RedactShowDomain, rule.RedactionPattern)

	enc, err := r.RequiresEncryption(ctx, "tenant-a", "user", "email")
	require.NoError(t, err)
	assert.True(t, enc)

	// Another tenant is unaffected
	otherRule, err := r.GetFieldPolicy(ctx, "tenant-b", "user", "email")
	require.NoError(t, err)
	assert.False(t, otherRule.EnableEncryption)
}

func TestUpdatePolicyVersioning(t *testing.T) {
	store := policystore.NewMemoryStore()
	r, err := NewResolver(store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{emailRule()},
	}))

	rule := emailRule()
	rule.EnableEncryption = false
	require.NoError(t, r.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{rule},
	}))

	versions, err := store.ListVersions(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Nil(t, versions[0].EffectiveTo, "current version stays open")
	assert.NotNil(t, versions[1].EffectiveTo, "superseded version must be closed")

	// The update invalidated the cache, so the new version resolves immediately
	resolved, err := r.GetFieldPolicy(ctx, "tenant-a", "user", "email")
	require.NoError(t, err)
	assert.False(t, resolved.EnableEncryption)
}

func TestUpdatePolicyBatchValidation(t *testing.T) {
	r := newTestResolver(t)

	bad := emailRule()
	bad.PIIType = "not-a-pii-type"
	missingStrategy := types.FieldProtectionRule{
		EntityType:            "user",
		FieldName:             "phone",
		PIIType:               types.PIITypePhone,
		MinimumClassification: types.ClassificationOfficialSensitive,
		EnableTokenization:    true, // no SearchStrategy set
	}
	dup := emailRule()

	err := r.UpdatePolicy(context.Background(), &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{bad, missingStrategy, dup},
	})
	require.Error(t, err)
	require.True(t, types.IsValidationError(err))

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Violations, "rules[0].piiType")
	assert.Contains(t, ve.Violations, "rules[1].searchStrategy")
	assert.Contains(t, ve.Violations, "rules[2].fieldName")
	assert.True(t, strings.Contains(ve.Violations["rules[2].fieldName"], "duplicate"))

	// Nothing was applied
	versions, err := r.store.ListVersions(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestUnmaskingPolicyFallbacks(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	unmask, err := r.GetUnmaskingPolicy(ctx, "tenant-without-policy")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUnmaskDurationSeconds*time.Second, unmask.GetEffectiveDefaultDuration())
	assert.Equal(t, types.DefaultMaxUnmaskDurationSeconds*time.Second, unmask.GetEffectiveMaxDuration())
	assert.Equal(t, types.DefaultMaxConcurrentSessions, unmask.GetEffectiveMaxConcurrent())

	require.NoError(t, r.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Unmasking: types.UnmaskingPolicy{
			DefaultUnmaskDurationSeconds: 60,
			MaxUnmaskDurationSeconds:     120,
			MaxConcurrentSessions:        1,
		},
	}))

	unmask, err = r.GetUnmaskingPolicy(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, unmask.GetEffectiveDefaultDuration())
	assert.Equal(t, 120*time.Second, unmask.GetEffectiveMaxDuration())
	assert.Equal(t, 1, unmask.GetEffectiveMaxConcurrent())
}

func TestValidatePolicyRejectsInvalidUnmaskingDurations(t *testing.T) {
	err := ValidatePolicy(&types.TenantSecurityPolicy{
		TenantID:      "tenant-a",
		EffectiveFrom: time.Now(),
		Unmasking: types.UnmaskingPolicy{
			DefaultUnmaskDurationSeconds: 900,
			MaxUnmaskDurationSeconds:     300,
		},
	})
	require.Error(t, err)

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Violations, "unmasking.defaultUnmaskDurationSeconds")
}
