package protection

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/cache"
	cachestorage "github.com/root-sector/identity-wallet-module-protection/cache/storage"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/keys"
	keystore "github.com/root-sector/identity-wallet-module-protection/keys/store"
	"github.com/root-sector/identity-wallet-module-protection/kms"
	"github.com/root-sector/identity-wallet-module-protection/policy"
	policystore "github.com/root-sector/identity-wallet-module-protection/policy/store"
	"github.com/root-sector/identity-wallet-module-protection/secrets"
	"github.com/root-sector/identity-wallet-module-protection/token"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// failingAuditLogger rejects unmask records to exercise the degraded path
type failingAuditLogger struct {
	audit.StdoutAuditLogger
	events []*types.AuditEvent
}

func (f *failingAuditLogger) LogUnmaskOperation(ctx context.Context, record *types.UnmaskAuditRecord) error {
	return errors.New("audit sink unavailable")
}

func (f *failingAuditLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestProtector(t *testing.T, auditLogger interfaces.AuditLogger) (*Service, *policy.Resolver) {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	provider, err := kms.NewProvider(kms.Config{
		Type:          types.ProviderAead,
		AeadKeyBase64: base64.StdEncoding.EncodeToString(key),
		AeadKeyID:     "test-kek",
	})
	require.NoError(t, err)

	secureCache := cache.New(cachestorage.NewMemoryAdapter())
	pepper, err := keys.NewPepperService(secrets.NewMemoryStore(), secureCache)
	require.NoError(t, err)
	keySvc, err := keys.NewService(provider, keystore.NewMemoryStore(), secureCache, pepper, nil)
	require.NoError(t, err)

	resolver, err := policy.NewResolver(policystore.NewMemoryStore(), nil)
	require.NoError(t, err)

	engine, err := token.NewEngine(keySvc)
	require.NoError(t, err)

	if auditLogger == nil {
		auditLogger = audit.NewStdoutAuditLogger()
	}
	svc, err := NewService(resolver, keySvc, engine, auditLogger)
	require.NoError(t, err)
	return svc, resolver
}

func taxIDPolicy(t *testing.T, resolver *policy.Resolver) {
	t.Helper()
	err := resolver.UpdatePolicy(context.Background(), &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules: []types.FieldProtectionRule{{
			EntityType:            "Person",
			FieldName:             "taxId",
			PIIType:               types.PIITypeTaxID,
			MinimumClassification: types.ClassificationSecret,
			EnableEncryption:      true,
			EnableTokenization:    true,
			SearchStrategy:        types.SearchExact,
		}},
	})
	require.NoError(t, err)
}

func TestProtectEncryptedTaxID(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	taxIDPolicy(t, resolver)

	out, err := svc.Protect(context.Background(), types.ProtectRequest{
		TenantID:       "tenant-a",
		EntityType:     "Person",
		FieldName:      "taxId",
		Value:          "123-456-789",
		Classification: types.ClassificationSecret,
	})
	require.NoError(t, err)

	assert.Nil(t, out.PlainValue)
	require.NotNil(t, out.Encrypted)
	assert.NotEmpty(t, out.Encrypted.KeyID)
	assert.Equal(t, types.AlgorithmAESGCM, out.Encrypted.Algorithm)
	assert.Equal(t, "****", out.RedactedDisplay)
	assert.NotEmpty(t, out.SearchTokens)
}

func TestProtectExactlyOneValueRepresentation(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	taxIDPolicy(t, resolver)
	ctx := context.Background()

	cases := []types.ProtectRequest{
		{TenantID: "tenant-a", EntityType: "Person", FieldName: "taxId", Value: "123-456-789", Classification: types.ClassificationSecret},
		{TenantID: "tenant-a", EntityType: "Person", FieldName: "nickname", Value: "Dusty", Classification: types.ClassificationOfficial},
		{TenantID: "tenant-a", EntityType: "Person", FieldName: "taxId", Value: "", Classification: types.ClassificationSecret},
	}
	for _, req := range cases {
		out, err := svc.Protect(ctx, req)
		require.NoError(t, err)
		hasPlain := out.PlainValue != nil
		hasCipher := out.Encrypted != nil
		assert.True(t, hasPlain != hasCipher, "exactly one of PlainValue/Encrypted must be set for %q", req.FieldName)
	}
}

func TestRoundTripAllClassifications(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	taxIDPolicy(t, resolver)
	ctx := context.Background()

	for _, c := range []types.Classification{
		types.ClassificationOfficial,
		types.ClassificationOfficialSensitive,
		types.ClassificationSecret,
	} {
		// Encrypted path
		out, err := svc.Protect(ctx, types.ProtectRequest{
			TenantID: "tenant-a", EntityType: "Person", FieldName: "taxId",
			Value: "123-456-789", Classification: c,
		})
		require.NoError(t, err)
		plain, err := svc.Unprotect(ctx, out)
		require.NoError(t, err)
		assert.Equal(t, "123-456-789", plain, "classification %s", c)

		// Plain path (no rule for the field, conservative default)
		out, err = svc.Protect(ctx, types.ProtectRequest{
			TenantID: "tenant-a", EntityType: "Person", FieldName: "nickname",
			Value: "Dusty", Classification: c,
		})
		require.NoError(t, err)
		plain, err = svc.Unprotect(ctx, out)
		require.NoError(t, err)
		assert.Equal(t, "Dusty", plain, "classification %s", c)
	}
}

func TestTokensIndependentOfEncryption(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	ctx := context.Background()

	rule := types.FieldProtectionRule{
		EntityType:            "Person",
		FieldName:             "email",
		PIIType:               types.PIITypeEmail,
		MinimumClassification: types.ClassificationOfficialSensitive,
		EnableEncryption:      true,
		EnableTokenization:    true,
		SearchStrategy:        types.SearchExact,
	}
	require.NoError(t, resolver.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{rule},
	}))

	encrypted, err := svc.Protect(ctx, types.ProtectRequest{
		TenantID: "tenant-a", EntityType: "Person", FieldName: "email",
		Value: "jane@example.com", Classification: types.ClassificationOfficialSensitive,
	})
	require.NoError(t, err)

	rule.EnableEncryption = false
	require.NoError(t, resolver.UpdatePolicy(ctx, &types.TenantSecurityPolicy{
		TenantID: "tenant-a",
		Rules:    []types.FieldProtectionRule{rule},
	}))

	plain, err := svc.Protect(ctx, types.ProtectRequest{
		TenantID: "tenant-a", EntityType: "Person", FieldName: "email",
		Value: "jane@example.com", Classification: types.ClassificationOfficialSensitive,
	})
	require.NoError(t, err)

	assert.True(t, encrypted.IsEncrypted())
	assert.False(t, plain.IsEncrypted())
	assert.Equal(t, encrypted.SearchTokens, plain.SearchTokens,
		"token sets must be identical whether or not the field is encrypted")
}

func TestUnprotectUnknownKeyPropagates(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	taxIDPolicy(t, resolver)
	ctx := context.Background()

	out, err := svc.Protect(ctx, types.ProtectRequest{
		TenantID: "tenant-a", EntityType: "Person", FieldName: "taxId",
		Value: "123-456-789", Classification: types.ClassificationSecret,
	})
	require.NoError(t, err)

	out.Encrypted.KeyID = "revoked-key-id"
	_, err = svc.Unprotect(ctx, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrKeyNotFound))
}

func TestDisclosureAuditFailureIsDegradedNotFatal(t *testing.T) {
	failing := &failingAuditLogger{}
	svc, resolver := newTestProtector(t, failing)
	taxIDPolicy(t, resolver)
	ctx := context.Background()

	out, err := svc.Protect(ctx, types.ProtectRequest{
		TenantID: "tenant-a", EntityType: "Person", FieldName: "taxId",
		Value: "123-456-789", Classification: types.ClassificationSecret,
	})
	require.NoError(t, err)

	plain, err := svc.UnprotectForDisclosure(ctx, out, types.DisclosureContext{
		UserID:   "auditor-1",
		EntityID: "person-1",
		Reason:   "customer support case 4711",
	})
	require.NoError(t, err, "a failed audit write must not block the disclosure")
	assert.Equal(t, "123-456-789", plain)

	require.NotEmpty(t, failing.events, "the degraded outcome must be recorded")
	assert.Equal(t, audit.StatusDegraded, failing.events[0].Status)
}

func TestDisclosureRequiresUser(t *testing.T) {
	svc, resolver := newTestProtector(t, nil)
	taxIDPolicy(t, resolver)

	_, err := svc.UnprotectForDisclosure(context.Background(), &types.ProtectedValue{}, types.DisclosureContext{})
	require.Error(t, err)
}

func TestBuildSearchIndexEntries(t *testing.T) {
	svc, _ := newTestProtector(t, nil)

	entries, err := svc.BuildSearchIndexEntries(context.Background(),
		"tenant-a", "Person", "person-1", "fullName", "John Smith", types.SearchName)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	seen := make(map[string]struct{})
	for _, e := range entries {
		assert.Equal(t, "tenant-a", e.TenantID)
		assert.Equal(t, "person-1", e.EntityID)
		assert.Equal(t, "fullName", e.FieldName)
		assert.Equal(t, types.SearchName, e.Strategy)
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.SearchToken)
		_, dup := seen[e.SearchToken]
		assert.False(t, dup, "tokens within one expansion must be unique")
		seen[e.SearchToken] = struct{}{}
	}
}

func TestGetRedactedValueDelegates(t *testing.T) {
	svc, _ := newTestProtector(t, nil)

	assert.Equal(t, "***@example.com", svc.GetRedactedValue("jane@example.com", types.PIITypeEmail, types.RedactShowDomain))
	assert.Equal(t, "***@example.com", svc.GetRedactedValue("jane@example.com", types.PIITypeEmail, ""))
	assert.Equal(t, "****", svc.GetRedactedValue("1990-01-01", types.PIITypeDOB, ""))
}
