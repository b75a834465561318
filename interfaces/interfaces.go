// Package interfaces defines all service interfaces for the protection engine.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// Cache Interfaces

// Storage defines the interface for cache storage backends
type Storage interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// ClearExpiredKeys removes only expired keys and returns the count of removed entries
	ClearExpiredKeys(ctx context.Context) (int, error)
}

// External Collaborator Interfaces

// SecretStore is the narrow contract to the external secret store. Tenant
// search peppers live under "search-pepper-{tenantId}".
type SecretStore interface {
	// GetSecret returns the named secret, or types.ErrNotFound when absent
	GetSecret(ctx context.Context, name string) ([]byte, error)

	// SetSecretIfAbsent stores the secret only when no value exists yet for
	// the name. Returns true when this call created the secret. The write is
	// a single conditional operation, never check-then-act: concurrent first
	// use of a tenant must mint exactly one pepper.
	SetSecretIfAbsent(ctx context.Context, name string, value []byte) (bool, error)
}

// ProtectedValueSource is the read contract to the external entity repositories.
// The engine never reads or writes entity storage directly; session creation
// pulls the protected values it must decrypt through this interface.
type ProtectedValueSource interface {
	GetProtectedValue(ctx context.Context, tenantID, entityType, entityID, fieldName string) (*types.ProtectedValue, error)
}

// KMS Interfaces

// KMSProvider defines the interface for KEK providers
type KMSProvider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	// Test performs a test encryption/decryption
	Test(ctx context.Context) error

	// HealthCheck performs a comprehensive health check
	HealthCheck(ctx context.Context) error

	// GetLastHealthCheckError returns the last health check error
	GetLastHealthCheckError() error
}

// Key Interfaces

// KeyStore defines the interface for tenant key material storage
type KeyStore interface {
	// GetTenantKeys retrieves the key history for a tenant, or types.ErrNotFound
	GetTenantKeys(ctx context.Context, tenantID string) (*types.TenantKeyInfo, error)

	// CreateTenantKeys inserts a brand-new key history. Returns false when a
	// concurrent caller created one first; the caller must then re-read.
	CreateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) (bool, error)

	// UpdateTenantKeys replaces an existing key history (rotation). The write
	// is a compare-and-swap on info.UpdateVersion: types.ErrConflict signals a
	// concurrent writer got there first and the caller must re-read and retry.
	UpdateTenantKeys(ctx context.Context, info *types.TenantKeyInfo) error

	// ListTenantIDs lists all tenants with key material
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// KeyService is the envelope-encryption adapter. Callers never perform raw
// cryptography; they persist the returned key id next to ciphertext and hand
// it back verbatim on decrypt.
type KeyService interface {
	// GetCurrentKeyID resolves (creating on first use) the tenant's active key id
	GetCurrentKeyID(ctx context.Context, tenantID string) (string, error)

	// Encrypt encrypts plaintext under the given key id
	Encrypt(ctx context.Context, tenantID, keyID string, plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext under the given key id. An unknown or
	// revoked key id is fatal and non-retryable (types.ErrKeyNotFound).
	Decrypt(ctx context.Context, tenantID, keyID string, ciphertext []byte) ([]byte, error)

	// RotateKeys mints a new active key version for the tenant, optionally
	// re-wrapping historical versions under the current KEK
	RotateKeys(ctx context.Context, tenantID string, reEncryptExisting bool) (string, error)

	// GenerateKeyedHash produces a deterministic HMAC token over data under
	// the tenant's search pepper, domain-separated by the context tag
	GenerateKeyedHash(ctx context.Context, tenantID, contextTag string, data []byte) (string, error)

	// GetStats returns key service statistics
	GetStats(ctx context.Context) (*types.KeyStats, error)
}

// Policy Interfaces

// PolicyStore defines the interface for tenant security policy storage
type PolicyStore interface {
	// GetEffective returns the policy version in force for the tenant at the
	// given instant, or types.ErrNotFound
	GetEffective(ctx context.Context, tenantID string, at time.Time) (*types.TenantSecurityPolicy, error)

	// Store persists a new policy version
	Store(ctx context.Context, policy *types.TenantSecurityPolicy) error

	// Update replaces a stored policy version (closing EffectiveTo)
	Update(ctx context.Context, policy *types.TenantSecurityPolicy) error

	// ListVersions lists all policy versions for a tenant, newest first
	ListVersions(ctx context.Context, tenantID string) ([]*types.TenantSecurityPolicy, error)
}

// PolicyResolver resolves tenant protection policy for individual fields
type PolicyResolver interface {
	// GetFieldPolicy resolves the rule for (tenant, entityType, fieldName),
	// falling back to the documented conservative default when none exists
	GetFieldPolicy(ctx context.Context, tenantID, entityType, fieldName string) (*types.FieldProtectionRule, error)

	// RequiresEncryption is a derived, side-effect-free view of the rule
	RequiresEncryption(ctx context.Context, tenantID, entityType, fieldName string) (bool, error)

	// GetUnmaskingPolicy resolves the tenant-wide unmasking policy
	GetUnmaskingPolicy(ctx context.Context, tenantID string) (*types.UnmaskingPolicy, error)

	// GetRetentionPolicy resolves the tenant-wide retention policy
	GetRetentionPolicy(ctx context.Context, tenantID string) (*types.RetentionPolicy, error)

	// UpdatePolicy validates and persists a new policy version. Validation is
	// batch: every offending field is reported, nothing is partially applied.
	UpdatePolicy(ctx context.Context, policy *types.TenantSecurityPolicy) error
}

// Tokenization Interfaces

// TokenEngine derives deterministic, non-reversible search tokens from values
type TokenEngine interface {
	// GenerateTokens tokenizes a value for a field under the given strategy.
	// Token sets are identical whether or not the field is encrypted.
	GenerateTokens(ctx context.Context, tenantID, entityType, fieldName, value string, strategy types.SearchStrategy) ([]string, error)

	// Normalize exposes the indexing/query normalization pipeline; it must be
	// identical on both sides or recall silently breaks
	Normalize(value string) string
}

// Orchestration Interfaces

// FieldProtector is the protection facade over policy, encryption,
// tokenization and redaction
type FieldProtector interface {
	// Protect resolves policy and assembles a ProtectedValue; exactly one of
	// PlainValue/Encrypted is populated on the result
	Protect(ctx context.Context, req types.ProtectRequest) (*types.ProtectedValue, error)

	// Unprotect recovers the raw value for a routine internal read; no audit
	// obligation attaches
	Unprotect(ctx context.Context, value *types.ProtectedValue) (string, error)

	// UnprotectForDisclosure recovers the raw value as an audited disclosure.
	// The audit call is mandatory; a decrypt that succeeds but fails to audit
	// is surfaced as a degraded outcome, never silently dropped.
	UnprotectForDisclosure(ctx context.Context, value *types.ProtectedValue, disclosure types.DisclosureContext) (string, error)

	// GenerateSearchTokens tokenizes a query term or field value
	GenerateSearchTokens(ctx context.Context, tenantID, entityType, fieldName, value string, strategy types.SearchStrategy) ([]string, error)

	// BuildSearchIndexEntries expands a value into index rows for the caller
	// to persist, one entry per generated token
	BuildSearchIndexEntries(ctx context.Context, tenantID, entityType, entityID, fieldName, value string, strategy types.SearchStrategy) ([]types.SearchIndexEntry, error)

	// GetRedactedValue returns only the display string for a value
	GetRedactedValue(value string, piiType types.PIIType, pattern types.RedactionPattern) string
}

// Session Interfaces

// SessionManager issues, validates, extends and revokes unmask sessions
type SessionManager interface {
	// CreateSession validates tenant policy (reason, MFA, TTL cap, per-user
	// concurrency) before any decryption, then decrypts the requested values
	// into an in-memory session
	CreateSession(ctx context.Context, req types.CreateSessionRequest) (*types.SessionGrant, error)

	// GetUnmaskedValue returns a cached plaintext from an active session and
	// increments its access count
	GetUnmaskedValue(ctx context.Context, sessionID, entityID, fieldName string) (string, error)

	// ValidateToken resolves a session by its opaque bearer token
	ValidateToken(ctx context.Context, token string) (*types.UnmaskSession, error)

	// RevokeSession evicts a session immediately; idempotent
	RevokeSession(ctx context.Context, sessionID string) error

	// RevokeAllSessionsForUser evicts every session owned by the user; idempotent
	RevokeAllSessionsForUser(ctx context.Context, userID string) error

	// ExtendSession lengthens the window; the new total must not exceed the
	// tenant maximum
	ExtendSession(ctx context.Context, sessionID string, additionalSeconds int) error

	// GetSessionStats returns aggregate counters, for one user or (empty
	// userID) all users. Never leaks which values were unmasked.
	GetSessionStats(ctx context.Context, userID string) (*types.SessionStats, error)
}

// Audit Interfaces

// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	// LogEvent logs a protection audit event
	LogEvent(ctx context.Context, event *types.AuditEvent) error

	// LogUnmaskOperation records a disclosure of a protected value
	LogUnmaskOperation(ctx context.Context, record *types.UnmaskAuditRecord) error

	// LogAccess records a routine read through an unmask session
	LogAccess(ctx context.Context, entry *types.AccessEntry) error

	// GetEvents retrieves audit events based on filters
	GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error)
}
