// Package keys implements the envelope-encryption adapter: per-tenant data
// encryption keys wrapped by a KEK provider, AES-256-GCM field encryption,
// key rotation and the keyed hashing primitive behind search tokens.
package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

const (
	// dekSize is the per-tenant data encryption key length (256 bits)
	dekSize = 32

	cacheKeyPrefixDEK = "dek"

	dekCacheTTL = 15 * time.Minute

	// rotateRetries bounds how often a rotation re-reads the history after
	// losing a compare-and-swap against another engine instance
	rotateRetries = 3
)

// Service implements interfaces.KeyService. DEKs exist in plaintext only
// transiently: they are unwrapped on demand, held in the secure cache and
// wiped on eviction. Callers see opaque key ids, never key bytes.
type Service struct {
	provider interfaces.KMSProvider
	store    interfaces.KeyStore
	cache    types.Cache
	pepper   *PepperService
	audit    interfaces.AuditLogger
	logger   zerolog.Logger

	encryptOps atomic.Int64
	decryptOps atomic.Int64
	hashOps    atomic.Int64

	// rotateLocks serializes rotations per tenant within this process; the
	// store-level compare-and-swap covers writers in other processes
	rotateLocks sync.Map

	statsMu       sync.Mutex
	lastRotation  time.Time
	lastOperation time.Time
}

// NewService creates the envelope-encryption adapter. The audit logger is
// optional; rotations are still logged through zerolog when it is nil.
func NewService(provider interfaces.KMSProvider, store interfaces.KeyStore, cache types.Cache, pepper *PepperService, auditLogger interfaces.AuditLogger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required for NewService")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required for NewService")
	}
	if pepper == nil {
		return nil, fmt.Errorf("pepper service is required for NewService")
	}
	return &Service{
		provider: provider,
		store:    store,
		cache:    cache,
		pepper:   pepper,
		audit:    auditLogger,
		logger:   log.With().Str("component", "key_service").Logger(),
	}, nil
}

// GetCurrentKeyID resolves the tenant's active key id, creating the tenant's
// first key version on first use
func (s *Service) GetCurrentKeyID(ctx context.Context, tenantID string) (string, error) {
	info, err := s.loadOrCreateTenantKeys(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return info.ActiveKeyID, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under the tenant DEK named by
// keyID. The nonce is prepended to the ciphertext and the key id is bound in
// as additional authenticated data, so ciphertext cannot be replayed under a
// different key id.
func (s *Service) Encrypt(ctx context.Context, tenantID, keyID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is required")
	}

	version, err := s.resolveVersion(ctx, tenantID, keyID)
	if err != nil {
		return nil, err
	}

	gcm, err := s.openAEAD(ctx, tenantID, version)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(keyID))

	s.encryptOps.Add(1)
	s.touch()
	return sealed, nil
}

// Decrypt decrypts ciphertext produced by Encrypt. An unknown key id wraps
// types.ErrKeyNotFound: the key material is gone or revoked and no retry can
// succeed, so callers must surface it rather than loop.
func (s *Service) Decrypt(ctx context.Context, tenantID, keyID string, ciphertext []byte) ([]byte, error) {
	version, err := s.resolveVersion(ctx, tenantID, keyID)
	if err != nil {
		return nil, err
	}

	gcm, err := s.openAEAD(ctx, tenantID, version)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %w", types.ErrCryptoFailure)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", types.ErrCryptoFailure)
	}

	s.decryptOps.Add(1)
	s.touch()
	return plaintext, nil
}

// RotateKeys mints a new active key version for the tenant. Previous versions
// are retired, never removed: existing ciphertext keeps decrypting under its
// recorded key id. With reEncryptExisting the historical wrapped blobs are
// re-wrapped under the current KEK, which matters after a KEK rotation at the
// provider.
func (s *Service) RotateKeys(ctx context.Context, tenantID string, reEncryptExisting bool) (string, error) {
	lock := s.tenantRotateLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	var (
		info       *types.TenantKeyInfo
		newVersion *types.KeyVersion
	)
	for attempt := 0; ; attempt++ {
		var err error
		info, err = s.loadOrCreateTenantKeys(ctx, tenantID)
		if err != nil {
			return "", err
		}

		maxVersion := 0
		for i := range info.Versions {
			if info.Versions[i].Version > maxVersion {
				maxVersion = info.Versions[i].Version
			}
			if info.Versions[i].KeyID == info.ActiveKeyID {
				info.Versions[i].Retired = true
			}
		}

		newVersion, err = s.mintKeyVersion(ctx, maxVersion+1)
		if err != nil {
			return "", err
		}

		if reEncryptExisting {
			wrapper := s.provider.GetWrapper()
			for i := range info.Versions {
				dek, err := wrapper.Decrypt(ctx, info.Versions[i].BlobInfo, wrapping.WithAad([]byte(info.Versions[i].KeyID)))
				if err != nil {
					return "", fmt.Errorf("failed to unwrap key version %d for re-wrap: %w", info.Versions[i].Version, err)
				}
				rewrapped, err := wrapper.Encrypt(ctx, dek, wrapping.WithAad([]byte(info.Versions[i].KeyID)))
				if err != nil {
					return "", fmt.Errorf("failed to re-wrap key version %d: %w", info.Versions[i].Version, err)
				}
				info.Versions[i].BlobInfo = rewrapped
			}
		}

		info.Versions = append(info.Versions, *newVersion)
		info.ActiveKeyID = newVersion.KeyID
		info.UpdatedAt = time.Now().UTC()

		err = s.store.UpdateTenantKeys(ctx, info)
		if err == nil {
			break
		}
		if errors.Is(err, types.ErrConflict) && attempt < rotateRetries {
			// Another instance rotated concurrently; rebuild on its history
			// so no minted key version is ever lost
			continue
		}
		return "", fmt.Errorf("failed to persist rotated keys: %w", err)
	}

	// Unwrapped DEKs cached before the rotation are stale only if re-wrapped,
	// but dropping them all is cheap and keeps the cache coherent.
	if s.cache != nil {
		for i := range info.Versions {
			s.cache.Delete(s.dekCacheKey(tenantID, info.Versions[i].KeyID))
		}
	}

	s.statsMu.Lock()
	s.lastRotation = time.Now().UTC()
	s.statsMu.Unlock()
	s.touch()

	s.logger.Info().
		Str("tenantId", tenantID).
		Int("version", newVersion.Version).
		Bool("reEncryptExisting", reEncryptExisting).
		Msg("Tenant key rotated")

	if s.audit != nil {
		event := audit.NewAuditEvent(audit.EventTypeKeyRotate, audit.OperationRotate, tenantID)
		event.Metadata = map[string]interface{}{
			"version":           newVersion.Version,
			"reEncryptExisting": reEncryptExisting,
		}
		if err := s.audit.LogEvent(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("tenantId", tenantID).Msg("Failed to audit key rotation")
		}
	}

	return newVersion.KeyID, nil
}

// GenerateKeyedHash produces a deterministic HMAC-SHA256 token over data
// under the tenant's search pepper. The context tag is written first with a
// zero-byte separator so tokens from different strategies and fields never
// collide even when the underlying data matches.
func (s *Service) GenerateKeyedHash(ctx context.Context, tenantID, contextTag string, data []byte) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}

	pepper, err := s.pepper.GetTenantPepper(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tenant pepper: %w", err)
	}

	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(contextTag))
	mac.Write([]byte{0})
	mac.Write(data)

	s.hashOps.Add(1)
	s.touch()
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// GetStats returns key service statistics
func (s *Service) GetStats(ctx context.Context) (*types.KeyStats, error) {
	tenantIDs, err := s.store.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	totalVersions := 0
	for _, tenantID := range tenantIDs {
		info, err := s.store.GetTenantKeys(ctx, tenantID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		totalVersions += len(info.Versions)
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return &types.KeyStats{
		TotalTenants:  len(tenantIDs),
		TotalVersions: totalVersions,
		LastRotation:  s.lastRotation,
		LastOperation: s.lastOperation,
	}, nil
}

// loadOrCreateTenantKeys fetches the tenant's key history, lazily creating
// the first version. Creation is a conditional insert: on a lost race the
// winner's history is re-read.
func (s *Service) loadOrCreateTenantKeys(ctx context.Context, tenantID string) (*types.TenantKeyInfo, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	info, err := s.store.GetTenantKeys(ctx, tenantID)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("failed to load tenant keys: %w", err)
	}

	first, err := s.mintKeyVersion(ctx, 1)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	candidate := &types.TenantKeyInfo{
		TenantID:    tenantID,
		ActiveKeyID: first.KeyID,
		Versions:    []types.KeyVersion{*first},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.store.CreateTenantKeys(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant keys: %w", err)
	}
	if !created {
		info, err = s.store.GetTenantKeys(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read tenant keys after lost race: %w", err)
		}
		return info, nil
	}

	s.logger.Info().
		Str("tenantId", tenantID).
		Str("keyId", first.KeyID).
		Msg("Tenant key material created")
	return candidate, nil
}

// tenantRotateLock returns the per-tenant rotation mutex
func (s *Service) tenantRotateLock(tenantID string) *sync.Mutex {
	lock, _ := s.rotateLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// mintKeyVersion generates a fresh DEK and wraps it under the KEK provider.
// The plaintext DEK never leaves this function.
func (s *Service) mintKeyVersion(ctx context.Context, version int) (*types.KeyVersion, error) {
	dek := make([]byte, dekSize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}

	keyID := uuid.New().String()
	blobInfo, err := s.provider.GetWrapper().Encrypt(ctx, dek, wrapping.WithAad([]byte(keyID)))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap DEK: %w", err)
	}

	return &types.KeyVersion{
		KeyID:     keyID,
		Version:   version,
		BlobInfo:  blobInfo,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// resolveVersion loads the key version behind a key id
func (s *Service) resolveVersion(ctx context.Context, tenantID, keyID string) (*types.KeyVersion, error) {
	if keyID == "" {
		return nil, fmt.Errorf("keyID is required")
	}

	info, err := s.loadOrCreateTenantKeys(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	version := info.FindVersion(keyID)
	if version == nil {
		return nil, fmt.Errorf("key %s not known for tenant %s: %w", keyID, tenantID, types.ErrKeyNotFound)
	}
	return version, nil
}

// openAEAD unwraps the version's DEK (cache first) and builds the GCM cipher
func (s *Service) openAEAD(ctx context.Context, tenantID string, version *types.KeyVersion) (cipher.AEAD, error) {
	dek, err := s.unwrapDEK(ctx, tenantID, version)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return gcm, nil
}

// unwrapDEK returns the plaintext DEK for a key version, consulting the
// secure cache before calling out to the KEK provider
func (s *Service) unwrapDEK(ctx context.Context, tenantID string, version *types.KeyVersion) ([]byte, error) {
	cacheKey := s.dekCacheKey(tenantID, version.KeyID)
	if s.cache != nil && s.cache.IsEnabled() {
		if cached, _, found := s.cache.Get(ctx, cacheKey); found && cached != nil {
			return cached.Get(), nil
		}
	}

	dek, err := s.provider.GetWrapper().Decrypt(ctx, version.BlobInfo, wrapping.WithAad([]byte(version.KeyID)))
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap DEK: %w", err)
	}
	if len(dek) != dekSize {
		return nil, fmt.Errorf("unwrapped DEK has unexpected length %d: %w", len(dek), types.ErrCryptoFailure)
	}

	if s.cache != nil && s.cache.IsEnabled() {
		s.cache.Set(ctx, cacheKey, dek, version.Version, dekCacheTTL)
	}
	return dek, nil
}

func (s *Service) dekCacheKey(tenantID, keyID string) string {
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefixDEK, tenantID, keyID)
}

func (s *Service) touch() {
	s.statsMu.Lock()
	s.lastOperation = time.Now().UTC()
	s.statsMu.Unlock()
}
