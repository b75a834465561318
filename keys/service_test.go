package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector/identity-wallet-module-protection/cache"
	cachestorage "github.com/root-sector/identity-wallet-module-protection/cache/storage"
	"github.com/root-sector/identity-wallet-module-protection/kms"
	keystore "github.com/root-sector/identity-wallet-module-protection/keys/store"
	"github.com/root-sector/identity-wallet-module-protection/secrets"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

func newTestService(t *testing.T) (*Service, *PepperService) {
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
	pepper, err := NewPepperService(secrets.NewMemoryStore(), secureCache)
	require.NoError(t, err)

	svc, err := NewService(provider, keystore.NewMemoryStore(), secureCache, pepper, nil)
	require.NoError(t, err)
	return svc, pepper
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	keyID, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotEmpty(t, keyID)

	plaintext := []byte("jane.doe@example.com")
	ciphertext, err := svc.Encrypt(ctx, "tenant-a", keyID, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	recovered, err := svc.Decrypt(ctx, "tenant-a", keyID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestGetCurrentKeyIDIsStable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	second, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := svc.GetCurrentKeyID(ctx, "tenant-b")
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "tenants must not share key ids")
}

func TestDecryptUnknownKeyID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)

	_, err = svc.Decrypt(ctx, "tenant-a", "no-such-key", []byte("irrelevant"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrKeyNotFound))
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	keyID, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt(ctx, "tenant-a", keyID, []byte("DE89370400440532013000"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = svc.Decrypt(ctx, "tenant-a", keyID, ciphertext)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCryptoFailure))
}

func TestRotateKeysOldCiphertextStillDecrypts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	oldKeyID, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	ciphertext, err := svc.Encrypt(ctx, "tenant-a", oldKeyID, []byte("secret-value"))
	require.NoError(t, err)

	newKeyID, err := svc.RotateKeys(ctx, "tenant-a", false)
	require.NoError(t, err)
	assert.NotEqual(t, oldKeyID, newKeyID)

	active, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, newKeyID, active)

	recovered, err := svc.Decrypt(ctx, "tenant-a", oldKeyID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-value"), recovered)
}

func TestRotateKeysWithReWrap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	oldKeyID, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	ciphertext, err := svc.Encrypt(ctx, "tenant-a", oldKeyID, []byte("secret-value"))
	require.NoError(t, err)

	_, err = svc.RotateKeys(ctx, "tenant-a", true)
	require.NoError(t, err)

	// Re-wrapping changes the stored blob, never the DEK itself
	recovered, err := svc.Decrypt(ctx, "tenant-a", oldKeyID, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-value"), recovered)
}

func TestConcurrentRotationsLoseNoKeys(t *testing.T) {
	// Racing rotations must never drop a minted key version: a key id handed
	// out by a successful RotateKeys call has to keep encrypting and
	// decrypting, or everything stored under it is unrecoverable.
	svc, _ := newTestService(t)
	ctx := context.Background()

	firstKeyID, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)

	const rotations = 16
	keyIDs := make([]string, rotations)
	var wg sync.WaitGroup
	wg.Add(rotations)
	for i := 0; i < rotations; i++ {
		go func(idx int) {
			defer wg.Done()
			id, err := svc.RotateKeys(ctx, "tenant-a", false)
			assert.NoError(t, err)
			keyIDs[idx] = id
		}(i)
	}
	wg.Wait()

	for _, keyID := range append(keyIDs, firstKeyID) {
		ciphertext, err := svc.Encrypt(ctx, "tenant-a", keyID, []byte("payload"))
		require.NoError(t, err, "key %s unusable after concurrent rotation", keyID)
		plain, err := svc.Decrypt(ctx, "tenant-a", keyID, ciphertext)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), plain)
	}

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotations+1, stats.TotalVersions, "every rotation must add exactly one version")
}

func TestGenerateKeyedHashDeterministicPerTenant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.GenerateKeyedHash(ctx, "tenant-a", "exact|user|email", []byte("jane@example.com"))
	require.NoError(t, err)
	second, err := svc.GenerateKeyedHash(ctx, "tenant-a", "exact|user|email", []byte("jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	otherTag, err := svc.GenerateKeyedHash(ctx, "tenant-a", "exact|user|phone", []byte("jane@example.com"))
	require.NoError(t, err)
	assert.NotEqual(t, first, otherTag, "context tag must domain-separate tokens")

	otherTenant, err := svc.GenerateKeyedHash(ctx, "tenant-b", "exact|user|email", []byte("jane@example.com"))
	require.NoError(t, err)
	assert.NotEqual(t, first, otherTenant, "peppers must isolate tenants")
}

func TestGetStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetCurrentKeyID(ctx, "tenant-a")
	require.NoError(t, err)
	_, err = svc.GetCurrentKeyID(ctx, "tenant-b")
	require.NoError(t, err)
	_, err = svc.RotateKeys(ctx, "tenant-a", false)
	require.NoError(t, err)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTenants)
	assert.Equal(t, 3, stats.TotalVersions)
	assert.False(t, stats.LastRotation.IsZero())
}

func TestConcurrentPepperCreation(t *testing.T) {
	// Uncached cold start: many concurrent callers for the same tenant must
	// all observe one pepper, or half the search index becomes unmatchable.
	store := secrets.NewMemoryStore()
	pepper, err := NewPepperService(store, nil)
	require.NoError(t, err)

	const callers = 50
	results := make([][]byte, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(idx int) {
			defer wg.Done()
			p, err := pepper.GetTenantPepper(context.Background(), "tenant-race")
			assert.NoError(t, err)
			results[idx] = p
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, results[0])
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i], "caller %d observed a different pepper", i)
	}
}

func TestPepperSurvivesCacheLoss(t *testing.T) {
	store := secrets.NewMemoryStore()

	first, err := NewPepperService(store, nil)
	require.NoError(t, err)
	p1, err := first.GetTenantPepper(context.Background(), "tenant-a")
	require.NoError(t, err)

	// A fresh service over the same store simulates a restart
	second, err := NewPepperService(store, nil)
	require.NoError(t, err)
	p2, err := second.GetTenantPepper(context.Background(), "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}
