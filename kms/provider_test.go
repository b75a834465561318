package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-sector/identity-wallet-module-protection/types"
)

// Misconfigurations must fail during validation, before any cloud SDK call.
func TestNewProviderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		errSubstr string
	}{
		{
			name:      "unsupported provider type",
			config:    Config{Type: "smartcard"},
			errSubstr: "unsupported KEK provider type",
		},
		{
			name:      "aws section missing",
			config:    Config{Type: types.ProviderAWS},
			errSubstr: "aws section is required",
		},
		{
			name: "aws region missing",
			config: Config{Type: types.ProviderAWS, AWS: &AWSConfig{
				KeyID: "arn:aws:kms:us-east-1:123456789012:key/abc",
			}},
			errSubstr: "region is required",
		},
		{
			name: "aws access key without secret",
			config: Config{Type: types.ProviderAWS, AWS: &AWSConfig{
				KeyID:       "arn:aws:kms:us-east-1:123456789012:key/abc",
				Region:      "us-east-1",
				Credentials: map[string]interface{}{"accessKeyId": "AKIA"},
			}},
			errSubstr: "must be set together",
		},
		{
			name: "azure key id missing",
			config: Config{Type: types.ProviderAzure, Azure: &AzureConfig{
				VaultAddress: "https://myvault.vault.azure.net",
			}},
			errSubstr: "key identifier URL is required",
		},
		{
			name: "azure vault address malformed",
			config: Config{Type: types.ProviderAzure, Azure: &AzureConfig{
				KeyID:        "https://myvault.vault.azure.net/keys/mykey/v1",
				VaultAddress: "myvault",
			}},
			errSubstr: "key vault URL",
		},
		{
			name: "azure credentials incomplete",
			config: Config{Type: types.ProviderAzure, Azure: &AzureConfig{
				KeyID:        "https://myvault.vault.azure.net/keys/mykey/v1",
				VaultAddress: "https://myvault.vault.azure.net",
				Credentials:  map[string]interface{}{"clientId": "c", "clientSecret": "s"},
			}},
			errSubstr: "tenantId is required",
		},
		{
			name:      "gcp section missing",
			config:    Config{Type: types.ProviderGCP},
			errSubstr: "gcp section is required",
		},
		{
			name: "gcp resource name malformed",
			config: Config{Type: types.ProviderGCP, GCP: &GCPConfig{
				ResourceName: "projects/p/keyRings/r",
			}},
			errSubstr: "resource name must match",
		},
		{
			name: "gcp resource name with empty component",
			config: Config{Type: types.ProviderGCP, GCP: &GCPConfig{
				ResourceName: "projects//locations/global/keyRings/r/cryptoKeys/k",
			}},
			errSubstr: "components cannot be empty",
		},
		{
			name: "vault key name missing",
			config: Config{Type: types.ProviderVault, Vault: &VaultConfig{
				VaultAddress: "https://vault.internal:8200",
			}},
			errSubstr: "transit key name is required",
		},
		{
			name: "vault empty token",
			config: Config{Type: types.ProviderVault, Vault: &VaultConfig{
				KeyID:        "protection-kek",
				VaultAddress: "https://vault.internal:8200",
				Credentials:  map[string]interface{}{"token": ""},
			}},
			errSubstr: "token is required",
		},
		{
			name:      "aead key missing",
			config:    Config{Type: types.ProviderAead},
			errSubstr: "aead key is required",
		},
		{
			name:      "aead key not base64",
			config:    Config{Type: types.ProviderAead, AeadKeyBase64: "%%%"},
			errSubstr: "not valid base64",
		},
		{
			name: "aead key too short",
			config: Config{
				Type:          types.ProviderAead,
				AeadKeyBase64: base64.StdEncoding.EncodeToString([]byte("short")),
			},
			errSubstr: "must decode to 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestParseCryptoKeyPath(t *testing.T) {
	path, err := parseCryptoKeyPath("projects/my-project/locations/europe-west3/keyRings/wallet/cryptoKeys/kek")
	require.NoError(t, err)
	assert.Equal(t, "my-project", path.project)
	assert.Equal(t, "europe-west3", path.location)
	assert.Equal(t, "wallet", path.keyRing)
	assert.Equal(t, "kek", path.cryptoKey)
}

func TestAeadProviderRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	p, err := NewProvider(Config{
		Type:          types.ProviderAead,
		AeadKeyBase64: base64.StdEncoding.EncodeToString(key),
		AeadKeyID:     "test-kek",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Test(ctx))
	require.NoError(t, p.HealthCheck(ctx))
	assert.NoError(t, p.GetLastHealthCheckError())

	keyID, err := p.GetWrapper().KeyId(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-kek", keyID)
}
