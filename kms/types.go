package kms

import (
	"context"

	"github.com/root-sector/identity-wallet-module-protection/types"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// Provider represents a KEK provider backing tenant envelope encryption
type Provider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	// Test performs a test encryption/decryption
	Test(ctx context.Context) error

	// HealthCheck performs a comprehensive health check
	HealthCheck(ctx context.Context) error

	// GetLastHealthCheckError returns the last health check error
	GetLastHealthCheckError() error
}

// AWSConfig holds AWS KMS configuration
type AWSConfig struct {
	KeyID       string                 `json:"keyId" bson:"keyId"`
	Region      string                 `json:"region" bson:"region"`
	Credentials map[string]interface{} `json:"credentials,omitempty" bson:"credentials,omitempty"`
}

// AzureConfig holds Azure Key Vault configuration
type AzureConfig struct {
	KeyID        string                 `json:"keyId" bson:"keyId"`
	VaultAddress string                 `json:"vaultAddress" bson:"vaultAddress"`
	Credentials  map[string]interface{} `json:"credentials,omitempty" bson:"credentials,omitempty"`
}

// GCPConfig holds Google Cloud KMS configuration
type GCPConfig struct {
	// ResourceName is the full crypto key path:
	// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
	ResourceName string                 `json:"resourceName" bson:"resourceName"`
	Credentials  map[string]interface{} `json:"credentials,omitempty" bson:"credentials,omitempty"`
}

// VaultConfig holds HashiCorp Vault Transit configuration
type VaultConfig struct {
	KeyID        string                 `json:"keyId" bson:"keyId"`
	VaultAddress string                 `json:"vaultAddress" bson:"vaultAddress"`
	VaultMount   string                 `json:"vaultMount,omitempty" bson:"vaultMount,omitempty"`
	Credentials  map[string]interface{} `json:"credentials,omitempty" bson:"credentials,omitempty"`
}

// Config represents the KEK provider configuration
type Config struct {
	Type types.ProviderType `json:"type" bson:"type"`

	AWS   *AWSConfig   `json:"aws,omitempty" bson:"aws,omitempty"`
	Azure *AzureConfig `json:"azure,omitempty" bson:"azure,omitempty"`
	GCP   *GCPConfig   `json:"gcp,omitempty" bson:"gcp,omitempty"`
	Vault *VaultConfig `json:"vault,omitempty" bson:"vault,omitempty"`

	// AeadKeyBase64 is the base64-encoded 32-byte key for the local AEAD
	// provider (development and tests only)
	AeadKeyBase64 string `json:"aeadKeyBase64,omitempty" bson:"aeadKeyBase64,omitempty"`
	AeadKeyID     string `json:"aeadKeyId,omitempty" bson:"aeadKeyId,omitempty"`
}
