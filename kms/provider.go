// Package kms provides the KEK provider backing tenant envelope encryption
package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/root-sector/identity-wallet-module-protection/types"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	awskms "github.com/hashicorp/go-kms-wrapping/wrappers/awskms/v2"
	azurekeyvault "github.com/hashicorp/go-kms-wrapping/wrappers/azurekeyvault/v2"
	gcpckms "github.com/hashicorp/go-kms-wrapping/wrappers/gcpckms/v2"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"
	validation "github.com/jellydator/validation"

	"github.com/rs/zerolog/log"
)

// aeadKeyLen is the AES-256-GCM key length the local provider requires
const aeadKeyLen = 32

// provider implements the Provider interface over a configured wrapper
type provider struct {
	wrapper         wrapping.Wrapper
	lastHealthCheck error
}

// NewProvider builds the KEK provider selected by the configuration. Each
// backend validates its own section before any wrapper is configured, so a
// bad config fails fast without touching the cloud SDK.
func NewProvider(config Config) (Provider, error) {
	log.Debug().Str("provider", string(config.Type)).Msg("Initializing KEK provider")

	var wrapper wrapping.Wrapper
	var err error
	switch config.Type {
	case types.ProviderAWS:
		wrapper, err = newAWSWrapper(config.AWS)
	case types.ProviderAzure:
		wrapper, err = newAzureWrapper(config.Azure)
	case types.ProviderGCP:
		wrapper, err = newGCPWrapper(config.GCP)
	case types.ProviderVault:
		wrapper, err = newVaultWrapper(config.Vault)
	case types.ProviderAead:
		wrapper, err = newAeadWrapper(config.AeadKeyBase64, config.AeadKeyID)
	default:
		return nil, fmt.Errorf("unsupported KEK provider type: %s", config.Type)
	}
	if err != nil {
		log.Error().Err(err).Str("provider", string(config.Type)).Msg("Failed to build KEK provider")
		return nil, fmt.Errorf("kms provider %s: %w", config.Type, err)
	}

	log.Info().Str("provider", string(config.Type)).Msg("KEK provider initialized")
	return &provider{wrapper: wrapper}, nil
}

// GetWrapper returns the underlying KMS wrapper
func (p *provider) GetWrapper() wrapping.Wrapper {
	return p.wrapper
}

// Test round-trips a fixed value through the wrapper
func (p *provider) Test(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("wrapper not initialized")
	}

	plain := []byte("kek-self-test")
	blob, err := p.wrapper.Encrypt(ctx, plain)
	if err != nil {
		return fmt.Errorf("encrypt self-test failed: %w", err)
	}
	recovered, err := p.wrapper.Decrypt(ctx, blob)
	if err != nil {
		return fmt.Errorf("decrypt self-test failed: %w", err)
	}
	if string(recovered) != string(plain) {
		return fmt.Errorf("self-test round trip produced different bytes")
	}
	return nil
}

// HealthCheck verifies the wrapper end to end and records the outcome
func (p *provider) HealthCheck(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("KEK provider not initialized")
	}
	if err := p.Test(ctx); err != nil {
		p.lastHealthCheck = fmt.Errorf("KEK provider unhealthy: %w", err)
		return p.lastHealthCheck
	}
	p.lastHealthCheck = nil
	return nil
}

// GetLastHealthCheckError returns the most recent health check failure, if any
func (p *provider) GetLastHealthCheckError() error {
	return p.lastHealthCheck
}

// credString reads an optional string out of a credentials map
func credString(creds map[string]interface{}, key string) string {
	if creds == nil {
		return ""
	}
	s, _ := creds[key].(string)
	return s
}

// applyConfig pushes a config map into a fresh wrapper
func applyConfig(wrapper interface {
	SetConfig(ctx context.Context, opt ...wrapping.Option) (*wrapping.WrapperConfig, error)
}, configMap map[string]string, backend string) error {
	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return fmt.Errorf("failed to configure %s wrapper: %w", backend, err)
	}
	return nil
}

func newAWSWrapper(cfg *AWSConfig) (wrapping.Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("aws section is required")
	}
	if err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.KeyID, validation.Required.Error("key ARN is required")),
		validation.Field(&cfg.Region, validation.Required.Error("region is required")),
	); err != nil {
		return nil, err
	}

	accessKey := credString(cfg.Credentials, "accessKeyId")
	secretKey := credString(cfg.Credentials, "secretAccessKey")
	if (accessKey == "") != (secretKey == "") {
		return nil, fmt.Errorf("accessKeyId and secretAccessKey must be set together")
	}
	if cfg.Credentials == nil {
		log.Info().Msg("No static AWS credentials configured, using the default credential chain")
	}

	configMap := map[string]string{
		"kms_key_id": cfg.KeyID,
		"region":     cfg.Region,
	}
	if accessKey != "" {
		configMap["access_key"] = accessKey
		configMap["secret_key"] = secretKey
	}
	if token := credString(cfg.Credentials, "sessionToken"); token != "" {
		configMap["session_token"] = token
	}

	wrapper := awskms.NewWrapper()
	if err := applyConfig(wrapper, configMap, "AWS KMS"); err != nil {
		return nil, err
	}
	return wrapper, nil
}

func newAzureWrapper(cfg *AzureConfig) (wrapping.Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("azure section is required")
	}
	if err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.KeyID, validation.Required.Error("key identifier URL is required")),
		validation.Field(&cfg.VaultAddress, validation.Required, validation.By(func(interface{}) error {
			if !strings.HasPrefix(cfg.VaultAddress, "https://") || !strings.Contains(cfg.VaultAddress, ".vault.azure.net") {
				return fmt.Errorf("must be a key vault URL such as https://myvault.vault.azure.net")
			}
			return nil
		})),
	); err != nil {
		return nil, err
	}

	if cfg.Credentials != nil {
		for _, field := range []string{"tenantId", "clientId", "clientSecret"} {
			if credString(cfg.Credentials, field) == "" {
				return nil, fmt.Errorf("%s is required when azure credentials are set", field)
			}
		}
	} else {
		log.Info().Msg("No static Azure credentials configured, using managed identity")
	}

	// Key identifier URLs look like https://myvault.vault.azure.net/keys/mykey/version
	keyName, keyVersion := cfg.KeyID, ""
	if parts := strings.Split(cfg.KeyID, "/"); len(parts) >= 5 && parts[3] == "keys" {
		keyName = parts[4]
		if len(parts) >= 6 {
			keyVersion = parts[5]
		}
	} else {
		log.Warn().Str("keyId", cfg.KeyID).Msg("Azure key ID is not a key identifier URL, using it as the key name")
	}

	vaultName := strings.SplitN(strings.TrimPrefix(cfg.VaultAddress, "https://"), ".", 2)[0]
	if vaultName == "" {
		return nil, fmt.Errorf("could not derive vault name from address %s", cfg.VaultAddress)
	}

	configMap := map[string]string{
		"key_name":   keyName,
		"vault_name": vaultName,
		"vault_url":  cfg.VaultAddress,
	}
	if keyVersion != "" {
		configMap["key_version"] = keyVersion
	}
	for mapKey, credKey := range map[string]string{
		"tenant_id": "tenantId", "client_id": "clientId", "client_secret": "clientSecret",
	} {
		if v := credString(cfg.Credentials, credKey); v != "" {
			configMap[mapKey] = v
		}
	}

	wrapper := azurekeyvault.NewWrapper()
	if err := applyConfig(wrapper, configMap, "Azure Key Vault"); err != nil {
		return nil, err
	}
	return wrapper, nil
}

// cryptoKeyPath is a parsed GCP crypto key resource name
type cryptoKeyPath struct {
	project, location, keyRing, cryptoKey string
}

func parseCryptoKeyPath(resourceName string) (cryptoKeyPath, error) {
	parts := strings.Split(resourceName, "/")
	if len(parts) != 8 || parts[0] != "projects" || parts[2] != "locations" || parts[4] != "keyRings" || parts[6] != "cryptoKeys" {
		return cryptoKeyPath{}, fmt.Errorf("resource name must match projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}")
	}
	p := cryptoKeyPath{project: parts[1], location: parts[3], keyRing: parts[5], cryptoKey: parts[7]}
	if p.project == "" || p.location == "" || p.keyRing == "" || p.cryptoKey == "" {
		return cryptoKeyPath{}, fmt.Errorf("resource name components cannot be empty")
	}
	return p, nil
}

func newGCPWrapper(cfg *GCPConfig) (wrapping.Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gcp section is required")
	}
	if cfg.ResourceName == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	path, err := parseCryptoKeyPath(cfg.ResourceName)
	if err != nil {
		return nil, err
	}

	configMap := map[string]string{
		"project":    path.project,
		"region":     path.location,
		"key_ring":   path.keyRing,
		"crypto_key": path.cryptoKey,
	}

	// The wrapper reads credentials from a file path, so config-supplied JSON
	// is staged through a temp file for the duration of SetConfig.
	if cfg.Credentials != nil {
		credsJSON := credString(cfg.Credentials, "credentialsJson")
		if credsJSON == "" {
			return nil, fmt.Errorf("credentialsJson is required when gcp credentials are set")
		}
		credsFile, err := stageCredentialsFile(credsJSON)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rmErr := os.Remove(credsFile); rmErr != nil {
				log.Error().Err(rmErr).Str("path", credsFile).Msg("Failed to remove staged GCP credentials file")
			}
		}()
		configMap["credentials"] = credsFile
	} else {
		log.Info().Msg("No static GCP credentials configured, using application default credentials")
	}

	wrapper := gcpckms.NewWrapper()
	if err := applyConfig(wrapper, configMap, "GCP KMS"); err != nil {
		return nil, err
	}
	return wrapper, nil
}

// stageCredentialsFile writes credential JSON to a temp file and returns its
// path. The caller removes the file once the wrapper is configured.
func stageCredentialsFile(credsJSON string) (string, error) {
	f, err := os.CreateTemp("", "kek-gcp-creds-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to stage credentials file: %w", err)
	}
	if _, err := f.WriteString(credsJSON); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write staged credentials: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close staged credentials file: %w", err)
	}
	return f.Name(), nil
}

func newVaultWrapper(cfg *VaultConfig) (wrapping.Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault section is required")
	}
	if err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.KeyID, validation.Required.Error("transit key name is required")),
		validation.Field(&cfg.VaultAddress, validation.Required.Error("vault address is required")),
	); err != nil {
		return nil, err
	}

	if cfg.Credentials != nil && credString(cfg.Credentials, "token") == "" {
		return nil, fmt.Errorf("token is required when vault credentials are set")
	}
	if cfg.Credentials == nil {
		log.Info().Msg("No Vault token configured, using VAULT_TOKEN or ambient auth")
	}

	configMap := map[string]string{
		"address":  cfg.VaultAddress,
		"key_name": cfg.KeyID,
	}
	if cfg.VaultMount != "" {
		configMap["mount_path"] = cfg.VaultMount
	}
	if token := credString(cfg.Credentials, "token"); token != "" {
		configMap["token"] = token
	}

	wrapper := transit.NewWrapper()
	if err := applyConfig(wrapper, configMap, "Vault Transit"); err != nil {
		return nil, err
	}
	return wrapper, nil
}

// newAeadWrapper builds the local AEAD provider used for development and
// tests. The key is the raw AES-256-GCM KEK, base64 encoded.
func newAeadWrapper(keyBase64, keyID string) (wrapping.Wrapper, error) {
	if keyBase64 == "" {
		return nil, fmt.Errorf("aead key is required")
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("aead key is not valid base64: %w", err)
	}
	if len(key) != aeadKeyLen {
		return nil, fmt.Errorf("aead key must decode to %d bytes, got %d", aeadKeyLen, len(key))
	}

	wrapper := kmsaead.NewWrapper()
	opts := []wrapping.Option{kmsaead.WithKey(key)}
	if keyID != "" {
		opts = append(opts, wrapping.WithKeyId(keyID))
	}
	if _, err := wrapper.SetConfig(context.Background(), opts...); err != nil {
		return nil, fmt.Errorf("failed to configure aead wrapper: %w", err)
	}
	return wrapper, nil
}
