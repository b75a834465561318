package types

// ProviderType represents the type of KEK provider backing envelope encryption
type ProviderType string

const (
	ProviderAWS   ProviderType = "aws"
	ProviderAzure ProviderType = "azure"
	ProviderGCP   ProviderType = "gcp"
	ProviderVault ProviderType = "vault"

	// ProviderAead wraps DEKs with a locally held AES-256-GCM key. Used for
	// development and tests; production tenants use an external key service.
	ProviderAead ProviderType = "aead"
)
