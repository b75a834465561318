package types

import (
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

const (
	// AlgorithmAESGCM identifies the data encryption algorithm recorded on
	// EncryptedData; the DEK itself is wrapped by the tenant's KEK provider.
	AlgorithmAESGCM = "AES-256-GCM"
)

// KeyVersion is one version of a tenant's data encryption key. The DEK bytes
// never appear here: only the KMS-wrapped blob and the opaque key id callers
// persist alongside ciphertext.
type KeyVersion struct {
	// KeyID is the opaque, tenant-scoped identifier persisted with ciphertext
	KeyID string `json:"keyId" bson:"keyId"`

	// Version number within the tenant's key history
	Version int `json:"version" bson:"version"`

	// BlobInfo is the complete wrapped-DEK blob from the KMS wrapper
	BlobInfo *wrapping.BlobInfo `json:"blobInfo" bson:"blobInfo"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// Retired marks versions superseded by rotation. Retired keys still
	// decrypt; they are only excluded from new encryptions.
	Retired bool `json:"retired" bson:"retired"`
}

// TenantKeyInfo is the full key history for one tenant
type TenantKeyInfo struct {
	TenantID    string       `json:"tenantId" bson:"_id"`
	ActiveKeyID string       `json:"activeKeyId" bson:"activeKeyId"`
	Versions    []KeyVersion `json:"versions" bson:"versions"`
	CreatedAt   time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt" bson:"updatedAt"`

	// UpdateVersion guards the read-modify-write cycle on the history.
	// Stores accept an update only when it matches the stored value, so a
	// concurrent rotation can never silently drop a minted key version.
	UpdateVersion int64 `json:"updateVersion" bson:"updateVersion"`
}

// FindVersion returns the key version with the given key id, or nil
func (k *TenantKeyInfo) FindVersion(keyID string) *KeyVersion {
	for i := range k.Versions {
		if k.Versions[i].KeyID == keyID {
			return &k.Versions[i]
		}
	}
	return nil
}

// ActiveVersion returns the currently active key version, or nil
func (k *TenantKeyInfo) ActiveVersion() *KeyVersion {
	return k.FindVersion(k.ActiveKeyID)
}

// KeyStats holds statistics about the key service
type KeyStats struct {
	TotalTenants  int       `json:"totalTenants" bson:"totalTenants"`
	TotalVersions int       `json:"totalVersions" bson:"totalVersions"`
	LastRotation  time.Time `json:"lastRotation" bson:"lastRotation"`
	LastOperation time.Time `json:"lastOperation" bson:"lastOperation"`
}
