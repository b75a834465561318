package types

import (
	"time"
)

// EncryptedData holds ciphertext together with the key id it was produced under.
// The key id is opaque and tenant-scoped; decryption must re-resolve the key by
// id rather than assume the tenant's current key, which may have rotated since.
type EncryptedData struct {
	CipherText  string    `json:"cipherText" bson:"cipherText"` // Base64 encoded
	KeyID       string    `json:"keyId" bson:"keyId"`
	Algorithm   string    `json:"algorithm" bson:"algorithm"`
	EncryptedAt time.Time `json:"encryptedAt" bson:"encryptedAt"`
}

// ProtectedValue is the engine's output for a single field write. Exactly one of
// PlainValue or Encrypted is populated, never both and never neither. Search
// tokens are valid regardless of encryption status: tokenization never requires
// a decrypt.
type ProtectedValue struct {
	TenantID       string         `json:"tenantId" bson:"tenantId"`
	EntityType     string         `json:"entityType" bson:"entityType"`
	FieldName      string         `json:"fieldName" bson:"fieldName"`
	Classification Classification `json:"classification" bson:"classification"`

	PlainValue *string        `json:"plainValue,omitempty" bson:"plainValue,omitempty"`
	Encrypted  *EncryptedData `json:"encrypted,omitempty" bson:"encrypted,omitempty"`

	// RedactedDisplay is always populated for classifications at or above the
	// sensitive floor.
	RedactedDisplay string `json:"redactedDisplay,omitempty" bson:"redactedDisplay,omitempty"`

	// SearchTokens is a set; ordering carries no meaning.
	SearchTokens []string `json:"searchTokens,omitempty" bson:"searchTokens,omitempty"`

	ProtectedAt time.Time `json:"protectedAt" bson:"protectedAt"`
}

// IsEncrypted reports whether the value was stored under envelope encryption
func (v *ProtectedValue) IsEncrypted() bool {
	return v.Encrypted != nil
}

// SearchIndexEntry is one row of the external search index: a single token for a
// single field of a single entity. Tokens are the only externally visible
// artifact of the field's value before decryption.
type SearchIndexEntry struct {
	ID          string         `json:"id" bson:"_id"`
	TenantID    string         `json:"tenantId" bson:"tenantId"`
	EntityID    string         `json:"entityId" bson:"entityId"`
	EntityType  string         `json:"entityType" bson:"entityType"`
	FieldName   string         `json:"fieldName" bson:"fieldName"`
	SearchToken string         `json:"searchToken" bson:"searchToken"`
	Strategy    SearchStrategy `json:"strategy" bson:"strategy"`
	CreatedAt   time.Time      `json:"createdAt" bson:"createdAt"`
}

// ProtectionStats holds statistics about orchestrator operations
type ProtectionStats struct {
	TotalProtects    uint64    `json:"totalProtects" bson:"totalProtects"`
	TotalUnprotects  uint64    `json:"totalUnprotects" bson:"totalUnprotects"`
	TotalDisclosures uint64    `json:"totalDisclosures" bson:"totalDisclosures"`
	LastOpTime       time.Time `json:"lastOpTime" bson:"lastOpTime"`
}
