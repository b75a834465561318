package types

// ProtectRequest carries one raw field value into the protection orchestrator
type ProtectRequest struct {
	TenantID       string         `json:"tenantId"`
	EntityType     string         `json:"entityType"`
	FieldName      string         `json:"fieldName"`
	Value          string         `json:"value"`
	Classification Classification `json:"classification"`
}

// DisclosureContext identifies who is disclosing a protected value and why.
// Passing it (via UnprotectForDisclosure) is what makes a decrypt an
// audit-worthy disclosure rather than a routine internal read; the audit
// obligation is structural, not inferred from an optional argument.
type DisclosureContext struct {
	UserID          string `json:"userId"`
	EntityID        string `json:"entityId"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"durationSeconds"`
}

// CreateSessionRequest asks the session manager for a time-boxed unmask grant
type CreateSessionRequest struct {
	TenantID   string   `json:"tenantId"`
	UserID     string   `json:"userId"`
	EntityType string   `json:"entityType"`
	EntityIDs  []string `json:"entityIds"`
	Fields     []string `json:"fields"`

	// Reason is required when any requested field's classification is at or
	// above the tenant's RequireReasonThreshold.
	Reason string `json:"reason,omitempty"`

	// TTLSeconds requests a session window; zero means the tenant default.
	TTLSeconds int `json:"ttlSeconds,omitempty"`

	// MFAVerified asserts that the caller's identity was MFA-checked upstream.
	// Checked against UnmaskingPolicy.RequireMFAForUnmask before any decrypt.
	MFAVerified bool `json:"mfaVerified,omitempty"`
}
