package types

import (
	"time"
)

// FieldProtectionRule declares how a single (entityType, fieldName) pair must be
// protected for a tenant. Identity is (tenantID, entityType, fieldName); rules are
// immutable once resolved for a request and change only through UpdatePolicy,
// which bumps TenantSecurityPolicy.Version.
type FieldProtectionRule struct {
	EntityType             string           `json:"entityType" bson:"entityType"`
	FieldName              string           `json:"fieldName" bson:"fieldName"`
	PIIType                PIIType          `json:"piiType" bson:"piiType"`
	MinimumClassification  Classification   `json:"minimumClassification" bson:"minimumClassification"`
	EnableEncryption       bool             `json:"enableEncryption" bson:"enableEncryption"`
	EnableTokenization     bool             `json:"enableTokenization" bson:"enableTokenization"`
	RedactionPattern       RedactionPattern `json:"redactionPattern" bson:"redactionPattern"`
	SearchStrategy         SearchStrategy   `json:"searchStrategy" bson:"searchStrategy"`
	RequireReasonForUnmask bool             `json:"requireReasonForUnmask" bson:"requireReasonForUnmask"`

	// MaxUnmaskDurationSeconds overrides the tenant-wide maximum for this field
	// when set; zero means the UnmaskingPolicy maximum applies.
	MaxUnmaskDurationSeconds int `json:"maxUnmaskDurationSeconds,omitempty" bson:"maxUnmaskDurationSeconds,omitempty"`
}

// UnmaskingPolicy is the tenant-wide configuration gating unmask sessions
type UnmaskingPolicy struct {
	DefaultUnmaskDurationSeconds int            `json:"defaultUnmaskDurationSeconds" bson:"defaultUnmaskDurationSeconds"`
	MaxUnmaskDurationSeconds     int            `json:"maxUnmaskDurationSeconds" bson:"maxUnmaskDurationSeconds"`
	RequireMFAForUnmask          bool           `json:"requireMfaForUnmask" bson:"requireMfaForUnmask"`
	RequireReasonThreshold       Classification `json:"requireReasonThreshold" bson:"requireReasonThreshold"`
	MaxConcurrentSessions        int            `json:"maxConcurrentSessions" bson:"maxConcurrentSessions"`

	// MaxUnmasksByClassification caps the number of unmask sessions a user may
	// open per day per classification; zero or missing means unlimited.
	MaxUnmasksByClassification map[Classification]int `json:"maxUnmasksByClassification,omitempty" bson:"maxUnmasksByClassification,omitempty"`
}

const (
	// DefaultUnmaskDurationSeconds applies when a tenant has no explicit unmasking policy
	DefaultUnmaskDurationSeconds = 300

	// DefaultMaxUnmaskDurationSeconds caps unmask sessions for tenants without a policy
	DefaultMaxUnmaskDurationSeconds = 900

	// DefaultMaxConcurrentSessions bounds concurrent unmask sessions per user
	DefaultMaxConcurrentSessions = 3
)

// GetEffectiveDefaultDuration returns the default session TTL with fallback
func (p *UnmaskingPolicy) GetEffectiveDefaultDuration() time.Duration {
	if p != nil && p.DefaultUnmaskDurationSeconds > 0 {
		return time.Duration(p.DefaultUnmaskDurationSeconds) * time.Second
	}
	return DefaultUnmaskDurationSeconds * time.Second
}

// GetEffectiveMaxDuration returns the maximum session TTL with fallback
func (p *UnmaskingPolicy) GetEffectiveMaxDuration() time.Duration {
	if p != nil && p.MaxUnmaskDurationSeconds > 0 {
		return time.Duration(p.MaxUnmaskDurationSeconds) * time.Second
	}
	return DefaultMaxUnmaskDurationSeconds * time.Second
}

// GetEffectiveMaxConcurrent returns the concurrent session cap with fallback
func (p *UnmaskingPolicy) GetEffectiveMaxConcurrent() int {
	if p != nil && p.MaxConcurrentSessions > 0 {
		return p.MaxConcurrentSessions
	}
	return DefaultMaxConcurrentSessions
}

// RetentionPolicy declares how long protected values are retained for a tenant.
// Enforcement lives in the entity repositories; the engine only resolves it.
type RetentionPolicy struct {
	RetainDays      int  `json:"retainDays" bson:"retainDays"`
	PurgeOnExpiry   bool `json:"purgeOnExpiry" bson:"purgeOnExpiry"`
	RedactAfterDays int  `json:"redactAfterDays,omitempty" bson:"redactAfterDays,omitempty"`
}

// TenantSecurityPolicy is the versioned, effective-dated container for a tenant's
// field protection rules plus its unmasking and retention policies. Only one
// version is effective at a given instant per tenant.
type TenantSecurityPolicy struct {
	ID            string                `json:"id" bson:"_id"`
	TenantID      string                `json:"tenantId" bson:"tenantId"`
	Version       int                   `json:"version" bson:"version"`
	Rules         []FieldProtectionRule `json:"rules" bson:"rules"`
	Unmasking     UnmaskingPolicy       `json:"unmasking" bson:"unmasking"`
	Retention     RetentionPolicy       `json:"retention" bson:"retention"`
	EffectiveFrom time.Time             `json:"effectiveFrom" bson:"effectiveFrom"`

	// EffectiveTo is nil while the policy version is still current
	EffectiveTo *time.Time `json:"effectiveTo,omitempty" bson:"effectiveTo,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EffectiveAt reports whether the policy version is in force at the given instant
func (p *TenantSecurityPolicy) EffectiveAt(now time.Time) bool {
	if now.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || now.Before(*p.EffectiveTo)
}

// FindRule returns the rule for (entityType, fieldName), or nil when none exists
func (p *TenantSecurityPolicy) FindRule(entityType, fieldName string) *FieldProtectionRule {
	for i := range p.Rules {
		if p.Rules[i].EntityType == entityType && p.Rules[i].FieldName == fieldName {
			return &p.Rules[i]
		}
	}
	return nil
}
