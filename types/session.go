package types

import (
	"time"
)

// UnmaskSession is a bounded-lifetime grant of access to decrypted values for a
// specific user/entity/field set. Activity is derived from the clock: there is
// no stored "active" flag to drift from true time-based expiry, and revocation
// is implemented as eviction rather than a stored state.
type UnmaskSession struct {
	SessionID      string         `json:"sessionId" bson:"_id"`
	TenantID       string         `json:"tenantId" bson:"tenantId"`
	UserID         string         `json:"userId" bson:"userId"`
	EntityIDs      []string       `json:"entityIds" bson:"entityIds"`
	Fields         []string       `json:"fields" bson:"fields"`
	Classification Classification `json:"classification" bson:"classification"`
	UnmaskReason   string         `json:"unmaskReason,omitempty" bson:"unmaskReason,omitempty"`
	CreatedAt      time.Time      `json:"createdAt" bson:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt" bson:"expiresAt"`
	AccessCount    int64          `json:"accessCount" bson:"accessCount"`

	// UnmaskedValues maps entityID -> fieldName -> plaintext. Held in-session
	// only; never persisted beyond the session's lifetime.
	UnmaskedValues map[string]map[string]string `json:"-" bson:"-"`
}

// IsActive reports whether the session is still within its window at the given
// instant. Derived, never stored.
func (s *UnmaskSession) IsActive(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// SessionStats holds aggregate counters about unmask sessions. It intentionally
// carries no entity or field identifiers: stats must not leak which specific
// values were unmasked.
type SessionStats struct {
	ActiveSessions   int                    `json:"activeSessions" bson:"activeSessions"`
	CreatedToday     int                    `json:"createdToday" bson:"createdToday"`
	TotalAccesses    int64                  `json:"totalAccesses" bson:"totalAccesses"`
	ByClassification map[Classification]int `json:"byClassification" bson:"byClassification"`
}

// SessionGrant is returned on session creation: the session plus the opaque
// bearer token used to validate the session from another request or process.
type SessionGrant struct {
	Session *UnmaskSession `json:"session"`
	Token   string         `json:"token"`
}
