package types

import (
	"time"
)

// AuditEvent represents a protection-related audit event
type AuditEvent struct {
	ID        string                 `json:"id" bson:"_id"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	EventType string                 `json:"event_type" bson:"event_type"`
	Operation string                 `json:"operation" bson:"operation"`
	Status    string                 `json:"status" bson:"status"`
	TenantID  string                 `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Context   map[string]string      `json:"context" bson:"context"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// UnmaskAuditRecord captures a single disclosure of a protected value
type UnmaskAuditRecord struct {
	TenantID        string         `json:"tenantId" bson:"tenantId"`
	EntityType      string         `json:"entityType" bson:"entityType"`
	EntityID        string         `json:"entityId" bson:"entityId"`
	FieldName       string         `json:"fieldName" bson:"fieldName"`
	Classification  Classification `json:"classification" bson:"classification"`
	Reason          string         `json:"reason" bson:"reason"`
	UserID          string         `json:"userId" bson:"userId"`
	DurationSeconds int            `json:"durationSeconds" bson:"durationSeconds"`
	Timestamp       time.Time      `json:"timestamp" bson:"timestamp"`
}

// AccessEntry captures a routine read through an unmask session
type AccessEntry struct {
	SessionID string    `json:"sessionId" bson:"sessionId"`
	TenantID  string    `json:"tenantId" bson:"tenantId"`
	UserID    string    `json:"userId" bson:"userId"`
	EntityID  string    `json:"entityId" bson:"entityId"`
	FieldName string    `json:"fieldName" bson:"fieldName"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}
