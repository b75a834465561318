// Package audit provides audit logging for field protection operations
package audit

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys for protection operations
const (
	// Core context keys
	KeyTenantID       ContextKey = "tenantId"       // tenant whose data is touched
	KeyEntityType     ContextKey = "entityType"     // entity type being operated on
	KeyEntityID       ContextKey = "entityId"       // entity identifier
	KeyFieldName      ContextKey = "fieldName"      // field being protected/unprotected
	KeyClassification ContextKey = "classification" // data classification of the field
	KeyKeyID          ContextKey = "keyId"          // encryption key identifier
	KeyError          ContextKey = "error"          // error message if operation failed

	// Disclosure context keys
	KeyUserID    ContextKey = "userId"    // user performing the disclosure
	KeySessionID ContextKey = "sessionId" // unmask session identifier
	KeyReason    ContextKey = "reason"    // disclosure reason
	KeyOperation ContextKey = "operation" // operation being performed
)

// contextKeys lists the keys LogEvent lifts off the context and emits
var contextKeys = []ContextKey{
	KeyEntityType, KeyEntityID, KeyFieldName, KeyClassification,
	KeyKeyID, KeyUserID, KeySessionID, KeyReason, KeyError,
}
