// Package audit provides audit logging for field protection operations
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/root-sector/identity-wallet-module-protection/types"
	"github.com/rs/zerolog/log"
)

// Event types and operations
const (
	EventTypeFieldProtect   = "field.protect"
	EventTypeFieldUnprotect = "field.unprotect"
	EventTypeFieldDisclose  = "field.disclose"
	EventTypeSessionCreate  = "session.create"
	EventTypeSessionRevoke  = "session.revoke"
	EventTypeSessionAccess  = "session.access"
	EventTypeKeyRotate      = "key.rotate"
	EventTypePolicyUpdate   = "policy.update"

	OperationProtect   = "protect"
	OperationUnprotect = "unprotect"
	OperationDisclose  = "disclose"
	OperationCreate    = "create"
	OperationRevoke    = "revoke"
	OperationAccess    = "access"
	OperationRotate    = "rotate"
	OperationUpdate    = "update"

	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusDegraded = "degraded"
)

// StdoutAuditLogger implements interfaces.AuditLogger writing structured
// events to the process log. Durable audit persistence is an external
// collaborator; this logger is the default sink and the test double.
type StdoutAuditLogger struct{}

// NewStdoutAuditLogger creates a new stdout audit logger
func NewStdoutAuditLogger() *StdoutAuditLogger {
	return &StdoutAuditLogger{}
}

// LogEvent logs an audit event with essential context information
func (l *StdoutAuditLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Context == nil {
		event.Context = make(map[string]string)
	}

	// Lift identity set via WithField/WithUser/WithEntity off the context.
	// Values set explicitly on the event win.
	for _, key := range contextKeys {
		if event.Context[string(key)] != "" {
			continue
		}
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			event.Context[string(key)] = v
		}
	}

	logEvent := log.Info().
		Str("auditId", event.ID).
		Time("timestamp", event.Timestamp).
		Str("eventType", event.EventType).
		Str("operation", event.Operation).
		Str("status", event.Status).
		Str("tenantId", event.TenantID)

	for _, key := range contextKeys {
		if v := event.Context[string(key)]; v != "" {
			logEvent = logEvent.Str(string(key), v)
		}
	}

	logEvent.Msg("Audit event")
	return nil
}

// LogUnmaskOperation records a disclosure of a protected value
func (l *StdoutAuditLogger) LogUnmaskOperation(ctx context.Context, record *types.UnmaskAuditRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	log.Info().
		Str("tenantId", record.TenantID).
		Str("entityType", record.EntityType).
		Str("entityId", record.EntityID).
		Str("fieldName", record.FieldName).
		Str("classification", string(record.Classification)).
		Str("userId", record.UserID).
		Str("reason", record.Reason).
		Int("durationSeconds", record.DurationSeconds).
		Time("timestamp", record.Timestamp).
		Msg("Unmask operation")
	return nil
}

// LogAccess records a routine read through an unmask session
func (l *StdoutAuditLogger) LogAccess(ctx context.Context, entry *types.AccessEntry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	log.Debug().
		Str("sessionId", entry.SessionID).
		Str("tenantId", entry.TenantID).
		Str("userId", entry.UserID).
		Str("entityId", entry.EntityID).
		Str("fieldName", entry.FieldName).
		Time("timestamp", entry.Timestamp).
		Msg("Session access")
	return nil
}

// GetEvents returns events matching the filter (not supported for stdout logger)
func (l *StdoutAuditLogger) GetEvents(ctx context.Context, filters map[string]interface{}) ([]*types.AuditEvent, error) {
	return nil, fmt.Errorf("getting events not supported for stdout logger")
}

// NewAuditEvent creates a new audit event with essential fields
func NewAuditEvent(eventType, operation, tenantID string) *types.AuditEvent {
	return &types.AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Operation: operation,
		Status:    StatusSuccess,
		TenantID:  tenantID,
		Context:   make(map[string]string),
	}
}

// WithField adds field identity to the context
func WithField(ctx context.Context, entityType, fieldName string) context.Context {
	ctx = context.WithValue(ctx, KeyEntityType, entityType)
	ctx = context.WithValue(ctx, KeyFieldName, fieldName)
	return ctx
}

// WithUser adds the acting user to the context
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, KeyUserID, userID)
}

// WithEntity adds the entity identifier to the context
func WithEntity(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, KeyEntityID, entityID)
}
