package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEventLiftsContextValues(t *testing.T) {
	logger := NewStdoutAuditLogger()

	ctx := WithField(context.Background(), "credential", "holderName")
	ctx = WithUser(ctx, "user-1")
	ctx = WithEntity(ctx, "entity-1")

	event := NewAuditEvent(EventTypeFieldDisclose, OperationDisclose, "tenant-a")
	require.NoError(t, logger.LogEvent(ctx, event))

	assert.Equal(t, "credential", event.Context["entityType"])
	assert.Equal(t, "holderName", event.Context["fieldName"])
	assert.Equal(t, "user-1", event.Context["userId"])
	assert.Equal(t, "entity-1", event.Context["entityId"])
}

func TestLogEventKeepsExplicitContext(t *testing.T) {
	logger := NewStdoutAuditLogger()

	ctx := WithUser(context.Background(), "from-context")

	event := NewAuditEvent(EventTypeSessionCreate, OperationCreate, "tenant-a")
	event.Context["userId"] = "explicit"
	require.NoError(t, logger.LogEvent(ctx, event))

	assert.Equal(t, "explicit", event.Context["userId"])
}
