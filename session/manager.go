// Package session implements the time-limited unmask session manager: policy
// gated creation, in-memory plaintext grants, bearer token validation and
// revocation by eviction.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

const (
	signingKeySize = 32

	// defaultSweepInterval bounds memory held by expired sessions. The sweep
	// never changes observable state: expiry is always derived from the clock
	// on read, the sweep only reclaims entries already past their window.
	defaultSweepInterval = time.Minute
)

// sessionEntry pairs a session with its own lock so concurrent reads against
// one session serialize without contending with other sessions
type sessionEntry struct {
	mu      sync.Mutex
	session *types.UnmaskSession
}

// Manager implements interfaces.SessionManager. Sessions live only in this
// process: plaintext never touches storage, and a restart revokes everything,
// which is the safe failure mode for disclosure grants.
type Manager struct {
	policy     interfaces.PolicyResolver
	protector  interfaces.FieldProtector
	source     interfaces.ProtectedValueSource
	audit      interfaces.AuditLogger
	signingKey []byte
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	// pending counts reservations for creations that passed the gates but are
	// still in their decrypt phase, so racing creations cannot both slip past
	// the concurrency cap
	pending map[string]int

	// createdByDay counts creations per user and classification for the
	// current day, for stats and per-classification daily ceilings
	createdMu    sync.Mutex
	createdDay   string
	createdByDay map[string]map[types.Classification]int

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewManager creates a session manager. A nil signing key generates an
// ephemeral one, which matches the in-memory session lifetime: tokens cannot
// outlive the sessions they name.
func NewManager(policy interfaces.PolicyResolver, protector interfaces.FieldProtector, source interfaces.ProtectedValueSource, auditLogger interfaces.AuditLogger, signingKey []byte) (*Manager, error) {
	if policy == nil {
		return nil, fmt.Errorf("policy resolver is required for NewManager")
	}
	if protector == nil {
		return nil, fmt.Errorf("field protector is required for NewManager")
	}
	if source == nil {
		return nil, fmt.Errorf("protected value source is required for NewManager")
	}

	if signingKey == nil {
		signingKey = make([]byte, signingKeySize)
		if _, err := rand.Read(signingKey); err != nil {
			return nil, fmt.Errorf("failed to generate session signing key: %w", err)
		}
	}

	m := &Manager{
		policy:       policy,
		protector:    protector,
		source:       source,
		audit:        auditLogger,
		signingKey:   signingKey,
		logger:       log.With().Str("component", "session_manager").Logger(),
		now:          time.Now,
		sessions:     make(map[string]*sessionEntry),
		pending:      make(map[string]int),
		createdByDay: make(map[string]map[types.Classification]int),
		stopSweep:    make(chan struct{}),
	}
	go m.sweepLoop(defaultSweepInterval)
	return m, nil
}

// Shutdown stops the background sweep. Sessions remain valid until expiry.
func (m *Manager) Shutdown() {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
}

// CreateSession validates tenant policy before any decryption, then decrypts
// the requested values into an in-memory session. Validation order is fixed:
// request shape, reason, MFA, TTL cap, concurrency, daily ceiling. Only after
// every gate passes does the first decrypt call happen.
func (m *Manager) CreateSession(ctx context.Context, req types.CreateSessionRequest) (*types.SessionGrant, error) {
	if err := m.validateShape(&req); err != nil {
		return nil, err
	}

	unmasking, err := m.policy.GetUnmaskingPolicy(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unmasking policy: %w", err)
	}

	classification, fieldTTLCap, reasonRequired, err := m.resolveFieldGates(ctx, &req, unmasking)
	if err != nil {
		return nil, err
	}

	ve := types.NewValidationError()
	if reasonRequired && req.Reason == "" {
		ve.Add("reason", "a reason is required to unmask the requested fields")
	}
	if unmasking.RequireMFAForUnmask && !req.MFAVerified {
		ve.Add("mfaVerified", "multi-factor verification is required to unmask")
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if req.TTLSeconds == 0 {
		ttl = unmasking.GetEffectiveDefaultDuration()
	}
	maxTTL := unmasking.GetEffectiveMaxDuration()
	if fieldTTLCap > 0 && fieldTTLCap < maxTTL {
		maxTTL = fieldTTLCap
	}
	if ttl <= 0 {
		ve.Add("ttlSeconds", "must be positive")
	} else if ttl > maxTTL {
		ve.Add("ttlSeconds", fmt.Sprintf("must not exceed %d seconds", int(maxTTL.Seconds())))
	}
	if ve.HasViolations() {
		return nil, ve
	}

	// The concurrency and daily-ceiling slots are claimed atomically before
	// the decrypt phase, so two racing creations cannot both pass the gate.
	// A failed creation returns its reservation.
	if err := m.reserveSlot(req.UserID, classification, unmasking); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			m.releaseSlot(req.UserID, classification)
		}
	}()

	// All gates passed; decryption may start
	now := m.now()
	values := make(map[string]map[string]string, len(req.EntityIDs))
	for _, entityID := range req.EntityIDs {
		perEntity := make(map[string]string, len(req.Fields))
		for _, fieldName := range req.Fields {
			protected, err := m.source.GetProtectedValue(ctx, req.TenantID, req.EntityType, entityID, fieldName)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s/%s: %w", entityID, fieldName, err)
			}
			plain, err := m.protector.UnprotectForDisclosure(ctx, protected, types.DisclosureContext{
				UserID:          req.UserID,
				EntityID:        entityID,
				Reason:          req.Reason,
				DurationSeconds: int(ttl.Seconds()),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to unmask %s/%s: %w", entityID, fieldName, err)
			}
			perEntity[fieldName] = plain
		}
		values[entityID] = perEntity
	}

	session := &types.UnmaskSession{
		SessionID:      uuid.New().String(),
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		EntityIDs:      req.EntityIDs,
		Fields:         req.Fields,
		Classification: classification,
		UnmaskReason:   req.Reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		UnmaskedValues: values,
	}

	token, err := m.issueToken(session)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.SessionID] = &sessionEntry{session: session}
	m.settlePendingLocked(req.UserID)
	m.mu.Unlock()
	committed = true

	m.logger.Info().
		Str("tenantId", req.TenantID).
		Str("sessionId", session.SessionID).
		Str("userId", req.UserID).
		Int("entities", len(req.EntityIDs)).
		Int("fields", len(req.Fields)).
		Time("expiresAt", session.ExpiresAt).
		Msg("Unmask session created")

	if m.audit != nil {
		event := audit.NewAuditEvent(audit.EventTypeSessionCreate, audit.OperationCreate, req.TenantID)
		event.Context["sessionId"] = session.SessionID
		event.Metadata = map[string]interface{}{
			"classification": string(classification),
			"ttlSeconds":     int(ttl.Seconds()),
		}
		if err := m.audit.LogEvent(audit.WithUser(ctx, req.UserID), event); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to audit session creation")
		}
	}

	return &types.SessionGrant{Session: snapshotSession(session), Token: token}, nil
}

// GetUnmaskedValue returns a cached plaintext from an active session. No
// re-decryption happens here; expired or revoked sessions fail.
func (m *Manager) GetUnmaskedValue(ctx context.Context, sessionID, entityID, fieldName string) (string, error) {
	entry := m.lookup(sessionID)
	if entry == nil {
		return "", types.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.session.IsActive(m.now()) {
		return "", types.ErrSessionExpired
	}

	perEntity, ok := entry.session.UnmaskedValues[entityID]
	if !ok {
		return "", fmt.Errorf("entity %s not covered by session: %w", entityID, types.ErrNotFound)
	}
	plain, ok := perEntity[fieldName]
	if !ok {
		return "", fmt.Errorf("field %s not covered by session: %w", fieldName, types.ErrNotFound)
	}

	entry.session.AccessCount++

	if m.audit != nil {
		accessErr := m.audit.LogAccess(ctx, &types.AccessEntry{
			SessionID: sessionID,
			TenantID:  entry.session.TenantID,
			UserID:    entry.session.UserID,
			EntityID:  entityID,
			FieldName: fieldName,
			Timestamp: m.now(),
		})
		if accessErr != nil {
			m.logger.Warn().Err(accessErr).Str("sessionId", sessionID).Msg("Failed to audit session access")
		}
	}

	return plain, nil
}

// ValidateToken resolves a session by its opaque bearer token. The token is
// a signed claim on the session id, not the session itself; the session must
// still exist and be active.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*types.UnmaskSession, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", types.ErrNotFound)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("malformed session token: %w", types.ErrNotFound)
	}

	entry := m.lookup(claims.Subject)
	if entry == nil {
		return nil, types.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.session.IsActive(m.now()) {
		return nil, types.ErrSessionExpired
	}
	return snapshotSession(entry.session), nil
}

// RevokeSession evicts a session immediately. Idempotent: revoking an
// absent or expired session is not an error.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	entry, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !existed {
		return nil
	}

	m.logger.Info().Str("sessionId", sessionID).Msg("Unmask session revoked")

	if m.audit != nil {
		event := audit.NewAuditEvent(audit.EventTypeSessionRevoke, audit.OperationRevoke, entry.session.TenantID)
		event.Context["sessionId"] = sessionID
		if err := m.audit.LogEvent(audit.WithUser(ctx, entry.session.UserID), event); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to audit session revocation")
		}
	}
	return nil
}

// RevokeAllSessionsForUser evicts every session owned by the user. Idempotent.
func (m *Manager) RevokeAllSessionsForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	var revoked []string
	for id, entry := range m.sessions {
		if entry.session.UserID == userID {
			revoked = append(revoked, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if len(revoked) > 0 {
		m.logger.Info().Str("userId", userID).Int("count", len(revoked)).Msg("All unmask sessions revoked for user")
	}
	return nil
}

// ExtendSession lengthens the session window. The total window measured from
// creation must not exceed the tenant's maximum unmask duration.
func (m *Manager) ExtendSession(ctx context.Context, sessionID string, additionalSeconds int) error {
	if additionalSeconds <= 0 {
		ve := types.NewValidationError()
		ve.Add("additionalSeconds", "must be positive")
		return ve
	}

	entry := m.lookup(sessionID)
	if entry == nil {
		return types.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.session.IsActive(m.now()) {
		return types.ErrSessionExpired
	}

	unmasking, err := m.policy.GetUnmaskingPolicy(ctx, entry.session.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve unmasking policy: %w", err)
	}

	newExpiry := entry.session.ExpiresAt.Add(time.Duration(additionalSeconds) * time.Second)
	if newExpiry.Sub(entry.session.CreatedAt) > unmasking.GetEffectiveMaxDuration() {
		ve := types.NewValidationError()
		ve.Add("additionalSeconds", fmt.Sprintf("total session duration must not exceed %d seconds",
			int(unmasking.GetEffectiveMaxDuration().Seconds())))
		return ve
	}

	entry.session.ExpiresAt = newExpiry
	return nil
}

// GetSessionStats returns aggregate counters for one user, or all users when
// userID is empty. Counters only: no entity or field identifiers leak here.
func (m *Manager) GetSessionStats(ctx context.Context, userID string) (*types.SessionStats, error) {
	now := m.now()
	stats := &types.SessionStats{
		ByClassification: make(map[types.Classification]int),
	}

	m.mu.RLock()
	for _, entry := range m.sessions {
		entry.mu.Lock()
		s := entry.session
		if userID == "" || s.UserID == userID {
			if s.IsActive(now) {
				stats.ActiveSessions++
				stats.ByClassification[s.Classification]++
			}
			stats.TotalAccesses += s.AccessCount
		}
		entry.mu.Unlock()
	}
	m.mu.RUnlock()

	m.createdMu.Lock()
	if m.createdDay == now.UTC().Format(time.DateOnly) {
		if userID == "" {
			for _, perClass := range m.createdByDay {
				for _, n := range perClass {
					stats.CreatedToday += n
				}
			}
		} else {
			for _, n := range m.createdByDay[userID] {
				stats.CreatedToday += n
			}
		}
	}
	m.createdMu.Unlock()

	return stats, nil
}

// validateShape checks the request fields that need no policy lookup
func (m *Manager) validateShape(req *types.CreateSessionRequest) error {
	ve := types.NewValidationError()
	if req.TenantID == "" {
		ve.Add("tenantId", "cannot be blank")
	}
	if req.UserID == "" {
		ve.Add("userId", "cannot be blank")
	}
	if req.EntityType == "" {
		ve.Add("entityType", "cannot be blank")
	}
	if len(req.EntityIDs) == 0 {
		ve.Add("entityIds", "at least one entity is required")
	}
	if len(req.Fields) == 0 {
		ve.Add("fields", "at least one field is required")
	}
	if req.TTLSeconds < 0 {
		ve.Add("ttlSeconds", "must not be negative")
	}
	if ve.HasViolations() {
		return ve
	}
	return nil
}

// resolveFieldGates folds the per-field rules into session-level gates: the
// highest minimum classification, the tightest per-field TTL cap and whether
// any rule or the tenant threshold demands a reason
func (m *Manager) resolveFieldGates(ctx context.Context, req *types.CreateSessionRequest, unmasking *types.UnmaskingPolicy) (types.Classification, time.Duration, bool, error) {
	classification := types.ClassificationOfficial
	var ttlCap time.Duration
	reasonRequired := false

	for _, fieldName := range req.Fields {
		rule, err := m.policy.GetFieldPolicy(ctx, req.TenantID, req.EntityType, fieldName)
		if err != nil {
			return "", 0, false, fmt.Errorf("failed to resolve policy for field %s: %w", fieldName, err)
		}
		if rule.MinimumClassification.Rank() > classification.Rank() {
			classification = rule.MinimumClassification
		}
		if rule.RequireReasonForUnmask {
			reasonRequired = true
		}
		if rule.MaxUnmaskDurationSeconds > 0 {
			fieldCap := time.Duration(rule.MaxUnmaskDurationSeconds) * time.Second
			if ttlCap == 0 || fieldCap < ttlCap {
				ttlCap = fieldCap
			}
		}
	}

	if unmasking.RequireReasonThreshold != "" && classification.AtLeast(unmasking.RequireReasonThreshold) {
		reasonRequired = true
	}

	return classification, ttlCap, reasonRequired, nil
}

// reserveSlot claims a concurrency slot and a daily creation slot for the
// user in one step. Pending reservations count against the cap, which closes
// the window where two racing creations both pass the gates and both
// activate past MaxConcurrentSessions.
func (m *Manager) reserveSlot(userID string, classification types.Classification, unmasking *types.UnmaskingPolicy) error {
	now := m.now()
	maxConcurrent := unmasking.GetEffectiveMaxConcurrent()

	m.mu.Lock()
	active := m.pending[userID]
	for _, entry := range m.sessions {
		entry.mu.Lock()
		if entry.session.UserID == userID && entry.session.IsActive(now) {
			active++
		}
		entry.mu.Unlock()
	}
	if active >= maxConcurrent {
		m.mu.Unlock()
		return fmt.Errorf("user %s has %d active or pending unmask sessions (limit %d): %w",
			userID, active, maxConcurrent, types.ErrCapacityExceeded)
	}
	m.pending[userID]++
	m.mu.Unlock()

	m.createdMu.Lock()
	m.rollDayLocked()
	if limit := unmasking.MaxUnmasksByClassification[classification]; limit > 0 &&
		m.createdByDay[userID][classification] >= limit {
		m.createdMu.Unlock()
		m.releasePending(userID)
		return fmt.Errorf("daily %s unmask ceiling of %d reached: %w", classification, limit, types.ErrCapacityExceeded)
	}
	perUser, ok := m.createdByDay[userID]
	if !ok {
		perUser = make(map[types.Classification]int)
		m.createdByDay[userID] = perUser
	}
	perUser[classification]++
	m.createdMu.Unlock()
	return nil
}

// releaseSlot returns an unused reservation after a failed creation
func (m *Manager) releaseSlot(userID string, classification types.Classification) {
	m.releasePending(userID)

	m.createdMu.Lock()
	if perUser, ok := m.createdByDay[userID]; ok && perUser[classification] > 0 {
		perUser[classification]--
	}
	m.createdMu.Unlock()
}

func (m *Manager) releasePending(userID string) {
	m.mu.Lock()
	m.settlePendingLocked(userID)
	m.mu.Unlock()
}

// settlePendingLocked drops one pending reservation; the caller holds m.mu
func (m *Manager) settlePendingLocked(userID string) {
	if m.pending[userID] <= 1 {
		delete(m.pending, userID)
	} else {
		m.pending[userID]--
	}
}

// rollDayLocked resets the daily counters when the UTC day changes
func (m *Manager) rollDayLocked() {
	day := m.now().UTC().Format(time.DateOnly)
	if m.createdDay != day {
		m.createdDay = day
		m.createdByDay = make(map[string]map[types.Classification]int)
	}
}

// issueToken signs a bearer token naming the session. Expiry is not baked
// into the token: the session table is the single authority on activity, and
// ExtendSession must keep previously issued tokens working.
func (m *Manager) issueToken(session *types.UnmaskSession) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  session.SessionID,
		IssuedAt: jwt.NewNumericDate(session.CreatedAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// snapshotSession copies the session so callers never share memory with
// state the manager keeps mutating under the entry lock
func snapshotSession(s *types.UnmaskSession) *types.UnmaskSession {
	out := *s
	out.EntityIDs = append([]string(nil), s.EntityIDs...)
	out.Fields = append([]string(nil), s.Fields...)
	out.UnmaskedValues = make(map[string]map[string]string, len(s.UnmaskedValues))
	for entityID, perEntity := range s.UnmaskedValues {
		fields := make(map[string]string, len(perEntity))
		for fieldName, value := range perEntity {
			fields[fieldName] = value
		}
		out.UnmaskedValues[entityID] = fields
	}
	return &out
}

// lookup fetches a session entry under the read lock
func (m *Manager) lookup(sessionID string) *sessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// sweepLoop reclaims expired sessions to bound memory
func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for id, entry := range m.sessions {
				entry.mu.Lock()
				expired := !entry.session.IsActive(now)
				entry.mu.Unlock()
				if expired {
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
