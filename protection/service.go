// Package protection orchestrates policy resolution, envelope encryption,
// tokenization and redaction into a single field protection facade.
package protection

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/audit"
	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/redact"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

// Service implements interfaces.FieldProtector. It performs no cryptography
// and no storage itself: policy comes from the resolver, ciphertext from the
// key service, tokens from the token engine, and the caller persists the
// resulting ProtectedValue and index entries.
type Service struct {
	policy interfaces.PolicyResolver
	keys   interfaces.KeyService
	tokens interfaces.TokenEngine
	audit  interfaces.AuditLogger
	logger zerolog.Logger

	protects    atomic.Uint64
	unprotects  atomic.Uint64
	disclosures atomic.Uint64
}

// NewService creates the field protection orchestrator. The audit logger is
// required: UnprotectForDisclosure is meaningless without one.
func NewService(policy interfaces.PolicyResolver, keys interfaces.KeyService, tokens interfaces.TokenEngine, auditLogger interfaces.AuditLogger) (*Service, error) {
	if policy == nil {
		return nil, fmt.Errorf("policy resolver is required for NewService")
	}
	if keys == nil {
		return nil, fmt.Errorf("key service is required for NewService")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token engine is required for NewService")
	}
	if auditLogger == nil {
		return nil, fmt.Errorf("audit logger is required for NewService")
	}
	return &Service{
		policy: policy,
		keys:   keys,
		tokens: tokens,
		audit:  auditLogger,
		logger: log.With().Str("component", "field_protector").Logger(),
	}, nil
}

// Protect resolves the field's rule and assembles a ProtectedValue. Exactly
// one of PlainValue/Encrypted is populated. Tokens are generated independent
// of the encryption decision, so search keeps working for encrypted fields.
func (s *Service) Protect(ctx context.Context, req types.ProtectRequest) (*types.ProtectedValue, error) {
	if req.TenantID == "" || req.EntityType == "" || req.FieldName == "" {
		return nil, fmt.Errorf("tenantID, entityType and fieldName are required")
	}

	rule, err := s.policy.GetFieldPolicy(ctx, req.TenantID, req.EntityType, req.FieldName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field policy: %w", err)
	}

	out := &types.ProtectedValue{
		TenantID:       req.TenantID,
		EntityType:     req.EntityType,
		FieldName:      req.FieldName,
		Classification: req.Classification,
		ProtectedAt:    time.Now().UTC(),
	}

	if rule.EnableEncryption && req.Value != "" {
		keyID, err := s.keys.GetCurrentKeyID(ctx, req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current key: %w", err)
		}
		cipherBytes, err := s.keys.Encrypt(ctx, req.TenantID, keyID, []byte(req.Value))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field value: %w", err)
		}
		out.Encrypted = &types.EncryptedData{
			CipherText:  base64.StdEncoding.EncodeToString(cipherBytes),
			KeyID:       keyID,
			Algorithm:   types.AlgorithmAESGCM,
			EncryptedAt: out.ProtectedAt,
		}
	} else {
		plain := req.Value
		out.PlainValue = &plain
	}

	if req.Classification.AtLeast(types.SensitiveFloor) {
		pattern := rule.RedactionPattern
		if pattern == "" {
			// Secret values without an explicit pattern always get the full
			// mask; anything partial is an explicit tenant decision
			if req.Classification.AtLeast(types.ClassificationSecret) {
				pattern = types.RedactFull
			} else {
				pattern = redact.DefaultPattern(rule.PIIType)
			}
		}
		out.RedactedDisplay = redact.Redact(req.Value, rule.PIIType, pattern)
	}

	if rule.EnableTokenization && req.Value != "" {
		tokens, err := s.tokens.GenerateTokens(ctx, req.TenantID, req.EntityType, req.FieldName, req.Value, rule.SearchStrategy)
		if err != nil {
			return nil, fmt.Errorf("failed to generate search tokens: %w", err)
		}
		out.SearchTokens = tokens
	}

	s.protects.Add(1)
	return out, nil
}

// Unprotect recovers the raw value for a routine internal read. No audit
// obligation attaches; disclosures to a person go through
// UnprotectForDisclosure instead.
func (s *Service) Unprotect(ctx context.Context, value *types.ProtectedValue) (string, error) {
	plain, err := s.recover(ctx, value)
	if err != nil {
		return "", err
	}
	s.unprotects.Add(1)
	return plain, nil
}

// UnprotectForDisclosure recovers the raw value as an audited disclosure.
// The decrypt and the audit call are treated as a unit: a decrypt that
// succeeds but fails to audit still returns the value, with the audit
// failure logged loudly and stamped as a degraded event, never dropped.
func (s *Service) UnprotectForDisclosure(ctx context.Context, value *types.ProtectedValue, disclosure types.DisclosureContext) (string, error) {
	if disclosure.UserID == "" {
		return "", fmt.Errorf("disclosure userID is required")
	}

	plain, err := s.recover(ctx, value)
	if err != nil {
		return "", err
	}

	record := &types.UnmaskAuditRecord{
		TenantID:        value.TenantID,
		EntityType:      value.EntityType,
		EntityID:        disclosure.EntityID,
		FieldName:       value.FieldName,
		Classification:  value.Classification,
		Reason:          disclosure.Reason,
		UserID:          disclosure.UserID,
		DurationSeconds: disclosure.DurationSeconds,
		Timestamp:       time.Now().UTC(),
	}
	if auditErr := s.audit.LogUnmaskOperation(ctx, record); auditErr != nil {
		s.logger.Error().
			Err(auditErr).
			Str("tenantId", value.TenantID).
			Str("fieldName", value.FieldName).
			Str("userId", disclosure.UserID).
			Msg("Value disclosed but audit write failed")

		event := audit.NewAuditEvent(audit.EventTypeFieldDisclose, audit.OperationDisclose, value.TenantID)
		event.Status = audit.StatusDegraded
		auditCtx := audit.WithField(ctx, value.EntityType, value.FieldName)
		auditCtx = audit.WithUser(auditCtx, disclosure.UserID)
		auditCtx = audit.WithEntity(auditCtx, disclosure.EntityID)
		if evErr := s.audit.LogEvent(auditCtx, event); evErr != nil {
			s.logger.Error().Err(evErr).Msg("Degraded-disclosure event also failed to log")
		}
	}

	s.disclosures.Add(1)
	return plain, nil
}

// GenerateSearchTokens tokenizes a query term or field value. The same code
// path serves indexing and querying, so the token sets intersect correctly.
func (s *Service) GenerateSearchTokens(ctx context.Context, tenantID, entityType, fieldName, value string, strategy types.SearchStrategy) ([]string, error) {
	return s.tokens.GenerateTokens(ctx, tenantID, entityType, fieldName, value, strategy)
}

// BuildSearchIndexEntries expands a value into index rows, one per token,
// for the caller to persist
func (s *Service) BuildSearchIndexEntries(ctx context.Context, tenantID, entityType, entityID, fieldName, value string, strategy types.SearchStrategy) ([]types.SearchIndexEntry, error) {
	tokens, err := s.tokens.GenerateTokens(ctx, tenantID, entityType, fieldName, value, strategy)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entries := make([]types.SearchIndexEntry, 0, len(tokens))
	for _, token := range tokens {
		entries = append(entries, types.SearchIndexEntry{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			EntityID:    entityID,
			EntityType:  entityType,
			FieldName:   fieldName,
			SearchToken: token,
			Strategy:    strategy,
			CreatedAt:   now,
		})
	}
	return entries, nil
}

// GetRedactedValue returns only the display string for a value
func (s *Service) GetRedactedValue(value string, piiType types.PIIType, pattern types.RedactionPattern) string {
	if pattern == "" {
		pattern = redact.DefaultPattern(piiType)
	}
	return redact.Redact(value, piiType, pattern)
}

// GetStats returns orchestrator operation counters
func (s *Service) GetStats() *types.ProtectionStats {
	return &types.ProtectionStats{
		TotalProtects:    s.protects.Load(),
		TotalUnprotects:  s.unprotects.Load(),
		TotalDisclosures: s.disclosures.Load(),
		LastOpTime:       time.Now().UTC(),
	}
}

// recover returns the raw value behind a ProtectedValue, decrypting when
// needed. Key-not-found and authentication failures propagate unwrapped so
// callers can branch on the sentinel.
func (s *Service) recover(ctx context.Context, value *types.ProtectedValue) (string, error) {
	if value == nil {
		return "", fmt.Errorf("protected value is required")
	}

	if value.Encrypted == nil {
		if value.PlainValue == nil {
			return "", fmt.Errorf("protected value has neither plaintext nor ciphertext")
		}
		return *value.PlainValue, nil
	}

	cipherBytes, err := base64.StdEncoding.DecodeString(value.Encrypted.CipherText)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext encoding: %w", types.ErrCryptoFailure)
	}

	plain, err := s.keys.Decrypt(ctx, value.TenantID, value.Encrypted.KeyID, cipherBytes)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s field: %w", value.FieldName, err)
	}
	return string(plain), nil
}
