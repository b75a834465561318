// Package token derives deterministic, keyed, non-reversible search tokens
// from field values so an index can answer membership queries without
// decrypting anything.
package token

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector/identity-wallet-module-protection/interfaces"
	"github.com/root-sector/identity-wallet-module-protection/types"
)

const (
	// DefaultMinPrefixLength is the shortest indexed prefix. Shorter prefixes
	// match too much of the corpus to be useful and inflate the index.
	DefaultMinPrefixLength = 3

	// DefaultMaxPrefixLength caps per-word prefix expansion. Unbounded prefix
	// generation over long inputs is a cost and abuse risk.
	DefaultMaxPrefixLength = 10

	// maxInputWords bounds token fan-out for pathological inputs
	maxInputWords = 32
)

// Engine implements interfaces.TokenEngine. Hashing is delegated to the key
// service so the tenant pepper never enters this package.
type Engine struct {
	keys      interfaces.KeyService
	minPrefix int
	maxPrefix int
	logger    zerolog.Logger
}

// NewEngine creates a token engine with default prefix bounds
func NewEngine(keys interfaces.KeyService) (*Engine, error) {
	if keys == nil {
		return nil, fmt.Errorf("key service is required for NewEngine")
	}
	return &Engine{
		keys:      keys,
		minPrefix: DefaultMinPrefixLength,
		maxPrefix: DefaultMaxPrefixLength,
		logger:    log.With().Str("component", "token_engine").Logger(),
	}, nil
}

// Normalize exposes the shared normalization pipeline
func (e *Engine) Normalize(value string) string {
	return Normalize(value)
}

// GenerateTokens tokenizes a value for a field under the given strategy. The
// context tag folds strategy, entity type and field name into every hash, so
// identical raw substrings in different semantic contexts never produce
// colliding tokens.
func (e *Engine) GenerateTokens(ctx context.Context, tenantID, entityType, fieldName, value string, strategy types.SearchStrategy) ([]string, error) {
	if tenantID == "" || entityType == "" || fieldName == "" {
		return nil, fmt.Errorf("tenantID, entityType and fieldName are required")
	}

	normalized := Normalize(value)
	if normalized == "" {
		return nil, nil
	}

	var inputs []string
	switch strategy {
	case types.SearchExact:
		inputs = []string{normalized}
	case types.SearchPrefix:
		inputs = e.prefixInputs(normalized)
	case types.SearchPhonetic:
		inputs = phoneticInputs(normalized)
	case types.SearchName:
		inputs = e.nameInputs(normalized)
	default:
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}

	contextTag := fmt.Sprintf("%s|%s|%s", strategy, entityType, fieldName)

	tokens := make([]string, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		if _, dup := seen[input]; dup {
			continue
		}
		seen[input] = struct{}{}

		token, err := e.keys.GenerateKeyedHash(ctx, tenantID, contextTag, []byte(input))
		if err != nil {
			return nil, fmt.Errorf("failed to hash search token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// prefixInputs expands each word into its leading substrings between the
// configured bounds. Words longer than the maximum also contribute their full
// form, so exact matches on long values still work.
func (e *Engine) prefixInputs(normalized string) []string {
	var inputs []string
	for _, word := range words(normalized) {
		runes := []rune(word)
		for l := e.minPrefix; l <= len(runes) && l <= e.maxPrefix; l++ {
			inputs = append(inputs, string(runes[:l]))
		}
		if len(runes) > e.maxPrefix {
			inputs = append(inputs, word)
		}
	}
	return inputs
}

// phoneticInputs reduces each word to its soundalike form
func phoneticInputs(normalized string) []string {
	var inputs []string
	for _, word := range words(normalized) {
		if reduced := phoneticReduce(word); reduced != "" {
			inputs = append(inputs, reduced)
		}
	}
	return inputs
}

// nameInputs is the union used for person names: per-word prefixes, per-word
// phonetic forms, an initials token and the full normalized name.
func (e *Engine) nameInputs(normalized string) []string {
	inputs := e.prefixInputs(normalized)
	inputs = append(inputs, phoneticInputs(normalized)...)

	ws := words(normalized)
	if len(ws) > 1 {
		var initials strings.Builder
		for _, w := range ws {
			initials.WriteString(w[:1])
		}
		inputs = append(inputs, initials.String())
	}
	inputs = append(inputs, normalized)
	return inputs
}

// words splits a normalized value, bounding fan-out for degenerate inputs
func words(normalized string) []string {
	ws := strings.Fields(normalized)
	if len(ws) > maxInputWords {
		ws = ws[:maxInputWords]
	}
	return ws
}
