// Package redact derives display-safe masked strings from sensitive values.
// Redaction is pure string shaping: no policy lookups, no I/O, no state.
package redact

import (
	"net/url"
	"strings"

	"github.com/root-sector/identity-wallet-module-protection/types"
)

const (
	maskRune = '*'

	// fullMask is the fixed output of the Full pattern. Constant length by
	// contract: the mask must not leak the length of the underlying value.
	fullMask = "****"
)

// Redact masks a value for display using the given pattern. Unknown patterns
// fall through to the full mask, so a policy typo can only over-redact.
func Redact(value string, piiType types.PIIType, pattern types.RedactionPattern) string {
	if value == "" {
		return ""
	}

	switch pattern {
	case types.RedactShowLastFour:
		return showLastFour(value)
	case types.RedactShowFirstThree:
		return showFirstThree(value)
	case types.RedactShowDomain:
		return showDomain(value)
	default:
		return fullMask
	}
}

// DefaultPattern maps each PII type to its display pattern. Unknown PII
// types get the full mask.
func DefaultPattern(piiType types.PIIType) types.RedactionPattern {
	switch piiType {
	case types.PIITypeEmail:
		return types.RedactShowDomain
	case types.PIITypePhone, types.PIITypeAccount, types.PIITypeCard, types.PIITypeTaxID:
		return types.RedactShowLastFour
	case types.PIITypeName:
		return types.RedactShowFirstThree
	default:
		return types.RedactFull
	}
}

// showLastFour keeps the last 4 characters. Values of 4 characters or fewer
// are masked entirely.
func showLastFour(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat(string(maskRune), len(runes))
	}
	return strings.Repeat(string(maskRune), len(runes)-4) + string(runes[len(runes)-4:])
}

// showFirstThree keeps the first 3 characters. Values of 3 characters or
// fewer are returned unmasked, a documented permissive edge: tenants select
// this pattern for fields like given names where the prefix is the point.
func showFirstThree(value string) string {
	runes := []rune(value)
	if len(runes) <= 3 {
		return value
	}
	return string(runes[:3]) + strings.Repeat(string(maskRune), len(runes)-3)
}

// showDomain masks the local part of an email address, keeping the domain
// verbatim. Absolute URIs keep only their host. Anything else falls back to
// the last-four mask rather than guessing at structure.
func showDomain(value string) string {
	at := strings.LastIndex(value, "@")
	if at > 0 && at < len(value)-1 {
		return strings.Repeat(string(maskRune), 3) + value[at:]
	}

	if u, err := url.Parse(value); err == nil && u.IsAbs() && u.Host != "" {
		return u.Host
	}

	return showLastFour(value)
}
