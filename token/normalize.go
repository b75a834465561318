package token

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes to NFD, drops combining marks, recomposes.
// "José" and "Jose" become the same byte sequence.
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a value for tokenization: lowercase, diacritics
// stripped, everything outside [a-z0-9\s] removed, whitespace collapsed and
// trimmed. Indexing and querying must run the identical pipeline or recall
// silently breaks, so both sides call this one function. Idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(value string) string {
	lowered := strings.ToLower(value)

	stripped, _, err := transform.String(diacriticStripper, lowered)
	if err != nil {
		// Transform failure leaves diacritics in place; the filter below
		// still produces a deterministic result
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	lastSpace := true
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}
