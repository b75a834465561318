package token

import "strings"

// replacements are applied in order before vowel stripping; digraphs first so
// "ph" becomes "f" rather than "p"+"h"
var replacements = [...][2]string{
	{"ph", "f"},
	{"ck", "k"},
	{"sh", "s"},
	{"th", "t"},
	{"gh", "g"},
	{"x", "ks"},
	{"c", "k"},
	{"q", "k"},
	{"z", "s"},
	{"v", "f"},
}

// phoneticReduce collapses a normalized word to a coarse soundalike form:
// consonant equivalences, vowels dropped after the first character, runs of
// the same letter collapsed. Best-effort fuzzy matching only; this is a
// deliberately small table, not Double Metaphone.
func phoneticReduce(word string) string {
	if word == "" {
		return ""
	}

	s := word
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r[0], r[1])
	}

	var b strings.Builder
	b.Grow(len(s))
	var last rune
	for i, r := range s {
		isVowel := r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u' || r == 'y'
		if isVowel && i > 0 {
			continue
		}
		if r == last && i > 0 {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}
