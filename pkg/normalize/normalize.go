// Package normalize derives the canonical comparable form of a nickname.
// Uniqueness across the directory is judged on this form only; the display
// form is stored untouched.
package normalize

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// confusables maps visually confusable runes to a single representative so
// that two nicknames a human would consider identical compare equal. The set
// covers the Cyrillic and Greek homoglyphs seen in real registrations; it is
// intentionally curated rather than the full Unicode confusables table.
var confusables = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y',
	'х': 'x', 'і': 'i', 'ј': 'j', 'ѕ': 's', 'ԁ': 'd', 'ѡ': 'w',
	'ь': 'b', 'м': 'm', 'т': 't', 'н': 'h', 'к': 'k', 'в': 'b',
	// Greek
	'α': 'a', 'ο': 'o', 'ν': 'v', 'ι': 'i', 'κ': 'k', 'ρ': 'p',
	'τ': 't', 'υ': 'u', 'χ': 'x',
}

// zeroWidth runes render as nothing and are dropped outright; leaving them in
// would let two identical-looking nicknames normalize differently.
var zeroWidth = map[rune]bool{
	'\u200b': true, // zero width space
	'\u200c': true, // zero width non-joiner
	'\u200d': true, // zero width joiner
	'\u2060': true, // word joiner
	'\ufeff': true, // BOM
	'\u00ad': true, // soft hyphen
}

var foldCase = cases.Fold()

// Normalize returns the canonical comparable form of raw. It is total: input
// that is not valid UTF-8 is escaped by a fixed rule rather than rejected, so
// the function never fails. It is idempotent: Normalize(Normalize(x)) ==
// Normalize(x).
//
// Pipeline: escape invalid bytes, NFKC, width fold, case fold, confusable
// fold with zero-width stripping, whitespace collapsing, and a final NFKC so
// folded sequences recompose deterministically.
func Normalize(raw string) string {
	s := escapeInvalid(raw)
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	s = foldCase.String(s)
	s = foldConfusables(s)
	s = collapseSpace(s)
	return norm.NFKC.String(s)
}

// Equal reports whether two raw nicknames share a normalized form.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// escapeInvalid rewrites each byte that is not part of a valid UTF-8 sequence
// as \xNN. The output is always valid UTF-8, so a second pass is a no-op.
func escapeInvalid(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\x%02x`, s[i])
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

func foldConfusables(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if zeroWidth[r] {
			continue
		}
		if rep, ok := confusables[r]; ok {
			r = rep
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collapseSpace trims the ends and folds any run of Unicode whitespace to a
// single ASCII space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
