package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii lowercases", "Neo", "neo"},
		{"all caps", "NEO", "neo"},
		{"interior whitespace collapses", "the  one\tand only", "the one and only"},
		{"surrounding whitespace trims", "  trinity  ", "trinity"},
		{"fullwidth folds to ascii", "ｎｅｏ", "neo"},
		{"cyrillic homoglyphs fold", "Ｎео", "neo"}, // fullwidth N, Cyrillic е, Cyrillic о
		{"greek omicron folds", "neο", "neo"},
		{"zero width joiner stripped", "ne‍o", "neo"},
		{"soft hyphen stripped", "ne­o", "neo"},
		{"compatibility ligature expands", "ﬁre", "fire"},
		{"empty stays empty", "", ""},
		{"only whitespace becomes empty", " \t\n ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Neo", "NEO", "  spaced   out  ", "ｗｉｄｅ", "Ｎео",
		"сурillіс", "ﬁre", "ne‍o", "",
		string([]byte{0xff, 0x41, 0xfe}),
		strings.Repeat("é", 32),
		strings.Repeat("A", 32),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeTotalOnInvalidUTF8(t *testing.T) {
	// Invalid bytes must be escaped deterministically, never dropped or
	// rejected.
	in := string([]byte{0xff})
	got := Normalize(in)
	assert.Equal(t, `\xff`, got)
	assert.Equal(t, got, Normalize(got))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Neo", "NEO"))
	assert.True(t, Equal("Neo", "ｎｅｏ"))
	assert.False(t, Equal("neo", "trinity"))
}
