package domain

import (
	"unicode/utf8"

	dErrors "namedir/pkg/domain-errors"
)

// MaxNicknameLength bounds the display form of a nickname in runes. The
// resolver contracts store nicknames as bytes32-backed short strings, so the
// off-chain directory enforces the same ceiling.
const MaxNicknameLength = 32

// Nickname is the display form of a human-chosen name as registered on-chain.
// Uniqueness is never judged on this form; the normalizer derives the
// comparable form.
type Nickname string

// ParseNickname constructs a Nickname from external input.
//
// Errors: returns CodeInvalidInput for empty, over-long, or non-UTF-8 input.
func ParseNickname(s string) (Nickname, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nickname cannot be empty")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nickname must be valid UTF-8")
	}
	if utf8.RuneCountInString(s) > MaxNicknameLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "nickname exceeds 32 characters")
	}
	return Nickname(s), nil
}

// String returns the display form unchanged.
func (n Nickname) String() string {
	return string(n)
}
