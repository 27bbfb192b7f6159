package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "namedir/pkg/domain-errors"
)

// Address is a 20-byte account identifier. The canonical textual form is
// lower-case hex with a 0x prefix.
//
// Usage: construct via ParseAddress at trust boundaries; direct conversion
// bypasses validation.
type Address [20]byte

// ParseAddress constructs an Address from external input. It accepts upper,
// lower or EIP-55 mixed-case hex, with or without the 0x prefix, and folds to
// the canonical lower-case form.
//
// Errors: returns CodeInvalidInput when the value is not 40 hex characters.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 2*len(a) {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address must be 20 bytes of hex")
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Address{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "address is not valid hex")
	}
	copy(a[:], b)
	return a, nil
}

// String returns the canonical lower-case hex form with 0x prefix.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Checksum returns the EIP-55 mixed-case form for display. Uniqueness and
// storage always use the canonical lower-case form.
func (a Address) Checksum() string {
	lower := hex.EncodeToString(a[:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// IsZero reports whether the address is the all-zero value, which no real
// account uses.
func (a Address) IsZero() bool {
	return a == Address{}
}
