package registry

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"namedir/pkg/domain"
)

// Minimal ABI word encoding for the resolver contracts. The call surface is
// four methods across three contract generations, so hand-rolled encoding
// beats pulling in a full contract-binding toolchain.

const wordSize = 32

// selector returns the 4-byte method selector for a canonical signature.
func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// eventTopic returns the full 32-byte topic hash for an event signature.
func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + fmt.Sprintf("%x", h.Sum(nil))
}

func encodeAddressWord(addr domain.Address) []byte {
	word := make([]byte, wordSize)
	copy(word[wordSize-len(addr):], addr[:])
	return word
}

func encodeUintWord(v uint64) []byte {
	word := make([]byte, wordSize)
	for i := 0; v > 0; i++ {
		word[wordSize-1-i] = byte(v)
		v >>= 8
	}
	return word
}

// encodeDynamicBytes appends the standard head/tail layout for a single
// trailing dynamic argument at the given head offset.
func encodeDynamicBytes(b []byte) []byte {
	padded := len(b)
	if rem := padded % wordSize; rem != 0 {
		padded += wordSize - rem
	}
	out := make([]byte, wordSize+padded)
	copy(out, encodeUintWord(uint64(len(b))))
	copy(out[wordSize:], b)
	return out
}

func decodeUintWord(word []byte) (uint64, error) {
	if len(word) != wordSize {
		return 0, fmt.Errorf("abi: expected %d-byte word, got %d", wordSize, len(word))
	}
	var v uint64
	for _, b := range word[wordSize-8:] {
		v = v<<8 | uint64(b)
	}
	for _, b := range word[:wordSize-8] {
		if b != 0 {
			return 0, fmt.Errorf("abi: quantity overflows uint64")
		}
	}
	return v, nil
}

// decodeAddressReturn extracts an address from a single-word return.
func decodeAddressReturn(out []byte) (domain.Address, error) {
	if len(out) < wordSize {
		return domain.Address{}, fmt.Errorf("abi: short address return (%d bytes)", len(out))
	}
	var a domain.Address
	copy(a[:], out[wordSize-len(a):wordSize])
	return a, nil
}

// decodeBytesReturn extracts a dynamic bytes/string return value.
func decodeBytesReturn(out []byte) ([]byte, error) {
	if len(out) < 2*wordSize {
		return nil, fmt.Errorf("abi: short dynamic return (%d bytes)", len(out))
	}
	offset, err := decodeUintWord(out[:wordSize])
	if err != nil {
		return nil, err
	}
	if offset+wordSize > uint64(len(out)) {
		return nil, fmt.Errorf("abi: dynamic offset out of range")
	}
	length, err := decodeUintWord(out[offset : offset+wordSize])
	if err != nil {
		return nil, err
	}
	start := offset + wordSize
	if start+length > uint64(len(out)) {
		return nil, fmt.Errorf("abi: dynamic length out of range")
	}
	return out[start : start+length], nil
}

// decodeBytes32Name extracts the fixed-width name encoding the legacy V1
// contract used, trimming zero padding.
func decodeBytes32Name(out []byte) (string, error) {
	if len(out) < wordSize {
		return "", fmt.Errorf("abi: short bytes32 return (%d bytes)", len(out))
	}
	end := wordSize
	for end > 0 && out[end-1] == 0 {
		end--
	}
	return string(out[:end]), nil
}
