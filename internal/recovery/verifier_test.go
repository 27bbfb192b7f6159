package recovery

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	msg := []byte("challenge-nonce")
	sig := ed25519.Sign(priv, msg)
	v := Ed25519Verifier{}

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, v.Verify(pub, msg, sig))
	})

	t.Run("wrong message", func(t *testing.T) {
		assert.Error(t, v.Verify(pub, []byte("other"), sig))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		assert.Error(t, v.Verify(otherPub, msg, sig))
	})

	t.Run("truncated key", func(t *testing.T) {
		assert.Error(t, v.Verify(pub[:16], msg, sig))
	})

	t.Run("truncated signature", func(t *testing.T) {
		assert.Error(t, v.Verify(pub, msg, sig[:32]))
	})
}

func TestSignatureEncoding(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte("msg"))

	decoded, err := DecodeSignature(base58.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)

	_, err = DecodeSignature("not!base58!")
	assert.Error(t, err)
}

func TestParseDevice(t *testing.T) {
	t.Run("mobile browser", func(t *testing.T) {
		d := ParseDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		assert.True(t, d.Mobile)
		assert.NotEmpty(t, d.OS)
		assert.NotEmpty(t, d.Browser)
	})

	t.Run("empty header", func(t *testing.T) {
		assert.Equal(t, DeviceInfo{}, ParseDevice(""))
	})
}
