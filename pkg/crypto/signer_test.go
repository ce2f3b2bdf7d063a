package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	s, err := NewEd25519Signer("audit-key-1")
	require.NoError(t, err)

	payload := []byte(`{"request_id":"REQ-1"}`)
	sig, err := s.Sign(payload)
	require.NoError(t, err)

	ok, err := Verify(s.PublicKey(), sig, payload)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(s.PublicKey(), sig, []byte("tampered"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSeedDerivationIsDeterministic(t *testing.T) {
	seed := strings.Repeat("ab", 32)

	a, err := NewEd25519SignerFromSeed(seed, "k1")
	require.NoError(t, err)
	b, err := NewEd25519SignerFromSeed(seed, "k1")
	require.NoError(t, err)
	require.Equal(t, a.PublicKey(), b.PublicKey())

	_, err = NewEd25519SignerFromSeed("abcd", "k1")
	require.Error(t, err, "short seed rejected")
	_, err = NewEd25519SignerFromSeed("zz", "k1")
	require.Error(t, err, "non-hex seed rejected")
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	s, err := NewEd25519Signer("k1")
	require.NoError(t, err)
	sig, _ := s.Sign([]byte("x"))

	_, err = Verify("nothex", sig, []byte("x"))
	require.Error(t, err)

	_, err = Verify(s.PublicKey(), "nothex", []byte("x"))
	require.Error(t, err)

	_, err = Verify("abcd", sig, []byte("x"))
	require.Error(t, err, "wrong key size rejected")
}
