// Package crypto provides the signing primitives behind verifiable
// audit artifacts (evidence bundles, campaign reports).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// Signer signs canonical payloads.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	ID() string
}

// Ed25519Signer signs with an in-process Ed25519 key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "generate signing key")
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSeed derives the keypair from a hex-encoded
// 32-byte seed, for deployments with a stable signing key.
func NewEd25519SignerFromSeed(seedHex, keyID string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, faults.Wrap(faults.Validation, err, "signing seed is not hex")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, faults.New(faults.Validation, "signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) ID() string { return s.keyID }

// Verify checks a hex signature made by the holder of the given hex
// public key. A malformed key or signature is an error; a well-formed
// signature that does not match is (false, nil).
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, faults.Wrap(faults.Validation, err, "public key is not hex")
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, faults.New(faults.Validation, "public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKey))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, faults.Wrap(faults.Validation, err, "signature is not hex")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
