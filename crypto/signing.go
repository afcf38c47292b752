package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// KeyPair holds an Ed25519 key pair, e.g. a masternode's signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair is used by tests and by external key-management tooling
// that hands a node its masternode identity; the core never derives keys
// for wallets (out of scope, see spec.md §1).
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs digest (typically a 32-byte hash) with the private key.
func Sign(priv ed25519.PrivateKey, digest []byte) []byte {
	return ed25519.Sign(priv, digest)
}

// Verify reports whether sig is a valid Ed25519 signature over digest under pub.
func Verify(pub ed25519.PublicKey, digest []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}
