package consensus

import (
	"crypto/ed25519"

	"timecore.dev/node/crypto"
)

// SignVote signs the vote's preimage with priv and returns the signature
// bytes; callers set v.Signature to the result.
func SignVote(v Vote, priv ed25519.PrivateKey) []byte {
	digest := crypto.Hash256(VotePreimage(v))
	return crypto.Sign(priv, digest[:])
}

// VerifyVote checks v.Signature against the voter's declared public key.
func VerifyVote(v Vote, pub []byte) bool {
	digest := crypto.Hash256(VotePreimage(v))
	return crypto.Verify(ed25519.PublicKey(pub), digest[:], v.Signature)
}
