// Package crypto provides the narrow set of primitives consensus and p2p
// code depend on: SHA-256 hashing, Ed25519 signing/verification, and the
// Base58Check address format.
package crypto

import "crypto/sha256"

// Hash256 is SHA-256, used for txids, block hashes, and merkle nodes.
func Hash256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
