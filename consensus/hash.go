package consensus

import "timecore.dev/node/crypto"

// Hash256 re-exports crypto.Hash256 so consensus callers don't need a
// second import for the common case of hashing arbitrary bytes (e.g. VDF
// iteration steps).
func Hash256(data []byte) [32]byte {
	return crypto.Hash256(data)
}
