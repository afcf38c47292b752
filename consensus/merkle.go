package consensus

import "timecore.dev/node/crypto"

// merkleLeafTag and merkleNodeTag domain-separate leaf hashes from interior-node hashes
// so a leaf can never be replayed as an interior node, following the tagged
// merkle construction this pack's nodes already use for witness commitments.
const (
	merkleLeafTag = 0x00
	merkleNodeTag = 0x01
)

// MerkleRoot computes the root over txids in the order given. Block
// construction is responsible for handing it the canonical order from
// spec.md §4.6 (coinbase first, then ascending by txid).
func MerkleRoot(txids [][32]byte) [32]byte {
	if len(txids) == 0 {
		return [32]byte{}
	}

	level := make([][32]byte, len(txids))
	var leaf [1 + 32]byte
	leaf[0] = merkleLeafTag
	for i, id := range txids {
		copy(leaf[1:], id[:])
		level[i] = crypto.Hash256(leaf[:])
	}

	var node [1 + 32 + 32]byte
	node[0] = merkleNodeTag
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i == len(level)-1 {
				// Odd count: carry the last hash forward unchanged.
				next = append(next, level[i])
				continue
			}
			copy(node[1:33], level[i][:])
			copy(node[33:], level[i+1][:])
			next = append(next, crypto.Hash256(node[:]))
		}
		level = next
	}
	return level[0]
}

// MerkleRootTransactions hashes each transaction's txid then computes the
// root. Convenience wrapper used by block assembly and ingest validation.
func MerkleRootTransactions(txs []Transaction) [32]byte {
	ids := make([][32]byte, len(txs))
	for i, tx := range txs {
		ids[i] = Txid(tx)
	}
	return MerkleRoot(ids)
}
