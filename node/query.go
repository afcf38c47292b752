package node

import (
	"timecore.dev/node/consensus"
	"timecore.dev/node/crypto"
)

// MempoolSnapshot is a point-in-time view of the pending-transaction pool,
// returned by GetMempoolSnapshot. See spec.md §6.
type MempoolSnapshot struct {
	Transactions []consensus.Transaction
	Count        int
}

// UTXORef pairs a live UTXO with its owning outpoint, for GetUTXO and the
// address-balance listing underlying GetBalance.
type UTXORef struct {
	Outpoint consensus.OutPoint
	Output   consensus.TxOutput
	State    UTXOState
}

// GetBalance sums every Unspent UTXO owned by addr. It is the read-only
// query counterpart to the write path in Submit/SubmitTransaction: it
// never locks or mutates the UTXO set. Returns CodeInvalidAddress if addr
// doesn't decode as a valid address for this node's network.
func (n *Node) GetBalance(addr string) (uint64, error) {
	network, _, err := crypto.DecodeAddress(addr)
	if err != nil {
		return 0, newNodeErr(ErrStructural, CodeInvalidAddress, "malformed address: "+err.Error())
	}
	want := crypto.Mainnet
	if n.cfg.Network == Testnet {
		want = crypto.Testnet
	}
	if network != want {
		return 0, newNodeErr(ErrStructural, CodeInvalidAddress, "address is for a different network")
	}
	var total uint64
	n.utxos.ForEachUnspent(addr, func(_ consensus.OutPoint, e Entry) {
		total += e.UTXO.Value
	})
	return total, nil
}

// GetUTXOsByAddress lists every Unspent UTXO owned by addr.
func (n *Node) GetUTXOsByAddress(addr string) ([]UTXORef, error) {
	if _, _, err := crypto.DecodeAddress(addr); err != nil {
		return nil, newNodeErr(ErrStructural, CodeInvalidAddress, "malformed address: "+err.Error())
	}
	var refs []UTXORef
	n.utxos.ForEachUnspent(addr, func(op consensus.OutPoint, e Entry) {
		refs = append(refs, UTXORef{Outpoint: op, Output: e.UTXO, State: e.State})
	})
	return refs, nil
}

// GetUTXO looks up a single outpoint's current lifecycle state, regardless
// of status (Unspent, Locked, SpentPending, ...). Confirmed/retired
// outpoints are no longer present and report ok=false.
func (n *Node) GetUTXO(op consensus.OutPoint) (Entry, bool) {
	return n.utxos.Get(op)
}

// GetBlock returns the settled block at height, or CodeTransactionNotFound
// if the chain hasn't reached that height yet (the code is reused here as
// the generic "not in the confirmed chain" not-found signal; spec.md §7
// doesn't mint a separate block-not-found code).
func (n *Node) GetBlock(height uint64) (consensus.Block, error) {
	block, err := n.db.GetBlock(height)
	if err != nil {
		return consensus.Block{}, newNodeErr(ErrStructural, CodeTransactionNotFound, "block not found at height")
	}
	return block, nil
}

// GetTransaction looks a transaction up by txid, first in the mempool
// (Submitted/Voting/SpentPending/SpentFinalized, still awaiting
// settlement) and failing that by scanning confirmed blocks from the tip
// backwards. There is no txid index on disk — spec.md §6 scopes this as a
// query convenience, not a production explorer API — so the scan is
// bounded by chain height. (GetBalance and GetUTXOsByAddress likewise scan
// the whole live UTXO set.)
func (n *Node) GetTransaction(txid [32]byte) (consensus.Transaction, error) {
	if tx, ok := n.mempool.Get(txid); ok {
		return tx, nil
	}
	tip, _ := n.chain.Tip()
	for h := tip; ; h-- {
		block, err := n.db.GetBlock(h)
		if err == nil {
			for _, tx := range block.Transactions {
				if consensus.Txid(tx) == txid {
					return tx, nil
				}
			}
		}
		if h == 0 {
			break
		}
	}
	return consensus.Transaction{}, newNodeErr(ErrStructural, CodeTransactionNotFound, "transaction not found")
}

// GetMempoolSnapshot returns every transaction currently pending finality
// or settlement.
func (n *Node) GetMempoolSnapshot() MempoolSnapshot {
	txs := n.mempool.GetAll()
	return MempoolSnapshot{Transactions: txs, Count: len(txs)}
}

// SubmitTransaction is the single external write path spec.md §6 allows:
// it hands tx to the finality engine (which locks inputs and begins
// voting) and, on success, broadcasts it to every connected peer exactly
// as an inbound TransactionMsg would be re-gossiped.
func (n *Node) SubmitTransaction(tx consensus.Transaction) ([32]byte, error) {
	txid, err := n.finality.Submit(tx)
	if err != nil {
		return txid, err
	}
	n.broadcastTransaction(tx)
	return txid, nil
}
