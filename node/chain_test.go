package node

import (
	"path/filepath"
	"testing"

	"timecore.dev/node/consensus"
	"timecore.dev/node/crypto"
	"timecore.dev/node/node/store"
)

func newTestChain(t *testing.T, genesisHash [32]byte) (*ChainManager, *store.DB, *UTXOSet) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	utxos := NewUTXOSet(nil)
	registry := NewMasternodeRegistry()
	chain := NewChainManager(db, utxos, nil, registry, nil, ChainConfig{GenesisHash: genesisHash, MaxReorgDepth: 100})
	return chain, db, utxos
}

func TestInitGenesisRejectsMismatch(t *testing.T) {
	genesis := consensus.Block{Header: consensus.BlockHeader{Height: 0}, Transactions: []consensus.Transaction{{}}}
	chain, _, _ := newTestChain(t, txidFor(7)) // wrong configured hash
	if err := chain.InitGenesis(genesis); err == nil {
		t.Fatalf("expected genesis mismatch to be rejected")
	}
}

func TestInitGenesisSetsTip(t *testing.T) {
	genesis := consensus.Block{Header: consensus.BlockHeader{Height: 0}, Transactions: []consensus.Transaction{{}}}
	hash := consensus.BlockHash(genesis.Header)
	chain, _, _ := newTestChain(t, hash)
	if err := chain.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	h, tip := chain.Tip()
	if h != 0 || tip != hash {
		t.Fatalf("expected tip (0, %x), got (%d, %x)", hash, h, tip)
	}
}

func TestIngestAdvancesTipAndConfirmsCoinbase(t *testing.T) {
	genesis := consensus.Block{Header: consensus.BlockHeader{Height: 0}, Transactions: []consensus.Transaction{{}}}
	hash := consensus.BlockHash(genesis.Header)
	chain, _, utxos := newTestChain(t, hash)
	if err := chain.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	coinbase := consensus.Transaction{Outputs: []consensus.TxOutput{{Value: 100, ScriptPubKey: []byte("addr")}}}
	txs := []consensus.Transaction{coinbase}
	block := consensus.Block{
		Header: consensus.BlockHeader{
			Height:       1,
			PreviousHash: hash,
			MerkleRoot:   consensus.MerkleRootTransactions(txs),
		},
		Transactions: txs,
	}

	if err := chain.Ingest(block, coinbase.Outputs, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h, tip := chain.Tip()
	if h != 1 || tip != consensus.BlockHash(block.Header) {
		t.Fatalf("expected tip to advance to height 1")
	}

	coinbaseTxid := consensus.Txid(coinbase)
	op := consensus.OutPoint{Txid: coinbaseTxid, Vout: 0}
	e, ok := utxos.Get(op)
	if !ok || e.State.Status != StatusUnspent {
		t.Fatalf("expected coinbase output to be Unspent in the live set")
	}
}

// TestIngestAppliesMissedFinalityForStillUnspentInput covers spec.md §4.7
// rule 5: an input that never reached Locked/SpentPending on this node (it
// missed the finality round) is re-validated by signature and applied
// directly when the spending block arrives.
func TestIngestAppliesMissedFinalityForStillUnspentInput(t *testing.T) {
	genesis := consensus.Block{Header: consensus.BlockHeader{Height: 0}, Transactions: []consensus.Transaction{{}}}
	hash := consensus.BlockHash(genesis.Header)
	chain, db, utxos := newTestChain(t, hash)
	if err := chain.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	addr, err := crypto.EncodeAddress(crypto.Mainnet, kp.Public)
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}

	prevOp := consensus.OutPoint{Txid: txidFor(9), Vout: 0}
	prevOut := consensus.TxOutput{Value: 500, ScriptPubKey: []byte(addr)}
	utxos.AddUnspent(prevOp, prevOut, addr)
	db.PutUTXO(prevOp, prevOut, addr)

	unsigned := consensus.Transaction{
		Inputs:  []consensus.TxInput{{PreviousOutput: prevOp}},
		Outputs: []consensus.TxOutput{{Value: 400, ScriptPubKey: []byte("receiver")}},
	}
	sigHash := consensus.SignatureHash(unsigned)
	sig := crypto.Sign(kp.Private, sigHash[:])
	spend := unsigned
	spend.Inputs = []consensus.TxInput{{PreviousOutput: prevOp, ScriptSig: append(append([]byte{}, kp.Public...), sig...)}}

	coinbase := consensus.Transaction{Outputs: []consensus.TxOutput{{Value: 100, ScriptPubKey: []byte("miner")}}}
	txs := []consensus.Transaction{coinbase, spend}
	block := consensus.Block{
		Header: consensus.BlockHeader{
			Height:       1,
			PreviousHash: hash,
			MerkleRoot:   consensus.MerkleRootTransactions(txs),
		},
		Transactions: txs,
	}

	if err := chain.Ingest(block, coinbase.Outputs, map[consensus.OutPoint]uint64{prevOp: 500}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, ok := utxos.Get(prevOp); ok {
		t.Fatalf("expected missed-finality input to be removed from the live UTXO set")
	}
}

// TestIngestRejectsMissedFinalityInputWithBadSignature ensures the
// re-validation in the missed-finality path actually checks the signature
// rather than trusting the block unconditionally.
func TestIngestRejectsMissedFinalityInputWithBadSignature(t *testing.T) {
	genesis := consensus.Block{Header: consensus.BlockHeader{Height: 0}, Transactions: []consensus.Transaction{{}}}
	hash := consensus.BlockHash(genesis.Header)
	chain, db, utxos := newTestChain(t, hash)
	if err := chain.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	addr, err := crypto.EncodeAddress(crypto.Mainnet, kp.Public)
	if err != nil {
		t.Fatalf("encode address: %v", err)
	}
	impostor, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate impostor key pair: %v", err)
	}

	prevOp := consensus.OutPoint{Txid: txidFor(9), Vout: 0}
	prevOut := consensus.TxOutput{Value: 500, ScriptPubKey: []byte(addr)}
	utxos.AddUnspent(prevOp, prevOut, addr)
	db.PutUTXO(prevOp, prevOut, addr)

	unsigned := consensus.Transaction{
		Inputs:  []consensus.TxInput{{PreviousOutput: prevOp}},
		Outputs: []consensus.TxOutput{{Value: 400, ScriptPubKey: []byte("receiver")}},
	}
	sigHash := consensus.SignatureHash(unsigned)
	sig := crypto.Sign(impostor.Private, sigHash[:])
	spend := unsigned
	spend.Inputs = []consensus.TxInput{{PreviousOutput: prevOp, ScriptSig: append(append([]byte{}, impostor.Public...), sig...)}}

	coinbase := consensus.Transaction{Outputs: []consensus.TxOutput{{Value: 100, ScriptPubKey: []byte("miner")}}}
	txs := []consensus.Transaction{coinbase, spend}
	block := consensus.Block{
		Header: consensus.BlockHeader{
			Height:       1,
			PreviousHash: hash,
			MerkleRoot:   consensus.MerkleRootTransactions(txs),
		},
		Transactions: txs,
	}

	if err := chain.Ingest(block, coinbase.Outputs, map[consensus.OutPoint]uint64{prevOp: 500}); err == nil {
		t.Fatalf("expected ingest to reject a spend signed by the wrong key")
	}
	if e, ok := utxos.Get(prevOp); !ok || e.State.Status != StatusUnspent {
		t.Fatalf("expected rejected input to remain Unspent")
	}
}

func TestResolveForkPrefersGreaterCumulativeWork(t *testing.T) {
	chain, _, _ := newTestChain(t, [32]byte{})
	local := ChainCandidate{TipHeight: 10, CumulativeVDFWork: 100}
	remote := ChainCandidate{TipHeight: 10, CumulativeVDFWork: 200}
	adopt, err := chain.ResolveFork(local, remote, 5)
	if err != nil {
		t.Fatalf("resolve fork: %v", err)
	}
	if !adopt {
		t.Fatalf("expected remote chain with more work to be adopted")
	}
}

func TestResolveForkRefusesBeyondMaxDepth(t *testing.T) {
	chain, _, _ := newTestChain(t, [32]byte{})
	_, err := chain.ResolveFork(ChainCandidate{}, ChainCandidate{}, 1000)
	if err == nil {
		t.Fatalf("expected reorg beyond max depth to be refused")
	}
}
