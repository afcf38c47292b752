package consensus

import "testing"

func coinbaseTx() Transaction {
	return Transaction{Version: 1, Outputs: []TxOutput{{Value: 1000}}}
}

func TestValidateBlockStructureRejectsEmptyBlock(t *testing.T) {
	if err := ValidateBlockStructure(Block{}); err == nil {
		t.Fatalf("expected error for empty block")
	}
}

func TestValidateBlockStructureRejectsMissingCoinbase(t *testing.T) {
	b := Block{Transactions: []Transaction{{Version: 1, Inputs: []TxInput{{}}}}}
	if err := ValidateBlockStructure(b); err == nil {
		t.Fatalf("expected error when first tx is not coinbase")
	}
}

func TestValidateBlockStructureRejectsSecondCoinbase(t *testing.T) {
	b := Block{Transactions: []Transaction{coinbaseTx(), coinbaseTx()}}
	b.Header.MerkleRoot = MerkleRootTransactions(b.Transactions)
	if err := ValidateBlockStructure(b); err == nil {
		t.Fatalf("expected error for second coinbase")
	}
}

func TestValidateBlockStructureAcceptsValidBlock(t *testing.T) {
	txs := []Transaction{coinbaseTx()}
	b := Block{Transactions: txs}
	b.Header.MerkleRoot = MerkleRootTransactions(txs)
	if err := ValidateBlockStructure(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateHeightAndLinkage(t *testing.T) {
	tip := Hash256([]byte("tip"))
	h := BlockHeader{PreviousHash: tip, Height: 101}
	if err := ValidateHeightAndLinkage(h, 100, tip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateHeightAndLinkage(h, 99, tip); err == nil {
		t.Fatalf("expected height mismatch error")
	}
	bad := BlockHeader{PreviousHash: Hash256([]byte("other")), Height: 101}
	if err := ValidateHeightAndLinkage(bad, 100, tip); err == nil {
		t.Fatalf("expected prev-hash mismatch error")
	}
}

func TestValidateValueConservation(t *testing.T) {
	op := OutPoint{Vout: 0}
	tx := Transaction{Inputs: []TxInput{{PreviousOutput: op}}, Outputs: []TxOutput{{Value: 99}}}
	fee, err := ValidateValueConservation(tx, map[OutPoint]uint64{op: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee != 1 {
		t.Fatalf("fee = %d, want 1", fee)
	}

	_, err = ValidateValueConservation(tx, map[OutPoint]uint64{op: 50})
	if err == nil {
		t.Fatalf("expected error when outputs exceed inputs")
	}
}

func TestValidateValueConservationUnknownInput(t *testing.T) {
	tx := Transaction{Inputs: []TxInput{{PreviousOutput: OutPoint{Vout: 1}}}}
	_, err := ValidateValueConservation(tx, map[OutPoint]uint64{})
	if err == nil {
		t.Fatalf("expected error for unknown input")
	}
}
