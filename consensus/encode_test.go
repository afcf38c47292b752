package consensus

import "testing"

func TestTxidDeterministic(t *testing.T) {
	tx := Transaction{
		Version: 1,
		Inputs:  []TxInput{{PreviousOutput: OutPoint{Vout: 0}, Sequence: 1}},
		Outputs: []TxOutput{{Value: 100, ScriptPubKey: []byte("bob")}},
	}
	a := Txid(tx)
	b := Txid(tx)
	if a != b {
		t.Fatalf("txid must be deterministic for identical transactions")
	}
}

func TestTxidChangesWithContent(t *testing.T) {
	base := Transaction{Version: 1, Outputs: []TxOutput{{Value: 100}}}
	changed := base
	changed.Outputs = []TxOutput{{Value: 101}}
	if Txid(base) == Txid(changed) {
		t.Fatalf("txid must differ when output value changes")
	}
}

func TestBlockHashChangesWithHeader(t *testing.T) {
	h1 := BlockHeader{Height: 1, Timestamp: 100}
	h2 := BlockHeader{Height: 1, Timestamp: 101}
	if BlockHash(h1) == BlockHash(h2) {
		t.Fatalf("block hash must differ with different timestamps")
	}
}

func TestBlockHashIncludesProofOfTime(t *testing.T) {
	h1 := BlockHeader{Height: 1}
	h2 := BlockHeader{Height: 1, ProofOfTime: &ProofOfTime{Iterations: 1000, Output: Hash256([]byte("vdf"))}}
	if BlockHash(h1) == BlockHash(h2) {
		t.Fatalf("block hash must change when proof_of_time is present")
	}
}
