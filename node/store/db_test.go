package store

import (
	"path/filepath"
	"testing"
	"time"

	"timecore.dev/node/consensus"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndGetBlock(t *testing.T) {
	db := openTestDB(t)
	block := consensus.Block{Header: consensus.BlockHeader{Height: 5}}
	if err := db.PutBlock(5, block); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.GetBlock(5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Header.Height != 5 {
		t.Fatalf("expected height 5, got %d", got.Header.Height)
	}
}

func TestHighestBlockHeight(t *testing.T) {
	db := openTestDB(t)
	for _, h := range []uint64{1, 2, 10, 3} {
		if err := db.PutBlock(h, consensus.Block{Header: consensus.BlockHeader{Height: h}}); err != nil {
			t.Fatalf("put %d: %v", h, err)
		}
	}
	height, ok := db.HighestBlockHeight()
	if !ok || height != 10 {
		t.Fatalf("expected highest height 10, got %d ok=%v", height, ok)
	}
}

func TestDeleteBlockRemovesOnlyThatHeight(t *testing.T) {
	db := openTestDB(t)
	db.PutBlock(1, consensus.Block{Header: consensus.BlockHeader{Height: 1}})
	db.PutBlock(2, consensus.Block{Header: consensus.BlockHeader{Height: 2}})
	if err := db.DeleteBlock(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetBlock(1); err == nil {
		t.Fatalf("expected error fetching deleted block")
	}
	if _, err := db.GetBlock(2); err != nil {
		t.Fatalf("expected block 2 to survive deletion of block 1: %v", err)
	}
}

func TestUTXORoundTripAndIterate(t *testing.T) {
	db := openTestDB(t)
	op := consensus.OutPoint{Vout: 3}
	op.Txid[0] = 9
	if err := db.PutUTXO(op, consensus.TxOutput{Value: 42}, "alice"); err != nil {
		t.Fatalf("put utxo: %v", err)
	}

	var seen int
	db.IterateUTXOs(func(gotOp consensus.OutPoint, out consensus.TxOutput, owner string) {
		seen++
		if gotOp != op || out.Value != 42 || owner != "alice" {
			t.Fatalf("unexpected utxo record: %+v %+v %s", gotOp, out, owner)
		}
	})
	if seen != 1 {
		t.Fatalf("expected 1 utxo, saw %d", seen)
	}

	if err := db.DeleteUTXO(op); err != nil {
		t.Fatalf("delete utxo: %v", err)
	}
	seen = 0
	db.IterateUTXOs(func(consensus.OutPoint, consensus.TxOutput, string) { seen++ })
	if seen != 0 {
		t.Fatalf("expected utxo to be removed, saw %d", seen)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if _, found, err := db.LoadManifest(); err != nil || found {
		t.Fatalf("expected no manifest on a fresh store, found=%v err=%v", found, err)
	}
	m := Manifest{GenesisHash: [32]byte{1, 2, 3}, SchemaVersion: schemaVersion}
	if err := db.SaveManifest(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := db.LoadManifest()
	if err != nil || !found {
		t.Fatalf("expected manifest to be found, err=%v", err)
	}
	if got.GenesisHash != m.GenesisHash {
		t.Fatalf("unexpected genesis hash after round trip")
	}
}

func TestQuarantineRoundTrip(t *testing.T) {
	db := openTestDB(t)
	q := QuarantineRecord{PeerID: "peer1", Reason: "ForkDetected", Until: time.Now().Add(time.Hour)}
	if err := db.PutQuarantine(q); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, found, err := db.GetQuarantine("peer1")
	if err != nil || !found {
		t.Fatalf("expected record, err=%v", err)
	}
	if got.Reason != "ForkDetected" {
		t.Fatalf("unexpected reason %q", got.Reason)
	}
	if err := db.DeleteQuarantine("peer1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := db.GetQuarantine("peer1"); found {
		t.Fatalf("expected record to be gone after delete")
	}
}
