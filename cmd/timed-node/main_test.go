package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"timecore.dev/node/node"
	"timecore.dev/node/consensus"
)

func writeGenesisFixture(t *testing.T, dir string) string {
	t.Helper()
	coinbase := consensus.Transaction{
		Version: 1,
		Outputs: []consensus.TxOutput{{Value: 0, ScriptPubKey: []byte("genesis")}},
	}
	block := consensus.Block{
		Header: consensus.BlockHeader{
			MerkleRoot: consensus.MerkleRootTransactions([]consensus.Transaction{coinbase}),
		},
		Transactions: []consensus.Transaction{coinbase},
	}
	path := filepath.Join(dir, "genesis.json")
	raw, err := json.Marshal(struct {
		Block consensus.Block `json:"block"`
	}{Block: block})
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func TestRunDryRunPrintsConfigAndExitsZero(t *testing.T) {
	dir := t.TempDir()
	genesisPath := writeGenesisFixture(t, dir)

	var out, errOut bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir, "--genesis", genesisPath}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr=%s)", code, errOut.String())
	}

	var printed node.Config
	if err := json.Unmarshal(out.Bytes(), &printed); err != nil {
		t.Fatalf("expected printed config to be valid JSON: %v", err)
	}
	if printed.DataDir != dir {
		t.Fatalf("expected data_dir %q, got %q", dir, printed.DataDir)
	}
}

func TestRunRejectsMissingGenesisFlag(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected exit code 2 for missing -genesis, got %d", code)
	}
}

func TestRunRejectsInvalidBindAddress(t *testing.T) {
	dir := t.TempDir()
	genesisPath := writeGenesisFixture(t, dir)
	var out, errOut bytes.Buffer
	code := run([]string{"--dry-run", "--datadir", dir, "--genesis", genesisPath, "--bind", "not-a-valid-addr"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("expected exit code 2 for invalid bind address, got %d", code)
	}
}

func TestMultiStringFlagSetAppends(t *testing.T) {
	var m multiStringFlag
	if err := m.Set("a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set("b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := m.String(); got != "a,b" {
		t.Fatalf("string=%q, want %q", got, "a,b")
	}
}
