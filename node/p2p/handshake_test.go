package p2p

import "testing"

func TestValidateHandshakeAcceptsMatching(t *testing.T) {
	hash := [32]byte{1}
	local := Handshake{ProtocolVersion: 1, Network: "Mainnet", GenesisHash: &hash}
	peer := Handshake{ProtocolVersion: 1, Network: "Mainnet", GenesisHash: &hash}
	out := ValidateHandshake(local, peer, "Mainnet")
	if !out.Accept {
		t.Fatalf("expected matching handshake to be accepted: %+v", out)
	}
}

func TestValidateHandshakeDropsProtocolMismatch(t *testing.T) {
	out := ValidateHandshake(Handshake{ProtocolVersion: 1}, Handshake{ProtocolVersion: 2}, "Mainnet")
	if !out.Drop {
		t.Fatalf("expected protocol_version mismatch to be dropped: %+v", out)
	}
}

func TestValidateHandshakeDropsNetworkMismatch(t *testing.T) {
	out := ValidateHandshake(Handshake{ProtocolVersion: 1, Network: "Mainnet"}, Handshake{ProtocolVersion: 1, Network: "Testnet"}, "Mainnet")
	if !out.Drop {
		t.Fatalf("expected network mismatch to be dropped: %+v", out)
	}
}

func TestValidateHandshakeQuarantinesGenesisMismatch(t *testing.T) {
	h1 := [32]byte{1}
	h2 := [32]byte{2}
	local := Handshake{ProtocolVersion: 1, Network: "Mainnet", GenesisHash: &h1}
	peer := Handshake{ProtocolVersion: 1, Network: "Mainnet", GenesisHash: &h2}
	out := ValidateHandshake(local, peer, "Mainnet")
	if !out.GenesisMismatch {
		t.Fatalf("expected genesis mismatch to be flagged: %+v", out)
	}
}

func TestValidateHandshakeSkipsGenesisCheckWhenOmitted(t *testing.T) {
	local := Handshake{ProtocolVersion: 1, Network: "Mainnet"}
	peer := Handshake{ProtocolVersion: 1, Network: "Mainnet", GenesisHash: &[32]byte{9}}
	out := ValidateHandshake(local, peer, "Mainnet")
	if !out.Accept {
		t.Fatalf("expected handshake to be accepted when one side omits genesis hash: %+v", out)
	}
}
