package consensus

import (
	"testing"

	"timecore.dev/node/crypto"
)

func TestSignVerifyVoteRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	v := Vote{
		Target:    Hash256([]byte("tx-A01")),
		VoterAddr: "masternode-1",
		Approve:   true,
		Timestamp: 1_700_000_000,
	}
	v.Signature = SignVote(v, kp.Private)
	if !VerifyVote(v, kp.Public) {
		t.Fatalf("expected valid vote signature to verify")
	}
}

func TestVerifyVoteRejectsTamperedApprove(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	v := Vote{Target: Hash256([]byte("tx-A01")), VoterAddr: "mn-1", Approve: true, Timestamp: 1}
	v.Signature = SignVote(v, kp.Private)
	v.Approve = false
	if VerifyVote(v, kp.Public) {
		t.Fatalf("expected verification to fail after flipping approve")
	}
}
