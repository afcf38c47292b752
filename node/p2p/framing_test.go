package p2p

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := GetBlockMsg{Type: TypeGetBlock, Height: 42}
	if err := WriteFrame(&buf, MainnetMagic, msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := ReadFrame(&buf, MainnetMagic)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	decoded, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(*GetBlockMsg)
	if !ok || got.Height != 42 {
		t.Fatalf("unexpected decoded message: %+v", decoded)
	}
}

func TestReadFrameRejectsWrongMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, TestnetMagic, GetBlockchainInfoMsg{Type: TypeGetBlockchainInfo}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := ReadFrame(&buf, MainnetMagic)
	if err == nil {
		t.Fatalf("expected magic mismatch to be rejected")
	}
	var re *ReadError
	if !asReadError(err, &re) || !re.Disconnect {
		t.Fatalf("expected a disconnect-flagged ReadError, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	big := strings.Repeat("x", MaxRelayMsgBytes+1)
	err := WriteFrame(&buf, MainnetMagic, UnsubscribeMsg{Type: TypeUnsubscribe, SubscriptionID: big})
	if err == nil {
		t.Fatalf("expected oversized payload to be rejected")
	}
}

func asReadError(err error, target **ReadError) bool {
	re, ok := err.(*ReadError)
	if ok {
		*target = re
	}
	return ok
}
