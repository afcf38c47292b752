package p2p

import "fmt"

// LocalProtocolVersion is this node's protocol_version, per spec.md §6.
const LocalProtocolVersion = 1

// HandshakeOutcome is the result of validating a peer's Handshake against
// our own, per spec.md §4.3.
type HandshakeOutcome struct {
	Accept           bool
	Drop             bool   // protocol_version/network/magic mismatch: drop silently
	GenesisMismatch  bool   // both sides declared a genesis hash and they differ: quarantine
	Reason           string
}

// ValidateHandshake applies spec.md §4.3's four checks in order: magic is
// assumed already checked by the framing layer before a Handshake ever
// reaches here. protocol_version and network must match exactly; if both
// sides declare a genesis hash, they must match or the peer is quarantined
// with GenesisMismatch (severe, permanent). A genesis hash omitted by
// either side skips that check for backward compatibility.
func ValidateHandshake(local, peer Handshake, localNetwork string) HandshakeOutcome {
	if peer.ProtocolVersion != LocalProtocolVersion {
		return HandshakeOutcome{Drop: true, Reason: fmt.Sprintf("protocol_version mismatch: peer=%d local=%d", peer.ProtocolVersion, LocalProtocolVersion)}
	}
	if peer.Network != localNetwork {
		return HandshakeOutcome{Drop: true, Reason: fmt.Sprintf("network mismatch: peer=%q local=%q", peer.Network, localNetwork)}
	}
	if local.GenesisHash != nil && peer.GenesisHash != nil && *local.GenesisHash != *peer.GenesisHash {
		return HandshakeOutcome{GenesisMismatch: true, Reason: "genesis hash mismatch"}
	}
	return HandshakeOutcome{Accept: true}
}
