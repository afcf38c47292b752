package p2p

import (
	"encoding/json"
	"fmt"

	"timecore.dev/node/consensus"
)

// MessageType is the "type" discriminator tag every message carries. See
// spec.md §4.3.
type MessageType string

const (
	TypeHandshake               MessageType = "Handshake"
	TypeTransaction              MessageType = "Transaction"
	TypeVote                     MessageType = "Vote"
	TypeBlockProposal            MessageType = "BlockProposal"
	TypeGetBlock                 MessageType = "GetBlock"
	TypeBlockResponse            MessageType = "BlockResponse"
	TypeGetBlockchainInfo        MessageType = "GetBlockchainInfo"
	TypeBlockchainInfoResponse   MessageType = "BlockchainInfoResponse"
	TypeUTXOStateQuery           MessageType = "UTXOStateQuery"
	TypeUTXOStateResponse        MessageType = "UTXOStateResponse"
	TypeUTXOStateNotification    MessageType = "UTXOStateNotification"
	TypeSubscribe                MessageType = "Subscribe"
	TypeUnsubscribe              MessageType = "Unsubscribe"
	TypeCatchUpRequest           MessageType = "CatchUpRequest"
	TypeUpdateTip                MessageType = "UpdateTip"
)

// Handshake is sent immediately on connect, in both directions, before any
// other message is accepted. Field names and optionality are bit-exact
// per spec.md §6.
type Handshake struct {
	Type            MessageType `json:"type"`
	Version         string      `json:"version"`
	CommitDate      string      `json:"commit_date"`
	CommitCount     int         `json:"commit_count"`
	ProtocolVersion uint32      `json:"protocol_version"`
	Network         string      `json:"network"` // "Mainnet" | "Testnet"
	ListenAddr      string      `json:"listen_addr"`
	Timestamp       int64       `json:"timestamp"`
	Capabilities    []string    `json:"capabilities"`
	WalletAddress   string      `json:"wallet_address,omitempty"`
	GenesisHash     *[32]byte   `json:"genesis_hash,omitempty"`
}

// TransactionMsg broadcasts a transaction for finality voting.
type TransactionMsg struct {
	Type MessageType            `json:"type"`
	Tx   consensus.Transaction  `json:"tx"`
}

// VoteMsg carries a signed masternode vote on a transaction or block hash.
type VoteMsg struct {
	Type MessageType    `json:"type"`
	Vote consensus.Vote `json:"vote"`
}

// BlockProposalMsg is retained for compatibility with non-deterministic
// producers; the deterministic mode in this repo does not require it on
// the happy path (see spec.md §4.3).
type BlockProposalMsg struct {
	Type  MessageType     `json:"type"`
	Block consensus.Block `json:"block"`
}

// GetBlockMsg requests the block at a given height.
type GetBlockMsg struct {
	Type   MessageType `json:"type"`
	Height uint64      `json:"height"`
}

// BlockResponseMsg answers GetBlockMsg. Found is false if the peer does
// not have that height.
type BlockResponseMsg struct {
	Type  MessageType      `json:"type"`
	Found bool             `json:"found"`
	Block *consensus.Block `json:"block,omitempty"`
}

// GetBlockchainInfoMsg requests the peer's current tip summary.
type GetBlockchainInfoMsg struct {
	Type MessageType `json:"type"`
}

// BlockchainInfoResponseMsg answers GetBlockchainInfoMsg.
type BlockchainInfoResponseMsg struct {
	Type       MessageType `json:"type"`
	TipHeight  uint64      `json:"tip_height"`
	TipHash    [32]byte    `json:"tip_hash"`
	GenesisHash [32]byte   `json:"genesis_hash"`
}

// UTXOStateQueryMsg asks a peer (or, internally, the local engine) for a
// single outpoint's current state.
type UTXOStateQueryMsg struct {
	Type     MessageType          `json:"type"`
	Outpoint consensus.OutPoint   `json:"outpoint"`
}

// UTXOStateResponseMsg answers UTXOStateQueryMsg.
type UTXOStateResponseMsg struct {
	Type     MessageType        `json:"type"`
	Outpoint consensus.OutPoint `json:"outpoint"`
	Found    bool               `json:"found"`
	Status   string             `json:"status,omitempty"`
}

// UTXOStateNotificationMsg is pushed to subscribers on every transition,
// per spec.md §4.1.
type UTXOStateNotificationMsg struct {
	Type     MessageType        `json:"type"`
	Outpoint consensus.OutPoint `json:"outpoint"`
	Status   string             `json:"status"`
}

// SubscribeMsg registers interest in a set of outpoints/addresses.
type SubscribeMsg struct {
	Type      MessageType `json:"type"`
	Outpoints []consensus.OutPoint `json:"outpoints,omitempty"`
	Addresses []string             `json:"addresses,omitempty"`
}

// UnsubscribeMsg cancels a prior Subscribe by its returned subscription id.
type UnsubscribeMsg struct {
	Type           MessageType `json:"type"`
	SubscriptionID string      `json:"subscription_id"`
}

// CatchUpRequestMsg asks a peer for every block strictly after fromHeight.
type CatchUpRequestMsg struct {
	Type       MessageType `json:"type"`
	FromHeight uint64      `json:"from_height"`
}

// UpdateTipMsg is gossiped after a block finalizes, per spec.md §4.6.
type UpdateTipMsg struct {
	Type   MessageType `json:"type"`
	Height uint64      `json:"height"`
	Hash   [32]byte    `json:"hash"`
}

// envelope is the minimal structure used to read the "type" discriminator
// before deciding which concrete struct to decode into — the standard Go
// idiom for polymorphic JSON via a two-pass unmarshal.
type envelope struct {
	Type MessageType `json:"type"`
}

// DecodeMessage inspects the "type" field of raw and unmarshals it into
// the matching concrete message struct, returned as `any`. The transport
// layer never interprets these values; Peer.Run only dispatches them to
// the matching Handler method, per spec.md §4.3.
func DecodeMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("p2p: decode envelope: %w", err)
	}

	var target any
	switch env.Type {
	case TypeHandshake:
		target = &Handshake{}
	case TypeTransaction:
		target = &TransactionMsg{}
	case TypeVote:
		target = &VoteMsg{}
	case TypeBlockProposal:
		target = &BlockProposalMsg{}
	case TypeGetBlock:
		target = &GetBlockMsg{}
	case TypeBlockResponse:
		target = &BlockResponseMsg{}
	case TypeGetBlockchainInfo:
		target = &GetBlockchainInfoMsg{}
	case TypeBlockchainInfoResponse:
		target = &BlockchainInfoResponseMsg{}
	case TypeUTXOStateQuery:
		target = &UTXOStateQueryMsg{}
	case TypeUTXOStateResponse:
		target = &UTXOStateResponseMsg{}
	case TypeUTXOStateNotification:
		target = &UTXOStateNotificationMsg{}
	case TypeSubscribe:
		target = &SubscribeMsg{}
	case TypeUnsubscribe:
		target = &UnsubscribeMsg{}
	case TypeCatchUpRequest:
		target = &CatchUpRequestMsg{}
	case TypeUpdateTip:
		target = &UpdateTipMsg{}
	default:
		return nil, fmt.Errorf("p2p: unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("p2p: decode %s: %w", env.Type, err)
	}
	return target, nil
}
