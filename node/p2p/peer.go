package p2p

import (
	"context"
	"fmt"
	"net"
	"time"
)

// PeerRole distinguishes who dialed whom, matching spec.md §4.3's
// symmetric handshake (either side may initiate).
type PeerRole int

const (
	RoleUnknown PeerRole = iota
	RoleInbound
	RoleOutbound
)

// Handler dispatches decoded messages arriving from a Peer. Implementations
// live in package node, which owns the UTXO set, mempool, chain manager,
// and quarantine gate these messages drive.
type Handler interface {
	OnTransaction(p *Peer, msg *TransactionMsg) error
	OnVote(p *Peer, msg *VoteMsg) error
	OnBlockProposal(p *Peer, msg *BlockProposalMsg) error
	OnGetBlock(p *Peer, msg *GetBlockMsg) error
	OnBlockResponse(p *Peer, msg *BlockResponseMsg) error
	OnGetBlockchainInfo(p *Peer, msg *GetBlockchainInfoMsg) error
	OnBlockchainInfoResponse(p *Peer, msg *BlockchainInfoResponseMsg) error
	OnUTXOStateQuery(p *Peer, msg *UTXOStateQueryMsg) error
	OnUTXOStateResponse(p *Peer, msg *UTXOStateResponseMsg) error
	OnUTXOStateNotification(p *Peer, msg *UTXOStateNotificationMsg) error
	OnSubscribe(p *Peer, msg *SubscribeMsg) error
	OnUnsubscribe(p *Peer, msg *UnsubscribeMsg) error
	OnCatchUpRequest(p *Peer, msg *CatchUpRequestMsg) error
	OnUpdateTip(p *Peer, msg *UpdateTipMsg) error
}

// PeerConfig carries the static parameters a Peer needs to handshake and
// frame messages. See spec.md §4.3, §6.
type PeerConfig struct {
	Magic       [4]byte
	Network     string
	Local       Handshake
	IdleTimeout time.Duration // 0 disables read-deadline enforcement
}

// Peer wraps one live connection: framing, handshake, and a blocking
// message loop dispatched to a Handler. Grounded on the teacher's own
// connection-level Peer, adapted from its binary command/payload framing
// to this protocol's tagged-JSON envelopes.
type Peer struct {
	Conn    net.Conn
	Role    PeerRole
	Config  PeerConfig
	Remote  Handshake
	Address string
}

func NewPeer(conn net.Conn, role PeerRole, cfg PeerConfig) (*Peer, error) {
	if conn == nil {
		return nil, fmt.Errorf("p2p: peer: nil conn")
	}
	return &Peer{Conn: conn, Role: role, Config: cfg, Address: conn.RemoteAddr().String()}, nil
}

// Handshake exchanges Handshake messages in both directions and validates
// the peer's response against ours. The dialer sends first.
func (p *Peer) Handshake() (HandshakeOutcome, error) {
	if p.Role == RoleOutbound {
		if err := WriteFrame(p.Conn, p.Config.Magic, p.Config.Local); err != nil {
			return HandshakeOutcome{}, err
		}
	}
	raw, err := ReadFrame(p.Conn, p.Config.Magic)
	if err != nil {
		return HandshakeOutcome{}, err
	}
	decoded, err := DecodeMessage(raw)
	if err != nil {
		return HandshakeOutcome{}, err
	}
	remote, ok := decoded.(*Handshake)
	if !ok {
		return HandshakeOutcome{}, fmt.Errorf("p2p: peer: expected Handshake, got %T", decoded)
	}
	p.Remote = *remote
	if p.Role == RoleInbound {
		if err := WriteFrame(p.Conn, p.Config.Magic, p.Config.Local); err != nil {
			return HandshakeOutcome{}, err
		}
	}
	return ValidateHandshake(p.Config.Local, p.Remote, p.Config.Network), nil
}

// Send frames and writes a single message.
func (p *Peer) Send(msg any) error {
	return WriteFrame(p.Conn, p.Config.Magic, msg)
}

// Run blocks, reading and dispatching frames until ctx is cancelled or the
// connection fails. A malformed frame is returned as an error (a
// *ReadError with Disconnect set) for the caller to log rather than
// silently dropped, since framing-level corruption always warrants closing
// the connection; a well-framed payload that fails to decode is dropped
// and the connection kept.
func (p *Peer) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return fmt.Errorf("p2p: peer: nil handler")
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Conn.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if p.Config.IdleTimeout > 0 {
			_ = p.Conn.SetReadDeadline(time.Now().Add(p.Config.IdleTimeout))
		}
		raw, err := ReadFrame(p.Conn, p.Config.Magic)
		if err != nil {
			return err
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			continue // malformed payload within a valid frame: drop, keep connection
		}
		if err := dispatch(p, h, msg); err != nil {
			return err
		}
	}
}

func dispatch(p *Peer, h Handler, msg any) error {
	switch m := msg.(type) {
	case *TransactionMsg:
		return h.OnTransaction(p, m)
	case *VoteMsg:
		return h.OnVote(p, m)
	case *BlockProposalMsg:
		return h.OnBlockProposal(p, m)
	case *GetBlockMsg:
		return h.OnGetBlock(p, m)
	case *BlockResponseMsg:
		return h.OnBlockResponse(p, m)
	case *GetBlockchainInfoMsg:
		return h.OnGetBlockchainInfo(p, m)
	case *BlockchainInfoResponseMsg:
		return h.OnBlockchainInfoResponse(p, m)
	case *UTXOStateQueryMsg:
		return h.OnUTXOStateQuery(p, m)
	case *UTXOStateResponseMsg:
		return h.OnUTXOStateResponse(p, m)
	case *UTXOStateNotificationMsg:
		return h.OnUTXOStateNotification(p, m)
	case *SubscribeMsg:
		return h.OnSubscribe(p, m)
	case *UnsubscribeMsg:
		return h.OnUnsubscribe(p, m)
	case *CatchUpRequestMsg:
		return h.OnCatchUpRequest(p, m)
	case *UpdateTipMsg:
		return h.OnUpdateTip(p, m)
	case *Handshake:
		return nil // a second handshake after the initial exchange is ignored
	default:
		return nil
	}
}
