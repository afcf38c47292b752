package node

import (
	"context"
	"net"
	"sync"
	"time"

	"timecore.dev/node/consensus"
	"timecore.dev/node/node/p2p"
)

// PeerHandle is what PeerManager tracks per live connection: the wire-level
// peer plus the quarantine-relevant address it was admitted under. Kept by
// ID string rather than embedding cyclic back-references, per spec.md §9's
// arena-style design note (also applied in node/store/peers.go).
type PeerHandle struct {
	ID       string
	Peer     *p2p.Peer
	Outbound bool
	cancel   context.CancelFunc
}

// PeerManager owns every live connection and is the single place inbound
// messages funnel through (rate_limit -> authenticate -> quarantine_check)
// before reaching an engine, per spec.md §4.4. It implements
// PeerBlockFetcher for BlockProducer's exchange phase and p2p.Handler for
// dispatch from each Peer's read loop.
type PeerManager struct {
	cfg      Config
	local    p2p.Handshake
	log      *Logger
	quar     *Quarantine
	chain    *ChainManager
	utxos    *UTXOSet
	mempool  *Mempool
	fin      *FinalityEngine
	registry *MasternodeRegistry

	mu    sync.Mutex
	peers map[string]*PeerHandle

	pendingMu sync.Mutex
	pending   map[string]chan *p2p.BlockResponseMsg
}

// NewPeerManager constructs a manager bound to the node's engines. local
// is this node's own Handshake, sent to every peer on connect. registry
// supplies the public key ValidateEnvelope verifies an inbound vote's
// signature against.
func NewPeerManager(cfg Config, local p2p.Handshake, log *Logger, quar *Quarantine, chain *ChainManager, utxos *UTXOSet, mempool *Mempool, fin *FinalityEngine, registry *MasternodeRegistry) *PeerManager {
	return &PeerManager{
		cfg:      cfg,
		local:    local,
		log:      log,
		quar:     quar,
		chain:    chain,
		utxos:    utxos,
		mempool:  mempool,
		fin:      fin,
		registry: registry,
		peers:    make(map[string]*PeerHandle),
		pending:  make(map[string]chan *p2p.BlockResponseMsg),
	}
}

// Peers returns the addresses of every currently connected peer, for
// PeerBlockFetcher.
func (m *PeerManager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// fetchBlock asks the named peer for the block at height and waits up to
// timeout for its response. Shared by FetchBlockHash and FetchBlock so
// both the exchange phase (hash comparison) and the reconciliation phase
// (full-block comparison, spec.md §4.6 item 4) drive the same round trip.
func (m *PeerManager) fetchBlock(peerAddr string, height uint64, timeout time.Duration) (consensus.Block, bool) {
	m.mu.Lock()
	target, ok := m.peers[peerAddr]
	m.mu.Unlock()
	if !ok {
		return consensus.Block{}, false
	}

	ch := make(chan *p2p.BlockResponseMsg, 1)
	m.pendingMu.Lock()
	m.pending[target.ID] = ch
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, target.ID)
		m.pendingMu.Unlock()
	}()

	if err := target.Peer.Send(&p2p.GetBlockMsg{Type: p2p.TypeGetBlock, Height: height}); err != nil {
		return consensus.Block{}, false
	}
	select {
	case resp := <-ch:
		if resp == nil || !resp.Found || resp.Block == nil {
			return consensus.Block{}, false
		}
		return *resp.Block, true
	case <-time.After(timeout):
		return consensus.Block{}, false
	}
}

// FetchBlockHash asks a specific peer for the block at height and reports
// its hash, for BlockProducer's exchange phase (spec.md §4.6 item 3).
func (m *PeerManager) FetchBlockHash(peerAddr string, height uint64, timeout time.Duration) ([32]byte, bool) {
	block, ok := m.fetchBlock(peerAddr, height, timeout)
	if !ok {
		return [32]byte{}, false
	}
	return consensus.BlockHash(block.Header), true
}

// FetchBlock asks a specific peer for the full block at height, for
// BlockProducer's reconciliation phase (spec.md §4.6 item 4), which needs
// the actual transaction set and coinbase structure, not just a hash.
func (m *PeerManager) FetchBlock(peerAddr string, height uint64, timeout time.Duration) (consensus.Block, bool) {
	return m.fetchBlock(peerAddr, height, timeout)
}

// WalletAddressOf returns the masternode address a connected peer declared
// in its handshake, if any. BlockProducer's reconciliation uses this to
// weigh a peer's candidate block by its registered masternode stake rather
// than counting every peer equally.
func (m *PeerManager) WalletAddressOf(peerAddr string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.peers[peerAddr]
	if !ok || target.Peer.Remote.WalletAddress == "" {
		return "", false
	}
	return target.Peer.Remote.WalletAddress, true
}

// Listen accepts inbound connections until ctx is cancelled.
func (m *PeerManager) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if m.log != nil {
					m.log.Warnf("transport: accept failed: %v", err)
				}
				continue
			}
		}
		go m.handleConn(ctx, conn, p2p.RoleInbound)
	}
}

// Dial connects to a peer address and runs its message loop until ctx is
// cancelled or the connection fails.
func (m *PeerManager) Dial(ctx context.Context, addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	m.handleConn(ctx, conn, p2p.RoleOutbound)
	return nil
}

func (m *PeerManager) handleConn(ctx context.Context, conn net.Conn, role p2p.PeerRole) {
	id := conn.RemoteAddr().String()
	if m.quar.IsQuarantined(id) {
		_ = conn.Close()
		return
	}

	peer, err := p2p.NewPeer(conn, role, p2p.PeerConfig{
		Magic:       m.cfg.Network.Magic(),
		Network:     m.local.Network,
		Local:       m.local,
		IdleTimeout: 2 * time.Minute,
	})
	if err != nil {
		_ = conn.Close()
		return
	}

	outcome, err := peer.Handshake()
	if err != nil {
		_ = conn.Close()
		return
	}
	if outcome.GenesisMismatch {
		m.quar.Quarantine(id, ReasonGenesisMismatch)
		_ = conn.Close()
		return
	}
	if !outcome.Accept {
		_ = conn.Close()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	handle := &PeerHandle{ID: id, Peer: peer, Outbound: role == p2p.RoleOutbound, cancel: cancel}
	m.mu.Lock()
	m.peers[id] = handle
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("transport: peer %s connected (outbound=%v)", id, handle.Outbound)
	}

	err = peer.Run(connCtx, m)

	m.mu.Lock()
	delete(m.peers, id)
	m.mu.Unlock()
	cancel()
	_ = conn.Close()
	if err != nil && m.log != nil {
		m.log.Infof("transport: peer %s disconnected: %v", id, err)
	}
}

// gate applies spec.md §4.4's ordered rate_limit check and quarantine
// membership. Per-message-kind authentication (signature/clock-skew/age/
// nonce, via ValidateEnvelope) is applied on top of gate by the handlers
// for message kinds that carry a signed envelope — currently votes, the
// only masternode-originated traffic this node accepts inbound.
func (m *PeerManager) gate(p *p2p.Peer) bool {
	return m.quar.Allow(p.Address)
}

func (m *PeerManager) OnTransaction(p *p2p.Peer, msg *p2p.TransactionMsg) error {
	if !m.gate(p) {
		return nil
	}
	_, err := m.fin.Submit(msg.Tx)
	if err != nil {
		m.quar.Quarantine(p.Address, ReasonInvalidTransaction)
	}
	return nil
}

// OnVote authenticates the vote's signed envelope (signature under the
// voter's registered key, clock skew, max age, and nonce freshness) before
// handing it to the finality engine, per spec.md §4.4's requirement that
// masternode-originated traffic pass authentication ahead of the
// component. An unknown voter address or a failed check quarantines the
// peer and drops the vote rather than tallying it.
func (m *PeerManager) OnVote(p *p2p.Peer, msg *p2p.VoteMsg) error {
	if !m.gate(p) {
		return nil
	}
	mn, ok := m.registry.Get(msg.Vote.VoterAddr)
	if !ok {
		m.quar.Quarantine(p.Address, ReasonConsensusViolation)
		return nil
	}
	if err := ValidateEnvelope(m.quar, mn.PublicKey, msg.Vote, uint64(msg.Vote.Timestamp), time.Now()); err != nil {
		m.quar.Quarantine(p.Address, ReasonConsensusViolation)
		return nil
	}
	if err := m.fin.RecordVote(msg.Vote.Target, msg.Vote.VoterAddr, msg.Vote.Approve); err != nil {
		if ne, ok := err.(*NodeError); ok && ne.Code == CodeConflict {
			m.quar.Quarantine(p.Address, ReasonConsensusViolation)
		}
	}
	return nil
}

func (m *PeerManager) OnBlockProposal(p *p2p.Peer, msg *p2p.BlockProposalMsg) error {
	if !m.gate(p) {
		return nil
	}
	return nil // deterministic mode does not act on unsolicited proposals, see p2p.BlockProposalMsg
}

func (m *PeerManager) OnGetBlock(p *p2p.Peer, msg *p2p.GetBlockMsg) error {
	if !m.gate(p) {
		return nil
	}
	blk, err := m.chain.db.GetBlock(msg.Height)
	if err != nil {
		return p.Send(&p2p.BlockResponseMsg{Type: p2p.TypeBlockResponse, Found: false})
	}
	return p.Send(&p2p.BlockResponseMsg{Type: p2p.TypeBlockResponse, Found: true, Block: &blk})
}

func (m *PeerManager) OnBlockResponse(p *p2p.Peer, msg *p2p.BlockResponseMsg) error {
	if !m.gate(p) {
		return nil
	}
	m.pendingMu.Lock()
	ch, ok := m.pending[p.Address]
	m.pendingMu.Unlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (m *PeerManager) OnGetBlockchainInfo(p *p2p.Peer, msg *p2p.GetBlockchainInfoMsg) error {
	if !m.gate(p) {
		return nil
	}
	height, hash := m.chain.Tip()
	return p.Send(&p2p.BlockchainInfoResponseMsg{
		Type:        p2p.TypeBlockchainInfoResponse,
		TipHeight:   height,
		TipHash:     hash,
		GenesisHash: m.chain.genesisHash,
	})
}

func (m *PeerManager) OnBlockchainInfoResponse(p *p2p.Peer, msg *p2p.BlockchainInfoResponseMsg) error {
	return nil // consumed by a future sync-manager; no-op until one exists
}

func (m *PeerManager) OnUTXOStateQuery(p *p2p.Peer, msg *p2p.UTXOStateQueryMsg) error {
	if !m.gate(p) {
		return nil
	}
	entry, ok := m.utxos.Get(msg.Outpoint)
	if !ok {
		return p.Send(&p2p.UTXOStateResponseMsg{Type: p2p.TypeUTXOStateResponse, Outpoint: msg.Outpoint, Found: false})
	}
	return p.Send(&p2p.UTXOStateResponseMsg{
		Type:     p2p.TypeUTXOStateResponse,
		Outpoint: msg.Outpoint,
		Found:    true,
		Status:   entry.State.Status.String(),
	})
}

func (m *PeerManager) OnUTXOStateResponse(p *p2p.Peer, msg *p2p.UTXOStateResponseMsg) error {
	return nil // answers are correlated by a higher-level RPC/query layer
}

func (m *PeerManager) OnUTXOStateNotification(p *p2p.Peer, msg *p2p.UTXOStateNotificationMsg) error {
	return nil // peers do not push notifications to one another; local subscribers use UTXOSet.Subscribe directly
}

func (m *PeerManager) OnSubscribe(p *p2p.Peer, msg *p2p.SubscribeMsg) error {
	return nil // remote subscription relay is not part of the node-to-node protocol's happy path
}

func (m *PeerManager) OnUnsubscribe(p *p2p.Peer, msg *p2p.UnsubscribeMsg) error {
	return nil
}

func (m *PeerManager) OnCatchUpRequest(p *p2p.Peer, msg *p2p.CatchUpRequestMsg) error {
	if !m.gate(p) {
		return nil
	}
	height, _ := m.chain.Tip()
	for h := msg.FromHeight + 1; h <= height; h++ {
		blk, err := m.chain.db.GetBlock(h)
		if err != nil {
			continue
		}
		if err := p.Send(&p2p.BlockResponseMsg{Type: p2p.TypeBlockResponse, Found: true, Block: &blk}); err != nil {
			return err
		}
	}
	return nil
}

func (m *PeerManager) OnUpdateTip(p *p2p.Peer, msg *p2p.UpdateTipMsg) error {
	if !m.gate(p) {
		return nil
	}
	height, hash := m.chain.Tip()
	if msg.Height > height {
		_, _ = m.FetchBlockHash(p.Address, msg.Height, 0) // best-effort nudge; real sync handled by a future sync-manager
		_ = hash
	}
	return nil
}

