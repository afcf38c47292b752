package p2p

import (
	"context"
	"net"
	"testing"
	"time"
)

var testMagic = [4]byte{'T', 'I', 'M', 'E'}

func localHandshake(network string) Handshake {
	return Handshake{
		Type:            TypeHandshake,
		ProtocolVersion: LocalProtocolVersion,
		Network:         network,
		ListenAddr:      "127.0.0.1:0",
	}
}

func pipePeers(t *testing.T, network string) (dialer *Peer, listener *Peer) {
	t.Helper()
	a, b := net.Pipe()
	cfg := PeerConfig{Magic: testMagic, Network: network, Local: localHandshake(network)}
	dialer, err := NewPeer(a, RoleOutbound, cfg)
	if err != nil {
		t.Fatalf("new dialer peer: %v", err)
	}
	listener, err = NewPeer(b, RoleInbound, cfg)
	if err != nil {
		t.Fatalf("new listener peer: %v", err)
	}
	return dialer, listener
}

func TestPeerHandshakeAcceptsMatchingSides(t *testing.T) {
	dialer, listener := pipePeers(t, "Mainnet")
	defer dialer.Conn.Close()
	defer listener.Conn.Close()

	var dialOutcome, listenOutcome HandshakeOutcome
	var dialErr, listenErr error
	done := make(chan struct{})
	go func() {
		dialOutcome, dialErr = dialer.Handshake()
		close(done)
	}()
	listenOutcome, listenErr = listener.Handshake()
	<-done

	if dialErr != nil || listenErr != nil {
		t.Fatalf("unexpected handshake errors: dial=%v listen=%v", dialErr, listenErr)
	}
	if !dialOutcome.Accept || !listenOutcome.Accept {
		t.Fatalf("expected both sides to accept: dial=%+v listen=%+v", dialOutcome, listenOutcome)
	}
}

func TestPeerHandshakeDropsNetworkMismatch(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	dialCfg := PeerConfig{Magic: testMagic, Network: "Mainnet", Local: localHandshake("Mainnet")}
	listenCfg := PeerConfig{Magic: testMagic, Network: "Testnet", Local: localHandshake("Testnet")}
	dialer, _ := NewPeer(a, RoleOutbound, dialCfg)
	listener, _ := NewPeer(b, RoleInbound, listenCfg)

	done := make(chan struct{})
	go func() {
		dialer.Handshake()
		close(done)
	}()
	outcome, err := listener.Handshake()
	<-done

	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !outcome.Drop {
		t.Fatalf("expected network mismatch to be dropped, got %+v", outcome)
	}
}

// recordingHandler counts dispatched calls by message kind; every method
// not explicitly overridden returns nil.
type recordingHandler struct {
	transactions int
	votes        int
	updateTips   int
}

func (r *recordingHandler) OnTransaction(p *Peer, msg *TransactionMsg) error {
	r.transactions++
	return nil
}
func (r *recordingHandler) OnVote(p *Peer, msg *VoteMsg) error { r.votes++; return nil }
func (r *recordingHandler) OnBlockProposal(p *Peer, msg *BlockProposalMsg) error        { return nil }
func (r *recordingHandler) OnGetBlock(p *Peer, msg *GetBlockMsg) error                  { return nil }
func (r *recordingHandler) OnBlockResponse(p *Peer, msg *BlockResponseMsg) error        { return nil }
func (r *recordingHandler) OnGetBlockchainInfo(p *Peer, msg *GetBlockchainInfoMsg) error { return nil }
func (r *recordingHandler) OnBlockchainInfoResponse(p *Peer, msg *BlockchainInfoResponseMsg) error {
	return nil
}
func (r *recordingHandler) OnUTXOStateQuery(p *Peer, msg *UTXOStateQueryMsg) error { return nil }
func (r *recordingHandler) OnUTXOStateResponse(p *Peer, msg *UTXOStateResponseMsg) error {
	return nil
}
func (r *recordingHandler) OnUTXOStateNotification(p *Peer, msg *UTXOStateNotificationMsg) error {
	return nil
}
func (r *recordingHandler) OnSubscribe(p *Peer, msg *SubscribeMsg) error     { return nil }
func (r *recordingHandler) OnUnsubscribe(p *Peer, msg *UnsubscribeMsg) error { return nil }
func (r *recordingHandler) OnCatchUpRequest(p *Peer, msg *CatchUpRequestMsg) error {
	return nil
}
func (r *recordingHandler) OnUpdateTip(p *Peer, msg *UpdateTipMsg) error {
	r.updateTips++
	return nil
}

func TestPeerRunDispatchesDecodedMessagesToHandler(t *testing.T) {
	dialer, listener := pipePeers(t, "Mainnet")
	defer dialer.Conn.Close()

	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- listener.Run(ctx, h) }()

	if err := dialer.Send(&TransactionMsg{Type: TypeTransaction}); err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	if err := dialer.Send(&UpdateTipMsg{Type: TypeUpdateTip}); err != nil {
		t.Fatalf("send update tip: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for h.transactions == 0 || h.updateTips == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dispatch: %+v", h)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-runDone
}

func TestPeerRunReturnsNilHandlerError(t *testing.T) {
	dialer, listener := pipePeers(t, "Mainnet")
	defer dialer.Conn.Close()
	defer listener.Conn.Close()

	if err := listener.Run(context.Background(), nil); err == nil {
		t.Fatalf("expected an error for a nil handler")
	}
}
