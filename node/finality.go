package node

import (
	"sync"
	"time"

	"timecore.dev/node/consensus"
)

// TxState is the per-transaction finality state machine from spec.md §4.5.
type TxState int

const (
	TxSubmitted TxState = iota
	TxBroadcasting
	TxVoting
	TxApproved
	TxRejected
)

func (s TxState) String() string {
	switch s {
	case TxSubmitted:
		return "Submitted"
	case TxBroadcasting:
		return "Broadcasting"
	case TxVoting:
		return "Voting"
	case TxApproved:
		return "Approved"
	case TxRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// pendingTx tracks one in-flight transaction's vote tally. The engine holds
// one of these per submitted transaction until it reaches Approved or
// Rejected.
type pendingTx struct {
	mu sync.Mutex

	tx    consensus.Transaction
	txid  [32]byte
	state TxState

	approvalsWeight  uint64
	rejectionsWeight uint64
	totalWeight      uint64

	voters map[string]bool // address -> approve, for duplicate-vote detection

	startedAt time.Time
	done      chan struct{} // closed when state becomes terminal
}

// ByzantineReport is emitted when a masternode votes twice on the same
// transaction — conclusive evidence of misbehavior, per spec.md §4.5.
type ByzantineReport struct {
	VoterAddr string
	Txid      [32]byte
	Reason    string
}

// FinalityEngine drives the Submitted -> Broadcasting -> Voting ->
// Approved|Rejected state machine described in spec.md §4.5.
type FinalityEngine struct {
	utxos    *UTXOSet
	registry *MasternodeRegistry
	mempool  *Mempool
	log      *Logger

	voteTimeout   time.Duration
	currentHeight func() uint64

	onApproved  func(tx consensus.Transaction, txid [32]byte)
	onRejected  func(tx consensus.Transaction, txid [32]byte)
	onByzantine func(ByzantineReport)

	mu      sync.Mutex
	pending map[[32]byte]*pendingTx
}

// FinalityConfig groups the callbacks and parameters FinalityEngine needs
// from the rest of the node.
type FinalityConfig struct {
	VoteTimeout   time.Duration
	CurrentHeight func() uint64
	OnApproved    func(tx consensus.Transaction, txid [32]byte)
	OnRejected    func(tx consensus.Transaction, txid [32]byte)
	OnByzantine   func(ByzantineReport)
}

// NewFinalityEngine constructs an engine bound to the given UTXO set,
// masternode registry, and mempool.
func NewFinalityEngine(utxos *UTXOSet, registry *MasternodeRegistry, mempool *Mempool, log *Logger, cfg FinalityConfig) *FinalityEngine {
	if cfg.VoteTimeout == 0 {
		cfg.VoteTimeout = 60 * time.Second
	}
	if cfg.CurrentHeight == nil {
		cfg.CurrentHeight = func() uint64 { return 0 }
	}
	return &FinalityEngine{
		utxos:         utxos,
		registry:      registry,
		mempool:       mempool,
		log:           log,
		voteTimeout:   cfg.VoteTimeout,
		currentHeight: cfg.CurrentHeight,
		onApproved:    cfg.OnApproved,
		onRejected:    cfg.OnRejected,
		onByzantine:   cfg.OnByzantine,
		pending:       make(map[[32]byte]*pendingTx),
	}
}

// Submit moves a transaction from Submitted through Broadcasting into
// Voting: it locks every input UTXO (releasing all acquired locks and
// failing atomically if any lock fails), snapshots W_total, and begins the
// vote-timeout clock. The caller is expected to broadcast the transaction
// to peers immediately after Submit returns successfully.
func (e *FinalityEngine) Submit(tx consensus.Transaction) ([32]byte, error) {
	txid := consensus.Txid(tx)

	e.mu.Lock()
	if _, exists := e.pending[txid]; exists {
		e.mu.Unlock()
		return txid, nil // already in flight: idempotent resubmit
	}
	e.mu.Unlock()

	locked := make([]consensus.OutPoint, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if err := e.utxos.Lock(in.PreviousOutput, txid); err != nil {
			for _, op := range locked {
				e.utxos.Unlock(op, txid)
			}
			return txid, err
		}
		locked = append(locked, in.PreviousOutput)
	}

	totalWeight := e.registry.TotalWeight(e.currentHeight())
	for _, op := range locked {
		if err := e.utxos.MarkPending(op, txid, totalWeight); err != nil {
			for _, inner := range locked {
				e.utxos.Unlock(inner, txid)
			}
			return txid, err
		}
	}

	pt := &pendingTx{
		tx:          tx,
		txid:        txid,
		state:       TxVoting,
		totalWeight: totalWeight,
		voters:      make(map[string]bool),
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	e.mu.Lock()
	e.pending[txid] = pt
	e.mu.Unlock()

	go e.watchTimeout(pt)
	return txid, nil
}

// RecordVote applies a masternode's vote to an in-flight transaction. A
// second vote from the same address for the same txid is rejected as
// Byzantine evidence and reported via onByzantine rather than tallied.
// Votes from immature or unknown voters are accepted but contribute zero
// weight, per spec.md §4.5.
func (e *FinalityEngine) RecordVote(txid [32]byte, voterAddr string, approve bool) error {
	e.mu.Lock()
	pt, ok := e.pending[txid]
	e.mu.Unlock()
	if !ok {
		return newNodeErr(ErrPolicyViolation, CodeNotFound, "no in-flight transaction for this vote")
	}

	pt.mu.Lock()
	if pt.state != TxVoting {
		pt.mu.Unlock()
		return nil // already resolved: ignore late votes
	}
	if prevApprove, voted := pt.voters[voterAddr]; voted {
		pt.mu.Unlock()
		if e.onByzantine != nil && prevApprove != approve {
			e.onByzantine(ByzantineReport{VoterAddr: voterAddr, Txid: txid, Reason: "conflicting vote on same transaction"})
		} else if e.onByzantine != nil {
			e.onByzantine(ByzantineReport{VoterAddr: voterAddr, Txid: txid, Reason: "duplicate vote on same transaction"})
		}
		return newNodeErr(ErrPolicyViolation, CodeConflict, "voter already voted on this transaction")
	}
	pt.voters[voterAddr] = approve

	weight := e.registry.WeightOf(voterAddr, e.currentHeight())
	if approve {
		pt.approvalsWeight += weight
	} else {
		pt.rejectionsWeight += weight
	}

	quorum := consensus.WeightedQuorum(pt.totalWeight)
	approved := pt.approvalsWeight >= quorum
	rejected := consensus.IsRejected(pt.totalWeight, pt.rejectionsWeight)
	if approved {
		pt.state = TxApproved
	} else if rejected {
		pt.state = TxRejected
	}
	tx := pt.tx
	done := pt.done
	pt.mu.Unlock()

	switch {
	case approved:
		e.resolveApproved(tx, txid)
		close(done)
	case rejected:
		e.resolveRejected(tx, txid)
		close(done)
	}
	return nil
}

// watchTimeout enforces the 60-second (configurable) wall timeout: if the
// transaction hasn't reached a terminal state by then, it is Rejected and
// its locks released. Timeouts use a monotonic clock per spec.md §4.5.
func (e *FinalityEngine) watchTimeout(pt *pendingTx) {
	timer := time.NewTimer(e.voteTimeout)
	defer timer.Stop()
	select {
	case <-pt.done:
		return
	case <-timer.C:
	}
	pt.mu.Lock()
	if pt.state != TxVoting {
		pt.mu.Unlock()
		return
	}
	pt.state = TxRejected
	tx := pt.tx
	txid := pt.txid
	pt.mu.Unlock()
	e.resolveRejected(tx, txid)
	close(pt.done)
}

func (e *FinalityEngine) resolveApproved(tx consensus.Transaction, txid [32]byte) {
	for _, in := range tx.Inputs {
		if err := e.utxos.Finalize(in.PreviousOutput, txid); err != nil && e.log != nil {
			e.log.Errorf("finality: finalize failed for %x: %v", txid, err)
		}
	}
	for i, out := range tx.Outputs {
		op := consensus.OutPoint{Txid: txid, Vout: uint32(i)}
		e.utxos.AddUnspent(op, out, ownerOf(out))
	}
	if e.mempool != nil {
		e.mempool.Pin(txid)
	}
	e.mu.Lock()
	delete(e.pending, txid)
	e.mu.Unlock()
	if e.onApproved != nil {
		e.onApproved(tx, txid)
	}
}

func (e *FinalityEngine) resolveRejected(tx consensus.Transaction, txid [32]byte) {
	for _, in := range tx.Inputs {
		e.utxos.Unlock(in.PreviousOutput, txid)
	}
	if e.mempool != nil {
		e.mempool.Remove(txid)
	}
	e.mu.Lock()
	delete(e.pending, txid)
	e.mu.Unlock()
	if e.onRejected != nil {
		e.onRejected(tx, txid)
	}
}

// ownerOf extracts the owning address from an output's script. Scripts in
// this repo are pay-to-address: ScriptPubKey holds the Base58Check address
// string verbatim rather than a scripting-language program.
func ownerOf(out consensus.TxOutput) string {
	return string(out.ScriptPubKey)
}
