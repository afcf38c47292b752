package node

import (
	"crypto/sha256"
	"sort"
	"time"

	"timecore.dev/node/consensus"
)

// ProducerState is the per-round state machine from spec.md §4.6:
// Idle -> Composing -> Exchanging -> Matched|Reconciling -> Finalized|Failed -> Idle.
type ProducerState int

const (
	StateIdle ProducerState = iota
	StateComposing
	StateExchanging
	StateMatched
	StateReconciling
	StateFinalized
	StateFailed
)

// FinalizedTx pairs a SpentFinalized transaction with the fee it paid, as
// tracked by the mempool at admission time (consensus.Transaction alone
// can't recover fee without looking up each input's prior value).
type FinalizedTx struct {
	Tx  consensus.Transaction
	Fee uint64
}

// ComposeBlock deterministically assembles the next block from the current
// chain tip, the active masternode set, and every SpentFinalized
// transaction outstanding at the target timestamp. Any two honest nodes
// given the same inputs produce byte-identical output, per spec.md §4.6's
// canonical ordering contract.
func ComposeBlock(prevHeight uint64, prevHash [32]byte, blockIntervalSeconds uint64, now time.Time, nodes []consensus.Masternode, finalized []FinalizedTx, potIterations uint64) consensus.Block {
	timestamp := floorToInterval(uint64(now.Unix()), blockIntervalSeconds)

	sorted := make([]consensus.Masternode, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	entries := make([]FinalizedTx, len(finalized))
	copy(entries, finalized)
	sort.Slice(entries, func(i, j int) bool {
		a, b := consensus.Txid(entries[i].Tx), consensus.Txid(entries[j].Tx)
		return lessBytes(a[:], b[:])
	})
	txs := make([]consensus.Transaction, len(entries))
	txids := make([][32]byte, len(entries))
	var totalFees uint64
	for i, e := range entries {
		txs[i] = e.Tx
		txids[i] = consensus.Txid(e.Tx)
		totalFees += e.Fee
	}

	wTotal := consensus.ActiveWeight(sorted, prevHeight+1)
	totalReward := consensus.TotalRewardPool(uint64(len(sorted)))
	rewards := consensus.SplitMasternodeRewards(sorted, totalReward, wTotal)

	coinbase := buildCoinbase(rewards, totalFees)

	allTxids := make([][32]byte, 0, len(txs)+1)
	allTxids = append(allTxids, consensus.Txid(coinbase))
	allTxids = append(allTxids, txids...)
	merkleRoot := consensus.MerkleRoot(allTxids)

	header := consensus.BlockHeader{
		Height:                 prevHeight + 1,
		PreviousHash:           prevHash,
		MerkleRoot:             merkleRoot,
		Timestamp:              timestamp,
		MasternodeCountsByTier: consensus.CountsByTier(sorted),
	}
	if potIterations > 0 {
		header.ProofOfTime = &consensus.ProofOfTime{
			Iterations: potIterations,
			Output:     iteratedSHA256(prevHash, timestamp, merkleRoot, potIterations),
		}
	}

	allTxs := make([]consensus.Transaction, 0, len(txs)+1)
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, txs...)
	return consensus.Block{Header: header, Transactions: allTxs}
}

func floorToInterval(unixSeconds, interval uint64) uint64 {
	if interval == 0 {
		return unixSeconds
	}
	return (unixSeconds / interval) * interval
}

func lessBytes(a, b []byte) bool {
	for k := range a {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

// buildCoinbase constructs the mandatory first transaction: empty inputs,
// per-masternode reward outputs (sorted by address), a treasury output,
// and a fee-accumulation output to the first masternode by sorted address.
// See spec.md §4.6 item 7.
func buildCoinbase(rewards []consensus.MasternodeReward, totalFees uint64) consensus.Transaction {
	outputs := make([]consensus.TxOutput, 0, len(rewards)+2)
	for _, r := range rewards {
		outputs = append(outputs, consensus.TxOutput{Value: r.Amount, ScriptPubKey: []byte(r.Address)})
	}
	outputs = append(outputs, consensus.TxOutput{Value: consensus.TreasuryPerBlock, ScriptPubKey: []byte("treasury")})
	if len(rewards) > 0 && totalFees > 0 {
		outputs = append(outputs, consensus.TxOutput{Value: totalFees, ScriptPubKey: []byte(rewards[0].Address)})
	}
	return consensus.Transaction{Version: 1, Inputs: nil, Outputs: outputs}
}

// iteratedSHA256 is the optional proof-of-time VDF from spec.md §4.6 item 9:
// iterated SHA-256 over (previous_hash, timestamp, merkle_root) for the
// configured iteration count. It runs synchronously on the caller's
// goroutine: ComposeBlock calls it inline, with no separate worker.
func iteratedSHA256(prevHash [32]byte, timestamp uint64, merkleRoot [32]byte, iterations uint64) [32]byte {
	var buf [32 + 8 + 32]byte
	copy(buf[:32], prevHash[:])
	for i := 0; i < 8; i++ {
		buf[32+i] = byte(timestamp >> (8 * uint(i)))
	}
	copy(buf[40:], merkleRoot[:])
	out := sha256.Sum256(buf[:])
	for i := uint64(1); i < iterations; i++ {
		out = sha256.Sum256(out[:])
	}
	return out
}

// PeerBlockFetcher abstracts the peer-transport calls used to collect
// candidate blocks for the height being produced. node/p2p implements it
// over the wire; tests can substitute a fake. FetchBlockHash targets a
// specific peer (not "some connected peer") so the exchange phase's match
// tally counts one response per peer instead of repeatedly querying
// whichever peer happens to be picked first. FetchBlock retrieves the full
// candidate block for reconciliation, and WalletAddressOf resolves a
// peer's declared masternode address so reconciliation can weigh its
// candidate by registered stake.
type PeerBlockFetcher interface {
	FetchBlockHash(peerAddr string, height uint64, timeout time.Duration) (hash [32]byte, ok bool)
	FetchBlock(peerAddr string, height uint64, timeout time.Duration) (block consensus.Block, ok bool)
	WalletAddressOf(peerAddr string) (addr string, ok bool)
	Peers() []string
}

// BlockProducer drives the per-round production state machine from
// spec.md §4.6: compose locally, exchange hashes with peers for up to
// block_exchange_seconds, finalize when at least ⌈2N/3⌉ active masternodes
// (counted, not weighted) share the local hash, else reconcile by weighted
// majority or fail the round.
type BlockProducer struct {
	cfg      Config
	registry *MasternodeRegistry
	fetcher  PeerBlockFetcher
	log      *Logger

	state ProducerState
}

// NewBlockProducer constructs a producer bound to the given registry and
// peer fetcher.
func NewBlockProducer(cfg Config, registry *MasternodeRegistry, fetcher PeerBlockFetcher, log *Logger) *BlockProducer {
	return &BlockProducer{cfg: cfg, registry: registry, fetcher: fetcher, log: log, state: StateIdle}
}

// ProduceRound runs one full round: compose, exchange, and finalize or
// fail. It never blocks past block_exchange_seconds during the exchange
// phase. Returns the finalized block and true, or a zero block and false
// if the round failed to reach quorum.
func (p *BlockProducer) ProduceRound(prevHeight uint64, prevHash [32]byte, finalized []FinalizedTx, now time.Time) (consensus.Block, bool) {
	p.state = StateComposing
	nodes := p.registry.ActiveMature(prevHeight + 1)
	local := ComposeBlock(prevHeight, prevHash, p.cfg.BlockIntervalSeconds, now, nodes, finalized, p.cfg.ProofOfTimeIterations)
	localHash := consensus.BlockHash(local.Header)

	p.state = StateExchanging
	// Block-hash agreement is counted by masternode, not by weight: spec.md
	// §4.6 item 3 uses matches ≥ ⌈2N/3⌉ over N active masternodes, distinct
	// from §4.5's weighted vote quorum.
	quorum := ceilDivInt(2*len(nodes), 3)

	matches := 1 // the local node's own production counts as a match
	deadline := time.Duration(p.cfg.BlockExchangeSeconds) * time.Second
	peerHashes := make(map[string][32]byte)
	if p.fetcher != nil {
		exchangeEnd := time.Now().Add(deadline)
		for _, peerAddr := range p.fetcher.Peers() {
			remaining := time.Until(exchangeEnd)
			if remaining <= 0 {
				break
			}
			hash, ok := p.fetcher.FetchBlockHash(peerAddr, prevHeight+1, remaining)
			if !ok {
				continue
			}
			peerHashes[peerAddr] = hash
			if hash == localHash {
				matches++
			}
		}
	}

	if matches >= quorum {
		p.state = StateMatched
		p.state = StateFinalized
		return local, true
	}

	p.state = StateReconciling
	if len(peerHashes) > 0 {
		if reconciled, ok := p.reconcile(prevHeight, prevHeight+1, local, localHash, peerHashes, deadline); ok {
			p.state = StateFinalized
			return reconciled, true
		}
	}

	// spec.md §4.6 item 5: no ⌈2N/3⌉ agreement reachable and no peer
	// answered the exchange (e.g. a network partition left every peer query
	// empty), so there is nothing to reconcile against — the round fails;
	// the next scheduled boundary retries.
	p.state = StateFailed
	if p.log != nil {
		p.log.Warnf("block producer: round for height %d failed to reach quorum (%d/%d)", prevHeight+1, matches, quorum)
	}
	return consensus.Block{}, false
}

// reconciliationCandidate tracks one distinct block hash seen during
// reconciliation, the full block backing it, and the summed masternode
// weight supporting it.
type reconciliationCandidate struct {
	block  consensus.Block
	weight uint64
}

// reconcile implements spec.md §4.6 item 4: compare the disagreeing
// candidates and adopt the one supported by weighted majority, tie-broken
// by lowest hash. The wire protocol only exposes whole blocks via
// GetBlock/BlockResponse (there is no separate message for "transaction
// set" or "masternode list" alone), so this groups by full-block hash
// rather than recombining the three dimensions field-by-field — two
// candidates share a group only when every one of those fields already
// matches, which is exactly the condition item 4a-4b checks for. Within
// each group, weight is the sum of registered masternode stake for every
// supporter whose declared wallet address resolves to a registry entry;
// an unresolvable supporter (peer didn't declare a wallet address, or it
// isn't registered) still contributes a nominal weight of 1 rather than
// being discarded, so an all-unregistered-peer round can still reconcile.
func (p *BlockProducer) reconcile(prevHeight, height uint64, local consensus.Block, localHash [32]byte, peerHashes map[string][32]byte, timeout time.Duration) (consensus.Block, bool) {
	groups := make(map[[32]byte]*reconciliationCandidate)
	groups[localHash] = &reconciliationCandidate{block: local, weight: p.weightFor("", height)}

	for peerAddr, hash := range peerHashes {
		g, ok := groups[hash]
		if !ok {
			block, ok := p.fetcher.FetchBlock(peerAddr, prevHeight+1, timeout)
			if !ok || consensus.BlockHash(block.Header) != hash {
				continue
			}
			g = &reconciliationCandidate{block: block}
			groups[hash] = g
		}
		g.weight += p.weightFor(peerAddr, height)
	}

	var winnerHash [32]byte
	var winner *reconciliationCandidate
	for hash, g := range groups {
		if winner == nil || g.weight > winner.weight || (g.weight == winner.weight && lessBytes(hash[:], winnerHash[:])) {
			winner, winnerHash = g, hash
		}
	}
	if winner == nil {
		return consensus.Block{}, false
	}
	return winner.block, true
}

// weightFor resolves a supporter's masternode stake for reconciliation
// tie-breaking. peerAddr == "" is the local node's own candidate, which
// carries no peer-declared wallet address to resolve against the registry,
// so it counts as a nominal supporter of weight 1 like an unregistered
// peer would.
func (p *BlockProducer) weightFor(peerAddr string, height uint64) uint64 {
	if peerAddr == "" {
		return 1
	}
	addr, ok := p.fetcher.WalletAddressOf(peerAddr)
	if !ok {
		return 1
	}
	w := p.registry.WeightOf(addr, height)
	if w == 0 {
		return 1
	}
	return w
}

func ceilDivInt(numerator, denominator int) int {
	if denominator == 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}
