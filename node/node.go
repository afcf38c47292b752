package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"timecore.dev/node/consensus"
	"timecore.dev/node/node/p2p"
	"timecore.dev/node/node/store"
)

// Node wires every engine into a single running process, constructed once
// at startup per spec.md §9's design note. cmd/timed-node owns the
// process lifecycle (signals, flags); Node owns the running system.
type Node struct {
	cfg Config
	log *Logger

	db        *store.DB
	utxos     *UTXOSet
	mempool   *Mempool
	registry  *MasternodeRegistry
	finality  *FinalityEngine
	chain     *ChainManager
	producer  *BlockProducer
	quar       *Quarantine
	transport  *PeerManager
	metrics    *Metrics
	registerer *prometheus.Registry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// genesisFile is the on-disk JSON shape for a genesis block, loaded once
// at startup from Config.GenesisPath.
type genesisFile struct {
	Block consensus.Block `json:"block"`
}

// LoadGenesisBlock reads and decodes the genesis block named by path.
func LoadGenesisBlock(path string) (consensus.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return consensus.Block{}, fmt.Errorf("node: read genesis file: %w", err)
	}
	var gf genesisFile
	if err := json.Unmarshal(raw, &gf); err != nil {
		return consensus.Block{}, fmt.Errorf("node: decode genesis file: %w", err)
	}
	return gf.Block, nil
}

// New constructs every engine and opens the durable store, but does not
// yet accept connections or run any background loop; call Start for that.
func New(cfg Config, log *Logger) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("node: create data dir: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "chain.db"))
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	genesis, err := LoadGenesisBlock(cfg.GenesisPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	genesisHash := consensus.BlockHash(genesis.Header)

	utxos := NewUTXOSet(time.Now)
	registry := NewMasternodeRegistry()
	mempool := NewMempool(cfg.MempoolMemoryBudgetBytes, log)
	chain := NewChainManager(db, utxos, mempool, registry, log, ChainConfig{
		GenesisHash:   genesisHash,
		MaxReorgDepth: cfg.MaxReorgDepth,
	})

	missing, err := chain.LoadFromDisk()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("node: load chain from disk: %w", err)
	}
	if _, tipHash := chain.Tip(); tipHash == ([32]byte{}) {
		if err := chain.InitGenesis(genesis); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("node: init genesis: %w", err)
		}
	}
	for _, h := range missing {
		log.Warnf("node: missing block at height %d; will request from peers once connected", h)
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	utxos.SetDropHook(func() { metrics.SubscriberDrops.Inc() })

	finality := NewFinalityEngine(utxos, registry, mempool, log, FinalityConfig{
		VoteTimeout: time.Duration(cfg.VoteTimeoutSeconds) * time.Second,
		CurrentHeight: func() uint64 {
			h, _ := chain.Tip()
			return h
		},
		OnApproved: func(tx consensus.Transaction, txid [32]byte) {
			metrics.TransactionsVoted.Inc()
		},
		OnRejected: func(tx consensus.Transaction, txid [32]byte) {
			metrics.TransactionsRejected.Inc()
		},
		OnByzantine: func(report ByzantineReport) {
			metrics.ByzantineReports.Inc()
			log.Warnf("node: byzantine evidence from %s on tx %x: %s", report.VoterAddr, report.Txid, report.Reason)
		},
	})

	quar := NewQuarantine(cfg.RateLimitPerWindow, cfg.RateLimitWindowSecs, cfg.RateLimitBurst, 65536)

	local := p2p.Handshake{
		Type:            p2p.TypeHandshake,
		ProtocolVersion: p2p.LocalProtocolVersion,
		Network:         networkLabel(cfg.Network),
		ListenAddr:      cfg.BindAddr,
		Capabilities:    []string{"utxo-state", "subscribe"},
		GenesisHash:     &genesisHash,
	}
	transport := NewPeerManager(cfg, local, log, quar, chain, utxos, mempool, finality, registry)

	var fetcher PeerBlockFetcher = transport
	producer := NewBlockProducer(cfg, registry, fetcher, log)

	return &Node{
		cfg:       cfg,
		log:       log,
		db:        db,
		utxos:     utxos,
		mempool:   mempool,
		registry:  registry,
		finality:  finality,
		chain:     chain,
		producer:  producer,
		quar:      quar,
		transport: transport,
		metrics:   metrics,
		registerer: reg,
	}, nil
}

// Registry exposes the node's metrics registry so cmd/timed-node can serve
// it over HTTP (e.g. via promhttp.HandlerFor).
func (n *Node) Registry() *prometheus.Registry {
	return n.registerer
}

func networkLabel(n Network) string {
	if n == Testnet {
		return "Testnet"
	}
	return "Mainnet"
}

// Start begins accepting connections, dialing configured peers, and
// running the daily block-production loop. The listener and every loop run
// on background goroutines, and Start returns without waiting for the
// listener to bind; background work continues until ctx is cancelled or
// Stop is called.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.mempool.StartMemoryMonitor(func(txid [32]byte) {
		n.log.Debugf("node: mempool evicted %x under memory pressure", txid)
	})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.transport.Listen(runCtx, n.cfg.BindAddr); err != nil {
			n.log.Errorf("node: listener stopped: %v", err)
		}
	}()

	for _, addr := range n.cfg.Peers {
		addr := addr
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.transport.Dial(runCtx, addr); err != nil {
				n.log.Warnf("node: dial %s failed: %v", addr, err)
			}
		}()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runBlockProductionLoop(runCtx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runLockExpiryLoop(runCtx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runMetricsRefreshLoop(runCtx)
	}()

	return nil
}

// runMetricsRefreshLoop periodically samples point-in-time state (mempool
// size, connected/quarantined peer counts) into gauges; counters are
// updated inline at the point of occurrence instead.
func (n *Node) runMetricsRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.metrics.MempoolSize.Set(float64(n.mempool.Len()))
			n.mempool.mu.Lock()
			mempoolBytes := n.mempool.sizeSum
			n.mempool.mu.Unlock()
			n.metrics.MempoolBytes.Set(float64(mempoolBytes))
			n.metrics.ConnectedPeers.Set(float64(len(n.transport.Peers())))
			n.metrics.QuarantinedPeers.Set(float64(n.quar.Count()))
		}
	}
}

// Stop cancels all background work and closes the store. It blocks until
// every goroutine started by Start has exited.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.mempool.Stop()
	n.wg.Wait()
	return n.db.Close()
}

// runBlockProductionLoop fires one round at each configured interval
// boundary, per spec.md §4.6.
func (n *Node) runBlockProductionLoop(ctx context.Context) {
	interval := time.Duration(n.cfg.BlockIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n.produceRound(now)
		}
	}
}

func (n *Node) produceRound(now time.Time) {
	height, hash := n.chain.Tip()
	finalized := n.collectFinalizedTransactions()
	block, ok := n.producer.ProduceRound(height, hash, finalized, now)
	if !ok {
		n.metrics.BlockRoundsFailed.Inc()
		n.log.Warnf("node: block production round for height %d failed to reach quorum", height+1)
		return
	}

	expectedCoinbase := block.Transactions[0].Outputs
	inputValues := n.inputValuesFor(block)
	if err := n.chain.Ingest(block, expectedCoinbase, inputValues); err != nil {
		n.log.Errorf("node: failed to ingest locally produced block %d: %v", height+1, err)
		return
	}
	n.metrics.BlocksProduced.Inc()

	tip, tipHash := n.chain.Tip()
	n.broadcastUpdateTip(tip, tipHash)
}

// collectFinalizedTransactions drains the mempool of every transaction the
// finality engine has approved since the last round. In this single-process
// design, finalized transactions remain pinned in the mempool until a block
// confirms them, so "finalized" here means present and unlocked-to-spend.
func (n *Node) collectFinalizedTransactions() []FinalizedTx {
	all := n.mempool.GetAll()
	out := make([]FinalizedTx, 0, len(all))
	for _, tx := range all {
		fee := n.feeFor(tx)
		out = append(out, FinalizedTx{Tx: tx, Fee: fee})
	}
	return out
}

// feeFor sums input values looked up from the live UTXO set minus output
// values. Inputs already spent out of the live set (already confirmed
// elsewhere) contribute zero, which undercounts pathological double-spend
// attempts rather than panicking; such transactions are rejected later by
// ValidateValueConservation during Ingest.
func (n *Node) feeFor(tx consensus.Transaction) uint64 {
	var in, out uint64
	for _, input := range tx.Inputs {
		entry, ok := n.utxos.Get(input.PreviousOutput)
		if ok {
			in += entry.UTXO.Value
		}
	}
	for _, o := range tx.Outputs {
		out += o.Value
	}
	if in < out {
		return 0
	}
	return in - out
}

func (n *Node) inputValuesFor(block consensus.Block) map[consensus.OutPoint]uint64 {
	values := make(map[consensus.OutPoint]uint64)
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		for _, input := range tx.Inputs {
			if entry, ok := n.utxos.Get(input.PreviousOutput); ok {
				values[input.PreviousOutput] = entry.UTXO.Value
			}
		}
	}
	return values
}

func (n *Node) broadcastUpdateTip(height uint64, hash [32]byte) {
	msg := &p2p.UpdateTipMsg{Type: p2p.TypeUpdateTip, Height: height, Hash: hash}
	for _, id := range n.transport.Peers() {
		n.transport.mu.Lock()
		handle, ok := n.transport.peers[id]
		n.transport.mu.Unlock()
		if !ok {
			continue
		}
		if err := handle.Peer.Send(msg); err != nil {
			n.log.Debugf("node: failed to send UpdateTip to %s: %v", id, err)
		}
	}
}

// broadcastTransaction re-gossips a locally submitted transaction to every
// connected peer, mirroring how an inbound TransactionMsg is handled by
// PeerManager.OnTransaction.
func (n *Node) broadcastTransaction(tx consensus.Transaction) {
	msg := &p2p.TransactionMsg{Type: p2p.TypeTransaction, Tx: tx}
	for _, id := range n.transport.Peers() {
		n.transport.mu.Lock()
		handle, ok := n.transport.peers[id]
		n.transport.mu.Unlock()
		if !ok {
			continue
		}
		if err := handle.Peer.Send(msg); err != nil {
			n.log.Debugf("node: failed to send Transaction to %s: %v", id, err)
		}
	}
}

// runLockExpiryLoop reverts any UTXO stuck in Locked past the timeout back
// to Unspent, per spec.md §4.1's sole reverse edge.
func (n *Node) runLockExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := n.utxos.ExpireLocks(60 * time.Second)
			if len(expired) > 0 {
				n.log.Debugf("node: expired %d stale lock(s)", len(expired))
			}
		}
	}
}
