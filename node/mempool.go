package node

import (
	"container/heap"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"timecore.dev/node/consensus"
)

// perEntryOverhead approximates the bookkeeping cost (map entries, heap
// slot, index) the mempool carries per transaction beyond its serialized
// bytes, for the purposes of the memory-pressure budget in spec.md §5.
const perEntryOverhead = 256

// mempoolEntry is one admitted transaction plus the bookkeeping the
// eviction heap needs.
type mempoolEntry struct {
	txid      [32]byte
	tx        consensus.Transaction
	feeRate   float64 // fee per serialized byte
	size      int
	admittedAt time.Time
	heapIndex int
}

// feeHeap is a min-heap over mempoolEntry ordered by feeRate, so the
// lowest-fee-rate transaction is always evictable in O(log n).
type feeHeap []*mempoolEntry

func (h feeHeap) Len() int            { return len(h) }
func (h feeHeap) Less(i, j int) bool  { return h[i].feeRate < h[j].feeRate }
func (h feeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *feeHeap) Push(x any) {
	e := x.(*mempoolEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *feeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Mempool is the bounded pending-transaction pool from spec.md §4.2. Admit
// records a transaction without inspecting its inputs; the pool tracks
// aggregate serialized size plus per-entry overhead, and evicts the
// lowest fee-rate entries under memory pressure. SpentFinalized
// transactions are never evicted — they have already cleared finality and
// are only waiting for the next settlement block.
type Mempool struct {
	mu      sync.Mutex
	byTxid  map[[32]byte]*mempoolEntry
	heap    feeHeap
	pinned  map[[32]byte]struct{} // SpentFinalized: never evicted
	sizeSum int

	budgetBytes   uint64
	nominalBudget uint64
	log           *Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMempool constructs an empty pool with the given byte budget.
func NewMempool(budgetBytes uint64, log *Logger) *Mempool {
	return &Mempool{
		byTxid:        make(map[[32]byte]*mempoolEntry),
		pinned:        make(map[[32]byte]struct{}),
		budgetBytes:   budgetBytes,
		nominalBudget: budgetBytes,
		log:           log,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Admit adds a transaction with its computed fee rate. Admitting a txid
// that is already pooled is a no-op that returns nil; re-admission after
// eviction or removal is allowed (idempotent by txid).
func (m *Mempool) Admit(tx consensus.Transaction, fee uint64) error {
	txid := consensus.Txid(tx)
	raw := consensus.SerializeTransaction(tx)
	size := len(raw)
	if size == 0 {
		return newNodeErr(ErrStructural, CodeBadStructure, "empty transaction serialization")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byTxid[txid]; exists {
		return nil
	}
	e := &mempoolEntry{
		txid:       txid,
		tx:         tx,
		feeRate:    float64(fee) / float64(size),
		size:       size,
		admittedAt: time.Now(),
	}
	m.byTxid[txid] = e
	heap.Push(&m.heap, e)
	m.sizeSum += size + perEntryOverhead
	return nil
}

// Pin marks a transaction SpentFinalized, exempting it from eviction per
// spec.md §4.2's "never evict settlement-bound transactions" rule.
func (m *Mempool) Pin(txid [32]byte) {
	m.mu.Lock()
	m.pinned[txid] = struct{}{}
	m.mu.Unlock()
}

// Remove drops a transaction (confirmed into a block, or explicitly
// discarded) from the pool entirely.
func (m *Mempool) Remove(txid [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTxid[txid]
	if !ok {
		return
	}
	heap.Remove(&m.heap, e.heapIndex)
	delete(m.byTxid, txid)
	delete(m.pinned, txid)
	m.sizeSum -= e.size + perEntryOverhead
}

// GetAll returns every currently pooled transaction, for block composition
// (§4.6) and RPC introspection.
func (m *Mempool) GetAll() []consensus.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]consensus.Transaction, 0, len(m.byTxid))
	for _, e := range m.byTxid {
		out = append(out, e.tx)
	}
	return out
}

// Get returns the pending transaction for txid, or ok=false if it isn't
// currently admitted (never submitted, already evicted, or already
// confirmed and removed).
func (m *Mempool) Get(txid [32]byte) (consensus.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTxid[txid]
	if !ok {
		return consensus.Transaction{}, false
	}
	return e.tx, true
}

// Len reports the current transaction count.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTxid)
}

// evictUnderPressure evicts lowest-fee-rate, non-pinned entries until the
// pool's tracked footprint is back under budget. Returns the evicted
// txids so callers (finality engine) can unwind their Locked UTXOs.
func (m *Mempool) evictUnderPressure() [][32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted [][32]byte
	if uint64(m.sizeSum) <= m.budgetBytes {
		return evicted
	}
	// Walk the heap by increasing fee rate, skipping pinned entries, until
	// either we're back under budget or only pinned entries remain.
	skipped := make([]*mempoolEntry, 0)
	for uint64(m.sizeSum) > m.budgetBytes && m.heap.Len() > 0 {
		e := heap.Pop(&m.heap).(*mempoolEntry)
		if _, isPinned := m.pinned[e.txid]; isPinned {
			skipped = append(skipped, e)
			continue
		}
		delete(m.byTxid, e.txid)
		m.sizeSum -= e.size + perEntryOverhead
		evicted = append(evicted, e.txid)
	}
	for _, e := range skipped {
		heap.Push(&m.heap, e)
	}
	return evicted
}

// StartMemoryMonitor polls system memory every 5 seconds (spec.md §4.2,
// §5) and tightens the effective budget under pressure, evicting as
// needed. onEvict is called for every txid evicted so the caller can
// release the corresponding UTXO locks.
func (m *Mempool) StartMemoryMonitor(onEvict func(txid [32]byte)) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.adjustForSystemMemory()
				for _, txid := range m.evictUnderPressure() {
					if onEvict != nil {
						onEvict(txid)
					}
				}
			}
		}
	}()
}

// Stop halts the memory monitor goroutine.
func (m *Mempool) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// adjustForSystemMemory shrinks the effective budget toward zero as system
// memory pressure rises, per spec.md §5's "degrade gracefully" framing —
// above 85% used, the budget is halved; above 95%, quartered.
func (m *Mempool) adjustForSystemMemory() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		if m.log != nil {
			m.log.Warnf("mempool: memory read failed: %v", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case vm.UsedPercent >= 95:
		m.budgetBytes = m.nominalBudget / 4
	case vm.UsedPercent >= 85:
		m.budgetBytes = m.nominalBudget / 2
	default:
		m.budgetBytes = m.nominalBudget
	}
}
