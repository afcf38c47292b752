package node

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"timecore.dev/node/consensus"
)

// UTXOStatus is the tagged-variant discriminator for UTXOState. See
// spec.md §3.
type UTXOStatus uint8

const (
	StatusUnspent UTXOStatus = iota
	StatusLocked
	StatusSpentPending
	StatusSpentFinalized
	StatusConfirmed
)

func (s UTXOStatus) String() string {
	switch s {
	case StatusUnspent:
		return "Unspent"
	case StatusLocked:
		return "Locked"
	case StatusSpentPending:
		return "SpentPending"
	case StatusSpentFinalized:
		return "SpentFinalized"
	case StatusConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// UTXOState is the tagged-union UTXO lifecycle state from spec.md §3. Not
// every field is meaningful in every Status; see the constructors below.
type UTXOState struct {
	Status UTXOStatus

	Txid [32]byte // the claiming/spending transaction; zero in Unspent

	LockedAt time.Time // Locked: monotonic clock reading, for the 60s timeout

	ApprovalsWeight uint64 // SpentPending: weighted approve votes so far
	TotalWeight     uint64 // SpentPending: W_total snapshot at broadcast time
	SpentAt         time.Time

	FinalizedAt time.Time // SpentFinalized

	BlockHeight uint64    // Confirmed
	ConfirmedAt time.Time // Confirmed
}

// Entry pairs an immutable UTXO with its current lifecycle state.
type Entry struct {
	UTXO  consensus.TxOutput
	Owner string
	State UTXOState
}

const bucketCount = 256

type bucket struct {
	mu      sync.Mutex
	entries map[consensus.OutPoint]*Entry
}

// Subscription delivers UTXO transition notifications to one subscriber.
// The channel is bounded: a notification that finds it full is dropped
// (and counted) rather than blocking the UTXO set, so a slow subscriber
// can miss transitions and delivery is not at-least-once.
type Subscription struct {
	ID      string
	Filter  SubscriptionFilter
	Notify  chan Notification
	dropped *uint64
}

// SubscriptionFilter selects which transitions a subscriber receives:
// the union of a set of outpoints and a set of owner addresses.
type SubscriptionFilter struct {
	Outpoints map[consensus.OutPoint]struct{}
	Addresses map[string]struct{}
}

func (f SubscriptionFilter) matches(op consensus.OutPoint, owner string) bool {
	if len(f.Outpoints) == 0 && len(f.Addresses) == 0 {
		return true // no filter means "everything"
	}
	if _, ok := f.Outpoints[op]; ok {
		return true
	}
	if owner != "" {
		if _, ok := f.Addresses[owner]; ok {
			return true
		}
	}
	return false
}

// NotificationKind distinguishes the transition a Notification reports.
type NotificationKind string

const (
	NotifyTransition NotificationKind = "Transition"
	NotifyRevoked    NotificationKind = "Revoked"
	NotifyRolledBack NotificationKind = "RolledBack"
)

// Notification is delivered to subscribers on every UTXO state transition.
type Notification struct {
	Kind      NotificationKind
	Outpoint  consensus.OutPoint
	Owner     string
	State     UTXOState
	Timestamp time.Time
}

const notificationBufferSize = 4096

// UTXOSet is the canonical, in-memory record of every UTXO and its
// lifecycle state, per spec.md §4.1. Writers take a single bucket's lock;
// readers take the same lock for a point read (bucket critical sections are
// small, so this is cheap — see spec.md §5's "single writer at a time per
// outpoint" policy).
type UTXOSet struct {
	buckets [bucketCount]*bucket

	subMu sync.RWMutex
	subs  map[string]*Subscription

	now     func() time.Time
	onDrop  func()
}

// SetDropHook registers a callback invoked once per notification dropped
// for a full subscriber channel, for metrics (see node/metrics.go's
// SubscriberDrops counter).
func (s *UTXOSet) SetDropHook(fn func()) {
	s.onDrop = fn
}

// NewUTXOSet constructs an empty set. now is injectable for deterministic
// timeout tests; production callers pass nil to use time.Now.
func NewUTXOSet(now func() time.Time) *UTXOSet {
	if now == nil {
		now = time.Now
	}
	s := &UTXOSet{
		subs: make(map[string]*Subscription),
		now:  now,
	}
	for i := range s.buckets {
		s.buckets[i] = &bucket{entries: make(map[consensus.OutPoint]*Entry)}
	}
	return s
}

func (s *UTXOSet) bucketFor(op consensus.OutPoint) *bucket {
	return s.buckets[op.Txid[0]]
}

// Get returns the UTXO and its state, or ok=false if the outpoint is
// unknown (never created, or already Confirmed and retired).
func (s *UTXOSet) Get(op consensus.OutPoint) (Entry, bool) {
	b := s.bucketFor(op)
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[op]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AddUnspent inserts a brand-new Unspent UTXO — called for a transaction's
// outputs once it reaches Approved (spec.md §4.5, §9 Open Question 4) or
// from genesis/coinbase application.
func (s *UTXOSet) AddUnspent(op consensus.OutPoint, out consensus.TxOutput, owner string) {
	b := s.bucketFor(op)
	b.mu.Lock()
	e := &Entry{UTXO: out, Owner: owner, State: UTXOState{Status: StatusUnspent}}
	b.entries[op] = e
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, e.State)
}

// Lock performs the first-locker-wins CAS from Unspent to Locked{txid}.
// See spec.md §4.1.
func (s *UTXOSet) Lock(op consensus.OutPoint, txid [32]byte) error {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok {
		b.mu.Unlock()
		return newNodeErr(ErrPolicyViolation, CodeNotFound, "outpoint not found")
	}
	if e.State.Status != StatusUnspent {
		other := e.State.Txid
		b.mu.Unlock()
		if e.State.Status == StatusLocked && other == txid {
			return nil // already locked by this txid: idempotent
		}
		return newNodeErr(ErrPolicyViolation, CodeAlreadyLocked, hexTxid(other))
	}
	e.State = UTXOState{Status: StatusLocked, Txid: txid, LockedAt: s.now()}
	owner := e.Owner
	st := e.State
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, st)
	return nil
}

// Unlock restores Unspent if the outpoint is still Locked or SpentPending
// by txid — the reverse edge spec.md §4.5 requires on both a failed Submit
// (input only ever reached Locked) and a Rejected/timed-out vote (input
// already advanced to SpentPending). A no-op (not an error) if the state
// has already moved on, per spec.md §4.1.
func (s *UTXOSet) Unlock(op consensus.OutPoint, txid [32]byte) {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok || e.State.Txid != txid || (e.State.Status != StatusLocked && e.State.Status != StatusSpentPending) {
		b.mu.Unlock()
		return
	}
	e.State = UTXOState{Status: StatusUnspent}
	owner := e.Owner
	st := e.State
	b.mu.Unlock()
	s.publish(NotifyRolledBack, op, owner, st)
}

// MarkPending transitions Locked{txid} -> SpentPending{ApprovalsWeight=0,
// TotalWeight=totalWeight}.
// Fails with Inconsistency if the state diverged under us.
func (s *UTXOSet) MarkPending(op consensus.OutPoint, txid [32]byte, totalWeight uint64) error {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok {
		b.mu.Unlock()
		return newNodeErr(ErrPolicyViolation, CodeNotFound, "outpoint not found")
	}
	if e.State.Status != StatusLocked || e.State.Txid != txid {
		b.mu.Unlock()
		return newNodeErr(ErrInconsistency, CodeStateDiverged, "expected Locked by this txid")
	}
	e.State = UTXOState{Status: StatusSpentPending, Txid: txid, TotalWeight: totalWeight, SpentAt: s.now()}
	owner := e.Owner
	st := e.State
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, st)
	return nil
}

// RecordVote increments SpentPending's approval weight on an approve vote;
// rejections don't change UTXO state (the finality engine tracks rejection
// weight itself and decides when to call Unlock). Returns the updated
// ApprovalsWeight and TotalWeight so the caller can test quorum without a
// second lock round-trip.
func (s *UTXOSet) RecordVote(op consensus.OutPoint, txid [32]byte, approve bool, weight uint64) (approvalsWeight, totalWeight uint64, err error) {
	b := s.bucketFor(op)
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[op]
	if !ok {
		return 0, 0, newNodeErr(ErrPolicyViolation, CodeNotFound, "outpoint not found")
	}
	if e.State.Status != StatusSpentPending || e.State.Txid != txid {
		return 0, 0, newNodeErr(ErrInconsistency, CodeStateDiverged, "expected SpentPending for this txid")
	}
	if approve {
		e.State.ApprovalsWeight += weight
	}
	return e.State.ApprovalsWeight, e.State.TotalWeight, nil
}

// Finalize transitions SpentPending{txid} -> SpentFinalized. Idempotent on
// replay with the same txid, per spec.md §4.1.
func (s *UTXOSet) Finalize(op consensus.OutPoint, txid [32]byte) error {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok {
		b.mu.Unlock()
		return newNodeErr(ErrPolicyViolation, CodeNotFound, "outpoint not found")
	}
	if e.State.Status == StatusSpentFinalized && e.State.Txid == txid {
		b.mu.Unlock()
		return nil // idempotent replay
	}
	if e.State.Status != StatusSpentPending || e.State.Txid != txid {
		b.mu.Unlock()
		return newNodeErr(ErrInconsistency, CodeStateDiverged, "expected SpentPending for this txid")
	}
	votes := e.State.ApprovalsWeight
	e.State = UTXOState{Status: StatusSpentFinalized, Txid: txid, ApprovalsWeight: votes, FinalizedAt: s.now()}
	owner := e.Owner
	st := e.State
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, st)
	return nil
}

// Confirm transitions SpentFinalized -> Confirmed and physically removes
// the UTXO from the live set (retained only by block history). See
// spec.md §4.1.
func (s *UTXOSet) Confirm(op consensus.OutPoint, txid [32]byte, blockHeight uint64) error {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok {
		b.mu.Unlock()
		return newNodeErr(ErrPolicyViolation, CodeNotFound, "outpoint not found")
	}
	if e.State.Status != StatusSpentFinalized || e.State.Txid != txid {
		b.mu.Unlock()
		return newNodeErr(ErrInconsistency, CodeStateDiverged, "expected SpentFinalized for this txid")
	}
	owner := e.Owner
	st := UTXOState{Status: StatusConfirmed, Txid: txid, BlockHeight: blockHeight, ConfirmedAt: s.now()}
	delete(b.entries, op)
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, st)
	return nil
}

// ApplyMissedFinality removes a live Unspent entry whose spend this node
// never saw reach Locked/SpentPending — it missed the finality round for
// txid entirely and is only now learning the outpoint is spent from an
// ingested block. Applies the settled state directly instead of routing
// through Lock/MarkPending/Finalize/Confirm, which all require intermediate
// states this node never observed. A no-op if the entry already moved on
// (e.g. a concurrent ingest already removed it), per spec.md §4.7 rule 5.
func (s *UTXOSet) ApplyMissedFinality(op consensus.OutPoint, txid [32]byte, blockHeight uint64) {
	b := s.bucketFor(op)
	b.mu.Lock()
	e, ok := b.entries[op]
	if !ok || e.State.Status != StatusUnspent {
		b.mu.Unlock()
		return
	}
	owner := e.Owner
	st := UTXOState{Status: StatusConfirmed, Txid: txid, BlockHeight: blockHeight, ConfirmedAt: s.now()}
	delete(b.entries, op)
	b.mu.Unlock()
	s.publish(NotifyTransition, op, owner, st)
}

// RevokeConfirmed restores a reorg-retracted Confirmed UTXO to Unspent. See
// spec.md §4.1 edge case (b).
func (s *UTXOSet) RevokeConfirmed(op consensus.OutPoint, out consensus.TxOutput, owner string) {
	b := s.bucketFor(op)
	b.mu.Lock()
	e := &Entry{UTXO: out, Owner: owner, State: UTXOState{Status: StatusUnspent}}
	b.entries[op] = e
	b.mu.Unlock()
	s.publish(NotifyRevoked, op, owner, e.State)
}

// ExpireLocks scans for Locked entries older than timeout and restores them
// to Unspent, implementing the 60-second Locked->Unspent reverse edge from
// spec.md §3. Called periodically by Node's lock-expiry loop (node.go).
func (s *UTXOSet) ExpireLocks(timeout time.Duration) []consensus.OutPoint {
	now := s.now()
	var expired []consensus.OutPoint
	for _, b := range s.buckets {
		b.mu.Lock()
		for op, e := range b.entries {
			if e.State.Status == StatusLocked && now.Sub(e.State.LockedAt) > timeout {
				e.State = UTXOState{Status: StatusUnspent}
				expired = append(expired, op)
			}
		}
		b.mu.Unlock()
	}
	for _, op := range expired {
		e, _ := s.Get(op)
		s.publish(NotifyRolledBack, op, e.Owner, e.State)
	}
	return expired
}

// ForEachUnspent calls fn with a copy of every Unspent entry owned by
// owner. Used by the balance/UTXO-listing query surface (node/query.go);
// read-only, so it takes each bucket's lock only for the duration of its
// own scan.
func (s *UTXOSet) ForEachUnspent(owner string, fn func(op consensus.OutPoint, e Entry)) {
	for _, b := range s.buckets {
		b.mu.Lock()
		for op, e := range b.entries {
			if e.Owner == owner && e.State.Status == StatusUnspent {
				fn(op, *e)
			}
		}
		b.mu.Unlock()
	}
}

// Subscribe registers a new subscriber. See spec.md §4.1.
func (s *UTXOSet) Subscribe(filter SubscriptionFilter) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Filter:  filter,
		Notify:  make(chan Notification, notificationBufferSize),
		dropped: new(uint64),
	}
	s.subMu.Lock()
	s.subs[sub.ID] = sub
	s.subMu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *UTXOSet) Unsubscribe(id string) {
	s.subMu.Lock()
	sub, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	if ok {
		close(sub.Notify)
	}
}

func (s *UTXOSet) publish(kind NotificationKind, op consensus.OutPoint, owner string, state UTXOState) {
	n := Notification{Kind: kind, Outpoint: op, Owner: owner, State: state, Timestamp: s.now()}
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		if !sub.Filter.matches(op, owner) {
			continue
		}
		select {
		case sub.Notify <- n:
		default:
			// Bounded channel full: drop rather than block the writer
			// (spec.md §5 "no unbounded queues").
			*sub.dropped++
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
}

func hexTxid(txid [32]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range txid {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0x0f]
	}
	return string(out)
}
