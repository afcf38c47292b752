package node

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"timecore.dev/node/consensus"
)

// QuarantineReason classifies why a peer was quarantined, per spec.md §4.4.
type QuarantineReason string

const (
	ReasonGenesisMismatch   QuarantineReason = "GenesisMismatch"
	ReasonForkDetected      QuarantineReason = "ForkDetected"
	ReasonProtocolViolation QuarantineReason = "ProtocolViolation"
	ReasonRateLimitExceeded QuarantineReason = "RateLimitExceeded"
	ReasonInvalidBlock      QuarantineReason = "InvalidBlock"
	ReasonInvalidTransaction QuarantineReason = "InvalidTransaction"
	ReasonConsensusViolation QuarantineReason = "ConsensusViolation"
)

// baseDuration is the starting quarantine length for a reason, before any
// repeat-offense escalation. A zero duration means permanent. See
// spec.md §4.4.
func baseDuration(reason QuarantineReason) time.Duration {
	switch reason {
	case ReasonGenesisMismatch:
		return 0 // permanent
	case ReasonForkDetected:
		return 7 * 24 * time.Hour
	case ReasonProtocolViolation, ReasonInvalidBlock, ReasonInvalidTransaction:
		return time.Hour
	case ReasonRateLimitExceeded:
		return 5 * time.Minute
	case ReasonConsensusViolation:
		return 0 // severe: treated as permanent
	default:
		return time.Hour
	}
}

// maxDuration caps the exponential escalation for repeat offenses within a
// reason's stated range (e.g. ForkDetected 7-30 days, ProtocolViolation
// 1-24 hours).
func maxDuration(reason QuarantineReason) time.Duration {
	switch reason {
	case ReasonForkDetected:
		return 30 * 24 * time.Hour
	case ReasonProtocolViolation, ReasonInvalidBlock, ReasonInvalidTransaction:
		return 24 * time.Hour
	case ReasonRateLimitExceeded:
		return 15 * time.Minute
	default:
		return baseDuration(reason)
	}
}

// quarantineEntry is one peer's current quarantine state and offense count.
type quarantineEntry struct {
	reason   QuarantineReason
	until    time.Time // zero means permanent
	attempts int
}

// Quarantine is the security gate from spec.md §4.4: a per-peer leaky
// bucket rate limiter, an escalating quarantine-duration table, and a
// bounded nonce-replay tracker. The quarantine map itself is a single
// mutex, per spec.md §5's "write-infrequent" shared-resource policy.
type Quarantine struct {
	mu        sync.Mutex
	entries   map[string]*quarantineEntry
	limiters  map[string]*rate.Limiter
	nonces    *lru.Cache[string, struct{}]
	clockNow  func() time.Time

	perWindow  int
	windowSecs int
	burst      int
}

// NewQuarantine constructs a gate using the given rate-limit parameters
// (spec.md §4.4's default 100 req/60s, 20 req/s burst) and a nonce tracker
// capped at maxNonces entries, bounding the 15-minute replay window.
func NewQuarantine(perWindow, windowSecs, burst, maxNonces int) *Quarantine {
	nonces, _ := lru.New[string, struct{}](maxNonces)
	return &Quarantine{
		entries:    make(map[string]*quarantineEntry),
		limiters:   make(map[string]*rate.Limiter),
		nonces:     nonces,
		clockNow:   time.Now,
		perWindow:  perWindow,
		windowSecs: windowSecs,
		burst:      burst,
	}
}

// limiterFor returns (creating if needed) a peer's rate limiter: refill
// rate perWindow/windowSecs per second, burst capacity burst.
func (q *Quarantine) limiterFor(peerID string) *rate.Limiter {
	if l, ok := q.limiters[peerID]; ok {
		return l
	}
	refillPerSec := float64(q.perWindow) / float64(q.windowSecs)
	l := rate.NewLimiter(rate.Limit(refillPerSec), q.burst)
	q.limiters[peerID] = l
	return l
}

// Allow applies the per-peer rate limiter. A violation quarantines the
// peer for RateLimitExceeded and returns false — the caller must drop the
// message, per spec.md §4.4's gate contract.
func (q *Quarantine) Allow(peerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isQuarantinedLocked(peerID) {
		return false
	}
	if q.limiterFor(peerID).Allow() {
		return true
	}
	q.quarantineLocked(peerID, ReasonRateLimitExceeded)
	return false
}

// IsQuarantined reports whether a peer is currently barred.
func (q *Quarantine) IsQuarantined(peerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isQuarantinedLocked(peerID)
}

func (q *Quarantine) isQuarantinedLocked(peerID string) bool {
	e, ok := q.entries[peerID]
	if !ok {
		return false
	}
	if e.until.IsZero() {
		return true // permanent
	}
	if q.clockNow().After(e.until) {
		delete(q.entries, peerID)
		return false
	}
	return true
}

// Quarantine bars a peer for the escalating duration appropriate to
// reason. Each repeat offense for the same reason doubles the previous
// duration, capped at the reason's stated maximum.
func (q *Quarantine) Quarantine(peerID string, reason QuarantineReason) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quarantineLocked(peerID, reason)
}

func (q *Quarantine) quarantineLocked(peerID string, reason QuarantineReason) {
	e, existed := q.entries[peerID]
	attempts := 1
	if existed && e.reason == reason {
		attempts = e.attempts + 1
	}

	base := baseDuration(reason)
	if base == 0 {
		q.entries[peerID] = &quarantineEntry{reason: reason, attempts: attempts} // permanent
		return
	}
	max := maxDuration(reason)
	dur := base << uint(attempts-1) // exponential backoff on repeat offense
	if dur > max || dur <= 0 {
		dur = max
	}
	q.entries[peerID] = &quarantineEntry{reason: reason, until: q.clockNow().Add(dur), attempts: attempts}
}

// Count returns the number of peers currently quarantined, including
// permanent entries, for metrics reporting.
func (q *Quarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id := range q.entries {
		if q.isQuarantinedLocked(id) {
			n++
		}
	}
	return n
}

// Lift manually clears a peer's quarantine (e.g. after operator review).
func (q *Quarantine) Lift(peerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, peerID)
}

// CheckNonce reports whether (senderAddr, nonce) is fresh: if it has not
// been seen within the tracked window, it records it and returns true; a
// replay returns false. Bounded
// by the LRU's capacity, per spec.md §4.4/§9's "no unbounded queues" rule.
func (q *Quarantine) CheckNonce(senderAddr string, nonce uint64) bool {
	key := senderAddr + ":" + formatUint(nonce)
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, seen := q.nonces.Get(key); seen {
		return false
	}
	q.nonces.Add(key, struct{}{})
	return true
}

// ValidateEnvelope checks the authentication rules spec.md §4.4 requires
// for sensitive operations: signature, clock-skew tolerance, max age, and
// nonce freshness.
func ValidateEnvelope(q *Quarantine, senderPub []byte, v consensus.Vote, nonce uint64, now time.Time) error {
	if !consensus.VerifyVote(v, senderPub) {
		return newNodeErr(ErrPolicyViolation, CodeBadSignature, "envelope signature invalid")
	}
	ts := time.Unix(v.Timestamp, 0)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > 5*time.Minute {
		return newNodeErr(ErrPolicyViolation, CodeBadStructure, "envelope timestamp outside clock-skew tolerance")
	}
	if now.Sub(ts) > 15*time.Minute {
		return newNodeErr(ErrPolicyViolation, CodeBadStructure, "envelope too old")
	}
	if !q.CheckNonce(v.VoterAddr, nonce) {
		return newNodeErr(ErrPolicyViolation, CodeConflict, "nonce already seen")
	}
	return nil
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
