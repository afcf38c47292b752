package node

import (
	"sync"

	"timecore.dev/node/consensus"
)

// MasternodeRegistry tracks every registered masternode and its current
// tier/weight/maturity status, per spec.md §3/§4.5. It is the single
// source of truth the finality engine and block producer consult for
// W_total and per-voter weight.
type MasternodeRegistry struct {
	mu    sync.RWMutex
	byKey map[string]*consensus.Masternode // keyed by Address
}

// NewMasternodeRegistry constructs an empty registry.
func NewMasternodeRegistry() *MasternodeRegistry {
	return &MasternodeRegistry{byKey: make(map[string]*consensus.Masternode)}
}

// Register adds or updates a masternode record. Re-registering an address
// with a different tier is allowed (collateral top-up) but does not reset
// RegistrationHeight, since maturity accrues from first registration.
func (r *MasternodeRegistry) Register(mn consensus.Masternode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[mn.Address]; ok {
		mn.RegistrationHeight = existing.RegistrationHeight
	}
	copy := mn
	r.byKey[mn.Address] = &copy
}

// Deactivate marks a masternode inactive (collateral withdrawn or slashed),
// removing it from quorum calculations without erasing its history.
func (r *MasternodeRegistry) Deactivate(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mn, ok := r.byKey[address]; ok {
		mn.Active = false
	}
}

// Get returns a copy of a masternode's record.
func (r *MasternodeRegistry) Get(address string) (consensus.Masternode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mn, ok := r.byKey[address]
	if !ok {
		return consensus.Masternode{}, false
	}
	return *mn, true
}

// ActiveMature returns every masternode that is Active and has cleared its
// tier's maturity window as of currentHeight — the voter set the finality
// engine and block producer use for quorum math (spec.md §4.5).
func (r *MasternodeRegistry) ActiveMature(currentHeight uint64) []consensus.Masternode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]consensus.Masternode, 0, len(r.byKey))
	for _, mn := range r.byKey {
		if mn.Active && mn.IsMature(currentHeight) {
			out = append(out, *mn)
		}
	}
	return out
}

// TotalWeight sums VotingWeight across the active, mature set — W_total in
// spec.md §4.5's quorum formula.
func (r *MasternodeRegistry) TotalWeight(currentHeight uint64) uint64 {
	var total uint64
	for _, mn := range r.ActiveMature(currentHeight) {
		total += mn.Tier.VotingWeight()
	}
	return total
}

// WeightOf returns a single masternode's voting weight, or 0 if it is
// absent, inactive, or immature at currentHeight.
func (r *MasternodeRegistry) WeightOf(address string, currentHeight uint64) uint64 {
	mn, ok := r.Get(address)
	if !ok || !mn.Active || !mn.IsMature(currentHeight) {
		return 0
	}
	return mn.Tier.VotingWeight()
}
