package consensus

import (
	"math"
	"sort"
)

// Reward formula constants from spec.md §4.6.
const (
	RewardBase      = 2000
	RewardScale     = 50
	RewardTimeUnit  = 100_000_000 // 1 TIME, in base units
	TreasuryPerBlock = 5 * RewardTimeUnit
)

// TotalRewardPool computes total_reward = BASE · ln(1 + N_total/SCALE) · TIME_UNIT,
// evaluated in IEEE-754 double and truncated to u64, per spec.md §4.6. nTotal
// is the active masternode count across all tiers.
func TotalRewardPool(nTotal uint64) uint64 {
	value := float64(RewardBase) * math.Log(1+float64(nTotal)/float64(RewardScale)) * float64(RewardTimeUnit)
	if value < 0 {
		return 0
	}
	return uint64(value)
}

// MasternodeReward is a single reward output destined for an active
// masternode, keyed by address for the deterministic sort order spec.md
// §4.6 item 7 requires.
type MasternodeReward struct {
	Address string
	Amount  uint64
}

// SplitMasternodeRewards divides totalReward proportionally to each node's
// weight, floored per recipient, sorted ascending by address. See spec.md
// §4.6 item 7(i).
func SplitMasternodeRewards(nodes []Masternode, totalReward, wTotal uint64) []MasternodeReward {
	addrs := make([]string, 0, len(nodes))
	weightByAddr := make(map[string]uint64, len(nodes))
	for _, n := range nodes {
		if !n.Active {
			continue
		}
		addrs = append(addrs, n.Address)
		weightByAddr[n.Address] = n.Tier.VotingWeight()
	}
	sort.Strings(addrs)

	out := make([]MasternodeReward, 0, len(addrs))
	if wTotal == 0 {
		return out
	}
	for _, addr := range addrs {
		amount := totalReward * weightByAddr[addr] / wTotal
		out = append(out, MasternodeReward{Address: addr, Amount: amount})
	}
	return out
}
