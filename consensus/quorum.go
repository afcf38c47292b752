package consensus

// WeightedQuorum returns the number of weighted approvals required to
// finalize, ⌈2·wTotal/3⌉, per spec.md §4.5.
func WeightedQuorum(wTotal uint64) uint64 {
	return ceilDiv(2*wTotal, 3)
}

// IsRejected reports whether rejectionsWeight has made approval
// mathematically unreachable: rejectionsWeight > wTotal - ⌈2·wTotal/3⌉,
// per spec.md §4.5.
func IsRejected(wTotal, rejectionsWeight uint64) bool {
	quorum := WeightedQuorum(wTotal)
	if quorum > wTotal {
		return true
	}
	return rejectionsWeight > wTotal-quorum
}

func ceilDiv(numerator, denominator uint64) uint64 {
	if denominator == 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}

// ActiveWeight sums the voting weight of every active, mature masternode at
// currentHeight — the W_total used throughout spec.md §4.5 and §4.6.
func ActiveWeight(nodes []Masternode, currentHeight uint64) uint64 {
	var total uint64
	for _, n := range nodes {
		if !n.Active {
			continue
		}
		if !n.IsMature(currentHeight) {
			continue
		}
		total += n.Tier.VotingWeight()
	}
	return total
}

// CountsByTier returns the active-masternode count for [Bronze, Silver, Gold],
// matching BlockHeader.MasternodeCountsByTier's fixed order.
func CountsByTier(nodes []Masternode) [3]uint64 {
	var counts [3]uint64
	for _, n := range nodes {
		if !n.Active {
			continue
		}
		counts[n.Tier]++
	}
	return counts
}
