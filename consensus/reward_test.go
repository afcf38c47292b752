package consensus

import "testing"

func TestTotalRewardPoolZeroNodes(t *testing.T) {
	if got := TotalRewardPool(0); got != 0 {
		t.Fatalf("TotalRewardPool(0) = %d, want 0 (ln(1)=0)", got)
	}
}

func TestTotalRewardPoolMonotonicInNodeCount(t *testing.T) {
	low := TotalRewardPool(10)
	high := TotalRewardPool(1000)
	if !(high > low) {
		t.Fatalf("expected reward pool to grow with more active masternodes: low=%d high=%d", low, high)
	}
}

func TestSplitMasternodeRewardsSortedByAddress(t *testing.T) {
	nodes := []Masternode{
		{Address: "zeta", Tier: TierBronze, Active: true},
		{Address: "alpha", Tier: TierGold, Active: true},
		{Address: "mid", Tier: TierSilver, Active: true},
	}
	wTotal := ActiveWeight(nodes, 0)
	rewards := SplitMasternodeRewards(nodes, 1000, wTotal)
	if len(rewards) != 3 {
		t.Fatalf("expected 3 reward outputs, got %d", len(rewards))
	}
	if rewards[0].Address != "alpha" || rewards[1].Address != "mid" || rewards[2].Address != "zeta" {
		t.Fatalf("rewards not sorted by address: %+v", rewards)
	}
}

func TestSplitMasternodeRewardsProportionalToWeight(t *testing.T) {
	nodes := []Masternode{
		{Address: "a", Tier: TierGold, Active: true},   // weight 100
		{Address: "b", Tier: TierBronze, Active: true}, // weight 1
	}
	wTotal := ActiveWeight(nodes, 0)
	rewards := SplitMasternodeRewards(nodes, 10100, wTotal)
	byAddr := map[string]uint64{}
	for _, r := range rewards {
		byAddr[r.Address] = r.Amount
	}
	if byAddr["a"] != 10000 {
		t.Fatalf("gold reward = %d, want 10000", byAddr["a"])
	}
	if byAddr["b"] != 100 {
		t.Fatalf("bronze reward = %d, want 100", byAddr["b"])
	}
}
