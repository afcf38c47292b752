package node

import (
	"testing"

	"timecore.dev/node/consensus"
)

func TestRegistryActiveMatureExcludesImmature(t *testing.T) {
	r := NewMasternodeRegistry()
	r.Register(consensus.Masternode{Address: "bronze", Tier: consensus.TierBronze, RegistrationHeight: 9, Active: true})
	r.Register(consensus.Masternode{Address: "gold", Tier: consensus.TierGold, RegistrationHeight: 9, Active: true})

	// at height 10, bronze (maturity 1) has cleared; gold (maturity 10) has not.
	active := r.ActiveMature(10)
	if len(active) != 1 || active[0].Address != "bronze" {
		t.Fatalf("expected only bronze mature at height 10, got %+v", active)
	}

	active = r.ActiveMature(19)
	if len(active) != 2 {
		t.Fatalf("expected both mature at height 19, got %+v", active)
	}
}

func TestRegistryTotalWeight(t *testing.T) {
	r := NewMasternodeRegistry()
	r.Register(consensus.Masternode{Address: "a", Tier: consensus.TierBronze, RegistrationHeight: 0, Active: true})
	r.Register(consensus.Masternode{Address: "b", Tier: consensus.TierSilver, RegistrationHeight: 0, Active: true})
	r.Register(consensus.Masternode{Address: "c", Tier: consensus.TierGold, RegistrationHeight: 0, Active: true})

	got := r.TotalWeight(100)
	want := uint64(1 + 10 + 100)
	if got != want {
		t.Fatalf("expected total weight %d, got %d", want, got)
	}
}

func TestRegistryDeactivateExcludesFromWeight(t *testing.T) {
	r := NewMasternodeRegistry()
	r.Register(consensus.Masternode{Address: "a", Tier: consensus.TierGold, RegistrationHeight: 0, Active: true})
	r.Deactivate("a")
	if got := r.TotalWeight(100); got != 0 {
		t.Fatalf("expected 0 weight after deactivation, got %d", got)
	}
}

func TestRegisterPreservesOriginalRegistrationHeight(t *testing.T) {
	r := NewMasternodeRegistry()
	r.Register(consensus.Masternode{Address: "a", Tier: consensus.TierBronze, RegistrationHeight: 5, Active: true})
	r.Register(consensus.Masternode{Address: "a", Tier: consensus.TierGold, RegistrationHeight: 999, Active: true})

	mn, ok := r.Get("a")
	if !ok {
		t.Fatalf("expected masternode to exist")
	}
	if mn.RegistrationHeight != 5 {
		t.Fatalf("expected registration height to be preserved at 5, got %d", mn.RegistrationHeight)
	}
	if mn.Tier != consensus.TierGold {
		t.Fatalf("expected tier to be updated to Gold")
	}
}
