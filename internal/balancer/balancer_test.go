package balancer

import (
	"testing"

	"github.com/acrgw/aicore-gateway/internal/tenant"
)

func providers() []tenant.Provider {
	return []tenant.Provider{
		{Name: "a", Weight: 2, Enabled: true},
		{Name: "b", Weight: 1, Enabled: true},
		{Name: "c", Weight: 1, Enabled: false},
	}
}

func TestIsEmpty(t *testing.T) {
	if New(RoundRobin, nil).IsEmpty() != true {
		t.Fatal("expected empty balancer with no providers")
	}
	if New(RoundRobin, providers()).IsEmpty() {
		t.Fatal("expected non-empty balancer")
	}
	allDisabled := []tenant.Provider{{Name: "a", Enabled: false}}
	if !New(RoundRobin, allDisabled).IsEmpty() {
		t.Fatal("expected empty balancer when every provider is disabled")
	}
}

func TestFallback_AlwaysConfigOrder(t *testing.T) {
	b := New(Fallback, providers())
	for i := 0; i < 5; i++ {
		order := b.Order()
		if len(order) != 2 || order[0].Name != "a" || order[1].Name != "b" {
			t.Fatalf("expected stable [a b] order, got %v", order)
		}
	}
}

func TestFallback_ExcludesDisabled(t *testing.T) {
	order := New(Fallback, providers()).Order()
	for _, p := range order {
		if p.Name == "c" {
			t.Fatal("disabled provider must not appear in order")
		}
	}
}

func TestRoundRobin_ContainsEachEnabledProviderOnce(t *testing.T) {
	b := New(RoundRobin, providers())
	for i := 0; i < 10; i++ {
		order := b.Order()
		if len(order) != 2 {
			t.Fatalf("expected 2 distinct providers, got %d: %v", len(order), order)
		}
		seen := map[string]bool{}
		for _, p := range order {
			if seen[p.Name] {
				t.Fatalf("duplicate provider %s in order %v", p.Name, order)
			}
			seen[p.Name] = true
		}
	}
}

func TestRoundRobin_RotatesLeader(t *testing.T) {
	b := New(RoundRobin, providers())
	leaders := map[string]int{}
	for i := 0; i < 200; i++ {
		leaders[b.Order()[0].Name]++
	}
	if leaders["a"] == 0 || leaders["b"] == 0 {
		t.Fatalf("expected both providers to lead at least once across 200 draws, got %v", leaders)
	}
	// weight 2:1 should bias "a" to lead roughly twice as often as "b".
	if leaders["a"] < leaders["b"] {
		t.Fatalf("expected higher-weight provider to lead more often, got %v", leaders)
	}
}
