// Package balancer implements the gateway's Load Balancer: it orders the
// enabled providers into the sequence the dispatcher should try for one
// request.
package balancer

import (
	"sync/atomic"

	"github.com/acrgw/aicore-gateway/internal/tenant"
)

// Strategy is a closed enum of the load-balancing algorithms the gateway
// supports.
type Strategy int

const (
	// RoundRobin expands each provider proportionally to its configured
	// weight and rotates the starting offset on every call.
	RoundRobin Strategy = iota
	// Fallback always returns providers in configuration order; the
	// rotating counter is not consulted.
	Fallback
)

// ParseStrategy converts a config string ("round_robin" / "fallback") into
// a Strategy, defaulting to RoundRobin for an empty value.
func ParseStrategy(s string) Strategy {
	switch s {
	case "fallback":
		return Fallback
	default:
		return RoundRobin
	}
}

// Balancer orders enabled providers for dispatch according to Strategy.
// It is safe for concurrent use.
type Balancer struct {
	strategy  Strategy
	providers []tenant.Provider // configuration order, includes disabled entries
	counter   atomic.Uint64
}

// New builds a Balancer over providers using strategy.
func New(strategy Strategy, providers []tenant.Provider) *Balancer {
	return &Balancer{strategy: strategy, providers: providers}
}

// IsEmpty reports whether there are no enabled providers at all — the
// gateway must refuse to start if this is true.
func (b *Balancer) IsEmpty() bool {
	for _, p := range b.providers {
		if p.Enabled {
			return false
		}
	}
	return true
}

// Order returns the enabled providers in the order the dispatcher should
// attempt them for one request. RoundRobin rotates the starting point of
// a weighted expansion on every call; Fallback always returns
// configuration order.
func (b *Balancer) Order() []tenant.Provider {
	enabled := make([]tenant.Provider, 0, len(b.providers))
	for _, p := range b.providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	if b.strategy == Fallback {
		return enabled
	}
	return b.roundRobinOrder(enabled)
}

// roundRobinOrder builds a weighted expansion of enabled (each provider
// repeated Weight times, minimum 1), rotates it by the next counter value,
// and then de-duplicates back down to distinct providers in the rotated
// order — so a single request still tries each provider at most once, but
// which provider leads cycles proportionally to weight across calls.
func (b *Balancer) roundRobinOrder(enabled []tenant.Provider) []tenant.Provider {
	var expanded []tenant.Provider
	for _, p := range enabled {
		w := p.Weight
		if w < 1 {
			w = 1
		}
		for i := 0; i < w; i++ {
			expanded = append(expanded, p)
		}
	}

	n := uint64(len(expanded))
	offset := b.counter.Add(1) % n

	seen := make(map[string]bool, len(enabled))
	ordered := make([]tenant.Provider, 0, len(enabled))
	for i := uint64(0); i < n; i++ {
		p := expanded[(offset+i)%n]
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		ordered = append(ordered, p)
	}
	return ordered
}
