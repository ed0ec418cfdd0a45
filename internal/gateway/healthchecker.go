package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/acrgw/aicore-gateway/internal/metrics"
	"github.com/acrgw/aicore-gateway/internal/registry"
)

const (
	healthProbeInterval = 30 * time.Second
	staleSnapshotAfter  = 10 * time.Minute
)

// HealthSnapshot is the JSON body served at /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
}

// HealthChecker periodically checks whether each provider's Model Registry
// snapshot is fresh, surfacing the result at /health and /readiness.
type HealthChecker struct {
	reg       *registry.Registry
	providers []string
	metrics   *metrics.Registry
	startedAt time.Time

	mu     sync.RWMutex
	status map[string]string
}

func NewHealthChecker(reg *registry.Registry, providers []string, m *metrics.Registry) *HealthChecker {
	return &HealthChecker{
		reg:       reg,
		providers: providers,
		metrics:   m,
		startedAt: time.Now(),
		status:    make(map[string]string),
	}
}

// Run starts the background probe loop; it returns when ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	h.probeOnce()
	t := time.NewTicker(healthProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.probeOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthChecker) probeOnce() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.providers {
		snap := h.reg.Snapshot(p)
		switch {
		case snap == nil:
			h.status[p] = "unknown"
		case time.Since(snap.FetchedAt) > staleSnapshotAfter:
			h.status[p] = "stale"
		default:
			h.status[p] = "ok"
		}
		if h.metrics != nil {
			h.metrics.SetProviderHealth(p, h.status[p] == "ok")
		}
	}
}

// Snapshot returns the current health view.
func (h *HealthChecker) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Providers:     make(map[string]string, len(h.status)),
	}
	for p, s := range h.status {
		out.Providers[p] = s
		if s != "ok" {
			out.Status = "degraded"
		}
	}
	return out
}

// ReadinessOK reports whether at least one provider currently has a fresh
// snapshot — the gateway can serve traffic as long as one tenant is up.
func (h *HealthChecker) ReadinessOK() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.status {
		if s == "ok" {
			return true
		}
	}
	return len(h.status) == 0 // before the first probe, assume ready
}
