// Package registry implements the gateway's Model Registry: it resolves a
// client-facing model name to an upstream model name, and keeps a
// periodically refreshed, atomically published snapshot of each
// provider's live deployments for that upstream name.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acrgw/aicore-gateway/internal/auth"
	"github.com/acrgw/aicore-gateway/internal/tenant"
)

// TokenSource is the subset of auth.Manager the Registry needs, split out
// for testability.
type TokenSource interface {
	AccessToken(ctx context.Context, provider string) (string, error)
}

var _ TokenSource = (*auth.Manager)(nil)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry holds the configured model table and one atomically-swapped
// deployment snapshot per provider.
type Registry struct {
	models    []tenant.ModelDescriptor
	fallback  tenant.FallbackTable
	providers []tenant.Provider
	tokens    TokenSource
	http      HTTPDoer
	interval  time.Duration

	snapshots map[string]*atomic.Pointer[tenant.RegistrySnapshot]

	stop chan struct{}
}

// New builds a Registry. Call Start to run the initial refresh and launch
// the background ticker.
func New(models []tenant.ModelDescriptor, fallback tenant.FallbackTable, providers []tenant.Provider, tokens TokenSource, refreshInterval time.Duration) *Registry {
	r := &Registry{
		models:    models,
		fallback:  fallback,
		providers: providers,
		tokens:    tokens,
		http:      &http.Client{Timeout: 15 * time.Second},
		interval:  refreshInterval,
		snapshots: make(map[string]*atomic.Pointer[tenant.RegistrySnapshot]),
		stop:      make(chan struct{}),
	}
	for _, p := range providers {
		r.snapshots[p.Name] = &atomic.Pointer[tenant.RegistrySnapshot]{}
	}
	return r
}

// Start runs one synchronous refresh across every enabled provider and
// returns an error if it yields zero usable deployments anywhere, then
// launches a background ticker that refreshes every interval. Cancel ctx
// or call Stop to halt the ticker.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	if r.totalDeployments() == 0 {
		return fmt.Errorf("registry: initial refresh yielded zero usable deployments")
	}
	if r.interval > 0 {
		go r.loop(ctx)
	}
	return nil
}

// Stop halts the background refresh loop started by Start.
func (r *Registry) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *Registry) loop(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = r.Refresh(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches deployments for every enabled provider in parallel and
// publishes each result via an atomic pointer swap. A single provider's
// failure does not abort the others' refresh, but is returned joined.
func (r *Registry) Refresh(ctx context.Context) error {
	var g errgroup.Group
	errs := make([]error, len(r.providers))
	for i, p := range r.providers {
		if !p.Enabled {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			snap, err := r.fetchProvider(ctx, p)
			if err != nil {
				errs[i] = fmt.Errorf("registry: refresh provider %q: %w", p.Name, err)
				return nil
			}
			r.snapshots[p.Name].Store(snap)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

type deploymentsResponse struct {
	Resources []struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Details struct {
			Resources struct {
				BackendDetails struct {
					Model struct {
						Name string `json:"name"`
					} `json:"model"`
				} `json:"backend_details"`
			} `json:"resources"`
		} `json:"details"`
	} `json:"resources"`
}

func (r *Registry) fetchProvider(ctx context.Context, p tenant.Provider) (*tenant.RegistrySnapshot, error) {
	tok, err := r.tokens.AccessToken(ctx, p.Name)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(p.APIURL, "/") + "/v2/lm/deployments"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("AI-Resource-Group", p.ResourceGroup)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("deployments list returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed deploymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode deployments response: %w", err)
	}

	byModel := make(map[string][]tenant.Deployment)
	for _, res := range parsed.Resources {
		d := tenant.Deployment{
			ID:            res.ID,
			ModelName:     res.Details.Resources.BackendDetails.Model.Name,
			ResourceGroup: p.ResourceGroup,
			Status:        res.Status,
		}
		if !d.Usable() || d.ModelName == "" {
			continue
		}
		byModel[d.ModelName] = append(byModel[d.ModelName], d)
	}

	return &tenant.RegistrySnapshot{Provider: p.Name, FetchedAt: time.Now(), Deployments: byModel}, nil
}

func (r *Registry) totalDeployments() int {
	total := 0
	for _, ptr := range r.snapshots {
		snap := ptr.Load()
		if snap == nil {
			continue
		}
		for _, ds := range snap.Deployments {
			total += len(ds)
		}
	}
	return total
}

// ModelNames returns the canonical names of every configured model, stable
// regardless of refresh state — used to answer /v1/models.
func (r *Registry) ModelNames() []string {
	names := make([]string, 0, len(r.models))
	for _, m := range r.models {
		names = append(names, m.Name)
	}
	return names
}

// Resolve maps a client-supplied model name to the upstream model name to
// forward, following exact match, then alias (including trailing-"*"
// prefix aliases), then a single family-fallback hop. The fallback table
// holds canonical model names, not upstream names, so a fallback hit
// restarts resolution at the exact-match step with that canonical name
// before returning. Returns ok=false if nothing matches.
func (r *Registry) Resolve(name string) (string, bool) {
	if up, ok := r.exactMatch(name); ok {
		return up, true
	}
	if up, ok := r.aliasMatch(name); ok {
		return up, true
	}
	if fb, ok := r.familyFallback(name); ok {
		if up, ok := r.exactMatch(fb); ok {
			return up, true
		}
		return fb, true
	}
	return "", false
}

func (r *Registry) exactMatch(name string) (string, bool) {
	for _, m := range r.models {
		if m.Name == name {
			return upstreamOrName(m), true
		}
	}
	return "", false
}

func (r *Registry) aliasMatch(name string) (string, bool) {
	for _, m := range r.models {
		for _, alias := range m.Aliases {
			if aliasMatches(alias, name) {
				return upstreamOrName(m), true
			}
		}
	}
	return "", false
}

func upstreamOrName(m tenant.ModelDescriptor) string {
	if m.UpstreamName != "" {
		return m.UpstreamName
	}
	return m.Name
}

// aliasMatches reports whether name matches alias, where a trailing "*"
// turns alias into a prefix match.
func aliasMatches(alias, name string) bool {
	if strings.HasSuffix(alias, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(alias, "*"))
	}
	return alias == name
}

// familyFallback implements the one-hop family fallback: a name with no
// exact or alias match but a recognized vendor-family prefix resolves to
// that family's configured fallback model, if any.
func (r *Registry) familyFallback(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "claude"):
		if r.fallback.Claude != "" {
			return r.fallback.Claude, true
		}
	case strings.HasPrefix(name, "gpt"), strings.HasPrefix(name, "text"):
		if r.fallback.OpenAI != "" {
			return r.fallback.OpenAI, true
		}
	case strings.HasPrefix(name, "gemini"):
		if r.fallback.Gemini != "" {
			return r.fallback.Gemini, true
		}
	}
	return "", false
}

// DeploymentsFor returns the usable deployments provider currently
// exposes for upstreamModel, per the last published snapshot.
func (r *Registry) DeploymentsFor(provider, upstreamModel string) []tenant.Deployment {
	ptr, ok := r.snapshots[provider]
	if !ok {
		return nil
	}
	return ptr.Load().DeploymentsFor(upstreamModel)
}

// Snapshot returns the last published snapshot for provider, or nil if
// none has been published yet.
func (r *Registry) Snapshot(provider string) *tenant.RegistrySnapshot {
	ptr, ok := r.snapshots[provider]
	if !ok {
		return nil
	}
	return ptr.Load()
}

// AllDeployments returns every usable deployment currently published for
// provider, across all upstream models — used by the `deployments list`
// CLI subcommand.
func (r *Registry) AllDeployments(provider string) []tenant.Deployment {
	snap := r.Snapshot(provider)
	if snap == nil {
		return nil
	}
	var out []tenant.Deployment
	for _, ds := range snap.Deployments {
		out = append(out, ds...)
	}
	return out
}
