package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acrgw/aicore-gateway/internal/tenant"
)

type stubTokens struct{}

func (stubTokens) AccessToken(ctx context.Context, provider string) (string, error) {
	return "test-token", nil
}

func deploymentsServer(t *testing.T, models []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		type resource struct {
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
		}
		var resources []resource
		for i, m := range models {
			var r resource
			r.ID = m + "-dep"
			r.Status = tenant.StatusRunning
			r.Details.Resources.BackendDetails.Model.Name = m
			_ = i
			resources = append(resources, r)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"resources": resources})
	}))
}

func testModels() []tenant.ModelDescriptor {
	return []tenant.ModelDescriptor{
		{Name: "gpt-4", UpstreamName: "gpt-4-upstream", Aliases: []string{"gpt-4-turbo*"}},
		{Name: "claude-3-opus", UpstreamName: "claude-3-opus-upstream"},
	}
}

func TestResolve_ExactMatch(t *testing.T) {
	r := New(testModels(), tenant.FallbackTable{}, nil, stubTokens{}, 0)
	got, ok := r.Resolve("gpt-4")
	if !ok || got != "gpt-4-upstream" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestResolve_AliasWildcard(t *testing.T) {
	r := New(testModels(), tenant.FallbackTable{}, nil, stubTokens{}, 0)
	got, ok := r.Resolve("gpt-4-turbo-2024-04-09")
	if !ok || got != "gpt-4-upstream" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestResolve_FamilyFallback(t *testing.T) {
	// The fallback table holds a canonical model name ("claude-3-opus"),
	// distinct from that model's upstream name — Resolve must relook up
	// the canonical name rather than returning it as-is.
	fb := tenant.FallbackTable{Claude: "claude-3-opus"}
	r := New(testModels(), fb, nil, stubTokens{}, 0)
	got, ok := r.Resolve("claude-unknown-future-model")
	if !ok || got != "claude-3-opus-upstream" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestResolve_FamilyFallback_UnknownCanonicalName(t *testing.T) {
	// If the fallback table's canonical name isn't itself in the model
	// table, Resolve degrades to returning it directly.
	fb := tenant.FallbackTable{Claude: "claude-not-configured"}
	r := New(testModels(), fb, nil, stubTokens{}, 0)
	got, ok := r.Resolve("claude-unknown-future-model")
	if !ok || got != "claude-not-configured" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := New(testModels(), tenant.FallbackTable{}, nil, stubTokens{}, 0)
	if _, ok := r.Resolve("totally-unknown"); ok {
		t.Fatal("expected not found")
	}
}

func TestStart_FailsOnZeroDeployments(t *testing.T) {
	srv := deploymentsServer(t, nil)
	defer srv.Close()

	providers := []tenant.Provider{{Name: "p1", APIURL: srv.URL, Enabled: true}}
	r := New(testModels(), tenant.FallbackTable{}, providers, stubTokens{}, 0)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error when initial refresh yields zero usable deployments")
	}
}

func TestStart_PublishesSnapshot(t *testing.T) {
	srv := deploymentsServer(t, []string{"gpt-4-upstream"})
	defer srv.Close()

	providers := []tenant.Provider{{Name: "p1", APIURL: srv.URL, Enabled: true}}
	r := New(testModels(), tenant.FallbackTable{}, providers, stubTokens{}, 0)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deps := r.DeploymentsFor("p1", "gpt-4-upstream")
	if len(deps) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(deps))
	}
}

func TestRefresh_MidRequestDoesNotAffectInFlightTarget(t *testing.T) {
	srv := deploymentsServer(t, []string{"gpt-4-upstream"})
	defer srv.Close()

	providers := []tenant.Provider{{Name: "p1", APIURL: srv.URL, Enabled: true}}
	r := New(testModels(), tenant.FallbackTable{}, providers, stubTokens{}, 0)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapBefore := r.Snapshot("p1")
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapAfter := r.Snapshot("p1")

	if snapBefore == snapAfter {
		t.Fatal("expected refresh to publish a new snapshot object")
	}
	if snapBefore.FetchedAt.After(snapAfter.FetchedAt) {
		t.Fatal("expected newer snapshot to have a later FetchedAt")
	}
	// the in-flight reference captured before refresh remains fully valid.
	if len(snapBefore.DeploymentsFor("gpt-4-upstream")) != 1 {
		t.Fatal("stale snapshot reference must remain readable and unchanged")
	}
}

func TestModelNames_StableBeforeRefresh(t *testing.T) {
	r := New(testModels(), tenant.FallbackTable{}, nil, stubTokens{}, 0)
	names := r.ModelNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 configured model names, got %v", names)
	}
}
