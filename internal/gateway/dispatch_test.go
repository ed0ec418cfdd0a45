package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/acrgw/aicore-gateway/internal/auth"
	"github.com/acrgw/aicore-gateway/internal/balancer"
	"github.com/acrgw/aicore-gateway/internal/registry"
	"github.com/acrgw/aicore-gateway/internal/tenant"
)

// uaaStub serves a fixed OAuth2 client-credentials token response.
func uaaStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

// deploymentsBody builds a /v2/lm/deployments response listing one usable
// deployment for the given upstream model name.
func deploymentsBody(id, model string) []byte {
	data, _ := json.Marshal(map[string]any{
		"resources": []map[string]any{
			{
				"id":     id,
				"status": "RUNNING",
				"details": map[string]any{
					"resources": map[string]any{
						"backend_details": map[string]any{
							"model": map[string]any{"name": model},
						},
					},
				},
			},
		},
	})
	return data
}

// aiCoreStub serves both the deployments listing and the inference
// endpoint for one fake AI Core tenant, recording inference attempts.
type aiCoreStub struct {
	srv          *httptest.Server
	inferenceHit int
	respond      func(w http.ResponseWriter, r *http.Request)
}

func newAICoreStub(t *testing.T, deploymentID, model string) *aiCoreStub {
	t.Helper()
	s := &aiCoreStub{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/lm/deployments":
			w.Header().Set("Content-Type", "application/json")
			w.Write(deploymentsBody(deploymentID, model))
		default:
			s.inferenceHit++
			if s.respond != nil {
				s.respond(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"ok"}`))
		}
	}))
	return s
}

func buildTestGateway(t *testing.T, providers []tenant.Provider, model string) *Gateway {
	t.Helper()

	authMgr := auth.New([]string{"test-key"}, providers)
	reg := registry.New(
		[]tenant.ModelDescriptor{{Name: model, UpstreamName: model}},
		tenant.FallbackTable{},
		providers,
		authMgr,
		0,
	)
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("registry start: %v", err)
	}
	t.Cleanup(reg.Stop)

	bal := balancer.New(balancer.Fallback, providers)

	return NewGateway(GatewayOptions{
		Auth:     authMgr,
		Registry: reg,
		Balancer: bal,
		CBConfig: CBConfig{ErrorThreshold: 5, TimeWindow: time.Minute, HalfOpenTimeout: time.Second},
	})
}

func newChatCtx(body string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(body))
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/v1/chat/completions")
	return ctx
}

func TestDispatch_SingleProviderSuccess(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()
	up := newAICoreStub(t, "dep1", "gpt-4")
	defer up.srv.Close()

	providers := []tenant.Provider{
		{Name: "openai", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: up.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"model":"gpt-4"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if up.inferenceHit != 1 {
		t.Fatalf("expected exactly one inference call, got %d", up.inferenceHit)
	}
}

func TestDispatch_FailsOverOn429(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()

	rateLimited := newAICoreStub(t, "dep1", "gpt-4")
	rateLimited.respond = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	defer rateLimited.srv.Close()

	healthy := newAICoreStub(t, "dep2", "gpt-4")
	defer healthy.srv.Close()

	providers := []tenant.Provider{
		{Name: "primary", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: rateLimited.srv.URL, ResourceGroup: "default", Enabled: true},
		{Name: "secondary", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: healthy.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"model":"gpt-4"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected failover to succeed with 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if rateLimited.inferenceHit != 1 {
		t.Fatalf("expected exactly one attempt against the rate-limited provider, got %d", rateLimited.inferenceHit)
	}
	if healthy.inferenceHit != 1 {
		t.Fatalf("expected exactly one attempt against the healthy provider, got %d", healthy.inferenceHit)
	}
}

func TestDispatch_AllProvidersRateLimited(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()

	rateLimit := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	first := newAICoreStub(t, "dep1", "gpt-4")
	first.respond = rateLimit
	defer first.srv.Close()

	second := newAICoreStub(t, "dep2", "gpt-4")
	second.respond = rateLimit
	defer second.srv.Close()

	providers := []tenant.Provider{
		{Name: "primary", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: first.srv.URL, ResourceGroup: "default", Enabled: true},
		{Name: "secondary", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: second.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"model":"gpt-4"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	var body struct {
		Error struct {
			Message   string   `json:"message"`
			Providers []string `json:"providers"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if len(body.Error.Providers) != 2 || body.Error.Providers[0] != "primary" || body.Error.Providers[1] != "secondary" {
		t.Fatalf("expected providers [primary secondary] in order tried, got %v", body.Error.Providers)
	}
	if !strings.Contains(body.Error.Message, "primary") || !strings.Contains(body.Error.Message, "secondary") {
		t.Fatalf("expected message to mention both provider names, got %q", body.Error.Message)
	}
}

func TestDispatch_PassesThroughNonRetryableError(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()

	up := newAICoreStub(t, "dep1", "gpt-4")
	up.respond = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request upstream"}`))
	}
	defer up.srv.Close()

	providers := []tenant.Provider{
		{Name: "openai", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: up.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"model":"gpt-4"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected upstream 400 to pass through verbatim, got %d", ctx.Response.StatusCode())
	}
	if up.inferenceHit != 1 {
		t.Fatalf("non-retryable error should not trigger a retry, got %d attempts", up.inferenceHit)
	}
}

func TestDispatch_UnknownModel(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()
	up := newAICoreStub(t, "dep1", "gpt-4")
	defer up.srv.Close()

	providers := []tenant.Provider{
		{Name: "openai", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: up.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"model":"not-a-real-model"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
	var body struct {
		Error struct {
			Model string `json:"model"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body.Error.Model != "not-a-real-model" {
		t.Fatalf("expected error body to echo the requested model, got %q", body.Error.Model)
	}
}

func TestDispatch_MissingModelIsBadRequest(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()
	up := newAICoreStub(t, "dep1", "gpt-4")
	defer up.srv.Close()

	providers := []tenant.Provider{
		{Name: "openai", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: up.srv.URL, ResourceGroup: "default", Enabled: true},
	}
	gw := buildTestGateway(t, providers, "gpt-4")

	ctx := newChatCtx(`{"messages":[]}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestDispatch_RewritesModelToUpstreamName(t *testing.T) {
	uaa := uaaStub(t)
	defer uaa.Close()

	var captured map[string]any
	up := newAICoreStub(t, "dep1", "gpt-4-turbo")
	up.respond = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"ok"}`))
	}
	defer up.srv.Close()

	providers := []tenant.Provider{
		{Name: "openai", TokenURL: uaa.URL, ClientID: "id", ClientSecret: "secret", APIURL: up.srv.URL, ResourceGroup: "default", Enabled: true},
	}

	authMgr := auth.New([]string{"test-key"}, providers)
	reg := registry.New(
		[]tenant.ModelDescriptor{{Name: "gpt4", UpstreamName: "gpt-4-turbo"}},
		tenant.FallbackTable{},
		providers,
		authMgr,
		0,
	)
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("registry start: %v", err)
	}
	defer reg.Stop()

	bal := balancer.New(balancer.Fallback, providers)
	gw := NewGateway(GatewayOptions{Auth: authMgr, Registry: reg, Balancer: bal})

	ctx := newChatCtx(`{"model":"gpt4"}`)
	gw.dispatch(ctx, routeChatCompletions, "")

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	if captured["model"] != "gpt-4-turbo" {
		t.Fatalf("expected rewritten model gpt-4-turbo, got %v", captured["model"])
	}
}
