package gateway

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// ManagementRoutes holds optional management API handlers registered
// alongside the dispatcher routes, outside the auth middleware chain.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// Start builds the route table and runs the HTTP server on addr until ctx
// is cancelled, then shuts down gracefully.
func (g *Gateway) Start(ctx context.Context, addr string, mgmt *ManagementRoutes) error {
	go g.health.Run(ctx)

	r := router.New()

	r.POST("/v1/chat/completions", g.withAuth(g.handleChatCompletions))
	r.POST("/v1/completions", g.withAuth(g.handleCompletions))
	r.POST("/v1/embeddings", g.withAuth(g.handleEmbeddings))
	r.GET("/v1/models", g.withAuth(g.handleListModels))
	r.POST("/v1/messages", g.withAuth(g.handleMessages))
	r.POST("/v1/messages/count_tokens", g.withAuth(g.handleMessagesCountTokens))
	r.POST("/v1beta/models/{modelAction:*}", g.withAuth(g.handleGemini))

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)
	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	}
}

// withAuth wraps a dispatcher handler with the bearer-key check. Management
// endpoints (/health, /readiness, /metrics) bypass it deliberately.
func (g *Gateway) withAuth(h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return authMiddleware(g.auth)(h)
}

func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, routeChatCompletions, "")
}

func (g *Gateway) handleCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, routeCompletions, "")
}

func (g *Gateway) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, routeEmbeddings, "")
}

func (g *Gateway) handleMessages(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, routeMessages, "")
}

func (g *Gateway) handleMessagesCountTokens(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, routeMessagesCountTokens, "")
}

// handleGemini dispatches the Gemini-compatible surface, where the model
// name and the requested action are both packed into a single catch-all
// path segment: /v1beta/models/{model}:generateContent.
func (g *Gateway) handleGemini(ctx *fasthttp.RequestCtx) {
	capture, _ := ctx.UserValue("modelAction").(string)
	model, kind, ok := parseGeminiPath(capture)
	if !ok {
		writeJSON(ctx, map[string]string{"error": "unsupported model action"})
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	g.dispatch(ctx, kind, model)
}

// handleListModels answers /v1/models with the canonical model table,
// irrespective of current deployment availability.
func (g *Gateway) handleListModels(ctx *fasthttp.RequestCtx) {
	names := g.reg.ModelNames()
	data := make([]map[string]any, 0, len(names))
	for _, n := range names {
		data = append(data, map[string]any{
			"id":     n,
			"object": "model",
		})
	}
	writeJSON(ctx, map[string]any{"object": "list", "data": data})
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, g.health.Snapshot())
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}
