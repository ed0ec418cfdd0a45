package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/acrgw/aicore-gateway/internal/logger"
	"github.com/acrgw/aicore-gateway/internal/tenant"
	"github.com/acrgw/aicore-gateway/pkg/apierr"
)

const maxCandidateProviders = 8

// dispatch resolves the model named in the request, walks the balancer's
// ordered candidate providers, and forwards to the first that produces a
// non-retryable response. kind determines the outbound path suffix and
// which vendor headers to propagate.
func (g *Gateway) dispatch(ctx *fasthttp.RequestCtx, kind routeKind, geminiModel string) {
	start := time.Now()

	if g.rateLimiter != nil {
		allowed, err := g.rateLimiter.Allow(ctx)
		if err == nil && !allowed {
			apierr.WriteRateLimit(ctx)
			return
		}
	}

	body := ctx.PostBody()
	if g.bodyLimit > 0 && len(body) > g.bodyLimit {
		apierr.WritePayloadTooLarge(ctx)
		return
	}

	var clientModel string
	var streamRequested bool
	var payload map[string]any

	if kind == routeGeminiGenerate || kind == routeGeminiStreamGenerate {
		clientModel = geminiModel
		streamRequested = kind == routeGeminiStreamGenerate
		payload = map[string]any{}
		if len(body) > 0 {
			_ = json.Unmarshal(body, &payload)
		}
	} else {
		if err := json.Unmarshal(body, &payload); err != nil {
			apierr.WriteBadRequest(ctx, "request body must be valid JSON")
			return
		}
		if m, ok := payload["model"].(string); ok {
			clientModel = m
		}
		if s, ok := payload["stream"].(bool); ok {
			streamRequested = s
		}
	}

	if clientModel == "" {
		apierr.WriteBadRequest(ctx, "request is missing a model name")
		return
	}

	upstreamModel, ok := g.reg.Resolve(clientModel)
	if !ok {
		apierr.WriteModelNotFound(ctx, clientModel)
		return
	}

	candidates := g.bal.Order()
	if g.maxRetries > 0 && len(candidates) > g.maxRetries {
		candidates = candidates[:g.maxRetries]
	}
	if len(candidates) > maxCandidateProviders {
		candidates = candidates[:maxCandidateProviders]
	}

	var lastErr error
	var lastStatus int
	var attempted []string

	for _, p := range candidates {
		if !g.cb.Allow(p.Name) {
			if g.metrics != nil {
				g.metrics.RecordCircuitBreakerRejection(p.Name, g.cb.StateLabel(p.Name))
			}
			continue
		}

		deployments := g.reg.DeploymentsFor(p.Name, upstreamModel)
		if len(deployments) == 0 {
			continue
		}
		deployment := deployments[0]

		attempted = append(attempted, p.Name)
		outcome, err := g.attempt(ctx, p, deployment, kind, geminiModel, upstreamModel, payload, body, streamRequested)
		switch {
		case err == nil:
			g.cb.RecordSuccess(p.Name)
			g.recordCBState(p.Name)
			g.logAttempt(start, p.Name, clientModel, outcome.status)
			return
		case errors.Is(err, errRetryable):
			g.cb.RecordFailure(p.Name)
			g.recordCBState(p.Name)
			lastErr = err
			lastStatus = outcome.status
			continue
		default:
			// Non-retryable upstream error: pass the response through
			// verbatim, exactly as the upstream produced it.
			g.cb.RecordSuccess(p.Name)
			g.recordCBState(p.Name)
			g.logAttempt(start, p.Name, clientModel, outcome.status)
			return
		}
	}

	if lastStatus == fasthttp.StatusTooManyRequests {
		apierr.WriteRateLimit(ctx, attempted...)
		return
	}
	if lastErr != nil {
		apierr.WriteUpstreamAuthFailed(ctx)
		return
	}
	apierr.WriteModelNotFound(ctx, clientModel)
}

var errRetryable = errors.New("retryable upstream failure")

type attemptOutcome struct {
	status int
}

// attempt performs one forwarding attempt against a single deployment. A
// nil error means the response (whatever its status) was already written
// to ctx and dispatch should stop. errRetryable means the caller should
// try the next candidate provider — returned for a failed token fetch, a
// 429 response, a connection-level failure, or a failed read of the
// upstream response body.
func (g *Gateway) attempt(
	ctx *fasthttp.RequestCtx,
	p tenant.Provider,
	deployment tenant.Deployment,
	kind routeKind,
	geminiModel string,
	upstreamModel string,
	payload map[string]any,
	rawBody []byte,
	streamRequested bool,
) (attemptOutcome, error) {
	token, err := g.auth.AccessToken(ctx, p.Name)
	if err != nil {
		return attemptOutcome{}, errRetryable
	}

	outBody := rawBody
	if kind != routeGeminiGenerate && kind != routeGeminiStreamGenerate {
		payload["model"] = upstreamModel
		rewritten, err := json.Marshal(payload)
		if err == nil {
			outBody = rewritten
		}
	}

	url := strings.TrimRight(p.APIURL, "/") + outboundPath(kind, deployment.ID, geminiModel)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newReaderFrom(outBody))
	if err != nil {
		return attemptOutcome{}, errRetryable
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("AI-Resource-Group", p.ResourceGroup)
	if id, ok := ctx.UserValue("request_id").(string); ok {
		req.Header.Set("X-Request-ID", id)
	} else {
		req.Header.Set("X-Request-ID", uuid.New().String())
	}
	headerMap := map[string][]string{}
	propagateVendorHeaders(kind, &ctx.Request, headerMap)
	for k, vs := range headerMap {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return attemptOutcome{}, errRetryable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return attemptOutcome{status: resp.StatusCode}, errRetryable
	}

	copyResponseHeaders(ctx, resp)
	ctx.SetStatusCode(resp.StatusCode)

	if streamRequested || strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		writeSSE(ctx, resp.Body)
		return attemptOutcome{status: resp.StatusCode}, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptOutcome{status: resp.StatusCode}, errRetryable
	}
	ctx.SetBody(respBody)
	return attemptOutcome{status: resp.StatusCode}, nil
}

func copyResponseHeaders(ctx *fasthttp.RequestCtx, resp *http.Response) {
	for k, vs := range resp.Header {
		lk := strings.ToLower(k)
		if lk == "content-length" || lk == "transfer-encoding" || lk == "connection" {
			continue
		}
		for _, v := range vs {
			ctx.Response.Header.Add(k, v)
		}
	}
}

// writeSSE streams the upstream response body through to the client
// without buffering it, preserving chunk boundaries for server-sent
// events. A mid-stream failure on the upstream side (including a 429
// arriving after the first bytes) is passed through verbatim; failover
// only happens before any bytes have been written to the client.
func writeSSE(ctx *fasthttp.RequestCtx, upstream io.Reader) {
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		buf := make([]byte, 4096)
		for {
			n, err := upstream.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
				if ferr := w.Flush(); ferr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	})
}

func newReaderFrom(b []byte) io.Reader {
	return strings.NewReader(string(b))
}

func (g *Gateway) recordCBState(provider string) {
	if g.metrics != nil {
		g.metrics.SetCircuitBreaker(provider, g.cb.StateValue(provider))
	}
}

func (g *Gateway) logAttempt(start time.Time, provider, model string, status int) {
	if g.reqLogger == nil {
		return
	}
	latency := time.Since(start)
	ms := latency.Milliseconds()
	if ms > 65535 {
		ms = 65535
	}
	g.reqLogger.Log(logger.RequestLog{
		ID:        uuid.New(),
		Provider:  provider,
		Model:     model,
		LatencyMs: uint16(ms),
		Status:    uint16(status),
		CreatedAt: start,
	})
	if g.metrics != nil {
		g.metrics.RecordRequest(provider, status, latency.Milliseconds())
	}
}
