// Package gateway implements the gateway's Request Dispatcher: it
// authenticates inbound requests, resolves the requested model via the
// Model Registry, walks the Load Balancer's ordered candidate providers,
// forwards the request to the first that succeeds, and streams or buffers
// the response back to the client.
package gateway

import (
	"net/http"
	"time"

	"github.com/acrgw/aicore-gateway/internal/auth"
	"github.com/acrgw/aicore-gateway/internal/balancer"
	"github.com/acrgw/aicore-gateway/internal/logger"
	"github.com/acrgw/aicore-gateway/internal/metrics"
	"github.com/acrgw/aicore-gateway/internal/ratelimit"
	"github.com/acrgw/aicore-gateway/internal/registry"
)

// authenticator is the subset of auth.Manager the middleware chain needs.
type authenticator interface {
	Authenticate(bearer []byte) bool
}

var _ authenticator = (*auth.Manager)(nil)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Auth        *auth.Manager
	Registry    *registry.Registry
	Balancer    *balancer.Balancer
	Metrics     *metrics.Registry
	Logger      *logger.Logger
	RateLimiter *ratelimit.RPMLimiter // nil disables rate limiting
	CBConfig    CBConfig
	CORSOrigins []string
	BodyLimit   int // 0 = no explicit limit beyond fasthttp's default
	MaxRetries  int // candidates attempted per request; 0 = try all
}

// Gateway is the HTTP-facing request dispatcher.
type Gateway struct {
	auth        *auth.Manager
	reg         *registry.Registry
	bal         *balancer.Balancer
	cb          *CircuitBreaker
	health      *HealthChecker
	metrics     *metrics.Registry
	reqLogger   *logger.Logger
	rateLimiter *ratelimit.RPMLimiter
	httpClient  *http.Client
	corsOrigins []string
	bodyLimit   int
	maxRetries  int
}

// NewGateway builds a Gateway from opts. Call Start to run its HTTP server.
func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		auth:        opts.Auth,
		reg:         opts.Registry,
		bal:         opts.Balancer,
		cb:          NewCircuitBreaker(opts.CBConfig),
		metrics:     opts.Metrics,
		reqLogger:   opts.Logger,
		rateLimiter: opts.RateLimiter,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		corsOrigins: opts.CORSOrigins,
		bodyLimit:   opts.BodyLimit,
		maxRetries:  opts.MaxRetries,
	}
	g.health = NewHealthChecker(opts.Registry, providerNames(opts.Balancer), opts.Metrics)
	return g
}

func providerNames(b *balancer.Balancer) []string {
	var names []string
	for _, p := range b.Order() {
		names = append(names, p.Name)
	}
	return names
}
