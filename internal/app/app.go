// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initAuth     — Token Manager over the configured AI Core tenants
//  2. initRegistry — Model Registry initial refresh (fatal on zero deployments)
//  3. initBalancer — Load Balancer (fatal if no provider is enabled)
//  4. initServices — Prometheus metrics, async request logger, optional rate limiter
//  5. initGateway  — Request Dispatcher + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acrgw/aicore-gateway/internal/auth"
	"github.com/acrgw/aicore-gateway/internal/balancer"
	"github.com/acrgw/aicore-gateway/internal/config"
	"github.com/acrgw/aicore-gateway/internal/gateway"
	"github.com/acrgw/aicore-gateway/internal/logger"
	"github.com/acrgw/aicore-gateway/internal/metrics"
	"github.com/acrgw/aicore-gateway/internal/ratelimit"
	"github.com/acrgw/aicore-gateway/internal/registry"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	rdb *redis.Client // nil unless rate limiting is configured

	authMgr  *auth.Manager
	reg      *registry.Registry
	bal      *balancer.Balancer
	prom     *metrics.Registry
	reqLog   *logger.Logger
	rpmLimit *ratelimit.RPMLimiter

	gw   *gateway.Gateway
	mgmt *gateway.ManagementRoutes
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"auth", a.initAuth},
		{"registry", a.initRegistry},
		{"balancer", a.initBalancer},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

func (a *App) initAuth(context.Context) error {
	a.authMgr = auth.New(a.cfg.APIKeys, a.cfg.TenantProviders())
	return nil
}

func (a *App) initRegistry(ctx context.Context) error {
	interval := time.Duration(a.cfg.RefreshIntervalSecs) * time.Second
	a.reg = registry.New(a.cfg.TenantModels(), a.cfg.FallbackTable(), a.cfg.TenantProviders(), a.authMgr, interval)
	return a.reg.Start(ctx)
}

func (a *App) initBalancer(context.Context) error {
	a.bal = balancer.New(balancer.ParseStrategy(a.cfg.Strategy), a.cfg.TenantProviders())
	if a.bal.IsEmpty() {
		return fmt.Errorf("no enabled providers to balance across")
	}
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	reqLog, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLog = reqLog

	if a.cfg.RateLimit.Enabled && a.cfg.RateLimit.RedisAddr != "" {
		rdb, err := connectRedis(ctx, a.cfg.RateLimit.RedisAddr)
		if err != nil {
			return fmt.Errorf("rate limit redis: %w", err)
		}
		a.rdb = rdb
		a.rpmLimit = ratelimit.NewRPMLimiter(rdb, a.cfg.RateLimit.RPM)
	}

	return nil
}

func (a *App) initGateway(context.Context) error {
	a.gw = gateway.NewGateway(gateway.GatewayOptions{
		Auth:        a.authMgr,
		Registry:    a.reg,
		Balancer:    a.bal,
		Metrics:     a.prom,
		Logger:      a.reqLog,
		RateLimiter: a.rpmLimit,
		CORSOrigins: a.cfg.CORSOrigins,
		BodyLimit:   a.cfg.RequestBodyLimit,
	})
	a.mgmt = &gateway.ManagementRoutes{Metrics: a.prom.Handler()}
	return nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server returns an error.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("strategy", a.cfg.Strategy),
		slog.Int("providers", len(a.cfg.Providers)),
	)

	return a.gw.Start(ctx, addr, a.mgmt)
}

// Close stops the registry's refresh loop, then closes the request logger
// and the rate-limit Redis client. Safe to call multiple times.
func (a *App) Close() {
	if a.reg != nil {
		a.reg.Stop()
	}
	if a.reqLog != nil {
		if err := a.reqLog.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLog = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// Registry exposes the Model Registry for the CLI's `deployments list`
// subcommand, which reuses a one-shot App without running the server.
func (a *App) Registry() *registry.Registry { return a.reg }

// Config exposes the resolved configuration for the CLI's
// `deployments list` subcommand.
func (a *App) Config() *config.Config { return a.cfg }

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return rdb, nil
}
