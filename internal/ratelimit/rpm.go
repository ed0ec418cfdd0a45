// Package ratelimit implements the gateway's requests-per-minute gate: a
// single Redis sliding-window counter consulted by the dispatcher before it
// resolves a model or picks a candidate provider.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow is an atomic Lua script implementing a sliding-window rate
// limiter over a Redis sorted set.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindow = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		-- Drop entries that have aged out of the window.
		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))  -- window is in ns; PEXPIRE wants ms
		return 1
`)

// gatewayRPMKey is the single Redis key backing the gateway-wide limiter.
// There is one bucket for the whole gateway, not one per tenant or API key
// — every dispatched request, regardless of which provider it ultimately
// reaches, draws from the same budget.
const gatewayRPMKey = "aicore-gateway:rpm"

// RPMLimiter gates dispatch at a configured requests-per-minute ceiling
// shared across all providers and callers.
type RPMLimiter struct {
	rdb   *redis.Client
	limit int
}

// NewRPMLimiter builds an RPMLimiter enforcing limit requests per minute.
// limit must be > 0; values <= 0 block every request.
func NewRPMLimiter(rdb *redis.Client, limit int) *RPMLimiter {
	return &RPMLimiter{rdb: rdb, limit: limit}
}

// Allow reports whether the next request fits within the current window. A
// Redis failure degrades to allowing the request rather than rejecting
// traffic because the rate limiter itself is unavailable.
func (r *RPMLimiter) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindow.Run(ctx, r.rdb,
		[]string{gatewayRPMKey},
		now, window, r.limit,
	).Int()
	if err != nil {
		return true, nil
	}
	return result == 1, nil
}
