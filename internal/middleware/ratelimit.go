package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/config"
)

// gcraScript implements the generic cell rate algorithm, which behaves like
// a token bucket of size capacity refilled at refill/interval while storing
// a single timestamp: the theoretical arrival time (TAT) of the next request.
// It returns {allowed, remaining, retry_after_ms}.
var gcraScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local emission = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local tat = tonumber(redis.call('GET', KEYS[1]))
if tat == nil or tat < now then
	tat = now
end
local new_tat = tat + emission
local allow_at = new_tat - burst
if allow_at > now then
	return {0, 0, math.ceil(allow_at - now)}
end
redis.call('SET', KEYS[1], new_tat, 'PX', ttl_ms)
return {1, math.floor((burst - (new_tat - now)) / emission), 0}
`)

// limitReply is the decoded script result.
type limitReply struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func runLimiter(ctx context.Context, rdb *redis.Client, cfg config.RateLimitConfig, key string, now time.Time) (limitReply, error) {
	// One request "costs" the emission interval; Capacity of them is the
	// burst the bucket tolerates.
	emission := cfg.RefillInterval.Milliseconds() / int64(cfg.RefillTokens)
	if emission < 1 {
		emission = 1
	}
	vals, err := gcraScript.Run(ctx, rdb, []string{key},
		now.UnixMilli(), emission, emission*int64(cfg.Capacity), cfg.TTL.Milliseconds()).Int64Slice()
	if err != nil {
		return limitReply{}, err
	}
	if len(vals) != 3 {
		return limitReply{}, fmt.Errorf("ratelimit: unexpected reply %v", vals)
	}
	return limitReply{
		allowed:   vals[0] == 1,
		remaining: vals[1],
		retry:     time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket throttles requests per key (see buildRateKey) so one client
// cannot flood the code endpoints.  Without Redis, or when Redis fails,
// requests pass.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	if log == nil {
		log = zap.NewNop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// One bucket per key; the script updates it atomically.
			key := buildRateKey(cfg, c)
			r, err := runLimiter(c.Request().Context(), rdb, cfg, key, time.Now())
			if err != nil {
				log.Warn("ratelimit: redis error, allowing request", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			// Report the bucket state on every response.
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(r.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if r.allowed {
				return next(c)
			}

			// Denied: tell the client when to come back, rounded up.
			secs := int64(math.Ceil(r.retry.Seconds()))
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
			log.Info("ratelimit: blocked", zap.String("key", key), zap.Duration("retry", r.retry))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too many requests, try again later",
				"retry_after": secs,
			})
		}
	}
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// buildRateKey derives the bucket key.  Strategies: ip, route, user_route,
// ip_route (the default for the auth endpoints, where no user is known yet).
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "route":
		parts = append(parts, "route", route)
	case "user_route":
		parts = append(parts, "user", userKey(c), "route", route)
	default:
		parts = append(parts, "ip", ip, "route", route)
	}
	return strings.Join(parts, ":")
}
