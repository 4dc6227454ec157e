package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter is the rate-limit collaborator contract: Check reports whether
// the identifier is allowed to proceed. Implementations must fail open —
// an unreachable limiter never blocks logins.
type Limiter interface {
	Check(ctx context.Context, identifier string) bool
}

// redisCommands is the slice of the redis client the limiter uses.
type redisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// redisLimiter counts requests per identifier in a fixed window. Limiter
// unavailability and timeouts are logged and treated as allowed.
type redisLimiter struct {
	client redisCommands
	limit  int
	window time.Duration
	log    zerolog.Logger
}

const redisCheckTimeout = 500 * time.Millisecond

func NewRedisLimiter(addr, password string, db, limit int, window time.Duration, log zerolog.Logger) Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisCheckTimeout,
		ReadTimeout:  redisCheckTimeout,
		WriteTimeout: redisCheckTimeout,
	})
	return &redisLimiter{client: client, limit: limit, window: window, log: log}
}

func (l *redisLimiter) Check(ctx context.Context, identifier string) bool {
	ctx, cancel := context.WithTimeout(ctx, redisCheckTimeout)
	defer cancel()

	key := "ratelimit:login:" + identifier
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Msg("rate limiter unreachable, failing open")
		return true
	}
	// ExpireNX on every check, not only on count==1: if a previous expire
	// was lost, the counter would otherwise never reset and that client
	// would be limited forever. NX keeps the window from sliding.
	if err := l.client.ExpireNX(ctx, key, l.window).Err(); err != nil {
		l.log.Warn().Err(err).Msg("rate limiter expire failed")
	}
	return count <= int64(l.limit)
}

// NewLocalLimiter returns an in-process fixed-window Limiter. Stands in
// for the Redis limiter when none is configured.
func NewLocalLimiter(limit int, window time.Duration) Limiter {
	return newIPRateLimiter(limit, window)
}

// ipRateLimiter is the router-wide in-process fallback: a fixed window per
// client IP with no external dependency.
type ipRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	limit   int
	window  time.Duration
}

type ipEntry struct {
	resetAt time.Time
	count   int
}

func newIPRateLimiter(limit int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		entries: map[string]*ipEntry{},
		limit:   limit,
		window:  window,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[ip]
	if e == nil || now.After(e.resetAt) {
		l.entries[ip] = &ipEntry{resetAt: now.Add(l.window), count: 1}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Check implements Limiter so the local limiter can stand in for Redis.
func (l *ipRateLimiter) Check(_ context.Context, identifier string) bool {
	return l.allow(strings.TrimSpace(identifier))
}
