package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements redisCommands in memory. expireErr, when set, makes
// the next ExpireNX fail the way a dropped connection would.
type fakeRedis struct {
	counts      map[string]int64
	ttlSet      map[string]bool
	incrErr     error
	expireErr   error
	expireCalls int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, ttlSet: map[string]bool{}}
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) ExpireNX(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	f.expireCalls++
	if f.expireErr != nil {
		return redis.NewBoolResult(false, f.expireErr)
	}
	set := !f.ttlSet[key]
	f.ttlSet[key] = true
	return redis.NewBoolResult(set, nil)
}

func TestRedisLimiterReissuesExpiry(t *testing.T) {
	fake := newFakeRedis()
	l := &redisLimiter{client: fake, limit: 2, window: time.Minute, log: zerolog.Nop()}
	ctx := context.Background()

	// First check: counter created but the expire is lost.
	fake.expireErr = errors.New("connection reset")
	assert.True(t, l.Check(ctx, "198.51.100.7"))
	assert.False(t, fake.ttlSet["ratelimit:login:198.51.100.7"])

	// The next check re-issues the expire, so the counter gets its TTL
	// back instead of counting forever.
	fake.expireErr = nil
	assert.True(t, l.Check(ctx, "198.51.100.7"))
	assert.True(t, fake.ttlSet["ratelimit:login:198.51.100.7"])
	assert.Equal(t, 2, fake.expireCalls)

	// Over the limit within the window.
	assert.False(t, l.Check(ctx, "198.51.100.7"))
	// A different client is unaffected.
	assert.True(t, l.Check(ctx, "198.51.100.8"))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	fake := newFakeRedis()
	fake.incrErr = errors.New("dial tcp: connection refused")
	l := &redisLimiter{client: fake, limit: 1, window: time.Minute, log: zerolog.Nop()}

	// An unreachable limiter never blocks logins.
	assert.True(t, l.Check(context.Background(), "198.51.100.7"))
	assert.True(t, l.Check(context.Background(), "198.51.100.7"))
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(1, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "198.51.100.7"))
	assert.False(t, l.Check(ctx, "198.51.100.7"))
	assert.True(t, l.Check(ctx, "198.51.100.8"))
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.LoginLimiter = NewLocalLimiter(1, time.Minute)
	})

	first := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"api_key": env.opsKey})
	require.Equal(t, http.StatusOK, first.Code, "body: %s", first.Body.String())

	second := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"api_key": env.opsKey})
	e := requireErrorCode(t, second, http.StatusTooManyRequests, codeRateLimited)
	assert.Equal(t, "too many login attempts", e.Message)
}
