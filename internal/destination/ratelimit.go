package destination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/postforge-api/internal/models"
)

var tracer = otel.Tracer("github.com/jmylchreest/postforge-api/internal/destination")

// Limiter gates outbound publishes per key. When a call is denied, wait is
// the suggested delay before the next try.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, wait time.Duration, err error)
}

// LimiterKey scopes limits to one destination account.
func LimiterKey(dest models.Destination, accountID string) string {
	return fmt.Sprintf("postforge:ratelimit:%s:%s", dest, accountID)
}

// LocalLimiter is an in-process token bucket per key.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	limit    rate.Limit
	burst    int
	entryTTL time.Duration
	lastGC   time.Time
}

type localEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLocalLimiter allows perMinute calls per key with a burst of the same size.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*localEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		entryTTL: 10 * time.Minute,
	}
}

// Allow takes one token for key.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()

	l.mu.Lock()
	if now.Sub(l.lastGC) > l.entryTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastAccess) > l.entryTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastAccess = now
	l.mu.Unlock()

	if e.limiter.AllowN(now, 1) {
		return true, 0, nil
	}
	r := e.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait, nil
}

// slidingWindowScript trims the window, admits the call if under the limit,
// and otherwise reports how long until the oldest entry leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then wait = tonumber(oldest[2]) + window - now end
  return {0, wait}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisLimiter is a sliding-window limiter shared by every process using the
// same Redis.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit calls per window per key.
func NewRedisLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

// Allow records one call for key if the window has room.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	defer span.End()
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", l.limit),
		attribute.Int64("ratelimit.window_ms", l.window.Milliseconds()),
	)

	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{key},
		now, l.window.Milliseconds(), l.limit, fmt.Sprintf("%d-%s", now, ulid.Make().String()),
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	allowed := len(res) > 0 && res[0] == 1
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
	if allowed {
		return true, 0, nil
	}
	var wait time.Duration
	if len(res) > 1 {
		wait = time.Duration(res[1]) * time.Millisecond
	}
	return false, wait, nil
}

// limitedAdapter gates Publish through a Limiter.
type limitedAdapter struct {
	Adapter
	limiter Limiter
	logger  *slog.Logger
}

// WithLimiter wraps a so every Publish takes a token for the target account
// first. A denied call fails with ErrRateLimited without touching the
// platform. Limiter errors fail open.
func WithLimiter(a Adapter, l Limiter) Adapter {
	return &limitedAdapter{Adapter: a, limiter: l, logger: slog.Default().With("component", "destination-limiter")}
}

func (l *limitedAdapter) Publish(ctx context.Context, p Payload) (string, error) {
	if err := l.Validate(p, time.Now()); err != nil {
		return "", err
	}
	key := LimiterKey(l.Kind(), p.Credentials.AccountID)
	allowed, wait, err := l.limiter.Allow(ctx, key)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing publish", "destination", l.Kind(), "error", err)
		return l.Adapter.Publish(ctx, p)
	}
	if !allowed {
		return "", &PublishError{
			Err:         ErrRateLimited,
			Destination: l.Kind(),
			Message:     "outbound publish rate exceeded for account",
			RetryAfter:  wait,
		}
	}
	return l.Adapter.Publish(ctx, p)
}
