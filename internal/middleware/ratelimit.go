package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hongminglow/accounts/internal/http/respond"
	"github.com/hongminglow/accounts/internal/metrics"
)

const (
	rateLimiterSweepInterval = 5 * time.Minute
	rateLimitWindow          = time.Minute
)

// RateLimiter decides whether the caller identified by key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
	Close()
}

// MemoryRateLimiter keeps one token bucket per key. Idle buckets are swept.
type MemoryRateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateLimiter allows perMinute requests per key, refilled evenly.
func NewMemoryRateLimiter(perMinute int) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		limit:   rate.Limit(float64(perMinute) / rateLimitWindow.Seconds()),
		burst:   perMinute,
		entries: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) bool {
	now := time.Now()
	rl.mu.Lock()
	b, ok := rl.entries[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (rl *MemoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.entries {
		if now.Sub(b.lastSeen) > rateLimitWindow {
			delete(rl.entries, key)
		}
	}
}

func (rl *MemoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

// RedisRateLimiter is a fixed-window counter shared by every replica.
// Redis errors fail open.
type RedisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	limit   int
	prefix  string
	timeout time.Duration
}

func NewRedisRateLimiter(client *redis.Client, perMinute int, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		logger:  logger,
		limit:   perMinute,
		prefix:  "accounts:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	window := time.Now().Unix() / int64(rateLimitWindow.Seconds())
	redisKey := rl.prefix + key + ":" + strconv.FormatInt(window, 10)
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logger.Error("redis rate limiter error", "op", "incr", "error", err)
		return true
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, rateLimitWindow).Err(); err != nil {
			rl.logger.Error("redis rate limiter error", "op", "expire", "error", err)
		}
	}
	return counter <= int64(rl.limit)
}

// Close is a no-op; the client is owned by the caller.
func (rl *RedisRateLimiter) Close() {}

// RateLimit answers 429 once the client IP exceeds its allowance.
// A nil limiter disables the check. trustProxy keys clients by
// X-Forwarded-For and must only be set behind a proxy that overwrites it.
func RateLimit(limiter RateLimiter, m *metrics.Metrics, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", r.URL.Path, ClientIP(r, trustProxy))
			if !limiter.Allow(r.Context(), key) {
				m.RateLimited(r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
				respond.Error(w, http.StatusTooManyRequests, "Request was throttled.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the peer address. With trustProxy it prefers the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request, trustProxy bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustProxy && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return host
}
