package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc groups requests. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Exempt requests bypass the limiter and carry no rate limit headers.
	Exempt func(*http.Request) bool
}

// window approximates a sliding window from two fixed buckets: the previous
// bucket is weighted by how much of it still overlaps the sliding window.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

func (w *window) take(now time.Time, size time.Duration, limit int) (remaining int, reset time.Time, ok bool) {
	if elapsed := now.Sub(w.start); elapsed >= size {
		w.prev = w.curr
		if elapsed >= 2*size {
			w.prev = 0
		}
		w.curr = 0
		w.start = now.Truncate(size)
	}

	overlap := math.Max(0, 1-now.Sub(w.start).Seconds()/size.Seconds())
	used := w.prev*overlap + w.curr
	reset = w.start.Add(size)
	if used >= float64(limit) {
		return 0, reset, false
	}
	w.curr++
	return max(0, int(float64(limit)-used-1)), reset, true
}

type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

func (rl *rateLimiter) take(key string) (int, time.Time, bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok {
		w = &window{start: now}
		rl.windows[key] = w
	}
	return w.take(now, rl.cfg.Window, rl.cfg.Max)
}

// evict drops keys idle for two full windows.
func (rl *rateLimiter) evict() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= 2*rl.cfg.Window {
			delete(rl.windows, key)
		}
	}
}

func (rl *rateLimiter) middleware() Middleware {
	limit := strconv.Itoa(rl.cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Exempt != nil && rl.cfg.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			remaining, reset, ok := rl.take(rl.cfg.KeyFunc(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(0, reset.Sub(rl.now()))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			zctx.From(r.Context()).Debug("Rate limited",
				zap.String("path", r.URL.Path),
				zap.Duration("retry_after", wait),
			)
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// RateLimit limits requests per key with 429 responses and X-RateLimit-*
// headers. Idle keys are never evicted; long-running servers should use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle keys
// every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		t := time.NewTicker(2 * cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.evict()
			}
		}
	}()
	return rl.middleware()
}

// ExemptPaths matches requests whose path is one of paths.
func ExemptPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// KeyByHeader limits callers presenting header separately from each other,
// falling back to the client IP. Header values are hashed so raw credentials
// never sit in the limiter state.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if v == "" {
			return clientIP(r)
		}
		sum := sha256.Sum256([]byte(v))
		return header + ":" + hex.EncodeToString(sum[:8])
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
