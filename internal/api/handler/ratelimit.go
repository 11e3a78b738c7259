package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures RateLimiter.
type RateLimitConfig struct {
	// RPS is the steady-state requests per second allowed per client IP.
	RPS float64
	// Burst defaults to twice RPS, and at least 1.
	Burst int
	// IdleTTL is how long an unseen client keeps its bucket. Default 10m.
	IdleTTL time.Duration
	// Exempt lists route patterns (gin FullPath) that are never limited.
	Exempt []string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type buckets struct {
	mu  sync.Mutex
	m   map[string]*bucket
	cfg RateLimitConfig
}

func (b *buckets) get(ip string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.m[ip]
	if !ok {
		e = &bucket{limiter: rate.NewLimiter(rate.Limit(b.cfg.RPS), b.cfg.Burst)}
		b.m[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (b *buckets) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, e := range b.m {
		if now.Sub(e.lastSeen) > b.cfg.IdleTTL {
			delete(b.m, ip)
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// limits. Refused requests get 429 with a Retry-After of whole seconds
// until the next token. Idle buckets are swept every IdleTTL/2 until ctx
// is cancelled.
func RateLimiter(ctx context.Context, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RPS*2))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	exempt := make(map[string]bool, len(cfg.Exempt))
	for _, p := range cfg.Exempt {
		exempt[p] = true
	}
	b := &buckets{m: make(map[string]*bucket), cfg: cfg}

	go func() {
		ticker := time.NewTicker(cfg.IdleTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		if exempt[c.FullPath()] {
			c.Next()
			return
		}

		now := time.Now()
		res := b.get(c.ClientIP(), now).ReserveN(now, 1)
		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			secs := 1
			if res.OK() {
				secs = max(1, int(math.Ceil(delay.Seconds())))
			}
			recordRateLimited()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
