// Package ratelimit throttles credential submissions per client IP.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

const (
	DefaultCleanupInterval = 3 * time.Minute
	DefaultIdleTimeout     = 5 * time.Minute

	TextCodeLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

var ErrLimitExceeded = errors.New("Muitas tentativas. Aguarde um instante e tente novamente.", errors.CategoryRateLimit).
	WithTextCode(TextCodeLimitExceeded).
	WithCode(http.StatusTooManyRequests)

type Config struct {
	// Rate is the number of requests allowed per second
	Rate rate.Limit
	// Burst is the maximum burst size
	Burst int

	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(router.Context) string

	CleanupInterval time.Duration
	IdleTimeout     time.Duration

	now func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key and drops buckets that went idle
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*entry

	stop chan struct{}
	once sync.Once
}

func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(ctx router.Context) string { return ctx.IP() }
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	l := &Limiter{
		cfg:      cfg,
		limiters: make(map[string]*entry),
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Handler rejects requests over the limit. The Retry-After header is set
// and ErrLimitExceeded goes to errorHandler, a plain 429 when none is given.
func (l *Limiter) Handler(errorHandler ...router.ErrorHandler) router.MiddlewareFunc {
	onLimit := defaultErrorHandler
	if len(errorHandler) > 0 && errorHandler[0] != nil {
		onLimit = errorHandler[0]
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if !l.Allow(l.cfg.KeyFunc(ctx)) {
				retryAfter := max(int(1.0/float64(l.cfg.Rate)), 1)
				ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
				return onLimit(ctx, ErrLimitExceeded)
			}
			return next(ctx)
		}
	}
}

func defaultErrorHandler(ctx router.Context, err error) error {
	return ctx.Status(http.StatusTooManyRequests).SendString(ErrLimitExceeded.Message)
}

// Allow consumes one token from the bucket of key
func (l *Limiter) Allow(key string) bool {
	now := l.cfg.now()
	return l.limiter(key, now).AllowN(now, 1)
}

func (l *Limiter) limiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	limiter := rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)
	l.limiters[key] = &entry{limiter: limiter, lastSeen: now}
	return limiter
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() int {
	now := l.cfg.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.cfg.IdleTimeout {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Close stops the cleanup loop
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
