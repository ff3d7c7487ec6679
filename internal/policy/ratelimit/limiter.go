// Package ratelimit implements keyed token-bucket limiters: per client for
// job submissions and per host for page fetches.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iantaiahn/topicscraper/internal/metrics"
)

// ErrLimited is returned by Allow when the key has no tokens left.
var ErrLimited = errors.New("rate limit exceeded")

const (
	defaultIdleTTL = 10 * time.Minute
	pruneThreshold = 1024
)

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64       `mapstructure:"rps"`
	Burst int           `mapstructure:"burst"`
	Idle  time.Duration `mapstructure:"idle"`
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per key. Idle buckets are pruned once
// the map grows past a threshold.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

// New creates a Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	idle := cfg.Idle
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= pruneThreshold {
			l.prune(now)
		}
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *Limiter) prune(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, key)
		}
	}
}

// Allow consumes a token for client without blocking. Rejections are
// counted in metrics.
func (l *Limiter) Allow(client string) error {
	if l.get(client).AllowN(l.now(), 1) {
		return nil
	}
	metrics.ObserveRateLimitRejection(client)
	return fmt.Errorf("%w for %s", ErrLimited, client)
}

// Wait blocks until the host of rawURL has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if err := l.get(HostKey(rawURL)).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// HostKey returns the lower-cased host of rawURL, or "unknown".
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
