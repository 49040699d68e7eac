// Package ratelimit implements per-host token buckets for outbound platform calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	overrides    map[string]Rule
}

// Rule is a rate and burst pair.
type Rule struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Hosts overrides the default per host name.
	Hosts map[string]Rule
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r, burst := limitOf(Rule{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst})
	overrides := make(map[string]Rule, len(cfg.Hosts))
	for host, rule := range cfg.Hosts {
		overrides[strings.ToLower(host)] = rule
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		overrides:    overrides,
	}
}

// Wait blocks until a token is available for the host of target, which may be
// a URL or a bare host name.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	host := HostOf(target)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if rule, ok := l.overrides[host]; ok {
		r, burst = limitOf(rule)
	}
	limiter = rate.NewLimiter(r, burst)
	l.limiters[host] = limiter
	return limiter
}

func limitOf(rule Rule) (rate.Limit, int) {
	r := rate.Limit(rule.RPS)
	if rule.RPS <= 0 {
		r = rate.Inf
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	return r, burst
}

// HostOf extracts a lowercase host name from a URL or bare host.
func HostOf(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return "unknown"
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
