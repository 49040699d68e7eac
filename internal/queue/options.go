package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 15 * time.Minute
	DefaultLease       = 10 * time.Minute
)

// Normalize fills defaults, validates the repeat pattern and resolves the
// first run time relative to now.
func Normalize(opts Options, now time.Time) (Options, time.Time, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffExponential
	}
	if opts.Backoff.Delay <= 0 {
		opts.Backoff.Delay = DefaultBackoffBase
	}
	if opts.Backoff.MaxDelay <= 0 {
		opts.Backoff.MaxDelay = DefaultBackoffMax
	}
	if opts.Backoff.Type != BackoffFixed && opts.Backoff.Type != BackoffExponential {
		return opts, time.Time{}, fmt.Errorf("unknown backoff type %q", opts.Backoff.Type)
	}

	runAt := now.Add(opts.Delay)
	if !opts.RunAt.IsZero() {
		runAt = opts.RunAt
	}
	if opts.Repeat != nil {
		pattern := strings.TrimSpace(opts.Repeat.Pattern)
		if pattern == "" {
			return opts, time.Time{}, fmt.Errorf("repeat pattern is required")
		}
		next, err := NextOccurrence(pattern, now)
		if err != nil {
			return opts, time.Time{}, err
		}
		opts.Repeat = &Repeat{Pattern: pattern}
		if opts.RunAt.IsZero() && opts.Delay == 0 {
			runAt = next
		}
	}
	return opts, runAt.UTC(), nil
}

// NextOccurrence returns the first activation of pattern strictly after t.
func NextOccurrence(pattern string, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(pattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse repeat pattern %q: %w", pattern, err)
	}
	return sched.Next(t.UTC()).UTC(), nil
}
