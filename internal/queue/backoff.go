package queue

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

// BackoffType selects the retry delay curve.
type BackoffType string

// Backoff curves.
const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the retry delay policy attached to a job.
type Backoff struct {
	Type     BackoffType   `json:"type"`
	Delay    time.Duration `json:"delay"`
	MaxDelay time.Duration `json:"maxDelay,omitempty"`
	Jitter   bool          `json:"jitter,omitempty"`
}

// Next returns the wait before the retry that follows the given failed
// attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Delay)
	if b.Type == BackoffExponential {
		delay *= math.Pow(2, float64(attempt-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if !b.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Fail applies the retry policy to a job whose current attempt failed with
// cause. Permanent errors go dead as failed, exhausted budgets go dead as
// exhausted, and anything else waits for the backoff delay.
func Fail(job Job, cause error, now time.Time) Job {
	job.LeaseUntil = time.Time{}
	job.UpdatedAt = now
	if cause != nil {
		job.LastError = cause.Error()
		job.ErrorCode = string(content.CodeOf(cause))
	}
	switch {
	case content.IsPermanent(cause):
		job.State = StateDead
		job.Outcome = OutcomeFailed
	case job.Attempt >= job.MaxAttempts:
		job.State = StateDead
		job.Outcome = OutcomeExhausted
		job.ErrorCode = string(content.CodeExhausted)
	default:
		job.State = StateWaiting
		job.Outcome = ""
		job.RunAt = now.Add(job.Backoff.Next(job.Attempt))
	}
	return job
}

// Reschedule returns the next occurrence of a repeating job, or false when
// the job does not repeat.
func Reschedule(job Job, now time.Time) (Job, bool) {
	if job.Repeat == "" {
		return job, false
	}
	next, err := NextOccurrence(job.Repeat, now)
	if err != nil {
		return job, false
	}
	job.State = StateWaiting
	job.Outcome = ""
	job.Attempt = 0
	job.RunAt = next
	job.LeaseUntil = time.Time{}
	job.UpdatedAt = now
	return job, true
}

// Detach splits a dead repeating job into an archived dead copy and the live
// repeating record, so the schedule keeps running while the failure stays
// visible to operators.
func Detach(dead Job, now time.Time) (archived Job, next Job, ok bool) {
	next, ok = Reschedule(dead, now)
	if !ok {
		return dead, dead, false
	}
	archived = dead
	archived.ID = dead.ID + "@" + dead.RunAt.UTC().Format("20060102T150405Z")
	archived.Repeat = ""
	archived.DedupeKey = ""
	return archived, next, true
}
