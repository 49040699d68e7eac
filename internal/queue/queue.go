// Package queue defines the durable job queue contract shared by the
// generation, publishing, analytics and sweep workers. Implementations live in
// the memory and postgres subpackages; workers and the scheduler only depend
// on the Queue interface.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known queue names.
const (
	Generation = "generation"
	Publishing = "publishing"
	Analytics  = "analytics"
	Sweeps     = "sweeps"
)

// State is the lifecycle position of a job.
type State string

// Job states.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateDead      State = "dead"
)

// Outcome records how a finished job ended.
type Outcome string

// Job outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeExhausted Outcome = "exhausted"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// ErrJobNotFound is returned when a job id does not exist in the named queue.
var ErrJobNotFound = errors.New("job not found")

// ErrLeaseExpired is the failure recorded when a worker lost its lease.
var ErrLeaseExpired = errors.New("lease expired")

// Repeat schedules a job on a standard five-field cron pattern.
type Repeat struct {
	Pattern string `json:"pattern"`
}

// Options tune a single enqueue.
type Options struct {
	// JobID makes the enqueue idempotent while a job with that id exists.
	JobID    string
	Priority int
	Delay    time.Duration
	// RunAt overrides Delay when set.
	RunAt       time.Time
	MaxAttempts int
	Backoff     Backoff
	Repeat      *Repeat
	// DedupeKey suppresses a second job carrying the same key in the same queue.
	DedupeKey string
}

// Job is one unit of queued work.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	RunAt       time.Time       `json:"runAt"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     Backoff         `json:"backoff"`
	Repeat      string          `json:"repeat,omitempty"`
	DedupeKey   string          `json:"dedupeKey,omitempty"`
	State       State           `json:"state"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	LeaseUntil  time.Time       `json:"leaseUntil,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Queue, err)
	}
	return nil
}

// Queue is the durable job queue.
type Queue interface {
	// Enqueue records a job and returns once it is durable. A duplicate JobID
	// or DedupeKey returns the existing job.
	Enqueue(ctx context.Context, queueName string, payload []byte, opts Options) (Job, error)
	// Dequeue blocks until a job is due, leases it and increments Attempt.
	Dequeue(ctx context.Context, queueName string) (Job, error)
	// Ack completes a leased job.
	Ack(ctx context.Context, job Job) error
	// Nack fails a leased job and applies the retry policy. The returned job
	// reflects the new state.
	Nack(ctx context.Context, job Job, cause error) (Job, error)
	// Dead lists jobs that need operator attention.
	Dead(ctx context.Context, queueName string) ([]Job, error)
	// Retry re-drives a dead job with a fresh attempt budget.
	Retry(ctx context.Context, queueName, jobID string) (Job, error)
	Close() error
}

// EnqueueJSON marshals v and enqueues it.
func EnqueueJSON(ctx context.Context, q Queue, queueName string, v any, opts Options) (Job, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", queueName, err)
	}
	job, err := q.Enqueue(ctx, queueName, payload, opts)
	if err != nil {
		return Job{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return job, nil
}
