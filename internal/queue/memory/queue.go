// Package memory provides an in-process queue.Queue for local development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(c content.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(g content.IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithLease sets how long a dequeued job stays leased before it is reclaimed.
func WithLease(d time.Duration) Option {
	return func(q *Queue) { q.lease = d }
}

// WithPollInterval bounds how long Dequeue sleeps before re-checking due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.poll = d }
}

// Queue keeps jobs in memory. Dequeue picks the due job with the lowest
// priority value, then the earliest runAt.
type Queue struct {
	mu      sync.Mutex
	clock   content.Clock
	ids     content.IDGenerator
	lease   time.Duration
	poll    time.Duration
	seq     int64
	jobs    map[string]*entry
	dedupe  map[string]string
	wake    map[string]chan struct{}
	closed  bool
	closeCh chan struct{}
}

type entry struct {
	job queue.Job
	seq int64
}

var _ queue.Queue = (*Queue)(nil)

// New constructs an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:   wallClock{},
		lease:   queue.DefaultLease,
		poll:    time.Second,
		jobs:    make(map[string]*entry),
		dedupe:  make(map[string]string),
		wake:    make(map[string]chan struct{}),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func dedupeIndex(queueName, key string) string {
	return queueName + "|" + key
}

// Enqueue records a job. Duplicate ids or dedupe keys return the existing job.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.Options) (queue.Job, error) {
	if err := ctx.Err(); err != nil {
		return queue.Job{}, fmt.Errorf("enqueue canceled: %w", err)
	}
	now := q.clock.Now()
	opts, runAt, err := queue.Normalize(opts, now)
	if err != nil {
		return queue.Job{}, content.Wrap(content.CodeValidationFailed, "enqueue", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.Job{}, queue.ErrClosed
	}
	if opts.JobID != "" {
		if e, ok := q.jobs[opts.JobID]; ok {
			return e.job, nil
		}
	}
	if opts.DedupeKey != "" {
		if id, ok := q.dedupe[dedupeIndex(queueName, opts.DedupeKey)]; ok {
			if e, ok := q.jobs[id]; ok {
				return e.job, nil
			}
		}
	}
	id := opts.JobID
	if id == "" {
		if q.ids == nil {
			q.seq++
			id = fmt.Sprintf("%s-%d", queueName, q.seq)
		} else if id, err = q.ids.NewID(); err != nil {
			return queue.Job{}, fmt.Errorf("generate job id: %w", err)
		}
	}
	job := queue.Job{
		ID:          id,
		Queue:       queueName,
		Payload:     append([]byte(nil), payload...),
		Priority:    opts.Priority,
		RunAt:       runAt,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		DedupeKey:   opts.DedupeKey,
		State:       queue.StateWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Repeat != nil {
		job.Repeat = opts.Repeat.Pattern
	}
	q.seq++
	q.jobs[id] = &entry{job: job, seq: q.seq}
	if job.DedupeKey != "" {
		q.dedupe[dedupeIndex(queueName, job.DedupeKey)] = id
	}
	q.signalLocked(queueName)
	return job, nil
}

// Dequeue blocks until a due job is available in queueName.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (queue.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return queue.Job{}, queue.ErrClosed
		}
		now := q.clock.Now()
		job, wait, ok := q.claimLocked(queueName, now)
		wake := q.wakeLocked(queueName)
		q.mu.Unlock()
		if ok {
			return job, nil
		}
		if wait <= 0 || wait > q.poll {
			wait = q.poll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.closeCh:
			timer.Stop()
			return queue.Job{}, queue.ErrClosed
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) claimLocked(queueName string, now time.Time) (queue.Job, time.Duration, bool) {
	var (
		best *entry
		next time.Time
	)
	for _, e := range q.jobs {
		if e.job.Queue != queueName {
			continue
		}
		if e.job.State == queue.StateActive && !e.job.LeaseUntil.IsZero() && !now.Before(e.job.LeaseUntil) {
			// Lease expired: the holder is gone, the attempt counts as failed.
			q.failLocked(e, queue.ErrLeaseExpired, now)
			if e.job.State == queue.StateWaiting && e.job.Attempt > 0 {
				e.job.RunAt = now
			}
		}
		if e.job.State != queue.StateWaiting {
			continue
		}
		if e.job.RunAt.After(now) {
			if next.IsZero() || e.job.RunAt.Before(next) {
				next = e.job.RunAt
			}
			continue
		}
		if best == nil || less(e, best) {
			best = e
		}
	}
	if best == nil {
		if next.IsZero() {
			return queue.Job{}, 0, false
		}
		return queue.Job{}, next.Sub(now), false
	}
	best.job.State = queue.StateActive
	best.job.Attempt++
	best.job.LeaseUntil = now.Add(q.lease)
	best.job.UpdatedAt = now
	return best.job, 0, true
}

func less(a, b *entry) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	if !a.job.RunAt.Equal(b.job.RunAt) {
		return a.job.RunAt.Before(b.job.RunAt)
	}
	return a.seq < b.seq
}

func (q *Queue) leasedLocked(job queue.Job) (*entry, error) {
	e, ok := q.jobs[job.ID]
	if !ok || e.job.Queue != job.Queue {
		return nil, queue.ErrJobNotFound
	}
	if e.job.State != queue.StateActive || e.job.Attempt != job.Attempt {
		return nil, fmt.Errorf("job %s is not leased by this attempt", job.ID)
	}
	return e, nil
}

// Ack completes a leased job; repeating jobs are rescheduled.
func (q *Queue) Ack(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leasedLocked(job)
	if err != nil {
		return err
	}
	now := q.clock.Now()
	if next, ok := queue.Reschedule(e.job, now); ok {
		next.LastError = ""
		next.ErrorCode = ""
		e.job = next
		q.signalLocked(job.Queue)
		return nil
	}
	e.job.State = queue.StateCompleted
	e.job.Outcome = queue.OutcomeSucceeded
	e.job.LeaseUntil = time.Time{}
	e.job.UpdatedAt = now
	return nil
}

// Nack fails a leased job and applies its retry policy.
func (q *Queue) Nack(_ context.Context, job queue.Job, cause error) (queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.leasedLocked(job)
	if err != nil {
		return queue.Job{}, err
	}
	return q.failLocked(e, cause, q.clock.Now()), nil
}

// failLocked applies the retry policy to e. A dead repeating job is archived
// and its schedule continues; the returned job is the one that failed.
func (q *Queue) failLocked(e *entry, cause error, now time.Time) queue.Job {
	failed := queue.Fail(e.job, cause, now)
	if failed.State == queue.StateDead {
		if archived, next, ok := queue.Detach(failed, now); ok {
			q.seq++
			q.jobs[archived.ID] = &entry{job: archived, seq: q.seq}
			e.job = next
			q.signalLocked(failed.Queue)
			return archived
		}
	}
	e.job = failed
	if failed.State == queue.StateWaiting {
		q.signalLocked(failed.Queue)
	}
	return failed
}

// Dead lists dead jobs of queueName, oldest first. An empty name lists all queues.
func (q *Queue) Dead(_ context.Context, queueName string) ([]queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Job, 0)
	for _, e := range q.jobs {
		if e.job.State == queue.StateDead && (queueName == "" || e.job.Queue == queueName) {
			out = append(out, e.job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Retry moves a dead job back to waiting with a fresh attempt budget.
func (q *Queue) Retry(_ context.Context, queueName, jobID string) (queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[jobID]
	if !ok || e.job.Queue != queueName {
		return queue.Job{}, queue.ErrJobNotFound
	}
	if e.job.State != queue.StateDead {
		return queue.Job{}, content.Errorf(content.CodeConflict, "retry job", "job %s is %s, not dead", jobID, e.job.State)
	}
	now := q.clock.Now()
	e.job.State = queue.StateWaiting
	e.job.Outcome = ""
	e.job.Attempt = 0
	e.job.RunAt = now
	e.job.UpdatedAt = now
	q.signalLocked(queueName)
	return e.job, nil
}

// Get returns a job by id.
func (q *Queue) Get(jobID string) (queue.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[jobID]
	if !ok {
		return queue.Job{}, false
	}
	return e.job, true
}

// Jobs returns every job of queueName in insertion order regardless of state.
func (q *Queue) Jobs(queueName string) []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]*entry, 0)
	for _, e := range q.jobs {
		if e.job.Queue == queueName {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]queue.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job
	}
	return out
}

// Close wakes every blocked Dequeue. Closing twice is safe.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.closeCh)
	return nil
}

func (q *Queue) wakeLocked(queueName string) chan struct{} {
	ch, ok := q.wake[queueName]
	if !ok {
		ch = make(chan struct{})
		q.wake[queueName] = ch
	}
	return ch
}

func (q *Queue) signalLocked(queueName string) {
	if ch, ok := q.wake[queueName]; ok {
		close(ch)
		delete(q.wake, queueName)
	}
}
