// Package postgres implements queue.Queue on a Postgres jobs table. Workers
// claim jobs with FOR UPDATE SKIP LOCKED so any number of processes can share
// one queue; expired leases are reclaimed on the next claim.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	"github.com/JakeFAU/rankyak-pipeline/internal/storage/postgres"
)

// Config tunes the queue.
type Config struct {
	Lease        time.Duration
	PollInterval time.Duration
}

// Queue is a Postgres-backed queue.Queue.
type Queue struct {
	db     postgres.DB
	ids    content.IDGenerator
	clock  content.Clock
	cfg    Config
	closed chan struct{}
	once   sync.Once
}

var _ queue.Queue = (*Queue)(nil)

// New constructs a Queue over db.
func New(db postgres.DB, ids content.IDGenerator, clock content.Clock, cfg Config) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if cfg.Lease <= 0 {
		cfg.Lease = queue.DefaultLease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Queue{db: db, ids: ids, clock: clock, cfg: cfg, closed: make(chan struct{})}, nil
}

var jobColumns = []string{
	"id", "queue", "payload", "priority", "run_at", "attempt", "max_attempts",
	"backoff_type", "backoff_delay_ms", "backoff_max_ms", "backoff_jitter",
	"repeat", "dedupe_key", "state", "outcome", "last_error", "error_code",
	"lease_until", "created_at", "updated_at",
}

const returningJob = " RETURNING id, queue, payload, priority, run_at, attempt, max_attempts, " +
	"backoff_type, backoff_delay_ms, backoff_max_ms, backoff_jitter, repeat, dedupe_key, state, " +
	"outcome, last_error, error_code, lease_until, created_at, updated_at"

func jobValues(j queue.Job) []any {
	var lease *time.Time
	if !j.LeaseUntil.IsZero() {
		l := j.LeaseUntil
		lease = &l
	}
	return []any{
		j.ID, j.Queue, []byte(j.Payload), j.Priority, j.RunAt, j.Attempt, j.MaxAttempts,
		string(j.Backoff.Type), j.Backoff.Delay.Milliseconds(), j.Backoff.MaxDelay.Milliseconds(), j.Backoff.Jitter,
		j.Repeat, j.DedupeKey, string(j.State), string(j.Outcome), j.LastError, j.ErrorCode,
		lease, j.CreatedAt, j.UpdatedAt,
	}
}

func scanJob(row pgx.Row) (queue.Job, error) {
	var (
		j              queue.Job
		payload        []byte
		backoffType    string
		delayMs, maxMs int64
		state, outcome string
		lease          *time.Time
	)
	err := row.Scan(
		&j.ID, &j.Queue, &payload, &j.Priority, &j.RunAt, &j.Attempt, &j.MaxAttempts,
		&backoffType, &delayMs, &maxMs, &j.Backoff.Jitter,
		&j.Repeat, &j.DedupeKey, &state, &outcome, &j.LastError, &j.ErrorCode,
		&lease, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return queue.Job{}, err
	}
	j.Payload = payload
	j.Backoff.Type = queue.BackoffType(backoffType)
	j.Backoff.Delay = time.Duration(delayMs) * time.Millisecond
	j.Backoff.MaxDelay = time.Duration(maxMs) * time.Millisecond
	j.State = queue.State(state)
	j.Outcome = queue.Outcome(outcome)
	if lease != nil {
		j.LeaseUntil = *lease
	}
	return j, nil
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Enqueue inserts a job; conflicts on id or dedupe key return the existing row.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.Options) (queue.Job, error) {
	if q.isClosed() {
		return queue.Job{}, queue.ErrClosed
	}
	now := q.clock.Now()
	opts, runAt, err := queue.Normalize(opts, now)
	if err != nil {
		return queue.Job{}, content.Wrap(content.CodeValidationFailed, "enqueue", err)
	}
	id := opts.JobID
	if id == "" {
		if id, err = q.ids.NewID(); err != nil {
			return queue.Job{}, fmt.Errorf("generate job id: %w", err)
		}
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	job := queue.Job{
		ID:          id,
		Queue:       queueName,
		Payload:     payload,
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

	query, args, err := postgres.Builder().Insert("jobs").
		Columns(jobColumns...).
		Values(jobValues(job)...).
		Suffix("ON CONFLICT DO NOTHING" + returningJob).
		ToSql()
	if err != nil {
		return queue.Job{}, fmt.Errorf("build job insert: %w", err)
	}
	inserted, err := scanJob(q.db.QueryRow(ctx, query, args...))
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, fmt.Errorf("insert job: %w", err)
	}

	existing := postgres.Builder().Select(jobColumns...).From("jobs").Limit(1)
	if opts.DedupeKey != "" {
		existing = existing.Where(sq.Or{
			sq.Eq{"id": id},
			sq.Eq{"queue": queueName, "dedupe_key": opts.DedupeKey},
		})
	} else {
		existing = existing.Where(sq.Eq{"id": id})
	}
	query, args, err = existing.ToSql()
	if err != nil {
		return queue.Job{}, fmt.Errorf("build job lookup: %w", err)
	}
	found, err := scanJob(q.db.QueryRow(ctx, query, args...))
	if err != nil {
		return queue.Job{}, fmt.Errorf("load existing job: %w", err)
	}
	return found, nil
}

// Dequeue polls until a due job can be claimed.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (queue.Job, error) {
	for {
		if q.isClosed() {
			return queue.Job{}, queue.ErrClosed
		}
		job, ok, err := q.claim(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return queue.Job{}, err
		}
		if ok {
			return job, nil
		}
		timer := time.NewTimer(q.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.closed:
			timer.Stop()
			return queue.Job{}, queue.ErrClosed
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context, queueName string) (queue.Job, bool, error) {
	now := q.clock.Now()
	if err := q.reclaim(ctx, queueName, now); err != nil {
		return queue.Job{}, false, err
	}
	job, err := scanJob(q.db.QueryRow(ctx, `
UPDATE jobs SET state = 'active', attempt = attempt + 1, lease_until = $3, updated_at = $2
WHERE id = (
	SELECT id FROM jobs
	WHERE queue = $1 AND state = 'waiting' AND run_at <= $2
	ORDER BY priority, run_at, created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)`+returningJob, queueName, now, now.Add(q.cfg.Lease)))
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, false, nil
	}
	if err != nil {
		return queue.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// reclaim fails jobs whose lease expired. One-shot jobs return to waiting,
// or to dead when their attempt budget is spent. Repeating jobs go through
// Nack so a dead run is archived and the schedule keeps its next occurrence.
func (q *Queue) reclaim(ctx context.Context, queueName string, now time.Time) error {
	_, err := q.db.Exec(ctx, `
UPDATE jobs SET
	state = CASE WHEN attempt >= max_attempts THEN 'dead' ELSE 'waiting' END,
	outcome = CASE WHEN attempt >= max_attempts THEN 'exhausted' ELSE '' END,
	error_code = CASE WHEN attempt >= max_attempts THEN 'Exhausted' ELSE '' END,
	last_error = 'lease expired',
	run_at = $2,
	lease_until = NULL,
	updated_at = $2
WHERE queue = $1 AND state = 'active' AND lease_until < $2 AND repeat = ''`, queueName, now)
	if err != nil {
		return fmt.Errorf("reclaim leases: %w", err)
	}

	query, args, err := postgres.Builder().Select(jobColumns...).From("jobs").
		Where(sq.Eq{"queue": queueName, "state": string(queue.StateActive)}).
		Where(sq.Lt{"lease_until": now}).
		Where(sq.NotEq{"repeat": ""}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build lease query: %w", err)
	}
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("list expired leases: %w", err)
	}
	var expired []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan job: %w", err)
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list expired leases: %w", err)
	}
	for _, j := range expired {
		if _, err := q.Nack(ctx, j, queue.ErrLeaseExpired); err != nil && !errors.Is(err, errNotLeased) {
			return fmt.Errorf("reclaim repeating job %s: %w", j.ID, err)
		}
	}
	return nil
}

const updateLeased = `
UPDATE jobs SET state = $3, outcome = $4, attempt = $5, run_at = $6, last_error = $7,
	error_code = $8, lease_until = NULL, updated_at = $9
WHERE id = $1 AND state = 'active' AND attempt = $2`

// errNotLeased means another worker or process already moved the job on.
var errNotLeased = errors.New("job is not leased by this attempt")

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func writeLeased(ctx context.Context, db execer, leased queue.Job, next queue.Job) error {
	tag, err := db.Exec(ctx, updateLeased,
		next.ID, leased.Attempt, string(next.State), string(next.Outcome), next.Attempt, next.RunAt,
		next.LastError, next.ErrorCode, next.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s attempt %d: %w", leased.ID, leased.Attempt, errNotLeased)
	}
	return nil
}

// Ack completes a leased job; repeating jobs are rescheduled in place.
func (q *Queue) Ack(ctx context.Context, job queue.Job) error {
	now := q.clock.Now()
	next, ok := queue.Reschedule(job, now)
	if ok {
		next.LastError = ""
		next.ErrorCode = ""
	} else {
		next = job
		next.State = queue.StateCompleted
		next.Outcome = queue.OutcomeSucceeded
		next.UpdatedAt = now
	}
	return writeLeased(ctx, q.db, job, next)
}

// Nack fails a leased job and applies its retry policy. A dead repeating job
// is archived under a derived id while the schedule keeps its next run.
func (q *Queue) Nack(ctx context.Context, job queue.Job, cause error) (queue.Job, error) {
	now := q.clock.Now()
	failed := queue.Fail(job, cause, now)
	if failed.State != queue.StateDead {
		return failed, writeLeased(ctx, q.db, job, failed)
	}
	archived, next, ok := queue.Detach(failed, now)
	if !ok {
		return failed, writeLeased(ctx, q.db, job, failed)
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return queue.Job{}, fmt.Errorf("begin nack: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := writeLeased(ctx, tx, job, next); err != nil {
		return queue.Job{}, err
	}
	query, args, err := postgres.Builder().Insert("jobs").
		Columns(jobColumns...).
		Values(jobValues(archived)...).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return queue.Job{}, fmt.Errorf("build archive insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return queue.Job{}, fmt.Errorf("archive dead job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return queue.Job{}, fmt.Errorf("commit nack: %w", err)
	}
	return archived, nil
}

// Dead lists dead jobs oldest first. An empty name lists every queue.
func (q *Queue) Dead(ctx context.Context, queueName string) ([]queue.Job, error) {
	b := postgres.Builder().Select(jobColumns...).From("jobs").Where(sq.Eq{"state": string(queue.StateDead)})
	if queueName != "" {
		b = b.Where(sq.Eq{"queue": queueName})
	}
	query, args, err := b.OrderBy("updated_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build dead query: %w", err)
	}
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()
	out := make([]queue.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Retry moves a dead job back to waiting with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, queueName, jobID string) (queue.Job, error) {
	now := q.clock.Now()
	job, err := scanJob(q.db.QueryRow(ctx, `
UPDATE jobs SET state = 'waiting', outcome = '', attempt = 0, run_at = $3, updated_at = $3
WHERE queue = $1 AND id = $2 AND state = 'dead'`+returningJob, queueName, jobID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.Job{}, q.retryMiss(ctx, queueName, jobID)
	}
	if err != nil {
		return queue.Job{}, fmt.Errorf("retry job: %w", err)
	}
	return job, nil
}

// retryMiss explains why Retry matched no dead row.
func (q *Queue) retryMiss(ctx context.Context, queueName, jobID string) error {
	var state string
	err := q.db.QueryRow(ctx, `SELECT state FROM jobs WHERE queue = $1 AND id = $2`, queueName, jobID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return queue.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	return content.Errorf(content.CodeConflict, "retry job", "job %s is %s, not dead", jobID, state)
}

// Close stops pending Dequeue calls. The pool is owned by the caller.
func (q *Queue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
