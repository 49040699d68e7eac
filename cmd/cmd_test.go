package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/config"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	queuememory "github.com/JakeFAU/rankyak-pipeline/internal/queue/memory"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func deadQueue(t *testing.T) (*queuememory.Queue, queue.Job) {
	t.Helper()
	q := queuememory.New(queuememory.WithPollInterval(5 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	job, err := q.Enqueue(ctx, queue.Publishing, []byte(`{"articleId":"a1","projectId":"p1"}`), queue.Options{MaxAttempts: 1})
	require.NoError(t, err)
	leased, err := q.Dequeue(ctx, queue.Publishing)
	require.NoError(t, err)
	_, err = q.Nack(ctx, leased, errors.New("wordpress: 500 internal error"))
	require.NoError(t, err)
	return q, job
}

func useQueue(t *testing.T, q queue.Queue) {
	t.Helper()
	prev := openQueue
	openQueue = func(context.Context, config.Config) (queue.Queue, func(), error) {
		return q, nil, nil
	}
	t.Cleanup(func() { openQueue = prev })
}

func TestJobsDeadRendersTable(t *testing.T) {
	q, job := deadQueue(t)
	useQueue(t, q)

	out, err := execute(t, "jobs", "dead", queue.Publishing)
	require.NoError(t, err)
	require.Contains(t, out, job.ID)
	require.Contains(t, out, string(queue.OutcomeExhausted))
	require.Contains(t, out, "1/1")

	out, err = execute(t, "jobs", "dead", queue.Generation)
	require.NoError(t, err)
	require.Contains(t, out, "no dead jobs in generation")
}

func TestJobsRetryRedrivesDeadJob(t *testing.T) {
	q, job := deadQueue(t)
	useQueue(t, q)

	out, err := execute(t, "jobs", "retry", queue.Publishing, job.ID)
	require.NoError(t, err)
	require.Contains(t, out, "is waiting")

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, queue.StateWaiting, got.State)

	_, err = execute(t, "jobs", "retry", queue.Publishing, "missing")
	require.Error(t, err)
}

func TestJobsNeedPostgresBackend(t *testing.T) {
	_, err := execute(t, "jobs", "dead", queue.Generation)
	require.ErrorContains(t, err, "queue.backend=postgres")
}

func TestMigrateCommand(t *testing.T) {
	out, err := execute(t, "migrate", "--list")
	require.NoError(t, err)
	require.Contains(t, out, ".up.sql")

	var gotSteps int
	prev := migrateFn
	migrateFn = func(_ string, steps int, _ *zap.Logger) error {
		gotSteps = steps
		return nil
	}
	t.Cleanup(func() { migrateFn = prev })

	out, err = execute(t, "migrate", "--steps=-1")
	require.NoError(t, err)
	require.Equal(t, -1, gotSteps)
	require.Contains(t, out, "migrations applied")
}
