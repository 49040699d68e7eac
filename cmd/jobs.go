package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/rankyak-pipeline/internal/clock/system"
	"github.com/JakeFAU/rankyak-pipeline/internal/config"
	"github.com/JakeFAU/rankyak-pipeline/internal/id/uuid"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
	queuepostgres "github.com/JakeFAU/rankyak-pipeline/internal/queue/postgres"
	pgstore "github.com/JakeFAU/rankyak-pipeline/internal/storage/postgres"
)

// openQueue connects to the durable queue. It is a variable so tests can
// inject an in-memory queue.
var openQueue = func(ctx context.Context, cfg config.Config) (queue.Queue, func(), error) {
	if cfg.Queue.Backend != config.BackendPostgres {
		return nil, nil, errors.New("dead-job inspection needs queue.backend=postgres")
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{DSN: cfg.DB.DSN, MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool init failed: %w", err)
	}
	q, err := queuepostgres.New(pool, uuid.New(), system.New(), queuepostgres.Config{})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres queue init failed: %w", err)
	}
	return q, pool.Close, nil
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspects and re-drives queue jobs",
	}
	cmd.AddCommand(newJobsDeadCmd())
	cmd.AddCommand(newJobsRetryCmd())
	return cmd
}

func withQueue(ctx context.Context, fn func(queue.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, cleanup, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(q)
}

func newJobsDeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead <queue>",
		Short: "Lists dead jobs of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(q queue.Queue) error {
				dead, err := q.Dead(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("list dead jobs: %w", err)
				}
				if len(dead) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no dead jobs in %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(dead))
				for _, j := range dead {
					rows = append(rows, []string{
						j.ID,
						string(j.Outcome),
						strconv.Itoa(j.Attempt) + "/" + strconv.Itoa(j.MaxAttempts),
						j.ErrorCode,
						truncate(j.LastError, 60),
						j.UpdatedAt.UTC().Format(time.RFC3339),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Outcome", "Attempts", "Code", "Last Error", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newJobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue> <job-id>",
		Short: "Re-drives a dead job with a fresh attempt budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(q queue.Queue) error {
				job, err := q.Retry(cmd.Context(), args[0], args[1])
				if err != nil {
					return fmt.Errorf("retry %s: %w", args[1], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s is %s, runs at %s\n", job.ID, job.State, job.RunAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
