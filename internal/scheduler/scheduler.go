// Package scheduler installs the repeating sweep jobs and turns each sweep
// into one queued job per eligible entity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
	"github.com/JakeFAU/rankyak-pipeline/internal/jobs"
	"github.com/JakeFAU/rankyak-pipeline/internal/metrics"
	"github.com/JakeFAU/rankyak-pipeline/internal/queue"
)

// Sweep names.
const (
	DailyGeneration = "daily-generation"
	PublishSweep    = "publish-sweep"
	AnalyticsSync   = "analytics-sync"
)

// Schedule binds a sweep to a five-field cron pattern.
type Schedule struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// DefaultSchedules are installed when no override is configured.
func DefaultSchedules() []Schedule {
	return []Schedule{
		{Name: DailyGeneration, Pattern: "0 6 * * *"},
		{Name: PublishSweep, Pattern: "*/5 * * * *"},
		{Name: AnalyticsSync, Pattern: "0 2 * * *"},
	}
}

// Store is what the sweeps scan.
type Store interface {
	ListOnboardedProjects(ctx context.Context) ([]content.Project, error)
	ProjectsWithDueKeywords(ctx context.Context, now time.Time) ([]string, error)
	DueScheduledArticles(ctx context.Context, now time.Time) ([]content.Article, error)
}

// Scheduler owns the sweep jobs.
type Scheduler struct {
	queue     queue.Queue
	store     Store
	clock     content.Clock
	schedules []Schedule
	logger    *zap.Logger
}

// New builds a Scheduler. An empty schedules slice means DefaultSchedules.
func New(q queue.Queue, store Store, clock content.Clock, schedules []Schedule, logger *zap.Logger) *Scheduler {
	if len(schedules) == 0 {
		schedules = DefaultSchedules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{queue: q, store: store, clock: clock, schedules: schedules, logger: logger.Named("scheduler")}
}

// Install enqueues one repeating job per schedule on the sweeps queue. It is
// idempotent: the job id is derived from the sweep name. A sweep left dead by
// an older run is re-driven.
func (s *Scheduler) Install(ctx context.Context) error {
	for _, sc := range s.schedules {
		if !known(sc.Name) {
			return content.Errorf(content.CodeValidationFailed, "install sweep", "unknown sweep %q", sc.Name)
		}
		job, err := queue.EnqueueJSON(ctx, s.queue, queue.Sweeps, jobs.SweepPayload{Sweep: sc.Name}, queue.Options{
			JobID:       "sweep:" + sc.Name,
			Repeat:      &queue.Repeat{Pattern: sc.Pattern},
			MaxAttempts: 1,
		})
		if err != nil {
			return fmt.Errorf("install %s: %w", sc.Name, err)
		}
		if job.State == queue.StateDead {
			if job, err = s.queue.Retry(ctx, queue.Sweeps, job.ID); err != nil {
				return fmt.Errorf("revive %s: %w", sc.Name, err)
			}
			s.logger.Warn("dead sweep revived", zap.String("sweep", sc.Name), zap.String("last_error", job.LastError))
		}
		if job.Repeat != sc.Pattern {
			s.logger.Warn("sweep already installed with another pattern",
				zap.String("sweep", sc.Name),
				zap.String("installed", job.Repeat),
				zap.String("configured", sc.Pattern),
			)
			continue
		}
		s.logger.Info("sweep installed",
			zap.String("sweep", sc.Name),
			zap.String("pattern", sc.Pattern),
			zap.Time("next_run", job.RunAt),
		)
	}
	return nil
}

// RunSweep scans the entities eligible for name and enqueues one job each.
// Dedupe keys make repeated runs inside the same window harmless. It returns
// the number of jobs handed to the queue.
func (s *Scheduler) RunSweep(ctx context.Context, name string) (int, error) {
	now := s.clock.Now().UTC()
	var (
		n   int
		err error
	)
	switch name {
	case DailyGeneration:
		n, err = s.sweepGeneration(ctx, now)
	case PublishSweep:
		n, err = s.sweepPublishing(ctx, now)
	case AnalyticsSync:
		n, err = s.sweepAnalytics(ctx, now)
	default:
		return 0, content.Errorf(content.CodeValidationFailed, "run sweep", "unknown sweep %q", name)
	}
	metrics.ObserveSweep(name, n)
	s.logger.Info("sweep finished", zap.String("sweep", name), zap.Int("enqueued", n), zap.Error(err))
	return n, err
}

func (s *Scheduler) sweepGeneration(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ProjectsWithDueKeywords(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("projects with due keywords: %w", err)
	}
	window := now.Format(time.DateOnly)
	var errs []error
	n := 0
	for _, id := range ids {
		key := fmt.Sprintf("%s:%s:%s", queue.Generation, id, window)
		if err := s.enqueue(ctx, queue.Generation, jobs.GenerationPayload{ProjectID: id}, key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (s *Scheduler) sweepPublishing(ctx context.Context, now time.Time) (int, error) {
	articles, err := s.store.DueScheduledArticles(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("due scheduled articles: %w", err)
	}
	var errs []error
	n := 0
	for _, a := range articles {
		key := fmt.Sprintf("%s:%s:%d", queue.Publishing, a.ID, a.ScheduledFor.Unix())
		payload := jobs.PublishingPayload{ArticleID: a.ID, ProjectID: a.ProjectID}
		if err := s.enqueue(ctx, queue.Publishing, payload, key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (s *Scheduler) sweepAnalytics(ctx context.Context, now time.Time) (int, error) {
	projects, err := s.store.ListOnboardedProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("onboarded projects: %w", err)
	}
	window := now.Format(time.DateOnly)
	var errs []error
	n := 0
	for _, p := range projects {
		key := fmt.Sprintf("%s:%s:%s", queue.Analytics, p.ID, window)
		if err := s.enqueue(ctx, queue.Analytics, jobs.AnalyticsPayload{ProjectID: p.ID, Date: window}, key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (s *Scheduler) enqueue(ctx context.Context, queueName string, payload any, dedupeKey string) error {
	job, err := queue.EnqueueJSON(ctx, s.queue, queueName, payload, queue.Options{DedupeKey: dedupeKey})
	if err != nil {
		return fmt.Errorf("%s: %w", dedupeKey, err)
	}
	s.logger.Debug("job enqueued", zap.String("queue", queueName), zap.String("job_id", job.ID), zap.String("dedupe_key", dedupeKey))
	return nil
}

func known(name string) bool {
	switch name {
	case DailyGeneration, PublishSweep, AnalyticsSync:
		return true
	default:
		return false
	}
}
