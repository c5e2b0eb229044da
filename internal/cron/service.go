package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/metrics"
)

const (
	defaultInterval = time.Hour
	releaseTimeout  = 5 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval between cycles; it also bounds how long a single job may run.
	Interval time.Duration
}

// Service runs every registered job once per interval. Only the worker
// holding Lock runs a cycle; the others skip it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}

	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run executes a cycle immediately, then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !acquired {
		s.logg.Info(ctx, "cron.cycle_skipped")
		return nil
	}
	defer s.release(ctx)

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	return nil
}

// release outlives a canceled ctx so shutdown does not strand the lock
// until its TTL expires.
func (s *Service) release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lock.Release(releaseCtx); err != nil {
		s.logg.Error(ctx, "cron.lock_release_failed", err)
	}
}

// runJob never stops the cycle; a failing job is logged and counted.
func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", name), s.interval)
	defer cancel()

	started := time.Now()
	affected, err := job.Run(jobCtx)
	elapsed := time.Since(started)
	s.metrics.ObserveRun(name, elapsed, err)

	logCtx := s.logg.WithFields(jobCtx, map[string]any{
		"duration_ms":   elapsed.Milliseconds(),
		"rows_affected": affected,
	})
	if err != nil {
		s.logg.Error(logCtx, "cron.job_failed", err)
		return
	}
	s.metrics.AddAffected(name, affected)
	s.logg.Info(logCtx, "cron.job_completed")
}
