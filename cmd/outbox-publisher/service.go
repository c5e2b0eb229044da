package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/db/models"
	"github.com/willshop/storefront/pkg/logger"
	"github.com/willshop/storefront/pkg/metrics"
	"github.com/willshop/storefront/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

// pendingCounter is optional; the gauge stays untouched without it.
type pendingCounter interface {
	CountPending(maxAttempts int) (int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          *metrics.OutboxMetrics
}

// Service drains outbox_events into Pub/Sub. Each batch is claimed and
// settled inside one transaction so concurrent publishers never share rows.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

func NewService(params ServiceParams) (*Service, error) {
	var missing []string
	if params.Config == nil {
		missing = append(missing, "config")
	}
	if params.Logger == nil {
		missing = append(missing, "logger")
	}
	if params.DB == nil {
		missing = append(missing, "database client")
	}
	if params.PubSub == nil {
		missing = append(missing, "pubsub client")
	}
	if params.Repository == nil {
		missing = append(missing, "outbox repository")
	}
	if params.Registry == nil {
		missing = append(missing, "event registry")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("outbox publisher: missing %v", missing)
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = pubsubPublisherFactory(params.PubSub)
	}

	outboxCfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		publisherFactory: factory,
		metrics:          params.Metrics,
		batchSize:        positiveOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(outboxCfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		jitter:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

// Run polls until ctx is canceled. Full batches are followed immediately by
// the next poll; errors back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checkDependencies(ctx); err != nil {
		return err
	}

	delay := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox.publisher_stopped")
			return err
		}

		processed, err := s.processBatch(ctx)
		s.reportPending(ctx)

		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			delay = nextBackoff(delay, s.pollInterval, maxBackoff)
		case processed:
			delay = s.pollInterval
			continue
		default:
			delay = s.pollInterval
		}

		if err := s.sleep(ctx, s.withJitter(delay)); err != nil {
			return err
		}
	}
}

func (s *Service) checkDependencies(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	}
	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", check.name), "outbox.dependency_unavailable", err)
			return fmt.Errorf("%s ping failed: %w", check.name, err)
		}
	}
	return nil
}

// processBatch reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			if err := s.settle(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

func (s *Service) reportPending(ctx context.Context) {
	counter, ok := s.repo.(pendingCounter)
	if !ok || s.metrics == nil {
		return
	}
	pending, err := counter.CountPending(s.maxAttempts)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox.count_pending_failed")
		return
	}
	s.metrics.SetPending(pending)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	s.jitterMu.Lock()
	defer s.jitterMu.Unlock()
	return d + time.Duration(s.jitter.Int63n(int64(jitterWindow)))
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if doubled := current * 2; doubled < ceiling {
		return doubled
	}
	return ceiling
}

var errNilPublishResult = errors.New("publish result is nil")
