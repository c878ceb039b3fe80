// Package service implements the queue operations: submission, voting,
// and the active-entry state machine. All coordination goes through
// store constraints; the service holds no queue state of its own.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/links"
	"github.com/voyagen/crowdqueue/internal/metadata"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
)

const (
	defaultMetadataTimeout = 3 * time.Second
	defaultPollInterval    = 3 * time.Second

	selectAttempts  = 3
	selectLockTTL   = 5 * time.Second
	lockAttempts    = 5
	lockRetryPeriod = 20 * time.Millisecond
)

// Locker guards the selection step across replicas.
// TryLock returns cache.ErrLocked when another holder has key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// JobQueue accepts enrichment jobs for the background worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job cache.EnrichmentJob) error
}

// Options configure a Service. Store is required.
type Options struct {
	Store           store.Store
	Resolver        metadata.Resolver // nil: placeholders only
	Locker          Locker            // nil: store constraints alone
	Jobs            JobQueue          // nil: no deferred enrichment
	Sources         []links.Source    // nil: links.DefaultSources
	Logger          *zap.Logger
	MetadataTimeout time.Duration
	PollInterval    time.Duration
	Now             func() time.Time
	NewID           func() string
}

// Service implements the queue operations over a Store.
type Service struct {
	store           store.Store
	resolver        metadata.Resolver
	locker          Locker
	jobs            JobQueue
	sources         []links.Source
	log             *zap.Logger
	metadataTimeout time.Duration
	pollInterval    time.Duration
	now             func() time.Time
	newID           func() string
}

// New builds a Service from opts, filling defaults.
func New(opts Options) *Service {
	s := &Service{
		store:           opts.Store,
		resolver:        opts.Resolver,
		locker:          opts.Locker,
		jobs:            opts.Jobs,
		sources:         opts.Sources,
		log:             opts.Logger,
		metadataTimeout: opts.MetadataTimeout,
		pollInterval:    opts.PollInterval,
		now:             opts.Now,
		newID:           opts.NewID,
	}
	if s.sources == nil {
		s.sources = links.DefaultSources
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metadataTimeout <= 0 {
		s.metadataTimeout = defaultMetadataTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// PollInterval is the snapshot interval advertised to clients.
func (s *Service) PollInterval() time.Duration {
	return s.pollInterval
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}
