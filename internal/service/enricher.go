package service

import (
	"context"
	"errors"
	"time"

	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/logging"
	"github.com/voyagen/crowdqueue/internal/metadata"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
)

const (
	enrichDequeueTimeout = 5 * time.Second
	enrichErrorBackoff   = 2 * time.Second
	enrichMaxAttempts    = 3
)

// JobSource is a queue the enrichment worker can consume.
type JobSource interface {
	JobQueue
	Dequeue(ctx context.Context, timeout time.Duration) (*cache.EnrichmentJob, error)
}

// Enricher fills in metadata for entries that were submitted with
// placeholders.
type Enricher struct {
	store    store.Store
	resolver metadata.Resolver
	queue    JobSource
	log      *zap.Logger
	timeout  time.Duration
}

// NewEnricher returns a worker consuming queue.
func NewEnricher(s store.Store, r metadata.Resolver, q JobSource, log *zap.Logger, timeout time.Duration) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultMetadataTimeout
	}
	return &Enricher{store: s, resolver: r, queue: q, log: log.Named("enricher"), timeout: timeout}
}

// Run dequeues and processes jobs until ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	e.log.Info("enrichment worker started")
	for {
		if ctx.Err() != nil {
			e.log.Info("enrichment worker stopping")
			return nil
		}
		job, err := e.queue.Dequeue(ctx, enrichDequeueTimeout)
		if err != nil {
			e.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-time.After(enrichErrorBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if job == nil {
			continue
		}
		e.Process(ctx, *job)
	}
}

// Process resolves one job. A failure is requeued until the attempt
// budget runs out; a vanished entry or unknown video drops the job.
func (e *Enricher) Process(ctx context.Context, job cache.EnrichmentJob) {
	log := e.log.With(zap.String(logging.FieldEntryID, job.EntryID), zap.String(logging.FieldMediaID, job.MediaID))

	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	md, err := e.resolver.Resolve(rctx, job.MediaID)
	cancel()
	if err != nil {
		if errors.Is(err, metadata.ErrVideoNotFound) {
			log.Info("video unknown to provider, keeping placeholder")
			return
		}
		job.Attempts++
		if job.Attempts >= enrichMaxAttempts {
			log.Warn("enrichment gave up", zap.Int("attempts", job.Attempts), zap.Error(err))
			return
		}
		if qerr := e.queue.Enqueue(ctx, job); qerr != nil {
			log.Warn("requeue failed", zap.Error(qerr))
		}
		return
	}

	thumb := md.Thumbnail
	if thumb == "" {
		thumb = job.Thumbnail
	}
	err = e.store.UpdateEntryMetadata(ctx, job.EntryID, md.Title, thumb)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug("entry gone before enrichment")
	case err != nil:
		log.Warn("update metadata failed", zap.Error(err))
	default:
		log.Info("entry enriched", zap.String("title", md.Title))
	}
}
