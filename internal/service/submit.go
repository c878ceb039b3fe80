package service

import (
	"context"
	"errors"
	"strings"

	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/links"
	"github.com/voyagen/crowdqueue/internal/logging"
	"github.com/voyagen/crowdqueue/internal/metadata"
	"github.com/voyagen/crowdqueue/internal/models"
	"go.uber.org/zap"
)

// PlaceholderTitle is the title used until metadata resolves.
func PlaceholderTitle(mediaID string) string {
	return "YouTube video " + mediaID
}

// Submit validates raw, resolves metadata within the configured timeout,
// and stores a new inactive entry. Metadata failures degrade to
// placeholders and never fail the submission.
func (s *Service) Submit(ctx context.Context, raw, submitterID string) (*models.QueueEntry, error) {
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return nil, &ValidationError{Reason: ReasonMissingParticipant}
	}
	link, err := links.ParseWith(raw, s.sources)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonBadFormat}
	}

	e := &models.QueueEntry{
		ID:          s.newID(),
		SubmitterID: submitterID,
		Source:      link.Source,
		MediaID:     link.MediaID,
		URL:         link.CanonicalURL,
		Title:       PlaceholderTitle(link.MediaID),
		Thumbnail:   link.Thumbnail,
		CreatedAt:   s.now().UTC(),
	}

	md, depErr := s.enrich(ctx, link.MediaID)
	if depErr == nil {
		e.Title = md.Title
		if md.Thumbnail != "" {
			e.Thumbnail = md.Thumbnail
		}
	}

	if err := s.store.CreateEntry(ctx, e); err != nil {
		return nil, storeErr("create entry", err)
	}

	if depErr != nil {
		s.log.Warn("metadata unavailable, using placeholder",
			zap.String(logging.FieldEntryID, e.ID),
			zap.String(logging.FieldMediaID, e.MediaID),
			zap.Error(depErr))
		s.deferEnrichment(ctx, e, depErr)
	}
	s.log.Info("entry submitted",
		zap.String(logging.FieldEntryID, e.ID),
		zap.String(logging.FieldParticipantID, submitterID),
		zap.String(logging.FieldMediaID, e.MediaID))
	return e, nil
}

// enrich resolves metadata under the metadata timeout. A nil resolver
// reports a DependencyError so callers fall back to placeholders.
func (s *Service) enrich(ctx context.Context, mediaID string) (metadata.Metadata, error) {
	if s.resolver == nil {
		return metadata.Metadata{}, &DependencyError{Op: "resolve", Err: errors.New("no metadata resolver configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()
	md, err := s.resolver.Resolve(ctx, mediaID)
	if err != nil {
		return metadata.Metadata{}, &DependencyError{Op: "resolve", Err: err}
	}
	return md, nil
}

// deferEnrichment queues a retry unless the provider said the video does
// not exist or nothing can process the job.
func (s *Service) deferEnrichment(ctx context.Context, e *models.QueueEntry, cause error) {
	if s.jobs == nil || s.resolver == nil || errors.Is(cause, metadata.ErrVideoNotFound) {
		return
	}
	job := cache.EnrichmentJob{
		EntryID:      e.ID,
		MediaID:      e.MediaID,
		CanonicalURL: e.URL,
		Thumbnail:    e.Thumbnail,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.log.Warn("enqueue enrichment failed", zap.String(logging.FieldEntryID, e.ID), zap.Error(err))
	}
}

// ListBySubmitter returns the participant's own entries in creation order.
func (s *Service) ListBySubmitter(ctx context.Context, submitterID string) ([]models.QueueEntry, error) {
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return nil, &ValidationError{Reason: ReasonMissingParticipant}
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, storeErr("list entries", err)
	}
	own := make([]models.QueueEntry, 0)
	for _, e := range entries {
		if e.SubmitterID == submitterID {
			own = append(own, e)
		}
	}
	return own, nil
}
