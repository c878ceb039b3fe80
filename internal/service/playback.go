package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/voyagen/crowdqueue/internal/cache"
	"github.com/voyagen/crowdqueue/internal/logging"
	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/ranking"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
)

// Transition describes what an advancement step did. Empty ids mean none.
type Transition struct {
	Retired string // entry deleted by this call
	From    string // entry active before the call
	To      string // entry active after the call
	NoOp    bool   // nothing changed
}

// Response converts t to its wire form.
func (t Transition) Response(nowPlaying string) models.TransitionResponse {
	return models.TransitionResponse{
		Retired:    optional(t.Retired),
		From:       optional(t.From),
		To:         optional(t.To),
		NoOp:       t.NoOp,
		NowPlaying: optional(nowPlaying),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EnsureActive runs the selection step: when nothing is active, the head
// of the ranked queue is activated. A lost race (another caller activated
// first) is a no-op. With a Locker configured the step runs under the
// selection lock; if the lock stays busy the holder is selecting and the
// call is skipped.
func (s *Service) EnsureActive(ctx context.Context) (Transition, error) {
	if s.locker != nil {
		unlock, err := s.acquireSelectLock(ctx)
		switch {
		case errors.Is(err, cache.ErrLocked):
			return Transition{NoOp: true}, nil
		case err != nil:
			// Lock backend down: the store constraints still hold.
			s.log.Warn("select lock unavailable", zap.Error(err))
		default:
			defer unlock()
		}
	}
	return s.selectNext(ctx)
}

func (s *Service) acquireSelectLock(ctx context.Context) (func(), error) {
	var err error
	for attempt := 0; attempt < lockAttempts; attempt++ {
		var unlock func()
		unlock, err = s.locker.TryLock(ctx, cache.SelectLockKey, selectLockTTL)
		if !errors.Is(err, cache.ErrLocked) {
			return unlock, err
		}
		select {
		case <-time.After(lockRetryPeriod):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

// selectNext ranks committed state, never a cached listing, so a retire
// is always seen. The write goes through s.store to keep caches in step.
func (s *Service) selectNext(ctx context.Context) (Transition, error) {
	persisted := store.Persisted(s.store)
	for attempt := 0; attempt < selectAttempts; attempt++ {
		entries, err := persisted.ListEntries(ctx)
		if err != nil {
			return Transition{}, storeErr("list entries", err)
		}
		if active := ranking.Active(entries); active != nil {
			return Transition{From: active.ID, To: active.ID, NoOp: true}, nil
		}
		head := ranking.Head(entries)
		if head == nil {
			return Transition{NoOp: true}, nil
		}

		err = s.store.ActivateEntry(ctx, head.ID)
		switch {
		case err == nil:
			s.log.Info("entry activated",
				zap.String(logging.FieldEntryID, head.ID),
				zap.String(logging.FieldMediaID, head.MediaID),
				zap.Int("votes", head.VoteCount))
			return Transition{To: head.ID}, nil
		case errors.Is(err, store.ErrActiveExists):
			return Transition{NoOp: true}, nil
		case errors.Is(err, store.ErrNotFound):
			// Head deleted between the read and the write; rank again.
			continue
		default:
			return Transition{}, storeErr("activate entry", err)
		}
	}
	return Transition{NoOp: true}, nil
}

// Finished handles the playback surface's completion signal for id.
// Replaying it after the entry is gone is a no-op; signalling an entry
// that is queued, not playing, is a ConflictError and deletes nothing.
func (s *Service) Finished(ctx context.Context, id string) (Transition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Transition{}, &ValidationError{Reason: ReasonMissingEntry}
	}
	retired, err := s.store.RetireActive(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Debug("finished replay ignored", zap.String(logging.FieldEntryID, id))
		return Transition{NoOp: true}, nil
	case errors.Is(err, store.ErrNotActive):
		return Transition{}, &ConflictError{Reason: ReasonNotActive}
	case err != nil:
		return Transition{}, storeErr("retire active", err)
	}
	return s.advanceFrom(ctx, retired), nil
}

// Remove deletes id on an explicit request. Removing the active entry
// advances the queue; removing a missing entry is a NotFound error.
func (s *Service) Remove(ctx context.Context, id string) (Transition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Transition{}, &ValidationError{Reason: ReasonMissingEntry}
	}
	deleted, err := s.store.DeleteEntry(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Transition{}, notFound(id)
	case err != nil:
		return Transition{}, storeErr("delete entry", err)
	}
	if !deleted.Active {
		s.log.Info("queued entry removed", zap.String(logging.FieldEntryID, id))
		return Transition{Retired: id}, nil
	}
	return s.advanceFrom(ctx, deleted), nil
}

// advanceFrom selects a successor after the active entry was deleted.
// A failed selection leaves the queue idle; the next snapshot read
// selects again.
func (s *Service) advanceFrom(ctx context.Context, retired *models.QueueEntry) Transition {
	t := Transition{Retired: retired.ID, From: retired.ID}
	next, err := s.EnsureActive(ctx)
	if err != nil {
		s.log.Error("advance failed, queue idle until next read",
			zap.String(logging.FieldFrom, retired.ID), zap.Error(err))
		return t
	}
	t.To = next.To
	s.log.Info("queue advanced", zap.String(logging.FieldFrom, t.From), zap.String(logging.FieldTo, t.To))
	return t
}

// Snapshot returns the active entry and the ranked queue, running the
// selection step first so an idle queue with entries recovers on read.
// With participantID set, entries the participant voted for carry
// VotedByMe.
func (s *Service) Snapshot(ctx context.Context, participantID string) (*models.Snapshot, error) {
	if _, err := s.EnsureActive(ctx); err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, storeErr("list entries", err)
	}

	if participantID = strings.TrimSpace(participantID); participantID != "" {
		voted, err := s.store.VotedEntries(ctx, participantID)
		if err != nil {
			return nil, storeErr("voted entries", err)
		}
		for i := range entries {
			entries[i].VotedByMe = voted[entries[i].ID]
		}
	}

	snap := &models.Snapshot{
		Active:         ranking.Active(entries),
		Queue:          ranking.Rank(entries),
		PollIntervalMS: s.pollInterval.Milliseconds(),
		GeneratedAt:    s.now().UTC(),
	}
	if snap.Active != nil {
		snap.NowPlaying = &snap.Active.ID
	}
	return snap, nil
}

// NowPlaying reports the active entry for the playback surface.
func (s *Service) NowPlaying(ctx context.Context) (models.NowPlayingResponse, error) {
	snap, err := s.Snapshot(ctx, "")
	if err != nil {
		return models.NowPlayingResponse{}, err
	}
	if snap.Active == nil {
		return models.NowPlayingResponse{}, nil
	}
	return models.NowPlayingResponse{
		EntryID: &snap.Active.ID,
		MediaID: &snap.Active.MediaID,
	}, nil
}
