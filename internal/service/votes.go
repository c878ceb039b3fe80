package service

import (
	"context"
	"errors"
	"strings"

	"github.com/voyagen/crowdqueue/internal/logging"
	"github.com/voyagen/crowdqueue/internal/models"
	"github.com/voyagen/crowdqueue/internal/store"
	"go.uber.org/zap"
)

// Upvote records participantID's support for entryID. A second upvote
// for the same pair is a ConflictError; the store's primary key decides.
func (s *Service) Upvote(ctx context.Context, entryID, participantID string) (models.VoteResponse, error) {
	entryID, participantID, err := voteArgs(entryID, participantID)
	if err != nil {
		return models.VoteResponse{}, err
	}
	err = s.store.AddVote(ctx, models.VoteRecord{
		ParticipantID: participantID,
		EntryID:       entryID,
		CreatedAt:     s.now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrAlreadyVoted):
		return models.VoteResponse{}, &ConflictError{Reason: ReasonAlreadyVoted}
	case errors.Is(err, store.ErrNotFound):
		return models.VoteResponse{}, notFound(entryID)
	case err != nil:
		return models.VoteResponse{}, storeErr("add vote", err)
	}
	s.log.Debug("vote added", zap.String(logging.FieldEntryID, entryID), zap.String(logging.FieldParticipantID, participantID))
	return s.tally(ctx, entryID, true), nil
}

// Downvote removes participantID's support for entryID. Without a prior
// vote it is a ConflictError.
func (s *Service) Downvote(ctx context.Context, entryID, participantID string) (models.VoteResponse, error) {
	entryID, participantID, err := voteArgs(entryID, participantID)
	if err != nil {
		return models.VoteResponse{}, err
	}
	err = s.store.RemoveVote(ctx, entryID, participantID)
	switch {
	case errors.Is(err, store.ErrNotVoted):
		return models.VoteResponse{}, &ConflictError{Reason: ReasonNotVoted}
	case err != nil:
		return models.VoteResponse{}, storeErr("remove vote", err)
	}
	s.log.Debug("vote removed", zap.String(logging.FieldEntryID, entryID), zap.String(logging.FieldParticipantID, participantID))
	return s.tally(ctx, entryID, false), nil
}

func voteArgs(entryID, participantID string) (string, string, error) {
	entryID = strings.TrimSpace(entryID)
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", "", &ValidationError{Reason: ReasonMissingParticipant}
	}
	if entryID == "" {
		return "", "", &ValidationError{Reason: ReasonMissingEntry}
	}
	return entryID, participantID, nil
}

// tally reads the entry's count after a vote write. The count is
// informational; a failed read leaves it at zero.
func (s *Service) tally(ctx context.Context, entryID string, voted bool) models.VoteResponse {
	resp := models.VoteResponse{EntryID: entryID, Voted: voted}
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		s.log.Debug("tally read failed", zap.String(logging.FieldEntryID, entryID), zap.Error(err))
		return resp
	}
	resp.VoteCount = e.VoteCount
	return resp
}
