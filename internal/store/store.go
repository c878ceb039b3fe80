package store

import (
	"context"
	"errors"

	"github.com/voyagen/crowdqueue/internal/models"
)

// Sentinel errors. Backends map driver constraint violations to these
// instead of checking existence before writing.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrAlreadyVoted = errors.New("store: vote already recorded")
	ErrNotVoted     = errors.New("store: no vote to remove")
	ErrNotActive    = errors.New("store: entry is not active")
	ErrActiveExists = errors.New("store: another entry is active")
)

// Store defines persistence for queue entries and votes.
//
// At most one entry is active at a time and (participant, entry) vote pairs
// are unique; both invariants are enforced by the schema.
type Store interface {
	// CreateEntry inserts a new inactive entry.
	CreateEntry(ctx context.Context, e *models.QueueEntry) error
	// GetEntry returns one entry with its vote count.
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	// ListEntries returns every entry, active or queued, with vote counts.
	ListEntries(ctx context.Context) ([]models.QueueEntry, error)
	// UpdateEntryMetadata replaces title and thumbnail.
	UpdateEntryMetadata(ctx context.Context, id, title, thumbnail string) error

	// DeleteEntry removes an entry and its votes in one transaction and
	// returns the entry as it was (Active tells whether it was playing).
	DeleteEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	// RetireActive is DeleteEntry restricted to the active entry.
	// It returns ErrNotActive, without deleting, when the entry is queued.
	RetireActive(ctx context.Context, id string) (*models.QueueEntry, error)
	// ActivateEntry flags id active only when no entry is active.
	ActivateEntry(ctx context.Context, id string) error

	// AddVote records a vote; ErrAlreadyVoted when the pair exists.
	AddVote(ctx context.Context, v models.VoteRecord) error
	// RemoveVote deletes a vote; ErrNotVoted when the pair does not exist.
	RemoveVote(ctx context.Context, entryID, participantID string) error
	// VotedEntries returns the set of entry ids the participant supports.
	VotedEntries(ctx context.Context, participantID string) (map[string]bool, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the backend.
	Close()
}

// Persisted returns the store that reads committed state directly. For
// a CachedStore that is the wrapped backend; any other store is
// returned as is.
func Persisted(s Store) Store {
	if p, ok := s.(interface{ Persisted() Store }); ok {
		return p.Persisted()
	}
	return s
}
