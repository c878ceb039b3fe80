package models

import "time"

// QueueEntry is one submitted media item: queued while Active is false,
// playing while Active is true.
type QueueEntry struct {
	ID          string    `json:"id"`
	SubmitterID string    `json:"submitter_id"`
	Source      string    `json:"source"`
	MediaID     string    `json:"media_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Thumbnail   string    `json:"thumbnail"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	VoteCount   int       `json:"vote_count"`            // populated by read queries (joined from votes)
	VotedByMe   bool      `json:"voted_by_me,omitempty"` // populated per participant on snapshot reads
}

// VoteRecord is one participant's support for one entry. Presence is the
// only signal; every record counts as +1.
type VoteRecord struct {
	ParticipantID string    `json:"participant_id"`
	EntryID       string    `json:"entry_id"`
	CreatedAt     time.Time `json:"created_at"`
}
