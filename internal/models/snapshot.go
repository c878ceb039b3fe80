package models

import "time"

// Snapshot is a point-in-time read of the playing entry and the ranked queue.
type Snapshot struct {
	Active         *QueueEntry  `json:"active"`
	Queue          []QueueEntry `json:"queue"`
	NowPlaying     *string      `json:"now_playing"`
	PollIntervalMS int64        `json:"poll_interval_ms"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// ActiveID returns the playing entry id or "" when nothing plays.
func (s *Snapshot) ActiveID() string {
	if s == nil || s.Active == nil {
		return ""
	}
	return s.Active.ID
}

// SubmitRequest is the body of POST /api/entries.
type SubmitRequest struct {
	URL string `json:"url"`
}

// VoteResponse reports the entry tally after a vote mutation.
type VoteResponse struct {
	EntryID   string `json:"entry_id"`
	VoteCount int    `json:"vote_count"`
	Voted     bool   `json:"voted"`
}

// TransitionResponse reports the outcome of an advancement signal or removal.
type TransitionResponse struct {
	Retired    *string `json:"retired"`
	From       *string `json:"from"`
	To         *string `json:"to"`
	NoOp       bool    `json:"noop"`
	NowPlaying *string `json:"now_playing"`
}

// NowPlayingResponse is the body of GET /api/now-playing.
type NowPlayingResponse struct {
	EntryID *string `json:"entry_id"`
	MediaID *string `json:"media_id"`
}
