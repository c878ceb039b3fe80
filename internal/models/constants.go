package models

// Media source constants.
const (
	SourceYouTube = "youtube"
)

// ParticipantHeader carries the participant id supplied by the identity
// provider in front of the API.
const ParticipantHeader = "X-Participant-ID"
