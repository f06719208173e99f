package record

import (
	"fmt"
	"time"
)

// Score is the terminal classification of a transcription's quality.
// A record starts Unscored and transitions at most once to one of the
// scored values.
type Score int

const (
	Unscored   Score = 0
	Rejected   Score = 1
	Acceptable Score = 2
	Excellent  Score = 3
)

// ParseScore converts the wire representation of a score tier
func ParseScore(s string) (Score, error) {
	switch s {
	case "rejected":
		return Rejected, nil
	case "acceptable":
		return Acceptable, nil
	case "excellent":
		return Excellent, nil
	default:
		return Unscored, fmt.Errorf("%w: invalid score %q", ErrValidation, s)
	}
}

// String returns the wire representation of a score
func (s Score) String() string {
	switch s {
	case Unscored:
		return "unscored"
	case Rejected:
		return "rejected"
	case Acceptable:
		return "acceptable"
	case Excellent:
		return "excellent"
	default:
		return fmt.Sprintf("score(%d)", int(s))
	}
}

// ScoreOutcome is the result of a scoring attempt
type ScoreOutcome int

const (
	// ScoreApplied means this call won the transition and the reward was credited
	ScoreApplied ScoreOutcome = iota
	// ScoreAlreadyScored means the record was already finalized; not an error
	ScoreAlreadyScored
	// ScoreNotFound means no record exists with the given id
	ScoreNotFound
)

// String returns the wire representation of a scoring outcome
func (o ScoreOutcome) String() string {
	switch o {
	case ScoreApplied:
		return "applied"
	case ScoreAlreadyScored:
		return "already_scored"
	case ScoreNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// User roles
const (
	RoleUser  = 0
	RoleAdmin = 1
)

// User represents a registered submitter
type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Balance    float64   `json:"balance"`
	Role       int       `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record represents a persisted transcription
type Record struct {
	ID              int64     `json:"id"`
	OwnerID         int64     `json:"owner_id"`
	Token           string    `json:"token,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Text            string    `json:"text"`
	Score           Score     `json:"score"`
	Archived        bool      `json:"archived"`
}

// AudioKey returns the object key for a record's audio blob
func AudioKey(id int64) string {
	return fmt.Sprintf("%d/audio.wav", id)
}

// TextKey returns the object key for a record's transcription blob
func TextKey(id int64) string {
	return fmt.Sprintf("%d/transcription.txt", id)
}
