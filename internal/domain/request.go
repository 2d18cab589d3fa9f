package domain

import "time"

// MessageRef addresses a message previously sent by the bot so it can be
// edited or deleted later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the reference points at nothing.
func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

// Request is one user-submitted link awaiting processing. It is created when
// a valid URL arrives, consumed exactly once by the download worker, and
// never persisted.
type Request struct {
	ID         string     // correlation id (UUID) used in logs
	ChatID     int64      // originating chat
	UserID     int64      // requester
	ReplyTo    int        // inbound message id the video replies to
	Status     MessageRef // placeholder status message
	URL        string     // raw content URL as sent by the user
	EnqueuedAt time.Time
}

// Stage is the position of a Request in the download state machine.
type Stage int

const (
	StageQueued Stage = iota
	StageExtracting
	StageFetching
	StageDelivered
	StageFailed
)

// String returns the lowercase stage name used in logs and metric labels.
func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageExtracting:
		return "extracting"
	case StageFetching:
		return "fetching"
	case StageDelivered:
		return "delivered"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool { return s == StageDelivered || s == StageFailed }
