package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the referenced session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrStateConflict means the operation is not valid for the session's
	// current status.
	ErrStateConflict = errors.New("operation not valid for current session status")
	// ErrRaceLost is returned to every losing concurrent claim: the session
	// was pending but another volunteer's claim landed first.
	ErrRaceLost = errors.New("session already claimed by another volunteer")
	// ErrUnauthorized means the caller is neither the session's requester nor
	// its assigned volunteer.
	ErrUnauthorized = errors.New("caller is not a participant of this session")
	// ErrInvalidArgument covers malformed or missing identifiers, rejected
	// before any state is touched.
	ErrInvalidArgument = errors.New("invalid argument")
)

// SessionPatch carries the coordinator-owned session fields. Nil fields are
// left unchanged. Status and VolunteerID are never mutated outside the
// coordinator's transition operations.
type SessionPatch struct {
	Status             *Status
	Mode               *Mode
	VolunteerID        *string
	HandoffRequestedAt *time.Time
	LastMessageAt      *time.Time
}

// Store persists sessions and their append-only message logs.
type Store interface {
	// GetOrCreateSession returns the session with the given id, creating it
	// with status=open and mode=agent when absent. Create is idempotent; a
	// requesterID supplied after creation does not overwrite the original.
	GetOrCreateSession(ctx context.Context, sessionID, requesterID string) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (*Session, error)

	// ClaimSession is the one write that must be atomic: it moves a session
	// from handoff_pending to active_peer and assigns volunteerID in a single
	// conditional write. When the session exists but is no longer pending at
	// the moment of the write it returns ErrRaceLost.
	ClaimSession(ctx context.Context, sessionID, volunteerID string) (*Session, error)

	// AddDecline records that volunteerID opted out of a pending session.
	// It is idempotent, and a harmless no-op when the session already left
	// handoff_pending. The bool reports whether the set actually grew.
	AddDecline(ctx context.Context, sessionID, volunteerID string) (*Session, bool, error)

	// AppendMessage assigns the message an ID, CreatedAt and per-session Seq
	// as needed and appends it. Appends succeed independently of session mode.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	// ListMessages returns the full transcript in ascending (CreatedAt, Seq)
	// order.
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// ListPending returns handoff_pending sessions the volunteer has not
	// declined, oldest handoff request first.
	ListPending(ctx context.Context, volunteerID string) ([]*Session, error)
	// ListActive returns the volunteer's active_peer sessions, most recent
	// activity first.
	ListActive(ctx context.Context, volunteerID string) ([]*Session, error)

	Close() error
}
