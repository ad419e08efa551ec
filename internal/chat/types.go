package chat

import "time"

// Mode says which kind of responder currently owns a conversation.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModePeer  Mode = "peer"
)

// Status drives every routing decision made for a session.
type Status string

const (
	StatusOpen           Status = "open"
	StatusHandoffPending Status = "handoff_pending"
	StatusActivePeer     Status = "active_peer"
	StatusClosed         Status = "closed"
)

type SenderRole string

const (
	RoleRequester SenderRole = "requester"
	RoleAgent     SenderRole = "agent"
	RoleVolunteer SenderRole = "volunteer"
)

// Channel records which side of the service produced a message, so transcripts
// distinguish messages written before and after a mode switch.
type Channel string

const (
	ChannelAgent Channel = "agent"
	ChannelPeer  Channel = "peer"
)

// Session is one conversation thread between a requester and either the
// automated reply engine or an assigned peer volunteer.
type Session struct {
	ID                 string     `json:"session_id"`
	RequesterID        string     `json:"requester_id,omitempty"`
	Mode               Mode       `json:"mode"`
	Status             Status     `json:"status"`
	VolunteerID        string     `json:"volunteer_id,omitempty"`
	DeclinedBy         []string   `json:"declined_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	HandoffRequestedAt *time.Time `json:"handoff_requested_at,omitempty"`
}

// DeclinedBy grows monotonically; a volunteer who declined stays excluded
// from the pending listing for as long as the session remains pending.
func (s *Session) Declined(volunteerID string) bool {
	for _, v := range s.DeclinedBy {
		if v == volunteerID {
			return true
		}
	}
	return false
}

// Message is one immutable entry in a session transcript. Seq is assigned at
// append time and breaks CreatedAt ties, making per-session order total.
type Message struct {
	ID         string     `json:"message_id"`
	SessionID  string     `json:"session_id"`
	Seq        int64      `json:"seq"`
	SenderRole SenderRole `json:"sender_role"`
	Channel    Channel    `json:"channel"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

func ValidSenderRole(r SenderRole) bool {
	switch r {
	case RoleRequester, RoleAgent, RoleVolunteer:
		return true
	default:
		return false
	}
}
