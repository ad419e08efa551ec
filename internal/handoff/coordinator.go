package handoff

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/haven/internal/chat"
	"github.com/antoniostano/haven/internal/engine"
	"github.com/antoniostano/haven/internal/observability"
	"github.com/antoniostano/haven/internal/policy"
)

// Coordinator owns every session status transition. The session store never
// mutates status or volunteer assignment outside these operations.
type Coordinator struct {
	store   chat.Store
	bridge  *engine.Bridge
	limiter *policy.Limiter
	metrics *observability.Metrics
	now     func() time.Time
}

func NewCoordinator(store chat.Store, bridge *engine.Bridge, limiter *policy.Limiter, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		store:   store,
		bridge:  bridge,
		limiter: limiter,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the coordinator clock; tests use it to pin timestamps.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

type PostMessageInput struct {
	SessionID  string
	SenderRole chat.SenderRole
	CallerID   string
	Content    string
	Locale     string
}

type PostMessageOutput struct {
	Session *chat.Session
	Message *chat.Message
	// Reply is set only when the session was agent-served at the moment the
	// message arrived. It is never nil text: engine failures yield the
	// configured fallback.
	Reply *chat.Message
}

// PostMessage appends the inbound message and, only while the session status
// is open, forwards it to the automated reply engine. Once a handoff has been
// requested or accepted the engine is bypassed entirely.
func (c *Coordinator) PostMessage(ctx context.Context, in PostMessageInput) (*PostMessageOutput, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.CallerID = strings.TrimSpace(in.CallerID)
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", chat.ErrInvalidArgument)
	}
	switch in.SenderRole {
	case chat.RoleRequester, chat.RoleVolunteer:
	case chat.RoleAgent:
		return nil, fmt.Errorf("%w: agent messages are produced internally", chat.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("%w: unknown sender role %q", chat.ErrInvalidArgument, in.SenderRole)
	}

	var (
		sess *chat.Session
		err  error
	)
	if in.SenderRole == chat.RoleRequester {
		// Sessions are created lazily on the requester's first message.
		sess, err = c.store.GetOrCreateSession(ctx, in.SessionID, in.CallerID)
	} else {
		sess, err = c.store.GetSession(ctx, in.SessionID)
	}
	if err != nil {
		return nil, err
	}

	if sess.Status == chat.StatusClosed {
		return nil, fmt.Errorf("%w: session is closed", chat.ErrStateConflict)
	}
	if err := c.authorizeSender(sess, in.SenderRole, in.CallerID); err != nil {
		return nil, err
	}
	if in.SenderRole == chat.RoleRequester && c.limiter != nil {
		key := sess.RequesterID
		if key == "" {
			key = sess.ID
		}
		if !c.limiter.Allow(key) {
			return nil, policy.ErrRateLimited
		}
	}

	channel := chat.ChannelAgent
	if sess.Mode == chat.ModePeer {
		channel = chat.ChannelPeer
	}
	msg, err := c.store.AppendMessage(ctx, &chat.Message{
		SessionID:  sess.ID,
		SenderRole: in.SenderRole,
		Channel:    channel,
		Content:    in.Content,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return nil, err
	}
	c.metrics.Messages.WithLabelValues(string(in.SenderRole)).Inc()

	now := c.now()
	sess, err = c.store.UpdateSession(ctx, sess.ID, chat.SessionPatch{LastMessageAt: &now})
	if err != nil {
		return nil, err
	}

	out := &PostMessageOutput{Session: sess, Message: msg}
	if sess.Status != chat.StatusOpen {
		return out, nil
	}

	// Inbound text is persisted before this call and the reply after it, so a
	// crash mid-call never silently loses the user's message.
	redacted, _ := policy.RedactPII(in.Content)
	replyText, _ := c.bridge.Reply(ctx, engine.ReplyRequest{
		SessionID:   sess.ID,
		TurnID:      uuid.NewString(),
		RequesterID: sess.RequesterID,
		InputText:   redacted,
		Locale:      in.Locale,
		Anonymous:   sess.RequesterID == "",
	})

	reply, err := c.store.AppendMessage(ctx, &chat.Message{
		SessionID:  sess.ID,
		SenderRole: chat.RoleAgent,
		Channel:    chat.ChannelAgent,
		Content:    replyText,
		CreatedAt:  c.now(),
	})
	if err != nil {
		// Best effort: a transient log-write failure must not break the live
		// exchange. The requester still sees the reply via this response.
		log.Printf("append agent reply failed for session %s: %v", sess.ID, err)
		reply = &chat.Message{
			SessionID:  sess.ID,
			SenderRole: chat.RoleAgent,
			Channel:    chat.ChannelAgent,
			Content:    replyText,
			CreatedAt:  c.now(),
		}
	} else {
		c.metrics.Messages.WithLabelValues(string(chat.RoleAgent)).Inc()
	}
	out.Reply = reply
	return out, nil
}

func (c *Coordinator) authorizeSender(sess *chat.Session, role chat.SenderRole, callerID string) error {
	switch role {
	case chat.RoleRequester:
		if sess.RequesterID != "" && callerID != "" && callerID != sess.RequesterID {
			return chat.ErrUnauthorized
		}
	case chat.RoleVolunteer:
		if sess.Status != chat.StatusActivePeer || callerID == "" || callerID != sess.VolunteerID {
			return chat.ErrUnauthorized
		}
	}
	return nil
}

// RequestHandoff moves an open session to handoff_pending. Requesting again
// while already pending is an idempotent success.
func (c *Coordinator) RequestHandoff(ctx context.Context, sessionID string) (*chat.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case chat.StatusHandoffPending:
		return sess, nil
	case chat.StatusOpen:
		now := c.now()
		status := chat.StatusHandoffPending
		sess, err = c.store.UpdateSession(ctx, sessionID, chat.SessionPatch{
			Status:             &status,
			HandoffRequestedAt: &now,
		})
		if err != nil {
			return nil, err
		}
		c.metrics.HandoffEvents.WithLabelValues("requested").Inc()
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: cannot request handoff from status %q", chat.ErrStateConflict, sess.Status)
	}
}

// Accept resolves competing volunteer claims: exactly one caller wins the
// pending session, every other concurrent caller gets chat.ErrRaceLost.
func (c *Coordinator) Accept(ctx context.Context, sessionID, volunteerID string) (*chat.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	volunteerID = strings.TrimSpace(volunteerID)
	if sessionID == "" || volunteerID == "" {
		return nil, fmt.Errorf("%w: session id and volunteer id are required", chat.ErrInvalidArgument)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == chat.StatusOpen {
		// No handoff was ever requested; this is an invalid call, not a race.
		return nil, fmt.Errorf("%w: no handoff requested for this session", chat.ErrStateConflict)
	}

	sess, err = c.store.ClaimSession(ctx, sessionID, volunteerID)
	if err != nil {
		if errors.Is(err, chat.ErrRaceLost) {
			c.metrics.HandoffEvents.WithLabelValues("race_lost").Inc()
		}
		return nil, err
	}
	c.metrics.HandoffEvents.WithLabelValues("accepted").Inc()
	c.metrics.ActivePeerSessions.Inc()
	return sess, nil
}

// Decline opts a volunteer out of a pending session. Declining twice, or
// declining a session that already moved on, is a harmless no-op.
func (c *Coordinator) Decline(ctx context.Context, sessionID, volunteerID string) (*chat.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	volunteerID = strings.TrimSpace(volunteerID)
	if sessionID == "" || volunteerID == "" {
		return nil, fmt.Errorf("%w: session id and volunteer id are required", chat.ErrInvalidArgument)
	}

	sess, added, err := c.store.AddDecline(ctx, sessionID, volunteerID)
	if err != nil {
		return nil, err
	}
	if added {
		c.metrics.HandoffEvents.WithLabelValues("declined").Inc()
	}
	return sess, nil
}

// End closes an active_peer session permanently. Only the session's requester
// or its owning volunteer may end it.
func (c *Coordinator) End(ctx context.Context, sessionID, callerID string) (*chat.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	callerID = strings.TrimSpace(callerID)
	if sessionID == "" || callerID == "" {
		return nil, fmt.Errorf("%w: session id and caller id are required", chat.ErrInvalidArgument)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != chat.StatusActivePeer {
		return nil, fmt.Errorf("%w: cannot end session in status %q", chat.ErrStateConflict, sess.Status)
	}
	if callerID != sess.RequesterID && callerID != sess.VolunteerID {
		return nil, chat.ErrUnauthorized
	}

	status := chat.StatusClosed
	sess, err = c.store.UpdateSession(ctx, sessionID, chat.SessionPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	c.metrics.HandoffEvents.WithLabelValues("ended").Inc()
	c.metrics.ActivePeerSessions.Dec()
	return sess, nil
}

// StatusInfo is the requester's polling payload for detecting an accepted
// handoff.
type StatusInfo struct {
	Status      chat.Status `json:"status"`
	VolunteerID string      `json:"volunteer_id,omitempty"`
}

func (c *Coordinator) Status(ctx context.Context, sessionID string) (StatusInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return StatusInfo{}, fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{Status: sess.Status, VolunteerID: sess.VolunteerID}, nil
}

// Messages returns the transcript for the session's requester or volunteer.
// Anonymous sessions carry no requester identity; there possession of the
// opaque session id is the requester's credential.
func (c *Coordinator) Messages(ctx context.Context, sessionID, callerID string) ([]*chat.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	callerID = strings.TrimSpace(callerID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", chat.ErrInvalidArgument)
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	authorized := sess.RequesterID == "" ||
		callerID == sess.RequesterID ||
		(sess.VolunteerID != "" && callerID == sess.VolunteerID)
	if !authorized {
		return nil, chat.ErrUnauthorized
	}
	return c.store.ListMessages(ctx, sessionID)
}

// Pending lists claimable handoff requests for a volunteer, oldest first.
func (c *Coordinator) Pending(ctx context.Context, volunteerID string) ([]*chat.Session, error) {
	volunteerID = strings.TrimSpace(volunteerID)
	if volunteerID == "" {
		return nil, fmt.Errorf("%w: volunteer id is required", chat.ErrInvalidArgument)
	}
	return c.store.ListPending(ctx, volunteerID)
}

// Active lists the volunteer's claimed sessions, most recent activity first.
func (c *Coordinator) Active(ctx context.Context, volunteerID string) ([]*chat.Session, error) {
	volunteerID = strings.TrimSpace(volunteerID)
	if volunteerID == "" {
		return nil, fmt.Errorf("%w: volunteer id is required", chat.ErrInvalidArgument)
	}
	return c.store.ListActive(ctx, volunteerID)
}
