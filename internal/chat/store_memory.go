package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions and transcripts in process memory. It is the
// default backend when no DATABASE_URL is configured, and the backend used by
// tests. The claim path holds the store mutex for the whole compare-and-set,
// which gives it the same single-winner guarantee as the conditional UPDATE
// in the Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]*Message
	nextSeq  map[string]int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
		nextSeq:  make(map[string]int64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock; tests use it to pin timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) GetOrCreateSession(ctx context.Context, sessionID, requesterID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return cloneSession(sess), nil
	}

	now := s.now()
	sess := &Session{
		ID:            sessionID,
		RequesterID:   requesterID,
		Mode:          ModeAgent,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	s.sessions[sessionID] = sess
	return cloneSession(sess), nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.Mode != nil {
		sess.Mode = *patch.Mode
	}
	if patch.VolunteerID != nil {
		sess.VolunteerID = *patch.VolunteerID
	}
	if patch.HandoffRequestedAt != nil {
		t := *patch.HandoffRequestedAt
		sess.HandoffRequestedAt = &t
	}
	if patch.LastMessageAt != nil {
		sess.LastMessageAt = *patch.LastMessageAt
	}
	sess.UpdatedAt = s.now()
	return cloneSession(sess), nil
}

func (s *MemoryStore) ClaimSession(ctx context.Context, sessionID, volunteerID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != StatusHandoffPending {
		return nil, ErrRaceLost
	}
	sess.Status = StatusActivePeer
	sess.Mode = ModePeer
	sess.VolunteerID = volunteerID
	sess.UpdatedAt = s.now()
	return cloneSession(sess), nil
}

func (s *MemoryStore) AddDecline(ctx context.Context, sessionID, volunteerID string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if sess.Status != StatusHandoffPending || sess.Declined(volunteerID) {
		return cloneSession(sess), false, nil
	}
	sess.DeclinedBy = append(sess.DeclinedBy, volunteerID)
	sess.UpdatedAt = s.now()
	return cloneSession(sess), true, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return nil, ErrNotFound
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.nextSeq[msg.SessionID]++
	stored.Seq = s.nextSeq[msg.SessionID]

	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &stored)
	out := stored
	return &out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}

	msgs := s.messages[sessionID]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, volunteerID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if sess.Status != StatusHandoffPending || sess.Declined(volunteerID) {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return handoffRequestedAt(out[i]).Before(handoffRequestedAt(out[j]))
	})
	return out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, volunteerID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if sess.Status != StatusActivePeer || sess.VolunteerID != volunteerID {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func handoffRequestedAt(sess *Session) time.Time {
	if sess.HandoffRequestedAt != nil {
		return *sess.HandoffRequestedAt
	}
	return sess.CreatedAt
}

func cloneSession(sess *Session) *Session {
	c := *sess
	if sess.DeclinedBy != nil {
		c.DeclinedBy = append([]string(nil), sess.DeclinedBy...)
	}
	if sess.HandoffRequestedAt != nil {
		t := *sess.HandoffRequestedAt
		c.HandoffRequestedAt = &t
	}
	return &c
}
