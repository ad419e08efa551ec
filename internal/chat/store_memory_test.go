package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func pendingSession(t *testing.T, s *MemoryStore, id, requesterID string) *Session {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetOrCreateSession(ctx, id, requesterID); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	status := StatusHandoffPending
	now := time.Now().UTC()
	sess, err := s.UpdateSession(ctx, id, SessionPatch{Status: &status, HandoffRequestedAt: &now})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	return sess
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "s1", "req-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if first.Status != StatusOpen {
		t.Fatalf("Status = %q, want %q", first.Status, StatusOpen)
	}
	if first.Mode != ModeAgent {
		t.Fatalf("Mode = %q, want %q", first.Mode, ModeAgent)
	}

	second, err := s.GetOrCreateSession(ctx, "s1", "someone-else")
	if err != nil {
		t.Fatalf("GetOrCreateSession() second error = %v", err)
	}
	if second.RequesterID != "req-1" {
		t.Fatalf("RequesterID = %q, want original %q preserved", second.RequesterID, "req-1")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on repeat create: %v vs %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestClaimSessionSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	pendingSession(t, s, "s1", "req-1")

	const n = 32
	var (
		wg        sync.WaitGroup
		wins      atomic.Int64
		raceLosts atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimSession(ctx, "s1", volunteerName(i))
			switch err {
			case nil:
				wins.Add(1)
			case ErrRaceLost:
				raceLosts.Add(1)
			default:
				t.Errorf("ClaimSession() error = %v, want nil or ErrRaceLost", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins.Load())
	}
	if raceLosts.Load() != n-1 {
		t.Fatalf("race-lost = %d, want %d", raceLosts.Load(), n-1)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Status != StatusActivePeer {
		t.Fatalf("Status = %q, want %q", sess.Status, StatusActivePeer)
	}
	if sess.Mode != ModePeer {
		t.Fatalf("Mode = %q, want %q", sess.Mode, ModePeer)
	}
	if sess.VolunteerID == "" {
		t.Fatalf("VolunteerID empty after claim")
	}
}

func TestClaimSessionNotPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.ClaimSession(ctx, "missing", "vol-1"); err != ErrNotFound {
		t.Fatalf("claim missing session error = %v, want ErrNotFound", err)
	}

	if _, err := s.GetOrCreateSession(ctx, "s1", ""); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if _, err := s.ClaimSession(ctx, "s1", "vol-1"); err != ErrRaceLost {
		t.Fatalf("claim open session error = %v, want ErrRaceLost", err)
	}
}

func TestAddDeclineIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	pendingSession(t, s, "s1", "")

	sess, added, err := s.AddDecline(ctx, "s1", "vol-1")
	if err != nil {
		t.Fatalf("AddDecline() error = %v", err)
	}
	if !added {
		t.Fatalf("added = false on first decline, want true")
	}
	if !sess.Declined("vol-1") {
		t.Fatalf("Declined(vol-1) = false after decline")
	}

	sess, added, err = s.AddDecline(ctx, "s1", "vol-1")
	if err != nil {
		t.Fatalf("AddDecline() repeat error = %v", err)
	}
	if added {
		t.Fatalf("added = true on repeat decline, want false")
	}
	if len(sess.DeclinedBy) != 1 {
		t.Fatalf("len(DeclinedBy) = %d, want 1", len(sess.DeclinedBy))
	}

	// Declining after the session moved on is a harmless no-op.
	if _, err := s.ClaimSession(ctx, "s1", "vol-2"); err != nil {
		t.Fatalf("ClaimSession() error = %v", err)
	}
	if _, added, err = s.AddDecline(ctx, "s1", "vol-3"); err != nil || added {
		t.Fatalf("decline after claim = (%v, %v), want (false, nil)", added, err)
	}
}

func TestListMessagesOrderIsStableAndTotal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.GetOrCreateSession(ctx, "s1", ""); err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}

	// Identical CreatedAt values force the Seq tiebreak.
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, content := range []string{"first", "second", "third"} {
		if _, err := s.AppendMessage(ctx, &Message{
			SessionID:  "s1",
			SenderRole: RoleRequester,
			Channel:    ChannelAgent,
			Content:    content,
			CreatedAt:  at,
		}); err != nil {
			t.Fatalf("AppendMessage(%q) error = %v", content, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Fatalf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, want)
		}
		if i > 0 && msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("Seq not strictly increasing: %d then %d", msgs[i-1].Seq, msgs[i].Seq)
		}
	}
}

func TestListPendingExcludesDeclinersAndOrdersOldestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"newer", "older"} {
		if _, err := s.GetOrCreateSession(ctx, id, ""); err != nil {
			t.Fatalf("GetOrCreateSession(%q) error = %v", id, err)
		}
		status := StatusHandoffPending
		at := base.Add(time.Duration(1-i) * time.Minute)
		if _, err := s.UpdateSession(ctx, id, SessionPatch{Status: &status, HandoffRequestedAt: &at}); err != nil {
			t.Fatalf("UpdateSession(%q) error = %v", id, err)
		}
	}

	pending, err := s.ListPending(ctx, "vol-1")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].ID != "older" || pending[1].ID != "newer" {
		t.Fatalf("pending order = [%s, %s], want [older, newer]", pending[0].ID, pending[1].ID)
	}

	if _, _, err := s.AddDecline(ctx, "older", "vol-1"); err != nil {
		t.Fatalf("AddDecline() error = %v", err)
	}
	pending, err = s.ListPending(ctx, "vol-1")
	if err != nil {
		t.Fatalf("ListPending() after decline error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "newer" {
		t.Fatalf("pending after decline = %+v, want only newer", pending)
	}

	// Other volunteers still see the declined session.
	pending, err = s.ListPending(ctx, "vol-2")
	if err != nil {
		t.Fatalf("ListPending(vol-2) error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) for vol-2 = %d, want 2", len(pending))
	}
}

func TestListActiveOrdersByRecentActivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"stale", "busy"} {
		pendingSession(t, s, id, "")
		if _, err := s.ClaimSession(ctx, id, "vol-1"); err != nil {
			t.Fatalf("ClaimSession(%q) error = %v", id, err)
		}
		at := base.Add(time.Duration(i) * time.Hour)
		if _, err := s.UpdateSession(ctx, id, SessionPatch{LastMessageAt: &at}); err != nil {
			t.Fatalf("UpdateSession(%q) error = %v", id, err)
		}
	}

	active, err := s.ListActive(ctx, "vol-1")
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	if active[0].ID != "busy" || active[1].ID != "stale" {
		t.Fatalf("active order = [%s, %s], want [busy, stale]", active[0].ID, active[1].ID)
	}

	other, err := s.ListActive(ctx, "vol-2")
	if err != nil {
		t.Fatalf("ListActive(vol-2) error = %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("len(active) for vol-2 = %d, want 0", len(other))
	}
}

func volunteerName(i int) string {
	return "vol-" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
}
