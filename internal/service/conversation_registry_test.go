package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"apoyo-citas/internal/domain"
)

func TestConversationRegistryLifecycle(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()

	conv, err := reg.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !regexp.MustCompile(`^\d+-[0-9a-f]{8}$`).MatchString(conv.SessionID()) {
		t.Fatalf("unexpected session id %q", conv.SessionID())
	}

	if _, err := reg.Get("u2", conv.SessionID()); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected ErrConversationForbidden, got %v", err)
	}
	got, err := reg.Get("u1", conv.SessionID())
	if err != nil || got != conv {
		t.Fatalf("expected same conversation, got %v", err)
	}

	if err := got.Send(ctx, "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := reg.End(ctx, "u1", conv.SessionID()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := reg.Get("u1", conv.SessionID()); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound after end, got %v", err)
	}
	if n := len(h.messages(t, conv.SessionID())); n != 0 {
		t.Fatalf("expected purged session, got %d messages", n)
	}
}

func TestConversationRegistryShutdown(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u3"} {
		conv, err := reg.Start(ctx, user)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_ = conv.Send(ctx, "estoy triste")
	}
	reg.Shutdown(ctx)

	if reg.Len() != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", reg.Len())
	}
	if fired := h.sched.FireAll(); fired != 0 {
		t.Fatalf("shutdown must cancel pending responses, fired %d", fired)
	}
	if n := len(h.messages(t, "")); n != 0 {
		t.Fatalf("expected all transcripts purged, got %d", n)
	}
}

func TestConversationRegistryRejectsAnonymous(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	if _, err := reg.Start(context.Background(), " "); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type mockChatSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.ChatSession
	failEnd  bool
}

func (m *mockChatSessionRepo) Create(_ context.Context, session domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockChatSessionRepo) End(_ context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnd {
		return errors.New("db down")
	}
	session, ok := m.sessions[id]
	if !ok {
		return pgx.ErrNoRows
	}
	session.EndedAt = &endedAt
	m.sessions[id] = session
	return nil
}

func (m *mockChatSessionRepo) GetByID(_ context.Context, id string) (domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return domain.ChatSession{}, pgx.ErrNoRows
	}
	return session, nil
}

func TestConversationRegistryLogsSessions(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	sessions := &mockChatSessionRepo{sessions: make(map[string]domain.ChatSession)}
	reg := NewConversationRegistry(nil, h.svc, sessions)
	ctx := context.Background()

	conv, err := reg.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	logged, err := sessions.GetByID(ctx, conv.SessionID())
	if err != nil {
		t.Fatalf("expected logged session: %v", err)
	}
	if logged.UserID != "u1" || logged.EndedAt != nil {
		t.Fatalf("unexpected session record: %+v", logged)
	}

	if err := reg.End(ctx, "u1", conv.SessionID()); err != nil {
		t.Fatalf("end: %v", err)
	}
	logged, _ = sessions.GetByID(ctx, conv.SessionID())
	if logged.EndedAt == nil {
		t.Fatalf("expected ended_at after end")
	}
}

func TestConversationRegistryEndSurvivesLogFailure(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	sessions := &mockChatSessionRepo{sessions: make(map[string]domain.ChatSession), failEnd: true}
	reg := NewConversationRegistry(nil, h.svc, sessions)
	ctx := context.Background()

	conv, err := reg.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := reg.End(ctx, "u1", conv.SessionID()); err != nil {
		t.Fatalf("expected end to ignore log failure, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected session removed")
	}
}

func TestConversationRegistryAttachEndsOnLastRelease(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()

	conv, err := reg.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := reg.Attach("u2", conv.SessionID()); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected ErrConversationForbidden, got %v", err)
	}
	if _, _, err := reg.Attach("u1", "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	_, releaseTab1, err := reg.Attach("u1", conv.SessionID())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	_, releaseTab2, err := reg.Attach("u1", conv.SessionID())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := conv.Send(ctx, "tengo ansiedad"); err != nil {
		t.Fatalf("send: %v", err)
	}

	releaseTab1()
	releaseTab1()
	if reg.Len() != 1 {
		t.Fatalf("session must stay open while a stream is attached")
	}

	releaseTab2()
	if reg.Len() != 0 {
		t.Fatalf("expected session ended after the last release, got %d open", reg.Len())
	}
	if n := len(h.messages(t, conv.SessionID())); n != 0 {
		t.Fatalf("expected purged transcript, got %d messages", n)
	}
	if fired := h.sched.FireAll(); fired != 0 {
		t.Fatalf("expected pending response cancelled, fired %d", fired)
	}
	if _, err := conv.Messages(ctx); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed on a closed session, got %v", err)
	}
}

func TestConversationRegistryReleaseAfterExplicitEnd(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()

	conv, _ := reg.Start(ctx, "u1")
	_, release, err := reg.Attach("u1", conv.SessionID())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := reg.End(ctx, "u1", conv.SessionID()); err != nil {
		t.Fatalf("end: %v", err)
	}
	next, _ := reg.Start(ctx, "u1")

	release()
	if _, err := reg.Get("u1", next.SessionID()); err != nil {
		t.Fatalf("late release must not touch other sessions: %v", err)
	}
}

func TestConversationRegistrySweepEndsIdleSessions(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return now }
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()
	const idle = 30 * time.Minute

	abandoned, _ := reg.Start(ctx, "u1")
	browsing, _ := reg.Start(ctx, "u2")
	streaming, _ := reg.Start(ctx, "u3")
	waiting, _ := reg.Start(ctx, "u4")

	_, release, err := reg.Attach("u3", streaming.SessionID())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := waiting.Send(ctx, "me siento solo"); err != nil {
		t.Fatalf("send: %v", err)
	}

	now = now.Add(20 * time.Minute)
	if _, err := reg.Get("u2", browsing.SessionID()); err != nil {
		t.Fatalf("get: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if n := reg.Sweep(ctx, idle); n != 1 {
		t.Fatalf("expected only the abandoned session swept, got %d", n)
	}
	if _, err := reg.Get("u1", abandoned.SessionID()); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected abandoned session gone, got %v", err)
	}

	h.sched.FireAll()
	now = now.Add(20 * time.Minute)
	if n := reg.Sweep(ctx, idle); n != 2 {
		t.Fatalf("expected browsing and waiting sessions swept, got %d", n)
	}
	if _, err := reg.Get("u3", streaming.SessionID()); err != nil {
		t.Fatalf("attached session must survive the sweep: %v", err)
	}

	release()
	if reg.Len() != 0 {
		t.Fatalf("expected no open sessions, got %d", reg.Len())
	}
	if n := len(h.messages(t, "")); n != 0 {
		t.Fatalf("expected all transcripts purged, got %d", n)
	}
}

func TestConversationRegistryForgetsEndedSessions(t *testing.T) {
	h := newDialogueHarness(t, nil, true)
	reg := NewConversationRegistry(nil, h.svc, nil)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		conv, err := reg.Start(ctx, "u1")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		sub, err := conv.Messages(ctx)
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		waitForSnapshot(t, sub, func(m []domain.Message) bool { return len(m) == 1 })
		sub.Cancel()
		if err := reg.End(ctx, "u1", conv.SessionID()); err != nil {
			t.Fatalf("end: %v", err)
		}
	}

	if reg.Len() != 0 {
		t.Fatalf("expected no open sessions, got %d", reg.Len())
	}
	h.transcript.mu.Lock()
	sealed, stamps := len(h.transcript.sealed), len(h.transcript.lastTS)
	h.transcript.mu.Unlock()
	if sealed != 0 || stamps != 0 {
		t.Fatalf("expected per-session transcript state released, got sealed=%d lastTS=%d", sealed, stamps)
	}
}
