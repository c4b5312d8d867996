package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
	"apoyo-citas/internal/service"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	id, ok := m.usersByEmail[email]
	m.mu.Unlock()
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

type mockAppointmentRepo struct {
	mu    sync.Mutex
	items map[string]domain.Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[string]domain.Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, appt domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[appt.ID] = appt
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id string) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.items[id]
	if !ok {
		return domain.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (m *mockAppointmentRepo) List(_ context.Context, userID, status string) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Appointment{}
	for _, appt := range m.items {
		if userID != "" && appt.UserID != userID {
			continue
		}
		if status != "" && appt.Status != status {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockAppointmentRepo) UpdatePending(_ context.Context, appt domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[appt.ID]
	if !ok || current.UserID != appt.UserID || current.Status != domain.AppointmentPending {
		return repository.ErrNotPending
	}
	m.items[appt.ID] = appt
	return nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id, status string, updatedAt time.Time) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.items[id]
	if !ok {
		return domain.Appointment{}, pgx.ErrNoRows
	}
	appt.Status = status
	appt.UpdatedAt = updatedAt
	m.items[id] = appt
	return appt, nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []domain.Appointment
}

func (m *mockEmailSender) SendAppointmentStatus(_ context.Context, _ string, appt domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, appt)
	return nil
}

type testServer struct {
	router     *gin.Engine
	jwt        *service.JWTService
	users      *mockUserRepo
	appts      *mockAppointmentRepo
	email      *mockEmailSender
	registry   *service.ConversationRegistry
	transcript *service.TranscriptService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	jwtSvc := newTestJWTService()
	users := newMockUserRepo()
	appts := newMockAppointmentRepo()
	sender := &mockEmailSender{}
	feed := realtime.NewFeed()
	kv := service.NewMemoryKVStore()
	prefs := service.NewPreferencesService(kv)

	userSvc := service.NewUserService(logger, users, nil, []string{"admin@uni.edu"})
	apptSvc := service.NewAppointmentService(logger, appts, feed, sender)
	transcript := service.NewTranscriptService(logger, repository.NewMemoryMessageRepository(), feed)
	dialogue := service.NewDialogueService(logger, transcript, kv, prefs, nil, service.DefaultDialogueOptions())
	registry := service.NewConversationRegistry(logger, dialogue, nil)
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	router := NewRouter(
		logger,
		jwtSvc,
		NewUserHandler(logger, userSvc, jwtSvc),
		NewAppointmentHandler(logger, apptSvc),
		NewChatHandler(logger, registry, prefs),
	)
	return &testServer{
		router:     router,
		jwt:        jwtSvc,
		users:      users,
		appts:      appts,
		email:      sender,
		registry:   registry,
		transcript: transcript,
	}
}

// do ejecuta un request; token vacío omite el header Authorization.
func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) tokenFor(t *testing.T, user domain.User) string {
	t.Helper()
	if err := s.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return accessTokenFor(t, s.jwt, user)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected content type header")
	}
}
