package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
)

type mockAppointmentRepo struct {
	mu    sync.Mutex
	items map[string]domain.Appointment
	// afterGet corre una vez tras la próxima lectura, fuera del lock.
	afterGet func()
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
	appt, ok := m.items[id]
	hook := m.afterGet
	m.afterGet = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return domain.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (m *mockAppointmentRepo) List(_ context.Context, userID, status string) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Appointment{}
	for _, a := range m.items {
		if (userID == "" || a.UserID == userID) && (status == "" || a.Status == status) {
			out = append(out, a)
		}
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
	sent []domain.Appointment
	err  error
}

func (m *mockEmailSender) SendAppointmentStatus(_ context.Context, _ string, appt domain.Appointment) error {
	m.sent = append(m.sent, appt)
	return m.err
}

var (
	testStudent      = domain.User{ID: "u1", Email: "ana@uni.example", Role: domain.RoleStudent}
	testOtherStudent = domain.User{ID: "u2", Email: "beto@uni.example", Role: domain.RoleStudent}
)

func newTestAppointments() (*AppointmentService, *mockEmailSender) {
	sender := &mockEmailSender{}
	return NewAppointmentService(zap.NewNop(), newMockAppointmentRepo(), realtime.NewFeed(), sender), sender
}

func TestAppointmentServiceStudentFlow(t *testing.T) {
	svc, _ := newTestAppointments()
	ctx := context.Background()
	date := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: " ", Date: date}); !errors.Is(err, ErrAppointmentInvalid) {
		t.Fatalf("expected ErrAppointmentInvalid for blank reason, got %v", err)
	}
	if _, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "ansiedad"}); !errors.Is(err, ErrAppointmentInvalid) {
		t.Fatalf("expected ErrAppointmentInvalid for missing date, got %v", err)
	}

	later, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "seguimiento", Date: date.Add(48 * time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "ansiedad", Date: date})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != domain.AppointmentPending || first.UserEmail != testStudent.Email {
		t.Fatalf("unexpected appointment %+v", first)
	}

	mine, err := svc.ListMine(ctx, testStudent.ID)
	if err != nil || len(mine) != 2 || mine[0].ID != first.ID || mine[1].ID != later.ID {
		t.Fatalf("expected own appointments ordered by date, got %+v (%v)", mine, err)
	}

	updated, err := svc.Update(ctx, testStudent.ID, first.ID, AppointmentInput{Reason: "estrés", Date: date.Add(time.Hour)})
	if err != nil || updated.Reason != "estrés" {
		t.Fatalf("update: %+v %v", updated, err)
	}

	if _, err := svc.Update(ctx, testOtherStudent.ID, first.ID, AppointmentInput{Reason: "x", Date: date}); !errors.Is(err, ErrAppointmentForbidden) {
		t.Fatalf("expected ErrAppointmentForbidden, got %v", err)
	}

	cancelled, err := svc.Cancel(ctx, testStudent.ID, first.ID)
	if err != nil || cancelled.Status != domain.AppointmentCancelled {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}
	if _, err := svc.Update(ctx, testStudent.ID, first.ID, AppointmentInput{Reason: "x", Date: date}); !errors.Is(err, ErrAppointmentNotPending) {
		t.Fatalf("expected ErrAppointmentNotPending, got %v", err)
	}

	if err := svc.Delete(ctx, testOtherStudent.ID, later.ID); !errors.Is(err, ErrAppointmentForbidden) {
		t.Fatalf("expected ErrAppointmentForbidden on delete, got %v", err)
	}
	if err := svc.Delete(ctx, testStudent.ID, later.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, testStudent.ID, later.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestAppointmentServiceAdminFlow(t *testing.T) {
	svc, sender := newTestAppointments()
	ctx := context.Background()
	date := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	a, _ := svc.Create(ctx, testStudent, AppointmentInput{Reason: "ansiedad", Date: date})
	b, _ := svc.Create(ctx, testOtherStudent, AppointmentInput{Reason: "tristeza", Date: date.Add(time.Hour)})

	if _, err := svc.SetStatus(ctx, a.ID, "archived"); !errors.Is(err, ErrAppointmentInvalid) {
		t.Fatalf("expected ErrAppointmentInvalid, got %v", err)
	}
	accepted, err := svc.SetStatus(ctx, a.ID, "Accepted")
	if err != nil || accepted.Status != domain.AppointmentAccepted {
		t.Fatalf("set status: %+v %v", accepted, err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ID != a.ID {
		t.Fatalf("expected one status email, got %+v", sender.sent)
	}

	sender.err = errors.New("smtp down")
	if _, err := svc.SetStatus(ctx, b.ID, domain.AppointmentCancelled); err != nil {
		t.Fatalf("email failures must not fail the status change, got %v", err)
	}

	all, _ := svc.ListAll(ctx, "all")
	if len(all) != 2 {
		t.Fatalf("expected 2 appointments, got %d", len(all))
	}
	pending, _ := svc.ListAll(ctx, domain.AppointmentPending)
	if len(pending) != 0 {
		t.Fatalf("expected no pending appointments, got %d", len(pending))
	}
	if _, err := svc.ListAll(ctx, "bogus"); !errors.Is(err, ErrAppointmentInvalid) {
		t.Fatalf("expected ErrAppointmentInvalid for bad filter, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "missing", domain.AppointmentAccepted); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestAppointmentServiceWatch(t *testing.T) {
	svc, _ := newTestAppointments()
	ctx := context.Background()
	date := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	sub, err := svc.Watch(ctx, testStudent.ID, "")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	next := func(want int) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case items := <-sub.C:
				if len(items) == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %d appointments", want)
			}
		}
	}
	next(0)
	if _, err := svc.Create(ctx, testOtherStudent, AppointmentInput{Reason: "otro", Date: date}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "mía", Date: date}); err != nil {
		t.Fatalf("create: %v", err)
	}
	next(1)
}

func TestAppointmentServiceStudentEditLosesToAdminDecision(t *testing.T) {
	repo := newMockAppointmentRepo()
	sender := &mockEmailSender{}
	svc := NewAppointmentService(zap.NewNop(), repo, realtime.NewFeed(), sender)
	ctx := context.Background()
	date := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	appt, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "ansiedad", Date: date})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// El admin acepta la cita entre la lectura y la escritura del estudiante.
	repo.afterGet = func() {
		if _, err := svc.SetStatus(ctx, appt.ID, domain.AppointmentAccepted); err != nil {
			t.Errorf("set status: %v", err)
		}
	}
	if _, err := svc.Update(ctx, testStudent.ID, appt.ID, AppointmentInput{Reason: "otra cosa", Date: date}); !errors.Is(err, ErrAppointmentNotPending) {
		t.Fatalf("expected ErrAppointmentNotPending, got %v", err)
	}

	stored, err := repo.GetByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.AppointmentAccepted || stored.Reason != "ansiedad" {
		t.Fatalf("admin decision must survive, got %+v", stored)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one status email, got %d", len(sender.sent))
	}

	if _, err := svc.Cancel(ctx, testStudent.ID, appt.ID); !errors.Is(err, ErrAppointmentNotPending) {
		t.Fatalf("expected ErrAppointmentNotPending for accepted appointment, got %v", err)
	}
}

func TestAppointmentServiceCancelRacingDelete(t *testing.T) {
	repo := newMockAppointmentRepo()
	svc := NewAppointmentService(zap.NewNop(), repo, realtime.NewFeed(), nil)
	ctx := context.Background()

	appt, err := svc.Create(ctx, testStudent, AppointmentInput{Reason: "estrés", Date: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.afterGet = func() {
		_ = repo.Delete(ctx, appt.ID)
	}
	if _, err := svc.Cancel(ctx, testStudent.ID, appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}
