package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drfirst/go-rxdraft/internal/cache"
)

type fakeAppointments struct {
	items   []Appointment
	err     error
	calls   int
	updated Appointment
}

func (f *fakeAppointments) Appointments(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	f.calls++
	return f.items, f.err
}

func (f *fakeAppointments) SetAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (Appointment, error) {
	f.updated.Status = status
	return f.updated, f.err
}

func TestAppointmentListCacheAside(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	api := &fakeAppointments{items: []Appointment{{ID: "a1", DoctorID: "d1"}}}
	svc := NewAppointmentService(api, cache.NewMemory(), AppointmentCacheConfig{Fresh: time.Minute, MaxStale: time.Hour}, nil)
	svc.now = func() time.Time { return now }

	list, err := svc.List(ctx, "d1", "2026-10-19", false)
	if err != nil || len(list.Items) != 1 || list.Stale {
		t.Fatalf("live fetch: %+v %v", list, err)
	}

	// Fresh snapshot served without a backend call.
	if _, err := svc.List(ctx, "d1", "2026-10-19", false); err != nil || api.calls != 1 {
		t.Errorf("expected cached read, calls=%d err=%v", api.calls, err)
	}
	// Refresh bypasses the fresh snapshot.
	if _, err := svc.List(ctx, "d1", "2026-10-19", true); err != nil || api.calls != 2 {
		t.Errorf("expected refresh to call backend, calls=%d err=%v", api.calls, err)
	}
}

func TestAppointmentListServesStaleOnFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	api := &fakeAppointments{items: []Appointment{{ID: "a1"}}}
	svc := NewAppointmentService(api, cache.NewMemory(), AppointmentCacheConfig{Fresh: time.Minute, MaxStale: time.Hour}, nil)
	svc.now = func() time.Time { return now }
	stale := 0
	svc.OnStale = func() { stale++ }

	if _, err := svc.List(ctx, "d1", "2026-10-19", false); err != nil {
		t.Fatal(err)
	}

	api.err = ErrUnavailable
	now = now.Add(10 * time.Minute)
	list, err := svc.List(ctx, "d1", "2026-10-19", false)
	if err != nil || !list.Stale || len(list.Items) != 1 || stale != 1 {
		t.Fatalf("expected stale snapshot, got %+v %v", list, err)
	}

	api.err = ErrUnauthorized
	if _, err := svc.List(ctx, "d1", "2026-10-19", false); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unauthorized must not be masked by the cache, got %v", err)
	}

	api.err = ErrUnavailable
	if _, err := svc.List(ctx, "d2", "2026-10-19", false); !errors.Is(err, ErrUnavailable) {
		t.Errorf("no snapshot should surface the error, got %v", err)
	}
}

func TestAppointmentUpdateStatusInvalidates(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	at := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	api := &fakeAppointments{items: []Appointment{{ID: "a1"}}, updated: Appointment{ID: "a1", DoctorID: "d1", Time: at}}
	svc := NewAppointmentService(api, c, AppointmentCacheConfig{Fresh: time.Hour, MaxStale: time.Hour}, nil)

	if _, err := svc.List(ctx, "d1", "2026-10-19", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, "a1", AppointmentCompleted); err != nil {
		t.Fatal(err)
	}
	var got AppointmentList
	if ok, _ := c.Get(ctx, appointmentKey("d1", "2026-10-19"), &got); ok {
		t.Error("status change should drop the snapshot")
	}
	if _, err := svc.UpdateStatus(ctx, "a1", "lost"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
