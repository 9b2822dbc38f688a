package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/cache"
)

// AppointmentStatus is the visit state shown on the doctor's list.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCheckedIn AppointmentStatus = "checked_in"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

var ErrInvalidStatus = errors.New("invalid appointment status")

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentCheckedIn, AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// Appointment is one booked visit.
type Appointment struct {
	ID          string            `json:"id"`
	DoctorID    string            `json:"doctor_id"`
	PatientID   string            `json:"patient_id"`
	PatientName string            `json:"patient_name"`
	Phone       string            `json:"phone,omitempty"`
	Time        time.Time         `json:"time"`
	Reason      string            `json:"reason,omitempty"`
	Status      AppointmentStatus `json:"status"`
}

// Appointments lists the doctor's appointments on date (YYYY-MM-DD).
func (c *Client) Appointments(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	var resp envelope[[]Appointment]
	q := url.Values{"doctor_id": {doctorID}, "date": {date}}
	if err := c.do(ctx, "GET", "/appointments", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return resp.Data, nil
}

// SetAppointmentStatus changes one appointment's status.
func (c *Client) SetAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (Appointment, error) {
	var resp envelope[Appointment]
	body := map[string]AppointmentStatus{"status": status}
	if err := c.do(ctx, "PATCH", "/appointments/"+url.PathEscape(id), nil, body, &resp); err != nil {
		return Appointment{}, fmt.Errorf("update appointment: %w", err)
	}
	return resp.Data, nil
}

// AppointmentAPI is the part of the client the appointment service needs.
type AppointmentAPI interface {
	Appointments(ctx context.Context, doctorID, date string) ([]Appointment, error)
	SetAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (Appointment, error)
}

// AppointmentCacheConfig bounds how long a cached list is served.
type AppointmentCacheConfig struct {
	// Fresh lists are served without calling the backend.
	Fresh time.Duration
	// MaxStale is the oldest list served when the backend fails.
	MaxStale time.Duration
}

// DefaultAppointmentCacheConfig returns sensible defaults
func DefaultAppointmentCacheConfig() AppointmentCacheConfig {
	return AppointmentCacheConfig{Fresh: 30 * time.Second, MaxStale: 12 * time.Hour}
}

// AppointmentList is the result of List.
type AppointmentList struct {
	Items     []Appointment `json:"items"`
	FetchedAt time.Time     `json:"fetched_at"`
	// Stale is set when the backend failed and a cached snapshot was served.
	Stale bool `json:"stale"`
}

// AppointmentService reads appointments through a cache-aside snapshot so
// the list survives backend outages.
type AppointmentService struct {
	api    AppointmentAPI
	cache  cache.Cache
	config AppointmentCacheConfig
	logger *zap.Logger
	now    func() time.Time

	// OnStale is called when a stale snapshot is served.
	OnStale func()
}

// NewAppointmentService creates the service
func NewAppointmentService(api AppointmentAPI, c cache.Cache, cfg AppointmentCacheConfig, logger *zap.Logger) *AppointmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAppointmentCacheConfig()
	if cfg.Fresh < 0 {
		cfg.Fresh = 0
	}
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = def.MaxStale
	}
	return &AppointmentService{api: api, cache: c, config: cfg, logger: logger, now: time.Now}
}

func appointmentKey(doctorID, date string) string {
	return "appointments:" + doctorID + ":" + date
}

// List returns the doctor's appointments for date. A fresh snapshot is
// served from cache unless refresh is set. Otherwise the backend is called
// and the snapshot rewritten; if that fails, a snapshot younger than
// MaxStale is served with Stale set.
func (s *AppointmentService) List(ctx context.Context, doctorID, date string, refresh bool) (AppointmentList, error) {
	key := appointmentKey(doctorID, date)
	var cached AppointmentList
	hit, cerr := s.cache.Get(ctx, key, &cached)
	if cerr != nil {
		s.logger.Warn("Appointment cache read failed", zap.String("key", key), zap.Error(cerr))
		hit = false
	}
	age := s.now().Sub(cached.FetchedAt)
	if hit && !refresh && age < s.config.Fresh {
		return cached, nil
	}

	items, err := s.api.Appointments(ctx, doctorID, date)
	if err == nil {
		list := AppointmentList{Items: items, FetchedAt: s.now().UTC()}
		if list.Items == nil {
			list.Items = []Appointment{}
		}
		if werr := s.cache.Set(ctx, key, list, s.config.MaxStale); werr != nil {
			s.logger.Warn("Appointment cache write failed", zap.String("key", key), zap.Error(werr))
		}
		return list, nil
	}

	if errors.Is(err, ErrUnauthorized) || !hit || age > s.config.MaxStale {
		return AppointmentList{}, err
	}
	s.logger.Warn("Serving stale appointments",
		zap.String("doctor_id", doctorID),
		zap.String("date", date),
		zap.Duration("age", age),
		zap.Error(err))
	if s.OnStale != nil {
		s.OnStale()
	}
	cached.Stale = true
	return cached, nil
}

// Invalidate drops the cached snapshot for the doctor and date.
func (s *AppointmentService) Invalidate(ctx context.Context, doctorID, date string) error {
	return s.cache.Delete(ctx, appointmentKey(doctorID, date))
}

// UpdateStatus changes an appointment's status and drops the snapshot it
// belongs to.
func (s *AppointmentService) UpdateStatus(ctx context.Context, id string, status AppointmentStatus) (Appointment, error) {
	if !status.Valid() {
		return Appointment{}, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	a, err := s.api.SetAppointmentStatus(ctx, id, status)
	if err != nil {
		return Appointment{}, err
	}
	if err := s.Invalidate(ctx, a.DoctorID, a.Time.Format("2006-01-02")); err != nil {
		s.logger.Warn("Appointment cache invalidate failed", zap.Error(err))
	}
	return a, nil
}
