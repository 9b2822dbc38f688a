package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/backend"
)

// Appointments lists and updates appointments.
type Appointments interface {
	List(ctx context.Context, doctorID, date string, refresh bool) (backend.AppointmentList, error)
	UpdateStatus(ctx context.Context, id string, status backend.AppointmentStatus) (backend.Appointment, error)
}

// AppointmentHandler serves the doctor's appointment list.
type AppointmentHandler struct {
	svc    Appointments
	logger *zap.Logger
	now    func() time.Time
}

// NewAppointmentHandler creates a new handler
func NewAppointmentHandler(svc Appointments, logger *zap.Logger) *AppointmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentHandler{svc: svc, logger: logger, now: time.Now}
}

// Routes returns the handler routes
func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Put("/{id}/status", h.UpdateStatus)
	return r
}

// List handles GET /appointments?date=YYYY-MM-DD[&refresh=true][&doctor_id=].
// Doctors always see their own list; other roles must name a doctor.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = h.now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	refresh, _ := strconv.ParseBool(q.Get("refresh"))

	p := principal(r)
	doctorID := p.DoctorID
	if p.Role != auth.RoleDoctor || doctorID == "" {
		doctorID = q.Get("doctor_id")
	}
	if doctorID == "" {
		jsonError(w, "doctor_id is required", http.StatusBadRequest)
		return
	}

	list, err := h.svc.List(r.Context(), doctorID, date, refresh)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if list.Stale {
		w.Header().Set("Warning", `110 - "Response is stale"`)
	}
	writeJSON(w, http.StatusOK, list)
}

// StatusRequest changes an appointment's status.
type StatusRequest struct {
	Status backend.AppointmentStatus `json:"status"`
}

// UpdateStatus handles PUT /appointments/{id}/status
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	a, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
