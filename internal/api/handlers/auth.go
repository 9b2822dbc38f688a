package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/backend"
	"github.com/drfirst/go-rxdraft/internal/observability/metrics"
)

// OTP sends and verifies login codes.
type OTP interface {
	Send(ctx context.Context, phone string) (time.Duration, error)
	Verify(ctx context.Context, phone, code string) (backend.Session, error)
}

// AuthHandler serves OTP login. Its routes are public.
type AuthHandler struct {
	otp     OTP
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAuthHandler creates a new handler. m may be nil.
func NewAuthHandler(otp OTP, m *metrics.Metrics, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{otp: otp, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/otp", h.SendOTP)
	r.Post("/otp/verify", h.VerifyOTP)
	return r
}

// OTPRequest asks for a login code.
type OTPRequest struct {
	Phone string `json:"phone"`
}

// SendOTP handles POST /auth/otp. A resend inside the cooldown is a 429
// carrying retry_after in seconds.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	cooldown, err := h.otp.Send(r.Context(), req.Phone)
	if err != nil {
		var cd *backend.CooldownError
		outcome := "error"
		if errors.As(err, &cd) {
			outcome = "cooldown"
		}
		h.observe(outcome)
		fail(w, r, h.logger, err)
		return
	}
	h.observe("sent")
	writeJSON(w, http.StatusAccepted, map[string]int{"retry_after": int(cooldown / time.Second)})
}

// VerifyRequest submits a login code.
type VerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyOTP handles POST /auth/otp/verify and returns the backend session.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	sess, err := h.otp.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.logger.Info("User logged in", zap.String("user_id", sess.UserID), zap.String("role", sess.Role))
	writeJSON(w, http.StatusOK, sess)
}

func (h *AuthHandler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.OTPSends.WithLabelValues(outcome).Inc()
	}
}
