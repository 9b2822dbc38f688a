package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/cache"
)

var (
	ErrInvalidPhone = errors.New("invalid phone number")
	ErrInvalidOTP   = errors.New("invalid or expired otp")
)

// CooldownError is returned while a phone must wait before another OTP.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp recently sent, retry in %ds", int(e.RetryAfter.Round(time.Second)/time.Second))
}

// Session is the result of a successful OTP login.
type Session struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	DoctorID string `json:"doctor_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// SendOTP asks the backend to text a login code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	if err := c.do(ctx, "POST", "/auth/otp", nil, map[string]string{"phone": phone}, nil); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// VerifyOTP exchanges a code for a session.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (Session, error) {
	var resp envelope[Session]
	body := map[string]string{"phone": phone, "otp": code}
	if err := c.do(ctx, "POST", "/auth/otp/verify", nil, body, &resp); err != nil {
		return Session{}, fmt.Errorf("verify otp: %w", err)
	}
	return resp.Data, nil
}

// OTPAPI is the part of the client the OTP service needs.
type OTPAPI interface {
	SendOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (Session, error)
}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	otpPattern   = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// DefaultOTPCooldown is the wait between two codes to the same phone.
const DefaultOTPCooldown = 30 * time.Second

// OTPService enforces the resend cooldown in front of the backend.
type OTPService struct {
	api      OTPAPI
	cache    cache.Cache
	cooldown time.Duration
	logger   *zap.Logger
}

// NewOTPService creates the service
func NewOTPService(api OTPAPI, c cache.Cache, cooldown time.Duration, logger *zap.Logger) *OTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = DefaultOTPCooldown
	}
	return &OTPService{api: api, cache: c, cooldown: cooldown, logger: logger}
}

func normalizePhone(phone string) (string, error) {
	phone = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

func cooldownKey(phone string) string { return "otp:cooldown:" + phone }

// Send requests a code for phone. A second request inside the cooldown gets
// a *CooldownError. The cooldown is released when the backend call fails so
// the user can retry at once. A cache failure skips the cooldown.
func (s *OTPService) Send(ctx context.Context, phone string) (time.Duration, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return 0, err
	}
	key := cooldownKey(phone)
	ok, err := s.cache.SetNX(ctx, key, time.Now().UTC(), s.cooldown)
	if err != nil {
		// Without the cache the backend's own throttling is the only limit.
		s.logger.Warn("otp cooldown unavailable, sending anyway", zap.Error(err))
		ok = true
	}
	if !ok {
		left, err := s.cache.TTL(ctx, key)
		if err != nil || left <= 0 {
			left = s.cooldown
		}
		return 0, &CooldownError{RetryAfter: left}
	}
	if err := s.api.SendOTP(ctx, phone); err != nil {
		if derr := s.cache.Delete(ctx, key); derr != nil {
			s.logger.Warn("Failed to release otp cooldown", zap.Error(derr))
		}
		return 0, err
	}
	return s.cooldown, nil
}

// Verify checks the code with the backend.
func (s *OTPService) Verify(ctx context.Context, phone, code string) (Session, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return Session{}, err
	}
	if !otpPattern.MatchString(strings.TrimSpace(code)) {
		return Session{}, ErrInvalidOTP
	}
	sess, err := s.api.VerifyOTP(ctx, phone, strings.TrimSpace(code))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidOTP, err)
		}
		return Session{}, err
	}
	if err := s.cache.Delete(ctx, cooldownKey(phone)); err != nil {
		s.logger.Warn("Failed to clear otp cooldown", zap.Error(err))
	}
	return sess, nil
}
