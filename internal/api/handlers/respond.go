// Package handlers provides the HTTP handlers of the draft API.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/api/middleware"
	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/backend"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/domain/invoice"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxdraft/internal/validation"
	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
	"github.com/drfirst/go-rxdraft/pkg/idempotency"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error        string                 `json:"error"`
	Errors       validation.FieldErrors `json:"errors,omitempty"`
	MedicationID string                 `json:"medication_id,omitempty"`
	RetryAfter   int                    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorBody{Error: message})
}

// decode reads a JSON body. Unknown fields are rejected so typos in field
// names surface as 400 instead of silently clearing a value.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

// statusFor maps domain and infrastructure errors to HTTP status codes.
func statusFor(err error) int {
	var cooldown *backend.CooldownError
	switch {
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.As(err, &cooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, draft.ErrDraftNotFound),
		errors.Is(err, draft.ErrMedicationNotFound),
		errors.Is(err, draft.ErrTestNotFound),
		errors.Is(err, draft.ErrSourceNotFound),
		errors.Is(err, postgres.ErrPrescriptionNotFound),
		errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, draft.ErrDraftClosed),
		errors.Is(err, draft.ErrFieldLocked),
		errors.Is(err, draft.ErrDuplicateTest),
		errors.Is(err, idempotency.ErrMessageInProgress),
		errors.Is(err, idempotency.ErrDuplicateMessage):
		return http.StatusConflict
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		return http.StatusGone
	case errors.Is(err, draft.ErrPreviousRowInvalid),
		errors.Is(err, draft.ErrTooManyTimings),
		errors.Is(err, draft.ErrIncompleteDraft),
		errors.Is(err, draft.ErrUnknownVital),
		errors.Is(err, draft.ErrUnknownTab),
		errors.Is(err, draft.ErrNameRequired),
		errors.Is(err, draft.ErrUnknownImportKind),
		errors.Is(err, invoice.ErrInvalidInvoice),
		errors.Is(err, backend.ErrInvalidStatus),
		errors.Is(err, backend.ErrInvalidPhone),
		errors.Is(err, backend.ErrInvalidOTP):
		return http.StatusUnprocessableEntity
	case errors.Is(err, draft.ErrSourceUnavailable),
		errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server errors are logged and
// their detail is kept out of the response.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}

	var rowErr *draft.RowInvalidError
	if errors.As(err, &rowErr) {
		body.MedicationID = rowErr.MedicationID
		body.Errors = rowErr.Errors
	}
	var cooldown *backend.CooldownError
	if errors.As(err, &cooldown) {
		secs := int(cooldown.RetryAfter.Seconds() + 0.5)
		if secs < 1 {
			secs = 1
		}
		body.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="rxdraft"`)
	}
	if code >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if code == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, code, body)
}

// principal returns the authenticated caller. BearerAuth guarantees one on
// every protected route.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
