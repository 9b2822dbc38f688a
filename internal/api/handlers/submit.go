package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/api/middleware"
	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxdraft/pkg/idempotency"
)

// IdempotencyHeader lets clients name a submission attempt.
const IdempotencyHeader = "Idempotency-Key"

const submitHandlerName = "draft.submit"

// Submitter stores submitted prescriptions.
type Submitter interface {
	Submit(ctx context.Context, d *draft.Draft, userID string) (postgres.Receipt, error)
	Get(ctx context.Context, id string) (*postgres.Submitted, error)
}

// SubmitResponse is returned for a stored submission.
type SubmitResponse struct {
	postgres.Receipt
	IdempotencyKey string `json:"idempotency_key"`
	Replayed       bool   `json:"replayed"`
}

// Submit handles POST /drafts/{id}/submit. The draft and its outbox event
// are stored in one transaction and the draft is closed. A retried request
// with the same key gets the first receipt back.
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "submit_draft")
	defer span.End()
	start := time.Now()

	p := principal(r)
	id := chi.URLParam(r, "id")
	clientKey, key := submissionKey(r.Header.Get(IdempotencyHeader), p.UserID, id, start)
	span.SetAttributes(
		attribute.String("draft_id", id),
		attribute.String("idempotency_key", key))

	if cached, err := h.Inbox.Lookup(ctx, key); err != nil {
		h.observeSubmit("error", start)
		fail(w, r, h.logger, err)
		return
	} else if cached != nil {
		h.replay(w, r, clientKey, cached, start)
		return
	}

	payload, _ := json.Marshal(map[string]string{"draft_id": id, "user_id": p.UserID})
	res, err := h.Inbox.Process(ctx, key, submitHandlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		var receipt postgres.Receipt
		err := h.Store.Submit(p.UserID, id, func(d *draft.Draft) error {
			var err error
			receipt, err = h.Submitter.Submit(ctx, d, p.UserID)
			return err
		})
		if errors.Is(err, draft.ErrDraftNotFound) {
			// Draft ids are never reused.
			return nil, idempotency.Terminal(err)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(receipt)
	})
	if err != nil {
		span.RecordError(err)
		outcome := "error"
		if errors.Is(err, draft.ErrIncompleteDraft) {
			outcome = "incomplete"
		}
		h.observeSubmit(outcome, start)
		fail(w, r, h.logger, err)
		return
	}
	if !res.IsNew && !res.WasRecovered {
		h.replay(w, r, clientKey, res.Result, start)
		return
	}

	var receipt postgres.Receipt
	if err := json.Unmarshal(res.Result, &receipt); err != nil {
		h.observeSubmit("error", start)
		fail(w, r, h.logger, err)
		return
	}
	h.observeSubmit("submitted", start)
	h.activeDrafts()

	h.logger.Info("Prescription submitted",
		zap.String("draft_id", id),
		zap.String("prescription_id", receipt.PrescriptionID),
		zap.String("user_id", p.UserID),
		zap.Bool("recovered", res.WasRecovered),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	w.Header().Set(IdempotencyHeader, clientKey)
	writeJSON(w, http.StatusCreated, SubmitResponse{Receipt: receipt, IdempotencyKey: clientKey})
}

// submissionKey returns the key echoed to the client and the inbox key.
// A client key is only meaningful for one user and one draft, so the inbox
// key is scoped to both. Without a client key, attempts within the same
// minute share a key.
func submissionKey(header, userID, draftID string, now time.Time) (string, string) {
	if header == "" {
		key := idempotency.GenerateKey(userID, draftID, "submit", now)
		return key, key
	}
	return header, idempotency.GenerateKey(userID, draftID, "submit:"+header, time.Time{})
}

func (h *DraftHandler) replay(w http.ResponseWriter, r *http.Request, key string, result json.RawMessage, start time.Time) {
	var receipt postgres.Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		h.observeSubmit("error", start)
		fail(w, r, h.logger, err)
		return
	}
	h.observeSubmit("replayed", start)
	h.logger.Info("Submission replayed",
		zap.String("idempotency_key", key),
		zap.String("prescription_id", receipt.PrescriptionID))
	w.Header().Set(IdempotencyHeader, key)
	writeJSON(w, http.StatusOK, SubmitResponse{Receipt: receipt, IdempotencyKey: key, Replayed: true})
}

func (h *DraftHandler) observeSubmit(outcome string, start time.Time) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.Submissions.WithLabelValues(outcome).Inc()
	h.Metrics.SubmitDuration.Observe(time.Since(start).Seconds())
}

// PrescriptionHandler serves submitted prescriptions.
type PrescriptionHandler struct {
	store  Submitter
	logger *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(store Submitter, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{store: store, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.Get)
	return r
}

// Get handles GET /prescriptions/{id}. Doctors see their own prescriptions,
// other users the ones they submitted; admins see all.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rx, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	p := principal(r)
	allowed := p.Role == auth.RoleAdmin ||
		rx.SubmittedBy == p.UserID ||
		(p.DoctorID != "" && rx.DoctorID == p.DoctorID)
	if !allowed {
		fail(w, r, h.logger, postgres.ErrPrescriptionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rx)
}
