package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/domain/invoice"
	"github.com/drfirst/go-rxdraft/internal/render"
)

// InvoiceHandler prints invoices.
type InvoiceHandler struct {
	renderer *render.Renderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceHandler creates a new handler
func NewInvoiceHandler(renderer *render.Renderer, logger *zap.Logger) *InvoiceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceHandler{renderer: renderer, logger: logger, now: time.Now}
}

// Routes returns the handler routes
func (h *InvoiceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/print", h.Print)
	return r
}

// Print handles POST /invoices/print. Invalid invoices get a 422 with field
// errors; valid ones come back as the print page.
func (h *InvoiceHandler) Print(w http.ResponseWriter, r *http.Request) {
	var inv invoice.Invoice
	if err := decode(r, &inv); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if errs := inv.Validate(); !errs.Empty() {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: invoice.ErrInvalidInvoice.Error(), Errors: errs})
		return
	}
	if err := inv.Prepare(h.now()); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := h.renderer.Invoice(&buf, inv); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", render.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
