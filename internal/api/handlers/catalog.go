package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/backend"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
)

// Catalog searches the clinic inventory.
type Catalog interface {
	SearchMedicines(ctx context.Context, q string) ([]draft.CatalogItem, error)
	SearchTests(ctx context.Context, q string) ([]backend.LabTest, error)
}

// minQueryLen keeps single keystrokes from hitting the inventory.
const minQueryLen = 2

// CatalogHandler serves inventory search for the medication and test pickers.
type CatalogHandler struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a new handler
func NewCatalogHandler(c Catalog, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{catalog: c, logger: logger}
}

// Routes returns the handler routes
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/medicines", h.Medicines)
	r.Get("/tests", h.Tests)
	return r
}

// Medicines handles GET /catalog/medicines?q=
func (h *CatalogHandler) Medicines(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < minQueryLen {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []draft.CatalogItem{}})
		return
	}
	items, err := h.catalog.SearchMedicines(r.Context(), q)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []draft.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// Tests handles GET /catalog/tests?q=
func (h *CatalogHandler) Tests(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < minQueryLen {
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []backend.LabTest{}})
		return
	}
	items, err := h.catalog.SearchTests(r.Context(), q)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []backend.LabTest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
