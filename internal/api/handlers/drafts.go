package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/api/middleware"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/observability/metrics"
	"github.com/drfirst/go-rxdraft/internal/render"
	"github.com/drfirst/go-rxdraft/internal/validation"
	"github.com/drfirst/go-rxdraft/pkg/idempotency"
)

// Directory looks up doctor and patient records used to prefill a new draft.
type Directory interface {
	Doctor(ctx context.Context, doctorID string) (draft.DoctorInfo, error)
	Patient(ctx context.Context, patientID string) (draft.PatientInfo, error)
}

// MedicineLookup resolves an inventory id to a catalog entry.
type MedicineLookup interface {
	Medicine(ctx context.Context, inventoryID string) (draft.CatalogItem, error)
}

// DraftDeps are the collaborators of DraftHandler. Directory and Metrics
// may be nil.
type DraftDeps struct {
	Store     *draft.Store
	Importer  *draft.Importer
	Renderer  *render.Renderer
	Directory Directory
	Medicines MedicineLookup
	Submitter Submitter
	Inbox     *idempotency.Inbox
	Metrics   *metrics.Metrics
	// VitalsPolicy applies to out-of-range vitals on blur.
	VitalsPolicy draft.InvalidVitalPolicy
}

// DraftHandler serves the prescription wizard.
type DraftHandler struct {
	DraftDeps
	logger *zap.Logger
	tracer trace.Tracer
}

// NewDraftHandler creates a new handler
func NewDraftHandler(deps DraftDeps, logger *zap.Logger) *DraftHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.VitalsPolicy == "" {
		deps.VitalsPolicy = draft.PolicyFlag
	}
	return &DraftHandler{
		DraftDeps: deps,
		logger:    logger,
		tracer:    otel.Tracer("draft-handler"),
	}
}

// Routes returns the handler routes
func (h *DraftHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Put("/sections/{section}", h.UpdateSection)
		r.Put("/vitals/{field}", h.UpdateVital)
		r.Post("/tab", h.Navigate)
		r.Post("/medications", h.AddMedication)
		r.Patch("/medications/{medID}", h.UpdateMedication)
		r.Delete("/medications/{medID}", h.RemoveMedication)
		r.Post("/medications/{medID}/catalog", h.SelectCatalogItem)
		r.Post("/tests", h.AddTest)
		r.Delete("/tests/{name}", h.RemoveTest)
		r.Get("/import/sources", h.ImportSources)
		r.Post("/import", h.Import)
		r.Post("/templates", h.SaveTemplate)
		r.Get("/preview", h.Preview)
		r.Post("/submit", h.Submit)
	})
	return r
}

// draftResponse wraps the draft projection with the result of one edit.
type draftResponse struct {
	Errors     validation.FieldErrors `json:"errors,omitempty"`
	Vital      *draft.VitalResult     `json:"vital,omitempty"`
	Medication *draft.Medication      `json:"medication,omitempty"`
	Import     *draft.ImportResult    `json:"import,omitempty"`
	Draft      draft.View             `json:"draft"`
}

func (h *DraftHandler) activeDrafts() {
	if h.Metrics != nil {
		h.Metrics.DraftsActive.Set(float64(h.Store.Len()))
	}
}

// CreateRequest optionally names the doctor and patient to prefill.
type CreateRequest struct {
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
}

// Create handles POST /drafts
func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_draft")
	defer span.End()

	var req CreateRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			fail(w, r, h.logger, err)
			return
		}
	}
	p := principal(r)
	if req.DoctorID == "" {
		req.DoctorID = p.DoctorID
	}

	v := h.Store.Create(p.UserID)
	span.SetAttributes(attribute.String("draft_id", v.ID))
	if h.Metrics != nil {
		h.Metrics.DraftsCreated.Inc()
	}
	h.activeDrafts()

	if h.Directory != nil {
		v = h.prefill(ctx, p.UserID, v, req)
	}

	h.logger.Info("Draft created",
		zap.String("draft_id", v.ID),
		zap.String("user_id", p.UserID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, http.StatusCreated, draftResponse{Draft: v})
}

// prefill copies directory records into a new draft. Lookup failures leave
// the section blank for the doctor to fill in.
func (h *DraftHandler) prefill(ctx context.Context, owner string, v draft.View, req CreateRequest) draft.View {
	var (
		doctor  *draft.DoctorInfo
		patient *draft.PatientInfo
	)
	if req.DoctorID != "" {
		info, err := h.Directory.Doctor(ctx, req.DoctorID)
		if err != nil {
			h.logger.Warn("Doctor prefill failed", zap.String("doctor_id", req.DoctorID), zap.Error(err))
		} else {
			doctor = &info
		}
	}
	if req.PatientID != "" {
		info, err := h.Directory.Patient(ctx, req.PatientID)
		if err != nil {
			h.logger.Warn("Patient prefill failed", zap.String("patient_id", req.PatientID), zap.Error(err))
		} else {
			patient = &info
		}
	}
	if doctor == nil && patient == nil {
		return v
	}
	nv, err := h.Store.Update(owner, v.ID, func(d *draft.Draft) error {
		if doctor != nil {
			if _, err := d.SetDoctorInfo(*doctor); err != nil {
				return err
			}
		}
		if patient != nil {
			if _, err := d.SetPatientInfo(*patient); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("Prefill failed", zap.String("draft_id", v.ID), zap.Error(err))
		return v
	}
	return nv
}

// Get handles GET /drafts/{id}
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Store.View(principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Draft: v})
}

// Delete handles DELETE /drafts/{id}
func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Discard(principal(r).UserID, chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.activeDrafts()
	w.WriteHeader(http.StatusNoContent)
}

// update runs fn on the caller's draft named in the URL.
func (h *DraftHandler) update(r *http.Request, fn func(d *draft.Draft) error) (draft.View, error) {
	return h.Store.Update(principal(r).UserID, chi.URLParam(r, "id"), fn)
}

// UpdateSection handles PUT /drafts/{id}/sections/{section}. Invalid values
// are stored and reported under "errors".
func (h *DraftHandler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	var (
		errs validation.FieldErrors
		fn   func(d *draft.Draft) error
	)
	switch draft.Section(chi.URLParam(r, "section")) {
	case draft.SectionDoctor:
		var body draft.DoctorInfo
		if err := decode(r, &body); err != nil {
			fail(w, r, h.logger, err)
			return
		}
		fn = func(d *draft.Draft) (err error) {
			errs, err = d.SetDoctorInfo(body)
			return err
		}
	case draft.SectionPatient:
		var body draft.PatientInfo
		if err := decode(r, &body); err != nil {
			fail(w, r, h.logger, err)
			return
		}
		fn = func(d *draft.Draft) (err error) {
			errs, err = d.SetPatientInfo(body)
			return err
		}
	case draft.SectionDiagnosis:
		var body draft.DiagnosisSummary
		if err := decode(r, &body); err != nil {
			fail(w, r, h.logger, err)
			return
		}
		fn = func(d *draft.Draft) (err error) {
			errs, err = d.SetDiagnosisSummary(body)
			return err
		}
	case draft.SectionAdvice:
		var body draft.Advice
		if err := decode(r, &body); err != nil {
			fail(w, r, h.logger, err)
			return
		}
		fn = func(d *draft.Draft) (err error) {
			errs, err = d.SetAdvice(body)
			return err
		}
	default:
		jsonError(w, "unknown section", http.StatusNotFound)
		return
	}

	v, err := h.update(r, fn)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Errors: errs, Draft: v})
}

// VitalRequest is one input event on a vitals field.
type VitalRequest struct {
	Value string           `json:"value"`
	Event draft.VitalEvent `json:"event,omitempty"`
}

// UpdateVital handles PUT /drafts/{id}/vitals/{field}
func (h *DraftHandler) UpdateVital(w http.ResponseWriter, r *http.Request) {
	var req VitalRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	switch req.Event {
	case "":
		req.Event = draft.EventChange
	case draft.EventChange, draft.EventBlur:
	default:
		jsonError(w, "event must be change or blur", http.StatusBadRequest)
		return
	}

	field := draft.VitalField(chi.URLParam(r, "field"))
	var res draft.VitalResult
	v, err := h.update(r, func(d *draft.Draft) (err error) {
		res, err = d.SetVital(field, req.Value, req.Event, h.VitalsPolicy)
		return err
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Vital: &res, Draft: v})
}

// NavigateRequest jumps to Tab or moves one step with Move ("next"/"prev").
type NavigateRequest struct {
	Tab  draft.Tab `json:"tab,omitempty"`
	Move string    `json:"move,omitempty"`
}

// Navigate handles POST /drafts/{id}/tab
func (h *DraftHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var fn func(d *draft.Draft) error
	switch {
	case req.Tab != "" && req.Move != "":
		jsonError(w, "set either tab or move", http.StatusBadRequest)
		return
	case req.Tab != "":
		fn = func(d *draft.Draft) error { return d.GoTo(req.Tab) }
	case req.Move == "next":
		fn = (*draft.Draft).Next
	case req.Move == "prev":
		fn = (*draft.Draft).Prev
	default:
		jsonError(w, "move must be next or prev", http.StatusBadRequest)
		return
	}
	v, err := h.update(r, fn)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Draft: v})
}

// AddMedication handles POST /drafts/{id}/medications. A 422 names the
// incomplete previous row and its errors.
func (h *DraftHandler) AddMedication(w http.ResponseWriter, r *http.Request) {
	var m *draft.Medication
	v, err := h.update(r, func(d *draft.Draft) (err error) {
		m, err = d.AddMedication()
		return err
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse{Medication: m, Draft: v})
}

// UpdateMedication handles PATCH /drafts/{id}/medications/{medID}
func (h *DraftHandler) UpdateMedication(w http.ResponseWriter, r *http.Request) {
	var patch draft.MedicationPatch
	if err := decode(r, &patch); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	medID := chi.URLParam(r, "medID")
	var (
		m    *draft.Medication
		errs validation.FieldErrors
	)
	v, err := h.update(r, func(d *draft.Draft) (err error) {
		m, errs, err = d.UpdateMedication(medID, patch)
		return err
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Errors: errs, Medication: m, Draft: v})
}

// RemoveMedication handles DELETE /drafts/{id}/medications/{medID}
func (h *DraftHandler) RemoveMedication(w http.ResponseWriter, r *http.Request) {
	medID := chi.URLParam(r, "medID")
	v, err := h.update(r, func(d *draft.Draft) error {
		return d.RemoveMedication(medID)
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Draft: v})
}

// CatalogSelection picks an inventory medicine for a row.
type CatalogSelection struct {
	InventoryID string `json:"inventory_id"`
}

// SelectCatalogItem handles POST /drafts/{id}/medications/{medID}/catalog.
// The item is resolved server side so price and dosage come from inventory.
func (h *DraftHandler) SelectCatalogItem(w http.ResponseWriter, r *http.Request) {
	var req CatalogSelection
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if strings.TrimSpace(req.InventoryID) == "" {
		jsonError(w, "inventory_id is required", http.StatusBadRequest)
		return
	}
	item, err := h.Medicines.Medicine(r.Context(), req.InventoryID)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	medID := chi.URLParam(r, "medID")
	var (
		m    *draft.Medication
		errs validation.FieldErrors
	)
	v, err := h.update(r, func(d *draft.Draft) (err error) {
		m, errs, err = d.SelectCatalogItem(medID, item)
		return err
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Errors: errs, Medication: m, Draft: v})
}

// AddTest handles POST /drafts/{id}/tests
func (h *DraftHandler) AddTest(w http.ResponseWriter, r *http.Request) {
	var t draft.SelectedTest
	if err := decode(r, &t); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if errs := validation.Struct(t); !errs.Empty() {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid test", Errors: errs})
		return
	}
	v, err := h.update(r, func(d *draft.Draft) error { return d.AddTest(t) })
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftResponse{Draft: v})
}

// RemoveTest handles DELETE /drafts/{id}/tests/{name}
func (h *DraftHandler) RemoveTest(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		jsonError(w, "invalid test name", http.StatusBadRequest)
		return
	}
	v, err := h.update(r, func(d *draft.Draft) error { return d.RemoveTest(name) })
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{Draft: v})
}

// identity returns the patient and doctor an import is scoped to. The
// caller's doctor id stands in until the doctor tab is filled.
func (h *DraftHandler) identity(r *http.Request) (draft.View, string, string, error) {
	p := principal(r)
	v, err := h.Store.View(p.UserID, chi.URLParam(r, "id"))
	if err != nil {
		return v, "", "", err
	}
	doctorID := v.Prescription.DoctorInfo.DoctorID
	if doctorID == "" {
		doctorID = p.DoctorID
	}
	return v, v.Prescription.PatientInfo.PatientID, doctorID, nil
}

// ImportSources handles GET /drafts/{id}/import/sources?kind=previous|template
func (h *DraftHandler) ImportSources(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "import_sources")
	defer span.End()

	kind := draft.ImportKind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		jsonError(w, "kind must be previous or template", http.StatusBadRequest)
		return
	}
	_, patientID, doctorID, err := h.identity(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if kind == draft.ImportPrevious && patientID == "" {
		jsonError(w, "fill in the patient before importing previous prescriptions", http.StatusUnprocessableEntity)
		return
	}
	list, err := h.Importer.Candidates(ctx, kind, patientID, doctorID)
	if err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []draft.SourcePrescription{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "items": list})
}

// ImportRequest names the prescription to merge into the draft.
type ImportRequest struct {
	Kind     draft.ImportKind `json:"kind"`
	SourceID string           `json:"source_id"`
}

// Import handles POST /drafts/{id}/import
func (h *DraftHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "import_prescription")
	defer span.End()

	var req ImportRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if !req.Kind.Valid() || req.SourceID == "" {
		jsonError(w, "kind and source_id are required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("source_id", req.SourceID))

	_, patientID, doctorID, err := h.identity(r)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	src, err := h.Importer.Find(ctx, req.Kind, patientID, doctorID, req.SourceID)
	if err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, err)
		return
	}

	var res draft.ImportResult
	v, err := h.update(r, func(d *draft.Draft) (err error) {
		res, err = d.Import(src, req.Kind)
		return err
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.Imports.WithLabelValues(string(req.Kind)).Inc()
	}
	h.logger.Info("Prescription imported",
		zap.String("draft_id", v.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("source_id", req.SourceID),
		zap.Int("imported", res.Imported))
	writeJSON(w, http.StatusOK, draftResponse{Import: &res, Draft: v})
}

// TemplateRequest names the template saved from the draft.
type TemplateRequest struct {
	Name string `json:"name"`
}

// SaveTemplate handles POST /drafts/{id}/templates
func (h *DraftHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "save_template")
	defer span.End()

	var req TemplateRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	var tpl draft.SourcePrescription
	if _, err := h.update(r, func(d *draft.Draft) error {
		tpl = d.TemplateFrom(req.Name)
		return nil
	}); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if tpl.DoctorID == "" {
		tpl.DoctorID = principal(r).DoctorID
	}
	if tpl.DoctorID == "" {
		jsonError(w, "fill in the doctor before saving a template", http.StatusUnprocessableEntity)
		return
	}
	if err := h.Importer.SaveTemplate(ctx, tpl); err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": tpl.Name, "doctor_id": tpl.DoctorID})
}

// Preview handles GET /drafts/{id}/preview and returns the print page.
func (h *DraftHandler) Preview(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "preview_draft")
	defer span.End()

	v, err := h.Store.View(principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := h.Renderer.Prescription(&buf, v.Prescription); err != nil {
		span.RecordError(err)
		fail(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", render.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
