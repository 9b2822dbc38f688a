package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/drfirst/go-rxdraft/internal/auth"
	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxdraft/internal/render"
	"github.com/drfirst/go-rxdraft/internal/validation"
	"github.com/drfirst/go-rxdraft/pkg/idempotency"
)

var testUser = auth.Principal{UserID: "u1", Role: auth.RoleDoctor, DoctorID: "d1"}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
	saved map[string]*postgres.Submitted
}

func (f *fakeSubmitter) Submit(ctx context.Context, d *draft.Draft, userID string) (postgres.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return postgres.Receipt{}, f.err
	}
	rx := d.Prescription()
	id := "rx-" + d.ID()
	if f.saved == nil {
		f.saved = make(map[string]*postgres.Submitted)
	}
	f.saved[id] = &postgres.Submitted{
		ID:           id,
		DraftID:      d.ID(),
		DoctorID:     rx.DoctorInfo.DoctorID,
		PatientID:    rx.PatientInfo.PatientID,
		SubmittedBy:  userID,
		Prescription: rx,
	}
	return postgres.Receipt{PrescriptionID: id, EventID: "ev-" + d.ID(), SubmittedAt: time.Now().UTC()}, nil
}

func (f *fakeSubmitter) Get(ctx context.Context, id string) (*postgres.Submitted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.saved[id]; ok {
		return s, nil
	}
	return nil, postgres.ErrPrescriptionNotFound
}

type fakeSource struct {
	templates []draft.SourcePrescription
	saved     []draft.SourcePrescription
	err       error
}

func (f *fakeSource) PreviousPrescriptions(ctx context.Context, patientID, doctorID string) ([]draft.SourcePrescription, error) {
	return nil, f.err
}

func (f *fakeSource) Templates(ctx context.Context, doctorID string) ([]draft.SourcePrescription, error) {
	return f.templates, f.err
}

func (f *fakeSource) SaveTemplate(ctx context.Context, t draft.SourcePrescription) error {
	f.saved = append(f.saved, t)
	return nil
}

type fakeMedicines map[string]draft.CatalogItem

func (f fakeMedicines) Medicine(ctx context.Context, id string) (draft.CatalogItem, error) {
	if item, ok := f[id]; ok {
		return item, nil
	}
	return draft.CatalogItem{}, errors.New("backend: not found")
}

type testEnv struct {
	handler   http.Handler
	store     *draft.Store
	submitter *fakeSubmitter
	source    *fakeSource
}

func newTestEnv(t *testing.T, policy draft.InvalidVitalPolicy) *testEnv {
	t.Helper()
	renderer, err := render.New(render.Config{})
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	env := &testEnv{
		store:     draft.NewStore(draft.StoreConfig{}, nil),
		submitter: &fakeSubmitter{},
		source: &fakeSource{templates: []draft.SourcePrescription{{
			ID:       "t1",
			Name:     "Fever",
			DoctorID: "d1",
			Medications: []draft.SourceMedication{{
				MedName:      "Paracetamol",
				Dosage:       "500mg",
				MedicineType: draft.TypeTablet,
				Duration:     3,
				Frequency:    "1-0-1",
				Timings:      []draft.Timing{draft.TimingAfterBreakfast, draft.TimingAfterDinner},
				Quantity:     6,
			}},
		}}},
	}
	h := NewDraftHandler(DraftDeps{
		Store:        env.store,
		Importer:     draft.NewImporter(env.source, nil),
		Renderer:     renderer,
		Medicines:    fakeMedicines{"inv-1": {InventoryID: "inv-1", Name: "Amoxicillin", Dosage: "250mg", MedicineType: draft.TypeCapsule, Price: 4.5}},
		Submitter:    env.submitter,
		Inbox:        idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.InboxConfig{}, nil),
		VitalsPolicy: policy,
	}, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), testUser)))
		})
	})
	r.Mount("/drafts", h.Routes())
	r.Mount("/prescriptions", NewPrescriptionHandler(env.submitter, nil).Routes())
	env.handler = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type testResponse struct {
	Error        string                 `json:"error"`
	Errors       validation.FieldErrors `json:"errors"`
	MedicationID string                 `json:"medication_id"`
	Vital        *draft.VitalResult     `json:"vital"`
	Medication   *draft.Medication      `json:"medication"`
	Import       *draft.ImportResult    `json:"import"`
	Draft        draft.View             `json:"draft"`
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var out testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/drafts", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", rec.Code, rec.Body.String())
	}
	return decodeResponse(t, rec).Draft.ID
}

func (e *testEnv) fillIdentity(t *testing.T, id string) {
	t.Helper()
	if rec := e.do(t, http.MethodPut, "/drafts/"+id+"/sections/doctor", `{"doctor_id":"d1","name":"Dr Rao"}`); rec.Code != http.StatusOK {
		t.Fatalf("doctor section: got %d %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPut, "/drafts/"+id+"/sections/patient", `{"patient_id":"p1","name":"Ravi Kumar","age":42}`); rec.Code != http.StatusOK {
		t.Fatalf("patient section: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSectionKeepsInvalidValues(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	rec := env.do(t, http.MethodPut, "/drafts/"+id+"/sections/patient", `{"patient_id":"p1","name":"Ravi","age":200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if _, ok := resp.Errors["age"]; !ok {
		t.Errorf("expected age error, got %v", resp.Errors)
	}
	if resp.Draft.Prescription.PatientInfo.Age != 200 {
		t.Errorf("invalid age not stored: %d", resp.Draft.Prescription.PatientInfo.Age)
	}
}

func TestSectionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown section", "/drafts/" + id + "/sections/billing", `{}`, http.StatusNotFound},
		{"unknown field", "/drafts/" + id + "/sections/advice", `{"advise":"rest"}`, http.StatusBadRequest},
		{"malformed body", "/drafts/" + id + "/sections/advice", `{`, http.StatusBadRequest},
		{"missing draft", "/drafts/nope/sections/advice", `{"advice":"rest"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPut, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestVitalPolicies(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		env := newTestEnv(t, draft.PolicyFlag)
		id := env.create(t)
		rec := env.do(t, http.MethodPut, "/drafts/"+id+"/vitals/pulse", `{"value":"500","event":"blur"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
		resp := decodeResponse(t, rec)
		if resp.Vital == nil || resp.Vital.Error == "" || resp.Vital.Cleared {
			t.Errorf("expected flagged vital, got %+v", resp.Vital)
		}
	})
	t.Run("clear", func(t *testing.T) {
		env := newTestEnv(t, draft.PolicyClear)
		id := env.create(t)
		rec := env.do(t, http.MethodPut, "/drafts/"+id+"/vitals/pulse", `{"value":"500","event":"blur"}`)
		resp := decodeResponse(t, rec)
		if resp.Vital == nil || !resp.Vital.Cleared {
			t.Errorf("expected cleared vital, got %+v", resp.Vital)
		}
	})
	t.Run("unknown field", func(t *testing.T) {
		env := newTestEnv(t, draft.PolicyFlag)
		id := env.create(t)
		rec := env.do(t, http.MethodPut, "/drafts/"+id+"/vitals/mood", `{"value":"1"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("got %d", rec.Code)
		}
	})
	t.Run("bad event", func(t *testing.T) {
		env := newTestEnv(t, draft.PolicyFlag)
		id := env.create(t)
		rec := env.do(t, http.MethodPut, "/drafts/"+id+"/vitals/pulse", `{"value":"80","event":"focus"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("got %d", rec.Code)
		}
	})
}

func TestNavigate(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tab", `{"move":"next"}`)
	if got := decodeResponse(t, rec).Draft.CurrentTab; got != draft.TabPatient {
		t.Errorf("after next: %s", got)
	}
	rec = env.do(t, http.MethodPost, "/drafts/"+id+"/tab", `{"tab":"preview"}`)
	if got := decodeResponse(t, rec).Draft.CurrentTab; got != draft.TabPreview {
		t.Errorf("after goto: %s", got)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tab", `{"tab":"billing"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown tab: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tab", `{"move":"sideways"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad move: got %d", rec.Code)
	}
}

func TestMedicationRows(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	rec := env.do(t, http.MethodPost, "/drafts/"+id+"/medications", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("first add: got %d %s", rec.Code, rec.Body.String())
	}
	first := decodeResponse(t, rec).Medication
	if first == nil {
		t.Fatal("no medication in response")
	}

	rec = env.do(t, http.MethodPost, "/drafts/"+id+"/medications", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second add over blank row: got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.MedicationID != first.ID || resp.Errors.Empty() {
		t.Errorf("expected errors for %s, got %+v", first.ID, resp)
	}

	rec = env.do(t, http.MethodPost, "/drafts/"+id+"/medications/"+first.ID+"/catalog", `{"inventory_id":"inv-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog select: got %d %s", rec.Code, rec.Body.String())
	}
	m := decodeResponse(t, rec).Medication
	if m.MedName != "Amoxicillin" || m.Dosage != "250mg" || !m.CatalogSelected {
		t.Errorf("catalog fields not applied: %+v", m)
	}

	rec = env.do(t, http.MethodPatch, "/drafts/"+id+"/medications/"+first.ID, `{"dosage":"500mg"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("dosage of catalog row should be locked, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPatch, "/drafts/"+id+"/medications/"+first.ID, `{"duration":5,"frequency":"1-0-1","timings":["After Breakfast","After Dinner"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: got %d %s", rec.Code, rec.Body.String())
	}
	if m := decodeResponse(t, rec).Medication; m.Quantity != 10 {
		t.Errorf("capsule quantity should follow duration and frequency, got %d", m.Quantity)
	}

	if rec := env.do(t, http.MethodDelete, "/drafts/"+id+"/medications/"+first.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("delete: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/drafts/"+id+"/medications/"+first.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", rec.Code)
	}
}

func TestTests(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tests", `{"test_name":"Lipid Profile"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add: got %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tests", `{"test_name":"lipid profile"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tests", `{"test_name":""}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty name: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/tests", `{"test_name":"   "}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("blank name: got %d %s", rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodDelete, "/drafts/"+id+"/tests/Lipid%20Profile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: got %d %s", rec.Code, rec.Body.String())
	}
	if n := len(decodeResponse(t, rec).Draft.Prescription.Diagnosis.SelectedTests); n != 0 {
		t.Errorf("tests left: %d", n)
	}
}

func TestImportAndSaveTemplate(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	rec := env.do(t, http.MethodGet, "/drafts/"+id+"/import/sources?kind=template", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sources: got %d %s", rec.Code, rec.Body.String())
	}
	var sources struct {
		Items []draft.SourcePrescription `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sources); err != nil || len(sources.Items) != 1 {
		t.Fatalf("sources: %v %s", err, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/drafts/"+id+"/import/sources?kind=previous", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("previous without patient: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/drafts/"+id+"/import/sources?kind=other", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/drafts/"+id+"/import", `{"kind":"template","source_id":"t1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: got %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Import == nil || resp.Import.Imported != 1 {
		t.Fatalf("import result: %+v", resp.Import)
	}
	meds := resp.Draft.Prescription.Diagnosis.Medications
	if len(meds) != 1 || !resp.Draft.Locks[meds[0].ID].MedName {
		t.Errorf("imported row should be name locked: %+v", resp.Draft.Locks)
	}

	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/import", `{"kind":"template","source_id":"missing"}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing source: got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/templates", `{"name":"Fever v2"}`); rec.Code != http.StatusCreated {
		t.Fatalf("save template: got %d %s", rec.Code, rec.Body.String())
	}
	if len(env.source.saved) != 1 || env.source.saved[0].DoctorID != "d1" || len(env.source.saved[0].Medications) != 1 {
		t.Errorf("saved template: %+v", env.source.saved)
	}
}

func TestImportSourceUnavailable(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	env.source.err = errors.New("connection refused")
	id := env.create(t)

	if rec := env.do(t, http.MethodGet, "/drafts/"+id+"/import/sources?kind=template", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d", rec.Code)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)
	env.fillIdentity(t, id)

	rec := env.do(t, http.MethodGet, "/drafts/"+id+"/preview", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != render.ContentType {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Ravi Kumar") {
		t.Error("preview does not show the patient")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)
	env.fillIdentity(t, id)

	rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: got %d %s", rec.Code, rec.Body.String())
	}
	var first SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if first.PrescriptionID == "" || first.Replayed {
		t.Fatalf("unexpected receipt %+v", first)
	}

	rec = env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k1")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry: got %d %s", rec.Code, rec.Body.String())
	}
	var second SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if !second.Replayed || second.PrescriptionID != first.PrescriptionID {
		t.Errorf("retry should replay %s, got %+v", first.PrescriptionID, second)
	}
	if env.submitter.calls != 1 {
		t.Errorf("store called %d times", env.submitter.calls)
	}

	if rec := env.do(t, http.MethodGet, "/drafts/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("submitted draft still served: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k2"); rec.Code != http.StatusNotFound {
		t.Errorf("new key for a closed draft: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k2"); rec.Code != http.StatusGone {
		t.Errorf("failed key retried: got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/prescriptions/"+first.PrescriptionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get prescription: got %d", rec.Code)
	}
}

func TestSubmitKeyIsScopedToDraft(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	a := env.create(t)
	env.fillIdentity(t, a)
	b := env.create(t)
	env.fillIdentity(t, b)

	var receipts [2]SubmitResponse
	for i, id := range []string{a, b} {
		rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "same")
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit %s: got %d %s", id, rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &receipts[i]); err != nil {
			t.Fatal(err)
		}
		if receipts[i].Replayed || receipts[i].IdempotencyKey != "same" {
			t.Errorf("submit %s: unexpected response %+v", id, receipts[i])
		}
	}
	if receipts[0].PrescriptionID == receipts[1].PrescriptionID {
		t.Errorf("both drafts got prescription %s", receipts[0].PrescriptionID)
	}
	if env.submitter.calls != 2 {
		t.Errorf("store called %d times, want 2", env.submitter.calls)
	}
	if rec := env.do(t, http.MethodGet, "/drafts/"+b, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second draft left open: %d", rec.Code)
	}
}

func TestSubmissionKey(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	echo, key := submissionKey("k1", "u1", "d1", now)
	if echo != "k1" || key == "k1" {
		t.Errorf("client key not scoped: echo %q key %q", echo, key)
	}
	if _, other := submissionKey("k1", "u2", "d1", now); other == key {
		t.Error("same key for different users")
	}
	if _, other := submissionKey("k1", "u1", "d2", now); other == key {
		t.Error("same key for different drafts")
	}
	if _, later := submissionKey("k1", "u1", "d1", now.Add(time.Hour)); later != key {
		t.Error("client key must not depend on time")
	}

	echo, key = submissionKey("", "u1", "d1", now)
	if echo != key || key == "" {
		t.Errorf("generated key %q echoed as %q", key, echo)
	}
}

func TestSubmitIncompleteCanBeRetried(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k1")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("incomplete: got %d %s", rec.Code, rec.Body.String())
	}
	if env.submitter.calls != 0 {
		t.Error("incomplete draft reached the store")
	}

	env.fillIdentity(t, id)
	if rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "", IdempotencyHeader, "k1"); rec.Code != http.StatusCreated {
		t.Fatalf("retry after fix: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitStoreFailureKeepsDraft(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	env.submitter.err = errors.New("connection reset")
	id := env.create(t)
	env.fillIdentity(t, id)

	rec := env.do(t, http.MethodPost, "/drafts/"+id+"/submit", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Error("internal error detail leaked")
	}
	if rec := env.do(t, http.MethodGet, "/drafts/"+id, ""); rec.Code != http.StatusOK {
		t.Errorf("draft lost after failed submit: %d", rec.Code)
	}
}

func TestDraftsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	v := env.store.Create("someone-else")

	if rec := env.do(t, http.MethodGet, "/drafts/"+v.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/drafts/"+v.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete: got %d", rec.Code)
	}
}

func TestDeleteDraft(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	id := env.create(t)

	if rec := env.do(t, http.MethodDelete, "/drafts/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("got %d", rec.Code)
	}
	if env.store.Len() != 0 {
		t.Errorf("store still holds %d drafts", env.store.Len())
	}
}

func TestCreateWithBody(t *testing.T) {
	env := newTestEnv(t, draft.PolicyFlag)
	body := bytes.NewBufferString(`{"patient_id":"p9"}`)
	req := httptest.NewRequest(http.MethodPost, "/drafts", body)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}
