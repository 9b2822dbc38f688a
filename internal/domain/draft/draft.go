// Package draft implements the prescription draft: the in-memory aggregate
// that the wizard's section editors mutate until it is previewed and submitted.
package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxdraft/internal/validation"
)

// Status represents draft status
type Status string

const (
	StatusEditing   Status = "editing"
	StatusSubmitted Status = "submitted"
	StatusDiscarded Status = "discarded"
)

var (
	ErrDraftNotFound      = errors.New("draft not found")
	ErrDraftClosed        = errors.New("draft is no longer editable")
	ErrMedicationNotFound = errors.New("medication not found")
	ErrFieldLocked        = errors.New("field is locked")
	ErrPreviousRowInvalid = errors.New("previous medication row is incomplete")
	ErrTooManyTimings     = errors.New("too many timings for frequency")
	ErrDuplicateTest      = errors.New("test already selected")
	ErrTestNotFound       = errors.New("test not found")
	ErrUnknownVital       = errors.New("unknown vital field")
	ErrUnknownTab         = errors.New("unknown tab")
	ErrIncompleteDraft    = errors.New("draft needs doctor and patient identity")
	ErrNameRequired       = errors.New("name is required")
)

// RowInvalidError is returned by AddMedication when the last row fails
// validation. It unwraps to ErrPreviousRowInvalid.
type RowInvalidError struct {
	MedicationID string
	Errors       validation.FieldErrors
}

func (e *RowInvalidError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPreviousRowInvalid, e.MedicationID)
}

func (e *RowInvalidError) Unwrap() error { return ErrPreviousRowInvalid }

type rowState struct {
	errors  validation.FieldErrors
	touched map[string]bool
}

// Draft is the prescription draft aggregate. It is not safe for concurrent
// use; Store serializes access per draft.
type Draft struct {
	id         string
	owner      string
	status     Status
	rx         Prescription
	currentTab Tab
	visited    map[Tab]bool
	createdAt  time.Time
	updatedAt  time.Time

	vitalsRaw     map[VitalField]string
	vitalErrors   map[VitalField]string
	sectionErrors map[Section]validation.FieldErrors
	rows          map[string]*rowState
}

// New creates an empty draft positioned on the first tab.
func New(owner string) *Draft {
	now := time.Now().UTC()
	return &Draft{
		id:         uuid.New().String(),
		owner:      owner,
		status:     StatusEditing,
		currentTab: TabDoctor,
		visited:    map[Tab]bool{TabDoctor: true},
		createdAt:  now,
		updatedAt:  now,
		rx: Prescription{
			Diagnosis: Diagnosis{
				DiagnosisList: []string{},
				SelectedTests: []SelectedTest{},
				Medications:   []*Medication{},
			},
		},
		vitalsRaw:     make(map[VitalField]string),
		vitalErrors:   make(map[VitalField]string),
		sectionErrors: make(map[Section]validation.FieldErrors),
		rows:          make(map[string]*rowState),
	}
}

// ID returns the draft ID
func (d *Draft) ID() string { return d.id }

// Owner returns the user that created the draft
func (d *Draft) Owner() string { return d.owner }

// Status returns the current status
func (d *Draft) Status() Status { return d.status }

// UpdatedAt returns the time of the last mutation
func (d *Draft) UpdatedAt() time.Time { return d.updatedAt }

// Prescription returns a deep copy of the draft content.
func (d *Draft) Prescription() Prescription { return d.rx.clone() }

func (d *Draft) touch() error {
	if d.status != StatusEditing {
		return ErrDraftClosed
	}
	d.updatedAt = time.Now().UTC()
	return nil
}

// SetDoctorInfo replaces the doctor slice. Invalid input is stored and
// flagged, not rejected.
func (d *Draft) SetDoctorInfo(info DoctorInfo) (validation.FieldErrors, error) {
	if err := d.touch(); err != nil {
		return nil, err
	}
	d.rx.DoctorInfo = info
	return d.flagSection(SectionDoctor, validation.Struct(info)), nil
}

// SetPatientInfo replaces the patient slice.
func (d *Draft) SetPatientInfo(info PatientInfo) (validation.FieldErrors, error) {
	if err := d.touch(); err != nil {
		return nil, err
	}
	d.rx.PatientInfo = info
	return d.flagSection(SectionPatient, validation.Struct(info)), nil
}

// SetDiagnosisSummary replaces the diagnosis list and test notes. Blank
// entries are dropped.
func (d *Draft) SetDiagnosisSummary(s DiagnosisSummary) (validation.FieldErrors, error) {
	if err := d.touch(); err != nil {
		return nil, err
	}
	list := make([]string, 0, len(s.DiagnosisList))
	for _, item := range s.DiagnosisList {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	d.rx.Diagnosis.DiagnosisList = list
	d.rx.Diagnosis.TestNotes = s.TestNotes
	return d.flagSection(SectionDiagnosis, nil), nil
}

// SetAdvice replaces the advice slice.
func (d *Draft) SetAdvice(a Advice) (validation.FieldErrors, error) {
	if err := d.touch(); err != nil {
		return nil, err
	}
	d.rx.Advice = a
	return d.flagSection(SectionAdvice, validation.Struct(a)), nil
}

func (d *Draft) flagSection(s Section, errs validation.FieldErrors) validation.FieldErrors {
	if errs.Empty() {
		delete(d.sectionErrors, s)
		return nil
	}
	d.sectionErrors[s] = errs
	return errs
}

// SetVital applies one vitals input event. Out-of-range values never reach
// the draft: on change they are flagged, on blur they are flagged or cleared
// according to policy. BMI is recomputed after every height or weight event.
func (d *Draft) SetVital(f VitalField, raw string, ev VitalEvent, policy InvalidVitalPolicy) (VitalResult, error) {
	slot := d.rx.Vitals.slot(f)
	if slot == nil {
		return VitalResult{}, fmt.Errorf("%w: %s", ErrUnknownVital, f)
	}
	if err := d.touch(); err != nil {
		return VitalResult{}, err
	}

	value, msg := checkVital(f, raw)
	res := VitalResult{Field: f, Raw: raw, Value: value}
	*slot = value

	switch {
	case msg == "":
		d.vitalsRaw[f] = raw
		delete(d.vitalErrors, f)
	case ev == EventBlur && policy == PolicyClear:
		res.Raw = ""
		res.Cleared = true
		delete(d.vitalsRaw, f)
		delete(d.vitalErrors, f)
	default:
		res.Error = msg
		d.vitalsRaw[f] = raw
		d.vitalErrors[f] = msg
	}

	if f == VitalHeight || f == VitalWeight {
		d.rx.Vitals.BMI = ComputeBMI(d.rx.Vitals.Height, d.rx.Vitals.Weight)
	}
	res.BMI = d.rx.Vitals.BMI
	return res, nil
}

// GoTo moves the wizard to tab t. Navigation is never blocked by validation.
func (d *Draft) GoTo(t Tab) error {
	if tabIndex(t) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTab, t)
	}
	if err := d.touch(); err != nil {
		return err
	}
	d.currentTab = t
	d.visited[t] = true
	return nil
}

// Next moves one tab forward, stopping at the preview.
func (d *Draft) Next() error {
	i := tabIndex(d.currentTab)
	if i+1 < len(tabOrder) {
		i++
	}
	return d.GoTo(tabOrder[i])
}

// Prev moves one tab back, stopping at the first editor.
func (d *Draft) Prev() error {
	i := tabIndex(d.currentTab)
	if i > 0 {
		i--
	}
	return d.GoTo(tabOrder[i])
}

// AddTest selects a lab test. Test names are unique within a draft, compared
// case-insensitively.
func (d *Draft) AddTest(t SelectedTest) error {
	t.TestName = strings.TrimSpace(t.TestName)
	if t.TestName == "" {
		return fmt.Errorf("%w: test_name", ErrNameRequired)
	}
	if d.hasTest(t.TestName) {
		return fmt.Errorf("%w: %s", ErrDuplicateTest, t.TestName)
	}
	if err := d.touch(); err != nil {
		return err
	}
	d.rx.Diagnosis.SelectedTests = append(d.rx.Diagnosis.SelectedTests, t)
	return nil
}

// RemoveTest deselects a lab test by name.
func (d *Draft) RemoveTest(name string) error {
	tests := d.rx.Diagnosis.SelectedTests
	for i, t := range tests {
		if strings.EqualFold(t.TestName, strings.TrimSpace(name)) {
			if err := d.touch(); err != nil {
				return err
			}
			d.rx.Diagnosis.SelectedTests = append(tests[:i:i], tests[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTestNotFound, name)
}

func (d *Draft) hasTest(name string) bool {
	for _, t := range d.rx.Diagnosis.SelectedTests {
		if strings.EqualFold(t.TestName, name) {
			return true
		}
	}
	return false
}

// CheckSubmittable reports whether the draft carries the identity needed to
// submit. Field validation errors never block submission.
func (d *Draft) CheckSubmittable() error {
	if d.status != StatusEditing {
		return ErrDraftClosed
	}
	if strings.TrimSpace(d.rx.DoctorInfo.DoctorID) == "" || strings.TrimSpace(d.rx.PatientInfo.PatientID) == "" {
		return ErrIncompleteDraft
	}
	return nil
}

// MarkSubmitted closes the draft after a successful submission.
func (d *Draft) MarkSubmitted() error {
	if err := d.CheckSubmittable(); err != nil {
		return err
	}
	d.status = StatusSubmitted
	d.updatedAt = time.Now().UTC()
	return nil
}

func (d *Draft) markDiscarded() {
	d.status = StatusDiscarded
	d.updatedAt = time.Now().UTC()
}

// View is the JSON projection of a draft returned to editors.
type View struct {
	ID               string                             `json:"id"`
	Status           Status                             `json:"status"`
	CurrentTab       Tab                                `json:"current_tab"`
	Visited          []Tab                              `json:"visited"`
	Prescription     Prescription                       `json:"prescription"`
	VitalsInput      map[VitalField]string              `json:"vitals_input"`
	VitalErrors      map[VitalField]string              `json:"vital_errors,omitempty"`
	SectionErrors    map[Section]validation.FieldErrors `json:"section_errors,omitempty"`
	MedicationErrors map[string]validation.FieldErrors  `json:"medication_errors,omitempty"`
	Locks            map[string]MedicationLocks         `json:"locks"`
	CreatedAt        time.Time                          `json:"created_at"`
	UpdatedAt        time.Time                          `json:"updated_at"`
}

// MedicationLocks tells the editor which inputs of a row are read-only.
type MedicationLocks struct {
	MedName     bool `json:"med_name"`
	Dosage      bool `json:"dosage"`
	Quantity    bool `json:"quantity"`
	TimingLimit int  `json:"timing_limit"`
}

// View returns a detached projection safe to use outside the store lock.
func (d *Draft) View() View {
	v := View{
		ID:               d.id,
		Status:           d.status,
		CurrentTab:       d.currentTab,
		Prescription:     d.rx.clone(),
		VitalsInput:      make(map[VitalField]string, len(d.vitalsRaw)),
		VitalErrors:      make(map[VitalField]string, len(d.vitalErrors)),
		SectionErrors:    make(map[Section]validation.FieldErrors, len(d.sectionErrors)),
		MedicationErrors: make(map[string]validation.FieldErrors),
		Locks:            make(map[string]MedicationLocks, len(d.rx.Diagnosis.Medications)),
		CreatedAt:        d.createdAt,
		UpdatedAt:        d.updatedAt,
	}
	for _, t := range tabOrder {
		if d.visited[t] {
			v.Visited = append(v.Visited, t)
		}
	}
	for k, raw := range d.vitalsRaw {
		v.VitalsInput[k] = raw
	}
	for k, msg := range d.vitalErrors {
		v.VitalErrors[k] = msg
	}
	for k, errs := range d.sectionErrors {
		v.SectionErrors[k] = validation.FieldErrors{}.Merge(errs)
	}
	for _, m := range d.rx.Diagnosis.Medications {
		v.Locks[m.ID] = MedicationLocks{
			MedName:     m.NameLocked(),
			Dosage:      m.DosageLocked(),
			Quantity:    m.QuantityLocked(),
			TimingLimit: m.TimingLimit(),
		}
		st, ok := d.rows[m.ID]
		if !ok || st.errors.Empty() {
			continue
		}
		visible := validation.FieldErrors{}
		for field, msg := range st.errors {
			if st.touched[field] {
				visible[field] = msg
			}
		}
		if !visible.Empty() {
			v.MedicationErrors[m.ID] = visible
		}
	}
	return v
}
