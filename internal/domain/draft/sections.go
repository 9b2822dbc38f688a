package draft

// Section names one editor tab's slice of the draft.
type Section string

const (
	SectionDoctor    Section = "doctor"
	SectionPatient   Section = "patient"
	SectionVitals    Section = "vitals"
	SectionDiagnosis Section = "diagnosis"
	SectionAdvice    Section = "advice"
)

// Tab is a wizard step. The preview tab follows the five editors.
type Tab string

const (
	TabDoctor    Tab = "doctor"
	TabPatient   Tab = "patient"
	TabVitals    Tab = "vitals"
	TabDiagnosis Tab = "diagnosis"
	TabAdvice    Tab = "advice"
	TabPreview   Tab = "preview"
)

var tabOrder = []Tab{TabDoctor, TabPatient, TabVitals, TabDiagnosis, TabAdvice, TabPreview}

func tabIndex(t Tab) int {
	for i, x := range tabOrder {
		if x == t {
			return i
		}
	}
	return -1
}

// DoctorInfo is the doctor and clinic header of the prescription.
type DoctorInfo struct {
	DoctorID       string `json:"doctor_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Qualification  string `json:"qualification,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	RegistrationNo string `json:"registration_no,omitempty"`
	ClinicName     string `json:"clinic_name,omitempty"`
	ClinicAddress  string `json:"clinic_address,omitempty"`
	ClinicPhone    string `json:"clinic_phone,omitempty" validate:"omitempty,phone"`
}

// PatientHistory is the history part of the patient tab.
type PatientHistory struct {
	Allergies          []string `json:"allergies,omitempty"`
	ChronicConditions  []string `json:"chronic_conditions,omitempty"`
	PastHistory        string   `json:"past_history,omitempty"`
	CurrentMedications string   `json:"current_medications,omitempty"`
}

// PatientInfo is the patient slice, including history.
type PatientInfo struct {
	PatientID string         `json:"patient_id" validate:"required"`
	Name      string         `json:"name" validate:"required"`
	Age       int            `json:"age" validate:"gte=0,lte=150"`
	Gender    string         `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	Phone     string         `json:"phone,omitempty" validate:"omitempty,phone"`
	Address   string         `json:"address,omitempty"`
	History   PatientHistory `json:"history"`
}

// SelectedTest is a lab test ordered with the prescription.
type SelectedTest struct {
	TestName        string `json:"test_name" validate:"required"`
	TestInventoryID string `json:"test_inventory_id,omitempty"`
}

// DiagnosisSummary is the free-form part of the diagnosis tab. Medications and
// tests have their own operations.
type DiagnosisSummary struct {
	DiagnosisList []string `json:"diagnosis_list"`
	TestNotes     string   `json:"test_notes,omitempty"`
}

// Diagnosis is the diagnosis slice of the draft.
type Diagnosis struct {
	DiagnosisList []string       `json:"diagnosis_list"`
	SelectedTests []SelectedTest `json:"selected_tests"`
	Medications   []*Medication  `json:"medications"`
	TestNotes     string         `json:"test_notes,omitempty"`
}

func (d Diagnosis) clone() Diagnosis {
	c := d
	c.DiagnosisList = append([]string{}, d.DiagnosisList...)
	c.SelectedTests = append([]SelectedTest{}, d.SelectedTests...)
	c.Medications = make([]*Medication, len(d.Medications))
	for i, m := range d.Medications {
		c.Medications[i] = m.clone()
	}
	return c
}

// Advice is the advice and follow-up slice.
type Advice struct {
	Advice        string `json:"advice,omitempty"`
	Diet          string `json:"diet,omitempty"`
	FollowUpDate  string `json:"follow_up_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	FollowUpNotes string `json:"follow_up_notes,omitempty"`
}

// Prescription is the printable content of a draft.
type Prescription struct {
	DoctorInfo  DoctorInfo  `json:"doctor_info"`
	PatientInfo PatientInfo `json:"patient_info"`
	Vitals      Vitals      `json:"vitals"`
	Diagnosis   Diagnosis   `json:"diagnosis"`
	Advice      Advice      `json:"advice"`
}

func (p Prescription) clone() Prescription {
	c := p
	c.PatientInfo.History.Allergies = append([]string(nil), p.PatientInfo.History.Allergies...)
	c.PatientInfo.History.ChronicConditions = append([]string(nil), p.PatientInfo.History.ChronicConditions...)
	c.Vitals = p.Vitals.clone()
	c.Diagnosis = p.Diagnosis.clone()
	return c
}
