package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/domain/invoice"
)

func newTestRenderer(t *testing.T, delay time.Duration) *Renderer {
	t.Helper()
	r, err := New(Config{PrintDelay: delay})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	r.now = func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) }
	return r
}

func samplePrescription() draft.Prescription {
	h, w := 180.0, 81.0
	return draft.Prescription{
		DoctorInfo:  draft.DoctorInfo{DoctorID: "d1", Name: "Rao", ClinicName: "City Clinic"},
		PatientInfo: draft.PatientInfo{PatientID: "p1", Name: "Ann <script>", Age: 34, Gender: "female"},
		Vitals:      draft.Vitals{Height: &h, Weight: &w, BMI: "25.0"},
		Diagnosis: draft.Diagnosis{
			DiagnosisList: []string{"Viral fever"},
			SelectedTests: []draft.SelectedTest{{TestName: "CBC"}},
			Medications: []*draft.Medication{
				{ID: "m1", MedName: "Paracetamol", Dosage: "500mg", MedicineType: draft.TypeTablet, Frequency: "1-0-1",
					Duration: 5, Quantity: 10, Timings: []draft.Timing{draft.TimingAfterBreakfast, draft.TimingAfterDinner}},
				{ID: "m2"},
			},
		},
		Advice: draft.Advice{Advice: "Rest", FollowUpDate: "2026-10-26"},
	}
}

func TestPrescription(t *testing.T) {
	r := newTestRenderer(t, 750*time.Millisecond)
	rx := samplePrescription()

	var buf bytes.Buffer
	if err := r.Prescription(&buf, rx); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"City Clinic",
		"Paracetamol",
		"After Breakfast, After Dinner",
		"Viral fever",
		"CBC",
		"25.0",
		"19 Oct 2026",
		"window.print()",
		"750",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
	if strings.Contains(out, "Ann <script>") {
		t.Error("patient name must be escaped")
	}
	if strings.Contains(out, "<td>2</td>") {
		t.Error("blank medication rows should not be printed")
	}
	if len(rx.Diagnosis.Medications) != 2 {
		t.Error("rendering must not modify the prescription")
	}
}

func TestInvoice(t *testing.T) {
	r := newTestRenderer(t, DefaultPrintDelay)
	inv := invoice.Invoice{
		Number:      "INV-1",
		IssuedAt:    time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		ClinicName:  "City Clinic",
		PatientID:   "p1",
		PatientName: "Ann",
		Items:       []invoice.LineItem{{Service: "Consultation", Quantity: 2, UnitPrice: decimal.RequireFromString("250.5")}},
		TaxPct:      decimal.NewFromInt(10),
	}

	var buf bytes.Buffer
	if err := r.Invoice(&buf, inv); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"INV-1", "Consultation", "501.00", "50.10", "551.10", "500"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
	if strings.Contains(out, "Discount") {
		t.Error("zero discount should not be printed")
	}
}
