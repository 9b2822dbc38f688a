package draft

import "testing"

func TestFrequencyDosesPerDay(t *testing.T) {
	cases := map[Frequency]int{
		"1-0-0":   1,
		"0-1-0":   1,
		"1-0-1":   2,
		"0-1-1":   2,
		"1-1-1":   3,
		"1-1-1-1": 4,
		"2-0-0":   0,
		"":        0,
	}
	for f, want := range cases {
		if got := f.DosesPerDay(); got != want {
			t.Errorf("%q: expected %d doses, got %d", f, want, got)
		}
	}
}

func TestFrequenciesAreValid(t *testing.T) {
	for _, f := range Frequencies() {
		if !f.Valid() {
			t.Errorf("%q should be valid", f)
		}
	}
}

func TestRecomputeAutoQuantity(t *testing.T) {
	m := NewMedication()
	m.MedicineType = TypeTablet
	m.Frequency = "1-0-1"
	m.Duration = 5
	m.recompute()
	if m.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", m.Quantity)
	}

	m.Duration = 0
	m.recompute()
	if m.Quantity != 0 {
		t.Errorf("expected quantity 0 without duration, got %d", m.Quantity)
	}
}

func TestRecomputeKeepsManualQuantity(t *testing.T) {
	m := NewMedication()
	m.MedicineType = TypeSyrup
	m.Frequency = "1-1-1"
	m.Duration = 7
	m.Quantity = 1
	m.recompute()
	if m.Quantity != 1 {
		t.Errorf("syrup quantity should stay 1, got %d", m.Quantity)
	}
}

func TestRecomputeTruncatesTimings(t *testing.T) {
	m := NewMedication()
	m.Frequency = "1-1-1"
	m.Timings = []Timing{TimingAfterBreakfast, TimingAfterLunch, TimingAfterDinner}
	m.Frequency = "1-0-0"
	m.recompute()
	if len(m.Timings) != 1 || m.Timings[0] != TimingAfterBreakfast {
		t.Errorf("expected timings truncated to first entry, got %v", m.Timings)
	}
}

func TestMedicationValidate(t *testing.T) {
	valid := &Medication{
		ID:           "m1",
		MedName:      "Paracetamol",
		Dosage:       "500mg",
		MedicineType: TypeTablet,
		Duration:     5,
		Frequency:    "1-0-1",
		Timings:      []Timing{TimingAfterBreakfast, TimingAfterDinner},
		Quantity:     10,
	}
	if errs := valid.Validate(); errs != nil {
		t.Fatalf("expected valid row, got %v", errs)
	}

	tests := []struct {
		name  string
		mut   func(m *Medication)
		field string
	}{
		{"missing name", func(m *Medication) { m.MedName = "" }, "med_name"},
		{"bad dosage", func(m *Medication) { m.Dosage = "lots" }, "dosage"},
		{"unknown type", func(m *Medication) { m.MedicineType = "Potion" }, "medicine_type"},
		{"zero duration", func(m *Medication) { m.Duration = 0 }, "duration"},
		{"bad frequency", func(m *Medication) { m.Frequency = "3-0-0" }, "frequency"},
		{"too many timings", func(m *Medication) { m.Timings = append(m.Timings, TimingBedtime) }, "timings"},
		{"duplicate timing", func(m *Medication) { m.Timings = []Timing{TimingBedtime, TimingBedtime} }, "timings"},
		{"unknown timing", func(m *Medication) { m.Timings = []Timing{"Midnight"} }, "timings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid.clone()
			tt.mut(m)
			errs := m.Validate()
			if _, ok := errs[tt.field]; !ok {
				t.Errorf("expected error on %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestDosagePattern(t *testing.T) {
	for _, s := range []string{"500mg", "5 ml", "2 puffs", "0.5mg", "10mg/5ml", "1 tab", "2%"} {
		if !dosagePattern.MatchString(s) {
			t.Errorf("%q should match", s)
		}
	}
	for _, s := range []string{"", "mg", "five mg", "500"} {
		if dosagePattern.MatchString(s) {
			t.Errorf("%q should not match", s)
		}
	}
}

func TestLocks(t *testing.T) {
	m := NewMedication()
	if m.DosageLocked() || m.NameLocked() {
		t.Error("manual row should be editable")
	}
	m.CatalogSelected = true
	if !m.DosageLocked() {
		t.Error("catalog selection should lock dosage")
	}
	m.CatalogSelected = false
	m.Provenance = ProvenanceTemplate
	if !m.DosageLocked() || !m.NameLocked() {
		t.Error("imported row should lock name and dosage")
	}
	m.MedicineType = TypeCapsule
	if !m.QuantityLocked() {
		t.Error("capsule quantity should be derived")
	}
}
