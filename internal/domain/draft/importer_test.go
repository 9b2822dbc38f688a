package draft

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	previous  []SourcePrescription
	templates []SourcePrescription
	saved     []SourcePrescription
	err       error
}

func (f *fakeSource) PreviousPrescriptions(ctx context.Context, patientID, doctorID string) ([]SourcePrescription, error) {
	return f.previous, f.err
}

func (f *fakeSource) Templates(ctx context.Context, doctorID string) ([]SourcePrescription, error) {
	return f.templates, f.err
}

func (f *fakeSource) SaveTemplate(ctx context.Context, t SourcePrescription) error {
	f.saved = append(f.saved, t)
	return f.err
}

func sourceMed(name, dosage string) SourceMedication {
	return SourceMedication{
		MedName:      name,
		Dosage:       dosage,
		MedicineType: TypeTablet,
		Duration:     3,
		Frequency:    "1-1-1",
		Timings:      []Timing{TimingAfterBreakfast},
	}
}

func TestImportMergesAndDedupes(t *testing.T) {
	d := New("u1")
	blank, _ := d.AddMedication()
	d.rx.Diagnosis.Medications = append(d.rx.Diagnosis.Medications,
		&Medication{ID: "keep", MedName: "Cetirizine", Dosage: "10mg", MedicineType: TypeTablet, Frequency: "0-0-1", Duration: 5, Quantity: 5},
		&Medication{ID: "clash", MedName: "Paracetamol", Dosage: "500mg", MedicineType: TypeTablet, Frequency: "1-0-0", Duration: 1, Quantity: 1},
	)

	src := SourcePrescription{
		ID: "rx-1",
		Medications: []SourceMedication{
			sourceMed("Paracetamol", "500mg"),
			sourceMed("Pantoprazole", "40mg"),
			sourceMed("Paracetamol", "500mg"),
		},
		Tests: []SelectedTest{{TestName: "CBC"}, {TestName: "cbc"}},
	}
	res, err := d.Import(src, ImportPrevious)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if res.Imported != 2 || res.ReplacedExisting != 1 || res.DroppedBlank != 1 || res.SkippedDuplicate != 1 || res.TestsAdded != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	meds := d.rx.Diagnosis.Medications
	if len(meds) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(meds))
	}
	if meds[0].ID != "keep" {
		t.Errorf("existing rows should come first, got %s", meds[0].MedName)
	}
	seen := map[medKey]bool{}
	for _, m := range meds {
		if seen[m.key()] {
			t.Errorf("duplicate pair %v", m.key())
		}
		seen[m.key()] = true
	}
	if _, ok := d.rows[blank.ID]; ok {
		t.Error("blank row state should be dropped")
	}

	imported := meds[1]
	if imported.Provenance != ProvenancePrevious || !imported.NameLocked() || !imported.DosageLocked() {
		t.Errorf("imported row should be locked, got %+v", imported)
	}
	if imported.Quantity != 9 {
		t.Errorf("expected derived quantity 9, got %d", imported.Quantity)
	}
	if imported.ID == "" || imported.ID == "clash" {
		t.Error("imported row needs a fresh id")
	}
	if _, _, err := d.UpdateMedication(imported.ID, MedicationPatch{MedName: strp("Other")}); !errors.Is(err, ErrFieldLocked) {
		t.Errorf("expected locked name, got %v", err)
	}
}

func TestImportCollapsesExistingDuplicates(t *testing.T) {
	d := New("u1")
	d.rx.Diagnosis.Medications = []*Medication{
		{ID: "m1", MedName: "Cetirizine", Dosage: "10mg", MedicineType: TypeTablet, Frequency: "0-0-1", Duration: 5, Quantity: 5},
		{ID: "m2", MedName: "Cetirizine", Dosage: "10mg", MedicineType: TypeTablet, Frequency: "0-0-1", Duration: 5, Quantity: 5},
	}

	res, err := d.Import(SourcePrescription{ID: "t1", Medications: []SourceMedication{sourceMed("Pantoprazole", "40mg")}}, ImportTemplate)
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedDuplicate != 1 || res.Imported != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	meds := d.rx.Diagnosis.Medications
	if len(meds) != 2 || meds[0].ID != "m1" || meds[1].MedName != "Pantoprazole" {
		t.Errorf("unexpected rows %+v %+v", meds[0], meds[len(meds)-1])
	}
}

func TestImportUnknownKind(t *testing.T) {
	d := New("u1")
	if _, err := d.Import(SourcePrescription{}, "favourites"); !errors.Is(err, ErrUnknownImportKind) {
		t.Errorf("expected ErrUnknownImportKind, got %v", err)
	}
}

func TestImporterFind(t *testing.T) {
	src := &fakeSource{templates: []SourcePrescription{{ID: "t1", Name: "Fever"}}}
	imp := NewImporter(src, nil)

	got, err := imp.Find(context.Background(), ImportTemplate, "", "doc-1", "t1")
	if err != nil || got.Name != "Fever" {
		t.Fatalf("find: %v %+v", err, got)
	}
	if _, err := imp.Find(context.Background(), ImportTemplate, "", "doc-1", "missing"); !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("expected ErrSourceNotFound, got %v", err)
	}

	src.err = errors.New("backend down")
	if _, err := imp.Candidates(context.Background(), ImportPrevious, "p1", "doc-1"); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestSaveTemplate(t *testing.T) {
	src := &fakeSource{}
	imp := NewImporter(src, nil)

	d := New("u1")
	d.rx.DoctorInfo.DoctorID = "doc-1"
	m, _ := d.AddMedication()
	fillRow(t, d, m.ID)

	tmpl := d.TemplateFrom(" Fever ")
	if err := imp.SaveTemplate(context.Background(), tmpl); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(src.saved) != 1 || src.saved[0].Name != "Fever" || len(src.saved[0].Medications) != 1 {
		t.Errorf("unexpected saved template %+v", src.saved)
	}
	if err := imp.SaveTemplate(context.Background(), SourcePrescription{Name: "  "}); !errors.Is(err, ErrNameRequired) {
		t.Errorf("expected ErrNameRequired, got %v", err)
	}
}
