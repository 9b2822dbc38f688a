package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ImportKind selects where imported medications come from.
type ImportKind string

const (
	ImportPrevious ImportKind = "previous"
	ImportTemplate ImportKind = "template"
)

// Provenance maps the import kind to the provenance stamped on imported rows.
func (k ImportKind) Provenance() Provenance {
	if k == ImportTemplate {
		return ProvenanceTemplate
	}
	return ProvenancePrevious
}

// Valid reports whether k is a known import kind.
func (k ImportKind) Valid() bool { return k == ImportPrevious || k == ImportTemplate }

var (
	ErrUnknownImportKind = errors.New("unknown import kind")
	ErrSourceNotFound    = errors.New("import source not found")
	ErrSourceUnavailable = errors.New("import source unavailable")
)

// SourceMedication is a medication as stored on a past prescription or template.
type SourceMedication struct {
	MedName      string       `json:"med_name"`
	Dosage       string       `json:"dosage"`
	MedicineType MedicineType `json:"medicine_type"`
	Duration     int          `json:"duration"`
	Frequency    Frequency    `json:"frequency"`
	Timings      []Timing     `json:"timings"`
	Quantity     int          `json:"quantity"`
	Notes        string       `json:"notes,omitempty"`
	InventoryID  string       `json:"inventory_id,omitempty"`
	Price        float64      `json:"price,omitempty"`
}

// SourcePrescription is a past prescription or a named template offered for
// import.
type SourcePrescription struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	DoctorID    string             `json:"doctor_id"`
	PatientID   string             `json:"patient_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Diagnosis   []string           `json:"diagnosis,omitempty"`
	Medications []SourceMedication `json:"medications"`
	Tests       []SelectedTest     `json:"tests,omitempty"`
}

// Source lists importable prescriptions. Implementations talk to the REST
// backend or the local prescription store.
type Source interface {
	PreviousPrescriptions(ctx context.Context, patientID, doctorID string) ([]SourcePrescription, error)
	Templates(ctx context.Context, doctorID string) ([]SourcePrescription, error)
}

// TemplateSaver persists a doctor's template.
type TemplateSaver interface {
	SaveTemplate(ctx context.Context, t SourcePrescription) error
}

// ImportResult summarises one import.
type ImportResult struct {
	Imported         int `json:"imported"`
	ReplacedExisting int `json:"replaced_existing"`
	DroppedBlank     int `json:"dropped_blank"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	TestsAdded       int `json:"tests_added"`
}

// Import merges the medications and tests of src into the draft. Imported
// rows get fresh ids and locked name and dosage. An existing row whose exact
// (name, dosage) pair is imported is replaced, blank existing rows are
// dropped, and elsewhere the first occurrence of a pair wins, so the result
// never holds two rows with the same pair.
func (d *Draft) Import(src SourcePrescription, kind ImportKind) (ImportResult, error) {
	if !kind.Valid() {
		return ImportResult{}, fmt.Errorf("%w: %s", ErrUnknownImportKind, kind)
	}
	if err := d.touch(); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	prov := kind.Provenance()
	incoming := make([]*Medication, 0, len(src.Medications))
	seen := make(map[medKey]bool, len(src.Medications))
	for _, sm := range src.Medications {
		m := NewMedication()
		m.MedName = sm.MedName
		m.Dosage = sm.Dosage
		m.MedicineType = sm.MedicineType
		m.Duration = sm.Duration
		m.Frequency = sm.Frequency
		m.Timings = append([]Timing{}, sm.Timings...)
		m.Quantity = sm.Quantity
		m.Notes = sm.Notes
		m.InventoryID = sm.InventoryID
		m.Price = sm.Price
		m.Provenance = prov
		m.recompute()
		if m.IsBlank() {
			continue
		}
		if seen[m.key()] {
			res.SkippedDuplicate++
			continue
		}
		seen[m.key()] = true
		incoming = append(incoming, m)
	}

	merged := make([]*Medication, 0, len(d.rx.Diagnosis.Medications)+len(incoming))
	kept := make(map[medKey]bool, len(d.rx.Diagnosis.Medications))
	for _, m := range d.rx.Diagnosis.Medications {
		switch {
		case m.IsBlank():
			res.DroppedBlank++
		case seen[m.key()]:
			res.ReplacedExisting++
		case kept[m.key()]:
			res.SkippedDuplicate++
		default:
			kept[m.key()] = true
			merged = append(merged, m)
			continue
		}
		delete(d.rows, m.ID)
	}
	for _, m := range incoming {
		merged = append(merged, m)
		d.rows[m.ID] = &rowState{touched: make(map[string]bool), errors: m.Validate()}
	}
	d.rx.Diagnosis.Medications = merged
	res.Imported = len(incoming)

	for _, t := range src.Tests {
		name := strings.TrimSpace(t.TestName)
		if name == "" || d.hasTest(name) {
			continue
		}
		t.TestName = name
		d.rx.Diagnosis.SelectedTests = append(d.rx.Diagnosis.SelectedTests, t)
		res.TestsAdded++
	}
	return res, nil
}

// TemplateFrom builds a template from the draft's current medications and tests.
func (d *Draft) TemplateFrom(name string) SourcePrescription {
	t := SourcePrescription{
		Name:      strings.TrimSpace(name),
		DoctorID:  d.rx.DoctorInfo.DoctorID,
		CreatedAt: time.Now().UTC(),
		Diagnosis: append([]string(nil), d.rx.Diagnosis.DiagnosisList...),
		Tests:     append([]SelectedTest(nil), d.rx.Diagnosis.SelectedTests...),
	}
	for _, m := range d.rx.Diagnosis.Medications {
		if m.IsBlank() {
			continue
		}
		t.Medications = append(t.Medications, SourceMedication{
			MedName:      m.MedName,
			Dosage:       m.Dosage,
			MedicineType: m.MedicineType,
			Duration:     m.Duration,
			Frequency:    m.Frequency,
			Timings:      append([]Timing(nil), m.Timings...),
			Quantity:     m.Quantity,
			Notes:        m.Notes,
			InventoryID:  m.InventoryID,
			Price:        m.Price,
		})
	}
	return t
}

// Importer looks up importable prescriptions for a draft.
type Importer struct {
	source Source
	logger *zap.Logger
}

// NewImporter creates a new importer
func NewImporter(source Source, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{source: source, logger: logger}
}

// Candidates lists the prescriptions of the given kind. Source failures are
// wrapped in ErrSourceUnavailable so callers can show a retry message.
func (i *Importer) Candidates(ctx context.Context, kind ImportKind, patientID, doctorID string) ([]SourcePrescription, error) {
	var (
		list []SourcePrescription
		err  error
	)
	switch kind {
	case ImportPrevious:
		list, err = i.source.PreviousPrescriptions(ctx, patientID, doctorID)
	case ImportTemplate:
		list, err = i.source.Templates(ctx, doctorID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownImportKind, kind)
	}
	if err != nil {
		i.logger.Warn("Import source failed",
			zap.String("kind", string(kind)),
			zap.String("doctor_id", doctorID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return list, nil
}

// Find returns one candidate by id.
func (i *Importer) Find(ctx context.Context, kind ImportKind, patientID, doctorID, id string) (SourcePrescription, error) {
	list, err := i.Candidates(ctx, kind, patientID, doctorID)
	if err != nil {
		return SourcePrescription{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return SourcePrescription{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
}

// SaveTemplate stores t when the source supports saving templates.
func (i *Importer) SaveTemplate(ctx context.Context, t SourcePrescription) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template", ErrNameRequired)
	}
	saver, ok := i.source.(TemplateSaver)
	if !ok {
		return fmt.Errorf("%w: source cannot save templates", ErrSourceUnavailable)
	}
	if err := saver.SaveTemplate(ctx, t); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}
