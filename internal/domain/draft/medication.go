package draft

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/drfirst/go-rxdraft/internal/validation"
)

// MedicineType is the dispensing form of a medication.
type MedicineType string

const (
	TypeTablet    MedicineType = "Tablet"
	TypeCapsule   MedicineType = "Capsule"
	TypeInjection MedicineType = "Injection"
	TypeSyrup     MedicineType = "Syrup"
	TypeDrops     MedicineType = "Drops"
	TypeCream     MedicineType = "Cream"
	TypeOintment  MedicineType = "Ointment"
	TypeInhaler   MedicineType = "Inhaler"
	TypePowder    MedicineType = "Powder"
	TypeSpray     MedicineType = "Spray"
	TypeOther     MedicineType = "Other"
)

var medicineTypes = map[MedicineType]bool{
	TypeTablet: true, TypeCapsule: true, TypeInjection: true, TypeSyrup: true,
	TypeDrops: true, TypeCream: true, TypeOintment: true, TypeInhaler: true,
	TypePowder: true, TypeSpray: true, TypeOther: true,
}

// Valid reports whether t is a known medicine type.
func (t MedicineType) Valid() bool { return medicineTypes[t] }

// AutoQuantity reports whether quantity is derived from duration and frequency.
func (t MedicineType) AutoQuantity() bool {
	return t == TypeTablet || t == TypeCapsule || t == TypeInjection
}

// Frequency is a dose pattern such as "1-0-1" (morning-noon-night).
type Frequency string

var frequencies = map[Frequency]bool{
	"1-0-0": true, "0-1-0": true, "0-0-1": true,
	"1-1-0": true, "1-0-1": true, "0-1-1": true,
	"1-1-1": true, "1-1-1-1": true,
}

// Frequencies returns the fixed vocabulary in display order.
func Frequencies() []Frequency {
	return []Frequency{"1-0-0", "0-1-0", "0-0-1", "1-1-0", "1-0-1", "0-1-1", "1-1-1", "1-1-1-1"}
}

// Valid reports whether f is in the vocabulary.
func (f Frequency) Valid() bool { return frequencies[f] }

// DosesPerDay is the number of "1" tokens in the pattern. Unknown patterns
// yield zero.
func (f Frequency) DosesPerDay() int {
	if !f.Valid() {
		return 0
	}
	n := 0
	for _, tok := range strings.Split(string(f), "-") {
		if tok == "1" {
			n++
		}
	}
	return n
}

// Timing is a dose slot relative to meals.
type Timing string

const (
	TimingEmptyStomach    Timing = "Empty Stomach"
	TimingBeforeBreakfast Timing = "Before Breakfast"
	TimingAfterBreakfast  Timing = "After Breakfast"
	TimingBeforeLunch     Timing = "Before Lunch"
	TimingAfterLunch      Timing = "After Lunch"
	TimingBeforeDinner    Timing = "Before Dinner"
	TimingAfterDinner     Timing = "After Dinner"
	TimingBedtime         Timing = "Bedtime"
)

var timings = map[Timing]bool{
	TimingEmptyStomach: true, TimingBeforeBreakfast: true, TimingAfterBreakfast: true,
	TimingBeforeLunch: true, TimingAfterLunch: true, TimingBeforeDinner: true,
	TimingAfterDinner: true, TimingBedtime: true,
}

// Valid reports whether t is a known timing.
func (t Timing) Valid() bool { return timings[t] }

// Provenance records where a medication row came from.
type Provenance string

const (
	ProvenanceManual   Provenance = "manual"
	ProvenanceTemplate Provenance = "template"
	ProvenancePrevious Provenance = "previous"
)

var dosagePattern = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s?(mg|mcg|g|ml|iu|units?|%|tabs?|caps?|drops?|puffs?)(\s?/\s?\d*(\.\d+)?\s?(ml|g|kg|dose))?$`)

func init() {
	validation.RegisterRule("dosage", "must look like 500mg, 5 ml or 2 puffs", func(fl validator.FieldLevel) bool {
		return dosagePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	validation.RegisterRule("frequency", "must be a pattern such as 1-0-1", func(fl validator.FieldLevel) bool {
		return Frequency(fl.Field().String()).Valid()
	})
	validation.RegisterRule("medicine_type", "is not a known medicine type", func(fl validator.FieldLevel) bool {
		return MedicineType(fl.Field().String()).Valid()
	})
}

// Medication is one row of the prescription's medication list.
type Medication struct {
	ID              string       `json:"id"`
	MedName         string       `json:"med_name" validate:"required"`
	Dosage          string       `json:"dosage" validate:"required,dosage"`
	MedicineType    MedicineType `json:"medicine_type" validate:"required,medicine_type"`
	Duration        int          `json:"duration" validate:"gte=1,lte=365"`
	Frequency       Frequency    `json:"frequency" validate:"required,frequency"`
	Timings         []Timing     `json:"timings"`
	Quantity        int          `json:"quantity" validate:"gte=1"`
	Notes           string       `json:"notes,omitempty"`
	Provenance      Provenance   `json:"provenance"`
	CatalogSelected bool         `json:"catalog_selected"`
	InventoryID     string       `json:"inventory_id,omitempty"`
	Price           float64      `json:"price,omitempty"`
}

// NewMedication returns a blank manually entered row with a fresh id.
func NewMedication() *Medication {
	return &Medication{
		ID:         uuid.New().String(),
		Provenance: ProvenanceManual,
		Timings:    []Timing{},
	}
}

// DosageLocked reports whether dosage may not be edited by hand.
func (m *Medication) DosageLocked() bool {
	return m.CatalogSelected || m.imported()
}

// NameLocked reports whether the medicine name may not be edited.
func (m *Medication) NameLocked() bool { return m.imported() }

// QuantityLocked reports whether quantity is derived rather than entered.
func (m *Medication) QuantityLocked() bool { return m.MedicineType.AutoQuantity() }

// TimingLimit is the maximum number of timings allowed by the frequency.
func (m *Medication) TimingLimit() int { return m.Frequency.DosesPerDay() }

// IsBlank reports whether the row carries no medicine yet.
func (m *Medication) IsBlank() bool {
	return strings.TrimSpace(m.MedName) == "" && strings.TrimSpace(m.Dosage) == ""
}

func (m *Medication) imported() bool {
	return m.Provenance == ProvenanceTemplate || m.Provenance == ProvenancePrevious
}

// recompute enforces the derived fields: timings are truncated to the
// frequency's dose count and quantity follows duration for auto types.
func (m *Medication) recompute() {
	limit := m.TimingLimit()
	if len(m.Timings) > limit {
		m.Timings = m.Timings[:limit]
	}
	if m.MedicineType.AutoQuantity() {
		if m.Duration > 0 {
			m.Quantity = m.Duration * limit
		} else {
			m.Quantity = 0
		}
	}
}

// Validate returns the row's field errors, or nil when the row is complete.
func (m *Medication) Validate() validation.FieldErrors {
	errs := validation.Struct(m)
	seen := make(map[Timing]bool, len(m.Timings))
	for _, t := range m.Timings {
		if !t.Valid() {
			errs = errs.Merge(validation.FieldErrors{"timings": "contains an unknown timing: " + string(t)})
			break
		}
		if seen[t] {
			errs = errs.Merge(validation.FieldErrors{"timings": "contains a duplicate timing"})
			break
		}
		seen[t] = true
	}
	if limit := m.TimingLimit(); len(m.Timings) > limit {
		errs = errs.Merge(validation.FieldErrors{"timings": "allows at most " + strconv.Itoa(limit) + " selections for this frequency"})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (m *Medication) clone() *Medication {
	c := *m
	c.Timings = append([]Timing{}, m.Timings...)
	return &c
}

type medKey struct {
	name   string
	dosage string
}

func (m *Medication) key() medKey { return medKey{name: m.MedName, dosage: m.Dosage} }

// CatalogItem is an inventory entry the doctor picked from the medicine search.
type CatalogItem struct {
	InventoryID  string       `json:"inventory_id"`
	Name         string       `json:"name"`
	Dosage       string       `json:"dosage"`
	MedicineType MedicineType `json:"medicine_type,omitempty"`
	Price        float64      `json:"price"`
	Stock        int          `json:"stock,omitempty"`
}

// MedicationPatch carries the fields a section editor changed. Nil fields are
// left alone.
type MedicationPatch struct {
	MedName      *string       `json:"med_name,omitempty"`
	Dosage       *string       `json:"dosage,omitempty"`
	MedicineType *MedicineType `json:"medicine_type,omitempty"`
	Duration     *int          `json:"duration,omitempty"`
	Frequency    *Frequency    `json:"frequency,omitempty"`
	Timings      *[]Timing     `json:"timings,omitempty"`
	Quantity     *int          `json:"quantity,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
}
