package draft

import (
	"fmt"
	"strings"

	"github.com/drfirst/go-rxdraft/internal/validation"
)

// AddMedication appends a blank row. The first row is always accepted; after
// that the previous row must validate, otherwise its fields are marked
// touched and a *RowInvalidError is returned.
func (d *Draft) AddMedication() (*Medication, error) {
	meds := d.rx.Diagnosis.Medications
	if n := len(meds); n > 0 {
		last := meds[n-1]
		if errs := last.Validate(); !errs.Empty() {
			st := d.row(last.ID)
			st.errors = errs
			for field := range errs {
				st.touched[field] = true
			}
			return nil, &RowInvalidError{MedicationID: last.ID, Errors: errs}
		}
	}
	if err := d.touch(); err != nil {
		return nil, err
	}
	m := NewMedication()
	d.rx.Diagnosis.Medications = append(meds, m)
	d.rows[m.ID] = &rowState{touched: make(map[string]bool)}
	return m.clone(), nil
}

// RemoveMedication deletes a row and its validation state.
func (d *Draft) RemoveMedication(id string) error {
	i := d.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMedicationNotFound, id)
	}
	if err := d.touch(); err != nil {
		return err
	}
	meds := d.rx.Diagnosis.Medications
	d.rx.Diagnosis.Medications = append(meds[:i:i], meds[i+1:]...)
	delete(d.rows, id)
	return nil
}

// UpdateMedication applies a patch to one row. The patch is applied to a
// copy and committed only when no field is locked, so a rejected patch
// leaves the row unchanged. Field errors of the result are returned but do
// not reject the patch.
func (d *Draft) UpdateMedication(id string, p MedicationPatch) (*Medication, validation.FieldErrors, error) {
	i := d.indexOf(id)
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMedicationNotFound, id)
	}
	if d.status != StatusEditing {
		return nil, nil, ErrDraftClosed
	}

	cur := d.rx.Diagnosis.Medications[i]
	next := cur.clone()
	var touched []string

	if p.MedName != nil && *p.MedName != cur.MedName {
		if cur.NameLocked() {
			return nil, nil, fmt.Errorf("%w: med_name", ErrFieldLocked)
		}
		next.MedName = *p.MedName
		if next.CatalogSelected && !strings.EqualFold(strings.TrimSpace(next.MedName), strings.TrimSpace(cur.MedName)) {
			next.CatalogSelected = false
			next.InventoryID = ""
			next.Price = 0
		}
		touched = append(touched, "med_name")
	}
	if p.Dosage != nil && *p.Dosage != next.Dosage {
		if next.DosageLocked() {
			return nil, nil, fmt.Errorf("%w: dosage", ErrFieldLocked)
		}
		next.Dosage = *p.Dosage
		touched = append(touched, "dosage")
	}
	if p.MedicineType != nil {
		next.MedicineType = *p.MedicineType
		touched = append(touched, "medicine_type")
	}
	if p.Duration != nil {
		next.Duration = *p.Duration
		touched = append(touched, "duration")
	}
	if p.Frequency != nil {
		next.Frequency = *p.Frequency
		touched = append(touched, "frequency")
	}
	if p.Quantity != nil && *p.Quantity != next.Quantity {
		if next.QuantityLocked() {
			return nil, nil, fmt.Errorf("%w: quantity", ErrFieldLocked)
		}
		next.Quantity = *p.Quantity
		touched = append(touched, "quantity")
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
		touched = append(touched, "notes")
	}

	// Frequency, duration and type changes run before timings so the limit
	// checked below is the one of the patched row.
	next.recompute()

	if p.Timings != nil {
		if limit := next.TimingLimit(); len(*p.Timings) > limit {
			return nil, nil, fmt.Errorf("%w: %d allowed", ErrTooManyTimings, limit)
		}
		next.Timings = append([]Timing{}, (*p.Timings)...)
		touched = append(touched, "timings")
	}

	if err := d.touch(); err != nil {
		return nil, nil, err
	}
	d.rx.Diagnosis.Medications[i] = next
	errs := d.revalidate(next, touched...)
	return next.clone(), errs, nil
}

// SelectCatalogItem fills a row from an inventory entry and locks its dosage.
func (d *Draft) SelectCatalogItem(id string, item CatalogItem) (*Medication, validation.FieldErrors, error) {
	i := d.indexOf(id)
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMedicationNotFound, id)
	}
	cur := d.rx.Diagnosis.Medications[i]
	if cur.NameLocked() {
		return nil, nil, fmt.Errorf("%w: med_name", ErrFieldLocked)
	}
	if err := d.touch(); err != nil {
		return nil, nil, err
	}
	next := cur.clone()
	next.MedName = item.Name
	next.Dosage = item.Dosage
	next.InventoryID = item.InventoryID
	next.Price = item.Price
	next.CatalogSelected = true
	if item.MedicineType != "" {
		next.MedicineType = item.MedicineType
	}
	next.recompute()
	d.rx.Diagnosis.Medications[i] = next
	errs := d.revalidate(next, "med_name", "dosage", "medicine_type")
	return next.clone(), errs, nil
}

func (d *Draft) indexOf(id string) int {
	for i, m := range d.rx.Diagnosis.Medications {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (d *Draft) row(id string) *rowState {
	st, ok := d.rows[id]
	if !ok {
		st = &rowState{touched: make(map[string]bool)}
		d.rows[id] = st
	}
	return st
}

// revalidate stores the row's errors and returns those on touched fields.
func (d *Draft) revalidate(m *Medication, touched ...string) validation.FieldErrors {
	st := d.row(m.ID)
	for _, f := range touched {
		st.touched[f] = true
	}
	st.errors = m.Validate()
	var visible validation.FieldErrors
	for f, msg := range st.errors {
		if st.touched[f] {
			visible = visible.Merge(validation.FieldErrors{f: msg})
		}
	}
	return visible
}
