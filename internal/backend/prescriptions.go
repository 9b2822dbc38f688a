package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
)

// PreviousPrescriptions lists the patient's past prescriptions written by
// the doctor, newest first.
func (c *Client) PreviousPrescriptions(ctx context.Context, patientID, doctorID string) ([]draft.SourcePrescription, error) {
	var resp envelope[[]draft.SourcePrescription]
	q := url.Values{"patient_id": {patientID}, "doctor_id": {doctorID}}
	if err := c.do(ctx, "GET", "/prescriptions", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list previous prescriptions: %w", err)
	}
	return resp.Data, nil
}

// Templates lists the doctor's saved templates.
func (c *Client) Templates(ctx context.Context, doctorID string) ([]draft.SourcePrescription, error) {
	var resp envelope[[]draft.SourcePrescription]
	q := url.Values{"doctor_id": {doctorID}}
	if err := c.do(ctx, "GET", "/templates", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return resp.Data, nil
}

// SaveTemplate stores a new template for the doctor.
func (c *Client) SaveTemplate(ctx context.Context, t draft.SourcePrescription) error {
	if err := c.do(ctx, "POST", "/templates", nil, t, nil); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// Doctor returns the doctor header used to prefill new drafts.
func (c *Client) Doctor(ctx context.Context, doctorID string) (draft.DoctorInfo, error) {
	var resp envelope[draft.DoctorInfo]
	if err := c.do(ctx, "GET", "/doctors/"+url.PathEscape(doctorID), nil, nil, &resp); err != nil {
		return draft.DoctorInfo{}, fmt.Errorf("get doctor: %w", err)
	}
	return resp.Data, nil
}

// Patient returns the patient record used to prefill new drafts.
func (c *Client) Patient(ctx context.Context, patientID string) (draft.PatientInfo, error) {
	var resp envelope[draft.PatientInfo]
	if err := c.do(ctx, "GET", "/patients/"+url.PathEscape(patientID), nil, nil, &resp); err != nil {
		return draft.PatientInfo{}, fmt.Errorf("get patient: %w", err)
	}
	return resp.Data, nil
}
