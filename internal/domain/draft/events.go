package draft

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionSubmitted EventType = "PrescriptionSubmitted"
	EventTemplateSaved         EventType = "TemplateSaved"
	EventPrescriptionArchived  EventType = "PrescriptionArchived"
)

// AggregateType is stamped on every event emitted for a draft.
const AggregateType = "Prescription"

// Event is the envelope written to the outbox and published to Kafka.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// SubmittedData is the payload of PrescriptionSubmitted. It carries the
// whole draft content so consumers can render it without a lookup.
type SubmittedData struct {
	PrescriptionID string       `json:"prescription_id"`
	DraftID        string       `json:"draft_id"`
	DoctorID       string       `json:"doctor_id"`
	PatientID      string       `json:"patient_id"`
	SubmittedBy    string       `json:"submitted_by"`
	SubmittedAt    time.Time    `json:"submitted_at"`
	Prescription   Prescription `json:"prescription"`
}

// NewSubmittedEvent builds the submission event for d.
func NewSubmittedEvent(d *Draft, prescriptionID, userID string) (*Event, error) {
	rx := d.Prescription()
	data := SubmittedData{
		PrescriptionID: prescriptionID,
		DraftID:        d.id,
		DoctorID:       rx.DoctorInfo.DoctorID,
		PatientID:      rx.PatientInfo.PatientID,
		SubmittedBy:    userID,
		SubmittedAt:    time.Now().UTC(),
		Prescription:   rx,
	}
	ev, err := NewEvent(prescriptionID, EventPrescriptionSubmitted, data)
	if err != nil {
		return nil, err
	}
	ev.UserID = userID
	return ev, nil
}

// DecodeSubmitted parses the payload of a PrescriptionSubmitted event.
func DecodeSubmitted(ev *Event) (SubmittedData, error) {
	var data SubmittedData
	err := json.Unmarshal(ev.EventData, &data)
	return data, err
}
