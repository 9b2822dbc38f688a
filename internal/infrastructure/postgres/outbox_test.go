package postgres

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
)

func TestEntryFromEvent(t *testing.T) {
	d := draft.New("u1")
	if _, err := d.SetDoctorInfo(draft.DoctorInfo{DoctorID: "doc-1", Name: "Dr. Rao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetPatientInfo(draft.PatientInfo{PatientID: "pat-9", Name: "Asha"}); err != nil {
		t.Fatal(err)
	}
	ev, err := draft.NewSubmittedEvent(d, "rx-1", "u1")
	if err != nil {
		t.Fatal(err)
	}

	entry, err := EntryFromEvent(ev, "prescription.submitted", "pat-9")
	if err != nil {
		t.Fatal(err)
	}
	if entry.AggregateID != "rx-1" || entry.EventType != "PrescriptionSubmitted" || entry.KafkaKey != "pat-9" {
		t.Errorf("unexpected entry %+v", entry)
	}

	var back draft.Event
	if err := json.Unmarshal(entry.Payload, &back); err != nil {
		t.Fatal(err)
	}
	data, err := draft.DecodeSubmitted(&back)
	if err != nil {
		t.Fatal(err)
	}
	if data.DoctorID != "doc-1" || data.PatientID != "pat-9" || data.DraftID != d.ID() {
		t.Errorf("payload lost fields: %+v", data)
	}
}

func TestDeadLetterPayload(t *testing.T) {
	msg := "broker down"
	entry := &OutboxEntry{
		ID:          7,
		AggregateID: "rx-1",
		EventType:   "PrescriptionSubmitted",
		Payload:     json.RawMessage(`{"id":"ev-1"}`),
		KafkaTopic:  "prescription.submitted",
		RetryCount:  5,
		LastError:   &msg,
		CreatedAt:   time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	raw, err := deadLetterPayload(entry)
	if err != nil {
		t.Fatal(err)
	}
	var dl deadLetter
	if err := json.Unmarshal(raw, &dl); err != nil {
		t.Fatal(err)
	}
	if dl.OriginalTopic != "prescription.submitted" || dl.RetryCount != 5 || *dl.LastError != msg {
		t.Errorf("unexpected dead letter %+v", dl)
	}
	if string(dl.Payload) != `{"id":"ev-1"}` {
		t.Errorf("payload should be embedded verbatim, got %s", dl.Payload)
	}
}

func TestDefaultsFillZeroConfig(t *testing.T) {
	o := NewOutbox(nil, nil, OutboxConfig{}, nil)
	if o.config.BatchSize != 100 || o.config.DeadLetterTopic != "prescription.dead-letter" {
		t.Errorf("defaults not applied: %+v", o.config)
	}
}
