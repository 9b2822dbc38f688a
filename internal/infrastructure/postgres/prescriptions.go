package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
)

//go:embed schema.sql
var schema string

// ErrPrescriptionNotFound is returned by Get for unknown ids.
var ErrPrescriptionNotFound = errors.New("prescription not found")

// Migrate creates the tables used by the submission pipeline. Statements
// are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Receipt is returned for a stored submission.
type Receipt struct {
	PrescriptionID string    `json:"prescription_id"`
	EventID        string    `json:"event_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Submitted is a prescription as stored at submission time.
type Submitted struct {
	ID           string             `json:"id"`
	DraftID      string             `json:"draft_id"`
	DoctorID     string             `json:"doctor_id"`
	PatientID    string             `json:"patient_id"`
	SubmittedBy  string             `json:"submitted_by"`
	CreatedAt    time.Time          `json:"created_at"`
	Prescription draft.Prescription `json:"prescription"`
}

// PrescriptionStore persists submitted prescriptions and doctor templates.
// It is also the local import source.
type PrescriptionStore struct {
	pool   *pgxpool.Pool
	topic  string
	limit  int
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPrescriptionStore creates a store whose submissions are announced on
// topic through the outbox.
func NewPrescriptionStore(pool *pgxpool.Pool, topic string, logger *zap.Logger) *PrescriptionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionStore{
		pool:   pool,
		topic:  topic,
		limit:  20,
		logger: logger,
		tracer: otel.Tracer("prescription-store"),
	}
}

// Submit stores the draft content and its PrescriptionSubmitted event in one
// transaction.
func (s *PrescriptionStore) Submit(ctx context.Context, d *draft.Draft, userID string) (Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "prescription_submit",
		trace.WithAttributes(attribute.String("draft_id", d.ID())))
	defer span.End()

	id := uuid.New().String()
	ev, err := draft.NewSubmittedEvent(d, id, userID)
	if err != nil {
		return Receipt{}, fmt.Errorf("build event: %w", err)
	}
	rx := d.Prescription()
	document, err := json.Marshal(rx)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode prescription: %w", err)
	}
	src := d.TemplateFrom("")
	src.ID = id
	src.PatientID = rx.PatientInfo.PatientID
	src.CreatedAt = ev.Timestamp
	source, err := json.Marshal(src)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode import source: %w", err)
	}
	entry, err := EntryFromEvent(ev, s.topic, rx.PatientInfo.PatientID)
	if err != nil {
		return Receipt{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions (id, draft_id, doctor_id, patient_id, submitted_by, document, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, query,
		id, d.ID(), rx.DoctorInfo.DoctorID, rx.PatientInfo.PatientID, userID,
		document, source, ev.Timestamp,
	); err != nil {
		span.RecordError(err)
		return Receipt{}, fmt.Errorf("insert prescription: %w", err)
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		span.RecordError(err)
		return Receipt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("prescription submitted",
		zap.String("prescription_id", id),
		zap.String("draft_id", d.ID()),
		zap.String("doctor_id", rx.DoctorInfo.DoctorID))

	return Receipt{PrescriptionID: id, EventID: ev.ID, SubmittedAt: ev.Timestamp}, nil
}

// Get loads a submitted prescription.
func (s *PrescriptionStore) Get(ctx context.Context, id string) (*Submitted, error) {
	query := `
		SELECT id, draft_id, doctor_id, patient_id, submitted_by, document, created_at
		FROM prescriptions
		WHERE id = $1
	`
	p := &Submitted{}
	var document []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.DraftID, &p.DoctorID, &p.PatientID, &p.SubmittedBy, &document, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if err := json.Unmarshal(document, &p.Prescription); err != nil {
		return nil, fmt.Errorf("decode prescription %s: %w", id, err)
	}
	return p, nil
}

// PreviousPrescriptions lists the patient's submitted prescriptions, newest
// first. An empty doctorID lists every doctor's.
func (s *PrescriptionStore) PreviousPrescriptions(ctx context.Context, patientID, doctorID string) ([]draft.SourcePrescription, error) {
	query := `
		SELECT source
		FROM prescriptions
		WHERE patient_id = $1
		  AND ($2 = '' OR doctor_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, patientID, doctorID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query previous prescriptions: %w", err)
	}
	return scanSources(rows)
}

// Templates lists the doctor's templates by name.
func (s *PrescriptionStore) Templates(ctx context.Context, doctorID string) ([]draft.SourcePrescription, error) {
	query := `
		SELECT source
		FROM prescription_templates
		WHERE doctor_id = $1
		ORDER BY name ASC
	`
	rows, err := s.pool.Query(ctx, query, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	return scanSources(rows)
}

// SaveTemplate inserts the template or replaces the doctor's template of the
// same name, and announces it with a TemplateSaved event.
func (s *PrescriptionStore) SaveTemplate(ctx context.Context, t draft.SourcePrescription) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	source, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescription_templates (id, doctor_id, name, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, name) DO UPDATE
		SET source = jsonb_set(EXCLUDED.source, '{id}', to_jsonb(prescription_templates.id::text)),
		    updated_at = NOW()
		RETURNING id::text
	`
	var id string
	if err := tx.QueryRow(ctx, query, t.ID, t.DoctorID, t.Name, source).Scan(&id); err != nil {
		return fmt.Errorf("save template: %w", err)
	}

	ev, err := draft.NewEvent(id, draft.EventTemplateSaved, map[string]interface{}{
		"template_id": id,
		"doctor_id":   t.DoctorID,
		"name":        t.Name,
		"medications": len(t.Medications),
	})
	if err != nil {
		return err
	}
	entry, err := EntryFromEvent(ev, s.topic, t.DoctorID)
	if err != nil {
		return err
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanSources(rows pgx.Rows) ([]draft.SourcePrescription, error) {
	defer rows.Close()
	var out []draft.SourcePrescription
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		var sp draft.SourcePrescription
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, fmt.Errorf("decode source: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
