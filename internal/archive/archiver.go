// Package archive turns PrescriptionSubmitted events into printable HTML
// documents stored in the object store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/internal/domain/draft"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/objectstore"
	"github.com/drfirst/go-rxdraft/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxdraft/internal/render"
	"github.com/drfirst/go-rxdraft/pkg/workerpool"
)

// Uploader stores rendered documents.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte, meta map[string]string) (objectstore.Object, error)
}

// Publisher announces archived documents and dead letters.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// ArchivedData is the payload of PrescriptionArchived.
type ArchivedData struct {
	PrescriptionID string    `json:"prescription_id"`
	DoctorID       string    `json:"doctor_id"`
	PatientID      string    `json:"patient_id"`
	Bucket         string    `json:"bucket"`
	Key            string    `json:"key"`
	ETag           string    `json:"etag"`
	Size           int64     `json:"size"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// Config holds archiver settings
type Config struct {
	Pool            workerpool.Config
	ArchivedTopic   string
	DeadLetterTopic string
}

// DefaultConfig returns archiver defaults
func DefaultConfig() Config {
	return Config{
		Pool:            workerpool.DefaultConfig(),
		ArchivedTopic:   redpanda.TopicPrescriptionArchived,
		DeadLetterTopic: redpanda.TopicDeadLetter,
	}
}

// Archiver renders and uploads submitted prescriptions through a bounded
// worker pool.
type Archiver struct {
	renderer *render.Renderer
	store    Uploader
	pub      Publisher
	pool     *workerpool.Pool
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	// OnResult, if set, is called with "archived", "skipped" or "failed".
	OnResult func(outcome string)
}

// New creates an archiver. Call Start before handing it batches.
func New(renderer *render.Renderer, store Uploader, pub Publisher, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchivedTopic == "" {
		cfg.ArchivedTopic = redpanda.TopicPrescriptionArchived
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = redpanda.TopicDeadLetter
	}
	a := &Archiver{
		renderer: renderer,
		store:    store,
		pub:      pub,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	pool, err := workerpool.New(cfg.Pool, a.work, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	a.pool = pool
	return a, nil
}

// Start launches the workers.
func (a *Archiver) Start() { a.pool.Start() }

// Stop drains queued work.
func (a *Archiver) Stop() error { return a.pool.Stop() }

// Stats exposes pool counters for readiness.
func (a *Archiver) Stats() workerpool.Stats { return a.pool.Stats() }

// Ready fails while the render queue is backing up.
func (a *Archiver) Ready(ctx context.Context) error {
	if !a.pool.IsHealthy() {
		st := a.pool.Stats()
		return fmt.Errorf("render queue at %d/%d", st.QueueDepth, st.QueueCapacity)
	}
	return nil
}

// ObjectKey is where a prescription document is stored. Reprocessing the
// same event overwrites the same object.
func ObjectKey(data draft.SubmittedData) string {
	doctor := data.DoctorID
	if doctor == "" {
		doctor = "unknown"
	}
	return fmt.Sprintf("prescriptions/%s/%s/%s.html",
		strings.ReplaceAll(doctor, "/", "_"),
		data.SubmittedAt.UTC().Format("2006/01/02"),
		data.PrescriptionID)
}

// HandleBatch archives every message of a polled batch concurrently. A
// message that still fails after retries goes to the dead letter topic.
// The returned error means the batch must not be committed.
func (a *Archiver) HandleBatch(ctx context.Context, msgs []*redpanda.ConsumedMessage) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg *redpanda.ConsumedMessage) {
			defer wg.Done()
			if err := a.handle(ctx, msg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (a *Archiver) handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	taskCtx := ctx
	if msg.Context != nil {
		taskCtx = msg.Context
	}
	task := &workerpool.Task{
		ID:      fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Payload: msg,
		Context: taskCtx,
	}
	res, err := a.pool.SubmitWait(ctx, task)
	if err != nil {
		return err
	}
	if res.Success {
		if res.Data == nil {
			a.report("skipped")
		} else {
			a.report("archived")
		}
		return nil
	}

	a.report("failed")
	if err := a.deadLetter(ctx, msg, res.Error); err != nil {
		return fmt.Errorf("dead letter %s: %w", task.ID, err)
	}
	return nil
}

func (a *Archiver) report(outcome string) {
	if a.OnResult != nil {
		a.OnResult(outcome)
	}
}

// work processes one message. Decode and render errors are permanent.
func (a *Archiver) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	msg := task.Payload.(*redpanda.ConsumedMessage)

	var ev draft.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return &workerpool.Result{Error: workerpool.Permanent(fmt.Errorf("decode event: %w", err))}
	}
	if ev.EventType != draft.EventPrescriptionSubmitted {
		return &workerpool.Result{Success: true}
	}
	data, err := draft.DecodeSubmitted(&ev)
	if err != nil {
		return &workerpool.Result{Error: workerpool.Permanent(fmt.Errorf("decode submission: %w", err))}
	}

	var buf bytes.Buffer
	if err := a.renderer.Prescription(&buf, data.Prescription); err != nil {
		return &workerpool.Result{Error: workerpool.Permanent(fmt.Errorf("render: %w", err))}
	}

	obj, err := a.store.Put(ctx, ObjectKey(data), render.ContentType, buf.Bytes(), map[string]string{
		"prescription-id": data.PrescriptionID,
		"patient-id":      data.PatientID,
		"event-id":        ev.ID,
	})
	if err != nil {
		return &workerpool.Result{Error: err}
	}

	archived := ArchivedData{
		PrescriptionID: data.PrescriptionID,
		DoctorID:       data.DoctorID,
		PatientID:      data.PatientID,
		Bucket:         obj.Bucket,
		Key:            obj.Key,
		ETag:           obj.ETag,
		Size:           obj.Size,
		ArchivedAt:     a.now().UTC(),
	}
	out, err := draft.NewEvent(data.PrescriptionID, draft.EventPrescriptionArchived, archived)
	if err != nil {
		return &workerpool.Result{Error: workerpool.Permanent(err)}
	}
	out.CorrelationID = ev.ID
	payload, err := json.Marshal(out)
	if err != nil {
		return &workerpool.Result{Error: workerpool.Permanent(err)}
	}
	if err := a.pub.Publish(ctx, a.config.ArchivedTopic, data.PatientID, payload); err != nil {
		return &workerpool.Result{Error: fmt.Errorf("publish archived: %w", err)}
	}

	a.logger.Info("prescription archived",
		zap.String("prescription_id", data.PrescriptionID),
		zap.String("key", obj.Key))
	return &workerpool.Result{Success: true, Data: archived}
}

type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Error         string          `json:"error"`
	Payload       json.RawMessage `json:"payload"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (a *Archiver) deadLetter(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) error {
	payload := json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		quoted, _ := json.Marshal(string(msg.Value))
		payload = quoted
	}
	body, err := json.Marshal(deadLetter{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Error:         cause.Error(),
		Payload:       payload,
		FailedAt:      a.now().UTC(),
	})
	if err != nil {
		return err
	}
	a.logger.Warn("archiving failed, sending to dead letter",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
		zap.Error(cause))
	return a.pub.Publish(ctx, a.config.DeadLetterTopic, string(msg.Key), body)
}
