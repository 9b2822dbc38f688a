package draft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StoreConfig holds draft store configuration
type StoreConfig struct {
	// TTL is how long an untouched draft survives
	TTL time.Duration
	// SweepInterval is how often expired drafts are removed
	SweepInterval time.Duration
}

// DefaultStoreConfig returns sensible defaults
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TTL:           2 * time.Hour,
		SweepInterval: time.Minute,
	}
}

type entry struct {
	mu    sync.Mutex
	draft *Draft
}

// Store keeps session drafts in memory. Mutations of one draft are
// serialized; different drafts proceed in parallel.
type Store struct {
	config StoreConfig
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time

	// OnExpire is called with the number of drafts removed by a sweep.
	OnExpire func(n int)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a new draft store
func NewStore(cfg StoreConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStoreConfig().TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultStoreConfig().SweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		config:  cfg,
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Create starts a new draft owned by owner.
func (s *Store) Create(owner string) View {
	d := New(owner)
	s.mu.Lock()
	s.entries[d.id] = &entry{draft: d}
	s.mu.Unlock()
	s.logger.Debug("Draft created", zap.String("draft_id", d.id), zap.String("owner", owner))
	return d.View()
}

// View returns the current projection of a draft.
func (s *Store) View(owner, id string) (View, error) {
	var v View
	err := s.with(owner, id, func(d *Draft) error {
		v = d.View()
		return nil
	})
	return v, err
}

// Update runs fn with exclusive access to the draft and returns the
// projection after fn. The projection is returned even when fn fails so
// editors can redraw inline errors.
func (s *Store) Update(owner, id string, fn func(d *Draft) error) (View, error) {
	var v View
	err := s.with(owner, id, func(d *Draft) error {
		ferr := fn(d)
		v = d.View()
		return ferr
	})
	return v, err
}

// Submit runs persist with the draft's content while holding the draft lock.
// When persist succeeds the draft is marked submitted and removed.
func (s *Store) Submit(owner, id string, persist func(d *Draft) error) error {
	err := s.with(owner, id, func(d *Draft) error {
		if err := d.CheckSubmittable(); err != nil {
			return err
		}
		if err := persist(d); err != nil {
			return err
		}
		return d.MarkSubmitted()
	})
	if err != nil {
		return err
	}
	s.remove(id)
	return nil
}

// Discard drops a draft.
func (s *Store) Discard(owner, id string) error {
	err := s.with(owner, id, func(d *Draft) error {
		d.markDiscarded()
		return nil
	})
	if err != nil {
		return err
	}
	s.remove(id)
	return nil
}

// Len returns the number of live drafts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) with(owner, id string, fn func(d *Draft) error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return ErrDraftNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// A draft removed while we waited for its lock is gone.
	if e.draft.status != StatusEditing || e.draft.owner != owner {
		return ErrDraftNotFound
	}
	return fn(e.draft)
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Start begins sweeping expired drafts.
func (s *Store) Start() {
	go s.sweepLoop()
	s.logger.Info("draft sweeper started",
		zap.Duration("ttl", s.config.TTL),
		zap.Duration("interval", s.config.SweepInterval))
}

// Stop stops the sweeper.
func (s *Store) Stop() {
	s.cancel()
	<-s.done
}

func (s *Store) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes drafts idle longer than the TTL and returns how many.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.config.TTL)

	s.mu.RLock()
	snapshot := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		snapshot[id] = e
	}
	s.mu.RUnlock()

	var expired []string
	for id, e := range snapshot {
		e.mu.Lock()
		if e.draft.status == StatusEditing && e.draft.updatedAt.Before(cutoff) {
			e.draft.markDiscarded()
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}

	for _, id := range expired {
		s.remove(id)
	}
	if len(expired) > 0 {
		s.logger.Info("Expired drafts removed", zap.Int("count", len(expired)))
		if s.OnExpire != nil {
			s.OnExpire(len(expired))
		}
	}
	return len(expired)
}
