package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"climate-explorer/internal/models"
	"climate-explorer/internal/repository"
	"climate-explorer/pkg/logging"
	"climate-explorer/pkg/metrics"
)

var (
	// ErrTooManySessions is returned when the store is full.
	ErrTooManySessions = errors.New("too many active sessions")
	// ErrNoDataset is returned when a session has no dataset loaded yet.
	ErrNoDataset = errors.New("no dataset loaded in this session")
)

// Session is one explorer user's view. The dataset pointer is swapped
// atomically so an in-flight aggregation sees either the old or the new
// dataset in full.
type Session struct {
	ID        string
	CreatedAt time.Time

	dataset  atomic.Pointer[models.Dataset]
	lastSeen atomic.Int64
}

// Dataset returns the current dataset snapshot, or nil.
func (s *Session) Dataset() *models.Dataset {
	return s.dataset.Load()
}

// LastSeen returns the time the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// SessionOptions bounds a SessionStore.
type SessionOptions struct {
	TTL         time.Duration
	MaxSessions int
}

// SessionStore keeps explorer sessions in memory and expires idle ones.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	opts    SessionOptions
	now     func() time.Time
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSessionStore creates an empty store
func NewSessionStore(opts SessionOptions, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		opts:     opts,
		now:      time.Now,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Create registers a new session, optionally preloaded with ds.
func (s *SessionStore) Create(ctx context.Context, ds *models.Dataset) (*Session, error) {
	now := s.now()
	sess := &Session{ID: uuid.NewString(), CreatedAt: now.UTC()}
	sess.touch(now)
	if ds != nil {
		sess.dataset.Store(ds)
	}

	s.mu.Lock()
	if s.opts.MaxSessions > 0 && len(s.sessions) >= s.opts.MaxSessions {
		s.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Set(float64(n))
	s.logger.Info(logging.WithSessionID(ctx, sess.ID), "[SESSION_CREATE] Session created", logging.Fields{
		"active_sessions": n,
		"preloaded":       ds != nil,
	})
	return sess, nil
}

// Get returns a live session and marks it as used.
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, &repository.NotFoundError{Resource: "session", ID: id}
	}
	sess.touch(s.now())
	return sess, nil
}

// Snapshot returns the session's current dataset.
func (s *SessionStore) Snapshot(id string) (*models.Dataset, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	ds := sess.Dataset()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return ds, nil
}

// Replace swaps the session's dataset and returns the previous one.
func (s *SessionStore) Replace(ctx context.Context, id string, ds *models.Dataset) (*models.Dataset, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	old := sess.dataset.Swap(ds)

	s.metrics.DatasetSwapTotal.Inc()
	fields := logging.Fields{
		"dataset_id":   ds.ID(),
		"dataset_name": ds.Info().Name,
		"rows":         ds.Len(),
	}
	if old != nil {
		fields["previous_dataset_id"] = old.ID()
	}
	s.logger.Info(logging.WithSessionID(ctx, id), "[SESSION_DATASET] Session dataset replaced", fields)
	return old, nil
}

// Delete removes a session. Unknown IDs are ignored.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.ActiveSessions.Set(float64(n))
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (s *SessionStore) Sweep(ctx context.Context) int {
	if s.opts.TTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.TTL).UnixNano()

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Load() < cutoff {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Set(float64(n))
	if removed > 0 {
		s.logger.Info(ctx, "[SESSION_SWEEP] Expired idle sessions", logging.Fields{
			"removed":         removed,
			"active_sessions": n,
		})
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
