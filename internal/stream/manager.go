package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/auralyze/internal/observe"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

// defaultReapInterval is used when ManagerConfig.ReapInterval is zero.
const defaultReapInterval = 5 * time.Second

// ManagerConfig holds limits and dependencies for a [Manager].
type ManagerConfig struct {
	// MaxSessions caps concurrent sessions. Must be positive.
	MaxSessions int

	// IdleTimeout closes sessions that received nothing for this long.
	// 0 disables reaping.
	IdleTimeout time.Duration

	// ReapInterval is how often idle sessions are checked.
	ReapInterval time.Duration

	// Session is applied to every new session.
	Session SessionConfig

	// Classifier is shared by all sessions. Required.
	Classifier classifier.Classifier

	// Budget is the global buffered-byte cap. Nil means unlimited.
	Budget *Budget

	// Recorder, if non-nil, receives every successful result.
	Recorder Recorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Manager tracks active sessions and owns their shared resources.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg        ManagerConfig
	classifier classifier.Classifier
	budget     *Budget
	metrics    *observe.Metrics
	log        *slog.Logger

	maxSessions atomic.Int64
	idleTimeout atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates cfg and returns a ready manager. Call [Manager.Run]
// to start idle reaping and [Manager.Shutdown] to drain.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("stream: manager: classifier is required")
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("stream: manager: max sessions must be positive, got %d", cfg.MaxSessions)
	}
	if !cfg.Session.Format.IsValid() {
		return nil, fmt.Errorf("stream: manager: unknown sample format %q", cfg.Session.Format)
	}
	if cfg.Session.ClassifierTimeout <= 0 {
		return nil, fmt.Errorf("stream: manager: classifier timeout must be positive")
	}
	if err := cfg.Session.Features.Validate(); err != nil {
		return nil, fmt.Errorf("stream: manager: %w", err)
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if cfg.Budget == nil {
		cfg.Budget = NewBudget(0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		classifier: classifier.Checked(cfg.Classifier),
		budget:     cfg.Budget,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		sessions:   make(map[string]*Session),
	}
	m.maxSessions.Store(int64(cfg.MaxSessions))
	m.idleTimeout.Store(int64(cfg.IdleTimeout))
	return m, nil
}

// Budget returns the shared byte budget.
func (m *Manager) Budget() *Budget { return m.budget }

// Draining reports whether [Manager.Shutdown] has been called.
func (m *Manager) Draining() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// SetLimits changes the session cap and idle timeout at runtime. Existing
// sessions above a lowered cap are not closed.
func (m *Manager) SetLimits(maxSessions int, idleTimeout time.Duration) {
	if maxSessions > 0 {
		m.maxSessions.Store(int64(maxSessions))
	}
	m.idleTimeout.Store(int64(idleTimeout))
	m.log.Info("stream: limits updated", "max_sessions", maxSessions, "idle_timeout", idleTimeout)
}

// CreateSession registers a session for t and starts its run goroutine.
// At capacity it returns an error wrapping [ErrResourceExhausted] and
// creates no state.
func (m *Manager) CreateSession(t Transport) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if limit := m.maxSessions.Load(); int64(len(m.sessions)) >= limit {
		m.mu.Unlock()
		m.metrics.SessionsRejected.Add(context.Background(), 1)
		m.log.Warn("stream: session rejected at capacity", "max_sessions", limit)
		return nil, NewError(KindResourceExhausted, fmt.Errorf("%d concurrent sessions", limit))
	}
	ext, err := features.New(m.cfg.Session.Features)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("stream: create session: %w", err)
	}
	s := newSession(sessionParams{
		id:         uuid.NewString(),
		cfg:        m.cfg.Session,
		transport:  t,
		extractor:  ext,
		classifier: m.classifier,
		budget:     m.budget,
		recorder:   m.cfg.Recorder,
		metrics:    m.metrics,
		log:        m.log,
		onClose:    m.deregister,
	})
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	go s.run()
	return s, nil
}

// deregister removes s from the registry. Called from s's teardown.
func (m *Manager) deregister(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.id]
	if ok && cur == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	if ok && cur == s {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// RemoveSession closes the session with the given id and waits for its
// teardown or ctx.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEachSession calls fn for every registered session until fn returns
// false. fn runs on a snapshot, outside the registry lock, so it may call
// back into the manager.
func (m *Manager) ForEachSession(fn func(*Session) bool) {
	for _, s := range m.snapshot() {
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Run reaps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

// reap closes every session idle for longer than the idle timeout and
// returns how many sessions it ended. A session blocked on the global budget
// is not idle. If nothing idle was closed and a session has been blocked for
// longer than the idle timeout, the longest waiter is evicted so the
// remaining sessions can make progress.
func (m *Manager) reap(now time.Time) int {
	timeout := time.Duration(m.idleTimeout.Load())
	if timeout <= 0 {
		return 0
	}
	n := 0
	var stalled *Session
	var longest time.Duration
	m.ForEachSession(func(s *Session) bool {
		if wait := s.waitingFor(now); wait > 0 {
			if wait > timeout && wait > longest {
				stalled, longest = s, wait
			}
			return true
		}
		if idle := s.idleSince(now); idle > timeout {
			m.log.Info("stream: closing idle session", "session_id", s.id, "idle", idle)
			s.Close()
			n++
		}
		return true
	})
	if n == 0 && stalled != nil {
		m.log.Warn("stream: evicting session blocked on buffer cap",
			"session_id", stalled.id, "waited", longest, "buffered_total", m.budget.Used())
		stalled.evict(longest)
		n++
	}
	return n
}

// Shutdown refuses new sessions, asks every session to finish its buffered
// windows, and waits. Sessions still running when ctx is done are closed
// forcibly; the returned error reports them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.snapshot()
	m.log.Info("stream: draining sessions", "count", len(sessions))
	for _, s := range sessions {
		s.Stop()
	}

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				s.Close()
				<-s.Done()
				return fmt.Errorf("stream: session %s force-closed: %w", s.id, ctx.Err())
			}
		})
	}
	return g.Wait()
}
