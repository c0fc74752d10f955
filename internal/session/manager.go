package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/pkg/provider/chat"
)

// DefaultMaxSessions caps concurrent connections when the config leaves it
// unset.
const DefaultMaxSessions = 64

var (
	// ErrTooManySessions is returned by Open when the cap is reached.
	ErrTooManySessions = errors.New("session: too many active sessions")

	// ErrShuttingDown is returned by Open after Shutdown was called.
	ErrShuttingDown = errors.New("session: manager is shutting down")
)

// AdapterFactory creates the chat adapter of a new session. Every session
// gets its own adapter so conversation history is never shared.
type AdapterFactory func() (chat.Adapter, error)

// ManagerConfig holds the dependencies of a [Manager].
type ManagerConfig struct {
	Pipeline   *pipeline.Pipeline
	NewAdapter AdapterFactory
	Intents    Detector

	// MaxSessions caps concurrent sessions. Defaults to DefaultMaxSessions.
	MaxSessions int64

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Manager tracks the live sessions of the server.
// All exported methods are safe for concurrent use.
type Manager struct {
	pl      *pipeline.Pipeline
	intents Detector
	metrics *observe.Metrics
	log     *slog.Logger
	sem     *semaphore.Weighted

	mu         sync.Mutex
	newAdapter AdapterFactory
	sessions   map[string]*Session
	closed     bool
}

// NewManager returns an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	limit := cfg.MaxSessions
	if limit <= 0 {
		limit = DefaultMaxSessions
	}
	m := &Manager{
		pl:         cfg.Pipeline,
		intents:    cfg.Intents,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		sem:        semaphore.NewWeighted(limit),
		newAdapter: cfg.NewAdapter,
		sessions:   make(map[string]*Session),
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// SetAdapterFactory replaces the factory used for sessions opened from now
// on. Running sessions keep their adapter.
func (m *Manager) SetAdapterFactory(f AdapterFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newAdapter = f
}

// Open creates and registers a session writing to tr. The session removes
// itself from the manager when it disconnects.
func (m *Manager) Open(ctx context.Context, tr Transport) (*Session, error) {
	m.mu.Lock()
	closed, newAdapter := m.closed, m.newAdapter
	m.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if newAdapter == nil {
		return nil, errors.New("session: no chat adapter factory configured")
	}
	if !m.sem.TryAcquire(1) {
		return nil, ErrTooManySessions
	}

	adapter, err := newAdapter()
	if err != nil {
		m.sem.Release(1)
		return nil, fmt.Errorf("session: create chat adapter: %w", err)
	}

	s := New(ctx, Config{
		ID:        uuid.NewString(),
		Pipeline:  m.pl,
		Adapter:   adapter,
		Transport: tr,
		Intents:   m.intents,
		Logger:    m.log,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.OnDisconnect()
		m.sem.Release(1)
		return nil, ErrShuttingDown
	}
	m.sessions[s.id] = s
	s.onClose = func() { m.remove(s.id) }
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("session started", "session_id", s.id)
	return s, nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.sem.Release(1)
	m.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of every live session, oldest first.
func (m *Manager) Sessions() []Info {
	out := make([]Info, 0)
	for _, s := range m.snapshot() {
		out = append(out, s.Info())
	}
	slices.SortFunc(out, func(a, b Info) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown refuses new sessions and disconnects every live one in parallel.
// It returns when all are closed or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.snapshot()
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for _, s := range sessions {
			g.Go(s.OnDisconnect)
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("session: shutdown: %w", err)
		}
		m.log.Info("all sessions closed", "count", len(sessions))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: shutdown: %w", ctx.Err())
	}
}
