package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
	"vocalq-backend/pkg/logger"
)

// SettingsSource returns the current cross-call settings.
// *settings.Store implements it.
type SettingsSource interface {
	Current() domain.Settings
}

// Manager creates sessions and tracks the ones still running
type Manager struct {
	newProcessor turn.Factory
	settings     SettingsSource
	deps         Deps
	opts         Options

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager. deps.Processor is ignored; each session gets
// a fresh processor from newProcessor. opts.Settings is replaced by a snapshot
// of settings taken when each session is created.
func NewManager(newProcessor turn.Factory, settings SettingsSource, deps Deps, opts Options) *Manager {
	return &Manager{
		newProcessor: newProcessor,
		settings:     settings,
		deps:         deps,
		opts:         opts,
		sessions:     make(map[string]*Session),
	}
}

// Open creates a session for a new media stream and starts running it.
// The caller feeds media events and calls Stop when the stream ends.
func (m *Manager) Open(ctx context.Context, out Outbound) *Session {
	deps := m.deps
	deps.Processor = m.newProcessor()
	opts := m.opts
	opts.Settings = m.settings.Current()

	s := New(uuid.New().String(), out, deps, opts)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.remove(s.ID())
		if err := s.Run(ctx); err != nil {
			logger.FromContext(ctx).Warn("Call session ended early", zap.String("call_id", s.ID()), zap.Error(err))
		}
	}()
	return s
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Get returns a running session
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active lists running sessions, oldest first
func (m *Manager) Active() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of running sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops every session and waits for them to persist, until ctx expires
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, s := range m.sessions {
		s.Stop()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownGrace is how long Shutdown should be given during a graceful stop
const ShutdownGrace = 20 * time.Second
