// Package settings holds the cross-call configuration an administrator can
// change at runtime. Every instance keeps an in-process copy that is replaced
// atomically; sessions take a snapshot when they are created.
package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	redisrepo "vocalq-backend/internal/repository/redis"
)

// DefaultGreeting is spoken when no greeting was configured
const DefaultGreeting = "Hello, this is VocalQ from Tekisho. Which language do you prefer?"

// Defaults returns the settings used before anything is saved
func Defaults() domain.Settings {
	return domain.Settings{Greeting: DefaultGreeting, InboundEnabled: false}
}

// Repository persists settings and fans changes out across instances.
// *redis.SettingsRepository implements it.
type Repository interface {
	Load(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
	Subscribe(ctx context.Context) <-chan domain.Settings
}

// Store is the process-wide settings holder
type Store struct {
	current atomic.Pointer[domain.Settings]
	repo    Repository
	log     *zap.Logger

	// serializes read-modify-write updates
	mu sync.Mutex
}

// NewStore creates a store holding defaults. repo may be nil for a
// single-instance deployment.
func NewStore(defaults domain.Settings, repo Repository, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{repo: repo, log: log}
	s.current.Store(&defaults)
	return s
}

// Current returns a snapshot of the settings
func (s *Store) Current() domain.Settings {
	return *s.current.Load()
}

// Load replaces the defaults with the persisted settings, if any
func (s *Store) Load(ctx context.Context) {
	if s.repo == nil {
		return
	}
	loaded, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, redisrepo.ErrSettingsNotFound):
		s.log.Info("No stored settings, using defaults")
		return
	case err != nil:
		s.log.Warn("Failed to load settings, using defaults", zap.Error(err))
		return
	}
	if loaded.Greeting == "" {
		loaded.Greeting = DefaultGreeting
	}
	s.current.Store(&loaded)
	s.log.Info("Settings loaded", zap.Bool("inbound_enabled", loaded.InboundEnabled))
}

// Update applies fn to a copy of the settings, swaps it in and persists it.
// The local copy is replaced even when persisting fails; the error is returned
// so the caller can report it.
func (s *Store) Update(ctx context.Context, fn func(*domain.Settings)) (domain.Settings, error) {
	s.mu.Lock()
	next := s.Current()
	fn(&next)
	next.UpdatedAt = time.Now().UTC()
	s.current.Store(&next)
	s.mu.Unlock()

	if s.repo == nil {
		return next, nil
	}
	if err := s.repo.Save(ctx, next); err != nil {
		s.log.Warn("Settings changed locally but not persisted", zap.Error(err))
		return next, err
	}
	return next, nil
}

// Watch applies snapshots published by other instances until ctx is done
func (s *Store) Watch(ctx context.Context) {
	if s.repo == nil {
		return
	}
	updates := s.repo.Subscribe(ctx)
	if updates == nil {
		s.log.Warn("Settings subscription unavailable, changes from other instances will not be seen")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			s.apply(next)
		}
	}
}

// apply keeps the newest snapshot; an older one arriving late is ignored
func (s *Store) apply(next domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.Current(); next.UpdatedAt.Before(cur.UpdatedAt) {
		return
	}
	s.current.Store(&next)
	s.log.Debug("Settings updated from another instance")
}
