package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	redisrepo "vocalq-backend/internal/repository/redis"
)

// Mocks
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Load(ctx context.Context) (domain.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Settings), args.Error(1)
}

func (m *MockRepository) Save(ctx context.Context, s domain.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) Subscribe(ctx context.Context) <-chan domain.Settings {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(chan domain.Settings)
	if ch == nil {
		return nil
	}
	return ch
}

func TestStore_DefaultsWithoutRepository(t *testing.T) {
	s := NewStore(Defaults(), nil, nil)

	cur := s.Current()
	assert.Equal(t, DefaultGreeting, cur.Greeting)
	assert.False(t, cur.InboundEnabled)

	next, err := s.Update(context.Background(), func(st *domain.Settings) { st.InboundEnabled = true })
	require.NoError(t, err)
	assert.True(t, next.InboundEnabled)
	assert.True(t, s.Current().InboundEnabled)
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("stored settings replace defaults", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Load", ctx).Return(domain.Settings{Greeting: "Namaste!", InboundEnabled: true}, nil)
		s := NewStore(Defaults(), repo, nil)
		s.Load(ctx)
		assert.Equal(t, "Namaste!", s.Current().Greeting)
		assert.True(t, s.Current().InboundEnabled)
	})

	t.Run("nothing stored", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Load", ctx).Return(domain.Settings{}, redisrepo.ErrSettingsNotFound)
		s := NewStore(Defaults(), repo, nil)
		s.Load(ctx)
		assert.Equal(t, DefaultGreeting, s.Current().Greeting)
	})

	t.Run("redis down", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Load", ctx).Return(domain.Settings{}, errors.New("connection refused"))
		s := NewStore(Defaults(), repo, nil)
		s.Load(ctx)
		assert.Equal(t, DefaultGreeting, s.Current().Greeting)
	})
}

func TestStore_UpdateKeepsLocalCopyWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("Save", ctx, mock.MatchedBy(func(st domain.Settings) bool {
		return st.Greeting == "Welcome!" && !st.UpdatedAt.IsZero()
	})).Return(errors.New("redis is in degraded mode"))

	s := NewStore(Defaults(), repo, nil)
	_, err := s.Update(ctx, func(st *domain.Settings) { st.Greeting = "Welcome!" })

	assert.Error(t, err)
	assert.Equal(t, "Welcome!", s.Current().Greeting)
	repo.AssertExpectations(t)
}

func TestStore_WatchAppliesNewerSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan domain.Settings)
	repo := new(MockRepository)
	repo.On("Subscribe", mock.Anything).Return(updates)

	s := NewStore(Defaults(), repo, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Watch(ctx)
	}()

	now := time.Now()
	updates <- domain.Settings{Greeting: "v2", InboundEnabled: true, UpdatedAt: now}
	updates <- domain.Settings{Greeting: "stale", UpdatedAt: now.Add(-time.Minute)}
	updates <- domain.Settings{Greeting: "v3", UpdatedAt: now.Add(time.Second)}

	require.Eventually(t, func() bool { return s.Current().Greeting == "v3" }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestStore_ConcurrentReads(t *testing.T) {
	s := NewStore(Defaults(), nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Current()
				_, _ = s.Update(context.Background(), func(st *domain.Settings) { st.InboundEnabled = !st.InboundEnabled })
			}
		}()
	}
	wg.Wait()
	assert.NotEmpty(t, s.Current().Greeting)
}
