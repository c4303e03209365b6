package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	requests map[string]int
	states   []float64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{requests: map[string]int{}}
}

func (o *recordingObserver) RecordDependencyRequest(_, _, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[status]++
}

func (o *recordingObserver) RecordDependencyError(string, string, string) {}

func (o *recordingObserver) SetCircuitBreakerState(_ string, state float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func fastSettings() Settings {
	return Settings{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		OperationTimeout: time.Second,
	}
}

func TestBreaker_RetriesUntilSuccess(t *testing.T) {
	obs := newRecordingObserver()
	b := NewBreaker("openai", fastSettings(), obs)

	calls := 0
	err := b.Execute(context.Background(), "chat", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("status 503")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.Equal(t, 1, obs.requests["success"])
	assert.Equal(t, 1, obs.requests["failure"])
}

func TestBreaker_PermanentErrorIsNotRetried(t *testing.T) {
	b := NewBreaker("qdrant", fastSettings(), nil)
	sentinel := errors.New("status 400: bad vector")

	calls := 0
	err := b.Execute(context.Background(), "search", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestBreaker_OpensAndRecoversThroughHalfOpen(t *testing.T) {
	obs := newRecordingObserver()
	b := NewBreaker("minio", fastSettings(), obs)
	now := time.Now()
	b.now = func() time.Time { return now }

	failing := func(context.Context) error { return errors.New("connection refused") }
	_ = b.Execute(context.Background(), "put", failing)
	assert.Equal(t, CircuitBreakerOpen, b.State())

	calls := 0
	err := b.Execute(context.Background(), "put", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	now = now.Add(2 * time.Minute)
	err = b.Execute(context.Background(), "put", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitBreakerClosed, b.State())
	assert.Equal(t, []float64{2, 1, 0}, obs.states)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("deepgram", fastSettings(), nil)
	now := time.Now()
	b.now = func() time.Time { return now }

	failing := func(context.Context) error { return errors.New("timeout") }
	_ = b.Execute(context.Background(), "listen", failing)
	require.Equal(t, CircuitBreakerOpen, b.State())

	now = now.Add(2 * time.Minute)
	err := b.Execute(context.Background(), "listen", failing)
	assert.Error(t, err)
	assert.Equal(t, CircuitBreakerOpen, b.State())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "network", classifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, "rate_limited", classifyError(errors.New("openai: status 429")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
}
