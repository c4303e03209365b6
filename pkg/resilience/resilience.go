package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// gauge value exported for each state
func (s CircuitBreakerState) gauge() float64 {
	switch s {
	case CircuitBreakerHalfOpen:
		return 1
	case CircuitBreakerOpen:
		return 2
	default:
		return 0
	}
}

// Observer receives breaker outcomes. *metrics.Metrics implements it.
type Observer interface {
	RecordDependencyRequest(dependency, operation, status string)
	RecordDependencyError(dependency, operation, errorType string)
	SetCircuitBreakerState(dependency string, state float64)
}

// Settings tunes retry and breaker behaviour for one dependency
type Settings struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before a half-open trial call
	OpenTimeout time.Duration
	// MaxAttempts per Execute call, including the first
	MaxAttempts int
	// InitialBackoff grows linearly per attempt up to MaxBackoff
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OperationTimeout bounds one Execute call including retries; zero means none
	OperationTimeout time.Duration
}

// DefaultSettings match the object storage defaults: 3 failures, 10s cool-down, 10s budget.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		OpenTimeout:      10 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		OperationTimeout: 10 * time.Second,
	}
}

// RealtimeSettings never retry: a caller waiting on the line is better served by the apology.
func RealtimeSettings(timeout time.Duration) Settings {
	s := DefaultSettings()
	s.MaxAttempts = 1
	s.FailureThreshold = 5
	s.OperationTimeout = timeout
	return s
}

// ErrCircuitOpen is returned without calling the operation while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not worth retrying (for example a 4xx response).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Breaker wraps calls to one external dependency with retry, timeout, and a circuit breaker
type Breaker struct {
	name     string
	settings Settings
	observer Observer
	now      func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialling           bool
}

// NewBreaker creates a breaker for the named dependency. observer may be nil.
func NewBreaker(name string, settings Settings, observer Observer) *Breaker {
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	return &Breaker{
		name:     name,
		settings: settings,
		observer: observer,
		now:      time.Now,
		state:    CircuitBreakerClosed,
	}
}

// Execute runs fn with retry and circuit breaking. operation labels metrics and logs.
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if b.settings.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.settings.OperationTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= b.settings.MaxAttempts; attempt++ {
		if !b.allow() {
			b.record(operation, "circuit_breaker_open")
			logger.Warn("Circuit breaker open, request rejected",
				zap.String("dependency", b.name),
				zap.String("operation", operation),
			)
			if lastErr != nil {
				return fmt.Errorf("%s %s: %w (last error: %v)", b.name, operation, ErrCircuitOpen, lastErr)
			}
			return apperrors.WrapWithStatus(apperrors.ErrCodeCircuitOpen, b.name+" circuit breaker is open", 503, ErrCircuitOpen)
		}

		err := fn(ctx)
		if err == nil {
			b.onSuccess()
			b.record(operation, "success")
			return nil
		}
		lastErr = err
		b.onFailure(operation, err)

		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil || attempt == b.settings.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * b.settings.InitialBackoff
		if backoff > b.settings.MaxBackoff {
			backoff = b.settings.MaxBackoff
		}
		logger.Warn("Dependency call failed, backing off",
			zap.String("dependency", b.name),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s %s timed out: %w", b.name, operation, lastErr)
		case <-timer.C:
		}
	}

	var perm *permanentError
	if errors.As(lastErr, &perm) {
		return perm.err
	}
	return lastErr
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.settings.OpenTimeout {
			return false
		}
		b.setState(CircuitBreakerHalfOpen)
		b.trialling = true
		return true
	case CircuitBreakerHalfOpen:
		// one trial call at a time
		if b.trialling {
			return false
		}
		b.trialling = true
		return true
	default:
		return true
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.trialling = false
	if b.state != CircuitBreakerClosed {
		logger.Info("Circuit breaker closed", zap.String("dependency", b.name))
		b.setState(CircuitBreakerClosed)
	}
}

func (b *Breaker) onFailure(operation string, err error) {
	if b.observer != nil {
		b.observer.RecordDependencyError(b.name, operation, classifyError(err))
	}
	b.record(operation, "failure")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.trialling = false
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.settings.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker opened",
				zap.String("dependency", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
		b.openedAt = b.now()
		b.setState(CircuitBreakerOpen)
	}
}

// setState must be called with b.mu held
func (b *Breaker) setState(s CircuitBreakerState) {
	b.state = s
	if b.observer != nil {
		b.observer.SetCircuitBreakerState(b.name, s.gauge())
	}
}

func (b *Breaker) record(operation, status string) {
	if b.observer != nil {
		b.observer.RecordDependencyRequest(b.name, operation, status)
	}
}

// classifyError classifies errors for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "status 429") || strings.Contains(errMsg, "rate limit"):
		return "rate_limited"
	case strings.Contains(errMsg, "status 5"):
		return "server"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied") || strings.Contains(errMsg, "status 401"):
		return "permission"
	default:
		return "unknown"
	}
}
