// Package push alerts supervisors on their phones when a call ends.
package push

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
)

// Provider sends one notification to a batch of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// DeviceStore lists supervisor devices. *redis.DeviceRepository implements it.
type DeviceStore interface {
	List(ctx context.Context) ([]*domain.SupervisorDevice, error)
	Remove(ctx context.Context, tokens ...string) error
}

// Observer counts sends. *metrics.Metrics implements it.
type Observer interface {
	RecordPushNotification(provider, status string)
}

// Notifier sends the post-call alert to every registered supervisor device.
// iOS devices go through the "apns" provider, the rest through "fcm".
type Notifier struct {
	providers map[string]Provider
	devices   DeviceStore
	observer  Observer
	log       *zap.Logger
}

// NewNotifier creates a notifier. A platform with no provider is skipped.
func NewNotifier(providers map[string]Provider, devices DeviceStore, observer Observer, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{providers: providers, devices: devices, observer: observer, log: log}
}

// providerFor maps a device platform to a provider name
func providerFor(platform string) string {
	if platform == "ios" {
		return "apns"
	}
	return "fcm"
}

// NotifyCallCompleted sends the summary of a finished call. Failures are logged.
func (n *Notifier) NotifyCallCompleted(ctx context.Context, call *domain.Call) {
	if _, err := n.Broadcast(ctx, CallCompletedNotification(call)); err != nil {
		n.log.Warn("Failed to notify supervisors", zap.String("call_id", call.CallID), zap.Error(err))
	}
}

// Broadcast sends a notification to every registered device and returns how
// many devices accepted it. Tokens the providers report as invalid are removed.
func (n *Notifier) Broadcast(ctx context.Context, notification *Notification) (int, error) {
	devices, err := n.devices.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list supervisor devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, nil
	}

	batches := make(map[string][]string)
	for _, d := range devices {
		name := providerFor(d.Platform)
		batches[name] = append(batches[name], d.Token)
	}

	var (
		invalid []string
		sent    int
	)
	for name, tokens := range batches {
		provider, ok := n.providers[name]
		if !ok {
			n.log.Debug("No push provider configured", zap.String("provider", name), zap.Int("devices", len(tokens)))
			continue
		}
		result, err := provider.Send(ctx, notification, tokens)
		if err != nil {
			n.record(name, "error")
			n.log.Warn("Supervisor notification failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		n.record(name, "success")
		sent += result.SuccessCount
		invalid = append(invalid, result.InvalidTokens...)
	}

	if len(invalid) > 0 {
		if err := n.devices.Remove(ctx, invalid...); err != nil {
			n.log.Warn("Failed to remove invalid device tokens", zap.Error(err))
		}
	}
	return sent, nil
}

func (n *Notifier) record(provider, status string) {
	if n.observer != nil {
		n.observer.RecordPushNotification(provider, status)
	}
}

// CallCompletedNotification builds the alert for a finished call
func CallCompletedNotification(call *domain.Call) *Notification {
	body := call.Summary
	if body == "" {
		body = "Call completed."
	}
	return &Notification{
		Title:    fmt.Sprintf("Call from %s (%s)", call.CallerNumber, formatDuration(int64(call.Duration))),
		Body:     body,
		Priority: "normal",
		Category: "call_summary",
		Data: map[string]string{
			"type":     "call_completed",
			"call_id":  call.CallID,
			"caller":   call.CallerNumber,
			"duration": strconv.Itoa(call.Duration),
			"intent":   call.Intent,
		},
	}
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// MockProvider logs notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	Sent []*Notification
	log  *zap.Logger
}

// NewMockProvider creates a mock provider
func NewMockProvider(log *zap.Logger) *MockProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &MockProvider{log: log}
}

// Send implements Provider
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, notification)
	m.mu.Unlock()

	m.log.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Count returns how many notifications were sent
func (m *MockProvider) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
