package push

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"vocalq-backend/internal/domain"
)

// Mocks
type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) List(ctx context.Context) ([]*domain.SupervisorDevice, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SupervisorDevice), args.Error(1)
}

func (m *MockDeviceStore) Remove(ctx context.Context, tokens ...string) error {
	args := m.Called(ctx, tokens)
	return args.Error(0)
}

type MockProviderSender struct {
	mock.Mock
}

func (m *MockProviderSender) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	args := m.Called(ctx, n, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

type countingObserver struct {
	statuses []string
}

func (o *countingObserver) RecordPushNotification(provider, status string) {
	o.statuses = append(o.statuses, provider+":"+status)
}

func completedCall() *domain.Call {
	return &domain.Call{
		CallID:       "call-1",
		CallerNumber: "+15551234567",
		Duration:     95,
		Summary:      "Caller asked about billing. Resolved.",
		Intent:       domain.IntentSupport,
	}
}

func TestNotifier_RoutesByPlatform(t *testing.T) {
	ctx := context.Background()
	devices := new(MockDeviceStore)
	devices.On("List", ctx).Return([]*domain.SupervisorDevice{
		{Token: "ios-1", Platform: "ios"},
		{Token: "android-1", Platform: "android"},
		{Token: "web-1", Platform: "web"},
	}, nil)
	devices.On("Remove", ctx, []string{"android-1"}).Return(nil)

	fcm := new(MockProviderSender)
	fcm.On("Send", ctx, mock.Anything, []string{"android-1", "web-1"}).
		Return(&SendResult{SuccessCount: 1, FailureCount: 1, InvalidTokens: []string{"android-1"}}, nil)
	apns := new(MockProviderSender)
	apns.On("Send", ctx, mock.MatchedBy(func(n *Notification) bool {
		return n.Body == "Caller asked about billing. Resolved." && n.Data["call_id"] == "call-1"
	}), []string{"ios-1"}).Return(&SendResult{SuccessCount: 1}, nil)

	obs := &countingObserver{}
	n := NewNotifier(map[string]Provider{"fcm": fcm, "apns": apns}, devices, obs, nil)
	n.NotifyCallCompleted(ctx, completedCall())

	fcm.AssertExpectations(t)
	apns.AssertExpectations(t)
	devices.AssertExpectations(t)
	assert.ElementsMatch(t, []string{"fcm:success", "apns:success"}, obs.statuses)
}

func TestNotifier_NoDevices(t *testing.T) {
	ctx := context.Background()
	devices := new(MockDeviceStore)
	devices.On("List", ctx).Return([]*domain.SupervisorDevice{}, nil)
	fcm := new(MockProviderSender)

	NewNotifier(map[string]Provider{"fcm": fcm}, devices, nil, nil).NotifyCallCompleted(ctx, completedCall())

	fcm.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifier_ProviderFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	devices := new(MockDeviceStore)
	devices.On("List", ctx).Return([]*domain.SupervisorDevice{{Token: "a", Platform: "android"}, {Token: "i", Platform: "ios"}}, nil)
	fcm := new(MockProviderSender)
	fcm.On("Send", ctx, mock.Anything, []string{"a"}).Return(nil, errors.New("quota exceeded"))

	obs := &countingObserver{}
	// no apns provider configured
	NewNotifier(map[string]Provider{"fcm": fcm}, devices, obs, nil).NotifyCallCompleted(ctx, completedCall())

	assert.Equal(t, []string{"fcm:error"}, obs.statuses)
	devices.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestNotifier_BroadcastCountsAccepted(t *testing.T) {
	ctx := context.Background()
	devices := new(MockDeviceStore)
	devices.On("List", ctx).Return([]*domain.SupervisorDevice{
		{Token: "a1", Platform: "android"},
		{Token: "a2", Platform: "android"},
	}, nil)
	fcm := new(MockProviderSender)
	fcm.On("Send", ctx, mock.Anything, []string{"a1", "a2"}).Return(&SendResult{SuccessCount: 2}, nil)

	sent, err := NewNotifier(map[string]Provider{"fcm": fcm}, devices, nil, nil).
		Broadcast(ctx, &Notification{Title: "Test", Body: "Hello"})

	assert.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestNotifier_BroadcastListFailure(t *testing.T) {
	ctx := context.Background()
	devices := new(MockDeviceStore)
	devices.On("List", ctx).Return(nil, errors.New("redis degraded"))

	sent, err := NewNotifier(nil, devices, nil, nil).Broadcast(ctx, &Notification{Title: "Test"})

	assert.Error(t, err)
	assert.Zero(t, sent)
}

func TestCallCompletedNotification(t *testing.T) {
	n := CallCompletedNotification(completedCall())
	assert.Equal(t, "Call from +15551234567 (1m 35s)", n.Title)
	assert.Equal(t, "95", n.Data["duration"])

	empty := CallCompletedNotification(&domain.Call{CallID: "c", CallerNumber: "Unknown", Duration: 12})
	assert.Equal(t, "Call completed.", empty.Body)
	assert.Equal(t, "Call from Unknown (12s)", empty.Title)
}

func TestMockProvider(t *testing.T) {
	m := NewMockProvider(nil)
	res, err := m.Send(context.Background(), &Notification{Title: "t"}, []string{"a", "b"})
	assert.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, "2h 5m", formatDuration(7500))
}
