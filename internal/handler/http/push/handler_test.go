package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/audit"
	"vocalq-backend/pkg/push"
)

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) Register(ctx context.Context, device *domain.SupervisorDevice) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceStore) Remove(ctx context.Context, tokens ...string) error {
	return m.Called(ctx, tokens).Error(0)
}

func (m *MockDeviceStore) List(ctx context.Context) ([]*domain.SupervisorDevice, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SupervisorDevice), args.Error(1)
}

type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, n *push.Notification) (int, error) {
	args := m.Called(ctx, n)
	return args.Int(0), args.Error(1)
}

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/devices", h.ListDevices)
	r.POST("/devices", h.RegisterDevice)
	r.DELETE("/devices", h.UnregisterDevice)
	r.POST("/devices/test", h.TestNotification)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterDevice(t *testing.T) {
	devices := new(MockDeviceStore)
	devices.On("Register", mock.Anything, mock.MatchedBy(func(d *domain.SupervisorDevice) bool {
		return d.Token == "fcm-token-123456789" && d.Platform == "android"
	})).Return(nil)
	r := setupRouter(NewHandler(devices, new(MockBroadcaster), nil))

	w := do(r, http.MethodPost, "/devices", `{"token":"fcm-token-123456789","platform":"android","label":"Front desk"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/devices", `{"token":"x","platform":"blackberry"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	devices.AssertExpectations(t)
}

func TestRegisterDevice_RedisDown(t *testing.T) {
	devices := new(MockDeviceStore)
	devices.On("Register", mock.Anything, mock.Anything).Return(errors.New("redis is in degraded mode"))
	r := setupRouter(NewHandler(devices, new(MockBroadcaster), nil))

	w := do(r, http.MethodPost, "/devices", `{"token":"t","platform":"ios"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnregisterDevice(t *testing.T) {
	devices := new(MockDeviceStore)
	devices.On("Remove", mock.Anything, []string{"tok"}).Return(nil)
	r := setupRouter(NewHandler(devices, new(MockBroadcaster), nil))

	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/devices", `{"token":"tok"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/devices", `{}`).Code)
}

func TestListDevices_MasksTokens(t *testing.T) {
	devices := new(MockDeviceStore)
	devices.On("List", mock.Anything).Return([]*domain.SupervisorDevice{
		{Token: "abcdefghijklmnop", Platform: "ios"},
		{Token: "short", Platform: "web"},
	}, nil)
	r := setupRouter(NewHandler(devices, new(MockBroadcaster), nil))

	w := do(r, http.MethodGet, "/devices", "")

	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, "****ijklmnop", env.Data[0]["token"])
	assert.Equal(t, "****", env.Data[1]["token"])
	assert.NotContains(t, w.Body.String(), "abcdefgh")
}

func TestTestNotification(t *testing.T) {
	notifier := new(MockBroadcaster)
	notifier.On("Broadcast", mock.Anything, mock.MatchedBy(func(n *push.Notification) bool {
		return n.Title == "Ping" && n.Data["type"] == "test"
	})).Return(3, nil)
	r := setupRouter(NewHandler(new(MockDeviceStore), notifier, nil))

	w := do(r, http.MethodPost, "/devices/test", `{"title":"Ping","body":"Hello supervisors"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"delivered":3`)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/devices/test", `{"title":"Ping"}`).Code)
}

type recordingAuditor struct {
	events []*audit.Event
}

func (a *recordingAuditor) Log(_ context.Context, e *audit.Event) error {
	a.events = append(a.events, e)
	return nil
}

func TestDeviceChangesAreAudited(t *testing.T) {
	devices := new(MockDeviceStore)
	devices.On("Register", mock.Anything, mock.Anything).Return(nil)
	devices.On("Remove", mock.Anything, []string{"apns-token-abcdefgh1234"}).Return(nil)
	auditor := &recordingAuditor{}
	r := setupRouter(NewHandler(devices, new(MockBroadcaster), auditor))

	do(r, http.MethodPost, "/devices", `{"token":"apns-token-abcdefgh1234","platform":"ios"}`)
	do(r, http.MethodDelete, "/devices", `{"token":"apns-token-abcdefgh1234"}`)

	require.Len(t, auditor.events, 2)
	assert.Equal(t, audit.EventDeviceRegister, auditor.events[0].EventType)
	assert.Equal(t, "ios ****efgh1234", auditor.events[0].Details)
	assert.Equal(t, audit.EventDeviceRemove, auditor.events[1].EventType)
	assert.NotContains(t, auditor.events[1].Details, "apns-token")
}
