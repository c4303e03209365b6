package push

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/audit"
	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/push"
	"vocalq-backend/pkg/response"
)

// DeviceStore persists supervisor devices. *redis.DeviceRepository implements it.
type DeviceStore interface {
	Register(ctx context.Context, device *domain.SupervisorDevice) error
	Remove(ctx context.Context, tokens ...string) error
	List(ctx context.Context) ([]*domain.SupervisorDevice, error)
}

// Broadcaster sends a notification to every registered device
type Broadcaster interface {
	Broadcast(ctx context.Context, notification *push.Notification) (int, error)
}

// Auditor records admin changes. *audit.Logger implements it.
type Auditor interface {
	Log(ctx context.Context, event *audit.Event) error
}

// Handler handles supervisor device HTTP requests
type Handler struct {
	devices  DeviceStore
	notifier Broadcaster
	auditor  Auditor
}

// NewHandler creates a new device handler. auditor may be nil.
func NewHandler(devices DeviceStore, notifier Broadcaster, auditor Auditor) *Handler {
	return &Handler{
		devices:  devices,
		notifier: notifier,
		auditor:  auditor,
	}
}

// RegisterDevice registers a supervisor device for post-call alerts
// POST /api/v1/admin/devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req domain.SupervisorDevice
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.devices.Register(c.Request.Context(), &req); err != nil {
		logger.Error("Failed to register supervisor device",
			zap.String("platform", req.Platform),
			zap.Error(err))
		response.FromError(c, apperrors.ServiceUnavailableError("Failed to register device"))
		return
	}

	logger.Info("Supervisor device registered",
		zap.String("platform", req.Platform),
		zap.String("label", req.Label))
	h.record(c, audit.EventDeviceRegister, req.Platform+" "+maskToken(req.Token))

	response.Success(c, http.StatusCreated, gin.H{
		"message":  "Device registered successfully",
		"platform": req.Platform,
	})
}

// UnregisterDeviceRequest represents request to remove a device
type UnregisterDeviceRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterDevice removes a supervisor device
// DELETE /api/v1/admin/devices
func (h *Handler) UnregisterDevice(c *gin.Context) {
	var req UnregisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.devices.Remove(c.Request.Context(), req.Token); err != nil {
		logger.Error("Failed to remove supervisor device", zap.Error(err))
		response.FromError(c, apperrors.ServiceUnavailableError("Failed to remove device"))
		return
	}

	h.record(c, audit.EventDeviceRemove, maskToken(req.Token))
	response.Success(c, http.StatusOK, gin.H{
		"message": "Device removed successfully",
	})
}

// ListDevices returns the registered devices with masked tokens
// GET /api/v1/admin/devices
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.devices.List(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list supervisor devices", zap.Error(err))
		response.FromError(c, apperrors.ServiceUnavailableError("Failed to list devices"))
		return
	}

	out := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		out = append(out, gin.H{
			"token":      maskToken(d.Token),
			"platform":   d.Platform,
			"label":      d.Label,
			"created_at": d.CreatedAt,
		})
	}
	response.List(c, out, int64(len(out)))
}

// TestNotificationRequest represents request to send a test notification
type TestNotificationRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body" binding:"required"`
}

// TestNotification sends a test alert to every registered device
// POST /api/v1/admin/devices/test
func (h *Handler) TestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sent, err := h.notifier.Broadcast(c.Request.Context(), &push.Notification{
		Title:    req.Title,
		Body:     req.Body,
		Priority: "normal",
		Sound:    "default",
		Data:     map[string]string{"type": "test"},
	})
	if err != nil {
		logger.Error("Failed to send test notification", zap.Error(err))
		response.FromError(c, apperrors.ServiceUnavailableError("Failed to send test notification"))
		return
	}

	logger.Info("Test notification sent", zap.Int("delivered", sent))
	h.record(c, audit.EventTestNotification, fmt.Sprintf("delivered=%d", sent))
	response.Success(c, http.StatusOK, gin.H{
		"message":   "Test notification sent",
		"delivered": sent,
	})
}

// record stores an audit event; a failed write only logs
func (h *Handler) record(c *gin.Context, eventType audit.EventType, details string) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.Log(c.Request.Context(), &audit.Event{
		EventType: eventType,
		Resource:  "devices",
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Success:   true,
		Details:   details,
	})
	if err != nil {
		logger.Warn("Failed to record audit event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}
