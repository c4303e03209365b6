package admin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/audit"
	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
	"vocalq-backend/pkg/sanitize"
)

// maxGreetingLength bounds the greeting spoken at the start of every call
const maxGreetingLength = 1000

// SettingsStore reads and changes cross-call settings. *settings.Store implements it.
type SettingsStore interface {
	Current() domain.Settings
	Update(ctx context.Context, fn func(*domain.Settings)) (domain.Settings, error)
}

// Auditor records admin changes. *audit.Logger implements it.
type Auditor interface {
	Log(ctx context.Context, event *audit.Event) error
	Recent(ctx context.Context, limit int) ([]*audit.Event, error)
}

// Handler handles admin HTTP requests
type Handler struct {
	settings SettingsStore
	auditor  Auditor
}

// NewHandler creates a new admin handler. auditor may be nil.
func NewHandler(settings SettingsStore, auditor Auditor) *Handler {
	return &Handler{
		settings: settings,
		auditor:  auditor,
	}
}

// GreetingRequest changes the greeting
type GreetingRequest struct {
	Greeting string `json:"greeting" binding:"required"`
}

// InboundRequest turns inbound calls on or off
type InboundRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetGreeting returns the current greeting
// GET /api/v1/admin/settings/greeting
func (h *Handler) GetGreeting(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"greeting": h.settings.Current().Greeting})
}

// UpdateGreeting replaces the greeting used by calls that start afterwards
// POST /api/v1/admin/settings/greeting
func (h *Handler) UpdateGreeting(c *gin.Context) {
	var req GreetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Missing greeting text")
		return
	}
	greeting := sanitize.Text(req.Greeting)
	if greeting == "" {
		response.ValidationError(c, "Missing greeting text")
		return
	}
	if !sanitize.ValidateStringLength(greeting, 1, maxGreetingLength) {
		response.ValidationError(c, "Greeting is too long")
		return
	}

	updated, err := h.settings.Update(c.Request.Context(), func(s *domain.Settings) {
		s.Greeting = greeting
	})
	if err != nil {
		// applied on this instance; other instances pick it up once Redis is back
		logger.Warn("Greeting not shared with other instances", zap.Error(err))
	}

	logger.Info("Greeting updated", zap.Int("length", len(updated.Greeting)))
	h.record(c, audit.EventGreetingUpdate, fmt.Sprintf("length=%d", len(updated.Greeting)))
	response.Success(c, http.StatusOK, gin.H{
		"status":   "success",
		"greeting": updated.Greeting,
		"shared":   err == nil,
	})
}

// GetInbound reports whether inbound calls are accepted
// GET /api/v1/admin/settings/inbound
func (h *Handler) GetInbound(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"enabled": h.settings.Current().InboundEnabled})
}

// UpdateInbound turns inbound calls on or off
// POST /api/v1/admin/settings/inbound
func (h *Handler) UpdateInbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "Missing enabled flag")
		return
	}

	updated, err := h.settings.Update(c.Request.Context(), func(s *domain.Settings) {
		s.InboundEnabled = *req.Enabled
	})
	if err != nil {
		logger.Warn("Inbound setting not shared with other instances", zap.Error(err))
	}

	logger.Info("Inbound calls toggled", zap.Bool("enabled", updated.InboundEnabled))
	h.record(c, audit.EventInboundToggle, fmt.Sprintf("enabled=%t", updated.InboundEnabled))
	response.Success(c, http.StatusOK, gin.H{
		"status":  "success",
		"enabled": updated.InboundEnabled,
		"shared":  err == nil,
	})
}

// AuditLog returns recent admin changes, newest first
// GET /api/v1/admin/audit?limit=50
func (h *Handler) AuditLog(c *gin.Context) {
	if h.auditor == nil {
		response.List(c, []*audit.Event{}, 0)
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			response.ValidationError(c, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.auditor.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Failed to read audit log", zap.Error(err))
		response.FromError(c, apperrors.ServiceUnavailableError("Audit log unavailable"))
		return
	}
	response.List(c, events, int64(len(events)))
}

// record stores an audit event; a failed write only logs
func (h *Handler) record(c *gin.Context, eventType audit.EventType, details string) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.Log(c.Request.Context(), &audit.Event{
		EventType: eventType,
		Resource:  "settings",
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Success:   true,
		Details:   details,
	})
	if err != nil {
		logger.Warn("Failed to record audit event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
