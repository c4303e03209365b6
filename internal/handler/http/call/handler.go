package call

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/repository/cassandra"
	"vocalq-backend/internal/session"
	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
)

const (
	defaultLimit = 100
	maxLimit     = 500

	recordingURLExpiry = 15 * time.Minute
)

// CallReader reads call records. *cockroach.CallRepository implements it.
type CallReader interface {
	List(ctx context.Context, filter domain.CallFilter) ([]*domain.Call, error)
	ListActive(ctx context.Context) ([]*domain.Call, error)
	GetByID(ctx context.Context, callID string) (*domain.Call, error)
	Analytics(ctx context.Context) (*domain.CallAnalytics, error)
}

// TranscriptReader reads the versioned transcript log
type TranscriptReader interface {
	History(ctx context.Context, callID string) ([]domain.TranscriptEntry, error)
}

// LiveCalls lists sessions running on this instance
type LiveCalls interface {
	Active() []session.Info
}

// RecordingLinker signs download links for recordings
type RecordingLinker interface {
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Handler handles call HTTP requests
type Handler struct {
	calls       CallReader
	transcripts TranscriptReader
	live        LiveCalls
	recordings  RecordingLinker
}

// NewHandler creates a new call handler. transcripts, live and recordings may be nil.
func NewHandler(calls CallReader, transcripts TranscriptReader, live LiveCalls, recordings RecordingLinker) *Handler {
	return &Handler{
		calls:       calls,
		transcripts: transcripts,
		live:        live,
		recordings:  recordings,
	}
}

// ListCalls returns calls newest first
// GET /api/v1/calls?skip=0&limit=100&status=completed
func (h *Handler) ListCalls(c *gin.Context) {
	filter := domain.CallFilter{
		Status: c.Query("status"),
		Limit:  defaultLimit,
	}
	if s := c.Query("skip"); s != "" {
		skip, err := strconv.Atoi(s)
		if err != nil || skip < 0 {
			response.ValidationError(c, "Invalid skip")
			return
		}
		filter.Skip = skip
	}
	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			response.ValidationError(c, "Invalid limit")
			return
		}
		filter.Limit = min(limit, maxLimit)
	}

	calls, err := h.calls.List(c.Request.Context(), filter)
	if err != nil {
		logger.Error("Failed to list calls", zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}
	response.List(c, views(calls), int64(len(calls)))
}

// ActiveCalls returns calls in progress. Sessions live on this instance are
// included even when their record has not been written yet.
// GET /api/v1/calls/active
func (h *Handler) ActiveCalls(c *gin.Context) {
	calls, err := h.calls.ListActive(c.Request.Context())
	if err != nil {
		logger.Warn("Failed to list active calls from database", zap.Error(err))
		calls = nil
	}

	out := views(calls)
	if h.live != nil {
		seen := make(map[string]bool, len(out))
		for _, v := range out {
			seen[v.ID] = true
		}
		for _, info := range h.live.Active() {
			if seen[info.CallID] {
				continue
			}
			caller := info.Caller
			if caller == "" {
				caller = "Unknown"
			}
			out = append(out, domain.CallView{
				ID:         info.CallID,
				Caller:     caller,
				Timestamp:  info.StartedAt,
				Status:     domain.CallStatusActive,
				Intent:     "N/A",
				Transcript: []domain.TranscriptEntry{},
				Language:   "en-US",
			})
		}
	}
	response.List(c, out, int64(len(out)))
}

// Analytics returns dashboard aggregates
// GET /api/v1/calls/analytics
func (h *Handler) Analytics(c *gin.Context) {
	analytics, err := h.calls.Analytics(c.Request.Context())
	if err != nil {
		logger.Error("Failed to aggregate calls", zap.Error(err))
		// dashboards render zeros rather than an error panel
		analytics = &domain.CallAnalytics{
			IntentDistribution: map[string]int{},
			CallsByHour:        []domain.HourBucket{},
		}
	}
	response.Success(c, http.StatusOK, analytics)
}

// GetCall returns one call with its latest summary
// GET /api/v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	call, err := h.calls.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, call.View())
}

// GetTranscript returns the transcript of a call. With history=true every
// stored version is returned, otherwise the newest version of each line.
// GET /api/v1/calls/:id/transcript
func (h *Handler) GetTranscript(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Param("id")
	history := c.Query("history") == "true"

	if h.transcripts != nil {
		entries, err := h.transcripts.History(ctx, callID)
		if err == nil && len(entries) > 0 {
			if !history {
				entries = cassandra.Latest(entries)
			}
			response.Success(c, http.StatusOK, gin.H{
				"call_id":    callID,
				"source":     "log",
				"transcript": entries,
			})
			return
		}
		if err != nil {
			logger.Warn("Transcript log unavailable, falling back to call record",
				zap.String("call_id", callID), zap.Error(err))
		}
	}

	call, err := h.calls.GetByID(ctx, callID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"call_id":    callID,
		"source":     "record",
		"transcript": call.View().Transcript,
	})
}

// GetRecording returns a short-lived download link for the call audio
// GET /api/v1/calls/:id/recording
func (h *Handler) GetRecording(c *gin.Context) {
	if h.recordings == nil {
		response.NotFound(c, "Recordings are disabled")
		return
	}
	call, err := h.calls.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if call.RecordingKey == "" {
		response.NotFound(c, "Call has no recording")
		return
	}

	url, err := h.recordings.URL(c.Request.Context(), call.RecordingKey, recordingURLExpiry)
	if err != nil {
		logger.Error("Failed to sign recording link", zap.String("call_id", call.CallID), zap.Error(err))
		response.FromError(c, apperrors.StorageError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int(recordingURLExpiry.Seconds()),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if apperrors.IsCode(err, apperrors.ErrCodeCallNotFound) {
		response.FromError(c, err)
		return
	}
	logger.Error("Failed to load call", zap.String("call_id", c.Param("id")), zap.Error(err))
	response.FromError(c, apperrors.DatabaseError(err))
}

func views(calls []*domain.Call) []domain.CallView {
	out := make([]domain.CallView, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.View())
	}
	return out
}
