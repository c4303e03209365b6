package domain

import (
	"time"
)

// CallStatus is the persisted lifecycle status of a call record
type CallStatus string

const (
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusMissed    CallStatus = "missed"
)

// Speaker identifies who said a transcript line
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Intent labels recorded per call
const (
	IntentSupport = "support"
	IntentError   = "error"
)

// TranscriptEntry is one line of the call transcript.
// Version starts at 1 and increases each time background normalization rewrites Text.
type TranscriptEntry struct {
	Seq       int       `json:"-"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version,omitempty"`
}

// Call is the persisted call record
type Call struct {
	CallID       string            `json:"call_id"`
	CallerNumber string            `json:"caller_number"`
	StreamSID    string            `json:"stream_sid,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Status       CallStatus        `json:"call_status"`
	Duration     int               `json:"call_duration"` // seconds
	Language     string            `json:"language"`
	Transcript   []TranscriptEntry `json:"transcript"`
	Summary      string            `json:"summary,omitempty"`
	Intent       string            `json:"intent,omitempty"`
	TokenUsage   int               `json:"token_usage"`
	RecordingKey string            `json:"recording_key,omitempty"`
}

// CallView is the dashboard representation of a call
type CallView struct {
	ID         string            `json:"id"`
	Caller     string            `json:"caller"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   int               `json:"duration"`
	Status     CallStatus        `json:"status"`
	Intent     string            `json:"intent"`
	Summary    string            `json:"summary"`
	Transcript []TranscriptEntry `json:"transcript"`
	Language   string            `json:"language"`
}

// View maps a record to its dashboard shape
func (c *Call) View() CallView {
	transcript := c.Transcript
	if transcript == nil {
		transcript = []TranscriptEntry{}
	}
	intent := c.Intent
	if intent == "" {
		intent = "N/A"
	}
	lang := c.Language
	if lang == "" {
		lang = "en-US"
	}
	return CallView{
		ID:         c.CallID,
		Caller:     c.CallerNumber,
		Timestamp:  c.StartTime,
		Duration:   c.Duration,
		Status:     c.Status,
		Intent:     intent,
		Summary:    c.Summary,
		Transcript: transcript,
		Language:   lang,
	}
}

// CallSummary is a row of call_summaries
type CallSummary struct {
	CallID      string    `json:"call_id"`
	SummaryText string    `json:"summary_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// HourBucket is one bar of the calls-by-hour chart
type HourBucket struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// CallAnalytics aggregates the call table for the dashboard
type CallAnalytics struct {
	TotalCalls         int            `json:"total_calls"`
	CompletedCalls     int            `json:"completed_calls"`
	MissedCalls        int            `json:"missed_calls"`
	AvgDuration        float64        `json:"avg_duration"`
	IntentDistribution map[string]int `json:"intent_distribution"`
	CallsByHour        []HourBucket   `json:"calls_by_hour"`
}

// CallFilter narrows call listings
type CallFilter struct {
	Status string
	Skip   int
	Limit  int
}

// WriteTier selects how many columns a call record write carries.
// Each tier is a strict subset of the one before it.
type WriteTier string

const (
	TierFull    WriteTier = "full"
	TierMinimal WriteTier = "minimal"
	TierIDOnly  WriteTier = "id_only"
)

// WriteTiers lists the tiers in fallback order
var WriteTiers = []WriteTier{TierFull, TierMinimal, TierIDOnly}
