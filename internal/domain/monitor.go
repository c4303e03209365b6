package domain

import "time"

// Monitor event types broadcast to dashboards
const (
	MonitorCallStarted      = "call_started"
	MonitorCallUpdated      = "call_updated"
	MonitorTranscriptUpdate = "transcript_update"
	MonitorCallEnded        = "call_ended"
)

// MonitorEvent is one live update about a call
type MonitorEvent struct {
	Type      string           `json:"type"`
	CallID    string           `json:"call_id"`
	Caller    string           `json:"caller,omitempty"`
	State     string           `json:"state,omitempty"`
	Entry     *TranscriptEntry `json:"entry,omitempty"`
	Summary   string           `json:"summary,omitempty"`
	Duration  int              `json:"duration,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
