package cockroach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
)

func names(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func TestInsertColumns_TiersShrink(t *testing.T) {
	call := &domain.Call{
		CallID:       "c1",
		CallerNumber: "+15551234567",
		StartTime:    time.Now(),
		CreatedAt:    time.Now(),
		Status:       domain.CallStatusActive,
		Language:     "en-US",
	}

	full := names(insertColumns(call, domain.TierFull))
	minimal := names(insertColumns(call, domain.TierMinimal))
	idOnly := names(insertColumns(call, domain.TierIDOnly))

	assert.Equal(t, []string{"call_id", "caller_number", "start_time", "call_status", "created_at", "language"}, full)
	assert.Equal(t, []string{"call_id", "caller_number", "start_time", "call_status"}, minimal)
	assert.Equal(t, []string{"call_id"}, idOnly)
	assert.Subset(t, full, minimal)
	assert.Subset(t, minimal, idOnly)
}

func TestFinalizeColumns_TiersShrink(t *testing.T) {
	end := time.Now()
	call := &domain.Call{
		CallID:   "c1",
		Status:   domain.CallStatusCompleted,
		EndTime:  &end,
		Duration: 42,
		Summary:  "Caller asked about billing. Resolved.",
		Transcript: []domain.TranscriptEntry{
			{Speaker: domain.SpeakerAssistant, Text: "Hello", Version: 1},
		},
		TokenUsage: 120,
		Intent:     domain.IntentSupport,
	}

	full, err := finalizeColumns(call, domain.TierFull)
	require.NoError(t, err)
	minimal, err := finalizeColumns(call, domain.TierMinimal)
	require.NoError(t, err)
	idOnly, err := finalizeColumns(call, domain.TierIDOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"call_id", "call_status"}, names(idOnly))
	assert.Equal(t, []string{"call_id", "call_status", "end_time", "call_duration", "summary"}, names(minimal))
	assert.Subset(t, names(full), names(minimal))
	assert.Contains(t, names(full), "transcript")
	assert.Contains(t, names(full), "recording_key")

	for _, c := range full {
		if c.name == "transcript" {
			assert.JSONEq(t, `[{"speaker":"assistant","text":"Hello","timestamp":"0001-01-01T00:00:00Z","version":1}]`, string(c.value.([]byte)))
		}
		if c.name == "recording_key" {
			assert.Nil(t, c.value.(*string))
		}
	}
}

func TestUpsert(t *testing.T) {
	cols := []column{{"call_id", "c1"}, {"call_status", "completed"}}

	query, args := upsert("calls", cols, true)
	assert.Equal(t, "INSERT INTO calls (call_id, call_status) VALUES ($1, $2) ON CONFLICT (call_id) DO UPDATE SET call_status = excluded.call_status", query)
	assert.Equal(t, []any{"c1", "completed"}, args)

	query, _ = upsert("calls", cols[:1], true)
	assert.Equal(t, "INSERT INTO calls (call_id) VALUES ($1) ON CONFLICT (call_id) DO NOTHING", query)

	query, _ = upsert("calls", cols, false)
	assert.Contains(t, query, "DO NOTHING")
}

func TestHourLabel(t *testing.T) {
	assert.Equal(t, "12am", hourLabel(0))
	assert.Equal(t, "9am", hourLabel(9))
	assert.Equal(t, "12pm", hourLabel(12))
	assert.Equal(t, "2pm", hourLabel(14))
}
