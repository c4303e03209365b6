package cassandra

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vocalq-backend/internal/domain"
)

func TestLatest(t *testing.T) {
	history := []domain.TranscriptEntry{
		{Seq: 0, Version: 1, Speaker: domain.SpeakerAssistant, Text: "Hello"},
		{Seq: 1, Version: 2, Speaker: domain.SpeakerUser, Text: "Namaskaram"},
		{Seq: 1, Version: 1, Speaker: domain.SpeakerUser, Text: "నమస్కారం"},
		{Seq: 2, Version: 1, Speaker: domain.SpeakerAssistant, Text: "How can I help?"},
	}

	latest := Latest(history)

	assert.Len(t, latest, 3)
	assert.Equal(t, "Namaskaram", latest[1].Text)
	assert.Equal(t, 2, latest[1].Version)
	assert.Empty(t, Latest(nil))
}
