package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
)

func TestTranscript_AppendAndRewrite(t *testing.T) {
	var tr Transcript
	now := time.Now()

	first := tr.Append(domain.SpeakerAssistant, "Hello", now)
	second := tr.Append(domain.SpeakerUser, "నమస్కారం", now)
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, 1, second.Version)

	updated, ok := tr.Rewrite(1, "Namaskaram")
	require.True(t, ok)
	assert.Equal(t, 2, updated.Version)

	_, ok = tr.Rewrite(1, "Namaskaram")
	assert.False(t, ok, "unchanged text is not a new version")
	_, ok = tr.Rewrite(5, "x")
	assert.False(t, ok)

	snap := tr.Snapshot()
	snap[0].Text = "mutated"
	assert.Equal(t, "Hello", tr.Snapshot()[0].Text)
	assert.Equal(t, 2, tr.Len())
}

func TestTranscript_History(t *testing.T) {
	var tr Transcript
	tr.Append(domain.SpeakerAssistant, "Hi there", time.Now())
	tr.Append(domain.SpeakerUser, "What are your hours?", time.Now())

	assert.Equal(t, []turn.Message{
		{Role: "assistant", Content: "Hi there"},
		{Role: "user", Content: "What are your hours?"},
	}, tr.History())
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	greet := domain.TranscriptEntry{Speaker: domain.SpeakerAssistant, Text: "Hello"}
	user := domain.TranscriptEntry{Speaker: domain.SpeakerUser, Text: "Reset my password"}

	t.Run("no entries", func(t *testing.T) {
		s, _, err := summarize(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "No conversation.", s)
	})

	t.Run("greeting only", func(t *testing.T) {
		llm := new(MockCompleter)
		s, _, err := summarize(ctx, llm, []domain.TranscriptEntry{greet})
		require.NoError(t, err)
		assert.Equal(t, "Call ended after initial greeting.", s)
		llm.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("model summary", func(t *testing.T) {
		llm := new(MockCompleter)
		llm.On("Complete", ctx, mock.MatchedBy(func(req turn.CompletionRequest) bool {
			return req.MaxTokens == 80 && req.Temperature == 0.2 &&
				req.Messages[1].Content == "Call transcript:\nAI: Hello\nCaller: Reset my password\n"
		})).Return(&turn.Completion{Text: " Caller asked about a password reset. Resolved. ", Tokens: 18}, nil)

		s, tokens, err := summarize(ctx, llm, []domain.TranscriptEntry{greet, user})
		require.NoError(t, err)
		assert.Equal(t, "Caller asked about a password reset. Resolved.", s)
		assert.Equal(t, 18, tokens)
	})

	t.Run("model failure", func(t *testing.T) {
		llm := new(MockCompleter)
		llm.On("Complete", ctx, mock.Anything).Return(nil, errors.New("503"))

		s, _, err := summarize(ctx, llm, []domain.TranscriptEntry{greet, user})
		assert.Error(t, err)
		assert.Equal(t, "Call completed.", s)
	})
}

func TestTransliterate_KeepsTextOnFailure(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	text, _, err := transliterate(context.Background(), llm, "నమస్కారం")
	assert.Error(t, err)
	assert.Equal(t, "నమస్కారం", text)
	assert.False(t, isASCII(text))
	assert.True(t, isASCII("hello"))
}
