package session

import (
	"context"
	"strings"
	"unicode"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
)

// Summary strings used when no model call is made or it fails
const (
	SummaryNoConversation = "No conversation."
	SummaryGreetingOnly   = "Call ended after initial greeting."
	SummaryFallback       = "Call completed."
)

const transliteratePrompt = "Transliterate to Roman script. Keep words, change script. " +
	"Example: 'నమస్కారం' → 'Namaskaram'. Output only transliteration."

const summaryPrompt = `Summarize this VocalQ call in 1-2 crisp sentences for a dashboard.
Mention what the caller wanted and how it ended. No greetings, no filler.
Format: "Caller asked about [topic]. [Outcome]."`

// isASCII reports whether text needs no transliteration
func isASCII(text string) bool {
	for _, r := range text {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// transliterate rewrites text in Roman script. It returns the original text on failure.
func transliterate(ctx context.Context, llm turn.Completer, text string) (string, int, error) {
	out, err := llm.Complete(ctx, turn.CompletionRequest{
		Messages: []turn.Message{
			{Role: "system", Content: transliteratePrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		return text, 0, err
	}
	result := strings.TrimSpace(out.Text)
	if result == "" {
		return text, out.Tokens, nil
	}
	return result, out.Tokens, nil
}

// summarize produces the dashboard summary of a finished call
func summarize(ctx context.Context, llm turn.Completer, entries []domain.TranscriptEntry) (string, int, error) {
	switch {
	case len(entries) == 0:
		return SummaryNoConversation, 0, nil
	case len(entries) == 1:
		return SummaryGreetingOnly, 0, nil
	case llm == nil:
		return SummaryFallback, 0, nil
	}

	var b strings.Builder
	b.WriteString("Call transcript:\n")
	for _, e := range entries {
		if e.Speaker == domain.SpeakerUser {
			b.WriteString("Caller: ")
		} else {
			b.WriteString("AI: ")
		}
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}

	out, err := llm.Complete(ctx, turn.CompletionRequest{
		Messages: []turn.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:   80,
		Temperature: 0.2,
	})
	if err != nil {
		return SummaryFallback, 0, err
	}
	summary := strings.TrimSpace(out.Text)
	if summary == "" {
		return SummaryFallback, out.Tokens, nil
	}
	return summary, out.Tokens, nil
}
