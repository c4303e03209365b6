package session

import (
	"sync"
	"time"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
)

// Transcript is the append-only record of a call. Entries keep their
// position; only background normalization may rewrite an entry's text,
// and every rewrite bumps its version.
type Transcript struct {
	mu      sync.RWMutex
	entries []domain.TranscriptEntry
}

// Append adds an entry and returns a copy of it
func (t *Transcript) Append(speaker domain.Speaker, text string, at time.Time) domain.TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := domain.TranscriptEntry{
		Seq:       len(t.entries),
		Speaker:   speaker,
		Text:      text,
		Timestamp: at,
		Version:   1,
	}
	t.entries = append(t.entries, e)
	return e
}

// Rewrite replaces the text of entry seq. It reports false when the entry
// does not exist or the text is unchanged.
func (t *Transcript) Rewrite(seq int, text string) (domain.TranscriptEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < 0 || seq >= len(t.entries) || t.entries[seq].Text == text {
		return domain.TranscriptEntry{}, false
	}
	t.entries[seq].Text = text
	t.entries[seq].Version++
	return t.entries[seq], true
}

// Snapshot returns a copy safe to hand to other goroutines
func (t *Transcript) Snapshot() []domain.TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// History converts the transcript to chat messages, oldest first
func (t *Transcript) History() []turn.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msgs := make([]turn.Message, 0, len(t.entries))
	for _, e := range t.entries {
		msgs = append(msgs, turn.Message{Role: roleOf(e.Speaker), Content: e.Text})
	}
	return msgs
}

func roleOf(s domain.Speaker) string {
	if s == domain.SpeakerUser {
		return "user"
	}
	return "assistant"
}
