package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"vocalq-backend/internal/domain"
)

// TranscriptRepository stores every version of every transcript line.
// Rows are never updated: a transliteration rewrite is a new (seq, version) row.
type TranscriptRepository struct {
	session *gocql.Session
}

// NewTranscriptRepository creates a new TranscriptRepository
func NewTranscriptRepository(session *gocql.Session) *TranscriptRepository {
	return &TranscriptRepository{session: session}
}

// Append writes one version of a transcript entry
func (r *TranscriptRepository) Append(ctx context.Context, callID string, entry domain.TranscriptEntry) error {
	query := `
		INSERT INTO call_transcripts (
			call_id, seq, version, speaker, text, spoken_at, written_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		callID,
		entry.Seq,
		entry.Version,
		string(entry.Speaker),
		entry.Text,
		entry.Timestamp,
		time.Now(),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to append transcript entry: %w", err)
	}
	return nil
}

// History returns every stored version, ordered by seq and newest version first
func (r *TranscriptRepository) History(ctx context.Context, callID string) ([]domain.TranscriptEntry, error) {
	query := `
		SELECT seq, version, speaker, text, spoken_at
		FROM call_transcripts
		WHERE call_id = ?
	`

	iter := r.session.Query(query, callID).WithContext(ctx).Iter()

	entries := []domain.TranscriptEntry{}
	for {
		var (
			e       domain.TranscriptEntry
			speaker string
		)
		if !iter.Scan(&e.Seq, &e.Version, &speaker, &e.Text, &e.Timestamp) {
			break
		}
		e.Speaker = domain.Speaker(speaker)
		entries = append(entries, e)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch transcript: %w", err)
	}
	return entries, nil
}

// Latest collapses a history to the newest version of each entry.
// The input must be ordered as History returns it.
func Latest(history []domain.TranscriptEntry) []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, 0, len(history))
	for _, e := range history {
		if n := len(out); n > 0 && out[n-1].Seq == e.Seq {
			continue
		}
		out = append(out, e)
	}
	return out
}
