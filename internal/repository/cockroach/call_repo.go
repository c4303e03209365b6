package cockroach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vocalq-backend/internal/domain"
	apperrors "vocalq-backend/pkg/errors"
)

// CallRepository handles call record operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// column is one name/value pair of a tiered write
type column struct {
	name  string
	value any
}

// insertColumns returns the columns of the initial insert for a tier
func insertColumns(call *domain.Call, tier domain.WriteTier) []column {
	cols := []column{{"call_id", call.CallID}}
	if tier == domain.TierIDOnly {
		return cols
	}
	cols = append(cols,
		column{"caller_number", call.CallerNumber},
		column{"start_time", call.StartTime},
		column{"call_status", string(call.Status)},
	)
	if tier == domain.TierMinimal {
		return cols
	}
	return append(cols,
		column{"created_at", call.CreatedAt},
		column{"language", call.Language},
	)
}

// finalizeColumns returns the columns of the final update for a tier
func finalizeColumns(call *domain.Call, tier domain.WriteTier) ([]column, error) {
	cols := []column{{"call_id", call.CallID}, {"call_status", string(call.Status)}}
	if tier == domain.TierIDOnly {
		return cols, nil
	}
	cols = append(cols,
		column{"end_time", call.EndTime},
		column{"call_duration", call.Duration},
		column{"summary", call.Summary},
	)
	if tier == domain.TierMinimal {
		return cols, nil
	}

	transcript, err := json.Marshal(transcriptOrEmpty(call.Transcript))
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return append(cols,
		column{"transcript", transcript},
		column{"token_usage", call.TokenUsage},
		column{"intent", nullable(call.Intent)},
		column{"recording_key", nullable(call.RecordingKey)},
	), nil
}

// upsert builds INSERT ... ON CONFLICT (call_id) for cols. When update is
// false an existing row is left untouched.
func upsert(table string, cols []column, update bool) (string, []any) {
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	var sets []string
	for i, c := range cols {
		names[i] = c.name
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = c.value
		if c.name != "call_id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.name, c.name))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (call_id) ",
		table, strings.Join(names, ", "), strings.Join(params, ", "))
	if update && len(sets) > 0 {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	} else {
		b.WriteString("DO NOTHING")
	}
	return b.String(), args
}

// InsertCall writes the initial record of a call
func (r *CallRepository) InsertCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error {
	query, args := upsert("calls", insertColumns(call, tier), false)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert call (%s): %w", tier, err)
	}
	return nil
}

// FinalizeCall writes the final state of a call, creating the row if the
// initial insert never landed
func (r *CallRepository) FinalizeCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error {
	cols, err := finalizeColumns(call, tier)
	if err != nil {
		return err
	}
	query, args := upsert("calls", cols, true)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to finalize call (%s): %w", tier, err)
	}
	return nil
}

// SyncTranscript stores the transcript so far while the call is running
func (r *CallRepository) SyncTranscript(ctx context.Context, callID string, transcript []domain.TranscriptEntry, intent string) error {
	data, err := json.Marshal(transcriptOrEmpty(transcript))
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	query := `
		UPDATE calls
		SET transcript = $2,
		    intent = COALESCE($3, intent)
		WHERE call_id = $1
	`
	if _, err := r.pool.Exec(ctx, query, callID, data, nullable(intent)); err != nil {
		return fmt.Errorf("failed to sync transcript: %w", err)
	}
	return nil
}

// InsertSummary records a generated call summary
func (r *CallRepository) InsertSummary(ctx context.Context, callID, summary string) error {
	query := `INSERT INTO call_summaries (call_id, summary_text) VALUES ($1, $2)`
	if _, err := r.pool.Exec(ctx, query, callID, summary); err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

const callColumns = `
	c.call_id, c.caller_number, c.start_time, c.end_time, c.created_at,
	c.call_status, c.call_duration, c.language, c.transcript, c.intent,
	c.token_usage, c.recording_key,
	COALESCE((
		SELECT s.summary_text FROM call_summaries s
		WHERE s.call_id = c.call_id
		ORDER BY s.created_at DESC LIMIT 1
	), c.summary, '')
`

// List returns calls newest first
func (r *CallRepository) List(ctx context.Context, filter domain.CallFilter) ([]*domain.Call, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `SELECT ` + callColumns + ` FROM calls c
		WHERE ($1 = '' OR c.call_status = $1)
		ORDER BY c.start_time DESC NULLS LAST, c.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, filter.Status, filter.Limit, filter.Skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()
	return collectCalls(rows)
}

// ListActive returns calls still marked active
func (r *CallRepository) ListActive(ctx context.Context) ([]*domain.Call, error) {
	return r.List(ctx, domain.CallFilter{Status: string(domain.CallStatusActive), Limit: 1000})
}

// GetByID retrieves a call with its latest summary
func (r *CallRepository) GetByID(ctx context.Context, callID string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls c WHERE c.call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// Analytics aggregates every call for the dashboard
func (r *CallRepository) Analytics(ctx context.Context) (*domain.CallAnalytics, error) {
	out := &domain.CallAnalytics{
		IntentDistribution: make(map[string]int),
		CallsByHour:        []domain.HourBucket{},
	}

	totals := `
		SELECT count(*),
		       count(*) FILTER (WHERE call_status = 'completed'),
		       count(*) FILTER (WHERE call_status IN ('missed', 'dropped', 'no-answer')),
		       COALESCE(avg(call_duration) FILTER (WHERE call_duration > 0), 0)::FLOAT8
		FROM calls
	`
	if err := r.pool.QueryRow(ctx, totals).Scan(
		&out.TotalCalls,
		&out.CompletedCalls,
		&out.MissedCalls,
		&out.AvgDuration,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate calls: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(intent, ''), 'unknown'), count(*)
		FROM calls GROUP BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate intents: %w", err)
	}
	for rows.Next() {
		var intent string
		var n int
		if err := rows.Scan(&intent, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		out.IntentDistribution[intent] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate intents: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT extract(hour FROM COALESCE(start_time, created_at))::INT AS h, count(*)
		FROM calls
		WHERE COALESCE(start_time, created_at) IS NOT NULL
		GROUP BY h ORDER BY h
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate hours: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hour, n int
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("failed to scan hour: %w", err)
		}
		out.CallsByHour = append(out.CallsByHour, domain.HourBucket{Name: hourLabel(hour), Value: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate hours: %w", err)
	}
	return out, nil
}

// hourLabel renders 0..23 as "12am", "1am" ... "11pm"
func hourLabel(hour int) string {
	return time.Date(2000, 1, 1, hour, 0, 0, 0, time.UTC).Format("3pm")
}

func collectCalls(rows pgx.Rows) ([]*domain.Call, error) {
	calls := []*domain.Call{}
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read calls: %w", err)
	}
	return calls, nil
}

// scanCall reads one row of callColumns. Rows written by degraded tiers
// have NULLs in most columns.
func scanCall(row pgx.Row) (*domain.Call, error) {
	var (
		call       domain.Call
		caller     *string
		start      *time.Time
		created    *time.Time
		status     *string
		duration   *int
		language   *string
		transcript []byte
		intent     *string
		tokens     *int
		recording  *string
	)
	if err := row.Scan(
		&call.CallID,
		&caller,
		&start,
		&call.EndTime,
		&created,
		&status,
		&duration,
		&language,
		&transcript,
		&intent,
		&tokens,
		&recording,
		&call.Summary,
	); err != nil {
		return nil, err
	}

	call.CallerNumber = deref(caller, "Unknown")
	call.Status = domain.CallStatus(deref(status, string(domain.CallStatusActive)))
	call.Language = deref(language, "en-US")
	call.Intent = deref(intent, "")
	call.RecordingKey = deref(recording, "")
	call.Duration = deref(duration, 0)
	call.TokenUsage = deref(tokens, 0)
	if created != nil {
		call.CreatedAt = *created
	}
	switch {
	case start != nil:
		call.StartTime = *start
	case created != nil:
		call.StartTime = *created
	}

	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &call.Transcript); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
	}
	return &call, nil
}

func transcriptOrEmpty(t []domain.TranscriptEntry) []domain.TranscriptEntry {
	if t == nil {
		return []domain.TranscriptEntry{}
	}
	return t
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
