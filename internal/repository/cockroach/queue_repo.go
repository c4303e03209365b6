package cockroach

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vocalq-backend/internal/domain"
	apperrors "vocalq-backend/pkg/errors"
)

// QueueRepository handles the human-agent call queue
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

const queueColumns = `id, call_id, caller_number, priority, status, assigned_to, created_at, updated_at`

// List returns queue items by priority, oldest first within a priority.
// An empty status lists every item.
func (r *QueueRepository) List(ctx context.Context, status domain.QueueStatus) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM call_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY priority DESC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	items := []*domain.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return items, nil
}

// Enqueue adds a waiting call
func (r *QueueRepository) Enqueue(ctx context.Context, input *domain.EnqueueInput) (*domain.QueueItem, error) {
	query := `
		INSERT INTO call_queue (id, call_id, caller_number, priority, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + queueColumns

	item, err := scanQueueItem(r.pool.QueryRow(ctx, query,
		uuid.New(),
		input.CallID,
		input.CallerNumber,
		input.Priority,
		string(domain.QueueWaiting),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.NewWithStatus(apperrors.ErrCodeConflict, "Call is already queued", http.StatusConflict)
		}
		return nil, fmt.Errorf("failed to enqueue call: %w", err)
	}
	return item, nil
}

// Update changes the status and/or assignee of a queued call
func (r *QueueRepository) Update(ctx context.Context, callID string, input *domain.QueueUpdateInput) (*domain.QueueItem, error) {
	var status *string
	if input.Status != nil {
		s := string(*input.Status)
		status = &s
	}
	query := `
		UPDATE call_queue
		SET status = COALESCE($2, status),
		    assigned_to = COALESCE($3, assigned_to),
		    updated_at = now()
		WHERE call_id = $1
		RETURNING ` + queueColumns

	item, err := scanQueueItem(r.pool.QueryRow(ctx, query, callID, status, input.AssignedTo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.QueueItemNotFoundError()
		}
		return nil, fmt.Errorf("failed to update queue item: %w", err)
	}
	return item, nil
}

// Remove deletes a queued call
func (r *QueueRepository) Remove(ctx context.Context, callID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM call_queue WHERE call_id = $1`, callID)
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.QueueItemNotFoundError()
	}
	return nil
}

// Stats counts every queue row by status, plus those at high priority or above
func (r *QueueRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{}
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = $1),
		       count(*) FILTER (WHERE status = $2),
		       count(*) FILTER (WHERE priority >= $3)
		FROM call_queue
	`, string(domain.QueueWaiting), string(domain.QueueAssigned), domain.PriorityHigh).Scan(
		&stats.Total,
		&stats.Waiting,
		&stats.Assigned,
		&stats.HighPriority,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	return stats, nil
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	item := &domain.QueueItem{}
	var id uuid.UUID
	var status string
	if err := row.Scan(
		&id,
		&item.CallID,
		&item.CallerNumber,
		&item.Priority,
		&status,
		&item.AssignedTo,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.ID = id.String()
	item.Status = domain.QueueStatus(status)
	return item, nil
}
