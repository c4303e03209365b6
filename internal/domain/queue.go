package domain

import "time"

// QueueStatus is the state of a queued call
type QueueStatus string

const (
	QueueWaiting   QueueStatus = "waiting"
	QueueAssigned  QueueStatus = "assigned"
	QueueCompleted QueueStatus = "completed"
	QueueCancelled QueueStatus = "cancelled"
)

// Valid reports whether s is a known queue status
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueWaiting, QueueAssigned, QueueCompleted, QueueCancelled:
		return true
	}
	return false
}

// Queue priorities
const (
	PriorityNormal = 0
	PriorityHigh   = 1
	PriorityUrgent = 2
)

// QueueItem is a call waiting for a human agent
type QueueItem struct {
	ID           string      `json:"id"`
	CallID       string      `json:"call_id"`
	CallerNumber string      `json:"caller_number"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	AssignedTo   *string     `json:"assigned_to,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// EnqueueInput creates a queue item
type EnqueueInput struct {
	CallID       string `json:"call_id" binding:"required"`
	CallerNumber string `json:"caller_number" binding:"required"`
	Priority     int    `json:"priority" binding:"min=0,max=2"`
}

// QueueUpdateInput changes status and/or assignee
type QueueUpdateInput struct {
	Status     *QueueStatus `json:"status,omitempty"`
	AssignedTo *string      `json:"assigned_to,omitempty"`
}

// QueueStats counts queue rows for the supervisor dashboard
type QueueStats struct {
	Total        int `json:"total"`
	Waiting      int `json:"waiting"`
	Assigned     int `json:"assigned"`
	HighPriority int `json:"high_priority"`
}
