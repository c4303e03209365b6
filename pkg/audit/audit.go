// Package audit keeps a trail of admin changes to the call service in Redis.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vocalq-backend/pkg/constants"
)

// EventType represents the type of audit event
type EventType string

const (
	EventGreetingUpdate   EventType = "greeting_update"
	EventInboundToggle    EventType = "inbound_toggle"
	EventDeviceRegister   EventType = "device_register"
	EventDeviceRemove     EventType = "device_remove"
	EventTestNotification EventType = "test_notification"
	EventKBDocumentDelete EventType = "kb_document_delete"
)

// Event represents an audit log entry
type Event struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	Resource  string    `json:"resource,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the capped list backing the trail. *database.RedisClient implements it.
type Store interface {
	SafeLPushCapped(ctx context.Context, key string, value interface{}, maxLen int64) error
	SafeLRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Logger handles audit logging
type Logger struct {
	store Store
	now   func() time.Time
}

// NewLogger creates a new audit logger
func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

// Log stamps and stores an event
func (l *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = l.now().UTC()
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if err := l.store.SafeLPushCapped(ctx, constants.AuditLogKey, data, constants.AuditLogMaxEntries); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. Entries that no longer
// decode are skipped.
func (l *Logger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > constants.AuditLogMaxEntries {
		limit = constants.AuditLogMaxEntries
	}
	raw, err := l.store.SafeLRange(ctx, constants.AuditLogKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}

	events := make([]*Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}
