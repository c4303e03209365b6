package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vocalq-backend/internal/database"
	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/constants"
)

// ErrSettingsNotFound means no settings were ever saved
var ErrSettingsNotFound = errors.New("settings not found")

// SettingsRepository stores the cross-call settings in a Redis hash and
// announces every change on a channel
type SettingsRepository struct {
	client *database.RedisClient
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(client *database.RedisClient) *SettingsRepository {
	return &SettingsRepository{client: client}
}

// Load reads the stored settings
func (r *SettingsRepository) Load(ctx context.Context) (domain.Settings, error) {
	fields, err := r.client.SafeHGetAll(ctx, constants.SettingsKey).Result()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if len(fields) == 0 {
		return domain.Settings{}, ErrSettingsNotFound
	}
	return decodeSettings(fields), nil
}

// Save stores settings and publishes them to every instance
func (r *SettingsRepository) Save(ctx context.Context, s domain.Settings) error {
	if r.client.IsDegraded() {
		return fmt.Errorf("failed to save settings: %w", database.ErrDegraded)
	}
	err := r.client.Client.HSet(ctx, constants.SettingsKey,
		"greeting", s.Greeting,
		"inbound_enabled", strconv.FormatBool(s.InboundEnabled),
		"updated_at", s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := r.client.SafePublish(ctx, constants.SettingsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish settings: %w", err)
	}
	return nil
}

// Subscribe delivers every published snapshot until ctx is done. It returns
// nil when Redis is degraded.
func (r *SettingsRepository) Subscribe(ctx context.Context) <-chan domain.Settings {
	sub := r.client.SafeSubscribe(ctx, constants.SettingsChannel)
	if sub == nil {
		return nil
	}
	out := make(chan domain.Settings)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s, err := DecodeSettingsMessage(msg)
				if err != nil {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// DecodeSettingsMessage parses a snapshot published by Save
func DecodeSettingsMessage(msg *redis.Message) (domain.Settings, error) {
	var s domain.Settings
	if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
		return domain.Settings{}, fmt.Errorf("invalid settings message: %w", err)
	}
	return s, nil
}

func decodeSettings(fields map[string]string) domain.Settings {
	s := domain.Settings{Greeting: fields["greeting"]}
	s.InboundEnabled, _ = strconv.ParseBool(fields["inbound_enabled"])
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		s.UpdatedAt = t
	}
	return s
}
