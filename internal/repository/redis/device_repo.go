package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"vocalq-backend/internal/database"
	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/constants"
	"vocalq-backend/pkg/logger"
)

// DeviceRepository stores supervisor push tokens in a Redis hash keyed by token
type DeviceRepository struct {
	client *database.RedisClient
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(client *database.RedisClient) *DeviceRepository {
	return &DeviceRepository{client: client}
}

// Register stores or refreshes a device
func (r *DeviceRepository) Register(ctx context.Context, device *domain.SupervisorDevice) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now()
	}
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	if err := r.client.SafeHSet(ctx, constants.SupervisorDevicesKey, device.Token, data).Err(); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	logger.Debug("Supervisor device registered",
		zap.String("platform", device.Platform),
		zap.String("label", device.Label))
	return nil
}

// Remove deletes devices by token
func (r *DeviceRepository) Remove(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.client.SafeHDel(ctx, constants.SupervisorDevicesKey, tokens...).Err(); err != nil {
		return fmt.Errorf("failed to remove devices: %w", err)
	}
	return nil
}

// List returns every registered device, oldest first
func (r *DeviceRepository) List(ctx context.Context) ([]*domain.SupervisorDevice, error) {
	fields, err := r.client.SafeHGetAll(ctx, constants.SupervisorDevicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*domain.SupervisorDevice, 0, len(fields))
	for token, data := range fields {
		var d domain.SupervisorDevice
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			logger.Warn("Skipping unreadable device entry", zap.Int("token_len", len(token)), zap.Error(err))
			continue
		}
		devices = append(devices, &d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].CreatedAt.Before(devices[j].CreatedAt) })
	return devices, nil
}
