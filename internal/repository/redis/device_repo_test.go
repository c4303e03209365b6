package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/database"
	"vocalq-backend/internal/domain"
)

func degradedClient(t *testing.T) *database.RedisClient {
	t.Helper()
	client := database.NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}), nil)
	t.Cleanup(func() { _ = client.Close() })
	require.Error(t, client.HealthCheck(context.Background()))
	require.True(t, client.IsDegraded())
	return client
}

func TestDeviceRepository_Degraded(t *testing.T) {
	repo := NewDeviceRepository(degradedClient(t))
	ctx := context.Background()

	device := &domain.SupervisorDevice{Token: "tok", Platform: "android"}
	err := repo.Register(ctx, device)
	assert.ErrorIs(t, err, database.ErrDegraded)
	assert.False(t, device.CreatedAt.IsZero())

	_, err = repo.List(ctx)
	assert.ErrorIs(t, err, database.ErrDegraded)

	assert.ErrorIs(t, repo.Remove(ctx, "tok"), database.ErrDegraded)
	assert.NoError(t, repo.Remove(ctx))
}
