package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vocalq-backend/pkg/logger"
)

// ErrDegraded is returned by Safe* operations while Redis is unreachable.
var ErrDegraded = errors.New("redis is in degraded mode")

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// Observer counts commands and is notified when degraded mode flips.
// *metrics.Metrics implements it.
type Observer interface {
	SetRedisDegraded(degraded bool)
	RecordRedisCommand(command string, err error)
}

// RedisClient wraps the Redis client with degraded mode support.
// Calls keep running without Redis: settings fall back to the in-process copy
// and monitor events stay local to this instance.
type RedisClient struct {
	Client *redis.Client

	degradedMu    sync.RWMutex
	degraded      bool
	healthCheckMu sync.Mutex
	observer      Observer
}

// NewRedisDB creates a new Redis client from config. It does not dial; call HealthCheck to test the connection.
func NewRedisDB(cfg *RedisConfig, observer Observer) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})
	return NewRedisFromClient(client, observer)
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, observer Observer) *RedisClient {
	if observer != nil {
		client.AddHook(commandHook{observer: observer})
	}
	return &RedisClient{Client: client, observer: observer}
}

// commandHook reports every command and pipeline to the observer. A missing
// key is not an error.
type commandHook struct {
	observer Observer
}

func (h commandHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h commandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.record(cmd.Name(), err)
		return err
	}
}

func (h commandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		for _, cmd := range cmds {
			h.record(cmd.Name(), cmd.Err())
		}
		return err
	}
}

func (h commandHook) record(name string, err error) {
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	h.observer.RecordRedisCommand(name, err)
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck periodically pings Redis until ctx is cancelled
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.HealthCheck(ctx)
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedMu.RLock()
	defer r.degradedMu.RUnlock()
	return r.degraded
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.degradedMu.Lock()
	changed := r.degraded != degraded
	r.degraded = degraded
	r.degradedMu.Unlock()

	if !changed {
		return
	}
	if degraded {
		logger.Warn("Redis unreachable, entering degraded mode")
	} else {
		logger.Info("Redis reachable again, leaving degraded mode")
	}
	if r.observer != nil {
		r.observer.SetRedisDegraded(degraded)
	}
}

// HealthCheck pings Redis with a short timeout and updates degraded mode
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.setDegraded(true)
		logger.Debug("Redis health check failed", zap.Error(err))
		return fmt.Errorf("redis health check failed: %w", err)
	}
	r.setDegraded(false)
	return nil
}

// SafeGet performs a GET operation with degraded mode handling
func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.IsDegraded() {
		return redis.NewStringResult("", ErrDegraded)
	}
	return r.Client.Get(ctx, key)
}

// SafeSet performs a SET operation with degraded mode handling
func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if r.IsDegraded() {
		return redis.NewStatusResult("", ErrDegraded)
	}
	return r.Client.Set(ctx, key, value, expiration)
}

// SafeHSet performs an HSET operation with degraded mode handling
func (r *RedisClient) SafeHSet(ctx context.Context, key, field string, value interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrDegraded)
	}
	return r.Client.HSet(ctx, key, field, value)
}

// SafeHGetAll performs an HGETALL operation with degraded mode handling
func (r *RedisClient) SafeHGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if r.IsDegraded() {
		return redis.NewMapStringStringResult(nil, ErrDegraded)
	}
	return r.Client.HGetAll(ctx, key)
}

// SafeHDel performs an HDEL operation with degraded mode handling
func (r *RedisClient) SafeHDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrDegraded)
	}
	return r.Client.HDel(ctx, key, fields...)
}

// SafePublish performs a PUBLISH operation with degraded mode handling
func (r *RedisClient) SafePublish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, ErrDegraded)
	}
	return r.Client.Publish(ctx, channel, message)
}

// SafeSubscribe returns nil in degraded mode
func (r *RedisClient) SafeSubscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if r.IsDegraded() {
		return nil
	}
	return r.Client.Subscribe(ctx, channels...)
}

// SafeIncrWithExpiry increments key and sets its TTL on first use, for fixed-window counters
func (r *RedisClient) SafeIncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.IsDegraded() {
		return 0, ErrDegraded
	}
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// SafeLPushCapped prepends value to a list and trims it to maxLen entries
func (r *RedisClient) SafeLPushCapped(ctx context.Context, key string, value interface{}, maxLen int64) error {
	if r.IsDegraded() {
		return ErrDegraded
	}
	pipe := r.Client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// SafeLRange performs an LRANGE operation with degraded mode handling
func (r *RedisClient) SafeLRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	if r.IsDegraded() {
		return redis.NewStringSliceResult(nil, ErrDegraded)
	}
	return r.Client.LRange(ctx, key, start, stop)
}
