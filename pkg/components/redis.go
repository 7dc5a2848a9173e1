package components

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/healthcheck"
	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis owns a go-redis client. Start creates and pings it; shutdown
// closes it.
type Redis struct {
	config *RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client *goredis.Client
}

var _ lifecycle.Component = (*Redis)(nil)

// NewRedis validates config. It does not connect.
func NewRedis(config *RedisConfig, logger *zap.Logger) (*Redis, error) {
	if config == nil || config.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis{
		config: config,
		logger: logger.With(zap.String("component", "redis")),
	}, nil
}

// Name identifies the client as a lifecycle component.
func (r *Redis) Name() string {
	return "redis"
}

// Client returns the client, or nil before a successful Start.
func (r *Redis) Client() *goredis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Start creates the client and verifies connectivity.
func (r *Redis) Start(done func(error)) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         r.config.Addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MaxRetries:   r.config.MaxRetries,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})

	timeout := r.config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		done(fmt.Errorf("failed to ping redis: %w", err))
		return
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	r.logger.Info("Connected to Redis", zap.String("addr", r.config.Addr))
	done(nil)
}

// Shutdown closes the client.
func (r *Redis) Shutdown(done func(error)) {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		done(nil)
		return
	}
	if err := client.Close(); err != nil {
		done(fmt.Errorf("failed to close redis client: %w", err))
		return
	}
	r.logger.Info("Redis client closed")
	done(nil)
}

// Checker pings Redis.
func (r *Redis) Checker() healthcheck.Checker {
	return healthcheck.Func("redis", func(ctx context.Context) error {
		client := r.Client()
		if client == nil {
			return fmt.Errorf("client not open")
		}
		return client.Ping(ctx).Err()
	})
}
