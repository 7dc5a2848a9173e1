package components

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/healthcheck"
	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// PostgresConfig configures the Postgres pool.
type PostgresConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// Postgres owns a pgx connection pool. Start opens and pings it; shutdown
// closes it.
type Postgres struct {
	config     *PostgresConfig
	poolConfig *pgxpool.Config
	logger     *zap.Logger

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

var _ lifecycle.Component = (*Postgres)(nil)

// NewPostgres validates config. It does not connect.
func NewPostgres(config *PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("postgres URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	return &Postgres{
		config:     config,
		poolConfig: poolConfig,
		logger:     logger.With(zap.String("component", "postgres")),
	}, nil
}

// Name identifies the pool as a lifecycle component.
func (p *Postgres) Name() string {
	return "postgres"
}

// Pool returns the connection pool, or nil before a successful Start.
func (p *Postgres) Pool() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// Start creates the pool and verifies connectivity.
func (p *Postgres) Start(done func(error)) {
	timeout := p.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, p.poolConfig)
	if err != nil {
		done(fmt.Errorf("failed to create connection pool: %w", err))
		return
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		done(fmt.Errorf("failed to ping database: %w", err))
		return
	}

	p.mu.Lock()
	p.pool = pool
	p.mu.Unlock()

	p.logger.Info("Connected to Postgres", zap.Int32("max_conns", p.poolConfig.MaxConns))
	done(nil)
}

// Shutdown closes the pool, waiting for acquired connections to be
// released.
func (p *Postgres) Shutdown(done func(error)) {
	p.mu.Lock()
	pool := p.pool
	p.pool = nil
	p.mu.Unlock()

	if pool != nil {
		pool.Close()
		p.logger.Info("Postgres pool closed")
	}
	done(nil)
}

// Checker reports the pool unhealthy when it is closed or a ping fails,
// and degraded when nearly every connection is acquired.
func (p *Postgres) Checker() healthcheck.Checker {
	return &postgresChecker{p: p}
}

type postgresChecker struct {
	p *Postgres
}

func (c *postgresChecker) Name() string {
	return "postgres"
}

func (c *postgresChecker) Check(ctx context.Context) *healthcheck.Result {
	pool := c.p.Pool()
	if pool == nil {
		return healthcheck.NewResult(c.Name(), healthcheck.StatusUnhealthy, "pool not open")
	}
	if err := pool.Ping(ctx); err != nil {
		return healthcheck.NewResult(c.Name(), healthcheck.StatusUnhealthy, "ping failed: "+err.Error())
	}

	stats := pool.Stat()
	result := healthcheck.NewResult(c.Name(), healthcheck.StatusHealthy, "")
	if nearCapacity(stats.AcquiredConns(), stats.MaxConns()) {
		result.Status = healthcheck.StatusDegraded
		result.Message = "connection pool near capacity"
	}
	result.Details = map[string]interface{}{
		"total_conns":    stats.TotalConns(),
		"idle_conns":     stats.IdleConns(),
		"acquired_conns": stats.AcquiredConns(),
	}
	return result
}

// saturationThreshold is the acquired share of MaxConns at which a pool is
// reported degraded.
const saturationThreshold = 0.9

func nearCapacity(acquired, limit int32) bool {
	if limit <= 0 || acquired == 0 {
		return false
	}
	return float64(acquired)/float64(limit) >= saturationThreshold
}
