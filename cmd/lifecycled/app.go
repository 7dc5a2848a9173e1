package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/internal/config"
	"github.com/unklstewy/bigskies-lifecycle/pkg/components"
	"github.com/unklstewy/bigskies-lifecycle/pkg/executor"
	"github.com/unklstewy/bigskies-lifecycle/pkg/healthcheck"
	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
	"github.com/unklstewy/bigskies-lifecycle/pkg/mqtt"
)

// app is the assembled process: a lifecycle with every configured
// component registered in start order.
type app struct {
	lifecycle *lifecycle.Lifecycle
	config    lifecycle.Config
	pool      *executor.Pool
	health    *healthcheck.Engine
	http      *components.HTTPServer
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	signals, err := config.ParseSignals(cfg.Lifecycle.Signals)
	if err != nil {
		return nil, err
	}

	pool, err := executor.NewPool("lifecycle", &executor.PoolConfig{
		Capacity:       cfg.Executor.Capacity,
		ExpiryDuration: cfg.Executor.ExpiryDuration,
		Nonblocking:    cfg.Executor.Nonblocking,
		ReleaseTimeout: cfg.Executor.ReleaseTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	lc := lifecycle.New(cfg.Lifecycle.Label, logger)
	health := healthcheck.NewEngine(cfg.Health.Interval, cfg.Health.Timeout, logger)
	health.Register(healthcheck.LifecycleChecker(lc))

	// Registration order is start order; shutdown runs in reverse, so the
	// pool that runs the steps is released last.
	lc.Register(pool)

	if cfg.Postgres.URL != "" {
		pg, err := components.NewPostgres(&components.PostgresConfig{
			URL:            cfg.Postgres.URL,
			MaxConns:       cfg.Postgres.MaxConns,
			MinConns:       cfg.Postgres.MinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout,
		}, logger)
		if err != nil {
			pool.Release()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		lc.Register(pg)
		health.Register(pg.Checker())
	}

	if cfg.Redis.Addr != "" {
		rdb, err := components.NewRedis(&components.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}, logger)
		if err != nil {
			pool.Release()
			return nil, fmt.Errorf("redis: %w", err)
		}
		lc.Register(rdb)
		health.Register(rdb.Checker())
	}

	if cfg.MQTT.BrokerURL != "" {
		will, err := mqtt.StatusWill(lc.Label(), lc.ID())
		if err != nil {
			pool.Release()
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		client, err := mqtt.NewClient(&mqtt.Config{
			BrokerURL:        cfg.MQTT.BrokerURL,
			ClientID:         cfg.MQTT.ClientID,
			Username:         cfg.MQTT.Username,
			Password:         cfg.MQTT.Password,
			KeepAlive:        cfg.MQTT.KeepAlive,
			ConnectTimeout:   cfg.MQTT.ConnectTimeout,
			OperationTimeout: cfg.MQTT.OperationTimeout,
			AutoReconnect:    true,
			Will:             will,
		}, logger)
		if err != nil {
			pool.Release()
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		status := mqtt.NewStatePublisher(client, lc.Label(), lc.ID(), logger)

		// The status component stops before the client, so the final
		// status is published while the connection is still up.
		lc.Register(client, status.Component())
		lc.OnTransition(status.Observe)
		healthcheck.NewReporter(health, mqtt.HealthPublishFunc(client, lc.Label()), logger)
		health.Register(healthcheck.Func("mqtt", func(context.Context) error {
			if !client.IsConnected() {
				return mqtt.ErrNotConnected
			}
			return nil
		}))
	}

	lc.Register(health)

	server := components.NewHTTPServer(&components.HTTPConfig{
		Address:         cfg.HTTP.Address,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, lc, health, logger)
	lc.Register(server)

	return &app{
		lifecycle: lc,
		config: lifecycle.Config{
			Executor:            pool,
			ShutdownSignals:     signals,
			InstallCrashHandler: cfg.Lifecycle.CrashHandler,
		},
		pool:   pool,
		health: health,
		http:   server,
	}, nil
}

// run starts every component and blocks until shutdown completes. It
// returns the start error, or the combined shutdown errors.
func (a *app) run() error {
	if err := a.lifecycle.StartAndWait(a.config); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if err := a.lifecycle.Result().Err(); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	return nil
}
