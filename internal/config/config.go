// Package config loads lifecycled configuration from a YAML file and
// LIFECYCLED_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes every environment override, e.g. LIFECYCLED_HTTP_ADDRESS.
const EnvPrefix = "LIFECYCLED"

// Config is the complete process configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Health    HealthConfig    `mapstructure:"health"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// LifecycleConfig configures the lifecycle itself.
type LifecycleConfig struct {
	Label        string   `mapstructure:"label"`
	Signals      []string `mapstructure:"signals"`
	CrashHandler bool     `mapstructure:"crash_handler"`
}

// ExecutorConfig configures the worker pool lifecycle steps run on.
type ExecutorConfig struct {
	Capacity       int           `mapstructure:"capacity"`
	ExpiryDuration time.Duration `mapstructure:"expiry_duration"`
	Nonblocking    bool          `mapstructure:"nonblocking"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

// HTTPConfig configures the status listener.
type HTTPConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PostgresConfig configures the optional Postgres pool. An empty URL
// disables it.
type PostgresConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig configures the optional Redis client. An empty address
// disables it.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// MQTTConfig configures the optional broker connection. An empty broker
// URL disables it.
type MQTTConfig struct {
	BrokerURL        string        `mapstructure:"broker_url"`
	ClientID         string        `mapstructure:"client_id"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// HealthConfig configures the health engine.
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	v.SetDefault("lifecycle.label", "lifecycled")
	v.SetDefault("lifecycle.signals", []string{"SIGTERM", "SIGINT"})
	v.SetDefault("lifecycle.crash_handler", true)

	v.SetDefault("executor.capacity", 64)
	v.SetDefault("executor.expiry_duration", 10*time.Second)
	v.SetDefault("executor.nonblocking", true)
	v.SetDefault("executor.release_timeout", 5*time.Second)

	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 1)
	v.SetDefault("postgres.connect_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.keep_alive", 30*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.operation_timeout", 5*time.Second)

	v.SetDefault("health.interval", 10*time.Second)
	v.SetDefault("health.timeout", 3*time.Second)
}

// Load reads path, if not empty, then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.Lifecycle.Label
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Lifecycle.Label == "" {
		errs = append(errs, errors.New("lifecycle.label is required"))
	}
	if _, err := ParseSignals(c.Lifecycle.Signals); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("executor.capacity must be positive, got %d", c.Executor.Capacity))
	}
	if c.Executor.ReleaseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.release_timeout must be positive, got %v", c.Executor.ReleaseTimeout))
	}
	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}

	return multierr.Combine(errs...)
}

var signalNames = map[string]os.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// ParseSignals maps signal names such as "SIGTERM" or "term" to signals.
func ParseSignals(names []string) ([]os.Signal, error) {
	signals := make([]os.Signal, 0, len(names))
	for _, name := range names {
		key := strings.ToUpper(strings.TrimSpace(name))
		if !strings.HasPrefix(key, "SIG") {
			key = "SIG" + key
		}
		sig, ok := signalNames[key]
		if !ok {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
