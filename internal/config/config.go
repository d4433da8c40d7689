// Package config holds the admitd configuration surface. Everything is
// loaded once at process start; hot reload is deliberately not supported.
package config

import (
	"fmt"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	AntiSpam  AntiSpamConfig  `mapstructure:"anti_spam"`
	Session   SessionConfig   `mapstructure:"session"`
	Admission AdmissionConfig `mapstructure:"admission"`

	// Tiers is the static tier → quota table
	Tiers map[string]models.TierLimits `mapstructure:"tiers"`
}

// ServerConfig configures the admin/ops HTTP server.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnablePprof  bool          `mapstructure:"enable_pprof"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	// Driver selects "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file
	Path string `mapstructure:"path"`

	// Postgres connection parameters
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RateLimitConfig selects the limiter algorithm per resource class and the
// deployment mode.
type RateLimitConfig struct {
	// Algorithms maps resource class → algorithm name; unset classes use
	// the Default algorithm
	Algorithms map[string]string `mapstructure:"algorithms"`

	// Default algorithm when a resource class has no explicit entry
	Default string `mapstructure:"default"`

	// Distributed switches limiter state from process-local memory to the
	// shared Redis store. Horizontal deployments must enable this; a
	// process-local limiter is only correct for a single instance.
	Distributed bool `mapstructure:"distributed"`

	// FailurePolicy controls behavior when the shared store is down
	FailurePolicy string `mapstructure:"failure_policy"`

	// SweepInterval is how often idle window state is evicted
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AlgorithmFor resolves the algorithm for a resource class.
func (c RateLimitConfig) AlgorithmFor(resource constants.ResourceClass) constants.Algorithm {
	if name, ok := c.Algorithms[string(resource)]; ok && name != "" {
		return constants.Algorithm(name)
	}
	if c.Default != "" {
		return constants.Algorithm(c.Default)
	}
	return constants.AlgorithmGCRA
}

// AntiSpamConfig tunes the behavioral scorer.
type AntiSpamConfig struct {
	// Weights maps signal name → score increment
	Weights map[string]float64 `mapstructure:"weights"`

	// HalfLife is the exponential decay half-life of the score
	HalfLife time.Duration `mapstructure:"half_life"`

	// Threshold is the score at which an escalation is issued
	Threshold float64 `mapstructure:"threshold"`

	// BanDuration is the first-offense escalation duration
	BanDuration time.Duration `mapstructure:"ban_duration"`

	// BanGrowth multiplies the duration on each repeated offense
	BanGrowth float64 `mapstructure:"ban_growth"`

	// MaxBanDuration caps escalated durations
	MaxBanDuration time.Duration `mapstructure:"max_ban_duration"`

	// BurstInterval is the inter-event gap below which a burst signal fires
	BurstInterval time.Duration `mapstructure:"burst_interval"`

	// SweepInterval is how often decayed-out score state is evicted
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// WeightFor resolves the weight of a signal, defaulting to 1.
func (c AntiSpamConfig) WeightFor(signal constants.SpamSignal) float64 {
	if w, ok := c.Weights[string(signal)]; ok {
		return w
	}
	return 1
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Persist mirrors sessions into Redis for multi-instance deployments
	Persist bool `mapstructure:"persist"`
}

// AdmissionConfig tunes the dispatcher itself.
type AdmissionConfig struct {
	// StoreTimeout bounds every user store lookup
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// FailurePolicy controls tier resolution when the user store is down
	FailurePolicy string `mapstructure:"failure_policy"`

	// MaxFileSize rejects oversized uploads before any workflow starts
	MaxFileSize int64 `mapstructure:"max_file_size"`

	// MaxPasswordAttempts aborts an unlock workflow after this many
	// rejected passwords
	MaxPasswordAttempts int `mapstructure:"max_password_attempts"`

	// JobTimeout bounds one document engine job
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// StoreFailurePolicy returns the parsed policy, defaulting to fail-open.
func (c AdmissionConfig) StoreFailurePolicy() constants.FailurePolicy {
	if constants.FailurePolicy(c.FailurePolicy) == constants.FailClosed {
		return constants.FailClosed
	}
	return constants.FailOpen
}

// TierPolicy materializes the configured tier table.
func (c *Config) TierPolicy() *models.TierPolicy {
	limits := make(map[constants.Tier]models.TierLimits, len(c.Tiers))
	for name, l := range c.Tiers {
		limits[constants.Tier(name)] = l
	}
	return models.NewTierPolicy(limits)
}

// Validate checks for configuration values that would misbehave at runtime.
func (c *Config) Validate() error {
	switch constants.Algorithm(c.RateLimit.Default) {
	case constants.AlgorithmFixedWindow, constants.AlgorithmSlidingWindow,
		constants.AlgorithmTokenBucket, constants.AlgorithmLeakyBucket,
		constants.AlgorithmGCRA, "":
	default:
		return fmt.Errorf("unknown rate limit algorithm %q", c.RateLimit.Default)
	}
	for class, name := range c.RateLimit.Algorithms {
		switch constants.Algorithm(name) {
		case constants.AlgorithmFixedWindow, constants.AlgorithmSlidingWindow,
			constants.AlgorithmTokenBucket, constants.AlgorithmLeakyBucket,
			constants.AlgorithmGCRA:
		default:
			return fmt.Errorf("unknown rate limit algorithm %q for class %q", name, class)
		}
	}
	if c.AntiSpam.Threshold <= 0 {
		return fmt.Errorf("anti_spam.threshold must be positive")
	}
	if c.AntiSpam.BanGrowth < 1 {
		return fmt.Errorf("anti_spam.ban_growth must be >= 1")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.RateLimit.Distributed && !c.Redis.Enabled {
		return fmt.Errorf("rate_limit.distributed requires redis.enabled")
	}
	for name, l := range c.Tiers {
		if l.MessagesPerWindow <= 0 || l.MessageWindow <= 0 {
			return fmt.Errorf("tier %q has a non-positive message quota", name)
		}
	}
	return nil
}
