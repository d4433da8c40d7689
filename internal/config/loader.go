package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/docufort/admitd/pkg/constants"
)

// LoadConfig loads the configuration from file and environment variables.
// File lookup order: explicit path argument, then ./config.yaml, then
// /etc/admitd/config.yaml. Environment variables use the ADMITD prefix with
// underscores, e.g. ADMITD_SERVER_PORT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/admitd/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ADMITD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_pprof", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "admitd")
	v.SetDefault("tracing.sampling_rate", 0.1)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/admitd.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.audit_topic", "admitd.admissions")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")

	v.SetDefault("rate_limit.default", string(constants.AlgorithmGCRA))
	v.SetDefault("rate_limit.distributed", false)
	v.SetDefault("rate_limit.failure_policy", string(constants.FailOpen))
	v.SetDefault("rate_limit.sweep_interval", "5m")

	v.SetDefault("anti_spam.weights", map[string]float64{
		string(constants.SignalBurst):            1,
		string(constants.SignalDuplicateContent): 3,
		string(constants.SignalCommandFlood):     2,
	})
	v.SetDefault("anti_spam.half_life", constants.DefaultSpamHalfLife.String())
	v.SetDefault("anti_spam.threshold", constants.DefaultSpamThreshold)
	v.SetDefault("anti_spam.ban_duration", constants.DefaultBanDuration.String())
	v.SetDefault("anti_spam.ban_growth", 2.0)
	v.SetDefault("anti_spam.max_ban_duration", constants.DefaultMaxBanDuration.String())
	v.SetDefault("anti_spam.burst_interval", "500ms")
	v.SetDefault("anti_spam.sweep_interval", "5m")

	v.SetDefault("session.idle_timeout", constants.DefaultIdleTimeout.String())
	v.SetDefault("session.sweep_interval", constants.DefaultSessionSweepInterval.String())
	v.SetDefault("session.persist", false)

	v.SetDefault("admission.store_timeout", constants.DefaultStoreTimeout.String())
	v.SetDefault("admission.failure_policy", string(constants.FailOpen))
	v.SetDefault("admission.max_file_size", constants.DefaultMaxFileSize)
	v.SetDefault("admission.max_password_attempts", constants.DefaultMaxPasswordAttempts)
	v.SetDefault("admission.job_timeout", "10m")

	v.SetDefault("tiers.free.messages_per_window", constants.DefaultMessageLimit)
	v.SetDefault("tiers.free.message_window", constants.DefaultMessageWindow.String())
	v.SetDefault("tiers.free.uploads_per_window", constants.DefaultUploadLimit)
	v.SetDefault("tiers.free.upload_window", constants.DefaultUploadWindow.String())
	v.SetDefault("tiers.free.max_concurrent_batch", constants.DefaultMaxBatchSize)
	v.SetDefault("tiers.premium.messages_per_window", 120)
	v.SetDefault("tiers.premium.message_window", constants.DefaultMessageWindow.String())
	v.SetDefault("tiers.premium.uploads_per_window", 50)
	v.SetDefault("tiers.premium.upload_window", constants.DefaultUploadWindow.String())
	v.SetDefault("tiers.premium.max_concurrent_batch", 20)
	v.SetDefault("tiers.admin.messages_per_window", 1000)
	v.SetDefault("tiers.admin.message_window", constants.DefaultMessageWindow.String())
	v.SetDefault("tiers.admin.uploads_per_window", 500)
	v.SetDefault("tiers.admin.upload_window", constants.DefaultUploadWindow.String())
	v.SetDefault("tiers.admin.max_concurrent_batch", 50)
}
