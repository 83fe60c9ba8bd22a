package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TASKPUMP"

// Load configuration from defaults, an optional config.yaml in the working
// directory and TASKPUMP_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// working directory for config.yaml and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{"database.url", "auth.jwt_secret", "auth.admin_password_hash"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "postgres")

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("queue.min_remaining_seconds", 65)
	v.SetDefault("queue.min_free_memory_fraction", 0.25)
	v.SetDefault("queue.max_concurrent_tasks", 3)
	v.SetDefault("queue.max_running_tasks_to_track", 250)
	v.SetDefault("queue.memory_leak_fraction", 0.1)
	v.SetDefault("queue.id_space_max", 2147483647)
	v.SetDefault("queue.id_guard_fraction", 0.9)
	v.SetDefault("queue.id_guard_min_remaining_seconds", 30)
	v.SetDefault("queue.auto_execution", true)

	v.SetDefault("host.max_execution_seconds", 300)
	v.SetDefault("host.memory_limit_bytes", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output_file", "")
}
