package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/tollgate/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load,
// e.g. TOLLGATE_DATABASE_URL for database.url.
const EnvPrefix = "TOLLGATE"

// ConfigFileEnv names an explicit YAML config file. When unset, Load looks
// for config.yaml in the working directory and carries on without one.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// setDefaults registers every key viper should know about. Keys without a
// sensible default are bound explicitly so AutomaticEnv still sees them
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("broker.driver", "amqp")
	v.SetDefault("broker.task_queue", "tasks")
	v.SetDefault("broker.rpc_queue", "rpc_tasks")
	v.SetDefault("broker.publish_timeout", "5s")
	v.SetDefault("broker.dial_timeout", "10s")
	v.SetDefault("broker.reconnect_initial", "500ms")
	v.SetDefault("broker.reconnect_max", "30s")
	v.SetDefault("broker.workers", 4)
	v.SetDefault("broker.queue_size", 100)

	v.SetDefault("task.cost", "10.00")
	v.SetDefault("task.rpc_timeout", "30s")
	v.SetDefault("task.max_rpc_timeout", "5m")
	v.SetDefault("task.max_payload_bytes", 64*1024)
	v.SetDefault("task.stale_task_age", "15m")
	v.SetDefault("task.reaper_interval", "1m")
	v.SetDefault("task.sweep_interval", "1s")
	v.SetDefault("task.refund_attempts", 5)
	v.SetDefault("task.refund_backoff", "100ms")

	_ = v.BindEnv("database.url")
	_ = v.BindEnv("broker.url")
}

// newValidator returns a validator with the project's custom tags registered.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		a, err := domain.ParseAmount(fl.Field().String())
		return err == nil && a.IsPositive()
	})
	return validate
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := newValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
