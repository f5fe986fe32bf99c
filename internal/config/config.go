package config

import (
	"time"

	"github.com/phrazzld/tollgate/internal/domain"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects and configures the store backend.
// The memory driver keeps all state in process and needs no URL.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url" validate:"required_if=Driver postgres,omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// BrokerConfig selects and configures the message broker used for dispatch.
type BrokerConfig struct {
	Driver           string        `mapstructure:"driver" validate:"required,oneof=amqp memory"`
	URL              string        `mapstructure:"url" validate:"required_if=Driver amqp,omitempty,url"`
	TaskQueue        string        `mapstructure:"task_queue" validate:"required"`
	RPCQueue         string        `mapstructure:"rpc_queue" validate:"required,nefield=TaskQueue"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial" validate:"gt=0"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max" validate:"gtefield=ReconnectInitial"`

	// Memory broker only.
	Workers   int `mapstructure:"workers" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
}

// TaskConfig controls admission, dispatch timeouts and compensation.
type TaskConfig struct {
	// Cost is charged per submitted task, as a decimal string ("10.00").
	Cost            string        `mapstructure:"cost" validate:"required,amount"`
	RPCTimeout      time.Duration `mapstructure:"rpc_timeout" validate:"gt=0,ltefield=MaxRPCTimeout"`
	MaxRPCTimeout   time.Duration `mapstructure:"max_rpc_timeout" validate:"gt=0"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes" validate:"gte=1"`
	StaleTaskAge    time.Duration `mapstructure:"stale_task_age" validate:"gtfield=MaxRPCTimeout"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval" validate:"gt=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	RefundAttempts  uint64        `mapstructure:"refund_attempts" validate:"gte=1,lte=20"`
	RefundBackoff   time.Duration `mapstructure:"refund_backoff" validate:"gt=0"`
}

// CostAmount returns Cost as an Amount. Load has already validated it, so
// the error only fires for hand-built configs.
func (c TaskConfig) CostAmount() (domain.Amount, error) {
	return domain.ParseAmount(c.Cost)
}
