package config

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Host     HostConfig     `mapstructure:"host" validate:"required"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects the task store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres mysql memory"`
	URL    string `mapstructure:"url" validate:"required_unless=Driver memory"`
}

// AuthConfig contains the admin API credentials.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	AdminPasswordHash    string `mapstructure:"admin_password_hash"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// QueueConfig holds the admission-control thresholds. MaxConcurrentTasks and
// AutoExecution only seed the persisted settings.
type QueueConfig struct {
	MinRemainingSeconds        float64 `mapstructure:"min_remaining_seconds" validate:"gte=0"`
	MinFreeMemoryFraction      float64 `mapstructure:"min_free_memory_fraction" validate:"gte=0,lt=1"`
	MaxConcurrentTasks         int     `mapstructure:"max_concurrent_tasks" validate:"required,gte=1"`
	MaxRunningTasksToTrack     int     `mapstructure:"max_running_tasks_to_track" validate:"required,gte=1"`
	MemoryLeakFraction         float64 `mapstructure:"memory_leak_fraction" validate:"gt=0,lte=1"`
	IDSpaceMax                 int64   `mapstructure:"id_space_max" validate:"required,gt=0"`
	IDGuardFraction            float64 `mapstructure:"id_guard_fraction" validate:"gt=0,lte=1"`
	IDGuardMinRemainingSeconds float64 `mapstructure:"id_guard_min_remaining_seconds" validate:"gte=0"`
	AutoExecution              bool    `mapstructure:"auto_execution"`
}

// HostConfig describes the resource limits of one host activation.
type HostConfig struct {
	MaxExecutionSeconds float64 `mapstructure:"max_execution_seconds" validate:"gt=0"`
	// MemoryLimitBytes of zero means the machine's total memory.
	MemoryLimitBytes uint64 `mapstructure:"memory_limit_bytes"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputFile string `mapstructure:"output_file"`
}
