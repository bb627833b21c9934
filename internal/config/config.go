// Package config provides configuration management for the drsim daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/drsim/internal/executor"
	"github.com/limiquantix/drsim/internal/relocation"
	"github.com/limiquantix/drsim/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Etcd       EtcdConfig        `mapstructure:"etcd"`
	Redis      RedisConfig       `mapstructure:"redis"`
	DRS        DRSConfig         `mapstructure:"drs"`
	Scheduler  scheduler.Config  `mapstructure:"scheduler"`
	Executor   executor.Config   `mapstructure:"executor"`
	Relocation relocation.Config `mapstructure:"relocation"`
	Cluster    ClusterConfig     `mapstructure:"cluster"`
	Workload   WorkloadConfig    `mapstructure:"workload"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	CORS       CORSConfig        `mapstructure:"cors"`
	Auth       AuthConfig        `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration for the pass history.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// MigrationsPath holds the golang-migrate files applied by cmd/migrate and,
	// when AutoMigrate is set, by drsd before it opens the pool.
	MigrationsPath string `mapstructure:"migrations_path"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration used for leader election.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	ElectionKey string        `mapstructure:"election_key"`
	SessionTTL  int           `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration used for event publishing.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DRSConfig holds the control loop configuration.
type DRSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Period between the start of two passes.
	Period time.Duration `mapstructure:"period"`

	// LogDir is the root of plan logs and configuration dumps. Empty disables them.
	LogDir string `mapstructure:"log_dir"`

	// HistorySize is the number of results kept by the in-memory history.
	HistorySize int `mapstructure:"history_size"`
}

// ClusterConfig describes the simulated cluster.
type ClusterConfig struct {
	// TopologyFile is a YAML topology. When empty, a topology is generated.
	TopologyFile string `mapstructure:"topology_file"`

	Hosts        int     `mapstructure:"hosts"`
	ServiceHosts int     `mapstructure:"service_hosts"`
	HostCores    int32   `mapstructure:"host_cores"`
	HostCoreRate int32   `mapstructure:"host_core_rate"`
	HostMemMiB   int64   `mapstructure:"host_memory_mib"`
	VMs          int     `mapstructure:"vms"`
	VMCores      int32   `mapstructure:"vm_cores"`
	VMCoreRate   int32   `mapstructure:"vm_core_rate"`
	VMMemMiB     int64   `mapstructure:"vm_memory_mib"`
	VMInitialCPU float64 `mapstructure:"vm_initial_cpu"`
}

// WorkloadConfig holds the workload injection configuration.
type WorkloadConfig struct {
	// TraceFile is a YAML trace of load and power events. Empty injects nothing.
	TraceFile string `mapstructure:"trace_file"`

	// TimeScale scales trace timestamps to wall time.
	TimeScale float64 `mapstructure:"time_scale"`

	// Duration ends the injection when the trace is exhausted earlier. 0 waits for the trace only.
	Duration time.Duration `mapstructure:"duration"`
}

// MetricsConfig holds Prometheus configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// AuthConfig holds the bearer-token settings guarding mutating API calls.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("DRSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would make the scheduler misbehave.
func (c *Config) Validate() error {
	if c.DRS.Period <= 0 {
		return fmt.Errorf("invalid config: drs.period must be positive, got %s", c.DRS.Period)
	}
	if c.Scheduler.FFDThreshold <= 0 || c.Scheduler.FFDThreshold > 100 {
		return fmt.Errorf("invalid config: scheduler.ffd_threshold must be in (0,100], got %d", c.Scheduler.FFDThreshold)
	}
	switch c.Scheduler.Order {
	case scheduler.OrderDecreasing, scheduler.OrderIncreasing:
	default:
		return fmt.Errorf("invalid config: scheduler.order must be decreasing or increasing, got %q", c.Scheduler.Order)
	}
	if c.Relocation.FailureRate < 0 || c.Relocation.FailureRate > 1 {
		return fmt.Errorf("invalid config: relocation.failure_rate must be in [0,1], got %f", c.Relocation.FailureRate)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("invalid config: auth.jwt_secret is required when auth is enabled")
	}
	if c.Cluster.TopologyFile == "" && c.Cluster.Hosts <= 0 {
		return fmt.Errorf("invalid config: cluster.hosts must be positive without a topology file")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "drsim")
	v.SetDefault("database.user", "drsim")
	v.SetDefault("database.password", "drsim")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_key", "/drsim/leader")
	v.SetDefault("etcd.session_ttl", 10)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "drsim:events")

	// DRS
	v.SetDefault("drs.enabled", true)
	v.SetDefault("drs.period", "30s")
	v.SetDefault("drs.log_dir", "logs")
	v.SetDefault("drs.history_size", 1000)

	// Scheduler
	sched := scheduler.DefaultConfig()
	v.SetDefault("scheduler.algorithm", sched.Algorithm)
	v.SetDefault("scheduler.ffd_threshold", sched.FFDThreshold)
	v.SetDefault("scheduler.use_load", sched.UseLoad)
	v.SetDefault("scheduler.order", string(sched.Order))
	v.SetDefault("scheduler.underloaded_usage", sched.UnderloadedUsage)
	v.SetDefault("scheduler.hosts_turnoff", sched.HostsTurnoff)
	v.SetDefault("scheduler.seed", sched.Seed)

	// Executor
	exec := executor.DefaultConfig()
	v.SetDefault("executor.poll_interval", exec.PollInterval.String())
	v.SetDefault("executor.watchdog_ticks", exec.WatchdogTicks)
	v.SetDefault("executor.max_concurrent_migrations", exec.MaxConcurrentMigrations)

	// Relocation
	reloc := relocation.DefaultConfig()
	v.SetDefault("relocation.bandwidth_mib_per_sec", reloc.BandwidthMiBPerSec)
	v.SetDefault("relocation.time_scale", reloc.TimeScale)
	v.SetDefault("relocation.failure_rate", reloc.FailureRate)
	v.SetDefault("relocation.seed", reloc.Seed)

	// Cluster
	v.SetDefault("cluster.topology_file", "")
	v.SetDefault("cluster.hosts", 10)
	v.SetDefault("cluster.service_hosts", 1)
	v.SetDefault("cluster.host_cores", 8)
	v.SetDefault("cluster.host_core_rate", 100)
	v.SetDefault("cluster.host_memory_mib", 32768)
	v.SetDefault("cluster.vms", 50)
	v.SetDefault("cluster.vm_cores", 1)
	v.SetDefault("cluster.vm_core_rate", 100)
	v.SetDefault("cluster.vm_memory_mib", 1024)
	v.SetDefault("cluster.vm_initial_cpu", 0)

	// Workload
	v.SetDefault("workload.trace_file", "")
	v.SetDefault("workload.time_scale", 1.0)
	v.SetDefault("workload.duration", "0s")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", true)

	// Auth
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.token_expiry", "1h")
}
