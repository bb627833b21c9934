// Package executor applies reconfiguration plans by relocating VMs concurrently.
package executor

import "time"

// Config holds the migration executor configuration.
type Config struct {
	// PollInterval is the watchdog tick while waiting for migrations.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// WatchdogTicks is the number of ticks between two watchdog checks.
	WatchdogTicks int `mapstructure:"watchdog_ticks"`

	// MaxConcurrentMigrations caps relocations running at once. 0 means unbounded.
	MaxConcurrentMigrations int64 `mapstructure:"max_concurrent_migrations"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:            10 * time.Millisecond,
		WatchdogTicks:           2000,
		MaxConcurrentMigrations: 0,
	}
}
