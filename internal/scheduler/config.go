// Package scheduler implements overload-driven reconfiguration of the cluster.
// Each pass classifies hosts, computes a First-Fit-Decreased migration plan over
// a snapshot, and hands the committed plan to the migration executor.
package scheduler

// Algorithm names accepted by Config.Algorithm.
const (
	AlgorithmLazyFFD = "lazy-ffd"
	AlgorithmFFD     = "ffd"
)

// Order is the sort direction applied to VMs before bin-fit.
type Order string

const (
	OrderDecreasing Order = "decreasing"
	OrderIncreasing Order = "increasing"
)

// Config holds the scheduler configuration.
type Config struct {
	// Algorithm selects the planner: "lazy-ffd" or "ffd".
	Algorithm string `mapstructure:"algorithm"`

	// FFDThreshold is the CPU fill target for overloaded hosts, in percent of capacity.
	FFDThreshold int `mapstructure:"ffd_threshold"`

	// UseLoad sorts VMs by load percentage instead of absolute CPU demand.
	UseLoad bool `mapstructure:"use_load"`

	// Order of the VMs presented to bin-fit.
	Order Order `mapstructure:"order"`

	// UnderloadedUsage is the usage below which a host is a consolidation candidate.
	UnderloadedUsage float64 `mapstructure:"underloaded_usage"`

	// HostsTurnoff powers off empty hosts after a reconfiguration.
	HostsTurnoff bool `mapstructure:"hosts_turnoff"`

	// Seed drives instance id generation only.
	Seed int64 `mapstructure:"seed"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmLazyFFD,
		FFDThreshold:     100,
		UseLoad:          false,
		Order:            OrderDecreasing,
		UnderloadedUsage: 0.5,
		HostsTurnoff:     true,
		Seed:             1,
	}
}

// threshold returns the fill target as a fraction of capacity.
func (c Config) threshold() float64 {
	if c.FFDThreshold <= 0 {
		return 1.0
	}
	return float64(c.FFDThreshold) / 100
}
