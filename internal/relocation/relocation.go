// Package relocation simulates live migration of VMs between hosts.
package relocation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
)

// Config holds the relocation simulation parameters.
type Config struct {
	// BandwidthMiBPerSec is the transfer rate of VM memory.
	BandwidthMiBPerSec float64 `mapstructure:"bandwidth_mib_per_sec"`

	// TimeScale scales simulated durations to wall time (0.01 = 100x faster).
	TimeScale float64 `mapstructure:"time_scale"`

	// FailureRate is the probability in [0,1] that a relocation fails.
	FailureRate float64 `mapstructure:"failure_rate"`

	// Seed drives the failure draws.
	Seed int64 `mapstructure:"seed"`
}

// DefaultConfig returns the default relocation configuration.
func DefaultConfig() Config {
	return Config{
		BandwidthMiBPerSec: 1000,
		TimeScale:          0.01,
		FailureRate:        0,
		Seed:               1,
	}
}

// Cluster is the read-only view of the cluster needed to relocate a VM.
type Cluster interface {
	Host(name string) (*domain.Host, error)
	VM(name string) (*domain.VirtualMachine, error)
}

// Simulator relocates VMs by waiting for the time needed to copy their memory.
type Simulator struct {
	cluster Cluster
	config  Config
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a relocation simulator.
func NewSimulator(cluster Cluster, config Config, logger *zap.Logger) *Simulator {
	return &Simulator{
		cluster: cluster,
		config:  config,
		logger:  logger.With(zap.String("component", "relocation")),
		rng:     rand.New(rand.NewSource(config.Seed)),
	}
}

// Duration returns the wall time needed to relocate a VM of the given size.
func (s *Simulator) Duration(memoryMiB int64) time.Duration {
	if s.config.BandwidthMiBPerSec <= 0 {
		return 0
	}
	seconds := float64(memoryMiB) / s.config.BandwidthMiBPerSec * s.config.TimeScale
	return time.Duration(seconds * float64(time.Second))
}

// Relocate copies the VM's memory to the destination. It fails if either host is
// off once the copy completes, or on a random failure draw.
func (s *Simulator) Relocate(ctx context.Context, m domain.Migration) error {
	vm, err := s.cluster.VM(m.VM)
	if err != nil {
		return fmt.Errorf("failed to relocate %s: %w", m.VM, err)
	}

	d := s.Duration(vm.MemoryMiB)
	s.logger.Debug("Relocating VM",
		zap.String("vm", m.VM),
		zap.String("source", m.Source),
		zap.String("destination", m.Destination),
		zap.Duration("duration", d),
	)

	timer := time.NewTimer(d)
	<-timer.C

	for _, name := range []string{m.Source, m.Destination} {
		h, err := s.cluster.Host(name)
		if err != nil {
			return fmt.Errorf("failed to relocate %s: %w", m.VM, err)
		}
		if h.IsOff() {
			return fmt.Errorf("%s: host %s went off: %w", m, name, domain.ErrMigrationFailed)
		}
	}

	if s.draw() {
		return fmt.Errorf("%s: %w", m, domain.ErrMigrationFailed)
	}
	return nil
}

func (s *Simulator) draw() bool {
	if s.config.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.config.FailureRate
}
