package relocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/cluster"
	"github.com/limiquantix/drsim/internal/domain"
)

func newCluster(t *testing.T) *cluster.State {
	t.Helper()
	s := cluster.NewState(zap.NewNop())
	if err := s.AddHost(&domain.Host{Name: "node-1", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true,
		VMs: []*domain.VirtualMachine{{Name: "vm-1", Cores: 1, MemoryMiB: 100, CPUDemand: 10}}}); err != nil {
		t.Fatalf("AddHost failed: %v", err)
	}
	if err := s.AddHost(&domain.Host{Name: "node-2", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true}); err != nil {
		t.Fatalf("AddHost failed: %v", err)
	}
	return s
}

func TestSimulator_Duration(t *testing.T) {
	sim := NewSimulator(nil, Config{BandwidthMiBPerSec: 100, TimeScale: 1}, zap.NewNop())

	if d := sim.Duration(200); d != 2*time.Second {
		t.Errorf("Expected 2s, got %s", d)
	}

	sim = NewSimulator(nil, Config{BandwidthMiBPerSec: 0}, zap.NewNop())
	if d := sim.Duration(200); d != 0 {
		t.Errorf("Expected 0 with no bandwidth, got %s", d)
	}
}

func TestSimulator_Relocate(t *testing.T) {
	s := newCluster(t)
	sim := NewSimulator(s, Config{BandwidthMiBPerSec: 1000, TimeScale: 0.001}, zap.NewNop())
	m := domain.Migration{VM: "vm-1", Source: "node-1", Destination: "node-2"}

	if err := sim.Relocate(context.Background(), m); err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}

	if err := s.TurnOff("node-2"); err != nil {
		t.Fatalf("TurnOff failed: %v", err)
	}
	err := sim.Relocate(context.Background(), m)
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Errorf("Expected ErrMigrationFailed onto an off host, got %v", err)
	}

	err = sim.Relocate(context.Background(), domain.Migration{VM: "vm-404", Source: "node-1", Destination: "node-2"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSimulator_FailureRate(t *testing.T) {
	s := newCluster(t)
	sim := NewSimulator(s, Config{FailureRate: 1}, zap.NewNop())

	err := sim.Relocate(context.Background(), domain.Migration{VM: "vm-1", Source: "node-1", Destination: "node-2"})
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Errorf("Expected ErrMigrationFailed with failure rate 1, got %v", err)
	}
}
