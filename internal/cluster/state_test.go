package cluster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s := NewState(logger)

	hosts := []*domain.Host{
		{Name: "node-1", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true, Power: domain.HostPowerOn,
			VMs: []*domain.VirtualMachine{
				{Name: "vm-1", Cores: 1, CoreRate: 100, MemoryMiB: 100, CPUDemand: 40},
				{Name: "vm-2", Cores: 1, CoreRate: 100, MemoryMiB: 200, CPUDemand: 20},
			}},
		{Name: "node-2", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true, Power: domain.HostPowerOff},
		{Name: "service-0", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: false, Power: domain.HostPowerOn},
	}
	for _, h := range hosts {
		if err := s.AddHost(h); err != nil {
			t.Fatalf("AddHost failed: %v", err)
		}
	}
	return s
}

func TestState_CanonicalOrder(t *testing.T) {
	s := newTestState(t)

	all := s.Hosts()
	if len(all) != 3 || all[0].Name != "node-1" || all[1].Name != "node-2" || all[2].Name != "service-0" {
		t.Fatalf("Unexpected host order: %v", hostNames(all))
	}

	hosting := s.HostingHosts()
	if len(hosting) != 2 {
		t.Errorf("Expected 2 hosting hosts, got %d", len(hosting))
	}

	on := s.OnHostingHosts()
	if len(on) != 1 || on[0].Name != "node-1" {
		t.Errorf("Expected only node-1 on, got %v", hostNames(on))
	}
}

func TestState_SnapshotIsolation(t *testing.T) {
	s := newTestState(t)

	snap := s.Snapshot()
	snap[0].VMs[0].CPUDemand = 99
	snap[0].Power = domain.HostPowerOff

	h, err := s.Host("node-1")
	if err != nil {
		t.Fatalf("Host failed: %v", err)
	}
	if h.VMs[0].CPUDemand != 40 {
		t.Errorf("Snapshot mutation leaked into state: demand %f", h.VMs[0].CPUDemand)
	}
	if h.IsOff() {
		t.Error("Snapshot mutation leaked into power state")
	}
}

func TestState_DuplicateNames(t *testing.T) {
	s := newTestState(t)

	err := s.AddHost(&domain.Host{Name: "node-1", Hosting: true})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for host, got %v", err)
	}

	err = s.PlaceVM("node-2", &domain.VirtualMachine{Name: "vm-1"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for vm, got %v", err)
	}

	err = s.PlaceVM("service-0", &domain.VirtualMachine{Name: "vm-9"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for service host, got %v", err)
	}
}

func TestState_SetVMDemand(t *testing.T) {
	s := newTestState(t)

	if err := s.SetVMDemand("vm-2", 70); err != nil {
		t.Fatalf("SetVMDemand failed: %v", err)
	}
	h, _ := s.Host("node-1")
	if h.CPUDemand() != 110 {
		t.Errorf("Expected demand 110, got %f", h.CPUDemand())
	}
	if h.IsViable() {
		t.Error("Expected node-1 to be non-viable")
	}

	if err := s.SetVMDemand("vm-404", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.SetVMDemand("vm-1", -1); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestState_MigrationLifecycle(t *testing.T) {
	s := newTestState(t)
	m := domain.Migration{VM: "vm-1", Source: "node-1", Destination: "node-2"}

	if err := s.TurnOn("node-2"); err != nil {
		t.Fatalf("TurnOn failed: %v", err)
	}
	if err := s.StartMigration(m); err != nil {
		t.Fatalf("StartMigration failed: %v", err)
	}
	if s.OngoingMigrations("node-1") != 1 || s.OngoingMigrations("node-2") != 1 {
		t.Error("Expected one ongoing migration on each side")
	}

	if err := s.TurnOff("node-1"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected TurnOff to be refused during migration, got %v", err)
	}
	if err := s.StartMigration(m); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected second StartMigration to conflict, got %v", err)
	}

	if err := s.FinishMigration(m, true); err != nil {
		t.Fatalf("FinishMigration failed: %v", err)
	}

	src, _ := s.Host("node-1")
	dst, _ := s.Host("node-2")
	if src.HasVM("vm-1") {
		t.Error("VM still listed on source")
	}
	if !dst.HasVM("vm-1") {
		t.Error("VM not listed on destination")
	}
	vm, _ := s.VM("vm-1")
	if vm.HostName != "node-2" || vm.IsMigrating() {
		t.Errorf("Unexpected VM placement after migration: host=%s state=%s", vm.HostName, vm.State)
	}
	if s.OngoingMigrations("node-1") != 0 || s.OngoingMigrations("node-2") != 0 {
		t.Error("Expected no ongoing migrations")
	}
	if err := s.TurnOff("node-1"); err != nil {
		t.Errorf("TurnOff after migration failed: %v", err)
	}
}

func TestState_FailedMigrationKeepsPlacement(t *testing.T) {
	s := newTestState(t)
	m := domain.Migration{VM: "vm-2", Source: "node-1", Destination: "node-2"}

	if err := s.StartMigration(m); err != nil {
		t.Fatalf("StartMigration failed: %v", err)
	}
	if err := s.FinishMigration(m, false); err != nil {
		t.Fatalf("FinishMigration failed: %v", err)
	}

	vm, _ := s.VM("vm-2")
	if vm.HostName != "node-1" {
		t.Errorf("Expected vm-2 to stay on node-1, got %s", vm.HostName)
	}
	src, _ := s.Host("node-1")
	if len(src.VMs) != 2 {
		t.Errorf("Expected 2 VMs on node-1, got %d", len(src.VMs))
	}
}

func TestState_StartMigrationFromOffHost(t *testing.T) {
	s := newTestState(t)

	if err := s.TurnOff("node-1"); err != nil {
		t.Fatalf("TurnOff failed: %v", err)
	}
	err := s.StartMigration(domain.Migration{VM: "vm-1", Source: "node-1", Destination: "node-2"})
	if !errors.Is(err, domain.ErrHostOff) {
		t.Errorf("Expected ErrHostOff, got %v", err)
	}
}

func TestState_ViolationTransitions(t *testing.T) {
	s := newTestState(t)

	// node-1 capacity is 100; vm-1 40 + vm-2 20.
	steps := []struct {
		vm         string
		demand     float64
		violations int
	}{
		{"vm-2", 30, 0},
		{"vm-2", 70, 1},
		{"vm-1", 60, 1},
		{"vm-2", 10, 1},
		{"vm-1", 95, 2},
	}
	for i, step := range steps {
		if err := s.SetVMDemand(step.vm, step.demand); err != nil {
			t.Fatalf("step %d: SetVMDemand failed: %v", i, err)
		}
		c, ok := s.HostCounters("node-1")
		if !ok {
			t.Fatal("Expected counters for node-1")
		}
		if c.Violations != step.violations {
			t.Errorf("step %d: expected %d violations, got %d", i, step.violations, c.Violations)
		}
	}

	sum := s.Summary()
	for _, vm := range sum.VMs {
		switch vm.Name {
		case "vm-1":
			if vm.LoadChanges != 2 {
				t.Errorf("Expected 2 load changes for vm-1, got %d", vm.LoadChanges)
			}
		case "vm-2":
			if vm.LoadChanges != 3 {
				t.Errorf("Expected 3 load changes for vm-2, got %d", vm.LoadChanges)
			}
		}
	}
}

func TestState_NoViolationOnOffHost(t *testing.T) {
	s := newTestState(t)

	if err := s.TurnOff("node-1"); err != nil {
		t.Fatalf("TurnOff failed: %v", err)
	}
	if err := s.SetVMDemand("vm-1", 500); err != nil {
		t.Fatalf("SetVMDemand failed: %v", err)
	}
	c, _ := s.HostCounters("node-1")
	if c.Violations != 0 {
		t.Errorf("Expected no violation on an off host, got %d", c.Violations)
	}
	if c.TurnOffs != 1 {
		t.Errorf("Expected 1 turn-off, got %d", c.TurnOffs)
	}
	vm, _ := s.VM("vm-1")
	if vm.CPUDemand != 500 {
		t.Errorf("Expected the demand to be recorded anyway, got %f", vm.CPUDemand)
	}
}

func TestState_Summary(t *testing.T) {
	s := newTestState(t)
	m := domain.Migration{VM: "vm-1", Source: "node-1", Destination: "node-2"}

	if err := s.TurnOn("node-2"); err != nil {
		t.Fatalf("TurnOn failed: %v", err)
	}
	// vm-1 alone overloads node-2 on arrival.
	if err := s.SetVMDemand("vm-1", 150); err != nil {
		t.Fatalf("SetVMDemand failed: %v", err)
	}
	if err := s.StartMigration(m); err != nil {
		t.Fatalf("StartMigration failed: %v", err)
	}
	if err := s.FinishMigration(m, true); err != nil {
		t.Fatalf("FinishMigration failed: %v", err)
	}
	if err := s.TurnOff("node-1"); err != nil {
		t.Fatalf("TurnOff failed: %v", err)
	}
	if err := s.TurnOn("node-1"); err != nil {
		t.Fatalf("TurnOn failed: %v", err)
	}
	s.SignalEndOfInjection()

	sum := s.Summary()
	if len(sum.Hosts) != 3 || len(sum.VMs) != 2 {
		t.Fatalf("Unexpected summary sizes: %d hosts, %d vms", len(sum.Hosts), len(sum.VMs))
	}
	if sum.HostsOn != 3 {
		t.Errorf("Expected 3 hosts on, got %d", sum.HostsOn)
	}

	node1, node2 := sum.Hosts[0], sum.Hosts[1]
	if node1.Name != "node-1" || node1.TurnOffs != 1 || node1.Violations != 1 {
		t.Errorf("Unexpected node-1 summary: %+v", node1)
	}
	if node2.Name != "node-2" || node2.ArtificialViolations != 1 || node2.Violations != 0 {
		t.Errorf("Unexpected node-2 summary: %+v", node2)
	}

	// VMs follow host order: vm-2 stays on node-1, vm-1 now runs on node-2.
	if sum.VMs[0].Name != "vm-2" || sum.VMs[1].Name != "vm-1" {
		t.Fatalf("Unexpected VM order: %+v", sum.VMs)
	}
	if vm1 := sum.VMs[1]; vm1.Host != "node-2" || vm1.Migrations != 1 || vm1.LoadChanges != 1 {
		t.Errorf("Unexpected vm-1 summary: %+v", vm1)
	}
	if sum.Duration < 0 {
		t.Errorf("Expected a non-negative duration, got %s", sum.Duration)
	}
	if d := s.Summary().Duration; d != sum.Duration {
		t.Errorf("Expected the duration to stop at the end of injection, got %s then %s", sum.Duration, d)
	}

	s.LogSummary()
}

func TestState_EndOfInjection(t *testing.T) {
	s := newTestState(t)

	if s.InjectionEnded() {
		t.Fatal("Injection should not have ended")
	}
	s.SignalEndOfInjection()
	s.SignalEndOfInjection()

	select {
	case <-s.EndOfInjection():
	default:
		t.Fatal("Expected end-of-injection channel to be closed")
	}
	if !s.InjectionEnded() {
		t.Error("Expected InjectionEnded to be true")
	}
}

func TestTopology_LoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	content := `hosts:
  - name: node-a
    cores: 2
    core_rate: 100
    memory_mib: 2048
    vms:
      - name: vm-a
        cores: 1
        core_rate: 100
        memory_mib: 512
        cpu_demand: 30
  - name: node-b
    cores: 2
    core_rate: 100
    memory_mib: 2048
    power: "off"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	s := NewState(logger)
	if err := topo.Apply(s); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	a, _ := s.Host("node-a")
	if a.CPUCapacity() != 200 || a.CPUDemand() != 30 || a.MemDemand() != 512 {
		t.Errorf("Unexpected node-a resources: cap=%f demand=%f mem=%d", a.CPUCapacity(), a.CPUDemand(), a.MemDemand())
	}
	b, _ := s.Host("node-b")
	if b.IsOn() {
		t.Error("Expected node-b to be off")
	}
}

func TestGenerate_RoundRobin(t *testing.T) {
	topo := Generate(GenerateConfig{
		Hosts: 3, ServiceHosts: 1, HostCores: 4, HostCoreRate: 100, HostMemMiB: 4096,
		VMs: 7, VMCores: 1, VMCoreRate: 100, VMMemMiB: 512, VMInitialCPU: 10,
	})

	if len(topo.Hosts) != 4 {
		t.Fatalf("Expected 4 hosts, got %d", len(topo.Hosts))
	}
	if !topo.Hosts[0].Service {
		t.Error("Expected first host to be a service host")
	}
	counts := []int{len(topo.Hosts[1].VMs), len(topo.Hosts[2].VMs), len(topo.Hosts[3].VMs)}
	if counts[0] != 3 || counts[1] != 2 || counts[2] != 2 {
		t.Errorf("Unexpected round-robin distribution: %v", counts)
	}
}

func hostNames(hosts []*domain.Host) []string {
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return names
}
