package scheduler

import (
	"math"
	"testing"

	"github.com/limiquantix/drsim/internal/domain"
)

func TestUsage(t *testing.T) {
	tests := []struct {
		name      string
		cpuCap    float64
		cpuDemand float64
		memCap    int64
		memDemand int64
		want      float64
	}{
		{"cpu bound", 100, 40, 1000, 100, 0.4},
		{"memory bound", 100, 10, 1000, 700, 0.7},
		{"idle", 100, 0, 1000, 0, 0},
		{"overloaded", 100, 150, 1000, 0, 1.5},
		{"no capacity", 0, 0, 0, 0, 0},
		{"demand without capacity", 0, 10, 1000, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Usage(tt.cpuCap, tt.cpuDemand, tt.memCap, tt.memDemand)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Usage() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestAverageUsage(t *testing.T) {
	a := newHost("node-a", 100, 1000, newVM("vm-a", 20, 100))
	b := newHost("node-b", 100, 1000, newVM("vm-b", 60, 100))
	off := newHost("node-off", 100, 1000, newVM("vm-off", 90, 100))
	off.Power = domain.HostPowerOff

	got := AverageUsage([]*domain.Host{a, b, off})
	if math.Abs(got-0.4) > 1e-9 {
		t.Errorf("Expected 0.4, got %f", got)
	}

	if got := AverageUsage(nil); got != NoUsageData {
		t.Errorf("Expected NoUsageData for no hosts, got %f", got)
	}
	if got := AverageUsage([]*domain.Host{off}); got != NoUsageData {
		t.Errorf("Expected NoUsageData for off hosts only, got %f", got)
	}
}

func TestPredictedAverageSkipsEmptiedHosts(t *testing.T) {
	a := newHost("node-a", 100, 1000, newVM("vm-a", 20, 100))
	b := newHost("node-b", 100, 1000, newVM("vm-b", 40, 100))

	predicted := newPredictions([]*domain.Host{a, b})
	predicted["node-a"].cpu = 0
	predicted["node-a"].mem = 0
	predicted["node-b"].cpu = 60

	got := predicted.average([]*domain.Host{a, b})
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("Expected 0.6, got %f", got)
	}

	predicted["node-b"].cpu = 0
	predicted["node-b"].mem = 0
	if got := predicted.average([]*domain.Host{a, b}); got != NoUsageData {
		t.Errorf("Expected NoUsageData when every host is emptied, got %f", got)
	}
}

func TestCompareVMs(t *testing.T) {
	big := newVM("vm-big", 80, 100)
	small := newVM("vm-small", 20, 100)
	smallFat := newVM("vm-small-fat", 20, 500)
	twin := newVM("vm-a", 20, 500)

	if CompareVMs(big, small, OrderDecreasing, false) >= 0 {
		t.Error("Expected larger CPU demand first when decreasing")
	}
	if CompareVMs(big, small, OrderIncreasing, false) <= 0 {
		t.Error("Expected smaller CPU demand first when increasing")
	}
	if CompareVMs(smallFat, small, OrderDecreasing, false) >= 0 {
		t.Error("Expected larger memory first on CPU tie")
	}
	if CompareVMs(twin, smallFat, OrderDecreasing, false) >= 0 {
		t.Error("Expected name ascending on full tie")
	}
	if CompareVMs(twin, smallFat, OrderIncreasing, false) >= 0 {
		t.Error("Expected name ascending regardless of order")
	}
	if CompareVMs(twin, twin, OrderDecreasing, false) != 0 {
		t.Error("Expected equal VMs to compare as 0")
	}

	// A 4-core VM at 100 demand is at 25% load, below a 1-core VM at 80%.
	wide := &domain.VirtualMachine{Name: "vm-wide", Cores: 4, CoreRate: 100, CPUDemand: 100, MemoryMiB: 100}
	if CompareVMs(big, wide, OrderDecreasing, true) >= 0 {
		t.Error("Expected higher load first with useLoad")
	}
	if CompareVMs(big, wide, OrderDecreasing, false) <= 0 {
		t.Error("Expected higher CPU demand first without useLoad")
	}
}

func TestSortVMs(t *testing.T) {
	vms := []*domain.VirtualMachine{
		newVM("vm-c", 20, 100),
		newVM("vm-a", 50, 100),
		newVM("vm-b", 20, 100),
		newVM("vm-d", 20, 300),
	}
	SortVMs(vms, OrderDecreasing, false)

	want := []string{"vm-a", "vm-d", "vm-b", "vm-c"}
	for i, vm := range vms {
		if vm.Name != want[i] {
			t.Fatalf("Position %d: expected %s, got %s", i, want[i], vm.Name)
		}
	}
}
