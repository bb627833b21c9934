package domain

// HostPower represents the power state of a physical host.
type HostPower string

const (
	HostPowerOn  HostPower = "ON"
	HostPowerOff HostPower = "OFF"
)

// Host represents a physical hypervisor host.
type Host struct {
	Name string `json:"name"`

	// Cores and CoreRate define the CPU capacity (Cores × CoreRate).
	Cores    int32 `json:"cores"`
	CoreRate int32 `json:"core_rate"`

	MemoryMiB int64 `json:"memory_mib"`

	// Hosting is false for service hosts, which never run VMs.
	Hosting bool      `json:"hosting"`
	Power   HostPower `json:"power"`

	// VMs lists the running VMs in placement order.
	VMs []*VirtualMachine `json:"vms,omitempty"`
}

// CPUCapacity returns the total CPU capacity of the host.
func (h *Host) CPUCapacity() float64 {
	return float64(h.Cores) * float64(h.CoreRate)
}

// CPUDemand recomputes the CPU demand of the running VMs.
func (h *Host) CPUDemand() float64 {
	var total float64
	for _, vm := range h.VMs {
		total += vm.CPUDemand
	}
	return total
}

// MemDemand recomputes the memory footprint of the running VMs in MiB.
func (h *Host) MemDemand() int64 {
	var total int64
	for _, vm := range h.VMs {
		total += vm.MemoryMiB
	}
	return total
}

// IsOn returns true if the host is powered on.
func (h *Host) IsOn() bool {
	return h.Power == HostPowerOn
}

// IsOff returns true if the host is powered off.
func (h *Host) IsOff() bool {
	return h.Power != HostPowerOn
}

// IsViable returns true if every running VM gets its expected resources.
func (h *Host) IsViable() bool {
	return h.CPUDemand() <= h.CPUCapacity() && h.MemDemand() <= h.MemoryMiB
}

// VMCount returns the number of VMs running on this host.
func (h *Host) VMCount() int {
	return len(h.VMs)
}

// HasVM returns true if the named VM runs on this host.
func (h *Host) HasVM(name string) bool {
	for _, vm := range h.VMs {
		if vm.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the host and its VMs.
func (h *Host) Clone() *Host {
	c := *h
	c.VMs = make([]*VirtualMachine, len(h.VMs))
	for i, vm := range h.VMs {
		c.VMs[i] = vm.Clone()
	}
	return &c
}
