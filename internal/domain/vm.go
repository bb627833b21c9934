package domain

// VMState represents the runtime state of a virtual machine.
type VMState string

const (
	VMStateRunning   VMState = "RUNNING"
	VMStateMigrating VMState = "MIGRATING"
)

// VirtualMachine represents a virtual machine placed on a host.
type VirtualMachine struct {
	Name      string `json:"name"`
	Cores     int32  `json:"cores"`
	MemoryMiB int64  `json:"memory_mib"`

	// CoreRate is the maximum consumption of a single vCPU, in host CPU units.
	CoreRate int32 `json:"core_rate"`

	// CPUDemand is the current absolute CPU demand, updated by workload injection.
	CPUDemand float64 `json:"cpu_demand"`

	HostName string  `json:"host_name,omitempty"`
	State    VMState `json:"state"`
}

// Load returns the CPU demand as a percentage of the VM's maximum consumption.
// VMs without a core rate report their raw demand.
func (vm *VirtualMachine) Load() float64 {
	max := float64(vm.Cores) * float64(vm.CoreRate)
	if max <= 0 {
		return vm.CPUDemand
	}
	return 100 * vm.CPUDemand / max
}

// IsRunning returns true if the VM is running (migrating VMs keep running).
func (vm *VirtualMachine) IsRunning() bool {
	return vm.State == VMStateRunning || vm.State == VMStateMigrating
}

// IsMigrating returns true if a relocation of the VM is in flight.
func (vm *VirtualMachine) IsMigrating() bool {
	return vm.State == VMStateMigrating
}

// Clone returns a copy of the VM.
func (vm *VirtualMachine) Clone() *VirtualMachine {
	c := *vm
	return &c
}
