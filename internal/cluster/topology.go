package cluster

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/limiquantix/drsim/internal/domain"
)

// Topology is the declarative description of a cluster.
type Topology struct {
	Hosts []HostSpec `json:"hosts"`
}

// HostSpec describes a host and its initial VMs.
type HostSpec struct {
	Name      string   `json:"name"`
	Cores     int32    `json:"cores"`
	CoreRate  int32    `json:"core_rate"`
	MemoryMiB int64    `json:"memory_mib"`
	Service   bool     `json:"service,omitempty"`
	Power     string   `json:"power,omitempty"`
	VMs       []VMSpec `json:"vms,omitempty"`
}

// VMSpec describes a VM placed on a host.
type VMSpec struct {
	Name      string  `json:"name"`
	Cores     int32   `json:"cores"`
	CoreRate  int32   `json:"core_rate"`
	MemoryMiB int64   `json:"memory_mib"`
	CPUDemand float64 `json:"cpu_demand"`
}

// LoadTopology reads a YAML topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse topology file: %w", err)
	}
	if len(t.Hosts) == 0 {
		return nil, fmt.Errorf("%w: topology %s declares no hosts", domain.ErrInvalidArgument, path)
	}
	return &t, nil
}

// GenerateConfig sizes a generated topology.
type GenerateConfig struct {
	Hosts        int
	ServiceHosts int
	HostCores    int32
	HostCoreRate int32
	HostMemMiB   int64

	VMs          int
	VMCores      int32
	VMCoreRate   int32
	VMMemMiB     int64
	VMInitialCPU float64
}

// Generate builds a topology of identical hosts and distributes VMs round-robin
// over the hosting hosts.
func Generate(cfg GenerateConfig) *Topology {
	t := &Topology{}
	for i := 0; i < cfg.ServiceHosts; i++ {
		t.Hosts = append(t.Hosts, HostSpec{
			Name:      fmt.Sprintf("service-%d", i),
			Cores:     cfg.HostCores,
			CoreRate:  cfg.HostCoreRate,
			MemoryMiB: cfg.HostMemMiB,
			Service:   true,
		})
	}

	first := len(t.Hosts)
	for i := 0; i < cfg.Hosts; i++ {
		t.Hosts = append(t.Hosts, HostSpec{
			Name:      fmt.Sprintf("node-%d", i),
			Cores:     cfg.HostCores,
			CoreRate:  cfg.HostCoreRate,
			MemoryMiB: cfg.HostMemMiB,
		})
	}
	if cfg.Hosts == 0 {
		return t
	}

	for i := 0; i < cfg.VMs; i++ {
		h := &t.Hosts[first+i%cfg.Hosts]
		h.VMs = append(h.VMs, VMSpec{
			Name:      fmt.Sprintf("vm-%d", i),
			Cores:     cfg.VMCores,
			CoreRate:  cfg.VMCoreRate,
			MemoryMiB: cfg.VMMemMiB,
			CPUDemand: cfg.VMInitialCPU,
		})
	}
	return t
}

// Apply registers every host and VM of the topology into the state.
func (t *Topology) Apply(s *State) error {
	for _, hs := range t.Hosts {
		h := &domain.Host{
			Name:      hs.Name,
			Cores:     hs.Cores,
			CoreRate:  hs.CoreRate,
			MemoryMiB: hs.MemoryMiB,
			Hosting:   !hs.Service,
			Power:     domain.HostPowerOn,
		}
		if strings.EqualFold(hs.Power, "off") {
			h.Power = domain.HostPowerOff
		}
		for _, vs := range hs.VMs {
			h.VMs = append(h.VMs, &domain.VirtualMachine{
				Name:      vs.Name,
				Cores:     vs.Cores,
				CoreRate:  vs.CoreRate,
				MemoryMiB: vs.MemoryMiB,
				CPUDemand: vs.CPUDemand,
			})
		}
		if err := s.AddHost(h); err != nil {
			return fmt.Errorf("failed to add host %s: %w", hs.Name, err)
		}
	}
	return nil
}
